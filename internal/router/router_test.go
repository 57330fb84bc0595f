package router

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/cat9999aaa/moneyclaw/internal/provider"
	"github.com/cat9999aaa/moneyclaw/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedModel(t *testing.T, s *store.Store, id string, tierMin store.Tier, enabled bool) {
	t.Helper()
	if err := s.UpsertModelRegistryRow(store.ModelRegistryRow{
		ModelID: id, Provider: store.ProviderOpenAI, DisplayName: id,
		TierMinimum: tierMin, ParamStyle: store.ParamStyleMaxTokens, MaxOutputTokens: 4096, Enabled: enabled,
	}); err != nil {
		t.Fatalf("seedModel(%s): %v", id, err)
	}
}

func newTurn(t *testing.T, s *store.Store) string {
	t.Helper()
	session, err := s.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	turn, err := s.InsertPendingTurn(session.ID, store.TierNormal)
	if err != nil {
		t.Fatalf("InsertPendingTurn: %v", err)
	}
	return turn.ID
}

func TestChatRecordsUsage(t *testing.T) {
	s := newTestStore(t)
	seedModel(t, s, "gpt-5", store.TierNormal, true)
	turnID := newTurn(t, s)

	mock := provider.NewMockProviderSimple("hi there")
	r := New(s, func(store.ModelRegistryRow) (provider.Provider, error) { return mock, nil }, "gpt-5", logr.Discard())

	result, err := r.Chat(context.Background(), store.TierNormal, turnID, []provider.Message{{Role: "user", Content: "hi"}}, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Message.Content != "hi there" {
		t.Fatalf("expected hi there, got %q", result.Message.Content)
	}

	turn, _, err := s.GetTurn(turnID)
	if err != nil {
		t.Fatalf("GetTurn: %v", err)
	}
	if turn.Status != store.TurnCompleted {
		t.Fatalf("expected turn completed, got %s", turn.Status)
	}
	if turn.PromptTokens != 100 {
		t.Fatalf("expected 100 prompt tokens recorded, got %d", turn.PromptTokens)
	}
}

func TestChatRejectsBelowTierMinimum(t *testing.T) {
	s := newTestStore(t)
	seedModel(t, s, "gpt-5", store.TierHigh, true)
	turnID := newTurn(t, s)

	mock := provider.NewMockProviderSimple("should not be reached")
	r := New(s, func(store.ModelRegistryRow) (provider.Provider, error) { return mock, nil }, "gpt-5", logr.Discard())

	_, err := r.Chat(context.Background(), store.TierLowCompute, turnID, nil, Options{})
	if err == nil {
		t.Fatal("expected error for tier below minimum")
	}
	if mock.CallCount() != 0 {
		t.Fatalf("expected provider not to be called, got %d calls", mock.CallCount())
	}
}

func TestChatRejectsDisabledModel(t *testing.T) {
	s := newTestStore(t)
	seedModel(t, s, "gpt-5", store.TierNormal, false)
	turnID := newTurn(t, s)

	mock := provider.NewMockProviderSimple("should not be reached")
	r := New(s, func(store.ModelRegistryRow) (provider.Provider, error) { return mock, nil }, "gpt-5", logr.Discard())

	_, err := r.Chat(context.Background(), store.TierNormal, turnID, nil, Options{})
	if err == nil {
		t.Fatal("expected error for disabled model")
	}
}

func TestSetLowComputeModeSwapsDefaultModel(t *testing.T) {
	s := newTestStore(t)
	r := New(s, nil, "gpt-5", logr.Discard())
	r.SetLowComputeModel("gpt-5-mini")

	if r.GetDefaultModel() != "gpt-5" {
		t.Fatalf("expected gpt-5 before low-compute mode, got %s", r.GetDefaultModel())
	}
	r.SetLowComputeMode(true)
	if r.GetDefaultModel() != "gpt-5-mini" {
		t.Fatalf("expected gpt-5-mini in low-compute mode, got %s", r.GetDefaultModel())
	}
	r.SetLowComputeMode(false)
	if r.GetDefaultModel() != "gpt-5" {
		t.Fatalf("expected gpt-5 after leaving low-compute mode, got %s", r.GetDefaultModel())
	}
}
