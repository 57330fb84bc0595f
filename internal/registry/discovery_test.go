package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/cat9999aaa/moneyclaw/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDiscoveryTombstoning(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"gpt-a", "gpt-b"} {
		if err := s.UpsertModelRegistryRow(store.ModelRegistryRow{
			ModelID: id, Provider: store.ProviderOpenAI, DisplayName: id,
			TierMinimum: store.TierNormal, ParamStyle: store.ParamStyleMaxTokens, Enabled: true,
		}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "gpt-a"}},
		})
	}))
	defer server.Close()

	reg := New(s, logr.Discard())
	d := &OpenAICompatibleDiscoverer{BaseURL: server.URL}
	reg.RunDiscovery(context.Background(), d)

	a, err := s.GetModelRegistryRow("gpt-a")
	if err != nil {
		t.Fatalf("GetModelRegistryRow(gpt-a): %v", err)
	}
	if !a.Enabled {
		t.Fatal("expected gpt-a to remain enabled")
	}

	b, err := s.GetModelRegistryRow("gpt-b")
	if err != nil {
		t.Fatalf("GetModelRegistryRow(gpt-b): %v", err)
	}
	if b.Enabled {
		t.Fatal("expected gpt-b to be tombstoned")
	}
}

func TestDiscoveryPreservesHumanEdits(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertModelRegistryRow(store.ModelRegistryRow{
		ModelID: "gpt-a", Provider: store.ProviderOpenAI, DisplayName: "My Custom Name",
		TierMinimum: store.TierHigh, InputCostPer1K: 1.5, ParamStyle: store.ParamStyleMaxCompletionTokens, Enabled: false,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "gpt-a"}},
		})
	}))
	defer server.Close()

	reg := New(s, logr.Discard())
	reg.RunDiscovery(context.Background(), &OpenAICompatibleDiscoverer{BaseURL: server.URL})

	row, err := s.GetModelRegistryRow("gpt-a")
	if err != nil {
		t.Fatalf("GetModelRegistryRow: %v", err)
	}
	if row.DisplayName != "My Custom Name" {
		t.Fatalf("expected display name preserved, got %q", row.DisplayName)
	}
	if row.TierMinimum != store.TierHigh {
		t.Fatalf("expected tier minimum preserved, got %s", row.TierMinimum)
	}
	if row.ParamStyle != store.ParamStyleMaxCompletionTokens {
		t.Fatalf("expected param style preserved, got %s", row.ParamStyle)
	}
	if row.Enabled {
		t.Fatal("expected enabled=false to be preserved (human disabled it)")
	}
}

func TestOpenAIDiscovererFiltersStockModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{
				{"id": "gpt-5"},
				{"id": "whisper-1"},
				{"id": "text-embedding-3-large"},
				{"id": "o1-preview"},
			},
		})
	}))
	defer server.Close()

	if !isStockOpenAIHost("https://api.openai.com") {
		t.Fatal("expected api.openai.com to be detected as stock")
	}
	if isStockOpenAIHost(server.URL) {
		t.Fatal("expected local test server to not be detected as stock")
	}

	local := &OpenAICompatibleDiscoverer{BaseURL: server.URL}
	models, err := local.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(models) != 4 {
		t.Fatalf("expected all 4 ids for non-stock host, got %d", len(models))
	}
}

func TestDiscoveryIsSoftOnFailure(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertModelRegistryRow(store.ModelRegistryRow{
		ModelID: "gpt-a", Provider: store.ProviderOpenAI, DisplayName: "gpt-a",
		TierMinimum: store.TierNormal, ParamStyle: store.ParamStyleMaxTokens, Enabled: true,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	reg := New(s, logr.Discard())
	// Unreachable address: Discover should fail, and the catalogue stays untouched.
	reg.RunDiscovery(context.Background(), &OpenAICompatibleDiscoverer{BaseURL: "http://127.0.0.1:1"})

	row, err := s.GetModelRegistryRow("gpt-a")
	if err != nil {
		t.Fatalf("GetModelRegistryRow: %v", err)
	}
	if !row.Enabled {
		t.Fatal("expected cached catalogue to remain authoritative after a failed discovery pass")
	}
}
