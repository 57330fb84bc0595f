package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"), logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionAtMostOneOpen(t *testing.T) {
	s := openTestStore(t)

	first, err := s.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	second, err := s.OpenSession()
	if err != nil {
		t.Fatalf("second OpenSession: %v", err)
	}

	open, err := s.OpenSessionRow()
	if err != nil {
		t.Fatalf("OpenSessionRow: %v", err)
	}
	if open.ID != second.ID {
		t.Fatalf("expected open session to be the second one, got %s want %s", open.ID, second.ID)
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct session ids")
	}
}

func TestTurnIndexMonotonicNoGaps(t *testing.T) {
	s := openTestStore(t)
	session, err := s.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	for i := int64(0); i < 5; i++ {
		turn, err := s.InsertPendingTurn(session.ID, TierNormal)
		if err != nil {
			t.Fatalf("InsertPendingTurn: %v", err)
		}
		if turn.TurnIndex != i {
			t.Fatalf("turn %d: expected index %d, got %d", i, i, turn.TurnIndex)
		}
		if err := s.CompleteTurn(turn.ID, TurnCompleted, "gpt-5", 10, 20, 0.01, ""); err != nil {
			t.Fatalf("CompleteTurn: %v", err)
		}
	}
}

func TestToolCallOrderPreserved(t *testing.T) {
	s := openTestStore(t)
	session, _ := s.OpenSession()
	turn, err := s.InsertPendingTurn(session.ID, TierNormal)
	if err != nil {
		t.Fatalf("InsertPendingTurn: %v", err)
	}

	names := []string{"read_file", "write_file", "exec"}
	for _, n := range names {
		if _, err := s.AppendToolCall(ToolCall{TurnID: turn.ID, ToolName: n}); err != nil {
			t.Fatalf("AppendToolCall(%s): %v", n, err)
		}
	}

	calls, err := s.ListToolCalls(turn.ID)
	if err != nil {
		t.Fatalf("ListToolCalls: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 tool calls, got %d", len(calls))
	}
	for i, n := range names {
		if calls[i].ToolName != n {
			t.Fatalf("tool call %d: expected %s, got %s", i, n, calls[i].ToolName)
		}
	}
}

func TestChildLifecycleEventMatchesStatus(t *testing.T) {
	s := openTestStore(t)

	child, err := s.InsertChild(Child{
		Name:      "child-a",
		Address:   "0x1234567890abcdef1234567890abcdef12345678",
		SandboxID: "sandbox-1",
		Status:    ChildSandboxCreated,
	}, "sandbox_created")
	if err != nil {
		t.Fatalf("InsertChild: %v", err)
	}

	if err := s.UpdateChildStatus(child.ID, "funded", ChildFunded); err != nil {
		t.Fatalf("UpdateChildStatus: %v", err)
	}

	got, err := s.GetChild(child.ID)
	if err != nil {
		t.Fatalf("GetChild: %v", err)
	}
	event, err := s.LatestLifecycleEvent(child.ID)
	if err != nil {
		t.Fatalf("LatestLifecycleEvent: %v", err)
	}
	if event.ToState != got.Status {
		t.Fatalf("latest event state %s does not match child status %s", event.ToState, got.Status)
	}
}

func TestTombstoneMissing(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"gpt-a", "gpt-b"} {
		if err := s.UpsertModelRegistryRow(ModelRegistryRow{
			ModelID:     id,
			Provider:    ProviderOpenAI,
			DisplayName: id,
			TierMinimum: TierNormal,
			ParamStyle:  ParamStyleMaxTokens,
			Enabled:     true,
		}); err != nil {
			t.Fatalf("UpsertModelRegistryRow(%s): %v", id, err)
		}
	}

	disabled, err := s.TombstoneMissing(ProviderOpenAI, []string{"gpt-a"})
	if err != nil {
		t.Fatalf("TombstoneMissing: %v", err)
	}
	if disabled != 1 {
		t.Fatalf("expected 1 row tombstoned, got %d", disabled)
	}

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
		t.Fatal("expected gpt-b to be disabled")
	}
}

func TestAggregateUsageGroupsByModelWithinWindow(t *testing.T) {
	s := openTestStore(t)
	session, err := s.OpenSession()
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	turnA, err := s.InsertPendingTurn(session.ID, TierNormal)
	if err != nil {
		t.Fatalf("InsertPendingTurn: %v", err)
	}
	if err := s.CompleteTurn(turnA.ID, TurnCompleted, "gpt-5", 100, 50, 0.02, ""); err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}

	turnB, err := s.InsertPendingTurn(session.ID, TierNormal)
	if err != nil {
		t.Fatalf("InsertPendingTurn: %v", err)
	}
	if err := s.CompleteTurn(turnB.ID, TurnCompleted, "gpt-5", 200, 75, 0.03, ""); err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}

	turnC, err := s.InsertPendingTurn(session.ID, TierNormal)
	if err != nil {
		t.Fatalf("InsertPendingTurn: %v", err)
	}
	if err := s.CompleteTurn(turnC.ID, TurnCompleted, "claude-haiku", 10, 5, 0.001, ""); err != nil {
		t.Fatalf("CompleteTurn: %v", err)
	}

	pending, err := s.InsertPendingTurn(session.ID, TierNormal)
	if err != nil {
		t.Fatalf("InsertPendingTurn: %v", err)
	}
	_ = pending

	summaries, err := s.AggregateUsage(time.Hour)
	if err != nil {
		t.Fatalf("AggregateUsage: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 model summaries, got %d: %+v", len(summaries), summaries)
	}

	byModel := make(map[string]UsageSummary, len(summaries))
	for _, u := range summaries {
		byModel[u.ModelID] = u
	}

	gpt5, ok := byModel["gpt-5"]
	if !ok {
		t.Fatalf("expected a gpt-5 summary, got %+v", summaries)
	}
	if gpt5.TurnCount != 2 || gpt5.PromptTokens != 300 || gpt5.CompletionTokens != 125 {
		t.Fatalf("unexpected gpt-5 summary: %+v", gpt5)
	}
	if gpt5.CreditSpent < 0.0499 || gpt5.CreditSpent > 0.0501 {
		t.Fatalf("unexpected gpt-5 credit total: %v", gpt5.CreditSpent)
	}

	if _, ok := byModel["claude-haiku"]; !ok {
		t.Fatalf("expected a claude-haiku summary, got %+v", summaries)
	}

	empty, err := s.AggregateUsage(0)
	if err != nil {
		t.Fatalf("AggregateUsage(0): %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no summaries for a zero window, got %+v", empty)
	}
}
