package replication

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/cat9999aaa/moneyclaw/internal/sandbox"
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

const validAddress = "0x71C7656EC7ab88b098defB751B7401B5f6d89761"
const zeroAddress = "0x0000000000000000000000000000000000000000"

func baseRequest() SpawnRequest {
	return SpawnRequest{
		Name:          "child-1",
		GenesisPrompt: "be helpful",
		InitCommand:   "init",
		StartCommand:  "start",
	}
}

// TestSpawnZeroAddressGuard is spec scenario 1: init stdout reports the zero
// address; spawn fails, the sandbox is deleted, and no child row exists.
func TestSpawnZeroAddressGuard(t *testing.T) {
	s := newTestStore(t)
	fake := sandbox.NewFakeCapability()
	fake.ExecResult = &sandbox.ExecResult{Stdout: "Wallet: " + zeroAddress, ExitCode: 0}
	m := New(s, fake, logr.Discard())

	_, err := m.Spawn(context.Background(), baseRequest())
	if err == nil {
		t.Fatal("expected zero address to be rejected")
	}

	children, err := s.ListChildrenByStatus(store.ChildDead)
	if err != nil {
		t.Fatalf("ListChildrenByStatus: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected no child row inserted, found %d", len(children))
	}
	if fake.LiveSandboxCount() != 0 {
		t.Fatalf("expected sandbox created before address verification to be deleted, %d still live", fake.LiveSandboxCount())
	}
}

// TestSpawnSandboxCreateFailurePropagatesNoCleanup is spec scenario 2:
// createSandbox fails; the error propagates and deleteSandbox is never called.
func TestSpawnSandboxCreateFailurePropagatesNoCleanup(t *testing.T) {
	s := newTestStore(t)
	fake := sandbox.NewFakeCapability()
	fake.CreateErr = context.DeadlineExceeded
	m := New(s, fake, logr.Discard())

	_, err := m.Spawn(context.Background(), baseRequest())
	if err == nil {
		t.Fatal("expected spawn to fail when sandbox creation fails")
	}

	children, err := s.ListChildrenByStatus(store.ChildDead)
	if err != nil {
		t.Fatalf("ListChildrenByStatus: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("expected no child row inserted, found %d", len(children))
	}
	if fake.DeleteCallCount() != 0 {
		t.Fatalf("expected deleteSandbox not to be called when createSandbox fails, got %d calls", fake.DeleteCallCount())
	}
}

func TestSpawnSuccessReachesHealthy(t *testing.T) {
	s := newTestStore(t)
	fake := sandbox.NewFakeCapability()
	fake.ExecResult = &sandbox.ExecResult{Stdout: "Wallet: " + validAddress, ExitCode: 0}
	m := New(s, fake, logr.Discard())

	child, err := m.Spawn(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if child.Status != store.ChildHealthy {
		t.Fatalf("expected healthy, got %s", child.Status)
	}
	if child.Address != validAddress {
		t.Fatalf("expected parsed address %s, got %s", validAddress, child.Address)
	}

	event, err := s.LatestLifecycleEvent(child.ID)
	if err != nil {
		t.Fatalf("LatestLifecycleEvent: %v", err)
	}
	if event.ToState != store.ChildHealthy {
		t.Fatalf("expected latest lifecycle event to be healthy, got %s", event.ToState)
	}
}

func TestSpawnRuntimeStartFailureMarksDeadAndCleansUp(t *testing.T) {
	s := newTestStore(t)
	fake := sandbox.NewFakeCapability()
	fake.ExecResult = &sandbox.ExecResult{Stdout: "Wallet: " + validAddress, ExitCode: 0}
	wrapped := &failOnSecondExec{FakeCapability: fake}
	m := New(s, wrapped, logr.Discard())

	child, err := m.Spawn(context.Background(), baseRequest())
	if err == nil {
		t.Fatal("expected spawn to fail when start command fails")
	}
	if child.Status != store.ChildDead {
		t.Fatalf("expected dead, got %s", child.Status)
	}
	if wrapped.SandboxExists(child.SandboxID) {
		t.Fatal("expected sandbox deleted after cleanup on spawn failure")
	}
}

// failOnSecondExec fails the second Exec call (the start command) while
// letting the first (init) succeed, to test mid-protocol failure handling.
type failOnSecondExec struct {
	*sandbox.FakeCapability
	execs int
}

func (f *failOnSecondExec) Exec(ctx context.Context, sandboxID, command string, args []string) (*sandbox.ExecResult, error) {
	f.execs++
	if f.execs >= 2 {
		return &sandbox.ExecResult{ExitCode: 1, Stderr: "boom"}, nil
	}
	return f.FakeCapability.Exec(ctx, sandboxID, command, args)
}

func TestCleanupFailurePreservesChildState(t *testing.T) {
	s := newTestStore(t)
	fake := sandbox.NewFakeCapability()
	fake.ExecResult = &sandbox.ExecResult{Stdout: "Wallet: " + validAddress, ExitCode: 0}
	m := New(s, fake, logr.Discard())

	child, err := m.Spawn(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := m.Stop(child); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	fake.DeleteErr = context.DeadlineExceeded
	if err := m.Cleanup(context.Background(), child); err == nil {
		t.Fatal("expected Cleanup to propagate delete failure")
	}

	got, err := s.GetChild(child.ID)
	if err != nil {
		t.Fatalf("GetChild: %v", err)
	}
	if got.Status != store.ChildStopped {
		t.Fatalf("expected status to remain stopped after failed cleanup, got %s", got.Status)
	}
}

// TestPruneDeadChildrenKeepsLastNOldestFirst is spec scenario 6: 7 dead
// children, keepLast=5 prunes exactly 2, oldest first.
func TestPruneDeadChildrenKeepsLastNOldestFirst(t *testing.T) {
	s := newTestStore(t)
	fake := sandbox.NewFakeCapability()
	m := New(s, fake, logr.Discard())

	var ids []string
	for i := 0; i < 7; i++ {
		child, err := s.InsertChild(store.Child{
			Name:    "child",
			Address: validAddress,
			Status:  store.ChildDead,
		}, "died")
		if err != nil {
			t.Fatalf("InsertChild: %v", err)
		}
		ids = append(ids, child.ID)
	}

	pruned, err := m.PruneDeadChildren(context.Background(), 5)
	if err != nil {
		t.Fatalf("PruneDeadChildren: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned (7 - keepLast 5), got %d", pruned)
	}

	for i, id := range ids {
		child, err := s.GetChild(id)
		if err != nil {
			t.Fatalf("GetChild(%s): %v", id, err)
		}
		if i < 2 {
			if child.Status != store.ChildCleanedUp {
				t.Fatalf("expected oldest child %d cleaned up, got %s", i, child.Status)
			}
		} else {
			if child.Status != store.ChildDead {
				t.Fatalf("expected child %d to remain dead, got %s", i, child.Status)
			}
		}
	}
}

func TestPruneDeadChildrenNoopBelowRetention(t *testing.T) {
	s := newTestStore(t)
	fake := sandbox.NewFakeCapability()
	m := New(s, fake, logr.Discard())

	if _, err := s.InsertChild(store.Child{Name: "a", Address: validAddress, Status: store.ChildDead}, "died"); err != nil {
		t.Fatalf("InsertChild: %v", err)
	}

	pruned, err := m.PruneDeadChildren(context.Background(), 5)
	if err != nil {
		t.Fatalf("PruneDeadChildren: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("expected no pruning below retention, got %d", pruned)
	}
}
