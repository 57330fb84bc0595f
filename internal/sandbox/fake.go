package sandbox

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeCapability is an in-memory Capability for replication-subsystem tests.
// It never touches the filesystem or a process table.
type FakeCapability struct {
	mu sync.Mutex

	CreateErr error
	ExecErr   error
	WriteErr  error
	DeleteErr error
	ExecResult *ExecResult

	sandboxes  map[string]bool
	execCalls  int
	deleteCalls int
}

// NewFakeCapability returns a FakeCapability that succeeds by default.
func NewFakeCapability() *FakeCapability {
	return &FakeCapability{sandboxes: make(map[string]bool)}
}

func (f *FakeCapability) CreateSandbox(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return "", f.CreateErr
	}
	id := uuid.NewString()
	f.sandboxes[id] = true
	return id, nil
}

func (f *FakeCapability) Exec(ctx context.Context, sandboxID, command string, args []string) (*ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls++
	if !f.sandboxes[sandboxID] {
		return nil, fmt.Errorf("sandbox %s does not exist", sandboxID)
	}
	if f.ExecErr != nil {
		return nil, f.ExecErr
	}
	if f.ExecResult != nil {
		return f.ExecResult, nil
	}
	return &ExecResult{Stdout: "ok", ExitCode: 0}, nil
}

func (f *FakeCapability) WriteFile(ctx context.Context, sandboxID, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.sandboxes[sandboxID] {
		return fmt.Errorf("sandbox %s does not exist", sandboxID)
	}
	return f.WriteErr
}

func (f *FakeCapability) DeleteSandbox(ctx context.Context, sandboxID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	delete(f.sandboxes, sandboxID)
	return nil
}

// DeleteCallCount reports how many DeleteSandbox calls were made.
func (f *FakeCapability) DeleteCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteCalls
}

// ExecCallCount reports how many Exec calls were made, for assertions.
func (f *FakeCapability) ExecCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execCalls
}

// SandboxExists reports whether id is still tracked as live.
func (f *FakeCapability) SandboxExists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sandboxes[id]
}

// LiveSandboxCount reports how many sandboxes are currently tracked as live.
func (f *FakeCapability) LiveSandboxCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sandboxes)
}
