package sandbox

import (
	"context"
	"testing"
)

func TestLocalProcessCapabilityLifecycle(t *testing.T) {
	cap := NewLocalProcessCapability(t.TempDir())
	ctx := context.Background()

	id, err := cap.CreateSandbox(ctx)
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	if err := cap.WriteFile(ctx, id, "hello.txt", []byte("hi")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := cap.Exec(ctx, id, "cat", []string{"hello.txt"})
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.Stdout != "hi" {
		t.Fatalf("expected stdout 'hi', got %q", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}

	if err := cap.DeleteSandbox(ctx, id); err != nil {
		t.Fatalf("DeleteSandbox: %v", err)
	}

	if _, err := cap.Exec(ctx, id, "cat", []string{"hello.txt"}); err == nil {
		t.Fatal("expected exec against deleted sandbox to fail")
	}
}

func TestLocalProcessCapabilityNonZeroExit(t *testing.T) {
	cap := NewLocalProcessCapability(t.TempDir())
	ctx := context.Background()

	id, err := cap.CreateSandbox(ctx)
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	result, err := cap.Exec(ctx, id, "false", nil)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if result.ExitCode == 0 {
		t.Fatal("expected non-zero exit code from `false`")
	}
}

func TestFakeCapabilityTracksLifecycle(t *testing.T) {
	f := NewFakeCapability()
	ctx := context.Background()

	id, err := f.CreateSandbox(ctx)
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}
	if !f.SandboxExists(id) {
		t.Fatal("expected sandbox to exist after create")
	}

	if _, err := f.Exec(ctx, id, "noop", nil); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if f.ExecCallCount() != 1 {
		t.Fatalf("expected 1 exec call, got %d", f.ExecCallCount())
	}

	if err := f.DeleteSandbox(ctx, id); err != nil {
		t.Fatalf("DeleteSandbox: %v", err)
	}
	if f.SandboxExists(id) {
		t.Fatal("expected sandbox gone after delete")
	}
}

func TestFakeCapabilityCreateFailurePropagates(t *testing.T) {
	f := NewFakeCapability()
	f.CreateErr = context.DeadlineExceeded

	if _, err := f.CreateSandbox(context.Background()); err == nil {
		t.Fatal("expected CreateSandbox to propagate configured error")
	}
}
