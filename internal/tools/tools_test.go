package tools

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"

	"github.com/cat9999aaa/moneyclaw/internal/replication"
	"github.com/cat9999aaa/moneyclaw/internal/sandbox"
	"github.com/cat9999aaa/moneyclaw/internal/store"
)

func TestRegistryRegisterAndExecute(t *testing.T) {
	fake := sandbox.NewFakeCapability()
	ctx := context.Background()
	id, err := fake.CreateSandbox(ctx)
	if err != nil {
		t.Fatalf("CreateSandbox: %v", err)
	}

	reg := NewRegistry()
	reg.Register(&ExecTool{Capability: fake, SandboxID: id})
	reg.Register(&WriteFileTool{Capability: fake, SandboxID: id})

	if got := reg.List(); len(got) != 2 {
		t.Fatalf("expected 2 tools, got %d: %v", len(got), got)
	}

	out, err := reg.Execute(ctx, "sandbox.exec", map[string]interface{}{"command": "echo", "args": []interface{}{"hi"}})
	if err != nil {
		t.Fatalf("Execute(sandbox.exec): %v", err)
	}
	if out == "" {
		t.Fatal("expected non-empty exec output")
	}
}

func TestRegistryExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Execute(context.Background(), "nonexistent", nil); err == nil {
		t.Fatal("expected error for unregistered tool")
	}
}

func TestExecToolRequiresCommand(t *testing.T) {
	fake := sandbox.NewFakeCapability()
	tool := &ExecTool{Capability: fake, SandboxID: "whatever"}
	if _, err := tool.Execute(context.Background(), map[string]interface{}{}); err == nil {
		t.Fatal("expected missing-command error")
	}
}

func TestSpawnChildToolRequiresName(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"), logr.Discard())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	m := replication.New(s, sandbox.NewFakeCapability(), logr.Discard())
	tool := &SpawnChildTool{Manager: m}

	if _, err := tool.Execute(context.Background(), map[string]interface{}{"genesis_prompt": "be helpful"}); err == nil {
		t.Fatal("expected missing name error")
	}
}

func TestDefinitionsReflectRegisteredTools(t *testing.T) {
	reg := NewRegistry()
	fake := sandbox.NewFakeCapability()
	reg.Register(&ExecTool{Capability: fake, SandboxID: "s1"})

	defs := reg.Definitions()
	if len(defs) != 1 || defs[0].Name != "sandbox.exec" {
		t.Fatalf("expected one definition named sandbox.exec, got %+v", defs)
	}
}
