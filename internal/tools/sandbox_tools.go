package tools

import (
	"context"
	"fmt"

	"github.com/cat9999aaa/moneyclaw/internal/sandbox"
)

// ExecTool runs a command inside the automaton's own sandbox.
type ExecTool struct {
	Capability sandbox.Capability
	SandboxID  string
}

func (t *ExecTool) Name() string        { return "sandbox.exec" }
func (t *ExecTool) Description() string { return "Run a shell command inside the automaton's sandbox and return stdout/stderr/exit code." }

func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "executable to run"},
			"args":    map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, ok := stringArg(args, "command")
	if !ok || command == "" {
		return "", fmt.Errorf("sandbox.exec: missing required argument %q", "command")
	}
	cmdArgs := stringSliceArg(args, "args")

	result, err := t.Capability.Exec(ctx, t.SandboxID, command, cmdArgs)
	if err != nil {
		return "", fmt.Errorf("sandbox.exec: %w", err)
	}
	return fmt.Sprintf("exit_code=%d\nstdout:\n%s\nstderr:\n%s", result.ExitCode, result.Stdout, result.Stderr), nil
}

// WriteFileTool writes a file into the automaton's sandbox.
type WriteFileTool struct {
	Capability sandbox.Capability
	SandboxID  string
}

func (t *WriteFileTool) Name() string        { return "sandbox.write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file inside the automaton's sandbox." }

func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := stringArg(args, "path")
	if !ok || path == "" {
		return "", fmt.Errorf("sandbox.write_file: missing required argument %q", "path")
	}
	content, _ := stringArg(args, "content")

	if err := t.Capability.WriteFile(ctx, t.SandboxID, path, []byte(content)); err != nil {
		return "", fmt.Errorf("sandbox.write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}
