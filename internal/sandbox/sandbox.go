// Package sandbox implements the abstract sandbox capability: create an
// isolated execution environment, run commands inside it, write files, and
// tear it down. The replication subsystem depends on this capability, never
// on a concrete sandboxing technology.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	maxOutputSize  = 1 << 20 // 1MB per stream, matching exec-capability truncation elsewhere in this ecosystem
	defaultTimeout = 60 * time.Second
)

// ExecResult is the result of one command execution inside a sandbox.
type ExecResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	Duration  time.Duration
}

// Capability is the abstract sandbox surface spec.md §6 names:
// createSandbox, exec, writeFile, deleteSandbox.
type Capability interface {
	CreateSandbox(ctx context.Context) (sandboxID string, err error)
	Exec(ctx context.Context, sandboxID, command string, args []string) (*ExecResult, error)
	WriteFile(ctx context.Context, sandboxID, path string, content []byte) error
	DeleteSandbox(ctx context.Context, sandboxID string) error
}

// LocalProcessCapability implements Capability using host directories and
// os/exec, the way this ecosystem's probe executor runs commands directly
// on its host with local policy enforcement — generalized here to one
// directory-per-sandbox rather than a single shared host.
type LocalProcessCapability struct {
	baseDir string
}

// NewLocalProcessCapability roots every sandbox under baseDir.
func NewLocalProcessCapability(baseDir string) *LocalProcessCapability {
	return &LocalProcessCapability{baseDir: baseDir}
}

func (c *LocalProcessCapability) CreateSandbox(ctx context.Context) (string, error) {
	id := uuid.NewString()
	dir := c.sandboxDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create sandbox dir: %w", err)
	}
	return id, nil
}

func (c *LocalProcessCapability) Exec(ctx context.Context, sandboxID, command string, args []string) (*ExecResult, error) {
	dir := c.sandboxDir(sandboxID)
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("sandbox %s does not exist: %w", sandboxID, err)
	}

	execCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(execCtx, command, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:    truncate(stdout.String()),
		Stderr:    truncate(stderr.String()),
		Truncated: stdout.Len() > maxOutputSize || stderr.Len() > maxOutputSize,
		Duration:  time.Since(start),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			result.Stderr = err.Error()
		}
	}

	return result, nil
}

func (c *LocalProcessCapability) WriteFile(ctx context.Context, sandboxID, path string, content []byte) error {
	dir := c.sandboxDir(sandboxID)
	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("write file: mkdir: %w", err)
	}
	return os.WriteFile(full, content, 0o644)
}

func (c *LocalProcessCapability) DeleteSandbox(ctx context.Context, sandboxID string) error {
	return os.RemoveAll(c.sandboxDir(sandboxID))
}

func (c *LocalProcessCapability) sandboxDir(id string) string {
	return filepath.Join(c.baseDir, id)
}

func truncate(s string) string {
	if len(s) <= maxOutputSize {
		return s
	}
	return s[:maxOutputSize]
}
