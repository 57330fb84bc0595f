// Package replication implements the replication subsystem: the spawn
// protocol that brings up a child automaton through its state machine,
// guaranteed cleanup on failure, and retention-based pruning of dead
// children.
package replication

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/go-logr/logr"

	"github.com/cat9999aaa/moneyclaw/internal/errs"
	"github.com/cat9999aaa/moneyclaw/internal/metrics"
	"github.com/cat9999aaa/moneyclaw/internal/sandbox"
	"github.com/cat9999aaa/moneyclaw/internal/store"
	"github.com/cat9999aaa/moneyclaw/internal/telemetry"
	"github.com/cat9999aaa/moneyclaw/internal/wallet"
)

// allChildStatuses enumerates every lifecycle state tracked by the
// children-by-status gauge, so a refresh always zeroes states with no members.
var allChildStatuses = []store.ChildStatus{
	store.ChildInit, store.ChildSandboxCreated, store.ChildRuntimeReady,
	store.ChildWalletVerified, store.ChildFunded, store.ChildStarting,
	store.ChildHealthy, store.ChildStopped, store.ChildDead, store.ChildCleanedUp,
}

// SpawnRequest describes a child to spawn.
type SpawnRequest struct {
	Name string

	// InstallCommand/InstallArgs, if set, runs inside the new sandbox before
	// the init command (step 2 of the spawn protocol).
	InstallCommand string
	InstallArgs    []string

	// InitCommand/InitArgs runs the child's init script; its stdout must
	// contain the child's own wallet address.
	InitCommand string
	InitArgs    []string

	// StartCommand/StartArgs starts the child's agent loop once funded.
	StartCommand string
	StartArgs    []string

	GenesisPrompt string
}

// Funder transfers credits to a newly verified child wallet. Funding is
// abstract here — the mechanism (on-chain transfer, internal ledger entry,
// etc.) lives outside the replication subsystem.
type Funder interface {
	Fund(ctx context.Context, childAddress string) error
}

// FundFunc adapts a function to Funder.
type FundFunc func(ctx context.Context, childAddress string) error

func (f FundFunc) Fund(ctx context.Context, childAddress string) error { return f(ctx, childAddress) }

var walletAddressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// ParseWalletAddress extracts the first well-formed-looking 0x address from
// init-command stdout. It does not itself apply the zero-address rule —
// callers run wallet.Validate on the result. No checksum is checked.
func ParseWalletAddress(stdout string) (string, bool) {
	match := walletAddressPattern.FindString(stdout)
	return match, match != ""
}

// Manager drives the spawn protocol and pruning for the replication subsystem.
type Manager struct {
	store   *store.Store
	sandbox sandbox.Capability
	funder  Funder
	log     logr.Logger
}

// New constructs a Manager over an opened store and a sandbox capability. A
// nil funder is treated as an always-succeeding no-op funder.
func New(s *store.Store, cap sandbox.Capability, log logr.Logger) *Manager {
	return &Manager{store: s, sandbox: cap, log: log}
}

// WithFunder sets the funding capability used during Spawn.
func (m *Manager) WithFunder(f Funder) *Manager {
	m.funder = f
	return m
}

// Spawn runs the spawn protocol:
//
//  1. Create the sandbox. On failure, bubble up — nothing is persisted, and
//     no cleanup is attempted (there is nothing to clean up).
//  2. Install runtime dependencies inside the sandbox.
//  3. Run the child's init command and parse its stdout for a wallet address.
//  4. Validate the address. On failure, or on any exec failure in steps 2-3,
//     delete the sandbox and propagate the *original* error — never masked
//     by a delete-time error. Still nothing is persisted.
//  5. Only once a valid address exists: insert the child row at
//     sandbox_created, then catch the lifecycle trail up through
//     runtime_ready and wallet_verified (the corresponding work already
//     happened in steps 2-4).
//  6. Fund the child wallet; append funded.
//  7. Start the child's agent loop; append starting -> healthy.
//
// From step 5 onward, any failure marks the child dead and invokes Cleanup;
// Cleanup's own failure is logged but never masks the original spawn error.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (*store.Child, error) {
	ctx, span := telemetry.StartSpawnSpan(ctx, req.Name)
	defer func() { m.refreshChildMetrics() }()

	child, err := m.spawn(ctx, req)
	if err != nil {
		metrics.RecordSpawnAttempt("failed")
		telemetry.EndSpawnSpan(span, "failed")
		return child, err
	}
	metrics.RecordSpawnAttempt("healthy")
	telemetry.EndSpawnSpan(span, string(child.Status))
	return child, nil
}

// spawn runs the actual spawn protocol; Spawn wraps it with tracing and
// metrics bookkeeping that needs to observe every exit path.
func (m *Manager) spawn(ctx context.Context, req SpawnRequest) (*store.Child, error) {
	sandboxID, err := m.sandbox.CreateSandbox(ctx)
	if err != nil {
		return nil, errs.New(errs.KindTransient, "spawn", fmt.Errorf("create sandbox: %w", err))
	}

	if req.InstallCommand != "" {
		result, err := m.sandbox.Exec(ctx, sandboxID, req.InstallCommand, req.InstallArgs)
		if err != nil || result.ExitCode != 0 {
			return nil, m.abortBeforePersist(ctx, sandboxID, fmt.Errorf("install runtime dependencies: %w", firstNonNil(err, execFailed(result))))
		}
	}

	initResult, err := m.sandbox.Exec(ctx, sandboxID, req.InitCommand, req.InitArgs)
	if err != nil {
		return nil, m.abortBeforePersist(ctx, sandboxID, fmt.Errorf("run init command: %w", err))
	}
	if initResult.ExitCode != 0 {
		return nil, m.abortBeforePersist(ctx, sandboxID, fmt.Errorf("init command exited %d: %s", initResult.ExitCode, initResult.Stderr))
	}

	address, found := ParseWalletAddress(initResult.Stdout)
	if !found {
		return nil, m.abortBeforePersist(ctx, sandboxID, fmt.Errorf("init command produced no wallet address"))
	}
	if err := wallet.Validate(address); err != nil {
		return nil, m.abortBeforePersist(ctx, sandboxID, fmt.Errorf("child wallet address invalid: %w", err))
	}

	child, err := m.store.InsertChild(store.Child{
		Name:          req.Name,
		Address:       address,
		SandboxID:     sandboxID,
		GenesisPrompt: req.GenesisPrompt,
		Status:        store.ChildSandboxCreated,
	}, "sandbox_created")
	if err != nil {
		if delErr := m.sandbox.DeleteSandbox(ctx, sandboxID); delErr != nil {
			m.log.Info("failed to delete sandbox after child insert failure", "sandbox", sandboxID, "error", delErr.Error())
		}
		return nil, errs.New(errs.KindTransient, "spawn", fmt.Errorf("insert child: %w", err))
	}

	if err := m.transition(child, "runtime_ready", store.ChildRuntimeReady); err != nil {
		return child, m.fail(ctx, child, err)
	}
	if err := m.transition(child, "wallet_verified", store.ChildWalletVerified); err != nil {
		return child, m.fail(ctx, child, err)
	}

	if err := m.fund(ctx, child.Address); err != nil {
		return child, m.fail(ctx, child, fmt.Errorf("fund child wallet: %w", err))
	}
	if err := m.transition(child, "funded", store.ChildFunded); err != nil {
		return child, m.fail(ctx, child, err)
	}

	if err := m.transition(child, "starting", store.ChildStarting); err != nil {
		return child, m.fail(ctx, child, err)
	}

	startResult, err := m.sandbox.Exec(ctx, sandboxID, req.StartCommand, req.StartArgs)
	if err != nil {
		return child, m.fail(ctx, child, fmt.Errorf("start runtime: %w", err))
	}
	if startResult.ExitCode != 0 {
		return child, m.fail(ctx, child, fmt.Errorf("start runtime exited %d: %s", startResult.ExitCode, startResult.Stderr))
	}

	if err := m.transition(child, "healthy", store.ChildHealthy); err != nil {
		return child, m.fail(ctx, child, err)
	}

	return child, nil
}

// refreshChildMetrics recounts children per lifecycle state and republishes
// the children-by-status gauge. Best-effort: a listing failure is logged,
// never propagated, since it must never block the spawn/prune path it trails.
func (m *Manager) refreshChildMetrics() {
	for _, status := range allChildStatuses {
		children, err := m.store.ListChildrenByStatus(status)
		if err != nil {
			m.log.Info("failed to refresh children-by-status metric", "status", status, "error", err.Error())
			continue
		}
		metrics.RecordChildrenByStatus(string(status), len(children))
	}
}

func (m *Manager) fund(ctx context.Context, address string) error {
	if m.funder == nil {
		return nil
	}
	return m.funder.Fund(ctx, address)
}

func execFailed(result *sandbox.ExecResult) error {
	if result == nil {
		return nil
	}
	return fmt.Errorf("exited %d: %s", result.ExitCode, result.Stderr)
}

func firstNonNil(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// abortBeforePersist deletes a sandbox that never got a persisted child row
// and returns origErr unconditionally — a delete failure here is logged but
// never replaces the original error.
func (m *Manager) abortBeforePersist(ctx context.Context, sandboxID string, origErr error) error {
	if err := m.sandbox.DeleteSandbox(ctx, sandboxID); err != nil {
		m.log.Info("failed to delete sandbox after aborted spawn", "sandbox", sandboxID, "error", err.Error())
	}
	return errs.New(errs.KindValidation, "spawn", origErr)
}

func (m *Manager) transition(child *store.Child, reason string, status store.ChildStatus) error {
	if err := m.store.UpdateChildStatus(child.ID, reason, status); err != nil {
		return fmt.Errorf("transition to %s: %w", status, err)
	}
	child.Status = status
	return nil
}

// fail marks an already-persisted child dead and attempts cleanup, returning
// the original spawn error unconditionally — a cleanup failure is logged,
// never masking it.
func (m *Manager) fail(ctx context.Context, child *store.Child, spawnErr error) error {
	if err := m.store.UpdateChildStatus(child.ID, "spawn_failed", store.ChildDead); err != nil {
		m.log.Info("failed to mark child dead after spawn failure", "child", child.ID, "error", err.Error())
	}
	child.Status = store.ChildDead

	if err := m.Cleanup(ctx, child); err != nil {
		m.log.Info("cleanup after spawn failure also failed", "child", child.ID, "error", err.Error())
	}

	return errs.New(errs.KindTransient, "spawn", spawnErr)
}

// Cleanup deletes a child's sandbox and marks it cleaned_up. On failure the
// child's state is left unchanged (still dead/stopped) so a later pass can
// retry; it never reports the child cleaned_up unless deletion succeeded.
func (m *Manager) Cleanup(ctx context.Context, child *store.Child) error {
	if child.SandboxID != "" {
		if err := m.sandbox.DeleteSandbox(ctx, child.SandboxID); err != nil {
			return fmt.Errorf("delete sandbox %s: %w", child.SandboxID, err)
		}
	}
	if err := m.store.UpdateChildStatus(child.ID, "cleaned_up", store.ChildCleanedUp); err != nil {
		return fmt.Errorf("mark cleaned up: %w", err)
	}
	return nil
}

// Stop transitions a healthy child to stopped, e.g. on an explicit shutdown
// request or a parent-initiated retirement.
func (m *Manager) Stop(child *store.Child) error {
	return m.transition(child, "stopped", store.ChildStopped)
}

// PruneDeadChildren cleans up and retires dead children beyond keepLast,
// oldest-first; ties on timestamp break by id ascending (ListChildrenByStatus
// orders by created_at, id). Children within the retention window are left
// alone even if dead, so their lifecycle history remains inspectable.
func (m *Manager) PruneDeadChildren(ctx context.Context, keepLast int) (int, error) {
	dead, err := m.store.ListChildrenByStatus(store.ChildDead)
	if err != nil {
		return 0, fmt.Errorf("list dead children: %w", err)
	}
	if len(dead) <= keepLast {
		return 0, nil
	}

	toPrune := dead[:len(dead)-keepLast]
	pruned := 0
	for i := range toPrune {
		child := toPrune[i]
		if err := m.Cleanup(ctx, &child); err != nil {
			m.log.Info("prune cleanup failed, leaving for next pass", "child", child.ID, "error", err.Error())
			continue
		}
		pruned++
	}
	m.refreshChildMetrics()
	return pruned, nil
}

// RunPruneLoop ticks PruneDeadChildren on interval until ctx is cancelled,
// mirroring the survival loop's periodic housekeeping cadence.
func (m *Manager) RunPruneLoop(ctx context.Context, interval time.Duration, keepLast int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := m.PruneDeadChildren(ctx, keepLast)
			if err != nil {
				m.log.Info("prune pass failed", "error", err.Error())
				continue
			}
			if pruned > 0 {
				m.log.Info("pruned dead children", "count", pruned)
			}
		}
	}
}
