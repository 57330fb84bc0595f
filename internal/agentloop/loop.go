// Package agentloop drives the single cooperative Think→Act→Observe turn
// loop: read health signals, classify the survival tier, compose a prompt,
// call the inference router, dispatch any requested tool calls, and commit
// the turn — forever, until the tier governor declares the automaton dead.
package agentloop

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/cat9999aaa/moneyclaw/internal/errs"
	"github.com/cat9999aaa/moneyclaw/internal/metrics"
	"github.com/cat9999aaa/moneyclaw/internal/provider"
	"github.com/cat9999aaa/moneyclaw/internal/registry"
	"github.com/cat9999aaa/moneyclaw/internal/replication"
	"github.com/cat9999aaa/moneyclaw/internal/router"
	"github.com/cat9999aaa/moneyclaw/internal/store"
	"github.com/cat9999aaa/moneyclaw/internal/telemetry"
	"github.com/cat9999aaa/moneyclaw/internal/tier"
	"github.com/cat9999aaa/moneyclaw/internal/tools"
)

// CreditBalance reports the automaton's current spendable credits and
// whether a top-up attempt is known to be impossible (e.g. the wallet has
// no further funding path), the two externally-observed facts the tier
// governor needs beyond the store's own error-rate history.
type CreditBalance struct {
	Credits           float64
	RecentTopupFailed bool
	TopupImpossible   bool
}

// CreditOracle reads the automaton's live credit balance. In production
// this calls out to the credit-balance endpoint named in configuration;
// tests supply a fake.
type CreditOracle interface {
	GetBalance(ctx context.Context) (CreditBalance, error)
}

// CreditOracleFunc adapts a function to CreditOracle.
type CreditOracleFunc func(ctx context.Context) (CreditBalance, error)

func (f CreditOracleFunc) GetBalance(ctx context.Context) (CreditBalance, error) { return f(ctx) }

const (
	kvCurrentTier      = "current_tier"
	errorRateWindow    = 20
	highErrorThreshold = 0.3
	initialBackoff     = 2 * time.Second
	maxBackoff         = 60 * time.Second
)

// Loop is the cooperative driver task.
type Loop struct {
	store        *store.Store
	router       *router.Router
	replication  *replication.Manager
	registry     *registry.Registry
	discoverers  []discovererEntry
	credits      CreditOracle
	tools        *tools.Registry
	thresholds   tier.Thresholds
	genesis      string
	defaultModel string
	cheapModel   string
	heartbeat    time.Duration
	discoveryInt time.Duration
	replicaKeep  int
	log          logr.Logger

	lastTier    store.Tier
	lastErrText string
	repeatFails int
	backoff     time.Duration
	currentTier atomic.Value // store.Tier
}

// discovererEntry pairs a discoverer with a human-readable provider label.
// Discovery-pass metrics take their label from the discoverer's Provider().
type discovererEntry struct {
	name string
	d    registry.Discoverer
}

// Config bundles the Loop's construction-time dependencies.
type Config struct {
	Store            *store.Store
	Router           *router.Router
	Replication      *replication.Manager
	Registry         *registry.Registry
	Discoverers      map[string]registry.Discoverer
	Credits          CreditOracle
	Tools            *tools.Registry
	Thresholds       tier.Thresholds
	GenesisPrompt    string
	DefaultModel     string
	CheapModel       string
	Heartbeat        time.Duration
	DiscoveryInterval time.Duration
	ReplicaRetention int
	Log              logr.Logger
}

// New constructs a Loop.
func New(cfg Config) *Loop {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	discoveryInt := cfg.DiscoveryInterval
	if discoveryInt <= 0 {
		discoveryInt = 10 * time.Minute
	}
	keepLast := cfg.ReplicaRetention
	if keepLast <= 0 {
		keepLast = 5
	}

	var discoverers []discovererEntry
	for name, d := range cfg.Discoverers {
		discoverers = append(discoverers, discovererEntry{name: name, d: d})
	}

	l := &Loop{
		store:        cfg.Store,
		router:       cfg.Router,
		replication:  cfg.Replication,
		registry:     cfg.Registry,
		discoverers:  discoverers,
		credits:      cfg.Credits,
		tools:        cfg.Tools,
		thresholds:   cfg.Thresholds,
		genesis:      cfg.GenesisPrompt,
		defaultModel: cfg.DefaultModel,
		cheapModel:   cfg.CheapModel,
		heartbeat:    heartbeat,
		discoveryInt: discoveryInt,
		replicaKeep:  keepLast,
		log:          cfg.Log,
		backoff:      initialBackoff,
	}
	l.currentTier.Store(store.TierNormal)
	return l
}

// Run drives turns until ctx is cancelled or the tier governor declares the
// automaton dead. It never returns an error for a transient provider
// failure — only an unrecoverable store failure propagates.
func (l *Loop) Run(ctx context.Context) error {
	session, err := l.store.OpenSession()
	if err != nil {
		return errs.New(errs.KindFatal, "agentloop", fmt.Errorf("open session: %w", err))
	}
	defer l.store.CloseSession(session.ID)

	if l.replication != nil || len(l.discoverers) > 0 {
		go l.runOptionalWork(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		dead, err := l.runOneTurn(ctx, session.ID)
		if err != nil {
			if errs.IsFatal(err) {
				return err
			}
			l.log.Info("turn failed, continuing", "error", err.Error())
		}
		if dead {
			l.log.Info("tier governor declared automaton dead, exiting loop")
			return nil
		}

		wait := l.nextWait()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// runOneTurn executes steps 1-8 of the turn algorithm and reports whether
// the tier governor declared the automaton dead this turn.
func (l *Loop) runOneTurn(ctx context.Context, sessionID string) (bool, error) {
	balance, err := l.credits.GetBalance(ctx)
	if err != nil {
		return false, errs.New(errs.KindTransient, "agentloop", fmt.Errorf("read credit balance: %w", err))
	}

	errorRate, err := l.store.RecentErrorRate(sessionID, errorRateWindow)
	if err != nil {
		return false, errs.New(errs.KindFatal, "agentloop", fmt.Errorf("read error rate: %w", err))
	}

	currentTier := tier.Classify(tier.Signals{
		Credits:            balance.Credits,
		ErrorsPerHour:      errorRate,
		HighErrorThreshold: highErrorThreshold,
		RecentTopupFailed:  balance.RecentTopupFailed,
		TopupImpossible:    balance.TopupImpossible,
	}, l.thresholds)

	l.currentTier.Store(currentTier)

	if currentTier != l.lastTier {
		l.applyTierRestrictions(currentTier)
		l.lastTier = currentTier
	}

	metrics.RecordTier(string(currentTier))
	metrics.RecordCreditsRemaining(balance.Credits)

	if currentTier == store.TierDead {
		return true, nil
	}

	turn, err := l.store.InsertPendingTurn(sessionID, currentTier)
	if err != nil {
		return false, errs.New(errs.KindFatal, "agentloop", fmt.Errorf("open turn: %w", err))
	}

	ctx, span := telemetry.StartTurnSpan(ctx, sessionID, turn.TurnIndex, string(currentTier))
	defer span.End()

	start := time.Now()
	status, errText, usage, creditDelta := l.executeTurn(ctx, turn, currentTier)
	metrics.RecordTurnComplete(string(currentTier), string(status), l.router.GetDefaultModel(), time.Since(start), usage.InputTokens, usage.OutputTokens, creditDelta)

	if status == store.TurnFailed {
		if errText == l.lastErrText {
			l.repeatFails++
		} else {
			l.repeatFails = 1
		}
		l.lastErrText = errText
		// The first failure gets the normal heartbeat; backoff only kicks in
		// once a turn repeats the exact same failure string.
		if l.repeatFails >= 2 {
			if l.repeatFails == 2 {
				l.backoff = initialBackoff
			} else {
				l.backoff = minDuration(l.backoff*2, maxBackoff)
			}
		}
	} else {
		l.backoff = initialBackoff
		l.lastErrText = ""
		l.repeatFails = 0
	}

	return false, nil
}

// executeTurn composes the prompt, calls the router, dispatches tool calls,
// and commits the turn; it never returns an error itself — failures are
// recorded on the turn row per the loop's catch-everything policy.
func (l *Loop) executeTurn(ctx context.Context, turn *store.Turn, currentTier store.Tier) (store.TurnStatus, string, provider.UsageInfo, float64) {
	messages, err := l.composePrompt(turn.SessionID)
	if err != nil {
		l.completeFailed(turn.ID, err)
		return store.TurnFailed, err.Error(), provider.UsageInfo{}, 0
	}

	modelOverride := ""
	if !tier.CanRunInference(currentTier) {
		l.completeFailed(turn.ID, fmt.Errorf("tier %s cannot run inference", currentTier))
		return store.TurnFailed, "tier cannot run inference", provider.UsageInfo{}, 0
	}
	if currentTier == store.TierLowCompute || currentTier == store.TierCritical {
		modelOverride = l.cheapModel
	}

	var toolDefs []provider.ToolDefinition
	if l.tools != nil {
		toolDefs = l.tools.Definitions()
	}

	result, err := l.router.Chat(ctx, currentTier, turn.ID, messages, router.Options{
		ModelOverride: modelOverride,
		Tools:         toolDefs,
	})
	if err != nil {
		metrics.RecordProviderError(resolveProviderKind(err), string(resolveErrKind(err)))
		l.completeFailed(turn.ID, err)
		return store.TurnFailed, err.Error(), provider.UsageInfo{}, 0
	}

	if result.Message.HasToolCalls() && l.tools != nil {
		l.dispatchToolCalls(ctx, turn, currentTier, result.Message.ToolCalls)
	}

	creditDelta := estimateTurnCreditDelta(turn.ID, l.store)
	return store.TurnCompleted, "", result.Usage, creditDelta
}

// estimateTurnCreditDelta re-reads the turn row the router just completed,
// since the router (not the loop) records usage/credit delta on success.
func estimateTurnCreditDelta(turnID string, s *store.Store) float64 {
	turn, _, err := s.GetTurn(turnID)
	if err != nil {
		return 0
	}
	return turn.CreditDelta
}

// dispatchToolCalls executes each requested tool call in declared order and
// persists the full record (input, output, exit code) once execution
// completes, per spec §4.2 step 7.
func (l *Loop) dispatchToolCalls(ctx context.Context, turn *store.Turn, currentTier store.Tier, calls []provider.ToolCall) {
	for _, call := range calls {
		toolCtx, span := telemetry.StartToolCallSpan(ctx, call.Name, string(currentTier))
		startedAt := time.Now().UTC()

		output, execErr := l.tools.Execute(toolCtx, call.Name, call.Args)
		exitCode := 0
		if execErr != nil {
			exitCode = 1
			output = execErr.Error()
		}
		telemetry.EndToolCallSpan(span, exitCode, execErr)

		finishedAt := time.Now().UTC()
		if _, err := l.store.AppendToolCall(store.ToolCall{
			TurnID:     turn.ID,
			ToolName:   call.Name,
			Input:      call.RawArgs,
			Output:     output,
			ExitCode:   exitCode,
			StartedAt:  startedAt,
			FinishedAt: &finishedAt,
		}); err != nil {
			l.log.Info("failed to record tool call", "tool", call.Name, "error", err.Error())
		}
	}
}

func (l *Loop) completeFailed(turnID string, err error) {
	if storeErr := l.store.CompleteTurn(turnID, store.TurnFailed, "", 0, 0, 0, err.Error()); storeErr != nil {
		l.log.Info("failed to record turn failure", "turn", turnID, "error", storeErr.Error())
	}
}

// composePrompt builds the Think input from the genesis prompt plus, when
// one exists, the error text of the most recent failed turn. Earlier turns'
// inputs and outputs and heartbeat output are not included.
func (l *Loop) composePrompt(sessionID string) ([]provider.Message, error) {
	lastErr, err := l.store.LastNonEmptyTurnError(sessionID)
	if err != nil {
		return nil, fmt.Errorf("compose prompt: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(l.genesis)
	if lastErr != "" {
		sb.WriteString("\n\nYour previous turn failed with: ")
		sb.WriteString(lastErr)
	}

	return []provider.Message{{Role: "user", Content: sb.String()}}, nil
}

// applyTierRestrictions sets current_tier in KV and toggles the router's
// low-compute mode, per §4.3.
func (l *Loop) applyTierRestrictions(t store.Tier) {
	if err := l.store.SetKV(kvCurrentTier, string(t)); err != nil {
		l.log.Info("failed to persist current tier", "tier", t, "error", err.Error())
	}
	l.router.SetLowComputeMode(tier.SuspendsOptionalWork(t))
}

// runOptionalWork drives the discovery-refresh and dead-child-pruning
// sweeps on their own ticker, skipping a sweep entirely whenever the tier
// observed at the time suspends optional work (low_compute, critical).
func (l *Loop) runOptionalWork(ctx context.Context) {
	ticker := time.NewTicker(l.discoveryInt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		t, _ := l.currentTier.Load().(store.Tier)
		if tier.SuspendsOptionalWork(t) {
			continue
		}

		for _, entry := range l.discoverers {
			if l.registry == nil {
				break
			}
			l.registry.RunDiscovery(ctx, entry.d)
		}

		if l.replication != nil {
			pruned, err := l.replication.PruneDeadChildren(ctx, l.replicaKeep)
			if err != nil {
				l.log.Info("prune sweep failed", "error", err.Error())
			} else if pruned > 0 {
				l.log.Info("pruned dead children", "count", pruned)
			}
		}
	}
}

// nextWait returns the heartbeat interval, or the current backoff once two
// or more consecutive turns have failed with the identical error string. A
// single failure still waits the normal heartbeat.
func (l *Loop) nextWait() time.Duration {
	if l.repeatFails >= 2 {
		return l.backoff
	}
	return l.heartbeat
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func resolveErrKind(err error) errs.Kind {
	kind, ok := errs.KindOf(err)
	if !ok {
		return errs.KindFatal
	}
	return kind
}

func resolveProviderKind(err error) string {
	// Best-effort: the router wraps provider errors without re-exposing the
	// provider name, so callers that need per-provider metrics should use
	// router-level instrumentation instead. This keeps a stable label.
	return "unknown"
}
