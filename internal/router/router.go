// Package router implements the inference router: it resolves model +
// provider per request from the model registry and the current survival
// tier, dispatches to the provider capability, and records usage against
// the current turn.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/cat9999aaa/moneyclaw/internal/errs"
	"github.com/cat9999aaa/moneyclaw/internal/provider"
	"github.com/cat9999aaa/moneyclaw/internal/store"
	"github.com/cat9999aaa/moneyclaw/internal/telemetry"
)

const defaultRequestTimeout = 30 * time.Second

// Options carries the per-call overrides chat() accepts.
type Options struct {
	ModelOverride string
	MaxTokens     int32
	Tools         []provider.ToolDefinition
}

// ChatResult is the router's public contract return value.
type ChatResult struct {
	Message provider.CompletionResponse
	Usage   provider.UsageInfo
}

// ProviderFactory builds (or returns a cached) Provider for a registry row.
type ProviderFactory func(row store.ModelRegistryRow) (provider.Provider, error)

// Router selects provider + model per request and applies low-compute mode.
type Router struct {
	store          *store.Store
	newProvider    ProviderFactory
	log            logr.Logger
	defaultModel   string
	lowComputeModel string
	lowCompute     bool
}

// New constructs a Router. defaultModel is the model used outside
// low-compute mode; newProvider builds the provider capability for a given
// registry row (allowing test harnesses to inject HTTP fakes).
func New(s *store.Store, newProvider ProviderFactory, defaultModel string, log logr.Logger) *Router {
	return &Router{store: s, newProvider: newProvider, defaultModel: defaultModel, log: log}
}

// SetLowComputeMode swaps the router's default model field between
// defaultModel and lowComputeModel, falling back to a hardcoded cheap model
// if the latter is unset.
func (r *Router) SetLowComputeMode(on bool) {
	r.lowCompute = on
}

// GetDefaultModel reflects the current low-compute setting.
func (r *Router) GetDefaultModel() string {
	if r.lowCompute {
		if r.lowComputeModel != "" {
			return r.lowComputeModel
		}
		return "gpt-5-mini"
	}
	return r.defaultModel
}

// SetLowComputeModel configures the model used when low-compute mode is on.
func (r *Router) SetLowComputeModel(model string) {
	r.lowComputeModel = model
}

// Chat resolves a model/provider for tier and dispatches req, recording
// usage against turnID in the store.
func (r *Router) Chat(ctx context.Context, tier store.Tier, turnID string, messages []provider.Message, opts Options) (*ChatResult, error) {
	modelID := opts.ModelOverride
	if modelID == "" {
		modelID = r.GetDefaultModel()
	}

	row, err := r.store.GetModelRegistryRow(modelID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, errs.New(errs.KindProviderConfig, "resolve model", fmt.Errorf("model %q not in registry", modelID))
		}
		return nil, errs.New(errs.KindTransient, "read registry", err)
	}

	if !row.Enabled {
		return nil, errs.New(errs.KindProviderConfig, "resolve model", fmt.Errorf("model %q is disabled", modelID))
	}
	if !tierMeetsMinimum(tier, row.TierMinimum) {
		return nil, errs.New(errs.KindProviderConfig, "resolve model", fmt.Errorf("model %q requires tier >= %s, current tier %s", modelID, row.TierMinimum, tier))
	}

	p, err := r.newProvider(*row)
	if err != nil {
		return nil, errs.New(errs.KindProviderConfig, "build provider", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = int32(row.MaxOutputTokens)
	}

	llmCtx, span := telemetry.StartLLMCallSpan(reqCtx, modelID, string(row.Provider))
	resp, err := p.Complete(llmCtx, &provider.CompletionRequest{
		Messages:   messages,
		Tools:      opts.Tools,
		Model:      modelID,
		MaxTokens:  maxTokens,
		ParamStyle: provider.ParamStyle(row.ParamStyle),
	})
	if err != nil {
		telemetry.EndLLMCallSpan(span, 0, 0, false)
		return nil, r.handleProviderError(modelID, err)
	}
	telemetry.EndLLMCallSpan(span, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.HasToolCalls())

	creditDelta := estimateCreditDelta(*row, resp.Usage)
	if err := r.store.CompleteTurn(turnID, store.TurnCompleted, modelID, resp.Usage.InputTokens, resp.Usage.OutputTokens, creditDelta, ""); err != nil {
		r.log.Info("failed to record turn completion", "turn", turnID, "error", err.Error())
	}

	return &ChatResult{Message: *resp, Usage: resp.Usage}, nil
}

// handleProviderError applies §4.4's failure-class policy: auth failures are
// fatal for this provider this turn; model-not-found disables the registry
// row and lets the next resolve skip it.
func (r *Router) handleProviderError(modelID string, err error) error {
	kind, ok := errs.KindOf(err)
	if !ok {
		return err
	}
	if kind == errs.KindProviderConfig {
		if isModelNotFound(err) {
			if disableErr := r.store.SetModelRegistryEnabled(modelID, false); disableErr != nil {
				r.log.Info("failed to disable model after not-found", "model", modelID, "error", disableErr.Error())
			}
		}
	}
	return err
}

func isModelNotFound(err error) bool {
	return containsAny(err.Error(), "model not found", "not found")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

var tierRank = map[store.Tier]int{
	store.TierDead:       0,
	store.TierCritical:   1,
	store.TierLowCompute: 2,
	store.TierNormal:     3,
	store.TierHigh:       4,
}

func tierMeetsMinimum(current, minimum store.Tier) bool {
	return tierRank[current] >= tierRank[minimum]
}

// estimateCreditDelta computes the (negative) credit change for a
// completion, from the registry row's per-1k costs.
func estimateCreditDelta(row store.ModelRegistryRow, usage provider.UsageInfo) float64 {
	inputCost := float64(usage.InputTokens) / 1000.0 * row.InputCostPer1K
	outputCost := float64(usage.OutputTokens) / 1000.0 * row.OutputCostPer1K
	return -(inputCost + outputCost)
}
