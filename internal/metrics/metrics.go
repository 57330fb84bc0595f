// Package metrics defines Prometheus metrics for the automaton runtime.
//
// Unlike the controller-runtime-based services in this ecosystem, this
// process owns a plain Prometheus registry rather than registering against
// a shared manager registry.
//
// Metric naming follows Prometheus conventions:
//   - moneyclaw_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry is this process's metrics registry, served on /metrics.
var Registry = prometheus.NewRegistry()

var (
	// TurnsTotal counts completed turns by tier and terminal status.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moneyclaw_turns_total",
			Help: "Total number of agent turns by tier and status.",
		},
		[]string{"tier", "status"},
	)

	// TurnDurationSeconds is a histogram of turn duration by tier.
	TurnDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "moneyclaw_turn_duration_seconds",
			Help:    "Duration of agent turns in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"tier"},
	)

	// TokensUsedTotal counts tokens consumed by model and direction.
	TokensUsedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moneyclaw_tokens_used_total",
			Help: "Total tokens consumed, by model and direction (prompt/completion).",
		},
		[]string{"model", "direction"},
	)

	// CreditsSpentTotal tracks cumulative credits spent on inference.
	CreditsSpentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moneyclaw_credits_spent_total",
			Help: "Total credits spent on inference calls, by model.",
		},
		[]string{"model"},
	)

	// CreditsRemaining is the current known credit balance.
	CreditsRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "moneyclaw_credits_remaining",
			Help: "Current credit balance as last observed.",
		},
	)

	// CurrentTier is a gauge of 1 for the active tier, 0 otherwise, one
	// series per tier value, so a single query selects the active tier.
	CurrentTier = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moneyclaw_tier",
			Help: "1 for the currently active survival tier, 0 for all others.",
		},
		[]string{"tier"},
	)

	// ProviderErrorsTotal counts inference failures by provider and error kind.
	ProviderErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moneyclaw_provider_errors_total",
			Help: "Total inference provider errors, by provider and error kind.",
		},
		[]string{"provider", "kind"},
	)

	// ChildrenByStatus is the current count of children in each lifecycle state.
	ChildrenByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "moneyclaw_children_by_status",
			Help: "Number of replicated children currently in each lifecycle state.",
		},
		[]string{"status"},
	)

	// SpawnAttemptsTotal counts spawn attempts by terminal outcome.
	SpawnAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moneyclaw_spawn_attempts_total",
			Help: "Total replication spawn attempts by outcome (healthy/failed).",
		},
		[]string{"outcome"},
	)

	// DiscoveryPassesTotal counts model-discovery passes by provider and outcome.
	DiscoveryPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moneyclaw_discovery_passes_total",
			Help: "Total model discovery passes by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
)

func init() {
	Registry.MustRegister(
		TurnsTotal,
		TurnDurationSeconds,
		TokensUsedTotal,
		CreditsSpentTotal,
		CreditsRemaining,
		CurrentTier,
		ProviderErrorsTotal,
		ChildrenByStatus,
		SpawnAttemptsTotal,
		DiscoveryPassesTotal,
	)
}

// RecordTurnComplete records metrics for one completed turn.
func RecordTurnComplete(tier, status, model string, duration time.Duration, promptTokens, completionTokens int64, creditDelta float64) {
	TurnsTotal.WithLabelValues(tier, status).Inc()
	TurnDurationSeconds.WithLabelValues(tier).Observe(duration.Seconds())
	TokensUsedTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	TokensUsedTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	if creditDelta < 0 {
		CreditsSpentTotal.WithLabelValues(model).Add(-creditDelta)
	}
}

// RecordCreditsRemaining sets the current balance gauge.
func RecordCreditsRemaining(credits float64) {
	CreditsRemaining.Set(credits)
}

// RecordTier sets the tier gauge vector so exactly one series reads 1.
func RecordTier(active string) {
	for _, t := range []string{"high", "normal", "low_compute", "critical", "dead"} {
		if t == active {
			CurrentTier.WithLabelValues(t).Set(1)
		} else {
			CurrentTier.WithLabelValues(t).Set(0)
		}
	}
}

// RecordProviderError records one classified provider failure.
func RecordProviderError(provider, kind string) {
	ProviderErrorsTotal.WithLabelValues(provider, kind).Inc()
}

// RecordSpawnAttempt records a completed spawn attempt's terminal outcome.
func RecordSpawnAttempt(outcome string) {
	SpawnAttemptsTotal.WithLabelValues(outcome).Inc()
}

// RecordDiscoveryPass records a completed discovery pass's terminal outcome.
func RecordDiscoveryPass(provider, outcome string) {
	DiscoveryPassesTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordChildrenByStatus sets one lifecycle-state series of the
// children-by-status gauge to a freshly counted snapshot.
func RecordChildrenByStatus(status string, count int) {
	ChildrenByStatus.WithLabelValues(status).Set(float64(count))
}
