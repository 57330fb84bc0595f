// Package tier implements the pure survival tier governor: a classifier
// from observable health signals to a Tier, with no side effects, in the
// style of the teacher's anomaly detectors (pure predicate functions over
// current state, history, and config).
package tier

import "github.com/cat9999aaa/moneyclaw/internal/store"

// Thresholds are the configured credit cutoffs H > N > L > C > 0.
type Thresholds struct {
	High     float64
	Normal   float64
	Low      float64
	Critical float64
}

// Signals is everything the governor reasons about for one classification.
type Signals struct {
	Credits             float64
	ErrorsPerHour        float64
	HighErrorThreshold   float64
	RecentTopupFailed    bool
	TopupImpossible      bool
}

// Classify maps (credits, errors, flags) to a tier. It is pure: the same
// inputs always produce the same output, and it has no knowledge of time or
// prior calls — transitions are monotonic per call but unrestricted across
// calls, so the governor may recover from critical to normal as credits
// rise.
func Classify(s Signals, th Thresholds) store.Tier {
	switch {
	case s.Credits < th.Critical && s.TopupImpossible:
		return store.TierDead
	case s.RecentTopupFailed:
		return store.TierLowCompute
	case s.Credits >= th.High && s.ErrorsPerHour < s.HighErrorThreshold:
		return store.TierHigh
	case s.Credits >= th.Normal:
		return store.TierNormal
	case s.Credits >= th.Low:
		return store.TierLowCompute
	case s.Credits >= th.Critical:
		return store.TierCritical
	default:
		return store.TierDead
	}
}

// CanRunInference reports whether inference may be attempted at tier t. True
// for every tier except dead.
func CanRunInference(t store.Tier) bool {
	return t != store.TierDead
}

// GetModelForTier returns defaultModel for high/normal, and cheapModel for
// low_compute/critical/dead.
func GetModelForTier(t store.Tier, defaultModel, cheapModel string) string {
	switch t {
	case store.TierHigh, store.TierNormal:
		return defaultModel
	default:
		return cheapModel
	}
}

// SuspendsOptionalWork reports whether tier t should skip heartbeat
// side-effects (discovery refresh, replication), per the loop's tie-break
// policy for low_compute and critical.
func SuspendsOptionalWork(t store.Tier) bool {
	return t == store.TierLowCompute || t == store.TierCritical
}

// MaxOutputTokensFactor scales the requested max output tokens for tiers
// that must conserve spend; critical halves the budget, others pass through.
func MaxOutputTokensFactor(t store.Tier) float64 {
	if t == store.TierCritical {
		return 0.5
	}
	return 1.0
}
