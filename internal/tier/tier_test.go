package tier

import (
	"testing"

	"github.com/cat9999aaa/moneyclaw/internal/store"
)

func testThresholds() Thresholds {
	return Thresholds{High: 50, Normal: 20, Low: 5, Critical: 1}
}

func TestClassify(t *testing.T) {
	th := testThresholds()
	cases := []struct {
		name string
		s    Signals
		want store.Tier
	}{
		{"high", Signals{Credits: 100, ErrorsPerHour: 0, HighErrorThreshold: 5}, store.TierHigh},
		{"high errors pushes to normal", Signals{Credits: 100, ErrorsPerHour: 10, HighErrorThreshold: 5}, store.TierNormal},
		{"normal", Signals{Credits: 30}, store.TierNormal},
		{"low by credits", Signals{Credits: 10}, store.TierLowCompute},
		{"low by topup failure", Signals{Credits: 30, RecentTopupFailed: true}, store.TierLowCompute},
		{"critical", Signals{Credits: 2}, store.TierCritical},
		{"dead by credits", Signals{Credits: 0}, store.TierDead},
		{"dead by topup impossible", Signals{Credits: 0.5, TopupImpossible: true}, store.TierDead},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.s, th)
			if got != tc.want {
				t.Fatalf("Classify(%+v) = %s, want %s", tc.s, got, tc.want)
			}
		})
	}
}

func TestCanRunInference(t *testing.T) {
	if CanRunInference(store.TierDead) {
		t.Fatal("expected dead tier to forbid inference")
	}
	for _, ti := range []store.Tier{store.TierHigh, store.TierNormal, store.TierLowCompute, store.TierCritical} {
		if !CanRunInference(ti) {
			t.Fatalf("expected %s to permit inference", ti)
		}
	}
}

func TestGetModelForTier(t *testing.T) {
	cases := []struct {
		tier store.Tier
		want string
	}{
		{store.TierHigh, "gpt-5"},
		{store.TierNormal, "gpt-5"},
		{store.TierLowCompute, "gpt-5-mini"},
		{store.TierCritical, "gpt-5-mini"},
		{store.TierDead, "gpt-5-mini"},
	}
	for _, tc := range cases {
		got := GetModelForTier(tc.tier, "gpt-5", "gpt-5-mini")
		if got != tc.want {
			t.Fatalf("GetModelForTier(%s) = %s, want %s", tc.tier, got, tc.want)
		}
	}
}

func TestSuspendsOptionalWork(t *testing.T) {
	for _, ti := range []store.Tier{store.TierLowCompute, store.TierCritical} {
		if !SuspendsOptionalWork(ti) {
			t.Fatalf("expected %s to suspend optional work", ti)
		}
	}
	for _, ti := range []store.Tier{store.TierHigh, store.TierNormal} {
		if SuspendsOptionalWork(ti) {
			t.Fatalf("expected %s not to suspend optional work", ti)
		}
	}
}
