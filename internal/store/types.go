// Package store persists all MoneyClaw runtime state in a single embedded
// SQLite database, behind typed operations over each entity in the data
// model: identity, session, turn, tool call, KV, model registry, child, and
// lifecycle event.
package store

import "time"

// Tier mirrors the survival tier governor's classification.
type Tier string

const (
	TierHigh        Tier = "high"
	TierNormal      Tier = "normal"
	TierLowCompute  Tier = "low_compute"
	TierCritical    Tier = "critical"
	TierDead        Tier = "dead"
)

// TurnStatus is the lifecycle of a single Think→Act→Observe cycle.
type TurnStatus string

const (
	TurnPending   TurnStatus = "pending"
	TurnCompleted TurnStatus = "completed"
	TurnFailed    TurnStatus = "failed"
)

// ChildStatus is the replication state machine's states.
type ChildStatus string

const (
	ChildInit           ChildStatus = "init"
	ChildSandboxCreated ChildStatus = "sandbox_created"
	ChildRuntimeReady   ChildStatus = "runtime_ready"
	ChildWalletVerified ChildStatus = "wallet_verified"
	ChildFunded         ChildStatus = "funded"
	ChildStarting       ChildStatus = "starting"
	ChildHealthy        ChildStatus = "healthy"
	ChildStopped        ChildStatus = "stopped"
	ChildDead           ChildStatus = "dead"
	ChildCleanedUp      ChildStatus = "cleaned_up"
)

// ProviderName is one of the four recognised inference providers.
type ProviderName string

const (
	ProviderConway    ProviderName = "conway"
	ProviderOpenAI    ProviderName = "openai"
	ProviderAnthropic ProviderName = "anthropic"
	ProviderOllama    ProviderName = "ollama"
)

// ParamStyle selects the max-output-tokens field name a provider expects.
type ParamStyle string

const (
	ParamStyleMaxTokens           ParamStyle = "max_tokens"
	ParamStyleMaxCompletionTokens ParamStyle = "max_completion_tokens"
)

// Identity is the one row describing this process's agent identity.
// Immutable after init.
type Identity struct {
	WalletAddress  string
	CreatorAddress string
	GenesisPrompt  string
	CreatedAt      time.Time
}

// Session is a contiguous run of the agent loop.
type Session struct {
	ID        string
	StartedAt time.Time
	EndedAt   *time.Time
}

// Turn is one Think→Act→Observe cycle.
type Turn struct {
	ID               string
	SessionID        string
	TurnIndex        int64
	Tier             Tier
	ModelID          string
	PromptTokens     int64
	CompletionTokens int64
	CreditDelta      float64
	Status           TurnStatus
	ErrorText        string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// ToolCall is a child record of a turn.
type ToolCall struct {
	ID         string
	TurnID     string
	Seq        int64
	ToolName   string
	Input      string
	Output     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// ModelRegistryRow is one catalogued model.
type ModelRegistryRow struct {
	ModelID         string
	Provider        ProviderName
	DisplayName     string
	TierMinimum     Tier
	InputCostPer1K  float64
	OutputCostPer1K float64
	MaxOutputTokens int64
	ContextWindow   int64
	SupportsTools   bool
	SupportsVision  bool
	ParamStyle      ParamStyle
	Enabled         bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Child is a spawned sibling automaton.
type Child struct {
	ID            string
	Name          string
	Address       string
	SandboxID     string
	GenesisPrompt string
	Status        ChildStatus
	CreatedAt     time.Time
}

// UsageSummary totals token and credit consumption for one model within an
// aggregation window, for status reporting.
type UsageSummary struct {
	ModelID          string
	TurnCount        int64
	PromptTokens     int64
	CompletionTokens int64
	CreditSpent      float64
}

// LifecycleEvent is one append-only transition record for a child.
type LifecycleEvent struct {
	ID         string
	ChildID    string
	Transition string
	ToState    ChildStatus
	Timestamp  time.Time
}
