// Package config loads MoneyClaw's runtime configuration from
// $HOME/.automaton/automaton.json with environment-variable overrides, the
// way a gateway process in this ecosystem typically layers config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Tier thresholds and the heartbeat interval are configurable rather than
// hardcoded, so an operator can tune survival behavior without a rebuild.
type Config struct {
	// WalletAddress is this automaton's funding wallet, 0x + 40 hex digits.
	WalletAddress string `mapstructure:"wallet_address"`

	// CreatorAddress is the wallet that spawned this automaton, recorded on
	// the identity row alongside WalletAddress.
	CreatorAddress string `mapstructure:"creator_address"`

	// ConwayAPIURL and ConwayAPIKey address the credit-balance oracle.
	ConwayAPIURL string `mapstructure:"conway_api_url"`
	ConwayAPIKey string `mapstructure:"conway_api_key"`

	// OpenAIAPIKey and AnthropicAPIKey authenticate the OpenAI-compatible
	// and Anthropic-compatible providers; OllamaBaseURL needs no key.
	OpenAIAPIKey    string `mapstructure:"openai_api_key"`
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`

	// OpenAIBaseURL, AnthropicBaseURL, OllamaBaseURL override provider
	// endpoints; empty means use the provider's public default.
	OpenAIBaseURL    string `mapstructure:"openai_base_url"`
	AnthropicBaseURL string `mapstructure:"anthropic_base_url"`
	OllamaBaseURL    string `mapstructure:"ollama_base_url"`

	// InferenceModel is the preferred model id the router defaults to
	// outside low-compute mode.
	InferenceModel string `mapstructure:"inference_model"`

	// ModelStrategy holds a routing policy name (e.g. "cheapest",
	// "fastest"). It is loaded and logged only; the router does not read it
	// and always resolves models by its built-in ordering.
	ModelStrategy string `mapstructure:"model_strategy"`

	// DBPath is the path to the embedded SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// Tier thresholds, in descending order: High > Normal > Low > Critical > 0.
	TierHighThreshold     float64 `mapstructure:"tier_high_threshold"`
	TierNormalThreshold   float64 `mapstructure:"tier_normal_threshold"`
	TierLowThreshold      float64 `mapstructure:"tier_low_threshold"`
	TierCriticalThreshold float64 `mapstructure:"tier_critical_threshold"`

	// HeartbeatInterval is the agent loop's turn cadence.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// DiscoveryInterval is how often the model registry re-scans providers.
	DiscoveryInterval time.Duration `mapstructure:"discovery_interval"`

	// ReplicaRetention is how many dead children to keep before pruning
	// the oldest.
	ReplicaRetention int `mapstructure:"replica_retention"`
}

// String masks secrets so Config is safe to log directly.
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{wallet=%s creator=%s conway_api_url=%s conway_api_key=%s openai_api_key=%s anthropic_api_key=%s "+
			"inference_model=%s model_strategy=%s db_path=%s tiers=[%g %g %g %g] heartbeat=%s discovery=%s retention=%d}",
		c.WalletAddress, c.CreatorAddress, c.ConwayAPIURL, maskAPIKey(c.ConwayAPIKey), maskAPIKey(c.OpenAIAPIKey), maskAPIKey(c.AnthropicAPIKey),
		c.InferenceModel, c.ModelStrategy, c.DBPath,
		c.TierHighThreshold, c.TierNormalThreshold, c.TierLowThreshold, c.TierCriticalThreshold,
		c.HeartbeatInterval, c.DiscoveryInterval, c.ReplicaRetention,
	)
}

// maskAPIKey shows only the key's last four characters, the way a secret is
// surfaced in any status/audit output.
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		if key == "" {
			return ""
		}
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func defaults() Config {
	return Config{
		DBPath:                filepath.Join(defaultHome(), "automaton.db"),
		TierHighThreshold:     50.0,
		TierNormalThreshold:   20.0,
		TierLowThreshold:      5.0,
		TierCriticalThreshold: 1.0,
		HeartbeatInterval:     30 * time.Second,
		DiscoveryInterval:     15 * time.Minute,
		ReplicaRetention:      5,
	}
}

func defaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".automaton")
}

// Load reads configuration from path (or the default automaton.json under
// $HOME/.automaton if path is empty), with the five endpoint/credential
// variables overridable via environment.
func Load(path string) (Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigType("json")

	if path == "" {
		path = filepath.Join(defaultHome(), "automaton.json")
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	for _, envVar := range []string{
		"conway_api_url", "conway_api_key",
		"openai_base_url", "anthropic_base_url", "ollama_base_url",
	} {
		if err := v.BindEnv(envVar, envNameFor(envVar)); err != nil {
			return cfg, fmt.Errorf("bind env %s: %w", envVar, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func envNameFor(key string) string {
	switch key {
	case "conway_api_url":
		return "CONWAY_API_URL"
	case "conway_api_key":
		return "CONWAY_API_KEY"
	case "openai_base_url":
		return "OPENAI_BASE_URL"
	case "anthropic_base_url":
		return "ANTHROPIC_BASE_URL"
	case "ollama_base_url":
		return "OLLAMA_BASE_URL"
	default:
		return ""
	}
}
