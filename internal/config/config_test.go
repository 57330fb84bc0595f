package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TierHighThreshold <= cfg.TierNormalThreshold {
		t.Fatalf("expected high threshold > normal, got %v <= %v", cfg.TierHighThreshold, cfg.TierNormalThreshold)
	}
	if cfg.ReplicaRetention != 5 {
		t.Fatalf("expected default retention 5, got %d", cfg.ReplicaRetention)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "automaton.json")
	if err := os.WriteFile(path, []byte(`{"conway_api_url":"https://file.example"}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONWAY_API_URL", "https://env.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ConwayAPIURL != "https://env.example" {
		t.Fatalf("expected env override, got %q", cfg.ConwayAPIURL)
	}
}

func TestLoadReadsSpecMandatedFileKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "automaton.json")
	body := `{
		"creator_address": "0x000000000000000000000000000000000000aa",
		"openai_api_key": "sk-openai-secret",
		"anthropic_api_key": "sk-anthropic-secret",
		"inference_model": "gpt-custom",
		"model_strategy": "cheapest"
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CreatorAddress != "0x000000000000000000000000000000000000aa" {
		t.Fatalf("expected creator address to load, got %q", cfg.CreatorAddress)
	}
	if cfg.OpenAIAPIKey != "sk-openai-secret" {
		t.Fatalf("expected openai api key to load, got %q", cfg.OpenAIAPIKey)
	}
	if cfg.AnthropicAPIKey != "sk-anthropic-secret" {
		t.Fatalf("expected anthropic api key to load, got %q", cfg.AnthropicAPIKey)
	}
	if cfg.InferenceModel != "gpt-custom" {
		t.Fatalf("expected inference model to load, got %q", cfg.InferenceModel)
	}
	if cfg.ModelStrategy != "cheapest" {
		t.Fatalf("expected model strategy to load, got %q", cfg.ModelStrategy)
	}
}

func TestStringMasksAPIKey(t *testing.T) {
	cfg := Config{
		ConwayAPIKey:    "sk-1234567890abcdef",
		OpenAIAPIKey:    "sk-openai0987654321",
		AnthropicAPIKey: "sk-anthropic1122334455",
	}
	s := cfg.String()
	for _, raw := range []string{cfg.ConwayAPIKey, cfg.OpenAIAPIKey, cfg.AnthropicAPIKey} {
		if contains(s, raw) {
			t.Fatalf("masked string leaked raw key %q: %s", raw, s)
		}
	}
	for _, suffix := range []string{"cdef", "4321", "4455"} {
		if !contains(s, suffix) {
			t.Fatalf("expected masked suffix %q present: %s", suffix, s)
		}
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
