package registry

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/cat9999aaa/moneyclaw/internal/store"
)

//go:embed seeds/default.yaml
var defaultSeedCatalogue []byte

// SeedModel is one bundled default model entry in a YAML seed catalogue.
type SeedModel struct {
	ModelID         string  `yaml:"model_id"`
	Provider        string  `yaml:"provider"`
	DisplayName     string  `yaml:"display_name"`
	TierMinimum     string  `yaml:"tier_minimum"`
	InputCostPer1K  float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `yaml:"output_cost_per_1k"`
	MaxOutputTokens int64   `yaml:"max_output_tokens"`
	ContextWindow   int64   `yaml:"context_window"`
	SupportsTools   bool    `yaml:"supports_tools"`
	SupportsVision  bool    `yaml:"supports_vision"`
	ParamStyle      string  `yaml:"param_style"`
}

// ParseSeedCatalogue decodes a YAML seed-catalogue document.
func ParseSeedCatalogue(data []byte) ([]SeedModel, error) {
	var models []SeedModel
	if err := yaml.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("parse seed catalogue: %w", err)
	}
	return models, nil
}

// SeedDefaults upserts every bundled default model not already present in
// the registry, leaving existing rows (human-edited or already discovered)
// untouched. Called once at startup, before the first discovery pass has
// had a chance to populate the catalogue from a live provider.
func (r *Registry) SeedDefaults() error {
	models, err := ParseSeedCatalogue(defaultSeedCatalogue)
	if err != nil {
		return err
	}
	for _, m := range models {
		if _, err := r.store.GetModelRegistryRow(m.ModelID); err == nil {
			continue
		} else if !store.IsNotFound(err) {
			return fmt.Errorf("check seed model %s: %w", m.ModelID, err)
		}

		row := store.ModelRegistryRow{
			ModelID:         m.ModelID,
			Provider:        store.ProviderName(m.Provider),
			DisplayName:     m.DisplayName,
			TierMinimum:     store.Tier(m.TierMinimum),
			InputCostPer1K:  m.InputCostPer1K,
			OutputCostPer1K: m.OutputCostPer1K,
			MaxOutputTokens: m.MaxOutputTokens,
			ContextWindow:   m.ContextWindow,
			SupportsTools:   m.SupportsTools,
			SupportsVision:  m.SupportsVision,
			ParamStyle:      store.ParamStyle(m.ParamStyle),
			Enabled:         true,
		}
		if err := r.store.UpsertModelRegistryRow(row); err != nil {
			return fmt.Errorf("seed model %s: %w", m.ModelID, err)
		}
	}
	return nil
}
