// Package registry implements the model registry and its per-provider
// discoverers, on top of internal/store's model_registry table. Discovery
// upserts rows while preserving human-edited fields, then tombstones rows
// no longer advertised by a provider.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/cat9999aaa/moneyclaw/internal/metrics"
	"github.com/cat9999aaa/moneyclaw/internal/store"
)

// Registry wraps the store's model_registry operations with discovery.
type Registry struct {
	store *store.Store
	log   logr.Logger
}

// New creates a Registry over an opened store.
func New(s *store.Store, log logr.Logger) *Registry {
	return &Registry{store: s, log: log}
}

// Discoverer harvests a provider's model list.
type Discoverer interface {
	Discover(ctx context.Context) ([]DiscoveredModel, error)
	Provider() store.ProviderName
}

// DiscoveredModel is one model ID surfaced by a discoverer, with the
// provider-reported defaults used only when the row is new.
type DiscoveredModel struct {
	ModelID        string
	DisplayName    string
	ContextWindow  int64
	SupportsVision bool
	ParamStyle     store.ParamStyle
}

const discoveryTimeout = 10 * time.Second

// RunDiscovery runs d, upserts each discovered model (preserving
// human-edited fields on existing rows), and tombstones rows of the same
// provider not seen this pass. Discovery failures are soft: logged, and the
// previously cached catalogue remains authoritative.
func (r *Registry) RunDiscovery(ctx context.Context, d Discoverer) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	models, err := d.Discover(ctx)
	if err != nil {
		r.log.Info("discovery pass failed, keeping cached catalogue", "provider", d.Provider(), "error", err.Error())
		metrics.RecordDiscoveryPass(string(d.Provider()), "failed")
		return
	}

	seen := make([]string, 0, len(models))
	for _, m := range models {
		if err := r.upsertPreservingEdits(m, d.Provider()); err != nil {
			r.log.Info("discovery upsert failed", "provider", d.Provider(), "model", m.ModelID, "error", err.Error())
			continue
		}
		seen = append(seen, m.ModelID)
	}

	disabled, err := r.store.TombstoneMissing(d.Provider(), seen)
	if err != nil {
		r.log.Info("tombstoning failed", "provider", d.Provider(), "error", err.Error())
		metrics.RecordDiscoveryPass(string(d.Provider()), "failed")
		return
	}
	r.log.Info("discovery pass complete", "provider", d.Provider(), "seen", len(seen), "tombstoned", disabled)
	metrics.RecordDiscoveryPass(string(d.Provider()), "success")
}

func (r *Registry) upsertPreservingEdits(m DiscoveredModel, provider store.ProviderName) error {
	row := store.ModelRegistryRow{
		ModelID:         m.ModelID,
		Provider:        provider,
		DisplayName:     m.DisplayName,
		TierMinimum:     store.TierNormal,
		MaxOutputTokens: 4096,
		ContextWindow:   defaultContextWindow(provider, m.ContextWindow),
		SupportsTools:   true,
		SupportsVision:  m.SupportsVision,
		ParamStyle:      m.ParamStyle,
		Enabled:         true,
	}

	existing, err := r.store.GetModelRegistryRow(m.ModelID)
	if err == nil {
		row.DisplayName = existing.DisplayName
		row.TierMinimum = existing.TierMinimum
		row.InputCostPer1K = existing.InputCostPer1K
		row.OutputCostPer1K = existing.OutputCostPer1K
		row.MaxOutputTokens = existing.MaxOutputTokens
		row.ContextWindow = existing.ContextWindow
		row.SupportsTools = existing.SupportsTools
		row.SupportsVision = existing.SupportsVision
		row.ParamStyle = existing.ParamStyle
		row.Enabled = existing.Enabled
		row.CreatedAt = existing.CreatedAt
	} else if !store.IsNotFound(err) {
		return err
	}

	return r.store.UpsertModelRegistryRow(row)
}

func defaultContextWindow(provider store.ProviderName, reported int64) int64 {
	if reported > 0 {
		return reported
	}
	if provider == store.ProviderAnthropic {
		return 200_000
	}
	return 128_000
}

// --- OpenAI-compatible discoverer ---

var (
	chatModelPattern    = regexp.MustCompile(`^(gpt-|o[13][-.]|o[13]$|chatgpt-)`)
	excludedModelPrefix = regexp.MustCompile(`^(dall-e|whisper|tts|text-embedding|ft:|babbage|davinci|curie|ada)`)
	visionModelPattern  = regexp.MustCompile(`(?i)(vision|gpt-4o|gpt-5|claude-3|claude-sonnet|claude-opus)`)
)

// OpenAICompatibleDiscoverer lists models from any OpenAI-compatible
// /v1/models endpoint. When baseURL's host is stock OpenAI, only chat
// models are kept.
type OpenAICompatibleDiscoverer struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func (d *OpenAICompatibleDiscoverer) Provider() store.ProviderName { return store.ProviderOpenAI }

func (d *OpenAICompatibleDiscoverer) Discover(ctx context.Context) ([]DiscoveredModel, error) {
	client := d.httpClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(d.BaseURL, "/")+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	isStockOpenAI := isStockOpenAIHost(d.BaseURL)

	var out []DiscoveredModel
	for _, item := range parsed.Data {
		if isStockOpenAI {
			if !chatModelPattern.MatchString(item.ID) || excludedModelPrefix.MatchString(item.ID) {
				continue
			}
		}
		out = append(out, DiscoveredModel{
			ModelID:        item.ID,
			DisplayName:    item.ID,
			SupportsVision: visionModelPattern.MatchString(item.ID),
			ParamStyle:     store.ParamStyleMaxTokens,
		})
	}
	return out, nil
}

func (d *OpenAICompatibleDiscoverer) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: discoveryTimeout}
}

func isStockOpenAIHost(baseURL string) bool {
	return strings.Contains(baseURL, "api.openai.com") || baseURL == ""
}

// --- Anthropic-compatible discoverer ---

const anthropicMaxPages = 5
const anthropicPageSize = 100

// AnthropicCompatibleDiscoverer lists models from Anthropic's cursor-paginated
// /v1/models endpoint, fetching up to anthropicMaxPages pages.
type AnthropicCompatibleDiscoverer struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func (d *AnthropicCompatibleDiscoverer) Provider() store.ProviderName { return store.ProviderAnthropic }

func (d *AnthropicCompatibleDiscoverer) Discover(ctx context.Context) ([]DiscoveredModel, error) {
	client := d.httpClient()
	var out []DiscoveredModel
	afterID := ""

	for page := 0; page < anthropicMaxPages; page++ {
		url := fmt.Sprintf("%s/v1/models?limit=%d", strings.TrimRight(d.BaseURL, "/"), anthropicPageSize)
		if afterID != "" {
			url += "&after_id=" + afterID
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-api-key", d.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("list models: status %d: %s", resp.StatusCode, string(body))
		}

		var parsed struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
			HasMore bool   `json:"has_more"`
			LastID  string `json:"last_id"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, err
		}

		for _, item := range parsed.Data {
			out = append(out, DiscoveredModel{
				ModelID:        item.ID,
				DisplayName:    item.ID,
				SupportsVision: visionModelPattern.MatchString(item.ID),
				ParamStyle:     store.ParamStyleMaxTokens,
			})
		}

		if !parsed.HasMore || parsed.LastID == "" {
			break
		}
		afterID = parsed.LastID
	}

	return out, nil
}

func (d *AnthropicCompatibleDiscoverer) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: discoveryTimeout}
}

// --- Ollama discoverer ---

// OllamaDiscoverer lists locally pulled models via /api/tags. No auth.
type OllamaDiscoverer struct {
	BaseURL    string
	HTTPClient *http.Client
}

func (d *OllamaDiscoverer) Provider() store.ProviderName { return store.ProviderOllama }

func (d *OllamaDiscoverer) Discover(ctx context.Context) ([]DiscoveredModel, error) {
	client := d.httpClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(d.BaseURL, "/")+"/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tags: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}

	out := make([]DiscoveredModel, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		out = append(out, DiscoveredModel{ModelID: m.Name, DisplayName: m.Name, ParamStyle: store.ParamStyleMaxTokens})
	}
	return out, nil
}

func (d *OllamaDiscoverer) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return &http.Client{Timeout: discoveryTimeout}
}
