// Package provider defines the LLM provider capability and its concrete
// implementations (OpenAI-compatible, Anthropic-compatible, Ollama). Each
// provider translates between the router's chat contract and one provider
// family's wire protocol. Implementations take an injectable *http.Client so
// tests can script responses without a real network call.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/cat9999aaa/moneyclaw/internal/errs"
)

// Provider is the capability the inference router dispatches requests to.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider identifier ("openai", "anthropic", "ollama").
	Name() string
}

// ParamStyle selects which field name a provider expects for the maximum
// output token budget.
type ParamStyle string

const (
	ParamStyleMaxTokens           ParamStyle = "max_tokens"
	ParamStyleMaxCompletionTokens ParamStyle = "max_completion_tokens"
)

// CompletionRequest is the input to an LLM completion call.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Model        string
	MaxTokens    int32
	ParamStyle   ParamStyle
}

// Message represents a single message in the conversation.
type Message struct {
	Role        string // "user", "assistant", or "tool"
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolCall represents the LLM requesting execution of a tool.
type ToolCall struct {
	ID      string
	Name    string
	Args    map[string]interface{}
	RawArgs string
}

// ToolResult represents the result of executing a tool.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// ToolDefinition describes a tool the LLM may call.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// CompletionResponse is the output of an LLM completion call.
type CompletionResponse struct {
	Content    string
	ToolCalls  []ToolCall
	Usage      UsageInfo
	StopReason string
}

// HasToolCalls returns true if the response contains tool call requests.
func (r *CompletionResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// UsageInfo reports token consumption for a single completion call.
type UsageInfo struct {
	InputTokens  int64
	OutputTokens int64
}

// TotalTokens returns input + output.
func (u UsageInfo) TotalTokens() int64 { return u.InputTokens + u.OutputTokens }

// ProviderConfig holds configuration for creating a provider.
type ProviderConfig struct {
	Type           string // "openai", "anthropic", "ollama"
	Endpoint       string
	APIKey         string
	CustomHeaders  map[string]string
	MaxRetries     int
	TimeoutSeconds int
	HTTPClient     *http.Client // injectable capability; nil builds a default client
}

// NewProvider creates a provider from config.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "anthropic":
		return NewAnthropicProvider(cfg)
	case "openai", "conway":
		return NewOpenAIProvider(cfg)
	case "ollama":
		return NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider type: %q", cfg.Type)
	}
}

func httpClientFor(cfg ProviderConfig) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	return &http.Client{Timeout: time.Duration(timeout) * time.Second}
}

func retriesFor(cfg ProviderConfig) int {
	if cfg.MaxRetries > 0 {
		return cfg.MaxRetries
	}
	return 3
}

// httpCall is the shared retry/backoff/timeout policy used by every
// provider's doWithRetry: transient errors (network failure, 429, 5xx) are
// retried with jittered exponential backoff; anything else returns
// immediately with a classified error.
func httpCall(ctx context.Context, client *http.Client, maxRetries int, buildRequest func() (*http.Request, error)) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := jitteredBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := buildRequest()
		if err != nil {
			return nil, 0, errs.New(errs.KindValidation, "build request", err)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			lastErr = errs.New(errs.KindTransient, "http do", err)
			if attempt < maxRetries {
				continue
			}
			return nil, 0, lastErr
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, resp.StatusCode, errs.New(errs.KindTransient, "read response", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = errs.New(errs.KindTransient, "http status", fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
			if attempt < maxRetries {
				continue
			}
			return body, resp.StatusCode, lastErr
		}

		return body, resp.StatusCode, nil
	}
	return nil, 0, lastErr
}

func jitteredBackoff(attempt int) time.Duration {
	base := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	jitter := time.Duration(rand.Int63n(int64(base) / 2 + 1))
	return base + jitter
}

func marshalOrErr(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "marshal request", err)
	}
	return b, nil
}

func newJSONRequest(ctx context.Context, method, url string, body []byte, headers map[string]string, extra map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}
	return req, nil
}
