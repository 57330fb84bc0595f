package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cat9999aaa/moneyclaw/internal/errs"
)

const ollamaDefaultEndpoint = "http://localhost:11434"

// OllamaProvider calls a local Ollama instance's /api/chat endpoint. Local
// Ollama requires no auth, per spec.
type OllamaProvider struct {
	endpoint   string
	client     *http.Client
	maxRetries int
}

// NewOllamaProvider creates an Ollama provider.
func NewOllamaProvider(cfg ProviderConfig) (*OllamaProvider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = ollamaDefaultEndpoint
	}
	return &OllamaProvider{
		endpoint:   endpoint,
		client:     httpClientFor(cfg),
		maxRetries: retriesFor(cfg),
	}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               bool  `json:"done"`
	PromptEvalCount     int64 `json:"prompt_eval_count"`
	EvalCount           int64 `json:"eval_count"`
}

func (p *OllamaProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	apiReq := ollamaChatRequest{Model: req.Model, Stream: false}
	if req.SystemPrompt != "" {
		apiReq.Messages = append(apiReq.Messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, ollamaMessage{Role: msg.Role, Content: msg.Content})
	}

	body, err := marshalOrErr(apiReq)
	if err != nil {
		return nil, err
	}

	respBody, status, err := httpCall(ctx, p.client, p.maxRetries, func() (*http.Request, error) {
		return newJSONRequest(ctx, http.MethodPost, p.endpoint+"/api/chat", body, nil, nil)
	})
	if err != nil {
		return nil, classifyStatus(status, err)
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, fmt.Errorf("status %d: %s", status, string(respBody)))
	}

	var apiResp ollamaChatResponse
	if jsonErr := json.Unmarshal(respBody, &apiResp); jsonErr != nil {
		return nil, errs.New(errs.KindProtocol, "unmarshal response", jsonErr)
	}

	return &CompletionResponse{
		Content:    apiResp.Message.Content,
		StopReason: "end_turn",
		Usage: UsageInfo{
			InputTokens:  apiResp.PromptEvalCount,
			OutputTokens: apiResp.EvalCount,
		},
	}, nil
}
