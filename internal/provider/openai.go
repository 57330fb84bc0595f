package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cat9999aaa/moneyclaw/internal/errs"
)

const openaiDefaultEndpoint = "https://api.openai.com"

// OpenAIProvider calls OpenAI-compatible chat completion APIs. Works with
// OpenAI itself, Conway, Ollama's OpenAI-compatible surface, and any other
// /v1/chat/completions-shaped backend.
type OpenAIProvider struct {
	endpoint   string
	apiKey     string
	headers    map[string]string
	client     *http.Client
	maxRetries int
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = openaiDefaultEndpoint
	}
	return &OpenAIProvider{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		headers:    cfg.CustomHeaders,
		client:     httpClientFor(cfg),
		maxRetries: retriesFor(cfg),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

type openaiRequest struct {
	Model               string          `json:"model"`
	MaxTokens           int32           `json:"max_tokens,omitempty"`
	MaxCompletionTokens int32           `json:"max_completion_tokens,omitempty"`
	Messages            []openaiMessage `json:"messages"`
	Tools               []openaiTool    `json:"tools,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openaiTool struct {
	Type     string             `json:"type"`
	Function openaiToolFunction `json:"function"`
}

type openaiToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *openaiError   `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
}

type openaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// legacyCompletionsRequest/Response model the flat-text /v1/completions
// fallback endpoint used by §4.4's one-shot protocol downgrade.
type legacyCompletionsRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int32  `json:"max_tokens,omitempty"`
}

type legacyCompletionsResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Usage openaiUsage  `json:"usage"`
	Error *openaiError `json:"error,omitempty"`
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	apiReq := p.buildRequest(req)

	body, err := marshalOrErr(apiReq)
	if err != nil {
		return nil, err
	}

	respBody, status, err := httpCall(ctx, p.client, p.maxRetries, func() (*http.Request, error) {
		return newJSONRequest(ctx, http.MethodPost, p.endpoint+"/v1/chat/completions", body, p.headers, p.authHeaders())
	})

	if status == http.StatusNotFound && isEndpointNotSupported(respBody) {
		return p.completeLegacy(ctx, req)
	}
	if err != nil {
		return nil, classifyStatus(status, err)
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, errs.New(errs.KindProtocol, "unmarshal response", err)
	}
	if apiResp.Error != nil {
		return nil, classifyAPIError(status, apiResp.Error.Type, apiResp.Error.Message)
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, fmt.Errorf("status %d", status))
	}

	return p.parseResponse(&apiResp), nil
}

// completeLegacy retries exactly once against /v1/completions with a
// flattened prompt, per §4.4's protocol-fallback rule. This is per-request,
// never sticky across calls.
func (p *OpenAIProvider) completeLegacy(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	prompt := flattenPrompt(req)
	legacyReq := legacyCompletionsRequest{
		Model:     req.Model,
		Prompt:    prompt,
		MaxTokens: req.MaxTokens,
	}
	if legacyReq.MaxTokens <= 0 {
		legacyReq.MaxTokens = 4096
	}

	body, err := marshalOrErr(legacyReq)
	if err != nil {
		return nil, err
	}

	respBody, status, err := httpCall(ctx, p.client, 0, func() (*http.Request, error) {
		return newJSONRequest(ctx, http.MethodPost, p.endpoint+"/v1/completions", body, p.headers, p.authHeaders())
	})
	if err != nil {
		return nil, classifyStatus(status, err)
	}
	if status == http.StatusNotFound {
		return nil, errs.New(errs.KindProtocol, "legacy completions", fmt.Errorf("status %d: %s", status, string(respBody)))
	}

	var legacyResp legacyCompletionsResponse
	if err := json.Unmarshal(respBody, &legacyResp); err != nil {
		return nil, errs.New(errs.KindProtocol, "unmarshal legacy response", err)
	}
	if legacyResp.Error != nil {
		return nil, classifyAPIError(status, legacyResp.Error.Type, legacyResp.Error.Message)
	}

	resp := &CompletionResponse{
		StopReason: "end_turn",
		Usage: UsageInfo{
			InputTokens:  legacyResp.Usage.PromptTokens,
			OutputTokens: legacyResp.Usage.CompletionTokens,
		},
	}
	if len(legacyResp.Choices) > 0 {
		resp.Content = legacyResp.Choices[0].Text
	}
	return resp, nil
}

func flattenPrompt(req *CompletionRequest) string {
	var b strings.Builder
	if req.SystemPrompt != "" {
		b.WriteString(req.SystemPrompt)
		b.WriteString("\n\n")
	}
	for _, msg := range req.Messages {
		b.WriteString(msg.Role)
		b.WriteString(": ")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

func isEndpointNotSupported(body []byte) bool {
	return strings.Contains(strings.ToLower(string(body)), "not supported")
}

func (p *OpenAIProvider) authHeaders() map[string]string {
	if p.apiKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + p.apiKey}
}

func (p *OpenAIProvider) buildRequest(req *CompletionRequest) *openaiRequest {
	apiReq := &openaiRequest{Model: req.Model}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	if req.ParamStyle == ParamStyleMaxCompletionTokens {
		apiReq.MaxCompletionTokens = maxTokens
	} else {
		apiReq.MaxTokens = maxTokens
	}

	if req.SystemPrompt != "" {
		apiReq.Messages = append(apiReq.Messages, openaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, msg := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, toOpenAIMessages(msg)...)
	}
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openaiTool{
			Type: "function",
			Function: openaiToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return apiReq
}

func toOpenAIMessages(msg Message) []openaiMessage {
	switch msg.Role {
	case "user":
		if len(msg.ToolResults) > 0 {
			var msgs []openaiMessage
			for _, tr := range msg.ToolResults {
				msgs = append(msgs, openaiMessage{Role: "tool", Content: tr.Content, ToolCallID: tr.ToolCallID})
			}
			return msgs
		}
		return []openaiMessage{{Role: "user", Content: msg.Content}}

	case "assistant":
		am := openaiMessage{Role: "assistant", Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Args)
			am.ToolCalls = append(am.ToolCalls, openaiToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: openaiFunction{Name: tc.Name, Arguments: string(argsJSON)},
			})
		}
		return []openaiMessage{am}

	default:
		return []openaiMessage{{Role: msg.Role, Content: msg.Content}}
	}
}

func (p *OpenAIProvider) parseResponse(apiResp *openaiResponse) *CompletionResponse {
	resp := &CompletionResponse{
		Usage: UsageInfo{InputTokens: apiResp.Usage.PromptTokens, OutputTokens: apiResp.Usage.CompletionTokens},
	}
	if len(apiResp.Choices) > 0 {
		choice := apiResp.Choices[0]
		resp.Content = choice.Message.Content
		resp.StopReason = choice.FinishReason
		for _, tc := range choice.Message.ToolCalls {
			toolCall := ToolCall{ID: tc.ID, Name: tc.Function.Name, RawArgs: tc.Function.Arguments}
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &toolCall.Args)
			resp.ToolCalls = append(resp.ToolCalls, toolCall)
		}
	}
	return resp
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(errs.KindProviderConfig, "auth failure", err)
	case status == http.StatusBadRequest:
		return errs.New(errs.KindValidation, "bad request", err)
	case status == http.StatusNotFound:
		return errs.New(errs.KindProviderConfig, "model not found", err)
	default:
		return err
	}
}

func classifyAPIError(status int, errType, message string) error {
	err := fmt.Errorf("%s: %s", errType, message)
	lower := strings.ToLower(errType + " " + message)
	switch {
	case strings.Contains(lower, "auth") || status == http.StatusUnauthorized:
		return errs.New(errs.KindProviderConfig, "auth failure", err)
	case strings.Contains(lower, "model") && strings.Contains(lower, "not found"):
		return errs.New(errs.KindProviderConfig, "model not found", err)
	default:
		return errs.New(errs.KindValidation, "provider error", err)
	}
}
