package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cat9999aaa/moneyclaw/internal/errs"
)

const (
	anthropicDefaultEndpoint = "https://api.anthropic.com"
	anthropicAPIVersion      = "2023-06-01"
)

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	endpoint   string
	apiKey     string
	headers    map[string]string
	client     *http.Client
	maxRetries int
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errs.New(errs.KindProviderConfig, "new anthropic provider", fmt.Errorf("anthropic provider requires API key"))
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = anthropicDefaultEndpoint
	}
	return &AnthropicProvider{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		headers:    cfg.CustomHeaders,
		client:     httpClientFor(cfg),
		maxRetries: retriesFor(cfg),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int32              `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	apiReq, err := p.buildRequest(req)
	if err != nil {
		return nil, errs.New(errs.KindValidation, "build request", err)
	}

	body, err := marshalOrErr(apiReq)
	if err != nil {
		return nil, err
	}

	respBody, status, err := httpCall(ctx, p.client, p.maxRetries, func() (*http.Request, error) {
		return newJSONRequest(ctx, http.MethodPost, p.endpoint+"/v1/messages", body, p.headers, map[string]string{
			"x-api-key":         p.apiKey,
			"anthropic-version": anthropicAPIVersion,
		})
	})
	if err != nil {
		return nil, classifyStatus(status, err)
	}

	var apiResp anthropicResponse
	if jsonErr := json.Unmarshal(respBody, &apiResp); jsonErr != nil {
		return nil, errs.New(errs.KindProtocol, "unmarshal response", jsonErr)
	}
	if apiResp.Error != nil {
		return nil, classifyAPIError(status, apiResp.Error.Type, apiResp.Error.Message)
	}
	if status != http.StatusOK {
		return nil, classifyStatus(status, fmt.Errorf("status %d", status))
	}

	return p.parseResponse(&apiResp), nil
}

func (p *AnthropicProvider) buildRequest(req *CompletionRequest) (*anthropicRequest, error) {
	apiReq := &anthropicRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		System:    req.SystemPrompt,
	}
	if apiReq.MaxTokens <= 0 {
		apiReq.MaxTokens = 4096
	}

	for _, msg := range req.Messages {
		am, err := toAnthropicMessage(msg)
		if err != nil {
			return nil, err
		}
		apiReq.Messages = append(apiReq.Messages, am)
	}
	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}
	return apiReq, nil
}

func toAnthropicMessage(msg Message) (anthropicMessage, error) {
	am := anthropicMessage{Role: msg.Role}

	switch msg.Role {
	case "user":
		if len(msg.ToolResults) > 0 {
			var blocks []anthropicContentBlock
			for _, tr := range msg.ToolResults {
				blocks = append(blocks, anthropicContentBlock{Type: "tool_result", ID: tr.ToolCallID, Text: tr.Content})
			}
			content, err := json.Marshal(blocks)
			if err != nil {
				return am, err
			}
			am.Content = content
		} else {
			content, _ := json.Marshal(msg.Content)
			am.Content = content
		}

	case "assistant":
		if len(msg.ToolCalls) > 0 {
			var blocks []anthropicContentBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				inputJSON, _ := json.Marshal(tc.Args)
				blocks = append(blocks, anthropicContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: inputJSON})
			}
			content, err := json.Marshal(blocks)
			if err != nil {
				return am, err
			}
			am.Content = content
		} else {
			content, _ := json.Marshal(msg.Content)
			am.Content = content
		}

	default:
		content, _ := json.Marshal(msg.Content)
		am.Content = content
	}

	return am, nil
}

func (p *AnthropicProvider) parseResponse(apiResp *anthropicResponse) *CompletionResponse {
	resp := &CompletionResponse{
		StopReason: apiResp.StopReason,
		Usage:      UsageInfo{InputTokens: apiResp.Usage.InputTokens, OutputTokens: apiResp.Usage.OutputTokens},
	}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			tc := ToolCall{ID: block.ID, Name: block.Name}
			if block.Input != nil {
				tc.RawArgs = string(block.Input)
				_ = json.Unmarshal(block.Input, &tc.Args)
			}
			resp.ToolCalls = append(resp.ToolCalls, tc)
		}
	}
	return resp
}
