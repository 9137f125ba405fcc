package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/blockwright/internal/httpkit"
)

const (
	anthropicAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// AnthropicOption configures an AnthropicClient.
type AnthropicOption func(*AnthropicClient)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) AnthropicOption {
	return func(c *AnthropicClient) { c.baseURL = url }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) AnthropicOption {
	return func(c *AnthropicClient) { c.httpClient = hc }
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string, logger *slog.Logger, opts ...AnthropicOption) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Long prompts and extended thinking can delay response headers well
	// past the shared transport default.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 180 * time.Second

	c := &AnthropicClient{
		apiKey:  apiKey,
		baseURL: anthropicAPIURL,
		logger:  logger.With("provider", "anthropic"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []Message          `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Tools     []ToolDefinition   `json:"tools,omitempty"`
	Thinking  *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicErrorBody struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest converts a Request into the wire payload. With thinking
// enabled, max_tokens must exceed the budget.
func buildRequest(req *Request) anthropicRequest {
	out := anthropicRequest{
		Model:     req.Model,
		Messages:  req.Messages,
		System:    req.System,
		MaxTokens: req.MaxTokens,
		Tools:     req.Tools,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	if req.ThinkingBudget > 0 {
		out.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: req.ThinkingBudget}
		if out.MaxTokens <= req.ThinkingBudget {
			out.MaxTokens = req.ThinkingBudget + out.MaxTokens
		}
	}
	return out
}

// CreateMessage sends a non-streaming Messages API request.
func (c *AnthropicClient) CreateMessage(ctx context.Context, req *Request) (*Response, error) {
	payload := buildRequest(req)

	c.logger.Debug("preparing request",
		"model", payload.Model,
		"messages", len(payload.Messages),
		"tools", len(payload.Tools),
		"thinking", payload.Thinking != nil,
		"system_len", len(payload.System),
	)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	resp, err := c.post(ctx, jsonData)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.decodeError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "response payload", "json", string(body))

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("response received",
		"model", out.Model,
		"stop_reason", out.StopReason,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
		"blocks", len(out.Content),
	)
	return &out, nil
}

// Ping sends a one-token request to verify the API key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	jsonData, err := json.Marshal(anthropicRequest{
		Model:     "claude-3-5-haiku-20241022",
		Messages:  []Message{UserText("ping")},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.post(ctx, jsonData)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.decodeError(resp)
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}

func (c *AnthropicClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func (c *AnthropicClient) decodeError(resp *http.Response) error {
	raw := httpkit.ReadErrorBody(resp.Body, 4096)
	c.logger.Error("API error", "status", resp.StatusCode, "body", raw)

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: raw}
	var body anthropicErrorBody
	if err := json.Unmarshal([]byte(raw), &body); err == nil && body.Error.Message != "" {
		apiErr.Type = body.Error.Type
		apiErr.Message = body.Error.Message
	}
	return apiErr
}
