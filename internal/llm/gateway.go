package llm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nugget/blockwright/internal/apperr"
)

// Gateway is the single point through which the agent talks to the
// model. It never retries; retry is a caller decision.
type Gateway struct {
	provider       Provider
	model          string
	thinkingBudget int
	logger         *slog.Logger

	mu    sync.Mutex
	usage Usage
	calls int
}

// NewGateway creates a gateway over provider. thinkingBudget is the
// token budget used when a call asks for extended thinking.
func NewGateway(provider Provider, model string, thinkingBudget int, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		provider:       provider,
		model:          model,
		thinkingBudget: thinkingBudget,
		logger:         logger.With("component", "gateway"),
	}
}

// SendMessage sends the full history and returns the model's reply.
// Provider and transport failures are reported as external_service
// errors carrying the provider's message.
func (g *Gateway) SendMessage(ctx context.Context, system string, history []Message, tools []ToolDefinition, maxTokens int, extendedThinking bool) (*Response, error) {
	req := &Request{
		Model:     g.model,
		System:    system,
		Messages:  history,
		Tools:     tools,
		MaxTokens: maxTokens,
	}
	if extendedThinking {
		req.ThinkingBudget = g.thinkingBudget
		if req.ThinkingBudget <= 0 {
			req.ThinkingBudget = 2048
		}
	}

	resp, err := g.provider.CreateMessage(ctx, req)
	if err != nil {
		g.logger.Warn("model call failed", "model", g.model, "error", err)
		return nil, apperr.External("anthropic", err)
	}
	if resp.StopReason == "" {
		resp.StopReason = StopEndTurn
	}

	g.mu.Lock()
	g.usage.Add(resp.Usage)
	g.calls++
	g.mu.Unlock()

	return resp, nil
}

// Usage returns the tokens consumed across every call so far.
func (g *Gateway) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage
}

// Calls returns the number of successful model calls.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// Model returns the configured model name.
func (g *Gateway) Model() string {
	return g.model
}

// Ping checks the provider.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.provider.Ping(ctx); err != nil {
		return apperr.External("anthropic", err)
	}
	return nil
}
