package llm

import (
	"context"
	"fmt"
)

// Provider is a model backend.
type Provider interface {
	// CreateMessage sends one request and returns the complete reply.
	CreateMessage(ctx context.Context, req *Request) (*Response, error)

	// Ping checks that the provider is reachable and credentials work.
	Ping(ctx context.Context) error
}

// Request is a single provider call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int

	// ThinkingBudget enables extended thinking with the given token
	// budget when positive.
	ThinkingBudget int
}

// APIError is a non-2xx reply from a provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Type, e.Message)
}
