package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/nugget/blockwright/internal/apperr"
)

type stubProvider struct {
	resp    *Response
	err     error
	lastReq *Request
}

func (s *stubProvider) CreateMessage(_ context.Context, req *Request) (*Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	r := *s.resp
	return &r, nil
}

func (s *stubProvider) Ping(context.Context) error { return s.err }

func TestGateway_AccumulatesUsage(t *testing.T) {
	p := &stubProvider{resp: &Response{Content: []ContentBlock{TextBlock("ok")}, Usage: Usage{InputTokens: 10, OutputTokens: 5}}}
	g := NewGateway(p, "claude-test", 1024, nil)

	for range 3 {
		resp, err := g.SendMessage(t.Context(), "sys", []Message{UserText("hi")}, nil, 512, false)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StopReason != StopEndTurn {
			t.Errorf("empty stop reason normalized to %q, want end_turn", resp.StopReason)
		}
	}

	if got := g.Usage(); got.InputTokens != 30 || got.OutputTokens != 15 {
		t.Errorf("Usage() = %+v, want 30/15", got)
	}
	if g.Calls() != 3 {
		t.Errorf("Calls() = %d, want 3", g.Calls())
	}
	if p.lastReq.ThinkingBudget != 0 {
		t.Error("thinking budget set without extended thinking")
	}
}

func TestGateway_ExtendedThinking(t *testing.T) {
	p := &stubProvider{resp: &Response{}}
	g := NewGateway(p, "claude-test", 3000, nil)
	if _, err := g.SendMessage(t.Context(), "", []Message{UserText("hi")}, nil, 512, true); err != nil {
		t.Fatal(err)
	}
	if p.lastReq.ThinkingBudget != 3000 {
		t.Errorf("ThinkingBudget = %d, want 3000", p.lastReq.ThinkingBudget)
	}
}

func TestGateway_WrapsProviderErrors(t *testing.T) {
	cause := &APIError{StatusCode: 500, Message: "internal"}
	g := NewGateway(&stubProvider{err: cause}, "claude-test", 0, nil)

	_, err := g.SendMessage(t.Context(), "", []Message{UserText("hi")}, nil, 512, false)
	if !apperr.IsKind(err, apperr.KindExternalService) {
		t.Fatalf("kind = %q, want external_service", apperr.KindOf(err))
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Error("wrapped error should preserve the provider error")
	}
	if g.Calls() != 0 {
		t.Errorf("failed call counted: Calls() = %d", g.Calls())
	}
}
