package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/tools"
)

// mockCall captures one gateway call.
type mockCall struct {
	System   string
	Messages []llm.Message
	Tools    []string
}

// mockGateway replays scripted responses. Once the script runs out the
// last response repeats.
type mockGateway struct {
	mu        sync.Mutex
	responses []*llm.Response
	err       error
	calls     []mockCall
}

func (m *mockGateway) SendMessage(_ context.Context, system string, history []llm.Message, defs []llm.ToolDefinition, _ int, _ bool) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	m.calls = append(m.calls, mockCall{System: system, Messages: llm.CloneHistory(history), Tools: names})

	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return textResponse("ok"), nil
	}
	i := min(len(m.calls)-1, len(m.responses)-1)
	return m.responses[i], nil
}

func (m *mockGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func textResponse(text string) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopEndTurn,
		Content:    []llm.ContentBlock{llm.TextBlock(text)},
		Usage:      llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolResponse(text string, calls ...llm.ContentBlock) *llm.Response {
	var content []llm.ContentBlock
	if text != "" {
		content = append(content, llm.TextBlock(text))
	}
	return &llm.Response{
		StopReason: llm.StopToolUse,
		Content:    append(content, calls...),
		Usage:      llm.Usage{InputTokens: 20, OutputTokens: 8},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingFuture never settles on its own.
type blockingFuture struct{ id string }

func (f blockingFuture) ID() string { return f.id }

func (f blockingFuture) Wait(ctx context.Context) (any, error) {
	<-ctx.Done()
	return nil, apperr.Wrap(apperr.KindTimeout, ctx.Err(), "waiting for %s", f.id)
}

// readyFuture settles immediately.
type readyFuture struct {
	id  string
	val any
	err error
}

func (f readyFuture) ID() string                        { return f.id }
func (f readyFuture) Wait(context.Context) (any, error) { return f.val, f.err }

func testRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.RegisterAll([]*tools.Tool{
		{
			Name:        "echo",
			Description: "echo text",
			InputSchema: tools.Object(map[string]any{"text": tools.StringProp("text")}, "text"),
			Handler: func(_ context.Context, args map[string]any) (tools.Outcome, error) {
				return tools.Value("echo: " + tools.StringArg(args, "text")), nil
			},
		},
		{
			Name: "fail",
			Handler: func(context.Context, map[string]any) (tools.Outcome, error) {
				return nil, errors.New("boom")
			},
		},
		{
			Name: "slow_edit",
			Handler: func(context.Context, map[string]any) (tools.Outcome, error) {
				return tools.Deferred{
					Command: map[string]any{"command": "editor_action", "action": "update_block", "requestId": "req-1"},
					Future:  blockingFuture{id: "req-1"},
				}, nil
			},
		},
		{
			Name: "quick_edit",
			Handler: func(context.Context, map[string]any) (tools.Outcome, error) {
				return tools.Deferred{
					Command: map[string]any{"command": "editor_action", "action": "save_post", "requestId": "req-2"},
					Future:  readyFuture{id: "req-2", val: map[string]any{"success": true, "data": "saved"}},
				}, nil
			},
		},
	})
	return reg
}
