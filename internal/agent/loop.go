// Package agent runs the model/tool orchestration loop and the
// conversation-aware orchestrator built on it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"time"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/tools"
)

// Loop defaults.
const (
	DefaultMaxIterations  = 20
	DefaultMaxTokens      = 4096
	DefaultCommandTimeout = 10 * time.Second

	resultSummaryLen = 200
)

// ModelGateway is the slice of llm.Gateway the loop needs.
type ModelGateway interface {
	SendMessage(ctx context.Context, system string, history []llm.Message, tools []llm.ToolDefinition, maxTokens int, extendedThinking bool) (*llm.Response, error)
}

// Callbacks observe a running turn. Any field may be nil.
type Callbacks struct {
	OnIterationStart func(iteration, maxIterations int)
	OnToolCall       func(name string, input map[string]any)
	OnToolResult     func(name string, success bool, summary string)
	OnCommand        func(cmd map[string]any)
	OnPlan           func(plan *Plan)
	OnError          func(err error)
}

// LoopConfig parameterizes one run of the loop.
type LoopConfig struct {
	Gateway          ModelGateway
	Registry         *tools.Registry
	System           string
	MaxIterations    int
	MaxTokens        int
	ExtendedThinking bool

	// CommandTimeout bounds the wait on each deferred outcome.
	CommandTimeout time.Duration

	// Retry enables bounded retry of failed tool calls.
	Retry *RetryPolicy

	Callbacks *Callbacks
	Logger    *slog.Logger
}

// LoopResult is the outcome of a loop run.
type LoopResult struct {
	// History is the full message list: the input history followed by
	// every message the loop appended.
	History       []llm.Message
	Response      string
	Iterations    int
	Usage         llm.Usage
	StopReason    string
	Truncated     bool
	ToolsExecuted []string
}

// RunLoop drives model calls and tool dispatch until the model stops
// asking for tools or the iteration ceiling is reached. history must
// end with the user message that starts the turn; RunLoop appends to a
// copy and never mutates the caller's slice.
//
// Tool failures of any kind are reported to the model as error results.
// Only a gateway failure or a cancelled ctx aborts the run.
func RunLoop(ctx context.Context, cfg LoopConfig, history []llm.Message) (*LoopResult, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("agent: loop has no gateway")
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.NewRegistry()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Callbacks == nil {
		cfg.Callbacks = &Callbacks{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	msgs := make([]llm.Message, len(history), len(history)+2*cfg.MaxIterations)
	copy(msgs, history)
	defs := cfg.Registry.Definitions()
	res := &LoopResult{}

	var last *llm.Response
	for {
		if res.Iterations >= cfg.MaxIterations {
			res.Truncated = true
			logger.Warn("iteration ceiling reached", "max_iterations", cfg.MaxIterations)
			break
		}
		res.Iterations++
		if cb := cfg.Callbacks.OnIterationStart; cb != nil {
			cb(res.Iterations, cfg.MaxIterations)
		}

		resp, err := cfg.Gateway.SendMessage(ctx, cfg.System, msgs, defs, cfg.MaxTokens, cfg.ExtendedThinking)
		if err != nil {
			return nil, err
		}
		last = resp
		res.Usage.Add(resp.Usage)

		logger.Debug("model replied",
			"iteration", res.Iterations,
			"stop_reason", resp.StopReason,
			"input_tokens", resp.Usage.InputTokens,
			"output_tokens", resp.Usage.OutputTokens,
		)

		calls := llm.ExtractToolCalls(resp)
		if len(calls) == 0 {
			if msg, ok := terminalMessage(resp); ok {
				msgs = append(msgs, msg)
			}
			break
		}
		msgs = append(msgs, resp.AssistantMessage())

		results := make([]llm.ContentBlock, 0, len(calls))
		for _, call := range calls {
			results = append(results, runTool(ctx, cfg, logger, call))
			res.ToolsExecuted = append(res.ToolsExecuted, call.Name)
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Blocks: results})
	}

	res.History = msgs
	res.Response = llm.ExtractText(last)
	if last != nil {
		res.StopReason = last.StopReason
	}
	return res, nil
}

// runTool executes one call and returns its tool_result block. It never
// fails: every error becomes an is_error result.
func runTool(ctx context.Context, cfg LoopConfig, logger *slog.Logger, call llm.ToolCall) llm.ContentBlock {
	cb := cfg.Callbacks
	if cb.OnToolCall != nil {
		cb.OnToolCall(call.Name, call.Input)
	}

	start := time.Now()
	content, ok := executeTool(ctx, cfg, logger, call)
	logger.Info("tool executed",
		"tool", call.Name,
		"tool_use_id", call.ID,
		"success", ok,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if cb.OnToolResult != nil {
		cb.OnToolResult(call.Name, ok, summarize(content))
	}
	return llm.ToolResultBlock(call.ID, content, !ok)
}

func executeTool(ctx context.Context, cfg LoopConfig, logger *slog.Logger, call llm.ToolCall) (string, bool) {
	exec := func(ctx context.Context) (out tools.Outcome, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("tool panicked",
					"tool", call.Name,
					"tool_use_id", call.ID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				out, err = nil, fmt.Errorf("tool %s panicked: %v", call.Name, r)
			}
		}()
		return cfg.Registry.Execute(ctx, call.Name, call.Input)
	}

	var (
		out tools.Outcome
		err error
	)
	if cfg.Retry != nil {
		out, err = ExecuteWithRetry(ctx, *cfg.Retry, logger, exec)
	} else {
		out, err = exec(ctx)
	}
	if err != nil {
		logger.Warn("tool failed", "tool", call.Name, "kind", apperr.KindOf(err), "error", err)
		return toolErrorText(call.Name, err), false
	}

	switch o := out.(type) {
	case tools.Immediate:
		return tools.Render(o.Value), true
	case tools.Deferred:
		return awaitDeferred(ctx, cfg, logger, call, o)
	case nil:
		return "", true
	default:
		return fmt.Sprintf("Error: tool %s returned unsupported outcome %T", call.Name, out), false
	}
}

// awaitDeferred forwards the command to the streaming client, then waits
// for the reply. On failure the command is echoed back with the error so
// the model still sees which action and request id went unanswered.
func awaitDeferred(ctx context.Context, cfg LoopConfig, logger *slog.Logger, call llm.ToolCall, d tools.Deferred) (string, bool) {
	if sink := tools.CommandSinkFromContext(ctx); sink != nil {
		sink(maps.Clone(d.Command))
	} else if cfg.Callbacks.OnCommand != nil {
		cfg.Callbacks.OnCommand(maps.Clone(d.Command))
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.CommandTimeout)
	defer cancel()

	v, err := d.Future.Wait(waitCtx)
	if err == nil {
		return tools.Render(v), true
	}

	timedOut := apperr.IsKind(err, apperr.KindTimeout)
	logger.Warn("editor command failed",
		"tool", call.Name, "request_id", d.Future.ID(), "timed_out", timedOut, "error", err)

	fallback := maps.Clone(d.Command)
	if fallback == nil {
		fallback = map[string]any{}
	}
	fallback["success"] = false
	fallback["timed_out"] = timedOut
	fallback["error"] = err.Error()
	return tools.Render(fallback), false
}

// terminalMessage returns the assistant message for a reply that ends
// the loop. tool_use blocks are dropped since nothing will answer them.
func terminalMessage(resp *llm.Response) (llm.Message, bool) {
	msg := resp.AssistantMessage()
	blocks := msg.Blocks[:0]
	for _, b := range msg.Blocks {
		if b.Type != llm.BlockToolUse {
			blocks = append(blocks, b)
		}
	}
	msg.Blocks = blocks
	return msg, len(blocks) > 0
}

func toolErrorText(name string, err error) string {
	var unavailable *tools.ErrToolUnavailable
	if errors.As(err, &unavailable) {
		return fmt.Sprintf("Error: tool %q is not available.", name)
	}
	return "Error: " + err.Error()
}

func summarize(s string) string {
	r := []rune(s)
	if len(r) <= resultSummaryLen {
		return s
	}
	return string(r[:resultSummaryLen]) + "..."
}
