package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/tools"
)

func testLoopConfig(gw ModelGateway) LoopConfig {
	return LoopConfig{
		Gateway:        gw,
		Registry:       testRegistry(),
		System:         "system",
		CommandTimeout: 50 * time.Millisecond,
		Logger:         discardLogger(),
	}
}

func userTurn(text string) []llm.Message {
	return []llm.Message{llm.UserText(text)}
}

func TestRunLoop_TerminalText(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{textResponse("Hello!")}}

	res, err := RunLoop(t.Context(), testLoopConfig(gw), userTurn("hi"))
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if res.Response != "Hello!" || res.Iterations != 1 || res.Truncated {
		t.Errorf("result = %+v", res)
	}
	if len(res.History) != 2 || res.History[1].Role != llm.RoleAssistant {
		t.Errorf("history = %+v", res.History)
	}
	if res.StopReason != llm.StopEndTurn {
		t.Errorf("StopReason = %q", res.StopReason)
	}
}

func TestRunLoop_ToolResultsPairedInOneMessage(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{
		toolResponse("Working on it.",
			llm.ToolUseBlock("call-1", "echo", map[string]any{"text": "a"}),
			llm.ToolUseBlock("call-2", "missing_tool", map[string]any{}),
			llm.ToolUseBlock("call-3", "fail", map[string]any{}),
		),
		textResponse("Done."),
	}}

	res, err := RunLoop(t.Context(), testLoopConfig(gw), userTurn("go"))
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if gw.callCount() != 2 {
		t.Fatalf("gateway calls = %d, want 2", gw.callCount())
	}

	second := gw.calls[1].Messages
	if len(second) != 3 {
		t.Fatalf("second call history len = %d, want 3", len(second))
	}
	if second[1].Role != llm.RoleAssistant || len(second[1].Blocks) != 4 {
		t.Errorf("assistant content not preserved: %+v", second[1])
	}

	results := second[2]
	if results.Role != llm.RoleUser || len(results.Blocks) != 3 {
		t.Fatalf("tool results message = %+v", results)
	}
	wantIDs := []string{"call-1", "call-2", "call-3"}
	wantErr := []bool{false, true, true}
	for i, b := range results.Blocks {
		if b.Type != llm.BlockToolResult || b.ToolUseID != wantIDs[i] || b.IsError != wantErr[i] {
			t.Errorf("block %d = %+v", i, b)
		}
	}
	if results.Blocks[0].Content != "echo: a" {
		t.Errorf("echo result = %q", results.Blocks[0].Content)
	}
	if !strings.Contains(results.Blocks[1].Content, "not available") {
		t.Errorf("unknown tool result = %q", results.Blocks[1].Content)
	}
	if !strings.Contains(results.Blocks[2].Content, "boom") {
		t.Errorf("failing tool result = %q", results.Blocks[2].Content)
	}

	if got := strings.Join(res.ToolsExecuted, ","); got != "echo,missing_tool,fail" {
		t.Errorf("ToolsExecuted = %s", got)
	}
	if res.Usage.InputTokens != 30 || res.Usage.OutputTokens != 13 {
		t.Errorf("Usage = %+v", res.Usage)
	}
}

func TestRunLoop_MissingRequiredArgumentContained(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{
		toolResponse("", llm.ToolUseBlock("call-1", "echo", map[string]any{})),
		textResponse("ok"),
	}}
	if _, err := RunLoop(t.Context(), testLoopConfig(gw), userTurn("go")); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	b := gw.calls[1].Messages[2].Blocks[0]
	if !b.IsError || !strings.Contains(b.Content, "text") {
		t.Errorf("result = %+v", b)
	}
}

func TestRunLoop_HandlerPanicContained(t *testing.T) {
	reg := testRegistry()
	reg.Register(&tools.Tool{
		Name: "crash",
		Handler: func(context.Context, map[string]any) (tools.Outcome, error) {
			var m map[string]any
			m["x"] = 1
			return nil, nil
		},
	})
	gw := &mockGateway{responses: []*llm.Response{
		toolResponse("",
			llm.ToolUseBlock("call-1", "crash", map[string]any{}),
			llm.ToolUseBlock("call-2", "echo", map[string]any{"text": "still here"}),
		),
		textResponse("recovered"),
	}}
	cfg := testLoopConfig(gw)
	cfg.Registry = reg

	res, err := RunLoop(t.Context(), cfg, userTurn("go"))
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if res.Response != "recovered" {
		t.Errorf("Response = %q", res.Response)
	}

	blocks := gw.calls[1].Messages[2].Blocks
	if len(blocks) != 2 {
		t.Fatalf("tool results = %+v", blocks)
	}
	if b := blocks[0]; b.ToolUseID != "call-1" || !b.IsError || !strings.Contains(b.Content, "crash panicked") {
		t.Errorf("panicking tool result = %+v", b)
	}
	if b := blocks[1]; b.ToolUseID != "call-2" || b.IsError || b.Content != "echo: still here" {
		t.Errorf("following tool result = %+v", b)
	}
}

func TestRunLoop_IterationCeiling(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{
		toolResponse("still going", llm.ToolUseBlock("call-x", "echo", map[string]any{"text": "again"})),
	}}
	cfg := testLoopConfig(gw)
	cfg.MaxIterations = 3

	res, err := RunLoop(t.Context(), cfg, userTurn("loop forever"))
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if gw.callCount() != 3 {
		t.Errorf("gateway calls = %d, want exactly 3", gw.callCount())
	}
	if !res.Truncated || res.Iterations != 3 {
		t.Errorf("Truncated = %v, Iterations = %d", res.Truncated, res.Iterations)
	}
	if res.Response != "still going" {
		t.Errorf("Response = %q, want last response text", res.Response)
	}
	last := res.History[len(res.History)-1]
	if last.Role != llm.RoleUser || last.Blocks[0].Type != llm.BlockToolResult {
		t.Errorf("history should end with the last tool results, got %+v", last)
	}
}

func TestRunLoop_DefaultCeiling(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{
		toolResponse("", llm.ToolUseBlock("c", "echo", map[string]any{"text": "x"})),
	}}
	cfg := testLoopConfig(gw)
	cfg.MaxIterations = 0

	if _, err := RunLoop(t.Context(), cfg, userTurn("go")); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if gw.callCount() != DefaultMaxIterations {
		t.Errorf("gateway calls = %d, want %d", gw.callCount(), DefaultMaxIterations)
	}
}

func TestRunLoop_DeferredTimeoutFallback(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{
		toolResponse("", llm.ToolUseBlock("call-1", "slow_edit", map[string]any{})),
		textResponse("The editor did not answer."),
	}}

	var (
		mu   sync.Mutex
		sent []map[string]any
	)
	ctx := tools.WithCommandSink(t.Context(), func(cmd map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, cmd)
	})

	start := time.Now()
	if _, err := RunLoop(ctx, testLoopConfig(gw), userTurn("edit")); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("wait not bounded: %v", elapsed)
	}

	if len(sent) != 1 || sent[0]["requestId"] != "req-1" {
		t.Errorf("sink received %v", sent)
	}

	b := gw.calls[1].Messages[2].Blocks[0]
	if !b.IsError {
		t.Error("timed out command should be an error result")
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(b.Content), &payload); err != nil {
		t.Fatalf("fallback not JSON: %q", b.Content)
	}
	if payload["success"] != false || payload["timed_out"] != true {
		t.Errorf("payload = %v", payload)
	}
	if payload["action"] != "update_block" || payload["requestId"] != "req-1" {
		t.Errorf("command fields lost: %v", payload)
	}
	if payload["error"] == "" || payload["error"] == nil {
		t.Error("error message missing")
	}
}

func TestRunLoop_DeferredResolved(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{
		toolResponse("", llm.ToolUseBlock("call-1", "quick_edit", map[string]any{})),
		textResponse("Saved."),
	}}
	var commands int
	cfg := testLoopConfig(gw)
	cfg.Callbacks = &Callbacks{OnCommand: func(map[string]any) { commands++ }}

	if _, err := RunLoop(t.Context(), cfg, userTurn("save")); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if commands != 1 {
		t.Errorf("OnCommand calls = %d, want 1", commands)
	}
	b := gw.calls[1].Messages[2].Blocks[0]
	if b.IsError || !strings.Contains(b.Content, `"saved"`) {
		t.Errorf("result = %+v", b)
	}
}

func TestRunLoop_GatewayErrorIsFatal(t *testing.T) {
	gw := &mockGateway{err: apperr.External("anthropic", errors.New("overloaded"))}
	_, err := RunLoop(t.Context(), testLoopConfig(gw), userTurn("hi"))
	if apperr.KindOf(err) != apperr.KindExternalService {
		t.Errorf("err = %v, want external_service", err)
	}
}

func TestRunLoop_DoesNotMutateInput(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{textResponse("hi")}}
	history := make([]llm.Message, 1, 10)
	history[0] = llm.UserText("hello")

	if _, err := RunLoop(t.Context(), testLoopConfig(gw), history); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if len(history) != 1 || history[:2][1].Role != "" {
		t.Error("caller's history was modified")
	}
}

func TestRunLoop_Callbacks(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{
		toolResponse("", llm.ToolUseBlock("c1", "echo", map[string]any{"text": "x"})),
		textResponse("done"),
	}}
	var events []string
	cfg := testLoopConfig(gw)
	cfg.Callbacks = &Callbacks{
		OnIterationStart: func(int, int) { events = append(events, "iter") },
		OnToolCall:       func(name string, _ map[string]any) { events = append(events, "call:"+name) },
		OnToolResult: func(name string, ok bool, summary string) {
			if !ok || summary != "echo: x" {
				t.Errorf("result callback = %v %q", ok, summary)
			}
			events = append(events, "result:"+name)
		},
	}

	if _, err := RunLoop(t.Context(), cfg, userTurn("go")); err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	if got := strings.Join(events, " "); got != "iter call:echo result:echo iter" {
		t.Errorf("events = %s", got)
	}
}

func TestRunLoop_MaxTokensDropsDanglingToolUse(t *testing.T) {
	gw := &mockGateway{responses: []*llm.Response{{
		StopReason: llm.StopMaxTokens,
		Content: []llm.ContentBlock{
			llm.TextBlock("partial"),
			llm.ToolUseBlock("c1", "echo", map[string]any{}),
		},
	}}}
	res, err := RunLoop(t.Context(), testLoopConfig(gw), userTurn("go"))
	if err != nil {
		t.Fatalf("RunLoop: %v", err)
	}
	last := res.History[len(res.History)-1]
	if len(last.Blocks) != 1 || last.Blocks[0].Type != llm.BlockText {
		t.Errorf("last message = %+v", last)
	}
}

func TestSummarize(t *testing.T) {
	long := strings.Repeat("é", 250)
	got := summarize(long)
	if len([]rune(got)) != resultSummaryLen+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("summarize length = %d", len([]rune(got)))
	}
	if summarize("short") != "short" {
		t.Error("short strings should pass through")
	}
}
