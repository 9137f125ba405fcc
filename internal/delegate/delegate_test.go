package delegate

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/tools"
	"github.com/nugget/blockwright/internal/usage"
)

// scriptedGateway replays responses and records the tool names and
// system prompt of each call.
type scriptedGateway struct {
	mu        sync.Mutex
	responses []*llm.Response
	systems   []string
	offered   [][]string
}

func (g *scriptedGateway) SendMessage(_ context.Context, system string, _ []llm.Message, defs []llm.ToolDefinition, _ int, _ bool) (*llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	g.systems = append(g.systems, system)
	g.offered = append(g.offered, names)
	i := min(len(g.offered)-1, len(g.responses)-1)
	return g.responses[i], nil
}

func endTurn(text string) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopEndTurn,
		Content:    []llm.ContentBlock{llm.TextBlock(text)},
		Usage:      llm.Usage{InputTokens: 12, OutputTokens: 4},
	}
}

func callTool(id, name string, input map[string]any) *llm.Response {
	return &llm.Response{
		StopReason: llm.StopToolUse,
		Content:    []llm.ContentBlock{llm.ToolUseBlock(id, name, input)},
		Usage:      llm.Usage{InputTokens: 20, OutputTokens: 6},
	}
}

type settled struct{ id string }

func (s settled) ID() string                        { return s.id }
func (s settled) Wait(context.Context) (any, error) { return map[string]any{"success": true}, nil }

func parentRegistry() *tools.Registry {
	value := func(v string) tools.Handler {
		return func(context.Context, map[string]any) (tools.Outcome, error) { return tools.Value(v), nil }
	}
	reg := tools.NewRegistry()
	reg.RegisterAll([]*tools.Tool{
		{Name: "get_page", Handler: value("page")},
		{Name: "update_page", Handler: value("updated")},
		{Name: "get_theme_styles", Handler: value("styles")},
		{Name: "update_theme_styles", Handler: value("styled")},
		{Name: "unrelated", Handler: value("nope")},
		{
			Name: "insert_block",
			Handler: func(context.Context, map[string]any) (tools.Outcome, error) {
				return tools.Deferred{
					Command: map[string]any{"command": "editor_action", "action": "insert_block", "requestId": "r1"},
					Future:  settled{id: "r1"},
				}, nil
			},
		},
		{Name: ToolName, Handler: value("recursion")},
	})
	return reg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecute_OffersOnlyRoleTools(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.Response{endTurn("styles adjusted")}}
	exec := NewExecutor(discardLogger(), gw, parentRegistry())

	res, err := exec.Execute(t.Context(), RoleStyleDesigner, "make headings blue", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || res.Message != "styles adjusted" {
		t.Errorf("result = %+v", res)
	}

	offered := gw.offered[0]
	slices.Sort(offered)
	want := []string{"get_theme_styles", "update_theme_styles"}
	if !slices.Equal(offered, want) {
		t.Errorf("offered = %v, want %v", offered, want)
	}
	if !strings.Contains(gw.systems[0], RoleStyleDesigner) {
		t.Errorf("system prompt does not name the role")
	}
}

func TestExecute_NeverOffersDelegation(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.Response{endTurn("done")}}
	exec := NewExecutor(discardLogger(), gw, parentRegistry())
	exec.roles["sneaky"] = &Role{Name: "sneaky", AllowedTools: []string{"get_page", ToolName}}

	if _, err := exec.Execute(t.Context(), "sneaky", "task", ""); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if slices.Contains(gw.offered[0], ToolName) {
		t.Errorf("delegation tool offered to sub-agent: %v", gw.offered[0])
	}
}

func TestExecute_UnknownRole(t *testing.T) {
	exec := NewExecutor(discardLogger(), &scriptedGateway{}, parentRegistry())
	_, err := exec.Execute(t.Context(), "poet", "write", "")
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestExecute_Exhausted(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.Response{
		callTool("c1", "get_page", map[string]any{}),
	}}
	exec := NewExecutor(discardLogger(), gw, parentRegistry())
	exec.SetMaxIterations(3)

	res, err := exec.Execute(t.Context(), RoleContentWriter, "rewrite", "page 7")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success || !res.Exhausted {
		t.Errorf("result = %+v, want exhausted failure", res)
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if len(gw.offered) != 3 {
		t.Errorf("gateway calls = %d, want 3", len(gw.offered))
	}
}

func TestExecute_ForwardsCommandsToSink(t *testing.T) {
	gw := &scriptedGateway{responses: []*llm.Response{
		callTool("c1", "insert_block", map[string]any{"block_name": "core/paragraph"}),
		endTurn("inserted"),
	}}
	exec := NewExecutor(discardLogger(), gw, parentRegistry())

	var got []map[string]any
	ctx := tools.WithCommandSink(t.Context(), func(cmd map[string]any) { got = append(got, cmd) })

	res, err := exec.Execute(ctx, RoleLayoutDesigner, "add a paragraph", "")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success || !slices.Equal(res.ToolsExecuted, []string{"insert_block"}) {
		t.Errorf("result = %+v", res)
	}
	if len(got) != 1 || got[0]["action"] != "insert_block" {
		t.Errorf("sink got %v", got)
	}
}

type usageSink struct{ recs []usage.Record }

func (u *usageSink) Record(_ context.Context, r usage.Record) error {
	u.recs = append(u.recs, r)
	return nil
}

func TestExecute_PersistsRecord(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "delegations.db"))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	gw := &scriptedGateway{responses: []*llm.Response{
		callTool("c1", "get_page", map[string]any{"id": 4}),
		endTurn("copy updated"),
	}}
	exec := NewExecutor(discardLogger(), gw, parentRegistry())
	exec.SetStore(store)
	exec.SetModel("test-model")
	u := &usageSink{}
	exec.SetUsageRecorder(u)

	ctx := tools.WithConversationID(t.Context(), "conv-1")
	if _, err := exec.Execute(ctx, RoleContentWriter, "tighten the intro", "page 4"); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	recs, err := store.List(t.Context(), "conv-1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Role != RoleContentWriter || rec.Context != "page 4" || !rec.Success {
		t.Errorf("record = %+v", rec)
	}
	if rec.ToolsCalled["get_page"] != 1 {
		t.Errorf("tools_called = %v", rec.ToolsCalled)
	}
	if rec.InputTokens != 32 || rec.OutputTokens != 10 {
		t.Errorf("tokens = %d/%d, want 32/10", rec.InputTokens, rec.OutputTokens)
	}

	got, err := store.Get(t.Context(), rec.ID)
	if err != nil || got.Task != "tighten the intro" {
		t.Errorf("Get = %+v, %v", got, err)
	}

	if len(u.recs) != 1 || u.recs[0].Role != usage.RoleDelegate || u.recs[0].ConversationID != "conv-1" {
		t.Errorf("usage = %+v", u.recs)
	}
}

func TestTool_Schema(t *testing.T) {
	exec := NewExecutor(discardLogger(), &scriptedGateway{}, parentRegistry())
	tool := Tool(exec)

	props := tool.InputSchema["properties"].(map[string]any)
	role := props["role"].(map[string]any)
	enum, _ := role["enum"].([]string)
	if !slices.Equal(enum, []string{RoleContentWriter, RoleLayoutDesigner, RoleStyleDesigner}) {
		t.Errorf("role enum = %v", role["enum"])
	}
}

func TestExtractToolsCalled(t *testing.T) {
	msgs := []llm.Message{
		llm.UserText("go"),
		{Role: llm.RoleAssistant, Blocks: []llm.ContentBlock{
			llm.ToolUseBlock("a", "get_page", nil),
			llm.ToolUseBlock("b", "get_page", nil),
			llm.ToolUseBlock("c", "update_page", nil),
		}},
	}
	got := ExtractToolsCalled(msgs)
	if got["get_page"] != 2 || got["update_page"] != 1 {
		t.Errorf("got %v", got)
	}
	if ExtractToolsCalled([]llm.Message{llm.UserText("x")}) != nil {
		t.Error("expected nil for no tool calls")
	}
}
