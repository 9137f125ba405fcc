package delegate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/blockwright/internal/agent"
	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/prompts"
	"github.com/nugget/blockwright/internal/tools"
	"github.com/nugget/blockwright/internal/usage"
)

// Result is the outcome of a delegated task. It becomes the tool result
// of the delegation call.
type Result struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	ToolsExecuted []string  `json:"toolsExecuted"`
	Iterations    int       `json:"iterations"`
	Usage         llm.Usage `json:"usage"`
	Exhausted     bool      `json:"exhausted,omitempty"`
}

// Executor runs delegated tasks.
type Executor struct {
	logger         *slog.Logger
	gateway        agent.ModelGateway
	parentReg      *tools.Registry
	roles          map[string]*Role
	model          string
	maxIterations  int
	maxTokens      int
	commandTimeout time.Duration
	store          *DelegationStore
	usage          agent.UsageRecorder
}

// NewExecutor creates an executor whose sub-agents draw tools from
// parentReg.
func NewExecutor(logger *slog.Logger, gateway agent.ModelGateway, parentReg *tools.Registry) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:         logger.With("component", "delegate"),
		gateway:        gateway,
		parentReg:      parentReg,
		roles:          builtinRoles(),
		maxIterations:  DefaultMaxIterations,
		maxTokens:      agent.DefaultMaxTokens,
		commandTimeout: agent.DefaultCommandTimeout,
	}
}

// SetMaxIterations sets the ceiling for roles that do not set their own.
func (e *Executor) SetMaxIterations(n int) {
	if n > 0 {
		e.maxIterations = n
	}
}

// SetMaxTokens sets the per-call token ceiling.
func (e *Executor) SetMaxTokens(n int) {
	if n > 0 {
		e.maxTokens = n
	}
}

// SetCommandTimeout bounds the wait on deferred editor commands.
func (e *Executor) SetCommandTimeout(d time.Duration) {
	if d > 0 {
		e.commandTimeout = d
	}
}

// SetModel names the model in usage and delegation records.
func (e *Executor) SetModel(m string) { e.model = m }

// SetStore configures delegation persistence. When set, every completed
// run is recorded.
func (e *Executor) SetStore(s *DelegationStore) { e.store = s }

// SetUsageRecorder records sub-agent token usage.
func (e *Executor) SetUsageRecorder(r agent.UsageRecorder) { e.usage = r }

// RoleNames returns the registered role names, sorted.
func (e *Executor) RoleNames() []string {
	return roleNames(e.roles)
}

// Role returns a role by name, or nil.
func (e *Executor) Role(name string) *Role {
	return e.roles[name]
}

// Registry returns the tool subset a role runs with.
func (e *Executor) Registry(role *Role) *tools.Registry {
	return e.parentReg.FilteredCopy(role.AllowedTools).FilteredCopyExcluding([]string{ToolName})
}

// Execute runs task under roleName. An unknown role is a validation
// error; a gateway failure is returned. Running out of iterations is
// not an error: the result reports Success=false.
func (e *Executor) Execute(ctx context.Context, roleName, task, taskContext string) (*Result, error) {
	role := e.roles[roleName]
	if role == nil {
		return nil, apperr.Validation("unknown sub-agent role %q (available: %v)", roleName, e.RoleNames())
	}
	if task == "" {
		return nil, apperr.Validation("task is required")
	}

	ceiling := e.maxIterations
	if role.MaxIterations > 0 {
		ceiling = role.MaxIterations
	}

	id, _ := uuid.NewV7()
	delegateID := id.String()
	log := e.logger.With("delegate_id", delegateID, "role", role.Name)
	log.Info("delegate started", "task", truncate(task, 120), "max_iterations", ceiling)

	start := time.Now()
	history := []llm.Message{llm.UserText(prompts.TaskMessage(task, taskContext))}
	loopRes, err := agent.RunLoop(ctx, agent.LoopConfig{
		Gateway:        e.gateway,
		Registry:       e.Registry(role),
		System:         role.SystemPrompt(ceiling),
		MaxIterations:  ceiling,
		MaxTokens:      e.maxTokens,
		CommandTimeout: e.commandTimeout,
		Logger:         log,
	}, history)

	rec := &DelegationRecord{
		ID:             delegateID,
		ConversationID: tools.ConversationIDFromContext(ctx),
		Task:           task,
		Context:        taskContext,
		Role:           role.Name,
		Model:          e.model,
		MaxIterations:  ceiling,
		StartedAt:      start,
	}
	if err != nil {
		rec.Error = err.Error()
		e.recordCompletion(ctx, log, rec)
		return nil, err
	}

	res := &Result{
		Message:       loopRes.Response,
		ToolsExecuted: loopRes.ToolsExecuted,
		Iterations:    loopRes.Iterations,
		Usage:         loopRes.Usage,
		Exhausted:     loopRes.Truncated,
	}
	if res.ToolsExecuted == nil {
		res.ToolsExecuted = []string{}
	}
	switch {
	case loopRes.Truncated:
		res.Message = fmt.Sprintf("Sub-agent %s used all %d iterations without finishing. Last output: %s",
			role.Name, ceiling, orNone(loopRes.Response))
	case loopRes.Response == "":
		res.Message = fmt.Sprintf("Sub-agent %s finished without a summary.", role.Name)
	default:
		res.Success = true
	}

	rec.Iterations = res.Iterations
	rec.InputTokens = res.Usage.InputTokens
	rec.OutputTokens = res.Usage.OutputTokens
	rec.Exhausted = res.Exhausted
	rec.Success = res.Success
	rec.ToolsCalled = ExtractToolsCalled(loopRes.History)
	rec.Messages = loopRes.History
	rec.ResultContent = res.Message
	e.recordCompletion(ctx, log, rec)

	return res, nil
}

// recordCompletion logs and optionally persists a delegate execution.
func (e *Executor) recordCompletion(ctx context.Context, log *slog.Logger, rec *DelegationRecord) {
	rec.CompletedAt = time.Now()
	rec.DurationMs = rec.CompletedAt.Sub(rec.StartedAt).Milliseconds()

	log.Info("delegate completed",
		"iterations", rec.Iterations,
		"input_tokens", rec.InputTokens,
		"output_tokens", rec.OutputTokens,
		"success", rec.Success,
		"exhausted", rec.Exhausted,
		"elapsed", time.Duration(rec.DurationMs)*time.Millisecond,
	)

	if e.usage != nil && rec.Error == "" {
		if err := e.usage.Record(ctx, usage.Record{
			ConversationID: rec.ConversationID,
			Model:          e.model,
			InputTokens:    rec.InputTokens,
			OutputTokens:   rec.OutputTokens,
			Iterations:     rec.Iterations,
			ToolCalls:      countCalls(rec.ToolsCalled),
			Truncated:      rec.Exhausted,
			Role:           usage.RoleDelegate,
		}); err != nil {
			log.Warn("usage record failed", "error", err)
		}
	}

	if e.store == nil {
		return
	}
	if err := e.store.Record(ctx, rec); err != nil {
		log.Warn("failed to persist delegation record", "error", err)
	}
}

func countCalls(m map[string]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return truncate(s, 500)
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
