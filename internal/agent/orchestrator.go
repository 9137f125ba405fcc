package agent

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/conversation"
	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/prompts"
	"github.com/nugget/blockwright/internal/tools"
	"github.com/nugget/blockwright/internal/usage"
)

// UsageRecorder persists per-turn token usage.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Options tune a single turn.
type Options struct {
	ConversationID string
	Context        map[string]any
	AllowedTools   []string

	MaxIterations    int
	ExtendedThinking bool

	Plan                bool
	RequirePlanApproval bool
	PlanApproved        bool
}

// Result is the outcome of a turn.
type Result struct {
	Response         string    `json:"response"`
	Iterations       int       `json:"iterations"`
	Usage            llm.Usage `json:"usage"`
	ConversationID   string    `json:"conversation_id"`
	StopReason       string    `json:"stop_reason"`
	Truncated        bool      `json:"truncated"`
	ToolsExecuted    []string  `json:"tools_executed"`
	Plan             *Plan     `json:"plan,omitempty"`
	AwaitingApproval bool      `json:"awaiting_approval,omitempty"`
}

// Orchestrator runs conversation-aware turns over the loop.
type Orchestrator struct {
	gateway  ModelGateway
	store    *conversation.Store
	registry *tools.Registry
	logger   *slog.Logger

	model          string
	system         string
	maxIterations  int
	maxTokens      int
	commandTimeout time.Duration
	retry          *RetryPolicy
	needsPlan      PlanPolicy
	describer      DocumentDescriber
	usage          UsageRecorder
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(s string) Option { return func(o *Orchestrator) { o.system = s } }

// WithModel names the model in usage records.
func WithModel(m string) Option { return func(o *Orchestrator) { o.model = m } }

// WithMaxIterations sets the default iteration ceiling.
func WithMaxIterations(n int) Option { return func(o *Orchestrator) { o.maxIterations = n } }

// WithMaxTokens sets the per-call token ceiling.
func WithMaxTokens(n int) Option { return func(o *Orchestrator) { o.maxTokens = n } }

// WithCommandTimeout bounds the wait on deferred editor commands.
func WithCommandTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.commandTimeout = d } }

// WithRetry enables bounded retry of failed tool calls.
func WithRetry(p RetryPolicy) Option { return func(o *Orchestrator) { o.retry = &p } }

// WithPlanPolicy replaces [DefaultNeedsPlan].
func WithPlanPolicy(p PlanPolicy) Option { return func(o *Orchestrator) { o.needsPlan = p } }

// WithDescriber sets the source of document context.
func WithDescriber(d DocumentDescriber) Option { return func(o *Orchestrator) { o.describer = d } }

// WithUsageRecorder records usage after each committed turn.
func WithUsageRecorder(r UsageRecorder) Option { return func(o *Orchestrator) { o.usage = r } }

// New creates an orchestrator.
func New(gateway ModelGateway, store *conversation.Store, registry *tools.Registry, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		gateway:        gateway,
		store:          store,
		registry:       registry,
		logger:         logger.With("component", "orchestrator"),
		system:         prompts.SystemPrompt(""),
		maxIterations:  DefaultMaxIterations,
		maxTokens:      DefaultMaxTokens,
		commandTimeout: DefaultCommandTimeout,
		needsPlan:      DefaultNeedsPlan,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Registry returns the full tool registry.
func (o *Orchestrator) Registry() *tools.Registry { return o.registry }

// MaxIterations returns the default iteration ceiling.
func (o *Orchestrator) MaxIterations() int { return o.maxIterations }

// Process runs a turn and returns its result.
func (o *Orchestrator) Process(ctx context.Context, message string, opts Options) (*Result, error) {
	return o.run(ctx, message, opts, &Callbacks{})
}

// ProcessStream runs a turn, reporting progress through cb. Deferred
// editor commands are forwarded to cb.OnCommand before the loop waits
// on them. A fatal error is passed to cb.OnError and returned.
func (o *Orchestrator) ProcessStream(ctx context.Context, message string, opts Options, cb *Callbacks) (*Result, error) {
	if cb == nil {
		cb = &Callbacks{}
	}
	if cb.OnCommand != nil {
		ctx = tools.WithCommandSink(ctx, cb.OnCommand)
	}
	res, err := o.run(ctx, message, opts, cb)
	if err != nil && cb.OnError != nil {
		cb.OnError(err)
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, message string, opts Options, cb *Callbacks) (*Result, error) {
	if strings.TrimSpace(message) == "" {
		return nil, apperr.Validation("message is required")
	}

	convID := opts.ConversationID
	if convID == "" || !o.store.Exists(convID) {
		convID = o.store.Create(maps.Clone(opts.Context))
		o.logger.Info("conversation created", "conversation_id", convID)
	}
	log := o.logger.With("conversation_id", convID)

	history := o.store.GetHistory(convID)
	result := &Result{ConversationID: convID, ToolsExecuted: []string{}}

	var planUsage llm.Usage
	if opts.Plan && o.needsPlan != nil && o.needsPlan(message) {
		plan, u, err := GeneratePlan(ctx, o.gateway, message, o.maxTokens)
		planUsage = u
		if err != nil {
			// Plans are advisory; the turn proceeds without one.
			log.Warn("plan generation failed", "error", err)
		} else {
			result.Plan = plan
			if cb.OnPlan != nil {
				cb.OnPlan(plan)
			}
			if opts.RequirePlanApproval && !opts.PlanApproved {
				result.AwaitingApproval = true
				result.Usage = planUsage
				log.Info("plan awaiting approval", "tasks", len(plan.Tasks))
				return result, nil
			}
		}
	}

	blocks := []llm.ContentBlock{llm.TextBlock(message)}
	docID := DocumentIDFromContext(opts.Context)
	if docID != "" && !hasMarker(history, prompts.DocumentContextMarker(docID)) {
		blocks = append([]llm.ContentBlock{llm.TextBlock(o.documentContext(ctx, docID, opts.Context))}, blocks...)
	}
	history = appendUser(history, blocks)

	ctx = tools.WithConversationID(ctx, convID)
	if docID != "" {
		ctx = tools.WithDocumentID(ctx, docID)
	}

	registry := o.registry
	if len(opts.AllowedTools) > 0 {
		registry = registry.FilteredCopy(opts.AllowedTools)
	}
	maxIter := o.maxIterations
	if opts.MaxIterations > 0 {
		maxIter = opts.MaxIterations
	}

	loopRes, err := RunLoop(ctx, LoopConfig{
		Gateway:          o.gateway,
		Registry:         registry,
		System:           o.system,
		MaxIterations:    maxIter,
		MaxTokens:        o.maxTokens,
		ExtendedThinking: opts.ExtendedThinking,
		CommandTimeout:   o.commandTimeout,
		Retry:            o.retry,
		Callbacks:        cb,
		Logger:           log,
	}, history)
	if err != nil {
		log.Error("turn failed", "error", err)
		return nil, err
	}

	if err := o.commit(convID, loopRes.History, opts.Context); err != nil {
		log.Error("commit failed", "error", err)
		return nil, err
	}

	result.Response = loopRes.Response
	result.Iterations = loopRes.Iterations
	result.StopReason = loopRes.StopReason
	result.Truncated = loopRes.Truncated
	result.ToolsExecuted = append(result.ToolsExecuted, loopRes.ToolsExecuted...)
	result.Usage = loopRes.Usage
	result.Usage.Add(planUsage)

	log.Info("turn complete",
		"iterations", result.Iterations,
		"tools", len(result.ToolsExecuted),
		"truncated", result.Truncated,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)

	o.recordUsage(ctx, result)
	return result, nil
}

// commit replaces the stored history with the turn's full snapshot.
func (o *Orchestrator) commit(convID string, history []llm.Message, meta map[string]any) error {
	if err := o.store.ClearHistory(convID); err != nil {
		return err
	}
	if err := o.store.AddMessages(convID, history); err != nil {
		return err
	}
	if len(meta) > 0 {
		return o.store.UpdateMetadata(convID, meta)
	}
	return nil
}

func (o *Orchestrator) recordUsage(ctx context.Context, r *Result) {
	if o.usage == nil {
		return
	}
	err := o.usage.Record(ctx, usage.Record{
		ConversationID: r.ConversationID,
		Model:          o.model,
		InputTokens:    r.Usage.InputTokens,
		OutputTokens:   r.Usage.OutputTokens,
		Iterations:     r.Iterations,
		ToolCalls:      len(r.ToolsExecuted),
		Truncated:      r.Truncated,
		Role:           usage.RoleInteractive,
	})
	if err != nil {
		o.logger.Warn("usage record failed", "conversation_id", r.ConversationID, "error", err)
	}
}

// documentContext builds the marked context block for docID.
func (o *Orchestrator) documentContext(ctx context.Context, docID string, raw map[string]any) string {
	var desc string
	if o.describer != nil {
		d, err := o.describer.DescribeDocument(ctx, docID)
		if err != nil {
			o.logger.Debug("document describe failed, using raw context", "document_id", docID, "error", err)
		}
		desc = d
	}
	if desc == "" {
		desc = rawContext(raw)
	}
	return prompts.DocumentContext(docID, desc)
}

// appendUser adds blocks as a user message, merging into a trailing user
// message so roles keep alternating.
func appendUser(history []llm.Message, blocks []llm.ContentBlock) []llm.Message {
	if n := len(history); n > 0 && history[n-1].Role == llm.RoleUser {
		last := history[n-1]
		merged := append(append([]llm.ContentBlock{}, last.ContentBlocks()...), blocks...)
		history[n-1] = llm.Message{Role: llm.RoleUser, Blocks: merged}
		return history
	}
	return append(history, llm.Message{Role: llm.RoleUser, Blocks: blocks})
}

func hasMarker(history []llm.Message, marker string) bool {
	for _, m := range history {
		if m.Role != llm.RoleUser {
			continue
		}
		for _, b := range m.ContentBlocks() {
			if b.Type == llm.BlockText && strings.Contains(b.Text, marker) {
				return true
			}
		}
	}
	return false
}
