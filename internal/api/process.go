package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nugget/blockwright/internal/agent"
	"github.com/nugget/blockwright/internal/apperr"
)

// RequestOptions are the per-turn options accepted on the wire.
type RequestOptions struct {
	ConversationID      string         `json:"conversation_id,omitempty"`
	Context             map[string]any `json:"context,omitempty"`
	AllowedTools        []string       `json:"allowed_tools,omitempty"`
	MaxIterations       int            `json:"max_iterations,omitempty"`
	ExtendedThinking    bool           `json:"extended_thinking,omitempty"`
	Plan                *bool          `json:"plan,omitempty"`
	RequirePlanApproval *bool          `json:"require_plan_approval,omitempty"`
	PlanApproved        bool           `json:"plan_approved,omitempty"`
}

// ProcessRequest is the body of both process endpoints. The top-level
// conversation_id and wordpress_context take precedence over the same
// fields inside options.
type ProcessRequest struct {
	Message          string          `json:"message"`
	ConversationID   string          `json:"conversation_id,omitempty"`
	WordPressContext map[string]any  `json:"wordpress_context,omitempty"`
	Options          *RequestOptions `json:"options,omitempty"`
}

// agentOptions resolves the request into orchestrator options.
func (s *Server) agentOptions(req *ProcessRequest) agent.Options {
	var o RequestOptions
	if req.Options != nil {
		o = *req.Options
	}
	opts := agent.Options{
		ConversationID:      o.ConversationID,
		Context:             o.Context,
		AllowedTools:        o.AllowedTools,
		MaxIterations:       o.MaxIterations,
		ExtendedThinking:    o.ExtendedThinking || s.defaults.ExtendedThinking,
		Plan:                s.defaults.Plan,
		RequirePlanApproval: s.defaults.RequirePlanApproval,
		PlanApproved:        o.PlanApproved,
	}
	if req.ConversationID != "" {
		opts.ConversationID = req.ConversationID
	}
	if req.WordPressContext != nil {
		opts.Context = req.WordPressContext
	}
	if o.Plan != nil {
		opts.Plan = *o.Plan
	}
	if o.RequirePlanApproval != nil {
		opts.RequirePlanApproval = *o.RequirePlanApproval
	}
	return opts
}

func (s *Server) readProcessRequest(w http.ResponseWriter, r *http.Request) (*ProcessRequest, error) {
	var req ProcessRequest
	if err := decodeBody(w, r, &req); err != nil {
		return nil, err
	}
	if req.Message == "" {
		return nil, apperr.Validation("message is required")
	}
	if req.Options != nil && req.Options.MaxIterations < 0 {
		return nil, apperr.Validation("max_iterations must not be negative")
	}
	return &req, nil
}

// handleProcess runs a blocking turn.
// POST /agent/process {"message": "add a hero section"}
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req, err := s.readProcessRequest(w, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	res, err := s.processor.Process(r.Context(), req.Message, s.agentOptions(req))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res}, s.logger)
}

// sseWriter serializes named events onto a text/event-stream response.
type sseWriter struct {
	mu sync.Mutex
	w  http.ResponseWriter
	rc *http.ResponseController
}

func (e *sseWriter) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return e.rc.Flush()
}

// handleProcessStream runs a turn and streams its progress as
// server-sent events. Errors before the headers are sent are JSON;
// after that every failure ends the stream with an error event.
func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.readProcessRequest(w, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	// Turns outlive the server's write timeout while waiting on the model.
	_ = rc.SetWriteDeadline(time.Time{})
	events := &sseWriter{w: w, rc: rc}

	emit := func(event string, data any) {
		if err := events.send(event, data); err != nil {
			s.logger.Debug("failed to write SSE event", "event", event, "error", err)
		}
	}

	cb := &agent.Callbacks{
		OnIterationStart: func(iteration, maxIterations int) {
			emit("iteration_start", map[string]any{"iteration": iteration, "maxIterations": maxIterations})
		},
		OnToolCall: func(name string, input map[string]any) {
			emit("tool_call", map[string]any{"toolName": name, "input": input})
		},
		OnToolResult: func(name string, success bool, summary string) {
			emit("tool_result", map[string]any{"toolName": name, "success": success, "resultSummary": summary})
		},
		OnCommand: func(cmd map[string]any) {
			emit("editor_command", cmd)
		},
		OnPlan: func(plan *agent.Plan) {
			emit("plan", plan)
		},
		OnError: func(err error) {
			emit("error", map[string]any{"message": err.Error(), "kind": apperr.KindOf(err)})
		},
	}

	res, err := s.processor.ProcessStream(r.Context(), req.Message, s.agentOptions(req), cb)
	if err != nil {
		s.logger.Warn("streamed turn failed", "error", err)
		return
	}
	emit("final_response", map[string]any{
		"response":          res.Response,
		"usage":             res.Usage,
		"conversation_id":   res.ConversationID,
		"iterations":        res.Iterations,
		"stop_reason":       res.StopReason,
		"truncated":         res.Truncated,
		"tools_executed":    res.ToolsExecuted,
		"awaiting_approval": res.AwaitingApproval,
	})
}
