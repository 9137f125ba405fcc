// Package api implements the agent's HTTP surface: blocking and
// streaming turns, the editor reply channel, conversation inspection and
// health.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nugget/blockwright/internal/agent"
	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/buildinfo"
	"github.com/nugget/blockwright/internal/connwatch"
	"github.com/nugget/blockwright/internal/conversation"
	"github.com/nugget/blockwright/internal/delegate"
	"github.com/nugget/blockwright/internal/editor"
	"github.com/nugget/blockwright/internal/llm"
	"github.com/nugget/blockwright/internal/usage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Processor runs agent turns.
type Processor interface {
	Process(ctx context.Context, message string, opts agent.Options) (*agent.Result, error)
	ProcessStream(ctx context.Context, message string, opts agent.Options, cb *agent.Callbacks) (*agent.Result, error)
}

// ReplyHandler settles deferred editor commands.
type ReplyHandler interface {
	HandleReply(r editor.Reply) bool
}

// CatalogSource lists the provider-facing tool catalog.
type CatalogSource interface {
	Definitions() []llm.ToolDefinition
}

// UsageReporter summarizes recorded token usage.
type UsageReporter interface {
	Summary(ctx context.Context, start, end time.Time) (*usage.Summary, error)
	SummaryByModel(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	SummaryByRole(ctx context.Context, start, end time.Time) (map[string]*usage.Summary, error)
	ConversationTotals(ctx context.Context, conversationID string) (*usage.Summary, error)
}

// DelegationLister lists persisted sub-agent runs.
type DelegationLister interface {
	List(ctx context.Context, conversationID string, limit int) ([]*delegate.DelegationRecord, error)
}

// TurnDefaults are applied to requests that leave these options unset.
type TurnDefaults struct {
	Plan                bool
	RequirePlanApproval bool
	ExtendedThinking    bool
}

// Server is the HTTP API server.
type Server struct {
	address     string
	port        int
	environment string
	processor   Processor
	store       *conversation.Store
	catalog     CatalogSource
	replies     ReplyHandler
	editorWS    http.Handler
	usage       UsageReporter
	delegations DelegationLister
	health      *connwatch.Manager
	defaults    TurnDefaults
	logger      *slog.Logger
	server      *http.Server
}

// NewServer creates an API server.
func NewServer(address string, port int, processor Processor, store *conversation.Store, catalog CatalogSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:     address,
		port:        port,
		environment: "development",
		processor:   processor,
		store:       store,
		catalog:     catalog,
		logger:      logger.With("component", "api"),
	}
}

// SetEnvironment sets the environment reported by /health.
func (s *Server) SetEnvironment(env string) { s.environment = env }

// SetReplyHandler enables POST /agent/editor-result.
func (s *Server) SetReplyHandler(h ReplyHandler) { s.replies = h }

// SetEditorSocket mounts the editor websocket hub at /editor/ws.
func (s *Server) SetEditorSocket(h http.Handler) { s.editorWS = h }

// SetUsageReporter enables GET /agent/usage.
func (s *Server) SetUsageReporter(u UsageReporter) { s.usage = u }

// SetDelegations enables GET /agent/delegations.
func (s *Server) SetDelegations(d DelegationLister) { s.delegations = d }

// SetHealth reports dependency status on /health.
func (s *Server) SetHealth(m *connwatch.Manager) { s.health = m }

// SetTurnDefaults sets behavior for requests that leave it unset.
func (s *Server) SetTurnDefaults(p TurnDefaults) { s.defaults = p }

// Handler returns the routed handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /agent/process", s.handleProcess)
	mux.HandleFunc("POST /agent/process-stream", s.handleProcessStream)
	mux.HandleFunc("POST /agent/editor-result", s.handleEditorResult)
	mux.HandleFunc("GET /agent/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /agent/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("GET /agent/tools", s.handleTools)
	mux.HandleFunc("GET /agent/usage", s.handleUsage)
	mux.HandleFunc("GET /agent/delegations", s.handleDelegations)

	if s.editorWS != nil {
		mux.Handle("GET /editor/ws", s.editorWS)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack passes through so the editor websocket can upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// errorBody is the error envelope.
type errorBody struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Kind    apperr.Kind `json:"kind"`
}

// errorResponse writes err with the status its kind maps to.
func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind}, s.logger)
}

// decodeBody reads a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Blockwright",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status       string             `json:"status"`
	Environment  string             `json:"environment"`
	Timestamp    time.Time          `json:"timestamp"`
	Version      string             `json:"version"`
	Dependencies []connwatch.Status `json:"dependencies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:       "healthy",
		Environment:  s.environment,
		Timestamp:    time.Now().UTC(),
		Version:      buildinfo.Version,
		Dependencies: []connwatch.Status{},
	}
	if s.health != nil {
		resp.Dependencies = s.health.Status()
		if !s.health.Healthy() {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleEditorResult(w http.ResponseWriter, r *http.Request) {
	if s.replies == nil {
		s.errorResponse(w, apperr.NotFound("editor bridge not configured"))
		return
	}
	var reply editor.Reply
	if err := decodeBody(w, r, &reply); err != nil {
		s.errorResponse(w, err)
		return
	}
	if reply.RequestID == "" {
		s.errorResponse(w, apperr.Validation("requestId is required"))
		return
	}
	if !s.replies.HandleReply(reply) {
		s.errorResponse(w, apperr.NotFound("no pending editor command %s", reply.RequestID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, ok := s.store.Get(id)
	if !ok {
		s.errorResponse(w, apperr.NotFound("conversation %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversation": conv}, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.store.Delete(id) {
		s.errorResponse(w, apperr.NotFound("conversation %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tools":   s.catalog.Definitions(),
	}, s.logger)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, apperr.NotFound("usage tracking not configured"))
		return
	}
	ctx := r.Context()

	if convID := r.URL.Query().Get("conversation_id"); convID != "" {
		sum, err := s.usage.ConversationTotals(ctx, convID)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "conversation_id": convID, "summary": sum}, s.logger)
		return
	}

	days := parseIntParam(r, "days", 30)
	// Timestamps are stored at second precision; include the current second.
	end := time.Now().Truncate(time.Second).Add(time.Second)
	start := end.AddDate(0, 0, -days)

	sum, err := s.usage.Summary(ctx, start, end)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	byModel, err := s.usage.SummaryByModel(ctx, start, end)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	byRole, err := s.usage.SummaryByRole(ctx, start, end)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"since":    start.UTC(),
		"summary":  sum,
		"by_model": byModel,
		"by_role":  byRole,
	}, s.logger)
}

func (s *Server) handleDelegations(w http.ResponseWriter, r *http.Request) {
	if s.delegations == nil {
		s.errorResponse(w, apperr.NotFound("delegation history not configured"))
		return
	}
	recs, err := s.delegations.List(r.Context(), r.URL.Query().Get("conversation_id"), parseIntParam(r, "limit", 50))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	// Full transcripts stay out of listings.
	for _, rec := range recs {
		rec.Messages = nil
	}
	if recs == nil {
		recs = []*delegate.DelegationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "delegations": recs}, s.logger)
}

// parseIntParam returns a positive integer query parameter or defaultVal.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultVal
	}
	return n
}
