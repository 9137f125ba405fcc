// Package editor drives a live block editor. Tool handlers dispatch
// commands to the editor and receive its replies out of band, through
// a websocket hub, an MQTT broker, or the HTTP result endpoint.
package editor

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/pending"
	"github.com/nugget/blockwright/internal/tools"
)

// CommandType is the discriminator on every command payload.
const CommandType = "editor_action"

// Reply is an editor's answer to a command, correlated by RequestID.
type Reply struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// NewCommand builds the wire payload for an editor action. Fields are
// copied in first so the reserved keys always win.
func NewCommand(action, requestID, message string, fields map[string]any) map[string]any {
	cmd := make(map[string]any, len(fields)+5)
	maps.Copy(cmd, fields)
	cmd["command"] = CommandType
	cmd["action"] = action
	cmd["requestId"] = requestID
	cmd["success"] = true
	cmd["message"] = message
	return cmd
}

// Transport delivers commands to connected editors. documentID scopes
// delivery to the editors of one post; empty means broadcast.
type Transport interface {
	Send(ctx context.Context, documentID string, cmd map[string]any) error
}

// Bridge turns editor actions into deferred tool outcomes.
type Bridge struct {
	broker  *pending.Broker
	timeout time.Duration
	logger  *slog.Logger

	mu        sync.RWMutex
	transport Transport
}

// NewBridge creates a bridge that registers replies with broker. A
// timeout of zero uses the broker's default.
func NewBridge(broker *pending.Broker, timeout time.Duration, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		broker:  broker,
		timeout: timeout,
		logger:  logger.With("component", "editor"),
	}
}

// SetTransport sets where commands are pushed. With no transport,
// commands only reach the client through the streaming sink.
func (b *Bridge) SetTransport(t Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transport = t
}

// Dispatch issues an editor action and returns a Deferred outcome that
// settles when the editor replies.
func (b *Bridge) Dispatch(ctx context.Context, action string, fields map[string]any, message string) (tools.Outcome, error) {
	id := uuid.NewString()
	future, err := b.broker.Create(id, b.timeout)
	if err != nil {
		return nil, err
	}
	cmd := NewCommand(action, id, message, fields)

	b.mu.RLock()
	t := b.transport
	b.mu.RUnlock()

	if t != nil {
		docID := tools.DocumentIDFromContext(ctx)
		if err := t.Send(ctx, docID, cmd); err != nil {
			// The streaming sink may still reach the editor.
			b.logger.Warn("editor transport send failed",
				"action", action, "request_id", id, "document_id", docID, "error", err)
		}
	}

	b.logger.Debug("editor command dispatched", "action", action, "request_id", id)
	return tools.Deferred{Command: cmd, Future: future}, nil
}

// HandleReply settles the pending command r answers. It reports false
// when no command with that id is waiting.
func (b *Bridge) HandleReply(r Reply) bool {
	if r.RequestID == "" {
		return false
	}
	var ok bool
	if r.Success {
		ok = b.broker.Resolve(r.RequestID, map[string]any{"success": true, "data": r.Data})
	} else {
		msg := r.Error
		if msg == "" {
			msg = "editor reported failure"
		}
		ok = b.broker.Reject(r.RequestID, apperr.External("editor", errors.New(msg)))
	}
	if !ok {
		b.logger.Debug("editor reply for unknown request", "request_id", r.RequestID)
	}
	return ok
}
