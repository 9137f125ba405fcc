package editor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxFrame   = 4 << 20
)

// frame is an inbound websocket message. Editors send "editor_result"
// frames carrying a Reply.
type frame struct {
	Type string `json:"type"`
	Reply
}

// session is one connected editor.
type session struct {
	conn   *websocket.Conn
	postID string
	send   chan []byte
}

// Hub accepts editor websocket connections and routes commands to them.
type Hub struct {
	bridge   *Bridge
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[*session]struct{}
}

// NewHub creates a hub that feeds editor replies into bridge.
func NewHub(bridge *Bridge, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bridge: bridge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Editors run inside wp-admin on another origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   logger.With("component", "editor_hub"),
		sessions: make(map[*session]struct{}),
	}
}

// ServeHTTP upgrades the request. The optional post_id query parameter
// scopes the session to one document.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	s := &session{conn: conn, postID: r.URL.Query().Get("post_id"), send: make(chan []byte, 32)}

	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("editor connected", "post_id", s.postID, "remote", r.RemoteAddr)

	go h.writePump(s)
	h.readPump(s)
}

// Sessions returns the number of connected editors.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Send delivers cmd to editors of documentID, or to every editor when
// no session is scoped to it.
func (h *Hub) Send(_ context.Context, documentID string, cmd map[string]any) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var targets []*session
	if documentID != "" {
		for s := range h.sessions {
			if s.postID == documentID {
				targets = append(targets, s)
			}
		}
	}
	if len(targets) == 0 {
		for s := range h.sessions {
			targets = append(targets, s)
		}
	}

	// Sends happen under the read lock so remove cannot close a channel
	// mid-send.
	for _, s := range targets {
		select {
		case s.send <- data:
		default:
			h.logger.Warn("editor send buffer full, dropping command", "post_id", s.postID)
		}
	}
	return nil
}

// Close disconnects every editor.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		s.conn.Close()
	}
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.send)
	}
}

func (h *Hub) readPump(s *session) {
	defer func() {
		h.remove(s)
		s.conn.Close()
		h.logger.Info("editor disconnected", "post_id", s.postID)
	}()

	s.conn.SetReadLimit(maxFrame)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("editor read failed", "error", err)
			}
			return
		}
		switch f.Type {
		case "editor_result", "":
			if !h.bridge.HandleReply(f.Reply) {
				h.logger.Debug("unmatched editor result", "request_id", f.RequestID)
			}
		case "ping":
		default:
			h.logger.Debug("unknown editor frame", "type", f.Type)
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debug("editor write failed", "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
