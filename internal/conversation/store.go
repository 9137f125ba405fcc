// Package conversation keeps multi-turn agent history in memory. The
// store owns the authoritative copy of each conversation; readers get
// deep copies and a turn commits its working snapshot back explicitly.
package conversation

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/llm"
)

// Defaults for a Store.
const (
	DefaultIdleTimeout   = 24 * time.Hour
	DefaultSweepInterval = time.Hour
)

// Conversation is a snapshot of one conversation.
type Conversation struct {
	ID        string         `json:"id"`
	Messages  []llm.Message  `json:"messages"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (c *Conversation) copy() *Conversation {
	return &Conversation{
		ID:        c.ID,
		Messages:  llm.CloneHistory(c.Messages),
		Metadata:  maps.Clone(c.Metadata),
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// Store manages conversations in memory and reclaims idle ones.
type Store struct {
	idleTimeout   time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu            sync.RWMutex
	conversations map[string]*Conversation

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithIdleTimeout sets how long a conversation may go untouched before
// the sweep reclaims it.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Store) { s.idleTimeout = d }
}

// WithSweepInterval sets how often the sweep runs. Zero disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Store) { s.sweepInterval = d }
}

// NewStore creates a store and starts its sweep loop. Call Close to
// stop it.
func NewStore(logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		logger:        logger.With("component", "conversation"),
		now:           time.Now,
		conversations: make(map[string]*Conversation),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.sweepInterval > 0 {
		go s.sweepLoop()
	} else {
		close(s.done)
	}
	return s
}

// Create starts a new conversation and returns its id.
func (s *Store) Create(metadata map[string]any) string {
	id := newID()
	now := s.now()

	md := maps.Clone(metadata)
	if md == nil {
		md = map[string]any{}
	}

	s.mu.Lock()
	s.conversations[id] = &Conversation{
		ID:        id,
		Messages:  []llm.Message{},
		Metadata:  md,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Unlock()

	s.logger.Debug("conversation created", "conversation_id", id)
	return id
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Exists reports whether id names a live conversation.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.conversations[id]
	return ok
}

// Get returns a copy of the conversation, including metadata.
func (s *Store) Get(id string) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return c.copy(), true
}

// GetHistory returns a deep copy of the conversation's messages.
// Unknown ids yield an empty slice, not an error.
func (s *Store) GetHistory(id string) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return []llm.Message{}
	}
	return llm.CloneHistory(c.Messages)
}

// AddMessage appends one message.
func (s *Store) AddMessage(id string, msg llm.Message) error {
	return s.AddMessages(id, []llm.Message{msg})
}

// AddMessages appends msgs in order. Unknown ids are a not_found error.
func (s *Store) AddMessages(id string, msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return apperr.NotFound("conversation %s not found", id)
	}
	for _, m := range msgs {
		c.Messages = append(c.Messages, m.Clone())
	}
	c.UpdatedAt = s.now()
	return nil
}

// ClearHistory empties the message list, keeping id and metadata.
func (s *Store) ClearHistory(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return apperr.NotFound("conversation %s not found", id)
	}
	c.Messages = []llm.Message{}
	c.UpdatedAt = s.now()
	return nil
}

// UpdateMetadata merges patch into the conversation's metadata.
func (s *Store) UpdateMetadata(id string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return apperr.NotFound("conversation %s not found", id)
	}
	maps.Copy(c.Metadata, patch)
	c.UpdatedAt = s.now()
	return nil
}

// Delete removes a conversation and reports whether it existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conversations[id]
	delete(s.conversations, id)
	return ok
}

// Sweep removes conversations idle longer than the idle timeout and
// returns how many it removed.
func (s *Store) Sweep() int {
	cutoff := s.now().Add(-s.idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.conversations {
		if c.UpdatedAt.Before(cutoff) {
			delete(s.conversations, id)
			n++
		}
	}
	if n > 0 {
		s.logger.Info("reclaimed idle conversations", "count", n, "remaining", len(s.conversations))
	}
	return n
}

func (s *Store) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Stats returns store statistics.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.conversations {
		total += len(c.Messages)
	}
	return map[string]any{
		"conversations": len(s.conversations),
		"messages":      total,
	}
}

// Close stops the sweep loop. Conversations stay readable.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}
