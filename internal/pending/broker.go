// Package pending correlates outbound commands with replies that arrive
// on a different channel. A caller registers an id, sends its command
// elsewhere, and waits; whoever receives the reply settles the id.
package pending

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/blockwright/internal/apperr"
)

// Defaults for a Broker.
const (
	DefaultMaxPending    = 100
	DefaultStaleAfter    = 60 * time.Second
	DefaultSweepInterval = 30 * time.Second
	DefaultTimeout       = 10 * time.Second
)

// ErrClosed settles every entry still outstanding when the broker shuts
// down, and is returned by Create afterwards.
var ErrClosed = errors.New("broker destroyed")

type result struct {
	data any
	err  error
}

type entry struct {
	id      string
	created time.Time
	timer   *time.Timer
	ch      chan result
}

// Broker tracks outstanding requests by correlation id. Each id settles
// exactly once: by Resolve, Reject, its timeout, a stale sweep, or
// Close. Settled entries are removed immediately.
type Broker struct {
	maxPending     int
	staleAfter     time.Duration
	sweepInterval  time.Duration
	defaultTimeout time.Duration
	logger         *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Broker.
type Option func(*Broker)

// WithMaxPending bounds the number of live entries.
func WithMaxPending(n int) Option {
	return func(b *Broker) { b.maxPending = n }
}

// WithStaleAfter sets the age past which the sweep rejects an entry.
func WithStaleAfter(d time.Duration) Option {
	return func(b *Broker) { b.staleAfter = d }
}

// WithSweepInterval sets how often the background sweep runs. Zero
// disables it.
func WithSweepInterval(d time.Duration) Option {
	return func(b *Broker) { b.sweepInterval = d }
}

// WithDefaultTimeout sets the timeout used when Create is given none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(b *Broker) { b.defaultTimeout = d }
}

// NewBroker creates a broker and starts its sweep loop. Call Close to
// stop it.
func NewBroker(logger *slog.Logger, opts ...Option) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		maxPending:     DefaultMaxPending,
		staleAfter:     DefaultStaleAfter,
		sweepInterval:  DefaultSweepInterval,
		defaultTimeout: DefaultTimeout,
		logger:         logger.With("component", "pending"),
		entries:        make(map[string]*entry),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	if b.sweepInterval > 0 {
		go b.sweepLoop()
	} else {
		close(b.done)
	}
	return b
}

// Create registers id and returns a Future that settles when the reply
// arrives or timeout elapses. A non-positive timeout uses the broker
// default. When the broker is full, stale entries are swept first; if
// it is still full the call fails fast with a rate_limit error.
func (b *Broker) Create(id string, timeout time.Duration) (*Future, error) {
	if id == "" {
		return nil, apperr.Validation("pending: empty request id")
	}
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if _, exists := b.entries[id]; exists {
		return nil, apperr.Conflict("pending: request %s already outstanding", id)
	}
	if len(b.entries) >= b.maxPending {
		swept := b.sweepLocked(time.Now())
		if len(b.entries) >= b.maxPending {
			b.logger.Warn("pending registry full", "max", b.maxPending, "swept", swept)
			return nil, apperr.RateLimit("pending: %d requests outstanding", len(b.entries))
		}
	}

	e := &entry{
		id:      id,
		created: time.Now(),
		ch:      make(chan result, 1),
	}
	e.timer = time.AfterFunc(timeout, func() {
		if b.settleEntry(e, result{err: apperr.Timeout("no reply to request %s within %s", id, timeout)}) {
			b.logger.Debug("pending request timed out", "request_id", id, "timeout", timeout)
		}
	})
	b.entries[id] = e

	return &Future{broker: b, entry: e}, nil
}

// Resolve settles id with data. It returns false if id is unknown or
// already settled.
func (b *Broker) Resolve(id string, data any) bool {
	return b.settle(id, result{data: data})
}

// Reject settles id with err. It returns false if id is unknown or
// already settled.
func (b *Broker) Reject(id string, err error) bool {
	if err == nil {
		err = errors.New("request rejected")
	}
	return b.settle(id, result{err: err})
}

func (b *Broker) settle(id string, r result) bool {
	b.mu.Lock()
	e, ok := b.entries[id]
	b.mu.Unlock()
	if !ok {
		return false
	}
	return b.settleEntry(e, r)
}

// settleEntry delivers r if e is still the live entry for its id.
func (b *Broker) settleEntry(e *entry, r result) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settleLocked(e, r)
}

func (b *Broker) settleLocked(e *entry, r result) bool {
	if cur, ok := b.entries[e.id]; !ok || cur != e {
		return false
	}
	delete(b.entries, e.id)
	e.timer.Stop()
	e.ch <- r
	return true
}

// Sweep rejects every entry older than the stale threshold and returns
// how many it removed.
func (b *Broker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sweepLocked(time.Now())
}

func (b *Broker) sweepLocked(now time.Time) int {
	n := 0
	for _, e := range b.entries {
		if now.Sub(e.created) > b.staleAfter {
			b.settleLocked(e, result{err: apperr.Timeout("request %s abandoned after %s", e.id, b.staleAfter)})
			n++
		}
	}
	if n > 0 {
		b.logger.Debug("swept stale requests", "count", n, "remaining", len(b.entries))
	}
	return n
}

func (b *Broker) sweepLoop() {
	defer close(b.done)
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.Sweep()
		}
	}
}

// Len returns the number of outstanding entries.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Close stops the sweep loop and rejects every outstanding entry with
// [ErrClosed]. It is safe to call more than once.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.done

		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		n := len(b.entries)
		for _, e := range b.entries {
			b.settleLocked(e, result{err: ErrClosed})
		}
		if n > 0 {
			b.logger.Info("rejected outstanding requests on shutdown", "count", n)
		}
	})
}

// Future is the receiving side of a pending request.
type Future struct {
	broker *Broker
	entry  *entry
}

// ID returns the correlation id.
func (f *Future) ID() string { return f.entry.id }

// Wait blocks until the request settles or ctx ends. If ctx ends first
// the entry is rejected so it does not linger in the broker. A reply
// that settled the entry before the reject always wins over ctx.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case r := <-f.entry.ch:
		return r.data, r.err
	case <-ctx.Done():
		if !f.broker.settleEntry(f.entry, result{err: ctx.Err()}) {
			r := <-f.entry.ch
			return r.data, r.err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.KindTimeout, ctx.Err(), "waiting for request %s", f.entry.id)
		}
		return nil, ctx.Err()
	}
}
