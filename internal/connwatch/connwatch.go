// Package connwatch tracks reachability of the services the agent
// depends on: the WordPress site, the model provider and, when
// configured, the MQTT broker that carries editor commands.
//
// A Watcher probes one service. At startup it retries with exponential
// backoff; after that it polls at a fixed interval and reports
// transitions between ready and down. httpkit retries individual
// requests; connwatch deals with outages that last seconds to minutes.
package connwatch

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Service names used by the server.
const (
	ServiceWordPress = "wordpress"
	ServiceModel     = "model"
	ServiceMQTT      = "mqtt"
)

// ProbeFunc returns nil when the service is reachable.
type ProbeFunc func(ctx context.Context) error

// Backoff controls startup retry and background polling.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// Attempts is the number of startup probes before falling back to
	// background polling.
	Attempts int

	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// DefaultBackoff is 2s doubling to a 60s ceiling over ten startup
// attempts, then a probe every minute.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Attempts:     10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultBackoff.
func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.Attempts <= 0 {
		b.Attempts = d.Attempts
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// next grows delay by the multiplier up to MaxDelay.
func (b Backoff) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * b.Multiplier)
	return min(delay, b.MaxDelay)
}

// Spec describes one watched service.
type Spec struct {
	Name    string
	Probe   ProbeFunc
	Backoff Backoff

	// OnReady and OnDown run in their own goroutine on transitions.
	OnReady func()
	OnDown  func(err error)
}

// Status is the health of one service as reported by /health.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	spec   Spec
	logger *slog.Logger
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns a snapshot of the watcher's state.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.spec.Name, Ready: w.ready.Load(), LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	b := w.spec.Backoff
	log := w.logger.With("service", w.spec.Name)

	delay := b.InitialDelay
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		err := w.check(ctx)
		if err == nil {
			w.transition(log, nil)
			log.Info("service connected", "attempts", attempt)
			break
		}
		if attempt == b.Attempts {
			log.Warn("service unreachable at startup, polling in background", "attempts", attempt, "error", err)
			break
		}
		log.Debug("startup probe failed", "attempt", attempt, "next_delay", delay, "error", err)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = b.next(delay)
	}

	ticker := time.NewTicker(b.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.transition(log, w.check(ctx))
		}
	}
}

// check runs one bounded probe and records its result.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.spec.Backoff.ProbeTimeout)
	defer cancel()
	err := w.spec.Probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

// transition updates readiness and fires callbacks when it changes.
func (w *Watcher) transition(log *slog.Logger, err error) {
	nowReady := err == nil
	if w.ready.Swap(nowReady) == nowReady {
		if !nowReady {
			log.Debug("service still unreachable", "error", err)
		}
		return
	}
	if nowReady {
		log.Info("service ready")
		if w.spec.OnReady != nil {
			go w.spec.OnReady()
		}
		return
	}
	log.Warn("service became unreachable", "error", err)
	if w.spec.OnDown != nil {
		go w.spec.OnDown(err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns the watchers for all services.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger.With("component", "connwatch"),
	}
}

// Watch starts a watcher for spec. It panics on an empty name or nil
// probe. Watching a name twice replaces and stops the earlier watcher.
func (m *Manager) Watch(ctx context.Context, spec Spec) *Watcher {
	if spec.Name == "" {
		panic("connwatch: Spec.Name must not be empty")
	}
	if spec.Probe == nil {
		panic("connwatch: Spec.Probe must not be nil")
	}
	spec.Backoff = spec.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{spec: spec, logger: m.logger, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	prev := m.watchers[spec.Name]
	m.watchers[spec.Name] = w
	m.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	go w.run(watchCtx)
	return w
}

// Watcher returns the watcher for name, or nil.
func (m *Manager) Watcher(name string) *Watcher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watchers[name]
}

// Status returns every service's status, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.watchers))
	for _, name := range slices.Sorted(maps.Keys(m.watchers)) {
		out = append(out, m.watchers[name].Status())
	}
	return out
}

// Healthy reports whether every watched service is ready.
func (m *Manager) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.IsReady() {
			return false
		}
	}
	return true
}

// Stop stops all watchers.
func (m *Manager) Stop() {
	m.mu.RLock()
	ws := slices.Collect(maps.Values(m.watchers))
	m.mu.RUnlock()
	for _, w := range ws {
		w.Stop()
	}
}
