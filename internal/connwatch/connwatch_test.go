package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func fastBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
		Attempts:     4,
		PollInterval: 5 * time.Millisecond,
		ProbeTimeout: 50 * time.Millisecond,
	}
}

func newManager() *Manager {
	return NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBackoff_Defaults(t *testing.T) {
	b := Backoff{Attempts: 3}.withDefaults()
	if b.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", b.Attempts)
	}
	if b.InitialDelay != 2*time.Second || b.MaxDelay != time.Minute || b.PollInterval != time.Minute {
		t.Errorf("defaults not applied: %+v", b)
	}
}

func TestBackoff_Next(t *testing.T) {
	b := DefaultBackoff()
	d := b.InitialDelay
	var got []time.Duration
	for range 7 {
		got = append(got, d)
		d = b.next(d)
	}
	want := []time.Duration{2, 4, 8, 16, 32, 60, 60}
	for i := range want {
		if got[i] != want[i]*time.Second {
			t.Errorf("step %d = %v, want %v", i, got[i], want[i]*time.Second)
		}
	}
}

func TestWatcher_ReadyAfterRetries(t *testing.T) {
	var calls atomic.Int32
	var readies atomic.Int32
	m := newManager()
	t.Cleanup(m.Stop)

	w := m.Watch(t.Context(), Spec{
		Name: ServiceWordPress,
		Probe: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
		Backoff: fastBackoff(),
		OnReady: func() { readies.Add(1) },
	})

	eventually(t, w.IsReady, "watcher never became ready")
	eventually(t, func() bool { return readies.Load() == 1 }, "OnReady not called")
	if w.LastError() != nil {
		t.Errorf("LastError = %v", w.LastError())
	}
}

func TestWatcher_DownAndRecover(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	var downs, readies atomic.Int32

	m := newManager()
	t.Cleanup(m.Stop)
	w := m.Watch(t.Context(), Spec{
		Name: ServiceMQTT,
		Probe: func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("broker gone")
		},
		Backoff: fastBackoff(),
		OnReady: func() { readies.Add(1) },
		OnDown:  func(error) { downs.Add(1) },
	})
	eventually(t, w.IsReady, "not ready")

	healthy.Store(false)
	eventually(t, func() bool { return !w.IsReady() }, "never went down")
	eventually(t, func() bool { return downs.Load() == 1 }, "OnDown not called")
	if m.Healthy() {
		t.Error("manager healthy with a down service")
	}

	healthy.Store(true)
	eventually(t, w.IsReady, "never recovered")
	eventually(t, func() bool { return readies.Load() == 2 }, "OnReady not called on recovery")
}

func TestWatcher_StartupExhaustedStillPolls(t *testing.T) {
	var calls atomic.Int32
	m := newManager()
	t.Cleanup(m.Stop)
	w := m.Watch(t.Context(), Spec{
		Name:    ServiceModel,
		Probe:   func(context.Context) error { calls.Add(1); return errors.New("503") },
		Backoff: fastBackoff(),
	})
	eventually(t, func() bool { return calls.Load() > 6 }, "background polling did not continue")
	if w.IsReady() {
		t.Error("ready with failing probe")
	}
	if st := w.Status(); st.LastError != "503" || st.LastCheck.IsZero() {
		t.Errorf("status = %+v", st)
	}
}

func TestWatcher_ProbeTimeout(t *testing.T) {
	m := newManager()
	t.Cleanup(m.Stop)
	b := fastBackoff()
	b.ProbeTimeout = 5 * time.Millisecond
	w := m.Watch(t.Context(), Spec{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: b,
	})
	eventually(t, func() bool { return errors.Is(w.LastError(), context.DeadlineExceeded) }, "probe was not bounded")
}

func TestWatcher_StopOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	m := newManager()
	w := m.Watch(ctx, Spec{Name: "x", Probe: func(context.Context) error { return nil }, Backoff: fastBackoff()})
	cancel()
	select {
	case <-w.done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit after cancel")
	}
}

func TestManager_StatusSortedAndReplace(t *testing.T) {
	m := newManager()
	t.Cleanup(m.Stop)
	ok := func(context.Context) error { return nil }

	first := m.Watch(t.Context(), Spec{Name: ServiceWordPress, Probe: ok, Backoff: fastBackoff()})
	m.Watch(t.Context(), Spec{Name: ServiceModel, Probe: ok, Backoff: fastBackoff()})
	second := m.Watch(t.Context(), Spec{Name: ServiceWordPress, Probe: ok, Backoff: fastBackoff()})

	select {
	case <-first.done:
	case <-time.After(time.Second):
		t.Fatal("replaced watcher still running")
	}
	if m.Watcher(ServiceWordPress) != second {
		t.Error("Watcher did not return the replacement")
	}

	eventually(t, m.Healthy, "manager never healthy")
	st := m.Status()
	if len(st) != 2 || st[0].Name != ServiceModel || st[1].Name != ServiceWordPress {
		t.Errorf("status = %+v", st)
	}
}

func TestManager_WatchPanicsOnBadSpec(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	newManager().Watch(t.Context(), Spec{Name: "x"})
}
