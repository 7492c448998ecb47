package throttle

import (
	"testing"
	"time"
)

// fakeTimer captures the deferred call so tests fire it deterministically.
type fakeTimer struct {
	fn      func()
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	wasActive := !f.stopped
	f.stopped = true
	return wasActive
}

type throttleHarness struct {
	now       time.Time
	timers    []*fakeTimer
	delays    []time.Duration
	published []int
}

func newThrottleHarness(t *testing.T, window time.Duration) (*Throttle[int], *throttleHarness) {
	t.Helper()
	harness := &throttleHarness{now: time.Unix(1700000000, 0)}
	throttle, err := New(Config[int]{
		Window:  window,
		Publish: func(value int) { harness.published = append(harness.published, value) },
		Clock:   func() time.Time { return harness.now },
		StartTimer: func(delay time.Duration, fn func()) TimerHandle {
			timer := &fakeTimer{fn: fn}
			harness.timers = append(harness.timers, timer)
			harness.delays = append(harness.delays, delay)
			return timer
		},
	})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	return throttle, harness
}

func (h *throttleHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *throttleHarness) fireLastTimer(t *testing.T) {
	t.Helper()
	if len(h.timers) == 0 {
		t.Fatalf("expected a trailing timer to be scheduled")
	}
	timer := h.timers[len(h.timers)-1]
	if timer.stopped {
		t.Fatalf("expected timer to still be active")
	}
	timer.fn()
}

func TestFirstCallFiresImmediately(t *testing.T) {
	throttle, harness := newThrottleHarness(t, 50*time.Millisecond)

	throttle.Call(1)

	if len(harness.published) != 1 || harness.published[0] != 1 {
		t.Fatalf("expected immediate leading publish, got %v", harness.published)
	}
	if len(harness.timers) != 0 {
		t.Fatalf("expected no trailing timer for a leading fire")
	}
}

func TestBurstCoalescesIntoOneTrailingCallWithLatestValue(t *testing.T) {
	throttle, harness := newThrottleHarness(t, 50*time.Millisecond)

	throttle.Call(1)
	harness.advance(10 * time.Millisecond)
	throttle.Call(2)
	harness.advance(10 * time.Millisecond)
	throttle.Call(3)
	harness.advance(10 * time.Millisecond)
	throttle.Call(4)

	if len(harness.published) != 1 {
		t.Fatalf("expected only the leading publish during the window, got %v", harness.published)
	}
	if len(harness.timers) != 1 {
		t.Fatalf("expected a single trailing timer, got %d", len(harness.timers))
	}
	if harness.delays[0] != 40*time.Millisecond {
		t.Fatalf("expected trailing delay for the remaining window, got %v", harness.delays[0])
	}

	harness.advance(20 * time.Millisecond)
	harness.fireLastTimer(t)

	if len(harness.published) != 2 || harness.published[1] != 4 {
		t.Fatalf("expected trailing publish with the latest value, got %v", harness.published)
	}
}

func TestCallAfterWindowFiresLeadingAgain(t *testing.T) {
	throttle, harness := newThrottleHarness(t, 50*time.Millisecond)

	throttle.Call(1)
	harness.advance(60 * time.Millisecond)
	throttle.Call(2)

	if len(harness.published) != 2 || harness.published[1] != 2 {
		t.Fatalf("expected a second leading publish after the window, got %v", harness.published)
	}
}

func TestLeadingFireCancelsStaleTrailingTimer(t *testing.T) {
	throttle, harness := newThrottleHarness(t, 50*time.Millisecond)

	throttle.Call(1)
	harness.advance(10 * time.Millisecond)
	throttle.Call(2)
	harness.advance(50 * time.Millisecond)
	throttle.Call(3)

	if !harness.timers[0].stopped {
		t.Fatalf("expected the stale trailing timer to be cancelled")
	}
	if len(harness.published) != 2 || harness.published[1] != 3 {
		t.Fatalf("expected leading publish of the new value, got %v", harness.published)
	}
}

func TestStopSuppressesPendingAndFutureCalls(t *testing.T) {
	throttle, harness := newThrottleHarness(t, 50*time.Millisecond)

	throttle.Call(1)
	harness.advance(10 * time.Millisecond)
	throttle.Call(2)
	throttle.Stop()

	if !harness.timers[0].stopped {
		t.Fatalf("expected pending timer stopped")
	}

	harness.advance(time.Second)
	throttle.Call(3)
	if len(harness.published) != 1 {
		t.Fatalf("expected no publishes after Stop, got %v", harness.published)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Config[int]{Window: 0, Publish: func(int) {}}); err == nil {
		t.Fatalf("expected rejection of zero window")
	}
	if _, err := New(Config[int]{Window: time.Millisecond}); err == nil {
		t.Fatalf("expected rejection of missing publish")
	}
}
