// Package throttle provides a leading-edge throttle with a trailing call:
// the first call in a window fires immediately, later calls within the window
// are coalesced into a single deferred call carrying the latest value. At most
// one publish happens per window.
package throttle

import (
	"errors"
	"sync"
	"time"
)

var (
	errMissingWindow  = errors.New("throttle: window must be positive")
	errMissingPublish = errors.New("throttle: publish function is required")
)

// TimerHandle abstracts a cancellable deferred call.
type TimerHandle interface {
	Stop() bool
}

// Config describes a throttle. Clock and StartTimer default to the real
// clock and time.AfterFunc; tests inject both to drive windows manually.
type Config[T any] struct {
	Window     time.Duration
	Publish    func(T)
	Clock      func() time.Time
	StartTimer func(delay time.Duration, fn func()) TimerHandle
}

// Throttle is the per-channel throttle state machine: last fire time plus an
// optional pending trailing call and its latest value.
type Throttle[T any] struct {
	window     time.Duration
	publish    func(T)
	clock      func() time.Time
	startTimer func(delay time.Duration, fn func()) TimerHandle

	mu           sync.Mutex
	lastFire     time.Time
	pendingTimer TimerHandle
	pendingValue T
	stopped      bool
}

// New constructs a throttle from the config.
func New[T any](cfg Config[T]) (*Throttle[T], error) {
	if cfg.Window <= 0 {
		return nil, errMissingWindow
	}
	if cfg.Publish == nil {
		return nil, errMissingPublish
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	startTimer := cfg.StartTimer
	if startTimer == nil {
		startTimer = func(delay time.Duration, fn func()) TimerHandle {
			return time.AfterFunc(delay, fn)
		}
	}

	return &Throttle[T]{
		window:     cfg.Window,
		publish:    cfg.Publish,
		clock:      clock,
		startTimer: startTimer,
	}, nil
}

// Call publishes immediately when the window has elapsed since the last fire;
// otherwise it stores the value for a single trailing call at the window
// boundary, replacing any previously stored value.
func (t *Throttle[T]) Call(value T) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}

	now := t.clock()
	remaining := t.window - now.Sub(t.lastFire)
	if remaining <= 0 {
		if t.pendingTimer != nil {
			t.pendingTimer.Stop()
			t.pendingTimer = nil
		}
		t.lastFire = now
		t.mu.Unlock()
		t.publish(value)
		return
	}

	t.pendingValue = value
	if t.pendingTimer == nil {
		t.pendingTimer = t.startTimer(remaining, t.fireTrailing)
	}
	t.mu.Unlock()
}

// Stop cancels any pending trailing call and ignores further Call invocations.
func (t *Throttle[T]) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.pendingTimer != nil {
		t.pendingTimer.Stop()
		t.pendingTimer = nil
	}
}

func (t *Throttle[T]) fireTrailing() {
	t.mu.Lock()
	if t.stopped || t.pendingTimer == nil {
		t.mu.Unlock()
		return
	}
	t.lastFire = t.clock()
	t.pendingTimer = nil
	value := t.pendingValue
	t.mu.Unlock()
	t.publish(value)
}
