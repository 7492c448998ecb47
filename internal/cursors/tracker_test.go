package cursors

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/canvas"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/realtime"
)

type stubTransport struct {
	mu     sync.Mutex
	sent   [][]byte
	events chan realtime.Event
}

func newStubTransport() *stubTransport {
	return &stubTransport{events: make(chan realtime.Event, 16)}
}

func (s *stubTransport) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]byte, len(frame))
	copy(copied, frame)
	s.sent = append(s.sent, copied)
	return nil
}

func (s *stubTransport) Track(meta realtime.PresenceMeta) error { return nil }
func (s *stubTransport) Events() <-chan realtime.Event          { return s.events }
func (s *stubTransport) Presence() []realtime.PresenceMeta      { return nil }
func (s *stubTransport) Close() error                           { return nil }

func (s *stubTransport) sentPayloads(t *testing.T) []Payload {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	payloads := make([]Payload, 0, len(s.sent))
	for _, frame := range s.sent {
		var payload Payload
		if err := json.Unmarshal(frame, &payload); err != nil {
			t.Fatalf("undecodable cursor frame: %v", err)
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

func startTestTracker(t *testing.T) (*Tracker, *stubTransport) {
	t.Helper()
	transport := newStubTransport()
	tracker, err := NewTracker(TrackerConfig{
		ActorID:   "actor-self",
		Username:  "Curious Tabby",
		Transport: transport,
		Variant:   Variants[0],
	})
	if err != nil {
		t.Fatalf("unexpected tracker error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := tracker.Start(ctx); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		tracker.Close()
	})
	return tracker, transport
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached before deadline")
}

func TestMovePublishesWorldPosition(t *testing.T) {
	tracker, transport := startTestTracker(t)

	tracker.Move(canvas.Point{X: 120.5, Y: -33})

	payloads := transport.sentPayloads(t)
	if len(payloads) != 1 {
		t.Fatalf("expected one published payload, got %d", len(payloads))
	}
	payload := payloads[0]
	if payload.Position.X != 120.5 || payload.Position.Y != -33 {
		t.Fatalf("unexpected position: %+v", payload.Position)
	}
	if payload.ActorID != "actor-self" || payload.Name != "Curious Tabby" {
		t.Fatalf("unexpected identity fields: %+v", payload)
	}
	if payload.Color != Variants[0].Color || payload.Image != Variants[0].Image {
		t.Fatalf("unexpected variant fields: %+v", payload)
	}
}

func TestRemoteCursorsEnterAndLeaveRoster(t *testing.T) {
	tracker, transport := startTestTracker(t)

	remote := Payload{
		Position: canvas.Point{X: 1, Y: 2},
		ActorID:  "actor-other",
		Name:     "Bold Bengal",
	}
	frame, err := json.Marshal(remote)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	transport.events <- realtime.Event{Kind: realtime.EventBroadcast, Frame: frame}

	waitFor(t, func() bool {
		_, ok := tracker.Cursors()["actor-other"]
		return ok
	})

	transport.events <- realtime.Event{Kind: realtime.EventPresenceLeave, ActorID: "actor-other"}
	waitFor(t, func() bool {
		_, ok := tracker.Cursors()["actor-other"]
		return !ok
	})
}

func TestOwnFramesAreIgnored(t *testing.T) {
	tracker, transport := startTestTracker(t)

	own := Payload{Position: canvas.Point{X: 5, Y: 5}, ActorID: "actor-self"}
	frame, err := json.Marshal(own)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	transport.events <- realtime.Event{Kind: realtime.EventBroadcast, Frame: frame}

	// Give the receive loop a beat, then confirm the roster stayed empty.
	time.Sleep(50 * time.Millisecond)
	if len(tracker.Cursors()) != 0 {
		t.Fatalf("expected own cursor excluded from roster")
	}
}

func TestPresenceJoinRebroadcastsLastPosition(t *testing.T) {
	tracker, transport := startTestTracker(t)

	tracker.Move(canvas.Point{X: 42, Y: 17})
	transport.events <- realtime.Event{Kind: realtime.EventPresenceJoin, ActorID: "actor-joiner"}

	waitFor(t, func() bool {
		return len(transport.sentPayloads(t)) == 2
	})
	payloads := transport.sentPayloads(t)
	last := payloads[len(payloads)-1]
	if last.Position.X != 42 || last.Position.Y != 17 {
		t.Fatalf("expected last position rebroadcast, got %+v", last.Position)
	}
}

func TestJoinBeforeAnyMovementSendsNothing(t *testing.T) {
	tracker, transport := startTestTracker(t)
	_ = tracker

	transport.events <- realtime.Event{Kind: realtime.EventPresenceJoin, ActorID: "actor-joiner"}

	time.Sleep(50 * time.Millisecond)
	if len(transport.sentPayloads(t)) != 0 {
		t.Fatalf("expected nothing rebroadcast before the first movement")
	}
}
