// Package cursors shares live pointer positions between the participants of
// one session over its cursor broadcast channel. Cursor state is ephemeral:
// nothing here touches storage, and a reconnect starts from an empty roster.
package cursors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/canvas"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/throttle"
	"go.uber.org/zap"
)

const defaultThrottleWindow = 50 * time.Millisecond

var (
	errMissingTransport = errors.New("cursors: transport is required")
	errMissingActorID   = errors.New("cursors: actor id is required")
)

// Variant pairs a pointer sprite with its accent color.
type Variant struct {
	Image string `json:"image"`
	Color string `json:"color"`
}

// Variants is the fixed palette of pointer appearances. Each client picks one
// at random for the lifetime of its session.
var Variants = []Variant{
	{Image: "/paw-cursor-purple.png", Color: "#8b5cf6"},
	{Image: "/paw-cursor-green.png", Color: "#22c55e"},
	{Image: "/paw-cursor-orange.png", Color: "#f97316"},
	{Image: "/paw-cursor-black.png", Color: "#1a1a1a"},
	{Image: "/paw-cursor-white.png", Color: "#f5f5f5"},
}

// RandomVariant returns one of Variants.
func RandomVariant() Variant {
	return Variants[rand.Intn(len(Variants))]
}

// Payload is the wire shape of one cursor update. Positions are world
// coordinates, already unprojected through the sender's viewport.
type Payload struct {
	Position  canvas.Point `json:"position"`
	ActorID   string       `json:"visitorId"`
	Name      string       `json:"name"`
	Color     string       `json:"color"`
	Image     string       `json:"cursorImage"`
	Timestamp int64        `json:"timestamp"`
}

// TrackerConfig describes a cursor tracker for one (session, actor) pair.
type TrackerConfig struct {
	ActorID  string
	Username string

	// Transport is the handle for the session's cursor channel,
	// constructor-injected like the card engine's.
	Transport realtime.Transport

	// Variant fixes the pointer appearance. Zero value picks a random one.
	Variant Variant

	Logger *zap.Logger

	// ThrottleWindow bounds the outbound publish rate. Defaults to 50ms.
	ThrottleWindow time.Duration
	Clock          func() time.Time
}

// Tracker publishes the local pointer position and maintains the roster of
// remote cursors keyed by actor id.
type Tracker struct {
	actorID   string
	username  string
	variant   Variant
	transport realtime.Transport
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	cursors map[string]Payload
	last    *Payload

	publishThrottle *throttle.Throttle[Payload]
	closeOnce       sync.Once
}

// NewTracker validates the config and constructs a tracker. Call Start to
// begin consuming transport events.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.ActorID == "" {
		return nil, errMissingActorID
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	variant := cfg.Variant
	if variant.Image == "" {
		variant = RandomVariant()
	}
	window := cfg.ThrottleWindow
	if window <= 0 {
		window = defaultThrottleWindow
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	tracker := &Tracker{
		actorID:   cfg.ActorID,
		username:  cfg.Username,
		variant:   variant,
		transport: cfg.Transport,
		logger:    logger,
		now:       clock,
		cursors:   make(map[string]Payload),
	}

	var err error
	tracker.publishThrottle, err = throttle.New(throttle.Config[Payload]{
		Window:  window,
		Clock:   cfg.Clock,
		Publish: tracker.send,
	})
	if err != nil {
		return nil, fmt.Errorf("cursors: publish throttle: %w", err)
	}
	return tracker, nil
}

// Start tracks presence and launches the receive loop. The loop ends when
// ctx is cancelled or the transport closes.
func (t *Tracker) Start(ctx context.Context) error {
	if err := t.transport.Track(realtime.PresenceMeta{ActorID: t.actorID}); err != nil {
		return fmt.Errorf("cursors: presence track failed: %w", err)
	}
	go t.receiveLoop(ctx)
	return nil
}

// Close stops the throttle and releases the transport subscription.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.publishThrottle.Stop()
		if err := t.transport.Close(); err != nil {
			t.logger.Warn("transport close failed", zap.Error(err))
		}
	})
}

// Move records a pointer movement at a world position and publishes it
// through the throttle.
func (t *Tracker) Move(position canvas.Point) {
	payload := Payload{
		Position:  position,
		ActorID:   t.actorID,
		Name:      t.username,
		Color:     t.variant.Color,
		Image:     t.variant.Image,
		Timestamp: t.now().UnixMilli(),
	}
	t.mu.Lock()
	t.last = &payload
	t.mu.Unlock()
	t.publishThrottle.Call(payload)
}

// Cursors returns the current remote cursor roster.
func (t *Tracker) Cursors() map[string]Payload {
	t.mu.Lock()
	defer t.mu.Unlock()
	roster := make(map[string]Payload, len(t.cursors))
	for actorID, payload := range t.cursors {
		roster[actorID] = payload
	}
	return roster
}

func (t *Tracker) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-t.transport.Events():
			if !ok {
				return
			}
			switch event.Kind {
			case realtime.EventBroadcast:
				t.handleFrame(event.Frame)
			case realtime.EventPresenceJoin:
				t.handlePresenceJoin(event.ActorID)
			case realtime.EventPresenceLeave:
				t.handlePresenceLeave(event.ActorID)
			}
		}
	}
}

func (t *Tracker) handleFrame(frame []byte) {
	var payload Payload
	if err := json.Unmarshal(frame, &payload); err != nil {
		t.logger.Warn("discarding cursor frame", zap.Error(err))
		return
	}
	// Never render our own cursor.
	if payload.ActorID == t.actorID {
		return
	}
	t.mu.Lock()
	t.cursors[payload.ActorID] = payload
	t.mu.Unlock()
}

// handlePresenceJoin rebroadcasts this client's last known position so the
// joiner sees every active cursor without waiting for the next movement.
func (t *Tracker) handlePresenceJoin(actorID string) {
	if actorID == t.actorID {
		return
	}
	t.mu.Lock()
	last := t.last
	t.mu.Unlock()
	if last != nil {
		t.send(*last)
	}
}

func (t *Tracker) handlePresenceLeave(actorID string) {
	t.mu.Lock()
	delete(t.cursors, actorID)
	t.mu.Unlock()
}

func (t *Tracker) send(payload Payload) {
	frame, err := json.Marshal(payload)
	if err != nil {
		t.logger.Warn("encoding cursor payload failed", zap.Error(err))
		return
	}
	if err := t.transport.Send(frame); err != nil {
		t.logger.Warn("cursor send failed", zap.Error(err))
	}
}
