// Package realtime provides the session-scoped broadcast transport: an
// in-process hub with presence tracking plus a websocket binding. The hub
// guarantees FIFO delivery per subscriber within a channel and never echoes a
// frame back to its sender; it makes no ordering promise across channels.
package realtime

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// EventKind discriminates transport events delivered to a subscriber.
type EventKind int

const (
	// EventBroadcast carries a frame published by another subscriber.
	EventBroadcast EventKind = iota
	// EventPresenceJoin signals another client started tracking presence.
	EventPresenceJoin
	// EventPresenceLeave signals a tracked client left the channel.
	EventPresenceLeave
)

// Event is one transport delivery: either a broadcast frame or a presence
// notification.
type Event struct {
	Kind    EventKind
	Frame   []byte
	ActorID string
}

// PresenceMeta is the metadata a client announces when tracking presence.
type PresenceMeta struct {
	ActorID string `json:"actorId"`
}

// Transport is the handle a client holds for one named channel. It is
// constructor-injected into consumers; there is no package-level client.
type Transport interface {
	Send(frame []byte) error
	Track(meta PresenceMeta) error
	Events() <-chan Event
	Presence() []PresenceMeta
	Close() error
}

var (
	errEmptyChannel    = errors.New("realtime: channel name is required")
	errEmptyClientID   = errors.New("realtime: client id is required")
	errDuplicateClient = errors.New("realtime: client already subscribed to channel")
	errClosed          = errors.New("realtime: subscription closed")
)

var (
	framesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odil_realtime_frames_published_total",
		Help: "Broadcast frames accepted by the hub",
	})
	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "odil_realtime_frames_dropped_total",
		Help: "Frames dropped because a subscriber buffer was full",
	})
	subscriberGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "odil_realtime_subscribers",
		Help: "Currently registered channel subscribers",
	})
)

// Hub fans broadcast frames and presence events out to channel subscribers.
type Hub struct {
	mu         sync.RWMutex
	channels   map[string]map[string]*Subscription
	bufferSize int
	logger     *zap.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		channels:   make(map[string]map[string]*Subscription),
		bufferSize: 64,
		logger:     logger,
	}
}

// Subscription is one client's membership in one channel.
type Subscription struct {
	hub      *Hub
	channel  string
	clientID string

	mu      sync.Mutex
	events  chan Event
	tracked bool
	meta    PresenceMeta
	closed  bool
}

// Subscribe registers a client on a channel and returns its subscription.
// The client receives broadcasts published by other subscribers of the same
// channel, in publish order, but never its own.
func (h *Hub) Subscribe(channel, clientID string) (*Subscription, error) {
	if channel == "" {
		return nil, errEmptyChannel
	}
	if clientID == "" {
		return nil, errEmptyClientID
	}

	subscription := &Subscription{
		hub:      h,
		channel:  channel,
		clientID: clientID,
		events:   make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[string]*Subscription)
	}
	if _, ok := h.channels[channel][clientID]; ok {
		return nil, errDuplicateClient
	}
	h.channels[channel][clientID] = subscription
	subscriberGauge.Inc()
	return subscription, nil
}

// Publish fans a frame out to every subscriber of the channel except the
// sender. Slow subscribers are skipped rather than blocking the channel.
func (h *Hub) Publish(channel, senderID string, frame []byte) {
	h.mu.RLock()
	subscribers := make([]*Subscription, 0, len(h.channels[channel]))
	for clientID, subscription := range h.channels[channel] {
		if clientID == senderID {
			continue
		}
		subscribers = append(subscribers, subscription)
	}
	h.mu.RUnlock()

	framesPublished.Inc()
	for _, subscription := range subscribers {
		subscription.deliver(Event{Kind: EventBroadcast, Frame: frame})
	}
}

// Send publishes a broadcast frame on the subscription's channel.
func (s *Subscription) Send(frame []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	s.mu.Unlock()
	s.hub.Publish(s.channel, s.clientID, frame)
	return nil
}

// Track announces presence on the channel. Other subscribers receive a join
// event; tracking twice updates the metadata without a second event.
func (s *Subscription) Track(meta PresenceMeta) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errClosed
	}
	alreadyTracked := s.tracked
	s.tracked = true
	s.meta = meta
	s.mu.Unlock()

	if !alreadyTracked {
		s.hub.notifyPresence(s.channel, s.clientID, Event{Kind: EventPresenceJoin, ActorID: meta.ActorID})
	}
	return nil
}

// Events returns the subscriber's FIFO delivery stream. The channel is closed
// when the subscription is.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Presence returns the metadata of every tracked subscriber on the channel.
func (s *Subscription) Presence() []PresenceMeta {
	return s.hub.presence(s.channel)
}

// Close unregisters the subscription, emitting a presence leave event to the
// remaining subscribers if it was tracked.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wasTracked := s.tracked
	meta := s.meta
	s.mu.Unlock()

	s.hub.unsubscribe(s.channel, s.clientID)
	if wasTracked {
		s.hub.notifyPresence(s.channel, s.clientID, Event{Kind: EventPresenceLeave, ActorID: meta.ActorID})
	}
	close(s.events)
	return nil
}

func (s *Subscription) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
		framesDropped.Inc()
		s.hub.logger.Warn("dropping frame for slow subscriber",
			zap.String("channel", s.channel),
			zap.String("client_id", s.clientID))
	}
}

func (h *Hub) notifyPresence(channel, senderID string, event Event) {
	h.mu.RLock()
	subscribers := make([]*Subscription, 0, len(h.channels[channel]))
	for clientID, subscription := range h.channels[channel] {
		if clientID == senderID {
			continue
		}
		subscribers = append(subscribers, subscription)
	}
	h.mu.RUnlock()

	for _, subscription := range subscribers {
		subscription.deliver(event)
	}
}

func (h *Hub) presence(channel string) []PresenceMeta {
	h.mu.RLock()
	defer h.mu.RUnlock()
	roster := make([]PresenceMeta, 0)
	for _, subscription := range h.channels[channel] {
		subscription.mu.Lock()
		if subscription.tracked {
			roster = append(roster, subscription.meta)
		}
		subscription.mu.Unlock()
	}
	return roster
}

func (h *Hub) unsubscribe(channel, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subscribers := h.channels[channel]
	if subscribers == nil {
		return
	}
	if _, ok := subscribers[clientID]; !ok {
		return
	}
	delete(subscribers, clientID)
	subscriberGauge.Dec()
	if len(subscribers) == 0 {
		delete(h.channels, channel)
	}
}
