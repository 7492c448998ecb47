package cards

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/board"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/odil/backend/internal/throttle"
	"go.uber.org/zap"
)

const defaultThrottleWindow = 50 * time.Millisecond

var (
	errMissingTransport = errors.New("cards: transport is required")
	errMissingSessionID = errors.New("cards: session id is required")
	errMissingActorID   = errors.New("cards: actor id is required")

	// ErrCardNotFound indicates a local mutation referenced an unknown card id.
	ErrCardNotFound = errors.New("cards: card not found")
	// ErrSelfVote indicates an actor tried to vote on their own card.
	ErrSelfVote = errors.New("cards: voting on own card is not allowed")
)

// Gateway is the persistence surface the engine writes through. Every call is
// fire-and-forget from the engine's perspective; the gateway re-validates
// permissions server-side and its result is not reconciled against the local
// optimistic state (see EngineConfig.OnPersistError).
type Gateway interface {
	CreateCard(ctx context.Context, card board.Card) (board.Card, error)
	UpdateCard(ctx context.Context, id string, patch board.CardPatch, actorID string) (board.Card, error)
	VoteCard(ctx context.Context, id, actorID string) (board.Card, board.VoteAction, error)
	ReactCard(ctx context.Context, id, emoji, actorID string) (board.Card, error)
	DeleteCard(ctx context.Context, id, actorID string) error
}

// EngineConfig describes an engine for one (session, actor) pair.
type EngineConfig struct {
	SessionID string
	ActorID   string
	Username  string

	// Transport is the handle for the session's cards channel,
	// constructor-injected with a lifetime tied to the active session.
	Transport realtime.Transport

	// Gateway persists mutations. Optional: a nil gateway disables
	// persistence (broadcast-only operation).
	Gateway Gateway

	InitialCards []board.Card
	Logger       *zap.Logger

	// ThrottleWindow bounds the broadcast rate of move and typing events.
	// Defaults to 50ms. Local store updates are never throttled.
	ThrottleWindow time.Duration
	Clock          func() time.Time

	// OnParticipant is invoked for user:join and user:rename events so the
	// caller can maintain a participant-name view.
	OnParticipant func(actorID, username string)

	// OnPersistError is invoked when a fire-and-forget persistence call
	// fails. The optimistic local state is intentionally NOT rolled back;
	// this hook is the only signal a write was rejected.
	OnPersistError func(operation string, err error)
}

// Engine reconciles local optimistic state with the broadcast event stream.
// All mutation is serialized through one mutex-guarded reducer path invoked
// from both local action methods and the transport receive loop.
type Engine struct {
	sessionID string
	actorID   string
	username  string
	transport realtime.Transport
	gateway   Gateway
	logger    *zap.Logger

	mu     sync.Mutex
	store  *Store
	names  map[string]string
	online map[string]struct{}

	moveThrottle   *throttle.Throttle[CardMove]
	typingThrottle *throttle.Throttle[CardTyping]

	onParticipant  func(actorID, username string)
	onPersistError func(operation string, err error)

	persistWG sync.WaitGroup
	closeOnce sync.Once
}

// NewEngine validates the config and constructs an engine. Call Start to
// begin consuming transport events.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.SessionID == "" {
		return nil, errMissingSessionID
	}
	if cfg.ActorID == "" {
		return nil, errMissingActorID
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.ThrottleWindow
	if window <= 0 {
		window = defaultThrottleWindow
	}

	engine := &Engine{
		sessionID:      cfg.SessionID,
		actorID:        cfg.ActorID,
		username:       cfg.Username,
		transport:      cfg.Transport,
		gateway:        cfg.Gateway,
		logger:         logger,
		store:          NewStore(cfg.InitialCards),
		names:          make(map[string]string),
		online:         make(map[string]struct{}),
		onParticipant:  cfg.OnParticipant,
		onPersistError: cfg.OnPersistError,
	}
	if cfg.Username != "" {
		engine.names[cfg.ActorID] = cfg.Username
	}

	var err error
	engine.moveThrottle, err = throttle.New(throttle.Config[CardMove]{
		Window:  window,
		Clock:   cfg.Clock,
		Publish: func(event CardMove) { engine.broadcast(event) },
	})
	if err != nil {
		return nil, fmt.Errorf("cards: move throttle: %w", err)
	}
	engine.typingThrottle, err = throttle.New(throttle.Config[CardTyping]{
		Window:  window,
		Clock:   cfg.Clock,
		Publish: func(event CardTyping) { engine.broadcast(event) },
	})
	if err != nil {
		return nil, fmt.Errorf("cards: typing throttle: %w", err)
	}

	return engine, nil
}

// Start tracks presence, announces the actor, and launches the receive loop.
// The loop ends when ctx is cancelled or the transport closes.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.transport.Track(realtime.PresenceMeta{ActorID: e.actorID}); err != nil {
		return fmt.Errorf("cards: presence track failed: %w", err)
	}

	// Seed the roster with peers tracked before this client subscribed.
	// Presence events only cover joins that happen afterwards.
	roster := e.transport.Presence()
	e.mu.Lock()
	for _, meta := range roster {
		if meta.ActorID == "" || meta.ActorID == e.actorID {
			continue
		}
		e.online[meta.ActorID] = struct{}{}
	}
	e.mu.Unlock()

	if e.username != "" {
		e.broadcast(UserJoin{ActorID: e.actorID, Username: e.username})
	}
	go e.receiveLoop(ctx)
	return nil
}

// Close stops the throttles and releases the transport subscription.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.moveThrottle.Stop()
		e.typingThrottle.Stop()
		if err := e.transport.Close(); err != nil {
			e.logger.Warn("transport close failed", zap.Error(err))
		}
	})
}

// AddCard applies a new card optimistically, broadcasts it and persists it.
func (e *Engine) AddCard(card board.Card) {
	card.SessionID = e.sessionID
	if card.CreatedByID == "" {
		card.CreatedByID = e.actorID
	}
	if card.Color == "" {
		card.Color = board.DefaultCardColor
	}

	e.apply(CardAdd{Card: card})
	e.broadcast(CardAdd{Card: card})
	e.persist("create_card", func(ctx context.Context) error {
		_, err := e.gateway.CreateCard(ctx, card)
		return err
	})
}

// UpdateCard replaces a card wholesale, broadcasts and persists all mutable
// fields.
func (e *Engine) UpdateCard(card board.Card) {
	e.apply(CardUpdate{Card: card})
	e.broadcast(CardUpdate{Card: card})
	e.persist("update_card", func(ctx context.Context) error {
		patch := board.CardPatch{
			Content: &card.Content,
			Color:   &card.Color,
			X:       &card.X,
			Y:       &card.Y,
		}
		_, err := e.gateway.UpdateCard(ctx, card.ID, patch, e.actorID)
		return err
	})
}

// MoveCard patches the position locally (instant drag feedback) and
// broadcasts through the move throttle. The position is persisted separately
// via CommitPosition when the drag ends.
func (e *Engine) MoveCard(id string, x, y float64) {
	e.apply(CardMove{ID: id, X: x, Y: y})
	e.moveThrottle.Call(CardMove{ID: id, X: x, Y: y})
}

// CommitPosition persists the card's current position.
func (e *Engine) CommitPosition(id string) error {
	card, ok := e.card(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	e.persist("commit_position", func(ctx context.Context) error {
		patch := board.CardPatch{X: &card.X, Y: &card.Y}
		_, err := e.gateway.UpdateCard(ctx, id, patch, e.actorID)
		return err
	})
	return nil
}

// TypeCard patches the content locally on every keystroke and broadcasts
// through the typing throttle. Content is persisted via CommitContent.
func (e *Engine) TypeCard(id, content string) {
	e.apply(CardTyping{ID: id, Content: content})
	e.typingThrottle.Call(CardTyping{ID: id, Content: content})
}

// CommitContent persists the card's current content.
func (e *Engine) CommitContent(id string) error {
	card, ok := e.card(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	e.persist("commit_content", func(ctx context.Context) error {
		patch := board.CardPatch{Content: &card.Content}
		_, err := e.gateway.UpdateCard(ctx, id, patch, e.actorID)
		return err
	})
	return nil
}

// ChangeColor patches the color, broadcasts and persists.
func (e *Engine) ChangeColor(id, color string) {
	e.apply(CardColor{ID: id, Color: color})
	e.broadcast(CardColor{ID: id, Color: color})
	e.persist("change_color", func(ctx context.Context) error {
		patch := board.CardPatch{Color: &color}
		_, err := e.gateway.UpdateCard(ctx, id, patch, e.actorID)
		return err
	})
}

// VoteCard toggles the actor's vote. The derived votes/votedBy pair is
// computed before broadcasting so both fields travel together. Voting on the
// actor's own card fails with ErrSelfVote and leaves all state unchanged.
func (e *Engine) VoteCard(id string) error {
	card, ok := e.card(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	if card.CreatedByID == e.actorID {
		return ErrSelfVote
	}

	votedBy := make([]string, 0, len(card.VotedBy)+1)
	hadVoted := false
	for _, voter := range card.VotedBy {
		if voter == e.actorID {
			hadVoted = true
			continue
		}
		votedBy = append(votedBy, voter)
	}
	if !hadVoted {
		votedBy = append(votedBy, e.actorID)
	}

	event := CardVote{ID: id, Votes: len(votedBy), VotedBy: votedBy}
	e.apply(event)
	e.broadcast(event)
	e.persist("vote_card", func(ctx context.Context) error {
		_, _, err := e.gateway.VoteCard(ctx, id, e.actorID)
		return err
	})
	return nil
}

// ReactCard toggles the actor's membership in the card's reaction set for
// the emoji, broadcasts the new set and persists the toggle.
func (e *Engine) ReactCard(id, emoji string) error {
	card, ok := e.card(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}

	reactedBy := make([]string, 0, len(card.Reactions[emoji])+1)
	hadReacted := false
	for _, reactor := range card.Reactions[emoji] {
		if reactor == e.actorID {
			hadReacted = true
			continue
		}
		reactedBy = append(reactedBy, reactor)
	}
	if !hadReacted {
		reactedBy = append(reactedBy, e.actorID)
	}

	event := CardReact{ID: id, Emoji: emoji, ReactedBy: reactedBy}
	e.apply(event)
	e.broadcast(event)
	e.persist("react_card", func(ctx context.Context) error {
		_, err := e.gateway.ReactCard(ctx, id, emoji, e.actorID)
		return err
	})
	return nil
}

// RemoveCard deletes a card locally, broadcasts and persists the deletion.
func (e *Engine) RemoveCard(id string) {
	e.apply(CardDelete{ID: id})
	e.broadcast(CardDelete{ID: id})
	e.persist("delete_card", func(ctx context.Context) error {
		return e.gateway.DeleteCard(ctx, id, e.actorID)
	})
}

// AnnounceRename broadcasts the actor's new username to peers. Persistence of
// the username itself goes through the user gateway, not this engine.
func (e *Engine) AnnounceRename(username string) {
	e.mu.Lock()
	e.username = username
	e.names[e.actorID] = username
	e.mu.Unlock()
	e.broadcast(UserRename{ActorID: e.actorID, Username: username})
}

// Cards returns a snapshot of the local card collection.
func (e *Engine) Cards() []board.Card {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Cards()
}

// Card returns a snapshot of one card.
func (e *Engine) Card(id string) (board.Card, bool) {
	return e.card(id)
}

// ParticipantName returns the cached username for an actor, if known.
func (e *Engine) ParticipantName(actorID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name, ok := e.names[actorID]
	return name, ok
}

// OnlineActors returns the actors currently tracked as present. The roster is
// ephemeral and rebuilt from scratch after a reconnect.
func (e *Engine) OnlineActors() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	actors := make([]string, 0, len(e.online))
	for actorID := range e.online {
		actors = append(actors, actorID)
	}
	return actors
}

func (e *Engine) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-e.transport.Events():
			if !ok {
				return
			}
			switch event.Kind {
			case realtime.EventBroadcast:
				e.handleFrame(event.Frame)
			case realtime.EventPresenceJoin:
				e.handlePresenceJoin(event.ActorID)
			case realtime.EventPresenceLeave:
				e.handlePresenceLeave(event.ActorID)
			}
		}
	}
}

func (e *Engine) handleFrame(frame []byte) {
	event, originID, err := e.decodeFrame(frame)
	if err != nil {
		e.logger.Warn("discarding broadcast frame", zap.Error(err))
		return
	}
	// Echo suppression: never re-apply our own broadcasts.
	if originID == e.actorID {
		return
	}

	switch variant := event.(type) {
	case UserJoin:
		e.rememberParticipant(variant.ActorID, variant.Username)
	case UserRename:
		e.rememberParticipant(variant.ActorID, variant.Username)
	default:
		e.apply(event)
	}
}

func (e *Engine) decodeFrame(frame []byte) (Event, string, error) {
	return DecodeEvent(frame)
}

// handlePresenceJoin implements late-join catch-up: when another client
// appears, share the entire current card list. Receivers merge additively, so
// the joiner converges on the union of all live views.
func (e *Engine) handlePresenceJoin(actorID string) {
	if actorID == e.actorID {
		return
	}
	e.mu.Lock()
	e.online[actorID] = struct{}{}
	snapshot := e.store.Cards()
	e.mu.Unlock()

	if len(snapshot) > 0 {
		e.broadcast(CardsSync{Cards: snapshot})
	}
	e.mu.Lock()
	username := e.username
	e.mu.Unlock()
	if username != "" {
		e.broadcast(UserJoin{ActorID: e.actorID, Username: username})
	}
}

func (e *Engine) handlePresenceLeave(actorID string) {
	e.mu.Lock()
	delete(e.online, actorID)
	e.mu.Unlock()
}

func (e *Engine) rememberParticipant(actorID, username string) {
	if actorID == "" || username == "" {
		return
	}
	e.mu.Lock()
	e.names[actorID] = username
	e.mu.Unlock()
	if e.onParticipant != nil {
		e.onParticipant(actorID, username)
	}
}

func (e *Engine) apply(event Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.store.Apply(event)
}

func (e *Engine) card(id string) (board.Card, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

func (e *Engine) broadcast(event Event) {
	frame, err := EncodeEvent(event, e.actorID)
	if err != nil {
		e.logger.Warn("encoding broadcast failed", zap.String("event", string(event.EventType())), zap.Error(err))
		return
	}
	if err := e.transport.Send(frame); err != nil {
		// Best-effort: broadcast failures are swallowed, persistence and the
		// next cards:sync heal any divergence.
		e.logger.Warn("broadcast send failed", zap.String("event", string(event.EventType())), zap.Error(err))
	}
}

// persist runs a gateway call detached from the caller. In-flight calls are
// never cancelled; a rejected write is reported but the optimistic local
// state is not rolled back.
func (e *Engine) persist(operation string, fn func(context.Context) error) {
	if e.gateway == nil {
		return
	}
	e.persistWG.Add(1)
	go func() {
		defer e.persistWG.Done()
		if err := fn(context.Background()); err != nil {
			e.logger.Warn("persist failed, local state not rolled back",
				zap.String("operation", operation),
				zap.Error(err))
			if e.onPersistError != nil {
				e.onPersistError(operation, err)
			}
		}
	}()
}
