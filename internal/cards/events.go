// Package cards holds the client-side realtime sync core: the card event
// protocol, the local card store with its single reducer, and the engine that
// ties optimistic local mutation, peer broadcast and fire-and-forget
// persistence together.
package cards

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/odil/backend/internal/board"
)

// BroadcastEventName is the transport-level event name every protocol frame
// is published under.
const BroadcastEventName = "card-event"

// EventType tags a protocol event variant.
type EventType string

const (
	EventCardAdd    EventType = "card:add"
	EventCardUpdate EventType = "card:update"
	EventCardMove   EventType = "card:move"
	EventCardTyping EventType = "card:typing"
	EventCardColor  EventType = "card:color"
	EventCardVote   EventType = "card:vote"
	EventCardReact  EventType = "card:react"
	EventCardDelete EventType = "card:delete"
	EventCardsSync  EventType = "cards:sync"
	EventUserJoin   EventType = "user:join"
	EventUserRename EventType = "user:rename"
)

// ErrUnknownEventType indicates a frame carried a tag outside the protocol.
// Receivers log and drop such frames rather than silently ignoring them.
var ErrUnknownEventType = errors.New("cards: unknown event type")

// Event is one protocol message. The concrete variants below form a closed
// set; the reducer and the codec switch over all of them exhaustively.
type Event interface {
	EventType() EventType
}

// CardAdd appends a new card; duplicates by id are ignored.
type CardAdd struct {
	Card board.Card
}

// CardUpdate replaces a card wholesale, last write wins by arrival order.
type CardUpdate struct {
	Card board.Card
}

// CardMove patches a card's position. High frequency; broadcast throttled.
type CardMove struct {
	ID string
	X  float64
	Y  float64
}

// CardTyping patches a card's content. High frequency; broadcast throttled.
type CardTyping struct {
	ID      string
	Content string
}

// CardColor patches a card's color.
type CardColor struct {
	ID    string
	Color string
}

// CardVote patches the derived votes/votedBy pair; the sender computes both
// before broadcasting so they can never drift apart.
type CardVote struct {
	ID      string
	Votes   int
	VotedBy []string
}

// CardReact replaces the actor set for one reaction emoji.
type CardReact struct {
	ID        string
	Emoji     string
	ReactedBy []string
}

// CardDelete removes a card; no-op when the id is absent.
type CardDelete struct {
	ID string
}

// CardsSync merges a peer's full card list additively for late-join catch-up.
// Existing local cards are never overwritten.
type CardsSync struct {
	Cards []board.Card
}

// UserJoin announces a participant's presence and username. Not a card
// mutation; it feeds the participant-name cache.
type UserJoin struct {
	ActorID  string
	Username string
}

// UserRename announces a username change.
type UserRename struct {
	ActorID  string
	Username string
}

func (CardAdd) EventType() EventType    { return EventCardAdd }
func (CardUpdate) EventType() EventType { return EventCardUpdate }
func (CardMove) EventType() EventType   { return EventCardMove }
func (CardTyping) EventType() EventType { return EventCardTyping }
func (CardColor) EventType() EventType  { return EventCardColor }
func (CardVote) EventType() EventType   { return EventCardVote }
func (CardReact) EventType() EventType  { return EventCardReact }
func (CardDelete) EventType() EventType { return EventCardDelete }
func (CardsSync) EventType() EventType  { return EventCardsSync }
func (UserJoin) EventType() EventType   { return EventUserJoin }
func (UserRename) EventType() EventType { return EventUserRename }

// envelope is the wire shape: the variant's fields flattened next to the tag
// and the sender's origin id. Numeric and text patch fields are pointers so
// zero values survive the round trip.
type envelope struct {
	Type      EventType    `json:"type"`
	OriginID  string       `json:"originId"`
	Card      *board.Card  `json:"card,omitempty"`
	Cards     []board.Card `json:"cards,omitempty"`
	ID        string       `json:"id,omitempty"`
	X         *float64     `json:"x,omitempty"`
	Y         *float64     `json:"y,omitempty"`
	Content   *string      `json:"content,omitempty"`
	Color     string       `json:"color,omitempty"`
	Votes     *int         `json:"votes,omitempty"`
	VotedBy   []string     `json:"votedBy,omitempty"`
	Emoji     string       `json:"emoji,omitempty"`
	ReactedBy []string     `json:"reactedBy,omitempty"`
	ActorID   string       `json:"visitorId,omitempty"`
	Username  string       `json:"username,omitempty"`
}

// EncodeEvent serializes an event with the sender's origin tag.
func EncodeEvent(event Event, originID string) ([]byte, error) {
	wire := envelope{Type: event.EventType(), OriginID: originID}

	switch variant := event.(type) {
	case CardAdd:
		card := variant.Card
		wire.Card = &card
	case CardUpdate:
		card := variant.Card
		wire.Card = &card
	case CardMove:
		wire.ID = variant.ID
		wire.X = pointerTo(variant.X)
		wire.Y = pointerTo(variant.Y)
	case CardTyping:
		wire.ID = variant.ID
		wire.Content = pointerTo(variant.Content)
	case CardColor:
		wire.ID = variant.ID
		wire.Color = variant.Color
	case CardVote:
		wire.ID = variant.ID
		wire.Votes = pointerTo(variant.Votes)
		wire.VotedBy = variant.VotedBy
	case CardReact:
		wire.ID = variant.ID
		wire.Emoji = variant.Emoji
		wire.ReactedBy = variant.ReactedBy
	case CardDelete:
		wire.ID = variant.ID
	case CardsSync:
		wire.Cards = variant.Cards
	case UserJoin:
		wire.ActorID = variant.ActorID
		wire.Username = variant.Username
	case UserRename:
		wire.ActorID = variant.ActorID
		wire.Username = variant.Username
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEventType, event)
	}

	return json.Marshal(wire)
}

// DecodeEvent parses a frame, returning the event and the sender's origin
// tag. Frames with tags outside the protocol fail with ErrUnknownEventType.
func DecodeEvent(frame []byte) (Event, string, error) {
	var wire envelope
	if err := json.Unmarshal(frame, &wire); err != nil {
		return nil, "", fmt.Errorf("cards: malformed event frame: %w", err)
	}

	switch wire.Type {
	case EventCardAdd:
		if wire.Card == nil {
			return nil, "", fmt.Errorf("cards: %s frame missing card", wire.Type)
		}
		return CardAdd{Card: *wire.Card}, wire.OriginID, nil
	case EventCardUpdate:
		if wire.Card == nil {
			return nil, "", fmt.Errorf("cards: %s frame missing card", wire.Type)
		}
		return CardUpdate{Card: *wire.Card}, wire.OriginID, nil
	case EventCardMove:
		return CardMove{ID: wire.ID, X: valueOr(wire.X, 0), Y: valueOr(wire.Y, 0)}, wire.OriginID, nil
	case EventCardTyping:
		return CardTyping{ID: wire.ID, Content: valueOr(wire.Content, "")}, wire.OriginID, nil
	case EventCardColor:
		return CardColor{ID: wire.ID, Color: wire.Color}, wire.OriginID, nil
	case EventCardVote:
		return CardVote{ID: wire.ID, Votes: valueOr(wire.Votes, 0), VotedBy: wire.VotedBy}, wire.OriginID, nil
	case EventCardReact:
		return CardReact{ID: wire.ID, Emoji: wire.Emoji, ReactedBy: wire.ReactedBy}, wire.OriginID, nil
	case EventCardDelete:
		return CardDelete{ID: wire.ID}, wire.OriginID, nil
	case EventCardsSync:
		return CardsSync{Cards: wire.Cards}, wire.OriginID, nil
	case EventUserJoin:
		return UserJoin{ActorID: wire.ActorID, Username: wire.Username}, wire.OriginID, nil
	case EventUserRename:
		return UserRename{ActorID: wire.ActorID, Username: wire.Username}, wire.OriginID, nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownEventType, wire.Type)
	}
}

func pointerTo[T any](value T) *T {
	return &value
}

func valueOr[T any](pointer *T, fallback T) T {
	if pointer == nil {
		return fallback
	}
	return *pointer
}
