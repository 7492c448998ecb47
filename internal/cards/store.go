package cards

import "github.com/MarcoPoloResearchLab/odil/backend/internal/board"

// Store is the Local Card Store: the in-memory card collection for exactly
// one active session on one client. It is the single mutable source of
// client-visible truth, mutated only through Apply so that local optimistic
// actions and remote broadcast events follow identical semantics.
//
// The store itself is not synchronized; the owning engine serializes every
// Apply call, preserving the single-threaded event-driven model.
type Store struct {
	cards []board.Card
}

// NewStore copies the initial card list into a fresh store.
func NewStore(initial []board.Card) *Store {
	cards := make([]board.Card, len(initial))
	copy(cards, initial)
	return &Store{cards: cards}
}

// Apply is the reducer. Card events mutate the collection; the user:join and
// user:rename variants are participant-cache concerns handled by the engine
// and leave the collection untouched.
func (s *Store) Apply(event Event) {
	switch variant := event.(type) {
	case CardAdd:
		if s.contains(variant.Card.ID) {
			return
		}
		s.cards = append(s.cards, variant.Card)
	case CardUpdate:
		for i := range s.cards {
			if s.cards[i].ID == variant.Card.ID {
				s.cards[i] = variant.Card
				return
			}
		}
	case CardMove:
		for i := range s.cards {
			if s.cards[i].ID == variant.ID {
				s.cards[i].X = variant.X
				s.cards[i].Y = variant.Y
				return
			}
		}
	case CardTyping:
		for i := range s.cards {
			if s.cards[i].ID == variant.ID {
				s.cards[i].Content = variant.Content
				return
			}
		}
	case CardColor:
		for i := range s.cards {
			if s.cards[i].ID == variant.ID {
				s.cards[i].Color = variant.Color
				return
			}
		}
	case CardVote:
		for i := range s.cards {
			if s.cards[i].ID == variant.ID {
				s.cards[i].Votes = variant.Votes
				s.cards[i].VotedBy = variant.VotedBy
				return
			}
		}
	case CardReact:
		for i := range s.cards {
			if s.cards[i].ID == variant.ID {
				if s.cards[i].Reactions == nil {
					s.cards[i].Reactions = make(map[string][]string)
				}
				if len(variant.ReactedBy) == 0 {
					delete(s.cards[i].Reactions, variant.Emoji)
				} else {
					s.cards[i].Reactions[variant.Emoji] = variant.ReactedBy
				}
				return
			}
		}
	case CardDelete:
		for i := range s.cards {
			if s.cards[i].ID == variant.ID {
				s.cards = append(s.cards[:i], s.cards[i+1:]...)
				return
			}
		}
	case CardsSync:
		for _, incoming := range variant.Cards {
			if !s.contains(incoming.ID) {
				s.cards = append(s.cards, incoming)
			}
		}
	case UserJoin, UserRename:
		// Participant-name cache updates; no card mutation.
	}
}

// Cards returns a copy of the collection in insertion order.
func (s *Store) Cards() []board.Card {
	cards := make([]board.Card, len(s.cards))
	copy(cards, s.cards)
	return cards
}

// Get returns the card with the given id.
func (s *Store) Get(id string) (board.Card, bool) {
	for _, card := range s.cards {
		if card.ID == id {
			return card, true
		}
	}
	return board.Card{}, false
}

// Len returns the number of cards.
func (s *Store) Len() int {
	return len(s.cards)
}

func (s *Store) contains(id string) bool {
	for _, card := range s.cards {
		if card.ID == id {
			return true
		}
	}
	return false
}
