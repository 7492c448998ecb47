package board

import gonanoid "github.com/matoous/go-nanoid/v2"

const (
	sessionIDLength = 10
	cardIDLength    = 12
)

// IDProvider issues identifiers for new sessions and cards. Card ids are
// normally generated client-side; the provider exists so services and tests
// can inject deterministic values.
type IDProvider interface {
	NewSessionID() (string, error)
	NewCardID() (string, error)
}

type nanoidProvider struct{}

// NewNanoidProvider constructs an IDProvider issuing URL-safe nanoid slugs.
func NewNanoidProvider() IDProvider {
	return &nanoidProvider{}
}

func (p *nanoidProvider) NewSessionID() (string, error) {
	return gonanoid.New(sessionIDLength)
}

func (p *nanoidProvider) NewCardID() (string, error) {
	return gonanoid.New(cardIDLength)
}
