package board

import (
	"errors"
	"fmt"
	"strings"
)

const (
	sessionNameMinLength = 2
	sessionNameMaxLength = 50
	usernameMinLength    = 2
	usernameMaxLength    = 30
)

var (
	// ErrInvalidSessionName indicates a session name outside the accepted bounds.
	ErrInvalidSessionName = errors.New("board: invalid session name")
	// ErrInvalidUsername indicates a username outside the accepted bounds.
	ErrInvalidUsername = errors.New("board: invalid username")
	// ErrInvalidReaction indicates an emoji outside the supported reaction set.
	ErrInvalidReaction = errors.New("board: invalid reaction emoji")
)

// ValidateSessionName checks length bounds and rejects control characters.
// Returns the trimmed name on success.
func ValidateSessionName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if len(trimmed) < sessionNameMinLength {
		return "", fmt.Errorf("%w: must be at least %d characters", ErrInvalidSessionName, sessionNameMinLength)
	}
	if len(trimmed) > sessionNameMaxLength {
		return "", fmt.Errorf("%w: must be at most %d characters", ErrInvalidSessionName, sessionNameMaxLength)
	}
	if containsControlCharacters(trimmed) {
		return "", fmt.Errorf("%w: contains control characters", ErrInvalidSessionName)
	}
	return trimmed, nil
}

// ValidateUsername checks length bounds and rejects control characters.
// Returns the trimmed username on success.
func ValidateUsername(username string) (string, error) {
	trimmed := strings.TrimSpace(username)
	if len(trimmed) < usernameMinLength {
		return "", fmt.Errorf("%w: must be at least %d characters", ErrInvalidUsername, usernameMinLength)
	}
	if len(trimmed) > usernameMaxLength {
		return "", fmt.Errorf("%w: must be at most %d characters", ErrInvalidUsername, usernameMaxLength)
	}
	if containsControlCharacters(trimmed) {
		return "", fmt.Errorf("%w: contains control characters", ErrInvalidUsername)
	}
	return trimmed, nil
}

// ReactionEmojis is the fixed reaction picker set.
var ReactionEmojis = []string{"👍", "❤️", "🔥", "💡", "🎯"}

// ValidateReaction rejects emojis outside the supported set.
func ValidateReaction(emoji string) error {
	for _, allowed := range ReactionEmojis {
		if emoji == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidReaction, emoji)
}

// ASCII 0-31 and 127.
func containsControlCharacters(value string) bool {
	for _, r := range value {
		if r < 32 || r == 127 {
			return true
		}
	}
	return false
}
