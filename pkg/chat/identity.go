package chat

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 20
	MaxMessageLength  = 500
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var (
	ErrUsernameEmpty     = errors.New("Username cannot be empty")
	ErrUsernameTooShort  = errors.New("Username must be at least 3 characters")
	ErrUsernameTooLong   = errors.New("Username must be 20 characters or less")
	ErrUsernameCharset   = errors.New("Username can only contain letters, numbers, - and _")
	ErrMessageEmpty      = errors.New("Message cannot be empty")
	ErrMessageTooLong    = errors.Errorf("Message too long (max %d characters)", MaxMessageLength)
	ErrUsernameRequired  = errors.New("chat username not set")
	ErrUserIDUnavailable = errors.New("user id not available")
)

// Identity is fixed for the lifetime of a connection.
type Identity struct {
	Username string
	UserID   string
}

// ValidateUsername trims name and checks it against the username rules.
// The returned error text is meant to be shown to the user as-is.
func ValidateUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	switch {
	case n == 0:
		return "", ErrUsernameEmpty
	case n < MinUsernameLength:
		return "", ErrUsernameTooShort
	case n > MaxUsernameLength:
		return "", ErrUsernameTooLong
	case !usernamePattern.MatchString(name):
		return "", ErrUsernameCharset
	}
	return name, nil
}

// ValidateMessage trims text and enforces the outgoing message limits.
func ValidateMessage(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrMessageEmpty
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return "", ErrMessageTooLong
	}
	return text, nil
}
