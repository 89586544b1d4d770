// Package device manages the FCM registration tokens that receive reminder pushes.
package device

import (
	"errors"
	"time"
)

// Repository errors.
var (
	ErrTokenNotFound = errors.New("fcm token not found")
	ErrInvalidToken  = errors.New("fcm token is invalid")
)

// MaxTokenLength bounds accepted registration tokens. FCM web tokens are well under this.
const MaxTokenLength = 4096

// Token is one FCM registration token belonging to a user.
type Token struct {
	UserID    string
	Token     string
	UserAgent string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TokenLast8 returns the last 8 characters of the token for display purposes.
func (t *Token) TokenLast8() string {
	if len(t.Token) < 8 {
		return t.Token
	}
	return t.Token[len(t.Token)-8:]
}

// ListOptions contains options for listing tokens.
type ListOptions struct {
	Limit int
}

// DefaultListLimit caps list queries when no limit is given.
const DefaultListLimit = 50

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}
