// Package auth verifies the bearer tokens presented to the API.
package auth

import (
	"context"
	"errors"
)

// Verification errors.
var (
	ErrInvalidToken = errors.New("invalid id token")
	ErrTokenExpired = errors.New("id token has expired")
)

// Verifier checks a bearer token and returns the authenticated user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (string, error)
}
