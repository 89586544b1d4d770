package auth

import (
	"context"
	"fmt"

	fbauth "firebase.google.com/go/v4/auth"
)

// IDTokenVerifier is the subset of *auth.Client used by FirebaseVerifier.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
}

// FirebaseVerifier verifies Firebase Authentication ID tokens, the tokens
// the web client already holds after sign-in.
type FirebaseVerifier struct {
	client IDTokenVerifier
}

// NewFirebaseVerifier creates a verifier over a Firebase Auth client.
func NewFirebaseVerifier(client IDTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

// Verify checks the ID token signature, audience, and expiry.
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}

	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		if fbauth.IsIDTokenExpired(err) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}
	if decoded.UID == "" {
		return "", ErrInvalidToken
	}
	return decoded.UID, nil
}
