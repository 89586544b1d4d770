package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtracker/medtracker/internal/auth"
)

func newHMAC() *auth.HMACVerifier {
	return auth.NewHMACVerifier(auth.HMACConfig{
		SigningKey: "test-secret-key-for-testing-only",
		Issuer:     "medtracker-local",
		Audience:   "medtracker-api",
	})
}

func TestHMACVerifier_IssueAndVerify(t *testing.T) {
	v := newHMAC()

	token, err := v.Issue("user-123", auth.DefaultTokenExpiry)
	require.NoError(t, err)

	userID, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", userID)
}

func TestHMACVerifier_Expired(t *testing.T) {
	v := newHMAC()

	token, err := v.Issue("user-123", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestHMACVerifier_Rejects(t *testing.T) {
	v := newHMAC()
	other := auth.NewHMACVerifier(auth.HMACConfig{SigningKey: "another-key", Issuer: "medtracker-local", Audience: "medtracker-api"})
	wrongAudience := auth.NewHMACVerifier(auth.HMACConfig{SigningKey: "test-secret-key-for-testing-only", Issuer: "medtracker-local", Audience: "other"})

	foreign, err := other.Issue("user-123", time.Hour)
	require.NoError(t, err)
	misaddressed, err := wrongAudience.Issue("user-123", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"malformed", "not.a.jwt"},
		{"wrong key", foreign},
		{"wrong audience", misaddressed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

type fakeIDTokens struct {
	token *fbauth.Token
	err   error
}

func (f *fakeIDTokens) VerifyIDToken(context.Context, string) (*fbauth.Token, error) {
	return f.token, f.err
}

func TestFirebaseVerifier(t *testing.T) {
	v := auth.NewFirebaseVerifier(&fakeIDTokens{token: &fbauth.Token{UID: "firebase-uid"}})
	uid, err := v.Verify(context.Background(), "id-token")
	require.NoError(t, err)
	assert.Equal(t, "firebase-uid", uid)

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestFirebaseVerifier_Errors(t *testing.T) {
	v := auth.NewFirebaseVerifier(&fakeIDTokens{err: errors.New("signature mismatch")})
	_, err := v.Verify(context.Background(), "id-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	v = auth.NewFirebaseVerifier(&fakeIDTokens{token: &fbauth.Token{}})
	_, err = v.Verify(context.Background(), "id-token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
