package device

import "context"

// Repository defines persistence for FCM tokens, keyed by (userID, token).
type Repository interface {
	// Upsert registers a token for a user. Returns true if it was newly created.
	Upsert(ctx context.Context, t *Token) (created bool, err error)

	// ListByUser retrieves a user's tokens, newest first.
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Token, error)

	// ListTokens returns all of a user's token strings.
	ListTokens(ctx context.Context, userID string) ([]string, error)

	// Delete removes one token. Deleting a missing token is not an error.
	Delete(ctx context.Context, userID, token string) error

	// DeleteByUser removes all tokens for a user.
	DeleteByUser(ctx context.Context, userID string) error
}
