package device

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository over the fcm_tokens table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL token repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Upsert registers a token, refreshing the user agent on conflict.
func (r *PostgresRepository) Upsert(ctx context.Context, t *Token) (bool, error) {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	query := `
		INSERT INTO fcm_tokens (user_id, token, user_agent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, token) DO UPDATE SET
			user_agent = COALESCE(NULLIF(EXCLUDED.user_agent, ''), fcm_tokens.user_agent),
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted, created_at, user_agent
	`

	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		t.UserID,
		t.Token,
		t.UserAgent,
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(&inserted, &t.CreatedAt, &t.UserAgent)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// ListByUser retrieves a user's tokens, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Token, error) {
	query := `
		SELECT user_id, token, user_agent, created_at, updated_at
		FROM fcm_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, opts.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*Token
	for rows.Next() {
		var t Token
		if err := rows.Scan(&t.UserID, &t.Token, &t.UserAgent, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		tokens = append(tokens, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// ListTokens returns all of a user's token strings.
func (r *PostgresRepository) ListTokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT token FROM fcm_tokens WHERE user_id = $1 ORDER BY token`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// Delete removes one token.
func (r *PostgresRepository) Delete(ctx context.Context, userID, token string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM fcm_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	return err
}

// DeleteByUser removes all tokens for a user.
func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM fcm_tokens WHERE user_id = $1`, userID)
	return err
}
