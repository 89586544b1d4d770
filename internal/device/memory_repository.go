package device

import (
	"context"
	"sort"
	"sync"
	"time"
)

type tokenKey struct {
	userID string
	token  string
}

// InMemoryRepository is an in-memory implementation of Repository.
// It backs tests and STORE_BACKEND=memory.
type InMemoryRepository struct {
	mu     sync.RWMutex
	tokens map[tokenKey]*Token
}

// NewInMemoryRepository creates a new in-memory token repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		tokens: make(map[tokenKey]*Token),
	}
}

// Upsert registers a token, refreshing the user agent when it already exists.
func (r *InMemoryRepository) Upsert(_ context.Context, t *Token) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	key := tokenKey{userID: t.UserID, token: t.Token}
	if existing, ok := r.tokens[key]; ok {
		if t.UserAgent != "" {
			existing.UserAgent = t.UserAgent
		}
		existing.UpdatedAt = now
		t.CreatedAt = existing.CreatedAt
		t.UpdatedAt = now
		return false, nil
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	r.tokens[key] = copyToken(t)
	return true, nil
}

// ListByUser retrieves a user's tokens, newest first.
func (r *InMemoryRepository) ListByUser(_ context.Context, userID string, opts ListOptions) ([]*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Token
	for key, t := range r.tokens {
		if key.userID == userID {
			items = append(items, copyToken(t))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].Token < items[j].Token
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	if limit := opts.limit(); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// ListTokens returns all of a user's token strings.
func (r *InMemoryRepository) ListTokens(_ context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for key := range r.tokens {
		if key.userID == userID {
			out = append(out, key.token)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Delete removes a token if present.
func (r *InMemoryRepository) Delete(_ context.Context, userID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.tokens, tokenKey{userID: userID, token: token})
	return nil
}

// DeleteByUser removes all tokens for a user.
func (r *InMemoryRepository) DeleteByUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key := range r.tokens {
		if key.userID == userID {
			delete(r.tokens, key)
		}
	}
	return nil
}

func copyToken(t *Token) *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
