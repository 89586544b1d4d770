package device

import (
	"context"
	"strings"
	"time"

	"github.com/medtracker/medtracker/internal/api/models"
)

// Service provides token registration operations.
type Service struct {
	repo Repository
}

// NewService creates a new token service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// List retrieves a user's registered tokens.
func (s *Service) List(ctx context.Context, userID string, limit int) (*models.PagedFCMTokens, error) {
	opts := ListOptions{Limit: limit}
	tokens, err := s.repo.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	items := make([]models.FCMToken, 0, len(tokens))
	for _, t := range tokens {
		items = append(items, toAPIToken(t))
	}

	return &models.PagedFCMTokens{
		Items: items,
		Meta:  models.PagedResponseMeta{Limit: opts.limit()},
	}, nil
}

// Register stores a token for the user.
// Returns the token and whether it was newly created.
func (s *Service) Register(ctx context.Context, userID, token string, input *models.FCMTokenRegisterRequest) (*models.FCMToken, bool, error) {
	token = strings.TrimSpace(token)
	if !validToken(token) {
		return nil, false, ErrInvalidToken
	}

	t := &Token{UserID: userID, Token: token, CreatedAt: time.Now()}
	if input != nil {
		t.UserAgent = input.UserAgent
	}

	created, err := s.repo.Upsert(ctx, t)
	if err != nil {
		return nil, false, err
	}

	result := toAPIToken(t)
	return &result, created, nil
}

// Unregister removes a token. Unknown tokens are ignored.
func (s *Service) Unregister(ctx context.Context, userID, token string) error {
	if !validToken(token) {
		return ErrInvalidToken
	}
	return s.repo.Delete(ctx, userID, token)
}

// validToken rejects values that cannot be a Firestore document ID.
func validToken(token string) bool {
	if token == "" || len(token) > MaxTokenLength {
		return false
	}
	if token == "." || token == ".." || strings.Contains(token, "/") {
		return false
	}
	return true
}

func toAPIToken(t *Token) models.FCMToken {
	return models.FCMToken{
		TokenLast8: t.TokenLast8(),
		UserAgent:  t.UserAgent,
		CreatedAt:  models.Timestamp(t.CreatedAt),
	}
}
