package push

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"
)

// LogGateway logs messages instead of sending them. Every message succeeds.
type LogGateway struct {
	logger zerolog.Logger
}

// NewLogGateway creates a dry-run gateway.
func NewLogGateway(logger zerolog.Logger) *LogGateway {
	return &LogGateway{logger: logger.With().Str("component", "push_dry_run").Logger()}
}

// SendEach logs each message and reports success.
func (g *LogGateway) SendEach(_ context.Context, messages []Message) ([]Result, error) {
	results := make([]Result, len(messages))
	for i, m := range messages {
		g.logger.Info().
			Str("user_id", m.UserID).
			Str("token", Redact(m.Token)).
			Str("title", m.Notification.Title).
			Str("body", m.Notification.Body).
			Msg("dry run: notification not sent")
		results[i] = Result{MessageID: "dry-run-" + strconv.Itoa(i)}
	}
	return results, nil
}

// Redact shortens a token for logs.
func Redact(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:6] + "..." + token[len(token)-6:]
}
