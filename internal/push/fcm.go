package push

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/messaging"
)

// MaxFCMBatchSize is the largest batch SendEach accepts.
const MaxFCMBatchSize = 500

// ErrBatchTooLarge is returned when a batch exceeds MaxFCMBatchSize.
var ErrBatchTooLarge = errors.New("push batch exceeds FCM limit")

// MessagingClient is the subset of *messaging.Client used by FCMGateway.
type MessagingClient interface {
	SendEach(ctx context.Context, messages []*messaging.Message) (*messaging.BatchResponse, error)
}

// FCMOptions customises the web-push block of outgoing messages.
type FCMOptions struct {
	// IconURL is shown next to the notification in the browser.
	IconURL string
	// Link opens when the notification is clicked. Must be HTTPS.
	Link string
}

// FCMGateway sends messages with Firebase Cloud Messaging.
type FCMGateway struct {
	client MessagingClient
	opts   FCMOptions
}

// NewFCMGateway creates a gateway over a Firebase messaging client.
func NewFCMGateway(client MessagingClient, opts FCMOptions) *FCMGateway {
	return &FCMGateway{client: client, opts: opts}
}

// SendEach sends every message in one FCM SendEach call.
func (g *FCMGateway) SendEach(ctx context.Context, messages []Message) ([]Result, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	if len(messages) > MaxFCMBatchSize {
		return nil, fmt.Errorf("%w: %d messages", ErrBatchTooLarge, len(messages))
	}

	fcmMessages := make([]*messaging.Message, 0, len(messages))
	for _, m := range messages {
		fcmMessages = append(fcmMessages, g.toFCMMessage(m))
	}

	resp, err := g.client.SendEach(ctx, fcmMessages)
	if err != nil {
		return nil, fmt.Errorf("fcm send each: %w", err)
	}
	if resp == nil || len(resp.Responses) != len(messages) {
		return nil, fmt.Errorf("fcm send each: expected %d responses", len(messages))
	}

	results := make([]Result, len(messages))
	for i, r := range resp.Responses {
		if r.Success {
			results[i] = Result{MessageID: r.MessageID}
			continue
		}
		results[i] = Result{Err: classify(r.Error)}
	}
	return results, nil
}

func (g *FCMGateway) toFCMMessage(m Message) *messaging.Message {
	msg := &messaging.Message{
		Token: m.Token,
		Notification: &messaging.Notification{
			Title: m.Notification.Title,
			Body:  m.Notification.Body,
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: m.Notification.Title,
				Body:  m.Notification.Body,
				Icon:  g.opts.IconURL,
			},
		},
	}
	if g.opts.Link != "" {
		msg.Webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: g.opts.Link}
	}
	return msg
}

// classify maps an SDK error to a gateway error code.
func classify(err error) *SendError {
	if err == nil {
		return &SendError{Code: CodeUnknownError, Message: "unknown failure"}
	}

	return &SendError{Code: ClassifyError(err), Message: err.Error()}
}

// ClassifyError maps a Firebase messaging error to an ErrorCode.
// An INVALID_ARGUMENT that names the registration token is reported as an
// invalid token, since the token itself is malformed.
func ClassifyError(err error) ErrorCode {
	switch {
	case messaging.IsUnregistered(err):
		return CodeTokenNotRegistered
	case messaging.IsInvalidArgument(err):
		if mentionsRegistrationToken(err.Error()) {
			return CodeInvalidToken
		}
		return CodeInvalidArgument
	case messaging.IsSenderIDMismatch(err):
		return CodeMismatchedCredential
	case messaging.IsQuotaExceeded(err):
		return CodeMessageRateExceeded
	case messaging.IsUnavailable(err):
		return CodeServerUnavailable
	case messaging.IsInternal(err):
		return CodeInternalError
	case messaging.IsThirdPartyAuthError(err):
		return CodeThirdPartyAuthError
	default:
		return CodeUnknownError
	}
}

func mentionsRegistrationToken(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "registration token") || strings.Contains(lower, "registration-token")
}
