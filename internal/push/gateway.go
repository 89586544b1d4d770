// Package push delivers reminder notifications through a push gateway.
package push

import (
	"context"
	"fmt"
)

// ErrorCode is a provider error code reported for one message.
type ErrorCode string

// Error codes reported by gateways.
const (
	CodeTokenNotRegistered   ErrorCode = "messaging/registration-token-not-registered"
	CodeInvalidToken         ErrorCode = "messaging/invalid-registration-token"
	CodeInvalidArgument      ErrorCode = "messaging/invalid-argument"
	CodeMismatchedCredential ErrorCode = "messaging/mismatched-credential"
	CodeMessageRateExceeded  ErrorCode = "messaging/message-rate-exceeded"
	CodeServerUnavailable    ErrorCode = "messaging/server-unavailable"
	CodeInternalError        ErrorCode = "messaging/internal-error"
	CodeThirdPartyAuthError  ErrorCode = "messaging/third-party-auth-error"
	CodeUnknownError         ErrorCode = "messaging/unknown-error"
)

// InvalidatesToken reports whether the code means the token will never be
// deliverable again and should be removed.
func (c ErrorCode) InvalidatesToken() bool {
	return c == CodeTokenNotRegistered || c == CodeInvalidToken
}

// Notification is the visible part of a push message.
type Notification struct {
	Title string
	Body  string
}

// Message is one notification addressed to one device token.
type Message struct {
	Token        string
	UserID       string
	Notification Notification
}

// SendError is a per-message delivery failure.
type SendError struct {
	Code    ErrorCode
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result is the outcome for one message. Err is nil on success.
type Result struct {
	MessageID string
	Err       *SendError
}

// Success reports whether the message was accepted.
func (r Result) Success() bool {
	return r.Err == nil
}

// Gateway sends a batch of messages in one call.
//
// On a nil error the returned slice has exactly one Result per input message,
// in the same order. A non-nil error means the whole call failed and no
// per-message outcome is known.
type Gateway interface {
	SendEach(ctx context.Context, messages []Message) ([]Result, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, messages []Message) ([]Result, error)

// SendEach calls f.
func (f GatewayFunc) SendEach(ctx context.Context, messages []Message) ([]Result, error) {
	return f(ctx, messages)
}
