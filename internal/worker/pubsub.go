package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// JobTypeDispatchReminders is the Pub/Sub job type that triggers a dispatch run.
const JobTypeDispatchReminders = "dispatch_reminders"

// PubSubHandler runs the dispatcher for trigger messages, such as those
// published by Cloud Scheduler.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	runner           Runner
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Runner           Runner
	Logger           zerolog.Logger
}

// JobMessage is the payload of a trigger message.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// One run at a time per process; a run can take up to a few minutes.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		runner:           cfg.Runner,
		logger:           cfg.Logger.With().Str("component", "pubsub").Logger(),
	}, nil
}

// Start receives messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		_ = h.Handle(ctx, msg.ID, msg.Data)
		msg.Ack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// Handle processes one message payload and returns the run error, if any.
// Messages are acked regardless: a failed run is not redelivered and the next
// trigger picks up whatever it left behind. Malformed and unknown messages
// are dropped.
func (h *PubSubHandler) Handle(ctx context.Context, messageID string, data []byte) error {
	return handleJob(ctx, h.logger.With().Str("message_id", messageID).Logger(), h.runner, data)
}

func handleJob(ctx context.Context, logger zerolog.Logger, runner Runner, data []byte) error {
	var job JobMessage
	if err := json.Unmarshal(data, &job); err != nil {
		logger.Error().Err(err).Msg("failed to parse message, dropping")
		return nil
	}

	switch job.JobType {
	case JobTypeDispatchReminders:
	default:
		logger.Warn().Str("job_type", job.JobType).Msg("unknown job type")
		return nil
	}

	result, err := runner.Run(ctx)
	if err != nil {
		ev := logger.Error().Err(err)
		if result != nil {
			ev = ev.Str("stage", string(result.Stage))
		}
		ev.Msg("job failed, not redelivering")
		return err
	}

	logger.Info().
		Str("job_type", job.JobType).
		Dur("duration", result.Duration).
		Int("reminders", result.RemindersFetched).
		Msg("job completed successfully")
	return nil
}
