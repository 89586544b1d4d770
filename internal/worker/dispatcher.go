package worker

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/medtracker/medtracker/internal/push"
	"github.com/medtracker/medtracker/internal/reminder"
	"github.com/medtracker/medtracker/internal/resilience"
	"github.com/medtracker/medtracker/internal/telemetry"
)

const tracerName = "github.com/medtracker/medtracker/internal/worker"

// Dependency names reported to the health registry.
const (
	DependencyReminderStore = "reminder_store"
	DependencyTokenStore    = "token_store"
	DependencyPushGateway   = "push_gateway"
)

// ReminderSource reads due reminders and deletes processed ones.
type ReminderSource interface {
	ListDue(ctx context.Context, from, to time.Time) ([]*reminder.Reminder, error)
	Delete(ctx context.Context, id string) error
}

// TokenSource reads a user's device tokens and deletes invalid ones.
type TokenSource interface {
	ListTokens(ctx context.Context, userID string) ([]string, error)
	Delete(ctx context.Context, userID, token string) error
}

// Stage is a step of one dispatcher run.
type Stage string

const (
	StageFetching        Stage = "FETCHING"
	StageGrouping        Stage = "GROUPING"
	StageResolvingTokens Stage = "RESOLVING_TOKENS"
	StageSending         Stage = "SENDING"
	StageReconciling     Stage = "RECONCILING"
	StageDeleting        Stage = "DELETING"
	StageDone            Stage = "DONE"
)

// RunResult summarises one dispatcher run.
type RunResult struct {
	StartTime   time.Time
	Duration    time.Duration
	WindowStart time.Time
	WindowEnd   time.Time

	RemindersFetched   int
	RemindersSkipped   int
	Users              int
	UsersWithoutTokens int
	TokenFetchFailures int

	MessagesBuilt  int
	MessagesSent   int
	MessagesFailed int
	GatewayCalls   int
	TokensInvalid  int

	RemindersDeleted int
	TokensDeleted    int

	// Stage is the last stage reached. It is StageDone only for a complete run.
	Stage Stage
}

// DispatcherConfig holds the collaborators for a Dispatcher.
type DispatcherConfig struct {
	Config    DispatchConfig
	Logger    zerolog.Logger
	Reminders ReminderSource
	Tokens    TokenSource
	Gateway   push.Gateway
	Clock     func() time.Time
	Metrics   *Metrics
	Registry  *resilience.Registry
}

// Dispatcher sends push notifications for due medication reminders.
type Dispatcher struct {
	config    DispatchConfig
	logger    zerolog.Logger
	reminders ReminderSource
	tokens    TokenSource
	gateway   push.Gateway
	now       func() time.Time
	metrics   *Metrics
	registry  *resilience.Registry
	retry     resilience.RetryConfig
	tracer    trace.Tracer
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	config := cfg.Config.withDefaults()
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Dispatcher{
		config:    config,
		logger:    cfg.Logger.With().Str("component", "dispatcher").Logger(),
		reminders: cfg.Reminders,
		tokens:    cfg.Tokens,
		gateway:   cfg.Gateway,
		now:       clock,
		metrics:   cfg.Metrics,
		registry:  cfg.Registry,
		retry:     resilience.DefaultRetryConfig(config.ReadRetries),
		tracer:    telemetry.Tracer(tracerName),
	}
}

// Metrics returns the dispatcher's metrics, which may be nil.
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// userGroup folds every due reminder of one user into one notification.
type userGroup struct {
	UserID      string
	MedName     string
	ReminderIDs []string
	Tokens      []string
}

type tokenRef struct {
	UserID string
	Token  string
}

type reconcileResult struct {
	Sent    int
	Failed  int
	Invalid []tokenRef
}

type cleanupResult struct {
	RemindersDeleted int
	TokensDeleted    int
}

// Run executes one dispatch cycle over [now, now+Lookahead).
// A returned error means the run stopped early; see RunResult.Stage.
func (d *Dispatcher) Run(ctx context.Context) (*RunResult, error) {
	if d.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.RunTimeout)
		defer cancel()
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.run")
	defer span.End()

	started := time.Now()
	now := d.now()
	result := &RunResult{
		StartTime:   now,
		WindowStart: now,
		WindowEnd:   now.Add(d.config.Lookahead),
		Stage:       StageFetching,
	}

	err := d.run(ctx, result)
	result.Duration = time.Since(started)

	span.SetAttributes(
		attribute.String("dispatch.stage", string(result.Stage)),
		attribute.Int("dispatch.reminders", result.RemindersFetched),
		attribute.Int("dispatch.messages", result.MessagesBuilt),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error().
			Err(err).
			Str("stage", string(result.Stage)).
			Dur("duration", result.Duration).
			Msg("reminder dispatch failed")
	} else if result.RemindersFetched > 0 {
		d.logger.Info().
			Int("reminders", result.RemindersFetched).
			Int("users", result.Users).
			Int("sent", result.MessagesSent).
			Int("failed", result.MessagesFailed).
			Int("reminders_deleted", result.RemindersDeleted).
			Int("tokens_deleted", result.TokensDeleted).
			Dur("duration", result.Duration).
			Msg("reminder dispatch completed")
	}

	d.metrics.Record(ctx, result, err)
	return result, err
}

func (d *Dispatcher) run(ctx context.Context, result *RunResult) error {
	due, err := d.fetchDue(ctx, result.WindowStart, result.WindowEnd)
	if err != nil {
		return fmt.Errorf("fetch due reminders: %w", err)
	}
	result.RemindersFetched = len(due)
	if len(due) == 0 {
		d.logger.Info().
			Time("window_start", result.WindowStart).
			Time("window_end", result.WindowEnd).
			Msg("no reminders due in this interval")
		result.Stage = StageDone
		return nil
	}

	result.Stage = StageGrouping
	groups, skipped := d.groupByUser(due)
	result.Users = len(groups)
	result.RemindersSkipped = skipped

	result.Stage = StageResolvingTokens
	result.TokenFetchFailures = d.resolveTokens(ctx, groups)

	result.Stage = StageSending
	batch, withoutTokens := d.buildBatch(groups)
	result.MessagesBuilt = len(batch)
	result.UsersWithoutTokens = withoutTokens

	results, calls, err := d.send(ctx, batch)
	result.GatewayCalls = calls
	if err != nil {
		return fmt.Errorf("send notifications: %w", err)
	}

	result.Stage = StageReconciling
	rec := d.reconcile(batch, results)
	result.MessagesSent = rec.Sent
	result.MessagesFailed = rec.Failed
	result.TokensInvalid = len(rec.Invalid)

	result.Stage = StageDeleting
	cleaned, err := d.cleanup(ctx, d.reminderIDsToDelete(due), rec.Invalid)
	result.RemindersDeleted = cleaned.RemindersDeleted
	result.TokensDeleted = cleaned.TokensDeleted
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}

	result.Stage = StageDone
	return nil
}

// fetchDue queries reminders due in [from, to), retrying transient failures.
func (d *Dispatcher) fetchDue(ctx context.Context, from, to time.Time) ([]*reminder.Reminder, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.fetch_due")
	defer span.End()

	due, err := resilience.Retry(ctx, d.retry, func(ctx context.Context) ([]*reminder.Reminder, error) {
		return d.reminders.ListDue(ctx, from, to)
	})
	d.recordOutcome(DependencyReminderStore, err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("dispatch.reminders", len(due)))
	return due, nil
}

// groupByUser folds reminders into one group per user, in first-seen order.
// A medication name is appended only if it is not already a substring of the
// accumulated name. Reminders without a user id are counted and skipped.
func (d *Dispatcher) groupByUser(due []*reminder.Reminder) ([]*userGroup, int) {
	var (
		groups  []*userGroup
		byUser  = make(map[string]*userGroup)
		skipped int
	)

	for _, r := range due {
		if r.UserID == "" {
			d.logger.Warn().Str("reminder_id", r.ID).Msg("reminder has no user id, skipping notification")
			skipped++
			continue
		}

		name := r.DisplayName()
		g, ok := byUser[r.UserID]
		if !ok {
			g = &userGroup{UserID: r.UserID, MedName: name}
			byUser[r.UserID] = g
			groups = append(groups, g)
		} else if !strings.Contains(g.MedName, name) {
			g.MedName += medNameSeparator + name
		}
		g.ReminderIDs = append(g.ReminderIDs, r.ID)
	}

	return groups, skipped
}

// resolveTokens fetches every user's tokens concurrently. A failed fetch
// leaves that user without tokens and does not affect other users.
// Returns the number of users whose fetch failed.
func (d *Dispatcher) resolveTokens(ctx context.Context, groups []*userGroup) int {
	ctx, span := d.tracer.Start(ctx, "dispatch.resolve_tokens")
	defer span.End()

	var (
		g        errgroup.Group
		failures atomic.Int64
	)
	for _, grp := range groups {
		g.Go(func() error {
			tokens, err := resilience.Retry(ctx, d.retry, func(ctx context.Context) ([]string, error) {
				return d.tokens.ListTokens(ctx, grp.UserID)
			})
			d.recordOutcome(DependencyTokenStore, err)
			if err != nil {
				failures.Add(1)
				grp.Tokens = nil
				d.logger.Error().Err(err).Str("user_id", grp.UserID).Msg("failed to fetch fcm tokens")
				return nil
			}

			grp.Tokens = dedupe(tokens)
			if len(grp.Tokens) == 0 {
				d.logger.Warn().Str("user_id", grp.UserID).Msg("no fcm tokens found for user")
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("dispatch.users", len(groups)))
	return int(failures.Load())
}

// buildBatch creates one message per token of every user that has tokens.
// Returns the batch and the number of users skipped for lack of tokens.
func (d *Dispatcher) buildBatch(groups []*userGroup) ([]push.Message, int) {
	var (
		batch   []push.Message
		without int
	)

	for _, g := range groups {
		if len(g.Tokens) == 0 {
			d.logger.Warn().
				Str("user_id", g.UserID).
				Strs("reminder_ids", g.ReminderIDs).
				Msg("user has no tokens, reminder will be removed without a notification")
			without++
			continue
		}

		notification := push.Notification{
			Title: NotificationTitle,
			Body:  NotificationBody(g.MedName),
		}
		for _, token := range g.Tokens {
			batch = append(batch, push.Message{
				Token:        token,
				UserID:       g.UserID,
				Notification: notification,
			})
		}
	}

	return batch, without
}

// send delivers the batch in chunks of at most MaxBatchSize, sequentially.
// Results are returned in submission order. An empty batch makes no call.
func (d *Dispatcher) send(ctx context.Context, batch []push.Message) ([]push.Result, int, error) {
	if len(batch) == 0 {
		return nil, 0, nil
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.send")
	defer span.End()
	span.SetAttributes(attribute.Int("dispatch.messages", len(batch)))

	results := make([]push.Result, 0, len(batch))
	calls := 0
	for start := 0; start < len(batch); start += d.config.MaxBatchSize {
		end := min(start+d.config.MaxBatchSize, len(batch))
		chunk := batch[start:end]

		res, err := d.gateway.SendEach(ctx, chunk)
		calls++
		if err == nil && len(res) != len(chunk) {
			err = fmt.Errorf("gateway returned %d results for %d messages", len(res), len(chunk))
		}
		d.recordOutcome(DependencyPushGateway, err)
		if err != nil {
			span.RecordError(err)
			return nil, calls, err
		}
		results = append(results, res...)
	}

	return results, calls, nil
}

// reconcile logs failures and collects tokens the gateway reported as
// permanently invalid, each at most once.
func (d *Dispatcher) reconcile(batch []push.Message, results []push.Result) reconcileResult {
	var out reconcileResult
	seen := make(map[tokenRef]struct{})

	for i, r := range results {
		if r.Success() {
			out.Sent++
			continue
		}
		out.Failed++

		msg := batch[i]
		d.logger.Warn().
			Str("user_id", msg.UserID).
			Str("token", push.Redact(msg.Token)).
			Str("error_code", string(r.Err.Code)).
			Str("error", r.Err.Message).
			Msg("failed to send notification")

		if !r.Err.Code.InvalidatesToken() {
			continue
		}
		ref := tokenRef{UserID: msg.UserID, Token: msg.Token}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out.Invalid = append(out.Invalid, ref)
	}

	return out
}

// reminderIDsToDelete returns every fetched reminder id. Reminders without a
// user id are excluded when KeepOrphans is set.
func (d *Dispatcher) reminderIDsToDelete(due []*reminder.Reminder) []string {
	ids := make([]string, 0, len(due))
	for _, r := range due {
		if r.UserID == "" && d.config.KeepOrphans {
			continue
		}
		ids = append(ids, r.ID)
	}
	return ids
}

// cleanup issues every delete concurrently and waits for all of them.
// The first error is returned after every delete has settled.
func (d *Dispatcher) cleanup(ctx context.Context, reminderIDs []string, invalid []tokenRef) (cleanupResult, error) {
	ctx, span := d.tracer.Start(ctx, "dispatch.cleanup")
	defer span.End()

	var (
		g                errgroup.Group
		remindersDeleted atomic.Int64
		tokensDeleted    atomic.Int64
	)

	for _, id := range reminderIDs {
		g.Go(func() error {
			if err := d.reminders.Delete(ctx, id); err != nil {
				d.logger.Warn().Err(err).Str("reminder_id", id).Msg("failed to delete reminder")
				return fmt.Errorf("delete reminder %s: %w", id, err)
			}
			remindersDeleted.Add(1)
			return nil
		})
	}

	for _, ref := range invalid {
		g.Go(func() error {
			if err := d.tokens.Delete(ctx, ref.UserID, ref.Token); err != nil {
				d.logger.Warn().Err(err).Str("user_id", ref.UserID).Msg("failed to delete invalid token")
				return fmt.Errorf("delete token for user %s: %w", ref.UserID, err)
			}
			tokensDeleted.Add(1)
			d.logger.Info().
				Str("user_id", ref.UserID).
				Str("token", push.Redact(ref.Token)).
				Msg("removed invalid fcm token")
			return nil
		})
	}

	err := g.Wait()
	out := cleanupResult{
		RemindersDeleted: int(remindersDeleted.Load()),
		TokensDeleted:    int(tokensDeleted.Load()),
	}
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func (d *Dispatcher) recordOutcome(dependency string, err error) {
	if d.registry == nil {
		return
	}
	if err != nil {
		d.registry.RecordFailure(dependency, err)
		return
	}
	d.registry.RecordSuccess(dependency)
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
