package worker_test

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medtracker/medtracker/internal/device"
	"github.com/medtracker/medtracker/internal/push"
	"github.com/medtracker/medtracker/internal/reminder"
	"github.com/medtracker/medtracker/internal/resilience"
	"github.com/medtracker/medtracker/internal/worker"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeGateway succeeds for every token unless a code is scripted for it.
type fakeGateway struct {
	mu    sync.Mutex
	calls [][]push.Message
	codes map[string]push.ErrorCode
	err   error
}

func (g *fakeGateway) SendEach(_ context.Context, msgs []push.Message) ([]push.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, append([]push.Message(nil), msgs...))
	if g.err != nil {
		return nil, g.err
	}

	out := make([]push.Result, len(msgs))
	for i, m := range msgs {
		if code, ok := g.codes[m.Token]; ok {
			out[i] = push.Result{Err: &push.SendError{Code: code, Message: "scripted failure"}}
			continue
		}
		out[i] = push.Result{MessageID: "msg-" + m.Token}
	}
	return out, nil
}

// reminderStore records deletes and can inject failures.
type reminderStore struct {
	*reminder.InMemoryRepository

	mu           sync.Mutex
	listErr      error
	listFailures int
	listCalls    int
	deleteErr    map[string]error
	deleted      []string
}

func (s *reminderStore) ListDue(ctx context.Context, from, to time.Time) ([]*reminder.Reminder, error) {
	s.mu.Lock()
	s.listCalls++
	fail := s.listErr != nil && (s.listFailures == 0 || s.listCalls <= s.listFailures)
	s.mu.Unlock()
	if fail {
		return nil, s.listErr
	}
	return s.InMemoryRepository.ListDue(ctx, from, to)
}

func (s *reminderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	err := s.deleteErr[id]
	if err == nil {
		s.deleted = append(s.deleted, id)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.InMemoryRepository.Delete(ctx, id)
}

func (s *reminderStore) deletedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.deleted...)
	sort.Strings(out)
	return out
}

// tokenStore records deletes and can fail fetches per user.
type tokenStore struct {
	*device.InMemoryRepository

	mu       sync.Mutex
	fetchErr map[string]error
	deleted  []string
}

func (s *tokenStore) ListTokens(ctx context.Context, userID string) ([]string, error) {
	if err := s.fetchErr[userID]; err != nil {
		return nil, err
	}
	return s.InMemoryRepository.ListTokens(ctx, userID)
}

func (s *tokenStore) Delete(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, userID+"/"+token)
	s.mu.Unlock()
	return s.InMemoryRepository.Delete(ctx, userID, token)
}

func (s *tokenStore) deletedRefs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.deleted...)
	sort.Strings(out)
	return out
}

type harness struct {
	reminders *reminderStore
	tokens    *tokenStore
	gateway   *fakeGateway
	logs      *bytes.Buffer
	config    worker.DispatchConfig
	registry  *resilience.Registry
}

func newHarness() *harness {
	cfg := worker.DefaultDispatchConfig()
	cfg.ReadRetries = 0
	return &harness{
		reminders: &reminderStore{InMemoryRepository: reminder.NewInMemoryRepository(), deleteErr: map[string]error{}},
		tokens:    &tokenStore{InMemoryRepository: device.NewInMemoryRepository(), fetchErr: map[string]error{}},
		gateway:   &fakeGateway{codes: map[string]push.ErrorCode{}},
		logs:      &bytes.Buffer{},
		config:    cfg,
		registry:  resilience.NewRegistry(),
	}
}

func (h *harness) addReminder(t *testing.T, id, userID, med string, due time.Time) {
	t.Helper()
	require.NoError(t, h.reminders.Create(context.Background(), &reminder.Reminder{
		ID: id, UserID: userID, MedicationName: med, DueAt: due,
	}))
}

func (h *harness) addToken(t *testing.T, userID, token string) {
	t.Helper()
	_, err := h.tokens.Upsert(context.Background(), &device.Token{UserID: userID, Token: token})
	require.NoError(t, err)
}

func (h *harness) dispatcher() *worker.Dispatcher {
	return worker.NewDispatcher(worker.DispatcherConfig{
		Config:    h.config,
		Logger:    zerolog.New(h.logs),
		Reminders: h.reminders,
		Tokens:    h.tokens,
		Gateway:   h.gateway,
		Clock:     func() time.Time { return now },
		Registry:  h.registry,
	})
}

func (h *harness) run(t *testing.T) (*worker.RunResult, error) {
	t.Helper()
	return h.dispatcher().Run(context.Background())
}

func TestDispatcher_ScenarioA_Success(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(2*time.Minute))
	h.addToken(t, "u1", "t1")

	result, err := h.run(t)
	require.NoError(t, err)

	require.Len(t, h.gateway.calls, 1)
	require.Len(t, h.gateway.calls[0], 1)
	msg := h.gateway.calls[0][0]
	assert.Equal(t, "t1", msg.Token)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "Medication Reminder", msg.Notification.Title)
	assert.Equal(t, "Time to take Ibuprofen!", msg.Notification.Body)

	assert.Equal(t, []string{"r1"}, h.reminders.deletedIDs())
	assert.Empty(t, h.tokens.deletedRefs())

	assert.Equal(t, worker.StageDone, result.Stage)
	assert.Equal(t, 1, result.MessagesSent)
	assert.Equal(t, 1, result.RemindersDeleted)
	assert.Equal(t, 0, h.reminders.Len())
}

func TestDispatcher_ScenarioB_UnregisteredTokenDeleted(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(2*time.Minute))
	h.addToken(t, "u1", "t1")
	h.gateway.codes["t1"] = push.CodeTokenNotRegistered

	result, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"r1"}, h.reminders.deletedIDs())
	assert.Equal(t, []string{"u1/t1"}, h.tokens.deletedRefs())
	assert.Equal(t, 1, result.MessagesFailed)
	assert.Equal(t, 1, result.TokensDeleted)

	remaining, err := h.tokens.ListTokens(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDispatcher_InvalidRegistrationTokenDeleted(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "good")
	h.addToken(t, "u1", "bad")
	h.gateway.codes["bad"] = push.CodeInvalidToken

	result, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, []string{"u1/bad"}, h.tokens.deletedRefs())
	assert.Equal(t, 1, result.MessagesSent)
	assert.Equal(t, 1, result.MessagesFailed)
}

func TestDispatcher_ScenarioC_MedicationNamesCombined(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "MedA", now.Add(time.Minute))
	h.addReminder(t, "r2", "u1", "MedB", now.Add(2*time.Minute))
	h.addToken(t, "u1", "t1")

	result, err := h.run(t)
	require.NoError(t, err)

	require.Len(t, h.gateway.calls, 1)
	require.Len(t, h.gateway.calls[0], 1)
	assert.Equal(t, "Time to take MedA & MedB!", h.gateway.calls[0][0].Notification.Body)
	assert.Equal(t, []string{"r1", "r2"}, h.reminders.deletedIDs())
	assert.Equal(t, 1, result.Users)
}

func TestDispatcher_ScenarioD_FetchFailure(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")
	h.reminders.listErr = errors.New("firestore unavailable")

	result, err := h.run(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch due reminders")

	assert.Empty(t, h.gateway.calls)
	assert.Empty(t, h.reminders.deletedIDs())
	assert.Empty(t, h.tokens.deletedRefs())
	assert.Equal(t, worker.StageFetching, result.Stage)
	assert.Equal(t, 1, bytes.Count(h.logs.Bytes(), []byte(`"level":"error"`)))
}

func TestDispatcher_FetchRetried(t *testing.T) {
	h := newHarness()
	h.config.ReadRetries = 2
	h.reminders.listErr = errors.New("deadline exceeded")
	h.reminders.listFailures = 1
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")
	h.registry.Register(worker.DependencyReminderStore, nil)

	result, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, 2, h.reminders.listCalls)
	assert.Equal(t, 1, result.MessagesSent)

	health := h.registry.GetHealth(worker.DependencyReminderStore)
	require.NotNil(t, health)
	assert.NotNil(t, health.LastSuccessAt)
}

func TestDispatcher_NoDueReminders(t *testing.T) {
	h := newHarness()
	h.addToken(t, "u1", "t1")

	result, err := h.run(t)
	require.NoError(t, err)

	assert.Empty(t, h.gateway.calls)
	assert.Empty(t, h.reminders.deletedIDs())
	assert.Equal(t, worker.StageDone, result.Stage)
	assert.Contains(t, h.logs.String(), "no reminders due in this interval")
}

func TestDispatcher_HalfOpenWindow(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "at-start", "u1", "A", now)
	h.addReminder(t, "at-end", "u1", "B", now.Add(5*time.Minute))
	h.addReminder(t, "past", "u1", "C", now.Add(-time.Second))
	h.addToken(t, "u1", "t1")

	result, err := h.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RemindersFetched)
	assert.Equal(t, []string{"at-start"}, h.reminders.deletedIDs())
	assert.Equal(t, "Time to take A!", h.gateway.calls[0][0].Notification.Body)
	assert.Equal(t, now, result.WindowStart)
	assert.Equal(t, now.Add(5*time.Minute), result.WindowEnd)
}

func TestDispatcher_UserWithoutTokens(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addReminder(t, "r2", "u2", "Aspirin", now.Add(time.Minute))
	h.addToken(t, "u2", "t2")

	result, err := h.run(t)
	require.NoError(t, err)

	require.Len(t, h.gateway.calls, 1)
	require.Len(t, h.gateway.calls[0], 1)
	assert.Equal(t, "u2", h.gateway.calls[0][0].UserID)
	assert.Equal(t, []string{"r1", "r2"}, h.reminders.deletedIDs())
	assert.Equal(t, 1, result.UsersWithoutTokens)
	assert.Contains(t, h.logs.String(), "no fcm tokens found for user")
}

func TestDispatcher_NoTokensAnywhereSkipsSend(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))

	result, err := h.run(t)
	require.NoError(t, err)

	assert.Empty(t, h.gateway.calls)
	assert.Equal(t, []string{"r1"}, h.reminders.deletedIDs())
	assert.Equal(t, 0, result.GatewayCalls)
	assert.Equal(t, worker.StageDone, result.Stage)
}

func TestDispatcher_TokenFetchFailureIsolated(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addReminder(t, "r2", "u2", "Aspirin", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")
	h.addToken(t, "u2", "t2")
	h.tokens.fetchErr["u1"] = errors.New("permission denied")

	result, err := h.run(t)
	require.NoError(t, err)

	require.Len(t, h.gateway.calls, 1)
	require.Len(t, h.gateway.calls[0], 1)
	assert.Equal(t, "t2", h.gateway.calls[0][0].Token)
	assert.Equal(t, []string{"r1", "r2"}, h.reminders.deletedIDs())
	assert.Equal(t, 1, result.TokenFetchFailures)
	assert.Equal(t, 1, result.UsersWithoutTokens)
}

func TestDispatcher_OtherErrorCodeKeepsToken(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")
	h.gateway.codes["t1"] = push.CodeServerUnavailable

	result, err := h.run(t)
	require.NoError(t, err)

	assert.Empty(t, h.tokens.deletedRefs())
	assert.Equal(t, []string{"r1"}, h.reminders.deletedIDs())
	assert.Equal(t, 1, result.MessagesFailed)
	assert.Equal(t, 0, result.TokensInvalid)
	assert.Contains(t, h.logs.String(), "messaging/server-unavailable")
}

func TestDispatcher_MissingUserID(t *testing.T) {
	tests := []struct {
		name        string
		keepOrphans bool
		wantDeleted []string
	}{
		{"orphans deleted", false, []string{"orphan", "r1"}},
		{"orphans kept", true, []string{"r1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.config.KeepOrphans = tt.keepOrphans
			h.addReminder(t, "orphan", "", "Ibuprofen", now.Add(time.Minute))
			h.addReminder(t, "r1", "u1", "Aspirin", now.Add(time.Minute))
			h.addToken(t, "u1", "t1")

			result, err := h.run(t)
			require.NoError(t, err)

			require.Len(t, h.gateway.calls, 1)
			assert.Len(t, h.gateway.calls[0], 1)
			assert.Equal(t, 1, result.RemindersSkipped)
			assert.Equal(t, tt.wantDeleted, h.reminders.deletedIDs())
			assert.Contains(t, h.logs.String(), "reminder has no user id")
		})
	}
}

func TestDispatcher_ZeroConfigDeletesOrphans(t *testing.T) {
	h := newHarness()
	h.config = worker.DispatchConfig{}
	h.addReminder(t, "orphan", "", "Ibuprofen", now.Add(time.Minute))

	result, err := h.run(t)
	require.NoError(t, err)

	assert.Empty(t, h.gateway.calls)
	assert.Equal(t, 1, result.RemindersSkipped)
	assert.Equal(t, []string{"orphan"}, h.reminders.deletedIDs())
}

func TestDispatcher_DefaultMedicationName(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")

	_, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "Time to take your medication!", h.gateway.calls[0][0].Notification.Body)
}

func TestDispatcher_SubstringNamesNotRepeated(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "MedA", now.Add(time.Minute))
	h.addReminder(t, "r2", "u1", "MedA", now.Add(2*time.Minute))
	h.addReminder(t, "r3", "u1", "Med", now.Add(3*time.Minute))
	h.addToken(t, "u1", "t1")

	_, err := h.run(t)
	require.NoError(t, err)
	assert.Equal(t, "Time to take MedA!", h.gateway.calls[0][0].Notification.Body)
	assert.Len(t, h.reminders.deletedIDs(), 3)
}

func TestDispatcher_OneMessagePerToken(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "MedA", now.Add(time.Minute))
	h.addReminder(t, "r2", "u2", "MedB", now.Add(time.Minute))
	h.addToken(t, "u1", "t1a")
	h.addToken(t, "u1", "t1b")
	h.addToken(t, "u2", "t2")

	result, err := h.run(t)
	require.NoError(t, err)

	require.Len(t, h.gateway.calls, 1)
	assert.Len(t, h.gateway.calls[0], 3)
	assert.Equal(t, 3, result.MessagesBuilt)
	for _, m := range h.gateway.calls[0] {
		if m.UserID == "u1" {
			assert.Equal(t, "Time to take MedA!", m.Notification.Body)
		} else {
			assert.Equal(t, "Time to take MedB!", m.Notification.Body)
		}
	}
}

func TestDispatcher_ChunksLargeBatches(t *testing.T) {
	h := newHarness()
	h.config.MaxBatchSize = 2
	h.addReminder(t, "r1", "u1", "MedA", now.Add(time.Minute))
	for _, tok := range []string{"a", "b", "c", "d", "e"} {
		h.addToken(t, "u1", tok)
	}
	h.gateway.codes["e"] = push.CodeTokenNotRegistered

	result, err := h.run(t)
	require.NoError(t, err)

	require.Len(t, h.gateway.calls, 3)
	assert.Len(t, h.gateway.calls[0], 2)
	assert.Len(t, h.gateway.calls[1], 2)
	assert.Len(t, h.gateway.calls[2], 1)
	assert.Equal(t, 3, result.GatewayCalls)
	assert.Equal(t, 4, result.MessagesSent)
	assert.Equal(t, []string{"u1/e"}, h.tokens.deletedRefs())
}

func TestDispatcher_SendFailureSkipsCleanup(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")
	h.gateway.err = resilience.ErrCircuitOpen

	result, err := h.run(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	assert.Equal(t, worker.StageSending, result.Stage)
	assert.Empty(t, h.reminders.deletedIDs())
	assert.Equal(t, 1, h.reminders.Len())
}

func TestDispatcher_ResultCountMismatchFailsRun(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")

	d := worker.NewDispatcher(worker.DispatcherConfig{
		Config:    h.config,
		Logger:    zerolog.Nop(),
		Reminders: h.reminders,
		Tokens:    h.tokens,
		Gateway: push.GatewayFunc(func(context.Context, []push.Message) ([]push.Result, error) {
			return nil, nil
		}),
		Clock: func() time.Time { return now },
	})

	_, err := d.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.reminders.deletedIDs())
}

func TestDispatcher_DeleteFailureSettlesAllDeletes(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "MedA", now.Add(time.Minute))
	h.addReminder(t, "r2", "u2", "MedB", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")
	h.addToken(t, "u2", "t2")
	h.gateway.codes["t2"] = push.CodeTokenNotRegistered
	h.reminders.deleteErr["r1"] = errors.New("aborted")

	result, err := h.run(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "r1")

	assert.Equal(t, worker.StageDeleting, result.Stage)
	assert.Equal(t, []string{"r2"}, h.reminders.deletedIDs())
	assert.Equal(t, []string{"u2/t2"}, h.tokens.deletedRefs())
	assert.Equal(t, 1, result.RemindersDeleted)
	assert.Equal(t, 1, result.TokensDeleted)
}

func TestDispatcher_RerunIsIdempotent(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")

	_, err := h.run(t)
	require.NoError(t, err)
	require.Len(t, h.gateway.calls, 1)

	result, err := h.run(t)
	require.NoError(t, err)
	assert.Len(t, h.gateway.calls, 1)
	assert.Equal(t, []string{"r1"}, h.reminders.deletedIDs())
	assert.Equal(t, 0, result.RemindersFetched)
}

func TestDispatcher_RecordsMetrics(t *testing.T) {
	h := newHarness()
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")
	h.addToken(t, "u1", "t2")
	h.gateway.codes["t2"] = push.CodeTokenNotRegistered

	metrics, err := worker.NewMetrics()
	require.NoError(t, err)

	d := worker.NewDispatcher(worker.DispatcherConfig{
		Config:    h.config,
		Logger:    zerolog.Nop(),
		Reminders: h.reminders,
		Tokens:    h.tokens,
		Gateway:   h.gateway,
		Clock:     func() time.Time { return now },
		Metrics:   metrics,
	})

	_, err = d.Run(context.Background())
	require.NoError(t, err)

	stats := d.Metrics().Snapshot()
	assert.Equal(t, int64(1), stats.TotalRuns)
	assert.Equal(t, int64(0), stats.FailedRuns)
	assert.Equal(t, int64(1), stats.RemindersProcessed)
	assert.Equal(t, int64(1), stats.NotificationsSent)
	assert.Equal(t, int64(1), stats.NotificationsFailed)
	assert.Equal(t, int64(1), stats.TokensPruned)
	assert.Equal(t, now, stats.LastSuccessAt)

	snapshot := metrics.SnapshotMap()
	assert.Equal(t, int64(1), snapshot["total_runs"])
	assert.NotContains(t, snapshot, "last_error")
}

func TestDispatcher_RunTimeout(t *testing.T) {
	h := newHarness()
	h.config.RunTimeout = 20 * time.Millisecond
	h.addReminder(t, "r1", "u1", "Ibuprofen", now.Add(time.Minute))
	h.addToken(t, "u1", "t1")

	d := worker.NewDispatcher(worker.DispatcherConfig{
		Config:    h.config,
		Logger:    zerolog.Nop(),
		Reminders: h.reminders,
		Tokens:    h.tokens,
		Gateway: push.GatewayFunc(func(ctx context.Context, _ []push.Message) ([]push.Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		Clock: func() time.Time { return now },
	})

	_, err := d.Run(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, h.reminders.deletedIDs())
}

// barrier releases its callers only once n of them are waiting at the same time.
type barrier struct {
	mu      sync.Mutex
	n       int
	arrived int
	release chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: n, release: make(chan struct{})}
}

func (b *barrier) wait(ctx context.Context) error {
	b.mu.Lock()
	b.arrived++
	if b.arrived == b.n {
		close(b.release)
	}
	b.mu.Unlock()

	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Second):
		return errors.New("timed out waiting for concurrent callers")
	}
}

// barrierTokens blocks every token fetch until all users are being fetched.
type barrierTokens struct {
	*device.InMemoryRepository
	barrier *barrier
}

func (s *barrierTokens) ListTokens(ctx context.Context, userID string) ([]string, error) {
	if err := s.barrier.wait(ctx); err != nil {
		return nil, err
	}
	return s.InMemoryRepository.ListTokens(ctx, userID)
}

// slowReminders blocks every delete until all deletes are in flight, then
// holds each one for delay before recording it.
type slowReminders struct {
	*reminder.InMemoryRepository
	barrier *barrier
	delay   time.Duration

	mu      sync.Mutex
	deleted []string
}

func (s *slowReminders) Delete(ctx context.Context, id string) error {
	if err := s.barrier.wait(ctx); err != nil {
		return err
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	s.deleted = append(s.deleted, id)
	s.mu.Unlock()
	return s.InMemoryRepository.Delete(ctx, id)
}

func TestDispatcher_FetchesTokensConcurrently(t *testing.T) {
	ctx := context.Background()
	users := []string{"u1", "u2", "u3"}

	reminders := reminder.NewInMemoryRepository()
	tokens := &barrierTokens{
		InMemoryRepository: device.NewInMemoryRepository(),
		barrier:            newBarrier(len(users)),
	}
	for i, u := range users {
		require.NoError(t, reminders.Create(ctx, &reminder.Reminder{
			ID: "r" + u, UserID: u, MedicationName: "Med", DueAt: now.Add(time.Duration(i) * time.Second),
		}))
		_, err := tokens.Upsert(ctx, &device.Token{UserID: u, Token: "t-" + u})
		require.NoError(t, err)
	}

	gateway := &fakeGateway{codes: map[string]push.ErrorCode{}}
	d := worker.NewDispatcher(worker.DispatcherConfig{
		Logger:    zerolog.Nop(),
		Reminders: reminders,
		Tokens:    tokens,
		Gateway:   gateway,
		Clock:     func() time.Time { return now },
	})

	result, err := d.Run(ctx)
	require.NoError(t, err)

	assert.Zero(t, result.TokenFetchFailures)
	require.Len(t, gateway.calls, 1)

	var sent []string
	for _, m := range gateway.calls[0] {
		sent = append(sent, m.Token)
	}
	assert.ElementsMatch(t, []string{"t-u1", "t-u2", "t-u3"}, sent)
}

func TestDispatcher_DeletesConcurrentlyAndWaits(t *testing.T) {
	ctx := context.Background()
	ids := []string{"r1", "r2", "r3"}

	reminders := &slowReminders{
		InMemoryRepository: reminder.NewInMemoryRepository(),
		barrier:            newBarrier(len(ids)),
		delay:              50 * time.Millisecond,
	}
	tokens := device.NewInMemoryRepository()
	for _, id := range ids {
		require.NoError(t, reminders.Create(ctx, &reminder.Reminder{
			ID: id, UserID: "u1", MedicationName: "Med", DueAt: now.Add(time.Minute),
		}))
	}
	_, err := tokens.Upsert(ctx, &device.Token{UserID: "u1", Token: "t1"})
	require.NoError(t, err)

	d := worker.NewDispatcher(worker.DispatcherConfig{
		Logger:    zerolog.Nop(),
		Reminders: reminders,
		Tokens:    tokens,
		Gateway:   &fakeGateway{codes: map[string]push.ErrorCode{}},
		Clock:     func() time.Time { return now },
	})

	result, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RemindersDeleted)

	reminders.mu.Lock()
	deleted := append([]string(nil), reminders.deleted...)
	reminders.mu.Unlock()
	assert.ElementsMatch(t, ids, deleted)
}
