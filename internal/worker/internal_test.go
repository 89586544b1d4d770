package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/medtracker/medtracker/internal/push"
	"github.com/medtracker/medtracker/internal/reminder"
)

type countingRunner struct {
	calls int
	err   error
}

func (r *countingRunner) Run(context.Context) (*RunResult, error) {
	r.calls++
	return &RunResult{Stage: StageDone}, r.err
}

func TestHandleJob(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		runErr    error
		wantCalls int
	}{
		{"dispatch", `{"job_type":"dispatch_reminders"}`, nil, 1},
		{"dispatch failure", `{"job_type":"dispatch_reminders"}`, errors.New("boom"), 1},
		{"unknown job type", `{"job_type":"provider_refresh"}`, nil, 0},
		{"malformed", `not json`, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &countingRunner{err: tt.runErr}
			err := handleJob(context.Background(), zerolog.Nop(), runner, []byte(tt.data))
			assert.Equal(t, tt.runErr, err)
			assert.Equal(t, tt.wantCalls, runner.calls)
		})
	}
}

func TestGroupByUser_FirstSeenOrder(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Logger: zerolog.Nop()})
	groups, skipped := d.groupByUser(remindersFor(
		[2]string{"u2", "B"},
		[2]string{"u1", "A"},
		[2]string{"", "X"},
		[2]string{"u2", "C"},
	))

	assert.Equal(t, 1, skipped)
	if assert.Len(t, groups, 2) {
		assert.Equal(t, "u2", groups[0].UserID)
		assert.Equal(t, "B & C", groups[0].MedName)
		assert.Len(t, groups[0].ReminderIDs, 2)
		assert.Equal(t, "u1", groups[1].UserID)
	}
}

func TestReconcile_DeduplicatesInvalidTokens(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Logger: zerolog.Nop()})
	batch := []push.Message{
		{Token: "t1", UserID: "u1"},
		{Token: "t1", UserID: "u1"},
		{Token: "t2", UserID: "u1"},
	}
	results := []push.Result{
		{Err: &push.SendError{Code: push.CodeTokenNotRegistered}},
		{Err: &push.SendError{Code: push.CodeInvalidToken}},
		{MessageID: "ok"},
	}

	rec := d.reconcile(batch, results)
	assert.Equal(t, 1, rec.Sent)
	assert.Equal(t, 2, rec.Failed)
	assert.Equal(t, []tokenRef{{UserID: "u1", Token: "t1"}}, rec.Invalid)
}

func remindersFor(pairs ...[2]string) []*reminder.Reminder {
	out := make([]*reminder.Reminder, 0, len(pairs))
	for i, p := range pairs {
		out = append(out, &reminder.Reminder{
			ID:             "r" + string(rune('a'+i)),
			UserID:         p[0],
			MedicationName: p[1],
		})
	}
	return out
}
