package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Runner runs one dispatch cycle.
type Runner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// SchedulerConfig configures the cron trigger.
type SchedulerConfig struct {
	// Schedule is a cron expression, descriptor, or "every N minutes".
	Schedule string
	// TimeZone is the IANA zone the schedule is evaluated in.
	TimeZone string
	Logger   zerolog.Logger
}

// Scheduler triggers the dispatcher on a cron schedule. A run that is still
// in flight when the next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	loc    *time.Location
	runner Runner
	logger zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	entryID cron.EntryID
	started bool
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler validates the schedule and time zone and prepares a scheduler.
func NewScheduler(cfg SchedulerConfig, runner Runner) (*Scheduler, error) {
	spec, err := NormalizeSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("parsing schedule %q: %w", cfg.Schedule, err)
	}

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", cfg.TimeZone, err)
	}

	logger := cfg.Logger.With().Str("component", "scheduler").Logger()
	cronLog := cronLogger{logger: logger}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		spec:   spec,
		loc:    loc,
		runner: runner,
		logger: logger,
	}, nil
}

// Spec returns the normalised cron spec.
func (s *Scheduler) Spec() string {
	return s.spec
}

// Location returns the schedule's time zone.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Start registers the dispatch job and starts the cron loop.
// Runs use ctx, so cancelling it aborts an in-flight run.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx = ctx

	id, err := s.cron.AddFunc(s.spec, s.runOnce)
	if err != nil {
		return fmt.Errorf("registering dispatch job: %w", err)
	}
	s.entryID = id
	s.started = true
	s.cron.Start()

	s.logger.Info().
		Str("schedule", s.spec).
		Str("time_zone", s.loc.String()).
		Time("next_run", s.cron.Entry(id).Next).
		Msg("scheduler started")
	return nil
}

// Stop stops scheduling and waits for a running job, or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run, or the zero time if not started.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil || ctx.Err() != nil {
		return
	}
	// Errors are logged by the dispatcher.
	_, _ = s.runner.Run(ctx)
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
