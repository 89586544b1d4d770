// Package worker runs the medication reminder dispatcher and its triggers.
package worker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/medtracker/medtracker/internal/push"
)

// Notification text.
const (
	NotificationTitle = "Medication Reminder"
	bodyPrefix        = "Time to take "
	bodySuffix        = "!"
	medNameSeparator  = " & "
)

// DispatchConfig holds configuration for the reminder dispatcher.
type DispatchConfig struct {
	// Lookahead is the width of the [now, now+Lookahead) window scanned per run.
	// It should equal the trigger cadence so each reminder falls in exactly one window.
	// Default: 5 minutes
	Lookahead time.Duration

	// MaxBatchSize caps the messages per gateway call.
	// Default: 500
	MaxBatchSize int

	// ReadRetries is the number of retries for the due query and token fetches.
	// Default: 2
	ReadRetries int

	// RunTimeout bounds a single run. Zero means no dispatcher-imposed deadline.
	RunTimeout time.Duration

	// KeepOrphans leaves reminders that have no user id in the store.
	// By default they are deleted with every other processed reminder.
	KeepOrphans bool
}

// DefaultDispatchConfig returns the default dispatcher configuration.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Lookahead:    5 * time.Minute,
		MaxBatchSize: push.MaxFCMBatchSize,
		ReadRetries:  2,
	}
}

func (c DispatchConfig) withDefaults() DispatchConfig {
	def := DefaultDispatchConfig()
	if c.Lookahead <= 0 {
		c.Lookahead = def.Lookahead
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = def.MaxBatchSize
	}
	if c.ReadRetries < 0 {
		c.ReadRetries = 0
	}
	return c
}

var everyPattern = regexp.MustCompile(`^every\s+(\d+)\s+(minute|minutes|min|mins|hour|hours)$`)

// NormalizeSchedule converts a schedule into a robfig/cron spec.
// It accepts "every N minutes" and "every N hours" in addition to standard
// cron expressions and descriptors such as "@every 5m".
func NormalizeSchedule(schedule string) (string, error) {
	s := strings.TrimSpace(strings.ToLower(schedule))
	if s == "" {
		return "", fmt.Errorf("empty schedule")
	}

	m := everyPattern.FindStringSubmatch(s)
	if m == nil {
		return strings.TrimSpace(schedule), nil
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return "", fmt.Errorf("invalid interval in schedule %q", schedule)
	}

	unit := "m"
	if strings.HasPrefix(m[2], "hour") {
		unit = "h"
	}
	return fmt.Sprintf("@every %d%s", n, unit), nil
}

// NotificationBody returns the reminder body for a medication name.
func NotificationBody(medName string) string {
	return bodyPrefix + medName + bodySuffix
}
