// Package reminder manages scheduled medication reminders.
package reminder

import (
	"errors"
	"time"
)

// Repository errors.
var (
	ErrReminderNotFound = errors.New("reminder not found")
)

// DefaultMedicationName is used in notifications when a reminder carries no medication name.
const DefaultMedicationName = "your medication"

// Reminder is a pending push reminder for one medication dose.
type Reminder struct {
	ID             string
	UserID         string
	MedicationName string
	DueAt          time.Time
	CreatedAt      time.Time
}

// DisplayName returns the medication name used in notification text.
func (r *Reminder) DisplayName() string {
	if r.MedicationName == "" {
		return DefaultMedicationName
	}
	return r.MedicationName
}

// ListOptions contains options for listing a user's reminders.
type ListOptions struct {
	Limit int
}

// DefaultListLimit caps list queries when no limit is given.
const DefaultListLimit = 50

func (o ListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}
