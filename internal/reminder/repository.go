package reminder

import (
	"context"
	"time"
)

// Repository defines persistence for scheduled reminders.
type Repository interface {
	// Create stores a new reminder. The repository assigns the ID when it is empty.
	Create(ctx context.Context, r *Reminder) error

	// Get retrieves a reminder by ID.
	Get(ctx context.Context, id string) (*Reminder, error)

	// ListDue returns reminders with from <= DueAt < to.
	ListDue(ctx context.Context, from, to time.Time) ([]*Reminder, error)

	// ListByUser returns a user's reminders ordered by DueAt.
	ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Reminder, error)

	// Delete removes a reminder. Deleting a missing reminder is not an error.
	Delete(ctx context.Context, id string) error
}
