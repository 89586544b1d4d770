package reminder

import (
	"context"
	"time"
)

// DoseLog is one recorded dose in a user's medication history.
type DoseLog struct {
	ID             string
	UserID         string
	MedicationID   string
	MedicationName string
	TakenAt        time.Time
	NextDueAt      time.Time
}

// MedicationKey identifies the medication a dose belongs to. Doses logged
// without a medication ID are grouped by name.
func (d *DoseLog) MedicationKey() string {
	if d.MedicationID != "" {
		return d.MedicationID
	}
	return "name:" + d.MedicationName
}

// DoseListOptions contains options for listing a user's dose history.
type DoseListOptions struct {
	Limit        int
	MedicationID string
}

func (o DoseListOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// DoseRepository defines persistence for a user's dose history.
type DoseRepository interface {
	// Create stores a dose. The repository assigns the ID when it is empty.
	Create(ctx context.Context, d *DoseLog) error

	// ListByUser returns a user's doses, most recent TakenAt first.
	ListByUser(ctx context.Context, userID string, opts DoseListOptions) ([]*DoseLog, error)
}
