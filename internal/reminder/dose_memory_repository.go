package reminder

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// InMemoryDoseRepository is an in-memory implementation of DoseRepository.
type InMemoryDoseRepository struct {
	mu    sync.RWMutex
	doses map[string][]*DoseLog
}

// NewInMemoryDoseRepository creates an empty in-memory dose repository.
func NewInMemoryDoseRepository() *InMemoryDoseRepository {
	return &InMemoryDoseRepository{
		doses: make(map[string][]*DoseLog),
	}
}

// Create stores a dose.
func (r *InMemoryDoseRepository) Create(_ context.Context, d *DoseLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	c := *d
	r.doses[d.UserID] = append(r.doses[d.UserID], &c)
	return nil
}

// ListByUser returns a user's doses, most recent first.
func (r *InMemoryDoseRepository) ListByUser(_ context.Context, userID string, opts DoseListOptions) ([]*DoseLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*DoseLog
	for _, d := range r.doses[userID] {
		if opts.MedicationID != "" && d.MedicationID != opts.MedicationID {
			continue
		}
		c := *d
		items = append(items, &c)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TakenAt.After(items[j].TakenAt)
	})

	if limit := opts.limit(); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
