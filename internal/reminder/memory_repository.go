package reminder

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is an in-memory implementation of Repository.
// It backs tests and STORE_BACKEND=memory.
type InMemoryRepository struct {
	mu        sync.RWMutex
	reminders map[string]*Reminder
}

// NewInMemoryRepository creates an empty in-memory reminder repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		reminders: make(map[string]*Reminder),
	}
}

// Create stores a reminder.
func (r *InMemoryRepository) Create(_ context.Context, rem *Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rem.ID == "" {
		rem.ID = uuid.New().String()
	}
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now()
	}
	r.reminders[rem.ID] = copyReminder(rem)
	return nil
}

// Get retrieves a reminder by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Reminder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rem, ok := r.reminders[id]
	if !ok {
		return nil, ErrReminderNotFound
	}
	return copyReminder(rem), nil
}

// ListDue returns reminders due in [from, to).
func (r *InMemoryRepository) ListDue(_ context.Context, from, to time.Time) ([]*Reminder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Reminder
	for _, rem := range r.reminders {
		if !rem.DueAt.Before(from) && rem.DueAt.Before(to) {
			items = append(items, copyReminder(rem))
		}
	}
	sortByDue(items)
	return items, nil
}

// ListByUser returns a user's reminders ordered by due time.
func (r *InMemoryRepository) ListByUser(_ context.Context, userID string, opts ListOptions) ([]*Reminder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var items []*Reminder
	for _, rem := range r.reminders {
		if rem.UserID == userID {
			items = append(items, copyReminder(rem))
		}
	}
	sortByDue(items)

	if limit := opts.limit(); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Delete removes a reminder if present.
func (r *InMemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.reminders, id)
	return nil
}

// Len returns the number of stored reminders.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reminders)
}

func sortByDue(items []*Reminder) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].DueAt.Equal(items[j].DueAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].DueAt.Before(items[j].DueAt)
	})
}

func copyReminder(rem *Reminder) *Reminder {
	if rem == nil {
		return nil
	}
	c := *rem
	return &c
}
