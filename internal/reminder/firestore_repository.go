package reminder

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CollectionScheduledReminders is the top-level Firestore collection holding reminders.
const CollectionScheduledReminders = "scheduledReminders"

// Firestore field names.
const (
	fieldUserID         = "userId"
	fieldMedicationName = "medicationName"
	fieldDueAt          = "dueAt"
	fieldCreatedAt      = "createdAt"
)

// FirestoreRepository stores reminders as documents in the scheduledReminders collection.
type FirestoreRepository struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRepository creates a Firestore-backed reminder repository.
func NewFirestoreRepository(client *firestore.Client) *FirestoreRepository {
	return &FirestoreRepository{
		client:     client,
		collection: CollectionScheduledReminders,
	}
}

func (r *FirestoreRepository) coll() *firestore.CollectionRef {
	return r.client.Collection(r.collection)
}

// Create adds a reminder document. Firestore assigns the ID unless one is set.
func (r *FirestoreRepository) Create(ctx context.Context, rem *Reminder) error {
	data := map[string]interface{}{
		fieldUserID:         rem.UserID,
		fieldMedicationName: rem.MedicationName,
		fieldDueAt:          rem.DueAt,
		fieldCreatedAt:      firestore.ServerTimestamp,
	}

	if rem.ID != "" {
		_, err := r.coll().Doc(rem.ID).Set(ctx, data)
		return err
	}

	ref, _, err := r.coll().Add(ctx, data)
	if err != nil {
		return err
	}
	rem.ID = ref.ID
	return nil
}

// Get retrieves a reminder document by ID.
func (r *FirestoreRepository) Get(ctx context.Context, id string) (*Reminder, error) {
	snap, err := r.coll().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrReminderNotFound
		}
		return nil, err
	}
	return decodeReminder(snap), nil
}

// ListDue runs the dueAt range query over [from, to).
func (r *FirestoreRepository) ListDue(ctx context.Context, from, to time.Time) ([]*Reminder, error) {
	docs, err := r.coll().
		Where(fieldDueAt, ">=", from).
		Where(fieldDueAt, "<", to).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, err
	}
	return decodeReminders(docs), nil
}

// ListByUser returns a user's reminders ordered by due time.
// Requires a composite index on (userId, dueAt).
func (r *FirestoreRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Reminder, error) {
	docs, err := r.coll().
		Where(fieldUserID, "==", userID).
		OrderBy(fieldDueAt, firestore.Asc).
		Limit(opts.limit()).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, err
	}
	return decodeReminders(docs), nil
}

// Delete removes a reminder document. Firestore treats deletes of missing documents as success.
func (r *FirestoreRepository) Delete(ctx context.Context, id string) error {
	_, err := r.coll().Doc(id).Delete(ctx)
	return err
}

func decodeReminders(docs []*firestore.DocumentSnapshot) []*Reminder {
	items := make([]*Reminder, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeReminder(doc))
	}
	return items
}

// decodeReminder reads fields leniently: documents written by clients may lack
// userId or medicationName, and the dispatcher must still see (and delete) them.
func decodeReminder(doc *firestore.DocumentSnapshot) *Reminder {
	data := doc.Data()
	rem := &Reminder{ID: doc.Ref.ID}

	if v, ok := data[fieldUserID].(string); ok {
		rem.UserID = v
	}
	if v, ok := data[fieldMedicationName].(string); ok {
		rem.MedicationName = v
	}
	if v, ok := data[fieldDueAt].(time.Time); ok {
		rem.DueAt = v
	}
	if v, ok := data[fieldCreatedAt].(time.Time); ok {
		rem.CreatedAt = v
	}
	return rem
}
