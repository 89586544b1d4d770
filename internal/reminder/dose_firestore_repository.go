package reminder

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
)

// Firestore layout: users/{uid}/medLogs/{id}.
const (
	CollectionUsers   = "users"
	CollectionMedLogs = "medLogs"

	fieldMedicationID = "medicationId"
	fieldTakenAt      = "takenAt"
	fieldNextDueAt    = "nextDueAt"
)

// FirestoreDoseRepository stores doses in each user's medLogs subcollection.
type FirestoreDoseRepository struct {
	client *firestore.Client
}

// NewFirestoreDoseRepository creates a Firestore-backed dose repository.
func NewFirestoreDoseRepository(client *firestore.Client) *FirestoreDoseRepository {
	return &FirestoreDoseRepository{client: client}
}

func (r *FirestoreDoseRepository) logs(userID string) *firestore.CollectionRef {
	return r.client.Collection(CollectionUsers).Doc(userID).Collection(CollectionMedLogs)
}

// Create adds a dose document. Firestore assigns the ID unless one is set.
func (r *FirestoreDoseRepository) Create(ctx context.Context, d *DoseLog) error {
	data := map[string]interface{}{
		fieldMedicationID:   d.MedicationID,
		fieldMedicationName: d.MedicationName,
		fieldTakenAt:        d.TakenAt,
		fieldNextDueAt:      d.NextDueAt,
	}

	if d.ID != "" {
		_, err := r.logs(d.UserID).Doc(d.ID).Set(ctx, data)
		return err
	}

	ref, _, err := r.logs(d.UserID).Add(ctx, data)
	if err != nil {
		return err
	}
	d.ID = ref.ID
	return nil
}

// ListByUser returns a user's doses ordered by takenAt descending.
// Filtering by medication requires a composite index on (medicationId, takenAt).
func (r *FirestoreDoseRepository) ListByUser(ctx context.Context, userID string, opts DoseListOptions) ([]*DoseLog, error) {
	q := r.logs(userID).Query
	if opts.MedicationID != "" {
		q = q.Where(fieldMedicationID, "==", opts.MedicationID)
	}

	docs, err := q.OrderBy(fieldTakenAt, firestore.Desc).
		Limit(opts.limit()).
		Documents(ctx).
		GetAll()
	if err != nil {
		return nil, err
	}

	items := make([]*DoseLog, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeDose(userID, doc.Ref.ID, doc.Data()))
	}
	return items, nil
}

func decodeDose(userID, id string, data map[string]interface{}) *DoseLog {
	d := &DoseLog{ID: id, UserID: userID}

	if v, ok := data[fieldMedicationID].(string); ok {
		d.MedicationID = v
	}
	if v, ok := data[fieldMedicationName].(string); ok {
		d.MedicationName = v
	}
	if v, ok := data[fieldTakenAt].(time.Time); ok {
		d.TakenAt = v
	}
	if v, ok := data[fieldNextDueAt].(time.Time); ok {
		d.NextDueAt = v
	}
	return d
}
