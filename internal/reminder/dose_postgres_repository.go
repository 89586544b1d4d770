package reminder

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDoseRepository is a PostgreSQL implementation of DoseRepository.
type PostgresDoseRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDoseRepository creates a new PostgreSQL dose repository.
func NewPostgresDoseRepository(pool *pgxpool.Pool) *PostgresDoseRepository {
	return &PostgresDoseRepository{pool: pool}
}

// Create inserts a dose.
func (r *PostgresDoseRepository) Create(ctx context.Context, d *DoseLog) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	query := `
		INSERT INTO dose_logs (id, user_id, medication_id, medication_name, taken_at, next_due_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		d.ID,
		d.UserID,
		d.MedicationID,
		d.MedicationName,
		d.TakenAt,
		d.NextDueAt,
	)
	return err
}

// ListByUser returns a user's doses, most recent first, optionally for one medication.
func (r *PostgresDoseRepository) ListByUser(ctx context.Context, userID string, opts DoseListOptions) ([]*DoseLog, error) {
	query := `
		SELECT id, user_id, medication_id, medication_name, taken_at, next_due_at
		FROM dose_logs
		WHERE user_id = $1 AND ($2 = '' OR medication_id = $2)
		ORDER BY taken_at DESC, id
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, userID, opts.MedicationID, opts.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*DoseLog
	for rows.Next() {
		var d DoseLog
		if err := rows.Scan(
			&d.ID,
			&d.UserID,
			&d.MedicationID,
			&d.MedicationName,
			&d.TakenAt,
			&d.NextDueAt,
		); err != nil {
			return nil, err
		}
		items = append(items, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
