package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL reminder repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const reminderColumns = `id, user_id, medication_name, due_at, created_at`

// Create inserts a new reminder.
func (r *PostgresRepository) Create(ctx context.Context, rem *Reminder) error {
	if rem.ID == "" {
		rem.ID = uuid.New().String()
	}
	if rem.CreatedAt.IsZero() {
		rem.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO scheduled_reminders (id, user_id, medication_name, due_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.pool.Exec(ctx, query,
		rem.ID,
		rem.UserID,
		rem.MedicationName,
		rem.DueAt,
		rem.CreatedAt,
	)
	return err
}

// Get retrieves a reminder by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM scheduled_reminders WHERE id = $1`

	var rem Reminder
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rem.ID,
		&rem.UserID,
		&rem.MedicationName,
		&rem.DueAt,
		&rem.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, err
	}
	return &rem, nil
}

// ListDue returns reminders due in [from, to).
func (r *PostgresRepository) ListDue(ctx context.Context, from, to time.Time) ([]*Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM scheduled_reminders
		WHERE due_at >= $1 AND due_at < $2
		ORDER BY due_at, id
	`
	return r.query(ctx, query, from, to)
}

// ListByUser returns a user's reminders ordered by due time.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, opts ListOptions) ([]*Reminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM scheduled_reminders
		WHERE user_id = $1
		ORDER BY due_at, id
		LIMIT $2
	`
	return r.query(ctx, query, userID, opts.limit())
}

// Delete removes a reminder. Missing rows are ignored.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM scheduled_reminders WHERE id = $1`, id)
	return err
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...interface{}) ([]*Reminder, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Reminder
	for rows.Next() {
		var rem Reminder
		if err := rows.Scan(
			&rem.ID,
			&rem.UserID,
			&rem.MedicationName,
			&rem.DueAt,
			&rem.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, &rem)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
