package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/medtracker/medtracker/internal/api/models"
)

// Validation constants.
const (
	MaxMedicationNameLength = 100
	MaxMedicationIDLength   = 128
	MinIntervalHours        = 1
	MaxIntervalHours        = 72
)

// NextDueScanLimit bounds how many recent doses NextDue reads.
const NextDueScanLimit = 500

// Clock returns the current time.
type Clock func() time.Time

// Service schedules and manages a user's reminders.
type Service struct {
	repo  Repository
	doses DoseRepository
	now   Clock
}

// NewService creates a new reminder service.
func NewService(repo Repository, doses DoseRepository) *Service {
	return &Service{repo: repo, doses: doses, now: time.Now}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(c Clock) *Service {
	s.now = c
	return s
}

// LogDose records a dose in the user's history and schedules the next
// reminder at takenAt + interval. If the dose cannot be recorded the reminder
// is removed again, so a retried request does not schedule twice.
func (s *Service) LogDose(ctx context.Context, userID string, input *models.DoseLogRequest) (*models.DoseLogged, error) {
	if fieldErrors := validateDose(input); len(fieldErrors) > 0 {
		return nil, &ValidationError{Errors: fieldErrors}
	}

	now := s.now()
	takenAt := now
	if input.TakenAt != nil {
		takenAt = input.TakenAt.Time()
	}
	name := strings.TrimSpace(input.MedicationName)
	nextDue := takenAt.Add(time.Duration(input.IntervalHours) * time.Hour).UTC()

	rem := &Reminder{
		UserID:         userID,
		MedicationName: name,
		DueAt:          nextDue,
		CreatedAt:      now.UTC(),
	}
	if err := s.repo.Create(ctx, rem); err != nil {
		return nil, fmt.Errorf("schedule reminder: %w", err)
	}

	dose := &DoseLog{
		UserID:         userID,
		MedicationID:   strings.TrimSpace(input.MedicationID),
		MedicationName: name,
		TakenAt:        takenAt.UTC(),
		NextDueAt:      nextDue,
	}
	if err := s.doses.Create(ctx, dose); err != nil {
		err = fmt.Errorf("record dose: %w", err)
		if delErr := s.repo.Delete(ctx, rem.ID); delErr != nil {
			err = errors.Join(err, fmt.Errorf("remove reminder %s: %w", rem.ID, delErr))
		}
		return nil, err
	}

	return &models.DoseLogged{
		Dose:     toAPIDose(dose),
		Reminder: toAPIReminder(rem),
	}, nil
}

// ListDoses returns a user's dose history, most recent first.
// An empty medicationID lists every medication.
func (s *Service) ListDoses(ctx context.Context, userID, medicationID string, limit int) (*models.PagedDoses, error) {
	opts := DoseListOptions{Limit: limit, MedicationID: medicationID}
	items, err := s.doses.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	out := make([]models.Dose, 0, len(items))
	for _, d := range items {
		out = append(out, toAPIDose(d))
	}

	return &models.PagedDoses{
		Items: out,
		Meta:  models.PagedResponseMeta{Limit: opts.limit()},
	}, nil
}

// NextDue returns, per medication, the next due time recorded by its most
// recent dose. Items are ordered by that dose, most recent first.
func (s *Service) NextDue(ctx context.Context, userID string) (*models.NextDueList, error) {
	doses, err := s.doses.ListByUser(ctx, userID, DoseListOptions{Limit: NextDueScanLimit})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	items := make([]models.NextDue, 0)
	for _, d := range doses {
		if d.NextDueAt.IsZero() {
			continue
		}
		key := d.MedicationKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		items = append(items, models.NextDue{
			MedicationID:   d.MedicationID,
			MedicationName: d.MedicationName,
			LastTakenAt:    models.Timestamp(d.TakenAt),
			NextDueAt:      models.Timestamp(d.NextDueAt),
		})
	}

	return &models.NextDueList{Items: items}, nil
}

// List returns a user's pending reminders.
func (s *Service) List(ctx context.Context, userID string, limit int) (*models.PagedReminders, error) {
	opts := ListOptions{Limit: limit}
	items, err := s.repo.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, err
	}

	out := make([]models.Reminder, 0, len(items))
	for _, r := range items {
		out = append(out, toAPIReminder(r))
	}

	return &models.PagedReminders{
		Items: out,
		Meta:  models.PagedResponseMeta{Limit: opts.limit()},
	}, nil
}

// Cancel deletes a pending reminder. Reminders owned by another user are reported as not found.
func (s *Service) Cancel(ctx context.Context, userID, reminderID string) error {
	rem, err := s.repo.Get(ctx, reminderID)
	if err != nil {
		return err
	}
	if rem.UserID != userID {
		return ErrReminderNotFound
	}
	return s.repo.Delete(ctx, reminderID)
}

func validateDose(input *models.DoseLogRequest) []models.FieldError {
	var errs []models.FieldError

	name := strings.TrimSpace(input.MedicationName)
	switch {
	case name == "":
		errs = append(errs, models.FieldError{Field: "medicationName", Message: "medication name is required", Code: "REQUIRED"})
	case len(name) > MaxMedicationNameLength:
		errs = append(errs, models.FieldError{Field: "medicationName", Message: "medication name must be at most 100 characters", Code: "TOO_LONG"})
	}

	if len(strings.TrimSpace(input.MedicationID)) > MaxMedicationIDLength {
		errs = append(errs, models.FieldError{Field: "medicationId", Message: "medication id must be at most 128 characters", Code: "TOO_LONG"})
	}

	if input.IntervalHours < MinIntervalHours || input.IntervalHours > MaxIntervalHours {
		errs = append(errs, models.FieldError{Field: "intervalHours", Message: "interval must be between 1 and 72 hours", Code: "OUT_OF_RANGE"})
	}

	return errs
}

func toAPIReminder(r *Reminder) models.Reminder {
	return models.Reminder{
		ID:             r.ID,
		MedicationName: r.MedicationName,
		DueAt:          models.Timestamp(r.DueAt),
		CreatedAt:      models.Timestamp(r.CreatedAt),
	}
}

func toAPIDose(d *DoseLog) models.Dose {
	return models.Dose{
		ID:             d.ID,
		MedicationID:   d.MedicationID,
		MedicationName: d.MedicationName,
		TakenAt:        models.Timestamp(d.TakenAt),
		NextDueAt:      models.Timestamp(d.NextDueAt),
	}
}

// ValidationError represents validation errors.
type ValidationError struct {
	Errors []models.FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// IsValidationError reports whether err is a ValidationError and returns it.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
