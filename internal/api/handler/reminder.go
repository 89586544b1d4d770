package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/api/models"
	"github.com/medtracker/medtracker/internal/api/response"
	"github.com/medtracker/medtracker/internal/reminder"
)

// ReminderHandler handles dose logging and pending reminder endpoints.
type ReminderHandler struct {
	reminders *reminder.Service
	log       zerolog.Logger
}

// NewReminderHandler creates a new ReminderHandler.
func NewReminderHandler(reminders *reminder.Service, log zerolog.Logger) *ReminderHandler {
	return &ReminderHandler{reminders: reminders, log: log}
}

// LogDose handles POST /v1/me/doses. It records the dose in the user's
// history and schedules the next reminder.
func (h *ReminderHandler) LogDose(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	var input models.DoseLogRequest
	if err := response.DecodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	logged, err := h.reminders.LogDose(r.Context(), uid, &input)
	if err != nil {
		if verr, ok := reminder.IsValidationError(err); ok {
			response.BadRequest(w, r, "invalid dose", verr.Errors)
			return
		}
		h.log.Error().Err(err).Str("user_id", uid).Msg("log dose")
		response.InternalError(w, r, "failed to record dose")
		return
	}

	h.log.Info().
		Str("user_id", uid).
		Str("dose_id", logged.Dose.ID).
		Str("reminder_id", logged.Reminder.ID).
		Time("due_at", logged.Reminder.DueAt.Time()).
		Msg("dose recorded, reminder scheduled")
	response.Created(w, r, "/v1/me/reminders/"+logged.Reminder.ID, logged)
}

// ListDoses handles GET /v1/me/doses, optionally filtered by ?medicationId=.
func (h *ReminderHandler) ListDoses(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit, ok := pageLimit(r)
	if !ok {
		response.BadRequest(w, r, "invalid limit", []models.FieldError{
			{Field: "limit", Message: "must be an integer between 1 and 200", Code: "OUT_OF_RANGE"},
		})
		return
	}

	page, err := h.reminders.ListDoses(r.Context(), uid, r.URL.Query().Get("medicationId"), limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("list doses")
		response.InternalError(w, r, "failed to list doses")
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// NextDue handles GET /v1/me/doses/next-due.
func (h *ReminderHandler) NextDue(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	next, err := h.reminders.NextDue(r.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("next due")
		response.InternalError(w, r, "failed to read dose history")
		return
	}
	response.JSON(w, r, http.StatusOK, next)
}

// List handles GET /v1/me/reminders.
func (h *ReminderHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	limit, ok := pageLimit(r)
	if !ok {
		response.BadRequest(w, r, "invalid limit", []models.FieldError{
			{Field: "limit", Message: "must be an integer between 1 and 200", Code: "OUT_OF_RANGE"},
		})
		return
	}

	page, err := h.reminders.List(r.Context(), uid, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("list reminders")
		response.InternalError(w, r, "failed to list reminders")
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Cancel handles DELETE /v1/me/reminders/{reminderId}.
func (h *ReminderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	reminderID := chi.URLParam(r, "reminderId")
	if reminderID == "" {
		response.BadRequest(w, r, "reminderId is required", nil)
		return
	}

	if err := h.reminders.Cancel(r.Context(), uid, reminderID); err != nil {
		if errors.Is(err, reminder.ErrReminderNotFound) {
			response.NotFound(w, r, "reminder not found")
			return
		}
		h.log.Error().Err(err).Str("user_id", uid).Str("reminder_id", reminderID).Msg("cancel reminder")
		response.InternalError(w, r, "failed to cancel reminder")
		return
	}
	response.NoContent(w, r)
}
