package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/api/models"
	"github.com/medtracker/medtracker/internal/api/response"
	"github.com/medtracker/medtracker/internal/device"
)

// FCMTokenHandler handles the caller's push token endpoints.
type FCMTokenHandler struct {
	tokens *device.Service
	log    zerolog.Logger
}

// NewFCMTokenHandler creates a new FCMTokenHandler.
func NewFCMTokenHandler(tokens *device.Service, log zerolog.Logger) *FCMTokenHandler {
	return &FCMTokenHandler{tokens: tokens, log: log}
}

// List handles GET /v1/me/fcm-tokens.
func (h *FCMTokenHandler) List(w http.ResponseWriter, r *http.Request) {
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

	page, err := h.tokens.List(r.Context(), uid, limit)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("list fcm tokens")
		response.InternalError(w, r, "failed to list tokens")
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

// Register handles PUT /v1/me/fcm-tokens/{token}. Returns 201 for a new token and 200 for a refresh.
func (h *FCMTokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	token, ok := tokenParam(w, r)
	if !ok {
		return
	}

	var input models.FCMTokenRegisterRequest
	if err := response.DecodeJSON(w, r, &input); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if input.UserAgent == "" {
		input.UserAgent = r.UserAgent()
	}

	result, created, err := h.tokens.Register(r.Context(), uid, token, &input)
	if err != nil {
		if errors.Is(err, device.ErrInvalidToken) {
			response.BadRequest(w, r, "invalid FCM token", []models.FieldError{
				{Field: "token", Message: "must be a non-empty FCM registration token", Code: "INVALID"},
			})
			return
		}
		h.log.Error().Err(err).Str("user_id", uid).Msg("register fcm token")
		response.InternalError(w, r, "failed to register token")
		return
	}

	if created {
		h.log.Info().Str("user_id", uid).Str("token_suffix", result.TokenLast8).Msg("fcm token registered")
		response.JSON(w, r, http.StatusCreated, result)
		return
	}
	response.JSON(w, r, http.StatusOK, result)
}

// Unregister handles DELETE /v1/me/fcm-tokens/{token}. Unknown tokens still return 204.
func (h *FCMTokenHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}
	token, ok := tokenParam(w, r)
	if !ok {
		return
	}

	if err := h.tokens.Unregister(r.Context(), uid, token); err != nil {
		if errors.Is(err, device.ErrInvalidToken) {
			response.BadRequest(w, r, "invalid FCM token", nil)
			return
		}
		h.log.Error().Err(err).Str("user_id", uid).Msg("unregister fcm token")
		response.InternalError(w, r, "failed to unregister token")
		return
	}
	response.NoContent(w, r)
}

// tokenParam reads the path-escaped {token} segment. FCM tokens contain ':'.
func tokenParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, err := url.PathUnescape(chi.URLParam(r, "token"))
	if err != nil || token == "" {
		response.BadRequest(w, r, "token is required", nil)
		return "", false
	}
	return token, true
}
