// Package handler provides HTTP handlers for the medtracker API.
package handler

import (
	"net/http"
	"strconv"

	"github.com/medtracker/medtracker/internal/api/middleware"
	"github.com/medtracker/medtracker/internal/api/response"
)

// maxPageLimit caps the limit query parameter on list endpoints.
const maxPageLimit = 200

// userID returns the authenticated caller, writing a 401 when there is none.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := middleware.GetUserID(r.Context())
	if id == "" {
		response.Unauthorized(w, r, "authentication required")
		return "", false
	}
	return id, true
}

// pageLimit parses ?limit=. Zero means the repository default.
func pageLimit(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPageLimit {
		return 0, false
	}
	return n, true
}
