package handler

import (
	"net/http"
	"time"

	"github.com/medtracker/medtracker/internal/api/models"
	"github.com/medtracker/medtracker/internal/api/response"
	"github.com/medtracker/medtracker/internal/resilience"
)

// StatusFunc reports process-specific details for the status endpoint.
type StatusFunc func() map[string]interface{}

// OpsConfig configures an OpsHandler.
type OpsConfig struct {
	Version   string
	BuildTime string
	// Registry supplies dependency health. Nil means no tracked dependencies.
	Registry *resilience.Registry
	// Dispatch supplies the worker's dispatch counters. Nil on the API.
	Dispatch StatusFunc
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
	now func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg, now: time.Now}
}

// HealthCheck handles GET /v1/ops/health, the liveness probe.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. An open circuit on any dependency
// makes the process unready (503); a half-open one reports DEGRADED with 200.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	deps := dependencyStatuses(h.cfg.Registry)
	status := overallStatus(deps)

	details := make(map[string]interface{}, len(deps))
	for _, d := range deps {
		details[d.Name] = d.Status
	}

	code := http.StatusOK
	if status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, models.Health{
		Status:  status,
		Time:    models.Timestamp(h.now()),
		Details: details,
	})
}

// Status handles GET /v1/ops/status with dependency detail and dispatch counters.
func (h *OpsHandler) Status(w http.ResponseWriter, r *http.Request) {
	deps := dependencyStatuses(h.cfg.Registry)

	var dispatch map[string]interface{}
	if h.cfg.Dispatch != nil {
		dispatch = h.cfg.Dispatch()
	}

	response.JSON(w, r, http.StatusOK, models.WorkerStatus{
		Status:       overallStatus(deps),
		Time:         models.Timestamp(h.now()),
		Dependencies: deps,
		Dispatch:     dispatch,
	})
}

func dependencyStatuses(registry *resilience.Registry) []models.DependencyStatus {
	if registry == nil {
		return []models.DependencyStatus{}
	}

	all := registry.GetAllHealth()
	out := make([]models.DependencyStatus, 0, len(all))
	for _, dep := range all {
		s := models.DependencyStatus{
			Name:          dep.Name,
			Status:        models.HealthStatusOK,
			LastSuccessAt: timestampPtr(dep.LastSuccessAt),
			LastFailureAt: timestampPtr(dep.LastFailureAt),
		}
		switch {
		case dep.IsUnhealthy():
			s.Status = models.HealthStatusFail
		case dep.IsDegraded():
			s.Status = models.HealthStatusDegraded
		}
		if dep.LastError != "" {
			msg := dep.LastError
			s.Message = &msg
		}
		out = append(out, s)
	}
	return out
}

func overallStatus(deps []models.DependencyStatus) models.HealthStatus {
	status := models.HealthStatusOK
	for _, d := range deps {
		switch d.Status {
		case models.HealthStatusFail:
			return models.HealthStatusFail
		case models.HealthStatusDegraded:
			status = models.HealthStatusDegraded
		}
	}
	return status
}

func timestampPtr(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	ts := models.Timestamp(*t)
	return &ts
}
