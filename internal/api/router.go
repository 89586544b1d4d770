// Package api assembles the HTTP routers for the medtracker API and worker.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/api/handler"
	"github.com/medtracker/medtracker/internal/api/middleware"
	"github.com/medtracker/medtracker/internal/api/models"
	"github.com/medtracker/medtracker/internal/auth"
	"github.com/medtracker/medtracker/internal/device"
	"github.com/medtracker/medtracker/internal/reminder"
	"github.com/medtracker/medtracker/internal/resilience"
)

// RouterConfig holds configuration for the client-facing router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Verifier    auth.Verifier
	Reminders   *reminder.Service
	Tokens      *device.Service
	Registry    *resilience.Registry
}

// NewRouter creates the API router with all client routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "medtracker-api"
	}

	r := chi.NewRouter()
	useCommon(r, serviceName, cfg.Logger, cfg.Metrics)
	r.Use(middleware.RequireJSON)
	useProblemHandlers(r)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
	})
	tokenHandler := handler.NewFCMTokenHandler(cfg.Tokens, cfg.Logger)
	reminderHandler := handler.NewReminderHandler(cfg.Reminders, cfg.Logger)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.OpsRateLimit))
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(middleware.Auth(cfg.Verifier))
			r.Use(middleware.RateLimitByUser(middleware.StandardRateLimit))

			r.Route("/fcm-tokens", func(r chi.Router) {
				r.Get("/", tokenHandler.List)
				r.Put("/{token}", tokenHandler.Register)
				r.Delete("/{token}", tokenHandler.Unregister)
			})

			r.Route("/doses", func(r chi.Router) {
				r.Get("/", reminderHandler.ListDoses)
				r.Post("/", reminderHandler.LogDose)
				r.Get("/next-due", reminderHandler.NextDue)
			})

			r.Route("/reminders", func(r chi.Router) {
				r.Get("/", reminderHandler.List)
				r.Delete("/{reminderId}", reminderHandler.Cancel)
			})
		})
	})

	return r
}

// OpsRouterConfig holds configuration for the worker's ops router.
type OpsRouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Registry    *resilience.Registry
	Dispatch    handler.StatusFunc
}

// NewOpsRouter creates the worker's internal router: health, readiness and dispatch status.
func NewOpsRouter(cfg OpsRouterConfig) *chi.Mux {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "medtracker-worker"
	}

	r := chi.NewRouter()
	useCommon(r, serviceName, cfg.Logger, nil)
	useProblemHandlers(r)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Dispatch:  cfg.Dispatch,
	})

	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)
		r.Get("/status", opsHandler.Status)
	})

	return r
}

// useCommon installs the middleware shared by both routers. Order matters:
// request id first so every later layer can tag its output with it.
func useCommon(r chi.Router, serviceName string, log zerolog.Logger, metrics *middleware.Metrics) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if metrics != nil {
		r.Use(metrics.Middleware())
	}
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
}

// useProblemHandlers makes unmatched routes and methods answer with problem+json.
func useProblemHandlers(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		models.NewNotFound(middleware.GetRequestID(r.Context()), "no route for "+r.Method+" "+r.URL.Path).
			WithInstance(r.URL.Path).
			Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		models.NewProblem(models.ProblemTypeNotFound, "Method not allowed", http.StatusMethodNotAllowed,
			middleware.GetRequestID(r.Context())).
			WithInstance(r.URL.Path).
			Write(w)
	})
}
