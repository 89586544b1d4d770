// Package main provides the entrypoint for the medtracker API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/api"
	"github.com/medtracker/medtracker/internal/api/middleware"
	"github.com/medtracker/medtracker/internal/auth"
	"github.com/medtracker/medtracker/internal/config"
	"github.com/medtracker/medtracker/internal/device"
	"github.com/medtracker/medtracker/internal/firebase"
	"github.com/medtracker/medtracker/internal/logging"
	"github.com/medtracker/medtracker/internal/reminder"
	"github.com/medtracker/medtracker/internal/resilience"
	"github.com/medtracker/medtracker/internal/store"
	"github.com/medtracker/medtracker/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "medtracker-api"

func main() {
	cfg := config.Load()
	log := logging.New(logging.Config{
		Service: serviceName,
		Version: Version,
		Level:   cfg.App.LogLevel,
		Console: cfg.App.IsDevelopment(),
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("api exited with error")
		os.Exit(1) //nolint:gocritic // deferred stop is best effort
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	log.Info().
		Str("build_time", BuildTime).
		Str("store", cfg.Store.Backend).
		Str("auth", cfg.Auth.Mode).
		Msg("starting medtracker API")

	tp, err := telemetry.Init(ctx, telemetry.ConfigFor(serviceName, Version, cfg))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry")
		}
	}()

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}

	var app *firebase.App
	if cfg.Store.Backend == config.StoreFirestore || cfg.Auth.Mode == config.AuthFirebase {
		app, err = firebase.NewApp(ctx, firebase.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return err
		}
	}

	// The API owns the Postgres schema; the worker only reads and deletes.
	stores, err := store.Open(ctx, cfg, store.Options{Firebase: app, Migrate: true, Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	verifier, err := newVerifier(ctx, cfg, app, log)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Verifier:    verifier,
		Reminders:   reminder.NewService(stores.Reminders, stores.Doses),
		Tokens:      device.NewService(stores.Tokens),
		Registry:    resilience.NewRegistry(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// newVerifier picks the ID token verifier for AUTH_MODE.
func newVerifier(ctx context.Context, cfg *config.Config, app *firebase.App, log zerolog.Logger) (auth.Verifier, error) {
	if cfg.Auth.Mode == config.AuthHMAC {
		log.Warn().Msg("using HS256 token verification, intended for local development only")
		return auth.NewHMACVerifier(auth.HMACConfig{
			SigningKey: cfg.Auth.SigningKey,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}), nil
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, err
	}
	return auth.NewFirebaseVerifier(client), nil
}
