// Package main provides the entrypoint for the medication reminder dispatcher.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/medtracker/medtracker/internal/api"
	"github.com/medtracker/medtracker/internal/config"
	"github.com/medtracker/medtracker/internal/firebase"
	"github.com/medtracker/medtracker/internal/logging"
	"github.com/medtracker/medtracker/internal/push"
	"github.com/medtracker/medtracker/internal/resilience"
	"github.com/medtracker/medtracker/internal/store"
	"github.com/medtracker/medtracker/internal/telemetry"
	"github.com/medtracker/medtracker/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "medtracker-worker"

func main() {
	once := flag.Bool("once", false, "run a single dispatch and exit")
	flag.Parse()

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

	if err := run(ctx, cfg, log, *once); err != nil {
		log.Error().Err(err).Msg("worker exited with error")
		os.Exit(1) //nolint:gocritic // deferred stop is best effort
	}
	log.Info().Msg("worker stopped")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, once bool) error {
	log.Info().
		Str("build_time", BuildTime).
		Str("store", cfg.Store.Backend).
		Str("trigger", cfg.Trigger.Mode).
		Bool("dry_run", cfg.Firebase.DryRun).
		Msg("starting reminder dispatcher")

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

	var app *firebase.App
	if cfg.Store.Backend == config.StoreFirestore || !cfg.Firebase.DryRun {
		app, err = firebase.NewApp(ctx, firebase.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return err
		}
	}

	stores, err := store.Open(ctx, cfg, store.Options{Firebase: app, Logger: log})
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	registry := resilience.NewRegistry()
	registry.Register(worker.DependencyReminderStore, nil)
	registry.Register(worker.DependencyTokenStore, nil)

	gateway, err := newGateway(ctx, cfg, app, log)
	if err != nil {
		return err
	}
	breaker := push.NewBreakerGateway(gateway, resilience.DefaultCircuitBreakerConfig(worker.DependencyPushGateway))
	registry.Register(worker.DependencyPushGateway, breaker)

	metrics, err := worker.NewMetrics()
	if err != nil {
		return err
	}

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		Config: worker.DispatchConfig{
			Lookahead:    cfg.Dispatch.Lookahead,
			MaxBatchSize: cfg.Dispatch.MaxBatchSize,
			ReadRetries:  cfg.Dispatch.ReadRetries,
			RunTimeout:   cfg.Dispatch.RunTimeout,
			KeepOrphans:  !cfg.Dispatch.DeleteOrphans,
		},
		Logger:    log,
		Reminders: stores.Reminders,
		Tokens:    stores.Tokens,
		Gateway:   breaker,
		Metrics:   metrics,
		Registry:  registry,
	})

	if once {
		_, err := dispatcher.Run(ctx)
		return err
	}

	server := &http.Server{
		Addr: ":" + cfg.App.Port,
		Handler: api.NewOpsRouter(api.OpsRouterConfig{
			Version:     Version,
			BuildTime:   BuildTime,
			Logger:      log,
			ServiceName: serviceName,
			Registry:    registry,
			Dispatch:    metrics.SnapshotMap,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("ops server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	var scheduler *worker.Scheduler
	if cfg.Trigger.Mode == config.TriggerCron || cfg.Trigger.Mode == config.TriggerBoth {
		scheduler, err = worker.NewScheduler(worker.SchedulerConfig{
			Schedule: cfg.Dispatch.Schedule,
			TimeZone: cfg.Dispatch.TimeZone,
			Logger:   log,
		}, dispatcher)
		if err != nil {
			return err
		}
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
	}

	if cfg.Trigger.Mode == config.TriggerPubSub || cfg.Trigger.Mode == config.TriggerBoth {
		handler, err := worker.NewPubSubHandler(gctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Runner:           dispatcher,
			Logger:           log,
		})
		if err != nil {
			return err
		}
		defer handler.Close() //nolint:errcheck // best effort on shutdown
		g.Go(func() error {
			return handler.Start(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var errs []error
		if scheduler != nil {
			errs = append(errs, scheduler.Stop(shutdownCtx))
		}
		errs = append(errs, server.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})

	return g.Wait()
}

// newGateway builds the FCM gateway, or a logging gateway in dry-run mode.
func newGateway(ctx context.Context, cfg *config.Config, app *firebase.App, log zerolog.Logger) (push.Gateway, error) {
	if cfg.Firebase.DryRun {
		log.Warn().Msg("push dry run enabled, notifications are logged and not sent")
		return push.NewLogGateway(log), nil
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, err
	}
	return push.NewFCMGateway(client, push.FCMOptions{
		IconURL: cfg.Firebase.IconURL,
		Link:    cfg.Firebase.ClickLink,
	}), nil
}
