// Package store opens the reminder, dose and token repositories for the configured backend.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/medtracker/medtracker/internal/config"
	"github.com/medtracker/medtracker/internal/database"
	"github.com/medtracker/medtracker/internal/device"
	"github.com/medtracker/medtracker/internal/firebase"
	"github.com/medtracker/medtracker/internal/reminder"
)

// Stores holds the repositories for one backend.
type Stores struct {
	Backend   string
	Reminders reminder.Repository
	Doses     reminder.DoseRepository
	Tokens    device.Repository

	closers []func() error
}

// Options controls how Open connects.
type Options struct {
	// Firebase is required for the firestore backend.
	Firebase *firebase.App
	// Migrate applies embedded migrations when the backend is postgres.
	Migrate bool
	Logger  zerolog.Logger
}

// Open connects the repositories selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Stores, error) {
	log := opts.Logger.With().Str("component", "store").Str("backend", cfg.Store.Backend).Logger()

	switch cfg.Store.Backend {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return &Stores{
			Backend:   config.StoreMemory,
			Reminders: reminder.NewInMemoryRepository(),
			Doses:     reminder.NewInMemoryDoseRepository(),
			Tokens:    device.NewInMemoryRepository(),
		}, nil

	case config.StorePostgres:
		if opts.Migrate {
			if err := database.Migrate(cfg.Database.URL(), log); err != nil {
				return nil, err
			}
		}
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		log.Info().
			Str("host", cfg.Database.Host).
			Int("port", cfg.Database.Port).
			Str("database", cfg.Database.Name).
			Msg("database connected")
		return &Stores{
			Backend:   config.StorePostgres,
			Reminders: reminder.NewPostgresRepository(pool),
			Doses:     reminder.NewPostgresDoseRepository(pool),
			Tokens:    device.NewPostgresRepository(pool),
			closers:   []func() error{func() error { pool.Close(); return nil }},
		}, nil

	case config.StoreFirestore:
		if opts.Firebase == nil {
			return nil, errors.New("firestore backend requires a firebase app")
		}
		client, err := opts.Firebase.Firestore(ctx)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("firestore connected")
		return &Stores{
			Backend:   config.StoreFirestore,
			Reminders: reminder.NewFirestoreRepository(client),
			Doses:     reminder.NewFirestoreDoseRepository(client),
			Tokens:    device.NewFirestoreRepository(client),
			closers:   []func() error{client.Close},
		}, nil
	}

	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// Close releases backend connections.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
