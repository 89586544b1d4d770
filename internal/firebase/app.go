// Package firebase initialises the Firebase app and the clients derived from it.
package firebase

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	fb "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Config holds Firebase settings.
type Config struct {
	ProjectID       string
	CredentialsFile string
}

// App wraps a Firebase app. Clients are created on demand.
type App struct {
	app *fb.App
}

// NewApp creates a Firebase app. Without a credentials file the app uses
// Application Default Credentials.
func NewApp(ctx context.Context, cfg Config) (*App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbCfg *fb.Config
	if cfg.ProjectID != "" {
		fbCfg = &fb.Config{ProjectID: cfg.ProjectID}
	}

	app, err := fb.NewApp(ctx, fbCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing firebase app: %w", err)
	}
	return &App{app: app}, nil
}

// Firestore returns a Firestore client. The caller must close it.
func (a *App) Firestore(ctx context.Context) (*firestore.Client, error) {
	client, err := a.app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return client, nil
}

// Messaging returns an FCM client.
func (a *App) Messaging(ctx context.Context) (*messaging.Client, error) {
	client, err := a.app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating messaging client: %w", err)
	}
	return client, nil
}

// Auth returns a Firebase Auth client.
func (a *App) Auth(ctx context.Context) (*auth.Client, error) {
	client, err := a.app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating auth client: %w", err)
	}
	return client, nil
}
