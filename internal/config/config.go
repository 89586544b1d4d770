// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreMemory    = "memory"
)

// Trigger modes for the worker.
const (
	TriggerCron   = "cron"
	TriggerPubSub = "pubsub"
	TriggerBoth   = "both"
)

// Auth modes for the API.
const (
	AuthFirebase = "firebase"
	AuthHMAC     = "hmac"
)

// Config holds all configuration for the worker and API processes.
type Config struct {
	App       AppConfig
	Store     StoreConfig
	Firebase  FirebaseConfig
	Database  DatabaseConfig
	Dispatch  DispatchConfig
	Trigger   TriggerConfig
	PubSub    PubSubConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

type AppConfig struct {
	Env      string
	Port     string
	LogLevel string
}

// IsDevelopment reports whether the process runs in a local development environment.
func (a AppConfig) IsDevelopment() bool {
	return a.Env == "development"
}

type StoreConfig struct {
	Backend string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	DryRun          bool
	// IconURL and ClickLink populate the web-push block of reminders.
	IconURL   string
	ClickLink string
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxConns        int
	MinConns        int
	ConnMaxLifetime time.Duration
}

// URL returns the PostgreSQL connection URL.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// DispatchConfig holds the reminder dispatcher settings.
type DispatchConfig struct {
	Schedule      string
	TimeZone      string
	Lookahead     time.Duration
	MaxBatchSize  int
	ReadRetries   int
	RunTimeout    time.Duration
	DeleteOrphans bool
}

type TriggerConfig struct {
	Mode string
}

type PubSubConfig struct {
	ProjectID    string
	Subscription string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
}

type AuthConfig struct {
	Mode       string
	SigningKey string
	Issuer     string
	Audience   string
}

// Load reads configuration from an optional .env file and the environment.
func Load() *Config {
	// .env is optional; in containers everything comes from the environment.
	_ = godotenv.Load()

	projectID := getEnv("FIREBASE_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT"))

	return &Config{
		App: AppConfig{
			Env:      getEnv("APP_ENV", "development"),
			Port:     getEnv("APP_PORT", "8080"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(getEnv("STORE_BACKEND", StoreFirestore)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       projectID,
			CredentialsFile: getEnv("FIREBASE_CREDENTIALS_FILE", ""),
			DryRun:          getBool("PUSH_DRY_RUN", false),
			IconURL:         getEnv("PUSH_ICON_URL", ""),
			ClickLink:       getEnv("PUSH_CLICK_LINK", ""),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "medtracker"),
			Password:        getEnv("DB_PASSWORD", "localdev"),
			Name:            getEnv("DB_NAME", "medtracker"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxConns:        getInt("DB_MAX_OPEN_CONNS", 10),
			MinConns:        getInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Dispatch: DispatchConfig{
			Schedule:      getEnv("DISPATCH_SCHEDULE", "every 5 minutes"),
			TimeZone:      getEnv("DISPATCH_TIME_ZONE", "Europe/Dublin"),
			Lookahead:     getDuration("DISPATCH_LOOKAHEAD", 5*time.Minute),
			MaxBatchSize:  getInt("DISPATCH_MAX_BATCH_SIZE", 500),
			ReadRetries:   getInt("DISPATCH_READ_RETRIES", 2),
			RunTimeout:    getDuration("DISPATCH_RUN_TIMEOUT", 0),
			DeleteOrphans: getBool("DISPATCH_DELETE_ORPHANS", true),
		},
		Trigger: TriggerConfig{
			Mode: strings.ToLower(getEnv("TRIGGER_MODE", TriggerCron)),
		},
		PubSub: PubSubConfig{
			ProjectID:    getEnv("PUBSUB_PROJECT_ID", projectID),
			Subscription: getEnv("PUBSUB_SUBSCRIPTION", "medication-reminders-dispatch"),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBool("OTEL_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		},
		Auth: AuthConfig{
			Mode:       strings.ToLower(getEnv("AUTH_MODE", AuthFirebase)),
			SigningKey: getEnv("JWT_SIGNING_KEY", ""),
			Issuer:     getEnv("JWT_ISSUER", "medtracker-local"),
			Audience:   getEnv("JWT_AUDIENCE", "medtracker-api"),
		},
	}
}

// Validate checks the configuration for values the processes cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case StoreFirestore, StorePostgres, StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend))
	}

	switch c.Trigger.Mode {
	case TriggerCron, TriggerPubSub, TriggerBoth:
	default:
		errs = append(errs, fmt.Errorf("unknown TRIGGER_MODE %q", c.Trigger.Mode))
	}

	switch c.Auth.Mode {
	case AuthFirebase:
	case AuthHMAC:
		if c.Auth.SigningKey == "" {
			errs = append(errs, errors.New("JWT_SIGNING_KEY is required when AUTH_MODE=hmac"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.Auth.Mode))
	}

	if _, err := time.LoadLocation(c.Dispatch.TimeZone); err != nil {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_TIME_ZONE %q: %w", c.Dispatch.TimeZone, err))
	}
	if c.Dispatch.Lookahead <= 0 {
		errs = append(errs, errors.New("DISPATCH_LOOKAHEAD must be positive"))
	}
	if c.Dispatch.MaxBatchSize <= 0 {
		errs = append(errs, errors.New("DISPATCH_MAX_BATCH_SIZE must be positive"))
	}
	if c.Firebase.ClickLink != "" && !strings.HasPrefix(c.Firebase.ClickLink, "https://") {
		errs = append(errs, errors.New("PUSH_CLICK_LINK must be an https URL"))
	}
	if c.Store.Backend == StoreFirestore && c.Firebase.ProjectID == "" && c.Firebase.CredentialsFile == "" {
		errs = append(errs, errors.New("FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_FILE is required for the firestore backend"))
	}

	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}
