// Package app wires a janitor engine from a workspace: config, store,
// migrations and the optional external backends the config names.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"janitor/internal/backup"
	"janitor/internal/config"
	"janitor/internal/db"
	"janitor/internal/engine"
	"janitor/internal/migrate"
	"janitor/internal/runlock"
	"janitor/internal/sandbox"
)

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/janitor.yml.
	ConfigPath string
	// RequireConfig fails when no config file exists instead of using
	// the defaults.
	RequireConfig bool
	Logger        *slog.Logger
}

// App is a bootstrapped engine plus the resources it owns.
type App struct {
	Engine  engine.Engine
	Config  *config.Config
	DB      *sql.DB
	Logger  *slog.Logger
	closers []func() error
}

// LoadConfig resolves the config for opts.
func LoadConfig(opts Options) (*config.Config, error) {
	switch {
	case opts.ConfigPath != "":
		return config.FromFile(opts.ConfigPath)
	case opts.RequireConfig:
		return config.Load(opts.Workspace)
	default:
		return config.LoadOptional(opts.Workspace)
	}
}

// Open loads config, opens and migrates the store and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)
	if err := migrate.Migrate(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	e, err := engine.New(conn, cfg, opts.Workspace)
	if err != nil {
		return nil, err
	}
	e.Logger = logger

	if cfg.Locks.Backend == "redis" {
		locks, err := runlock.NewRedis(cfg.Locks.RedisAddr, cfg.Locks.RedisPassword, cfg.Locks.RedisDB, cfg.LockTTL())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, locks.Client.Close)
		e.Locks = locks
	}
	if cfg.Backups.Backend == "gcs" {
		client, err := backup.NewGCSClient(ctx, cfg.Backups.GCSCredentials)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		e.Backups = engine.GCSBackups(client, cfg.Backups.GCSBucket)
	}
	if cfg.Checks.Backend.Driver != "" {
		backend, err := db.OpenBackend(cfg.Checks.Backend.Driver, cfg.Checks.Backend.DSN)
		if err != nil {
			return nil, fmt.Errorf("open backend: %w", err)
		}
		a.closers = append(a.closers, backend.Close)
		e.Backend = backend
	}
	e.Preflight.Sandbox = sandbox.Factory(cfg, logger)
	e.Preflight.Logger = logger

	a.Engine = e
	ok = true
	return a, nil
}

// Close releases everything Open acquired, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// NewLogger builds the process logger. format is "json" or "text".
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
