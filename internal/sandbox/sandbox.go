// Package sandbox starts a throwaway janitor API for isolated preflight
// runs. Each sandbox owns a temporary workspace, store and backup directory
// and serves on a loopback port; nothing is shared with the live service.
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"janitor/internal/config"
	"janitor/internal/db"
	"janitor/internal/engine"
	"janitor/internal/migrate"
	"janitor/internal/preflight"
	"janitor/internal/server"
)

const actor = "preflight-sandbox"

// Sandbox is a running isolated API instance.
type Sandbox struct {
	Dir      string
	endpoint preflight.Endpoint
	srv      *http.Server
	hub      *server.Hub
	conn     *sql.DB
	logger   *slog.Logger
}

// Factory returns a preflight.SandboxFactory that derives each sandbox's
// config from base.
func Factory(base *config.Config, logger *slog.Logger) preflight.SandboxFactory {
	return func(ctx context.Context) (preflight.Sandbox, error) {
		return Start(ctx, base, logger)
	}
}

// Start prepares a fresh workspace and serves the API from it. The caller
// must Close the sandbox.
func Start(ctx context.Context, base *config.Config, logger *slog.Logger) (*Sandbox, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir, err := os.MkdirTemp("", "janitor-sandbox-")
	if err != nil {
		return nil, fmt.Errorf("sandbox workspace: %w", err)
	}
	sb := &Sandbox{Dir: dir, logger: logger}
	ok := false
	defer func() {
		if !ok {
			sb.Close()
		}
	}()

	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("sandbox store: %w", err)
	}
	sb.conn = conn
	if err := migrate.Migrate(ctx, conn); err != nil {
		return nil, fmt.Errorf("sandbox migrate: %w", err)
	}
	cfg := isolatedConfig(base)
	e, err := engine.New(conn, cfg, dir)
	if err != nil {
		return nil, fmt.Errorf("sandbox engine: %w", err)
	}
	e.Logger = logger.With("sandbox", dir)

	secret := uuid.NewString()
	token, err := server.SignToken(secret, actor, engine.DefaultTenant, time.Hour)
	if err != nil {
		return nil, err
	}
	sb.hub = server.NewHub(e.Logger)
	handler, err := server.New(server.Config{
		Engine: e,
		Auth:   server.AuthConfig{JWTSecret: secret},
		Hub:    sb.hub,
		Logger: e.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sandbox server: %w", err)
	}
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sandbox listen: %w", err)
	}
	sb.srv = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := sb.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("sandbox server stopped", "err", err)
		}
	}()
	sb.endpoint = preflight.Endpoint{
		BaseURL: "http://" + ln.Addr().String(),
		Tenant:  engine.DefaultTenant,
		Token:   token,
	}
	logger.Debug("sandbox started", "dir", dir, "url", sb.endpoint.BaseURL)
	ok = true
	return sb, nil
}

func (s *Sandbox) Endpoint() preflight.Endpoint { return s.endpoint }

// Close stops the server and removes the workspace.
func (s *Sandbox) Close() error {
	var errs []error
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// isolatedConfig copies base and points everything stateful at the sandbox.
func isolatedConfig(base *config.Config) *config.Config {
	if base == nil {
		base = config.Default()
	}
	cfg := *base
	def := config.Default()
	cfg.Backups = def.Backups
	cfg.Backups.RetentionDays = base.Backups.RetentionDays
	cfg.Backups.ResiduePrefix = base.Backups.ResiduePrefix
	cfg.Checks.Backend.Driver = ""
	cfg.Checks.Backend.DSN = ""
	cfg.Locks = def.Locks
	cfg.RateLimit = config.RateLimitConfig{}
	cfg.Webhooks = nil
	cfg.Preflight.APIBase = ""
	cfg.Preflight.OAuthURL = ""
	// relative rule files resolve against the live workspace, which the
	// sandbox cannot see
	if !filepath.IsAbs(cfg.Review.RulesFile) {
		cfg.Review.RulesFile = ""
	}
	cfg.Review.BlockedPaths = append([]string(nil), base.Review.BlockedPaths...)
	return &cfg
}
