package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/storage"

	"janitor/internal/audit"
	"janitor/internal/backup"
	"janitor/internal/config"
	"janitor/internal/events"
	"janitor/internal/preflight"
	"janitor/internal/repo"
	"janitor/internal/review"
	"janitor/internal/runlock"
)

// DefaultTenant is used when a caller does not name one.
const DefaultTenant = "default"

// Run kinds, used for the run lock and notifications.
const (
	KindAudit     = "audit"
	KindWizard    = "wizard"
	KindFix       = "fix"
	KindPreflight = "preflight"
	KindCleanup   = "cleanup"
)

// Notification is published when a run finishes.
type Notification struct {
	Tenant string         `json:"tenant"`
	Kind   string         `json:"kind"`
	Status string         `json:"status"`
	At     string         `json:"at"`
	Data   map[string]any `json:"data,omitempty"`
}

type Notifier interface {
	Publish(n Notification)
}

// BackupStores resolves the backup store for a tenant.
type BackupStores func(tenant string) (backup.Store, error)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Workspace string
	// Backend is the optional live database the database check pings.
	Backend   *sql.DB
	Backups   BackupStores
	Locks     runlock.Locker
	Gate      *review.Gate
	Preflight preflight.Runner
	Notify    Notifier
	DiskUsage func(path string) (audit.DiskUsage, error)
	States    *RunStates
	Logger    *slog.Logger
	Started   time.Time
	Now       func() time.Time
}

// New wires an engine with in-process defaults: a memory run lock and
// per-tenant backup directories under the configured backup dir.
func New(db *sql.DB, cfg *config.Config, workspace string) (Engine, error) {
	gate, err := review.NewGate(review.Options{
		Reviewer:     cfg.Review.Reviewer,
		MaxBytes:     cfg.Review.MaxBytes,
		MaxLines:     cfg.Review.MaxLines,
		BlockedPaths: cfg.Review.BlockedPaths,
		RulesFile:    resolvePath(workspace, cfg.Review.RulesFile),
	})
	if err != nil {
		return Engine{}, fmt.Errorf("review gate: %w", err)
	}
	root := cfg.BackupDir(workspace)
	e := Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Workspace: workspace,
		Backups:   DirBackups(root),
		Locks:     runlock.NewMemory(),
		Gate:      gate,
		Preflight: preflight.Runner{
			Live: preflight.Endpoint{
				Token:  cfg.Preflight.Token,
				APIKey: cfg.Preflight.APIKey,
			},
			Timeout:       cfg.PreflightTimeout(),
			OAuthURL:      cfg.Preflight.OAuthURL,
			ResiduePrefix: cfg.Backups.ResiduePrefix,
		},
		DiskUsage: audit.Usage,
		States:    NewRunStates(),
		Logger:    slog.Default(),
		Started:   time.Now(),
		Now:       time.Now,
	}
	return e, nil
}

// DirBackups keeps each tenant's backups in its own directory under root.
func DirBackups(root string) BackupStores {
	return func(tenant string) (backup.Store, error) {
		if err := backup.ValidateName(tenant); err != nil {
			return nil, fmt.Errorf("tenant: %w", err)
		}
		return backup.NewDirStore(filepath.Join(root, tenant))
	}
}

// GCSBackups keeps each tenant's backups under its own prefix in bucket.
func GCSBackups(client *storage.Client, bucket string) BackupStores {
	return func(tenant string) (backup.Store, error) {
		if err := backup.ValidateName(tenant); err != nil {
			return nil, fmt.Errorf("tenant: %w", err)
		}
		return &backup.GCSStore{Client: client, Bucket: bucket, Prefix: tenant}, nil
	}
}

func resolvePath(workspace, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, p)
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) agentID() string {
	if e.Config != nil && e.Config.Service.AgentID != "" {
		return e.Config.Service.AgentID
	}
	return "janitor"
}

func tenantOr(tenant string) string {
	if tenant == "" {
		return DefaultTenant
	}
	return tenant
}

func (e Engine) backups(tenant string) (backup.Manager, error) {
	stores := e.Backups
	if stores == nil {
		stores = DirBackups(e.Config.BackupDir(e.Workspace))
	}
	store, err := stores(tenant)
	if err != nil {
		return backup.Manager{}, err
	}
	return backup.Manager{Store: store, Now: e.now, ResiduePrefix: e.Config.Backups.ResiduePrefix}, nil
}

func (e Engine) acquire(ctx context.Context, tenant, kind string) (func(), error) {
	if e.Locks == nil {
		return func() {}, nil
	}
	return e.Locks.TryAcquire(ctx, tenant, kind)
}

func (e Engine) log(ctx context.Context, tx *sql.Tx, tenant, action, status, details string) {
	if _, err := e.Events.Append(ctx, tx, events.Entry{
		Tenant:  tenant,
		Action:  action,
		Details: details,
		Status:  status,
		AgentID: e.agentID(),
	}); err != nil {
		e.logger().Error("activity log append failed", "action", action, "tenant", tenant, "err", err)
	}
}

func (e Engine) notify(tenant, kind, status string, data map[string]any) {
	if e.Notify == nil {
		return
	}
	e.Notify.Publish(Notification{
		Tenant: tenant,
		Kind:   kind,
		Status: status,
		At:     e.now().UTC().Format(time.RFC3339),
		Data:   data,
	})
}

// Wizard lifecycle states.
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateComplete = "complete"
	StateError    = "error"
)

// RunStates tracks the wizard lifecycle per tenant.
type RunStates struct {
	mu     sync.Mutex
	states map[string]string
}

func NewRunStates() *RunStates {
	return &RunStates{states: map[string]string{}}
}

func (s *RunStates) Set(tenant, state string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.states == nil {
		s.states = map[string]string{}
	}
	s.states[tenant] = state
}

func (s *RunStates) Get(tenant string) string {
	if s == nil {
		return StateIdle
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[tenant]; ok {
		return st
	}
	return StateIdle
}
