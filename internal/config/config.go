package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models janitor.yml.
type Config struct {
	Service struct {
		Name    string `yaml:"name"`
		AgentID string `yaml:"agent_id"`
		Role    string `yaml:"role"`
		Version string `yaml:"version"`
	} `yaml:"service"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Backups   BackupsConfig   `yaml:"backups"`
	Checks    ChecksConfig    `yaml:"checks"`
	Wizard    WizardConfig    `yaml:"wizard"`
	Preflight PreflightConfig `yaml:"preflight"`
	Review    ReviewConfig    `yaml:"review"`
	Locks     LocksConfig     `yaml:"locks"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type BackupsConfig struct {
	Backend        string `yaml:"backend"`
	Dir            string `yaml:"dir"`
	GCSBucket      string `yaml:"gcs_bucket"`
	GCSCredentials string `yaml:"gcs_credentials"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxAgeHours    int    `yaml:"max_age_hours"`
	ResiduePrefix  string `yaml:"residue_prefix"`
}

type ChecksConfig struct {
	DiskWarnPercent     float64 `yaml:"disk_warn_percent"`
	DiskCriticalPercent float64 `yaml:"disk_critical_percent"`
	AgentStaleSeconds   int     `yaml:"agent_stale_seconds"`
	ErrorWindowHours    int     `yaml:"error_window_hours"`
	Backend             struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"backend"`
}

type WizardConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

type PreflightConfig struct {
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	APIBase        string `yaml:"api_base"`
	APIKey         string `yaml:"api_key"`
	Token          string `yaml:"token"`
	OAuthURL       string `yaml:"oauth_url"`
}

type ReviewConfig struct {
	Reviewer     string   `yaml:"reviewer"`
	MaxBytes     int      `yaml:"max_bytes"`
	MaxLines     int      `yaml:"max_lines"`
	BlockedPaths []string `yaml:"blocked_paths"`
	RulesFile    string   `yaml:"rules_file"`
}

type LocksConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
}

type RateLimitConfig struct {
	RunsPerMinute int `yaml:"runs_per_minute"`
	Burst         int `yaml:"burst"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with janitor config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the config produced by the default template.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML parses config on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	// webhooks replace rather than merge
	cfg.Webhooks = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "janitor.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.AgentID) == "" {
		return fmt.Errorf("config.service.agent_id is required")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Backups.Backend {
	case "dir":
		if c.Backups.Dir == "" {
			return fmt.Errorf("config.backups.dir is required for the dir backend")
		}
	case "gcs":
		if c.Backups.GCSBucket == "" {
			return fmt.Errorf("config.backups.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("config.backups.backend must be 'dir' or 'gcs'")
	}
	if c.Backups.RetentionDays < 0 {
		return fmt.Errorf("config.backups.retention_days must be >= 0")
	}
	if c.Backups.MaxAgeHours <= 0 {
		return fmt.Errorf("config.backups.max_age_hours must be > 0")
	}
	if c.Checks.DiskWarnPercent <= 0 || c.Checks.DiskCriticalPercent > 100 || c.Checks.DiskWarnPercent > c.Checks.DiskCriticalPercent {
		return fmt.Errorf("config.checks disk thresholds must satisfy 0 < warn <= critical <= 100")
	}
	if c.Checks.AgentStaleSeconds <= 0 {
		return fmt.Errorf("config.checks.agent_stale_seconds must be > 0")
	}
	if c.Checks.ErrorWindowHours <= 0 {
		return fmt.Errorf("config.checks.error_window_hours must be > 0")
	}
	switch c.Checks.Backend.Driver {
	case "":
	case "sqlite", "pgx":
		if c.Checks.Backend.DSN == "" {
			return fmt.Errorf("config.checks.backend.dsn is required when a driver is set")
		}
	default:
		return fmt.Errorf("config.checks.backend.driver must be 'sqlite' or 'pgx'")
	}
	if c.Wizard.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.wizard.timeout_seconds must be > 0")
	}
	if c.Preflight.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.preflight.timeout_seconds must be > 0")
	}
	if c.Review.MaxBytes <= 0 || c.Review.MaxLines <= 0 {
		return fmt.Errorf("config.review limits must be > 0")
	}
	switch c.Locks.Backend {
	case "memory":
	case "redis":
		if c.Locks.RedisAddr == "" {
			return fmt.Errorf("config.locks.redis_addr is required for the redis backend")
		}
		// the lease is not renewed, so it must outlive a fix's longest run
		if longest := c.PreflightTimeout() + c.WizardTimeout(); c.LockTTL() < longest {
			return fmt.Errorf("config.locks.ttl_seconds must be >= preflight.timeout_seconds + wizard.timeout_seconds (%d)",
				int(longest/time.Second))
		}
	default:
		return fmt.Errorf("config.locks.backend must be 'memory' or 'redis'")
	}
	if c.RateLimit.RunsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config.rate_limit values must be >= 0")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

func (c *Config) WizardTimeout() time.Duration {
	return time.Duration(c.Wizard.TimeoutSeconds) * time.Second
}

func (c *Config) PreflightTimeout() time.Duration {
	return time.Duration(c.Preflight.TimeoutSeconds) * time.Second
}

func (c *Config) AgentStaleAfter() time.Duration {
	return time.Duration(c.Checks.AgentStaleSeconds) * time.Second
}

func (c *Config) ErrorWindow() time.Duration {
	return time.Duration(c.Checks.ErrorWindowHours) * time.Hour
}

func (c *Config) BackupMaxAge() time.Duration {
	return time.Duration(c.Backups.MaxAgeHours) * time.Hour
}

func (c *Config) LockTTL() time.Duration {
	if c.Locks.TTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Locks.TTLSeconds) * time.Second
}

// BackupDir resolves the backup directory against the workspace.
func (c *Config) BackupDir(workspace string) string {
	if filepath.IsAbs(c.Backups.Dir) {
		return c.Backups.Dir
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, c.Backups.Dir)
}

// HookEnabled reports whether a webhook is active; unset means enabled.
func (h WebhookConfig) HookEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

func (h WebhookConfig) Timeout() time.Duration {
	if h.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(h.TimeoutSeconds) * time.Second
}

const defaultTemplate = `service:
  name: janitor
  agent_id: janitor
  role: maintenance
  version: dev

log:
  level: info
  format: text

backups:
  backend: dir
  dir: .janitor/backups
  retention_days: 14
  max_age_hours: 48
  residue_prefix: preflight-

checks:
  disk_warn_percent: 80
  disk_critical_percent: 90
  agent_stale_seconds: 300
  error_window_hours: 24

wizard:
  timeout_seconds: 60

preflight:
  timeout_seconds: 120
  api_base: http://127.0.0.1:8080

review:
  reviewer: janitor
  max_bytes: 262144
  max_lines: 5000
  blocked_paths:
    - ".env"
    - ".env.*"
    - "*.pem"
    - "*.key"
    - "id_rsa*"
    - ".git/**"
    - "/etc/**"
    - ".janitor/**"

locks:
  backend: memory
  ttl_seconds: 600

rate_limit:
  runs_per_minute: 30
  burst: 5
`
