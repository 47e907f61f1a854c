package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultTemplateValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Backups.RetentionDays != 14 || cfg.Backups.ResiduePrefix != "preflight-" {
		t.Fatalf("unexpected backup defaults: %+v", cfg.Backups)
	}
	if len(cfg.Review.BlockedPaths) == 0 {
		t.Fatalf("expected default blocked paths")
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("backups:\n  retention_days: 3\nwebhooks:\n  - url: http://hook.local\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backups.RetentionDays != 3 {
		t.Fatalf("expected override, got %d", cfg.Backups.RetentionDays)
	}
	if cfg.Wizard.TimeoutSeconds != 60 {
		t.Fatalf("expected default wizard timeout kept, got %d", cfg.Wizard.TimeoutSeconds)
	}
	if len(cfg.Webhooks) != 1 || !cfg.Webhooks[0].HookEnabled() {
		t.Fatalf("expected one enabled webhook, got %+v", cfg.Webhooks)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"backend":   "backups:\n  backend: s3\n",
		"disk":      "checks:\n  disk_warn_percent: 95\n  disk_critical_percent: 90\n",
		"redis":     "locks:\n  backend: redis\n",
		"lock ttl":  "locks:\n  backend: redis\n  redis_addr: localhost:6379\n  ttl_seconds: 90\n",
		"driver":    "checks:\n  backend:\n    driver: mysql\n    dsn: x\n",
		"hook":      "webhooks:\n  - secret: s\n",
		"log level": "log:\n  level: loud\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLockTTLMustCoverRunTimeouts(t *testing.T) {
	doc := "locks:\n  backend: redis\n  redis_addr: localhost:6379\n  ttl_seconds: %d\nwizard:\n  timeout_seconds: 60\npreflight:\n  timeout_seconds: 120\n"
	if _, err := FromYAML([]byte(fmt.Sprintf(doc, 179))); err == nil || !strings.Contains(err.Error(), "ttl_seconds") {
		t.Fatalf("expected ttl validation error, got %v", err)
	}
	cfg, err := FromYAML([]byte(fmt.Sprintf(doc, 180)))
	if err != nil {
		t.Fatalf("ttl equal to the run budget should validate: %v", err)
	}
	if cfg.LockTTL() != 180*time.Second {
		t.Fatalf("unexpected lock ttl %v", cfg.LockTTL())
	}
	// the memory backend has no lease
	if _, err := FromYAML([]byte("locks:\n  backend: memory\n  ttl_seconds: 1\n")); err != nil {
		t.Fatalf("memory backend: %v", err)
	}
}

func TestLoadOptionalMissingReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Service.AgentID != "janitor" {
		t.Fatalf("expected default agent id, got %q", cfg.Service.AgentID)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "janitor.yml"), []byte(GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err != nil {
		t.Fatalf("load written default: %v", err)
	}
	if got := cfg.BackupDir(dir); got != filepath.Join(dir, ".janitor", "backups") {
		t.Fatalf("unexpected backup dir %s", got)
	}
}
