package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"janitor/internal/config"
	"janitor/internal/db"
)

func TestOpenWithDefaults(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := Open(ctx, Options{Workspace: dir})
	require.NoError(t, err)
	defer a.Close()

	assert.FileExists(t, db.Path(dir))
	assert.NotNil(t, a.Engine.Preflight.Sandbox)
	assert.Nil(t, a.Engine.Backend)

	res, err := a.Engine.RunAudit(ctx, "")
	require.NoError(t, err)
	assert.NotZero(t, res.ChecksTotal)
}

func TestOpenRequiresConfigWhenAsked(t *testing.T) {
	_, err := Open(context.Background(), Options{Workspace: t.TempDir(), RequireConfig: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "janitor config init")
}

func TestOpenUsesExplicitConfigPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("backups:\n  retention_days: 3\n"), 0o644))

	a, err := Open(context.Background(), Options{Workspace: dir, ConfigPath: path})
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 3, a.Config.Backups.RetentionDays)
}

func TestOpenWithSQLiteBackend(t *testing.T) {
	dir := t.TempDir()
	backendPath := filepath.Join(dir, "backend.db")
	yml := "checks:\n  backend:\n    driver: sqlite\n    dsn: \"file:" + backendPath + "\"\n"
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(yml), 0o644))

	a, err := Open(context.Background(), Options{Workspace: dir, RequireConfig: true})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.Engine.Backend)
	require.NoError(t, db.Ping(context.Background(), a.Engine.Backend, 0))
}

func TestOpenFailsOnUnreachableRedis(t *testing.T) {
	dir := t.TempDir()
	yml := "locks:\n  backend: redis\n  redis_addr: 127.0.0.1:1\n"
	require.NoError(t, os.WriteFile(config.Path(dir), []byte(yml), 0o644))

	_, err := Open(context.Background(), Options{Workspace: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "json")
	logger.Info("hidden")
	logger.Warn("shown", "tenant", "acme")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "acme", line["tenant"])

	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
