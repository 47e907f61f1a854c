package sandbox

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"janitor/internal/config"
	"janitor/internal/db"
	"janitor/internal/domain"
	"janitor/internal/engine"
	"janitor/internal/migrate"
	"janitor/internal/preflight"
	janitorsdk "janitor/sdk/go"
)

func TestStartServesAndCloseRemovesWorkspace(t *testing.T) {
	ctx := context.Background()
	sb, err := Start(ctx, config.Default(), nil)
	require.NoError(t, err)

	ep := sb.Endpoint()
	client := janitorsdk.New(ep.BaseURL, ep.Tenant)
	client.BearerToken = ep.Token
	require.NoError(t, client.Health(ctx))
	backups, err := client.Backups(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, backups)

	require.NoError(t, sb.Close())
	_, err = os.Stat(sb.Dir)
	assert.True(t, os.IsNotExist(err), "sandbox workspace should be removed")
}

func TestSandboxRejectsForeignToken(t *testing.T) {
	ctx := context.Background()
	sb, err := Start(ctx, config.Default(), nil)
	require.NoError(t, err)
	defer sb.Close()

	client := janitorsdk.New(sb.Endpoint().BaseURL, engine.DefaultTenant)
	client.BearerToken = "not-a-token"
	_, err = client.Backups(ctx, 10)
	require.Error(t, err)
	assert.True(t, janitorsdk.IsStatus(err, 401))
}

func TestIsolatedConfigDropsSharedState(t *testing.T) {
	base := config.Default()
	base.Backups.Dir = "/srv/live-backups"
	base.Backups.RetentionDays = 3
	base.Checks.Backend.Driver = "pgx"
	base.Checks.Backend.DSN = "postgres://live"
	base.Locks.Backend = "redis"
	base.Locks.RedisAddr = "redis:6379"
	base.Webhooks = []config.WebhookConfig{{URL: "http://hooks"}}
	base.Review.RulesFile = "rules.yml"

	cfg := isolatedConfig(base)
	assert.Equal(t, config.Default().Backups.Dir, cfg.Backups.Dir)
	assert.Equal(t, 3, cfg.Backups.RetentionDays)
	assert.Empty(t, cfg.Checks.Backend.Driver)
	assert.Equal(t, "memory", cfg.Locks.Backend)
	assert.Nil(t, cfg.Webhooks)
	assert.Empty(t, cfg.Review.RulesFile)
	assert.Equal(t, "/srv/live-backups", base.Backups.Dir, "base config must not be modified")
	require.NoError(t, cfg.Validate())
}

func TestIsolatedPreflightLeavesLiveUntouched(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))

	cfg := config.Default()
	e, err := engine.New(conn, cfg, workspace)
	require.NoError(t, err)
	e.Preflight.Sandbox = Factory(cfg, nil)

	before, err := e.ListBackups(ctx, "", 0)
	require.NoError(t, err)

	res, err := e.RunPreflight(ctx, "", preflight.Config{
		Isolated:         true,
		SkipOAuth:        true,
		AllowDestructive: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Isolated)
	for _, c := range res.Checks {
		assert.NotEqual(t, domain.PreflightFail, c.Status, "%s: %s", c.Name, c.Detail)
	}
	assert.Equal(t, domain.PreflightPass, res.Status)

	after, err := e.ListBackups(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, after, len(before), "isolated preflight must not touch live backups")

	last, err := e.Repo.LatestPreflightRun(ctx, engine.DefaultTenant)
	require.NoError(t, err)
	assert.Equal(t, res.ID, last.ID)
}
