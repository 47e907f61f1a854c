package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"janitor/internal/audit"
	"janitor/internal/backup"
	"janitor/internal/db"
	"janitor/internal/domain"
	"janitor/internal/events"
	"janitor/internal/migrate"
	"janitor/internal/observability"
	"janitor/internal/repo"
)

// RunAudit runs the fixed check battery for tenant and records it.
func (e Engine) RunAudit(ctx context.Context, tenant string) (domain.AuditResult, error) {
	tenant = tenantOr(tenant)
	start := time.Now()
	rep, err := e.audit(ctx, tenant)
	observability.RunDuration.WithLabelValues(KindAudit).Observe(time.Since(start).Seconds())
	observability.RunsTotal.WithLabelValues(KindAudit, observability.OutcomeOf(err)).Inc()
	if err != nil {
		e.log(ctx, nil, tenant, events.ActionAudit, domain.LogError, err.Error())
		return domain.AuditResult{}, err
	}
	observability.HealthScore.WithLabelValues(tenant).Set(float64(rep.Result.HealthScore))
	e.log(ctx, nil, tenant, events.ActionAudit, domain.LogSuccess,
		fmt.Sprintf("score=%d status=%s passed=%d/%d", rep.Result.HealthScore, rep.Result.Status, rep.Result.ChecksPassed, rep.Result.ChecksTotal))
	e.notify(tenant, KindAudit, rep.Result.Status, map[string]any{"health_score": rep.Result.HealthScore})
	return rep.Result, nil
}

func (e Engine) audit(ctx context.Context, tenant string) (audit.Report, error) {
	checks, err := e.checks(tenant)
	if err != nil {
		return audit.Report{}, err
	}
	rep := audit.Runner{Checks: checks, Now: e.now, Logger: e.logger()}.Run(ctx)
	if err := ctx.Err(); err != nil {
		return audit.Report{}, err
	}
	return rep, nil
}

func (e Engine) checks(tenant string) ([]audit.Check, error) {
	cfg := e.Config
	mgr, err := e.backups(tenant)
	if err != nil {
		return nil, err
	}
	var backend audit.Pinger
	if e.Backend != nil {
		backend = e.Backend
	}
	workspace := e.Workspace
	if workspace == "" {
		workspace = "."
	}
	return []audit.Check{
		audit.DatabaseCheck(e.Repo, backend, cfg.Checks.Backend.Driver),
		audit.DiskCheck(workspace, cfg.Checks.DiskWarnPercent, cfg.Checks.DiskCriticalPercent, e.DiskUsage),
		audit.AgentsCheck(func(ctx context.Context) ([]domain.Agent, error) {
			return e.Repo.ListAgents(ctx, tenant)
		}, cfg.AgentStaleAfter(), e.now),
		audit.BackupsCheck(func(ctx context.Context) (backup.Stats, error) {
			return mgr.Stats(ctx, cfg.Backups.RetentionDays)
		}, cfg.BackupMaxAge(), cfg.Backups.RetentionDays, e.now),
		audit.ActivityCheck(func(ctx context.Context, since time.Time) (int, error) {
			return e.Repo.CountLogsByStatusSince(ctx, tenant, domain.LogError, since)
		}, cfg.ErrorWindow(), e.now),
		audit.PreflightCheck(func(ctx context.Context) (domain.PreflightResult, bool, error) {
			res, err := e.Repo.LatestPreflightRun(ctx, tenant)
			if errors.Is(err, repo.ErrNotFound) {
				return domain.PreflightResult{}, false, nil
			}
			return res, err == nil, err
		}),
	}, nil
}

// probe gathers section details beyond what the checks report. Probes run
// concurrently; a failing probe only loses its own details.
func (e Engine) probe(ctx context.Context, tenant string) map[string]map[string]any {
	var (
		backups   = map[string]any{}
		database  = map[string]any{}
		activity  = map[string]any{}
		preflight = map[string]any{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mgr, err := e.backups(tenant)
		if err != nil {
			return nil
		}
		st, err := mgr.Stats(gctx, e.Config.Backups.RetentionDays)
		if err != nil {
			e.logger().Warn("backup probe failed", "tenant", tenant, "err", err)
			return nil
		}
		backups["location"] = mgr.Store.Location()
		backups["retention_days"] = e.Config.Backups.RetentionDays
		if !st.Oldest.IsZero() {
			backups["oldest"] = st.Oldest.UTC().Format(time.RFC3339)
		}
		return nil
	})
	g.Go(func() error {
		if v, err := migrate.Version(gctx, e.DB); err == nil {
			database["schema_version"] = v
		}
		database["path"] = db.Path(e.Workspace)
		return nil
	})
	g.Go(func() error {
		since := e.now().Add(-24 * time.Hour)
		if n, err := e.Repo.CountEditsSince(gctx, tenant, since); err == nil {
			activity["edits_24h"] = n
		}
		if last, err := e.Repo.LatestWizardRun(gctx, tenant); err == nil {
			activity["last_wizard_run"] = last.Timestamp
		}
		return nil
	})
	g.Go(func() error {
		if last, err := e.Repo.LatestPreflightRun(gctx, tenant); err == nil {
			preflight["last_id"] = last.ID
		}
		return nil
	})
	_ = g.Wait()
	return map[string]map[string]any{
		audit.CheckBackups:   backups,
		audit.CheckDatabase:  database,
		audit.CheckActivity:  activity,
		audit.CheckPreflight: preflight,
	}
}
