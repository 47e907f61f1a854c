package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"janitor/internal/apperr"
	"janitor/internal/domain"
	"janitor/internal/events"
	"janitor/internal/observability"
	"janitor/internal/preflight"
)

// RunPreflight runs the preflight catalogue under the tenant run lock,
// records the result and refreshes the wizard.
func (e Engine) RunPreflight(ctx context.Context, tenant string, cfg preflight.Config) (domain.PreflightResult, error) {
	tenant = tenantOr(tenant)
	if !cfg.Isolated && cfg.APIBase == "" {
		cfg.APIBase = e.Config.Preflight.APIBase
	}
	if err := cfg.Validate(); err != nil {
		return domain.PreflightResult{}, err
	}
	release, err := e.acquire(ctx, tenant, KindPreflight)
	if err != nil {
		observability.RunsRejected.WithLabelValues(KindPreflight, "in_progress").Inc()
		return domain.PreflightResult{}, err
	}
	defer release()

	runner := e.Preflight
	if runner.Logger == nil {
		runner.Logger = e.logger()
	}
	if runner.Now == nil {
		runner.Now = e.now
	}
	if runner.Live.Tenant == "" {
		runner.Live.Tenant = tenant
	}
	start := time.Now()
	res, err := runner.Execute(ctx, cfg)
	observability.RunDuration.WithLabelValues(KindPreflight).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.RunsTotal.WithLabelValues(KindPreflight, observability.OutcomeError).Inc()
		var sb apperr.SandboxError
		if errors.As(err, &sb) {
			e.log(ctx, nil, tenant, events.ActionPreflight, domain.LogError, err.Error())
		}
		return domain.PreflightResult{}, err
	}
	outcome := observability.OutcomeSuccess
	if res.Status != domain.PreflightPass {
		outcome = observability.OutcomeError
	}
	observability.RunsTotal.WithLabelValues(KindPreflight, outcome).Inc()

	// the caller may have gone away; the result is still worth keeping
	wctx := context.WithoutCancel(ctx)
	tx, err := e.DB.BeginTx(wctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPreflightRun(wctx, tx, tenant, res); err != nil {
		return res, err
	}
	status := domain.LogSuccess
	if res.Status != domain.PreflightPass {
		status = domain.LogWarning
	}
	if _, err := e.Events.Append(wctx, tx, events.Entry{
		Tenant:  tenant,
		Action:  events.ActionPreflight,
		Status:  status,
		AgentID: e.agentID(),
		Details: fmt.Sprintf("id=%s status=%s failures=%d isolated=%t", res.ID, res.Status, res.Failures, res.Isolated),
	}); err != nil {
		return res, err
	}
	if err := tx.Commit(); err != nil {
		return res, err
	}
	e.notify(tenant, KindPreflight, res.Status, map[string]any{"id": res.ID, "failures": res.Failures})

	if _, err := e.wizardLocked(wctx, tenant); err != nil {
		e.logger().Warn("wizard refresh after preflight failed", "tenant", tenant, "err", err)
	}
	return res, nil
}

// PreflightInfo describes the manual CLI equivalent of a preflight run.
func (e Engine) PreflightInfo() preflight.Manual {
	return preflight.ManualInfo()
}
