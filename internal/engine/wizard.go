package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"janitor/internal/audit"
	"janitor/internal/domain"
	"janitor/internal/events"
	"janitor/internal/observability"
	"janitor/internal/wizard"
)

// RunWizard runs one wizard pass under the tenant run lock. A tenant with a
// run in flight gets apperr.RunInProgressError immediately.
func (e Engine) RunWizard(ctx context.Context, tenant string) (domain.WizardResult, error) {
	tenant = tenantOr(tenant)
	release, err := e.acquire(ctx, tenant, KindWizard)
	if err != nil {
		observability.RunsRejected.WithLabelValues(KindWizard, "in_progress").Inc()
		return domain.WizardResult{}, err
	}
	defer release()
	return e.wizardLocked(ctx, tenant)
}

// wizardLocked runs the wizard; the caller holds the run lock. Only a
// completed pass is recorded in the wizard history.
func (e Engine) wizardLocked(ctx context.Context, tenant string) (res domain.WizardResult, err error) {
	e.States.Set(tenant, StateRunning)
	start := time.Now()
	defer func() {
		observability.RunDuration.WithLabelValues(KindWizard).Observe(time.Since(start).Seconds())
		observability.RunsTotal.WithLabelValues(KindWizard, observability.OutcomeOf(err)).Inc()
		if err != nil {
			e.States.Set(tenant, StateError)
			e.log(context.WithoutCancel(ctx), nil, tenant, events.ActionWizard, domain.LogError, err.Error())
			e.notify(tenant, KindWizard, StateError, map[string]any{"error": err.Error()})
			return
		}
		e.States.Set(tenant, StateComplete)
		e.notify(tenant, KindWizard, StateComplete, map[string]any{
			"run_id":       res.RunID,
			"health_score": res.Summary.HealthScore,
		})
	}()

	timeout := e.Config.WizardTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		rep    audit.Report
		probes map[string]map[string]any
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rep, err = e.audit(gctx, tenant)
		return err
	})
	g.Go(func() error {
		probes = e.probe(gctx, tenant)
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.WizardResult{}, fmt.Errorf("wizard audit: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.WizardResult{}, fmt.Errorf("wizard: %w", err)
	}

	res = wizard.Build(wizard.Input{
		Audit:         rep,
		Probes:        probes,
		RetentionDays: e.Config.Backups.RetentionDays,
		Now:           e.now(),
	})

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WizardResult{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertWizardRunTx(ctx, tx, tenant, domain.WizardRun{
		Timestamp:     res.Timestamp,
		HealthScore:   res.Summary.HealthScore,
		Status:        res.Summary.Status,
		FindingsCount: res.Summary.FindingsCount,
		ChecksPassed:  res.Summary.ChecksPassed,
		ChecksTotal:   res.Summary.ChecksTotal,
	})
	if err != nil {
		return domain.WizardResult{}, err
	}
	if _, err := e.Events.Append(ctx, tx, events.Entry{
		Tenant:  tenant,
		Action:  events.ActionWizard,
		Status:  domain.LogSuccess,
		AgentID: e.agentID(),
		Details: fmt.Sprintf("run=%d score=%d findings=%d recommendations=%d",
			id, res.Summary.HealthScore, res.Summary.FindingsCount, len(res.Recommendations)),
	}); err != nil {
		return domain.WizardResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WizardResult{}, err
	}
	res.RunID = id
	observability.HealthScore.WithLabelValues(tenant).Set(float64(res.Summary.HealthScore))
	return res, nil
}

// WizardHistory lists completed wizard runs, newest first.
func (e Engine) WizardHistory(ctx context.Context, tenant string, limit int) ([]domain.WizardRun, error) {
	return e.Repo.ListWizardRuns(ctx, tenantOr(tenant), limit)
}
