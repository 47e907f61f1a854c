package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"janitor/internal/domain"
	"janitor/internal/events"
	"janitor/internal/observability"
	"janitor/internal/remedy"
)

// recentBackupWindow is how fresh an existing backup must be for
// create_backup to skip a new snapshot.
const recentBackupWindow = time.Hour

type FixResult struct {
	Action           string              `json:"action"`
	Summary          string              `json:"summary"`
	Changed          bool                `json:"changed"`
	Data             map[string]any      `json:"data,omitempty"`
	RemediationError string              `json:"remediation_error,omitempty"`
	Wizard           domain.WizardResult `json:"wizard"`
}

// ApplyFix validates action and params, then runs the remediation and one
// wizard pass under the same run lock. Unknown actions and bad params fail
// before anything is touched.
func (e Engine) ApplyFix(ctx context.Context, tenant, action string, params map[string]any) (FixResult, error) {
	tenant = tenantOr(tenant)
	prepared, err := remedy.Prepare(action, params)
	if err != nil {
		return FixResult{}, err
	}
	release, err := e.acquire(ctx, tenant, KindFix)
	if err != nil {
		observability.RunsRejected.WithLabelValues(KindFix, "in_progress").Inc()
		return FixResult{}, err
	}
	defer release()

	out, fixErr := prepared.Apply(ctx, target{e: e, tenant: tenant})
	observability.FixesTotal.WithLabelValues(action, observability.OutcomeOf(fixErr)).Inc()
	res := FixResult{Action: action, Summary: out.Summary, Changed: out.Changed, Data: out.Data}
	status, details := domain.LogSuccess, out.Summary
	if fixErr != nil {
		res.RemediationError = fixErr.Error()
		status, details = domain.LogError, fixErr.Error()
	}
	// the remediation has run; its record and the wizard refresh must land
	// even if the caller has gone away
	wctx := context.WithoutCancel(ctx)
	e.log(wctx, nil, tenant, events.ActionFix, status, action+": "+details)

	wiz, wizErr := e.wizardLocked(wctx, tenant)
	res.Wizard = wiz
	if fixErr != nil {
		return res, fmt.Errorf("remediation %s: %w", action, fixErr)
	}
	if wizErr != nil {
		return res, wizErr
	}
	return res, nil
}

// target adapts the engine to one tenant for remediation handlers.
type target struct {
	e      Engine
	tenant string
}

func (t target) CleanupBackups(ctx context.Context, daysToKeep int) (int, int, error) {
	res, err := t.e.cleanup(ctx, t.tenant, daysToKeep)
	return res.Deleted, res.Kept, err
}

func (t target) CreateBackup(ctx context.Context, label string) (string, error) {
	mgr, err := t.e.backups(t.tenant)
	if err != nil {
		return "", err
	}
	objs, err := mgr.List(ctx, 0)
	if err != nil {
		return "", err
	}
	cutoff := t.e.now().Add(-recentBackupWindow)
	residue := t.e.Config.Backups.ResiduePrefix
	for _, o := range objs {
		if residue != "" && strings.HasPrefix(o.Name, residue) {
			continue
		}
		if o.ModTime.After(cutoff) {
			return "", nil
		}
	}
	if label == "" {
		label = "backup"
	}
	f, err := t.e.Snapshot(ctx, t.tenant, label)
	if err != nil {
		return "", err
	}
	return f.Filename, nil
}

func (t target) VacuumDatabase(ctx context.Context) error {
	before, _ := t.e.Repo.Size(ctx)
	if err := t.e.Repo.Vacuum(ctx); err != nil {
		t.e.log(ctx, nil, t.tenant, events.ActionVacuum, domain.LogError, err.Error())
		return err
	}
	after, _ := t.e.Repo.Size(ctx)
	t.e.log(ctx, nil, t.tenant, events.ActionVacuum, domain.LogSuccess, fmt.Sprintf("bytes %d -> %d", before, after))
	return nil
}

func (t target) MarkStaleAgents(ctx context.Context) (int64, error) {
	tx, err := t.e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	cutoff := t.e.now().Add(-t.e.Config.AgentStaleAfter())
	n, err := t.e.Repo.MarkAgentsOffline(ctx, tx, t.tenant, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if _, err := t.e.Events.Append(ctx, tx, events.Entry{
			Tenant:  t.tenant,
			Action:  events.ActionAgentsStale,
			Status:  domain.LogSuccess,
			AgentID: t.e.agentID(),
			Details: fmt.Sprintf("%d agent(s) marked offline", n),
		}); err != nil {
			return 0, err
		}
	}
	return n, tx.Commit()
}

func (t target) PurgePreflightResidue(ctx context.Context) (int, error) {
	mgr, err := t.e.backups(t.tenant)
	if err != nil {
		return 0, err
	}
	n, err := mgr.PurgeResidue(ctx)
	if n > 0 {
		observability.BackupsDeleted.Add(float64(n))
	}
	status := domain.LogSuccess
	if err != nil {
		status = domain.LogError
	}
	t.e.log(ctx, nil, t.tenant, events.ActionCleanup, status, fmt.Sprintf("purged %d preflight residue backup(s)", n))
	return n, err
}

func (t target) DefaultRetentionDays() int {
	return t.e.Config.Backups.RetentionDays
}
