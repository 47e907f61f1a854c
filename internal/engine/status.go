package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"janitor/internal/apperr"
	"janitor/internal/domain"
	"janitor/internal/events"
	"janitor/internal/observability"
	"janitor/internal/repo"
)

type ServiceInfo struct {
	Name    string `json:"name"`
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
	Version string `json:"version"`
}

// StatusMetrics summarises recent activity. The last_* fields are null until
// the corresponding run has happened once; system_health is "unknown" until
// the first wizard pass.
type StatusMetrics struct {
	LastAudit           *string `json:"last_audit" nullable:"true"`
	LastPreflight       *string `json:"last_preflight" nullable:"true"`
	LastPreflightStatus *string `json:"last_preflight_status" nullable:"true"`
	FindingsCount       int     `json:"findings_count"`
	RecentEdits         int     `json:"recent_edits"`
	SystemHealth        string  `json:"system_health"`

	WizardRuns   int   `json:"wizard_runs"`
	Backups      int   `json:"backups"`
	BackupBytes  int64 `json:"backup_bytes"`
	Errors24h    int   `json:"errors_24h"`
	AgentsOnline int   `json:"agents_online"`
}

// SystemHealthUnknown is reported before any wizard pass has been recorded.
const SystemHealthUnknown = "unknown"

type Status struct {
	Tenant        string                  `json:"tenant"`
	Service       ServiceInfo             `json:"service"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	WizardState   string                  `json:"wizard_state"`
	RunInProgress string                  `json:"run_in_progress,omitempty"`
	LastWizard    *domain.WizardRun       `json:"last_wizard,omitempty"`
	LastPreflight *domain.PreflightResult `json:"last_preflight,omitempty"`
	Metrics       StatusMetrics           `json:"metrics"`
}

// Status reports service identity, uptime and a few counters for tenant.
func (e Engine) Status(ctx context.Context, tenant string) (Status, error) {
	tenant = tenantOr(tenant)
	now := e.now()
	st := Status{
		Tenant: tenant,
		Service: ServiceInfo{
			Name:    e.Config.Service.Name,
			AgentID: e.Config.Service.AgentID,
			Role:    e.Config.Service.Role,
			Version: e.Config.Service.Version,
		},
		WizardState: e.States.Get(tenant),
		Metrics:     StatusMetrics{SystemHealth: SystemHealthUnknown},
	}
	if !e.Started.IsZero() {
		st.UptimeSeconds = int64(now.Sub(e.Started) / time.Second)
	}
	if e.Locks != nil {
		if h, ok, err := e.Locks.Current(ctx, tenant); err == nil && ok {
			st.RunInProgress = h.Kind
		}
	}
	if last, err := e.Repo.LatestWizardRun(ctx, tenant); err == nil {
		st.LastWizard = &last
		st.Metrics.FindingsCount = last.FindingsCount
		st.Metrics.SystemHealth = last.Status
	} else if !errors.Is(err, repo.ErrNotFound) {
		return Status{}, err
	}
	if last, err := e.Repo.LatestPreflightRun(ctx, tenant); err == nil {
		last.Checks = nil
		st.LastPreflight = &last
		st.Metrics.LastPreflight = &last.Timestamp
		st.Metrics.LastPreflightStatus = &last.Status
	} else if !errors.Is(err, repo.ErrNotFound) {
		return Status{}, err
	}
	if entry, err := e.Repo.LatestLogByActions(ctx, tenant, events.ActionAudit, events.ActionWizard); err == nil {
		st.Metrics.LastAudit = &entry.Timestamp
	} else if !errors.Is(err, repo.ErrNotFound) {
		return Status{}, err
	}
	var err error
	if st.Metrics.WizardRuns, err = e.Repo.CountWizardRuns(ctx, tenant); err != nil {
		return Status{}, err
	}
	since := now.Add(-24 * time.Hour)
	if st.Metrics.RecentEdits, err = e.Repo.CountEditsSince(ctx, tenant, since); err != nil {
		return Status{}, err
	}
	if st.Metrics.Errors24h, err = e.Repo.CountLogsByStatusSince(ctx, tenant, domain.LogError, since); err != nil {
		return Status{}, err
	}
	agents, err := e.Repo.ListAgents(ctx, tenant)
	if err != nil {
		return Status{}, err
	}
	for _, a := range agents {
		if a.Status == domain.AgentOnline {
			st.Metrics.AgentsOnline++
		}
	}
	if mgr, err := e.backups(tenant); err == nil {
		if bs, err := mgr.Stats(ctx, e.Config.Backups.RetentionDays); err == nil {
			st.Metrics.Backups = bs.Count
			st.Metrics.BackupBytes = bs.TotalBytes
		}
	}
	return st, nil
}

// Heartbeat registers an agent or refreshes its heartbeat.
func (e Engine) Heartbeat(ctx context.Context, tenant, agentID, name string) (domain.Agent, error) {
	tenant = tenantOr(tenant)
	if strings.TrimSpace(agentID) == "" {
		return domain.Agent{}, apperr.ValidationError{Field: "id", Message: "agent id is required"}
	}
	prev, prevErr := e.Repo.GetAgent(ctx, tenant, agentID)
	a, err := e.Repo.UpsertAgentHeartbeat(ctx, tenant, agentID, name, e.now())
	if err != nil {
		return domain.Agent{}, err
	}
	// only log registrations and returns from offline; steady heartbeats would flood the log
	if errors.Is(prevErr, repo.ErrNotFound) || (prevErr == nil && prev.Status == domain.AgentOffline) {
		e.log(ctx, nil, tenant, events.ActionHeartbeat, domain.LogInfo, agentID+" online")
	}
	return a, nil
}

func (e Engine) ListAgents(ctx context.Context, tenant string) ([]domain.Agent, error) {
	return e.Repo.ListAgents(ctx, tenantOr(tenant))
}

// Review evaluates a proposed edit. reviewer overrides the configured name.
func (e Engine) Review(reviewer, filePath, content string) domain.ReviewResult {
	res := e.Gate.ReviewAs(reviewer, filePath, content)
	observability.ReviewsTotal.WithLabelValues(reviewDecision(res)).Inc()
	return res
}

// ReviewPatch evaluates every added line of a unified diff.
func (e Engine) ReviewPatch(reviewer, patch string) (domain.ReviewResult, error) {
	res, err := e.Gate.ReviewPatch(reviewer, patch)
	if err != nil {
		return res, err
	}
	observability.ReviewsTotal.WithLabelValues(reviewDecision(res)).Inc()
	return res, nil
}

func reviewDecision(res domain.ReviewResult) string {
	if res.Approved {
		return "approved"
	}
	return "rejected"
}
