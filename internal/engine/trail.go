package engine

import (
	"context"
	"strings"
	"time"

	"janitor/internal/apperr"
	"janitor/internal/domain"
	"janitor/internal/events"
)

// Append-only policies.
const (
	PolicyEditTrail   = "edit_trail_append_only"
	PolicyActivityLog = "activity_log_append_only"
)

type EditInput struct {
	File    string
	Agent   string
	Success bool
	Reason  string
}

// AppendEdit records one attempted file edit.
func (e Engine) AppendEdit(ctx context.Context, tenant string, in EditInput) (domain.EditHistoryItem, error) {
	tenant = tenantOr(tenant)
	if strings.TrimSpace(in.File) == "" {
		return domain.EditHistoryItem{}, apperr.ValidationError{Field: "file", Message: "file is required"}
	}
	if in.Agent == "" {
		in.Agent = e.agentID()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.EditHistoryItem{}, err
	}
	defer tx.Rollback()
	item, err := e.Repo.InsertEdit(ctx, tx, tenant, domain.EditHistoryItem{
		Timestamp: e.now().UTC().Format(time.RFC3339),
		File:      in.File,
		Agent:     in.Agent,
		Success:   in.Success,
		Reason:    in.Reason,
	})
	if err != nil {
		return domain.EditHistoryItem{}, err
	}
	status := domain.LogSuccess
	if !in.Success {
		status = domain.LogWarning
	}
	if _, err := e.Events.Append(ctx, tx, events.Entry{
		Tenant:  tenant,
		Action:  events.ActionEdit,
		Status:  status,
		AgentID: in.Agent,
		Details: in.File,
	}); err != nil {
		return domain.EditHistoryItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.EditHistoryItem{}, err
	}
	return item, nil
}

func (e Engine) ListEdits(ctx context.Context, tenant string, limit int) ([]domain.EditHistoryItem, error) {
	return e.Repo.ListEdits(ctx, tenantOr(tenant), limit)
}

func (e Engine) ListLogs(ctx context.Context, tenant string, limit int) ([]domain.LogEntry, error) {
	return e.Repo.ListLogs(ctx, tenantOr(tenant), limit)
}

// ClearEdits always fails: the edit trail is append-only.
func (e Engine) ClearEdits(ctx context.Context, tenant string) error {
	return e.denyClear(ctx, tenantOr(tenant), PolicyEditTrail, "edit history cannot be cleared")
}

// ClearLogs always fails: the activity log is append-only.
func (e Engine) ClearLogs(ctx context.Context, tenant string) error {
	return e.denyClear(ctx, tenantOr(tenant), PolicyActivityLog, "activity log cannot be cleared")
}

func (e Engine) denyClear(ctx context.Context, tenant, policy, msg string) error {
	e.log(ctx, nil, tenant, events.ActionClearDenied, domain.LogWarning, msg)
	return apperr.PolicyViolation{Policy: policy, Message: msg}
}
