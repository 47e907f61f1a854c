package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"janitor/internal/domain"
)

// Action names written to the activity log.
const (
	ActionAudit        = "audit.run"
	ActionWizard       = "wizard.run"
	ActionFix          = "wizard.fix"
	ActionPreflight    = "preflight.run"
	ActionCleanup      = "backups.cleanup"
	ActionBackupDelete = "backups.delete"
	ActionSnapshot     = "backups.snapshot"
	ActionEdit         = "edit.recorded"
	ActionHeartbeat    = "agent.heartbeat"
	ActionAgentsStale  = "agents.marked_offline"
	ActionVacuum       = "database.vacuum"
	ActionClearDenied  = "trail.clear_denied"
)

// Writer appends to the activity log. It never updates or deletes.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type Entry struct {
	Tenant  string
	Action  string
	Details string
	Status  string
	AgentID string
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append inserts one entry. When tx is nil the write goes straight to the DB.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.LogEntry, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if e.Action == "" {
		return domain.LogEntry{}, fmt.Errorf("activity action required")
	}
	if e.Status == "" {
		e.Status = domain.LogInfo
	}
	var ex execer = w.DB
	if tx != nil {
		ex = tx
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	res, err := ex.ExecContext(ctx, `INSERT INTO activity_log(tenant_id,ts,action,details,status,agent_id) VALUES (?,?,?,?,?,?)`,
		e.Tenant, ts, e.Action, e.Details, e.Status, e.AgentID)
	if err != nil {
		return domain.LogEntry{}, fmt.Errorf("append activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.LogEntry{}, err
	}
	return domain.LogEntry{ID: id, Timestamp: ts, Action: e.Action, Details: e.Details, Status: e.Status, AgentID: e.AgentID}, nil
}
