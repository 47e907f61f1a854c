package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"janitor/internal/domain"
)

// The edit trail and activity log are insert-only: no update or delete method
// exists and the schema triggers abort either statement.

func (r Repo) InsertEdit(ctx context.Context, tx *sql.Tx, tenant string, item domain.EditHistoryItem) (domain.EditHistoryItem, error) {
	if strings.TrimSpace(item.File) == "" {
		return item, errors.New("file required")
	}
	if strings.TrimSpace(item.Agent) == "" {
		return item, errors.New("agent required")
	}
	res, err := r.exec(tx).ExecContext(ctx, `INSERT INTO edit_history(tenant_id,ts,file,agent,success,reason) VALUES (?,?,?,?,?,?)`,
		tenant, item.Timestamp, item.File, item.Agent, boolInt(item.Success), nullable(item.Reason))
	if err != nil {
		return item, err
	}
	item.ID, err = res.LastInsertId()
	return item, err
}

// ListEdits returns edit history newest first. limit <= 0 returns all of it.
func (r Repo) ListEdits(ctx context.Context, tenant string, limit int) ([]domain.EditHistoryItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,file,agent,success,COALESCE(reason,'') FROM edit_history WHERE tenant_id=? ORDER BY id DESC LIMIT ?`,
		tenant, trailLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.EditHistoryItem{}
	for rows.Next() {
		var it domain.EditHistoryItem
		var ok int
		if err := rows.Scan(&it.ID, &it.Timestamp, &it.File, &it.Agent, &ok, &it.Reason); err != nil {
			return nil, err
		}
		it.Success = ok != 0
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) CountEditsSince(ctx context.Context, tenant string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM edit_history WHERE tenant_id=? AND ts>=?`, tenant, formatTime(since)).Scan(&n)
	return n, err
}

// ListLogs returns activity log entries newest first. limit <= 0 returns all
// of them.
func (r Repo) ListLogs(ctx context.Context, tenant string, limit int) ([]domain.LogEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,action,details,status,agent_id FROM activity_log WHERE tenant_id=? ORDER BY id DESC LIMIT ?`,
		tenant, trailLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

// LogsAfter returns entries with ids above cursor in ascending order, for any tenant.
func (r Repo) LogsAfter(ctx context.Context, cursor int64, limit int) ([]TenantLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,action,details,status,agent_id,tenant_id FROM activity_log WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []TenantLogEntry
	for rows.Next() {
		var e TenantLogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Details, &e.Status, &e.AgentID, &e.Tenant); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

type TenantLogEntry struct {
	domain.LogEntry
	Tenant string `json:"tenant"`
}

func (r Repo) LatestLogID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM activity_log`).Scan(&id)
	return id, err
}

// CountLogsByStatusSince counts entries with the given status at or after since.
func (r Repo) CountLogsByStatusSince(ctx context.Context, tenant, status string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM activity_log WHERE tenant_id=? AND status=? AND ts>=?`,
		tenant, status, formatTime(since)).Scan(&n)
	return n, err
}

// LatestLogByActions returns the newest entry for any of the actions.
func (r Repo) LatestLogByActions(ctx context.Context, tenant string, actions ...string) (domain.LogEntry, error) {
	if len(actions) == 0 {
		return domain.LogEntry{}, errors.New("at least one action required")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(actions)), ",")
	args := []any{tenant}
	for _, a := range actions {
		args = append(args, a)
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT id,ts,action,details,status,agent_id FROM activity_log WHERE tenant_id=? AND action IN (%s) ORDER BY id DESC LIMIT 1`, placeholders), args...)
	if err != nil {
		return domain.LogEntry{}, err
	}
	defer rows.Close()
	logs, err := scanLogs(rows)
	if err != nil {
		return domain.LogEntry{}, err
	}
	if len(logs) == 0 {
		return domain.LogEntry{}, ErrNotFound
	}
	return logs[0], nil
}

func scanLogs(rows *sql.Rows) ([]domain.LogEntry, error) {
	res := []domain.LogEntry{}
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.Details, &e.Status, &e.AgentID); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
