package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"janitor/internal/domain"
)

// UpsertAgentHeartbeat registers the agent or refreshes its heartbeat and marks it online.
func (r Repo) UpsertAgentHeartbeat(ctx context.Context, tenant, id, name string, at time.Time) (domain.Agent, error) {
	if id == "" {
		return domain.Agent{}, errors.New("agent id required")
	}
	if name == "" {
		name = id
	}
	ts := formatTime(at)
	_, err := r.DB.ExecContext(ctx, `INSERT INTO agents(tenant_id,id,name,status,last_heartbeat) VALUES (?,?,?,?,?)
ON CONFLICT(tenant_id,id) DO UPDATE SET name=excluded.name, status=excluded.status, last_heartbeat=excluded.last_heartbeat`,
		tenant, id, name, domain.AgentOnline, ts)
	if err != nil {
		return domain.Agent{}, err
	}
	return r.GetAgent(ctx, tenant, id)
}

func (r Repo) GetAgent(ctx context.Context, tenant, id string) (domain.Agent, error) {
	var a domain.Agent
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,last_heartbeat FROM agents WHERE tenant_id=? AND id=?`, tenant, id).
		Scan(&a.ID, &a.Name, &a.Status, &a.LastHeartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

func (r Repo) ListAgents(ctx context.Context, tenant string) ([]domain.Agent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,last_heartbeat FROM agents WHERE tenant_id=? ORDER BY id ASC`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Agent{}
	for rows.Next() {
		var a domain.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Status, &a.LastHeartbeat); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// MarkAgentsOffline flips online agents whose heartbeat predates cutoff and
// returns how many rows changed.
func (r Repo) MarkAgentsOffline(ctx context.Context, tx *sql.Tx, tenant string, cutoff time.Time) (int64, error) {
	res, err := r.exec(tx).ExecContext(ctx, `UPDATE agents SET status=? WHERE tenant_id=? AND status=? AND last_heartbeat<?`,
		domain.AgentOffline, tenant, domain.AgentOnline, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
