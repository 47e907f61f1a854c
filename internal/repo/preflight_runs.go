package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"janitor/internal/domain"
)

func (r Repo) InsertPreflightRun(ctx context.Context, tx *sql.Tx, tenant string, res domain.PreflightResult) error {
	checks := res.Checks
	if checks == nil {
		checks = []domain.PreflightCheck{}
	}
	data, err := json.Marshal(checks)
	if err != nil {
		return fmt.Errorf("marshal preflight checks: %w", err)
	}
	_, err = r.exec(tx).ExecContext(ctx, `INSERT INTO preflight_runs(id,tenant_id,ts,status,failures,isolated,checks_json) VALUES (?,?,?,?,?,?,?)`,
		res.ID, tenant, res.Timestamp, res.Status, res.Failures, boolInt(res.Isolated), string(data))
	return err
}

// LatestPreflightRun returns ErrNotFound when preflight never ran for the tenant.
func (r Repo) LatestPreflightRun(ctx context.Context, tenant string) (domain.PreflightResult, error) {
	var (
		res      domain.PreflightResult
		isolated int
		checks   string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,ts,status,failures,isolated,checks_json FROM preflight_runs WHERE tenant_id=? ORDER BY ts DESC, rowid DESC LIMIT 1`, tenant).
		Scan(&res.ID, &res.Timestamp, &res.Status, &res.Failures, &isolated, &checks)
	if errors.Is(err, sql.ErrNoRows) {
		return res, ErrNotFound
	}
	if err != nil {
		return res, err
	}
	res.Isolated = isolated != 0
	if err := json.Unmarshal([]byte(checks), &res.Checks); err != nil {
		return res, fmt.Errorf("decode preflight checks: %w", err)
	}
	return res, nil
}
