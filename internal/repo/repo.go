package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"janitor/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// ClampLimit normalises a caller supplied page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// trailLimit is ClampLimit for the append-only trail, where a non-positive
// limit returns every entry. SQLite treats a negative LIMIT as unbounded.
func trailLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return ClampLimit(limit)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) exec(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

// InsertWizardRunTx appends a wizard history row and returns its id.
func (r Repo) InsertWizardRunTx(ctx context.Context, tx *sql.Tx, tenant string, run domain.WizardRun) (int64, error) {
	res, err := r.exec(tx).ExecContext(ctx, `INSERT INTO wizard_runs(tenant_id,ts,health_score,status,findings_count,checks_passed,checks_total) VALUES (?,?,?,?,?,?,?)`,
		tenant, run.Timestamp, run.HealthScore, run.Status, run.FindingsCount, run.ChecksPassed, run.ChecksTotal)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListWizardRuns returns wizard history newest first.
func (r Repo) ListWizardRuns(ctx context.Context, tenant string, limit int) ([]domain.WizardRun, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,health_score,status,findings_count,checks_passed,checks_total FROM wizard_runs WHERE tenant_id=? ORDER BY id DESC LIMIT ?`,
		tenant, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.WizardRun{}
	for rows.Next() {
		var w domain.WizardRun
		if err := rows.Scan(&w.ID, &w.Timestamp, &w.HealthScore, &w.Status, &w.FindingsCount, &w.ChecksPassed, &w.ChecksTotal); err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

func (r Repo) CountWizardRuns(ctx context.Context, tenant string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM wizard_runs WHERE tenant_id=?`, tenant).Scan(&n)
	return n, err
}

// LatestWizardRun returns ErrNotFound when the tenant never completed a wizard run.
func (r Repo) LatestWizardRun(ctx context.Context, tenant string) (domain.WizardRun, error) {
	var w domain.WizardRun
	err := r.DB.QueryRowContext(ctx, `SELECT id,ts,health_score,status,findings_count,checks_passed,checks_total FROM wizard_runs WHERE tenant_id=? ORDER BY id DESC LIMIT 1`, tenant).
		Scan(&w.ID, &w.Timestamp, &w.HealthScore, &w.Status, &w.FindingsCount, &w.ChecksPassed, &w.ChecksTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return w, ErrNotFound
	}
	return w, err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
