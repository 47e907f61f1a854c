package repo

import (
	"context"
)

// QuickCheck runs SQLite's integrity quick check and returns the problems it reports.
func (r Repo) QuickCheck(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `PRAGMA quick_check`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	return problems, rows.Err()
}

// Size returns the store size in bytes from the page counters.
func (r Repo) Size(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := r.DB.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, err
	}
	if err := r.DB.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

// FreeBytes reports space held by unused pages that a VACUUM would reclaim.
func (r Repo) FreeBytes(ctx context.Context) (int64, error) {
	var pages, pageSize int64
	if err := r.DB.QueryRowContext(ctx, `PRAGMA freelist_count`).Scan(&pages); err != nil {
		return 0, err
	}
	if err := r.DB.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

func (r Repo) Vacuum(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `VACUUM`)
	return err
}

// VacuumInto writes a consistent copy of the store to path.
func (r Repo) VacuumInto(ctx context.Context, path string) error {
	_, err := r.DB.ExecContext(ctx, `VACUUM INTO ?`, path)
	return err
}
