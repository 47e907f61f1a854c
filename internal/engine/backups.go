package engine

import (
	"context"
	"fmt"
	"time"

	"janitor/internal/backup"
	"janitor/internal/domain"
	"janitor/internal/events"
	"janitor/internal/observability"
)

// Cleanup runs a retention sweep. A nil daysToKeep uses the configured
// retention.
func (e Engine) Cleanup(ctx context.Context, tenant string, daysToKeep *int) (backup.CleanupResult, error) {
	days := e.Config.Backups.RetentionDays
	if daysToKeep != nil {
		days = *daysToKeep
	}
	return e.cleanup(ctx, tenantOr(tenant), days)
}

func (e Engine) cleanup(ctx context.Context, tenant string, days int) (backup.CleanupResult, error) {
	mgr, err := e.backups(tenant)
	if err != nil {
		return backup.CleanupResult{}, err
	}
	res, err := mgr.Cleanup(ctx, days)
	if res.Deleted > 0 {
		observability.BackupsDeleted.Add(float64(res.Deleted))
	}
	status := domain.LogSuccess
	details := fmt.Sprintf("days_to_keep=%d deleted=%d kept=%d", days, res.Deleted, res.Kept)
	if err != nil {
		status = domain.LogError
		details += ": " + err.Error()
	}
	// a rejected argument never touched the store; do not log it
	if res.Deleted+res.Kept > 0 || err == nil {
		e.log(ctx, nil, tenant, events.ActionCleanup, status, details)
	}
	if err == nil {
		e.notify(tenant, KindCleanup, domain.LogSuccess, map[string]any{"deleted": res.Deleted, "kept": res.Kept})
	}
	return res, err
}

// ListBackups lists backups newest first.
func (e Engine) ListBackups(ctx context.Context, tenant string, limit int) ([]domain.BackupFile, error) {
	mgr, err := e.backups(tenantOr(tenant))
	if err != nil {
		return nil, err
	}
	objs, err := mgr.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.BackupFile, 0, len(objs))
	for _, o := range objs {
		out = append(out, backupFile(o))
	}
	return out, nil
}

// DeleteBackup removes one backup by file name.
func (e Engine) DeleteBackup(ctx context.Context, tenant, filename string) error {
	tenant = tenantOr(tenant)
	mgr, err := e.backups(tenant)
	if err != nil {
		return err
	}
	if err := mgr.Delete(ctx, filename); err != nil {
		return err
	}
	observability.BackupsDeleted.Inc()
	e.log(ctx, nil, tenant, events.ActionBackupDelete, domain.LogSuccess, filename)
	return nil
}

// Snapshot copies the service store into the tenant's backup store.
func (e Engine) Snapshot(ctx context.Context, tenant, label string) (domain.BackupFile, error) {
	tenant = tenantOr(tenant)
	if err := backup.ValidateLabel(label); err != nil {
		return domain.BackupFile{}, err
	}
	mgr, err := e.backups(tenant)
	if err != nil {
		return domain.BackupFile{}, err
	}
	obj, err := mgr.Snapshot(ctx, label, e.Repo.VacuumInto)
	if err != nil {
		e.log(ctx, nil, tenant, events.ActionSnapshot, domain.LogError, err.Error())
		return domain.BackupFile{}, err
	}
	e.log(ctx, nil, tenant, events.ActionSnapshot, domain.LogSuccess, fmt.Sprintf("%s (%d bytes)", obj.Name, obj.Size))
	return backupFile(obj), nil
}

func backupFile(o backup.Object) domain.BackupFile {
	return domain.BackupFile{
		Filename:  o.Name,
		SizeBytes: o.Size,
		Modified:  o.ModTime.UTC().Format(time.RFC3339),
		Path:      o.Path,
	}
}
