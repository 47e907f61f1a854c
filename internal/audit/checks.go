package audit

import (
	"context"
	"fmt"
	"time"

	"janitor/internal/backup"
	"janitor/internal/domain"
)

// Check names, in the order the engine runs them.
const (
	CheckDatabase  = "database"
	CheckDisk      = "disk"
	CheckAgents    = "agents"
	CheckBackups   = "backups"
	CheckActivity  = "activity"
	CheckPreflight = "preflight"
)

// Order lists the fixed battery.
var Order = []string{CheckDatabase, CheckDisk, CheckAgents, CheckBackups, CheckActivity, CheckPreflight}

// Finding codes. The wizard maps these to remediation actions.
const (
	CodeCheckError         = "check_error"
	CodeDatabaseUnreach    = "database_unreachable"
	CodeDatabaseIntegrity  = "database_integrity"
	CodeBackendUnreach     = "backend_unreachable"
	CodeDatabaseFragmented = "database_fragmented"
	CodeDiskCritical       = "disk_critical"
	CodeDiskHigh           = "disk_high"
	CodeAgentStale         = "agent_stale"
	CodeAgentsNone         = "agents_none"
	CodeBackupsMissing     = "backups_missing"
	CodeBackupsStale       = "backups_stale"
	CodeBackupsExpired     = "backups_expired"
	CodeBackupsResidue     = "backups_residue"
	CodeActivityErrors     = "activity_errors"
	CodePreflightFailed    = "preflight_failed"
	CodePreflightNeverRun  = "preflight_never_run"
)

// StoreProber is the subset of the service store the database check needs.
type StoreProber interface {
	QuickCheck(ctx context.Context) ([]string, error)
	Size(ctx context.Context) (int64, error)
	FreeBytes(ctx context.Context) (int64, error)
}

// Stores smaller than this are never reported as fragmented.
const fragmentedMinBytes = 1 << 20

type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseCheck verifies the service store and, when set, the live backend.
func DatabaseCheck(store StoreProber, backend Pinger, backendDriver string) Check {
	return NewCheck(CheckDatabase, func(ctx context.Context) (Outcome, error) {
		out := Outcome{Details: map[string]any{}}
		problems, err := store.QuickCheck(ctx)
		if err != nil {
			out.Findings = append(out.Findings, finding(domain.SeverityBlocker, CheckDatabase, CodeDatabaseUnreach,
				fmt.Sprintf("service store unreachable: %v", err)))
			return out, nil
		}
		if len(problems) > 0 {
			out.Findings = append(out.Findings, finding(domain.SeverityBlocker, CheckDatabase, CodeDatabaseIntegrity,
				fmt.Sprintf("integrity check reported %d problem(s): %s", len(problems), problems[0])))
		}
		if size, err := store.Size(ctx); err == nil {
			out.Details["store_bytes"] = size
			if free, err := store.FreeBytes(ctx); err == nil {
				out.Details["free_bytes"] = free
				if size >= fragmentedMinBytes && free*4 > size {
					out.Findings = append(out.Findings, finding(domain.SeverityInfo, CheckDatabase, CodeDatabaseFragmented,
						fmt.Sprintf("%d of %d bytes could be reclaimed with VACUUM", free, size)))
				}
			}
		}
		if backend != nil {
			out.Details["backend_driver"] = backendDriver
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := backend.PingContext(pctx)
			cancel()
			out.Details["backend_reachable"] = err == nil
			if err != nil {
				out.Findings = append(out.Findings, finding(domain.SeverityBlocker, CheckDatabase, CodeBackendUnreach,
					fmt.Sprintf("backend database (%s) unreachable: %v", backendDriver, err)))
			}
		}
		return out, nil
	})
}

// DiskUsage describes one filesystem.
type DiskUsage struct {
	Total       uint64
	Free        uint64
	UsedPercent float64
}

// DiskCheck flags the workspace volume above the warn or critical thresholds.
func DiskCheck(path string, warnPct, critPct float64, usage func(string) (DiskUsage, error)) Check {
	if usage == nil {
		usage = Usage
	}
	return NewCheck(CheckDisk, func(ctx context.Context) (Outcome, error) {
		du, err := usage(path)
		if err != nil {
			return Outcome{}, fmt.Errorf("statfs %s: %w", path, err)
		}
		out := Outcome{Details: map[string]any{
			"path":         path,
			"total_bytes":  du.Total,
			"free_bytes":   du.Free,
			"used_percent": round1(du.UsedPercent),
		}}
		switch {
		case du.UsedPercent >= critPct:
			out.Findings = append(out.Findings, finding(domain.SeverityBlocker, CheckDisk, CodeDiskCritical,
				fmt.Sprintf("disk %.1f%% full (critical at %.0f%%)", du.UsedPercent, critPct)))
		case du.UsedPercent >= warnPct:
			out.Findings = append(out.Findings, finding(domain.SeverityWarning, CheckDisk, CodeDiskHigh,
				fmt.Sprintf("disk %.1f%% full (warning at %.0f%%)", du.UsedPercent, warnPct)))
		}
		return out, nil
	})
}

// AgentsCheck reports online agents whose heartbeat is older than staleAfter.
func AgentsCheck(list func(ctx context.Context) ([]domain.Agent, error), staleAfter time.Duration, now func() time.Time) Check {
	return NewCheck(CheckAgents, func(ctx context.Context) (Outcome, error) {
		agents, err := list(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("list agents: %w", err)
		}
		out := Outcome{}
		online, offline, stale := 0, 0, 0
		cutoff := now().Add(-staleAfter)
		for _, a := range agents {
			if a.Status == domain.AgentOffline {
				offline++
				continue
			}
			online++
			hb, err := time.Parse(time.RFC3339, a.LastHeartbeat)
			if err != nil || hb.Before(cutoff) {
				stale++
				out.Findings = append(out.Findings, finding(domain.SeverityWarning, CheckAgents, CodeAgentStale,
					fmt.Sprintf("agent %s has not reported since %s", a.ID, a.LastHeartbeat)))
			}
		}
		if len(agents) == 0 {
			out.Findings = append(out.Findings, finding(domain.SeverityInfo, CheckAgents, CodeAgentsNone, "no agents registered"))
		}
		out.Details = map[string]any{"total": len(agents), "online": online, "offline": offline, "stale": stale}
		return out, nil
	})
}

// BackupsCheck expects at least one recent backup and flags retention work.
func BackupsCheck(stats func(ctx context.Context) (backup.Stats, error), maxAge time.Duration, retentionDays int, now func() time.Time) Check {
	return NewCheck(CheckBackups, func(ctx context.Context) (Outcome, error) {
		st, err := stats(ctx)
		if err != nil {
			return Outcome{}, err
		}
		out := Outcome{Details: map[string]any{
			"backup_count":  st.Count,
			"total_bytes":   st.TotalBytes,
			"expired_count": st.ExpiredCount,
			"residue_count": st.ResidueCount,
		}}
		if st.Count == 0 {
			out.Findings = append(out.Findings, finding(domain.SeverityBlocker, CheckBackups, CodeBackupsMissing, "no backups found"))
			return out, nil
		}
		out.Details["newest"] = st.Newest.UTC().Format(time.RFC3339)
		if age := now().Sub(st.Newest); age > maxAge {
			out.Findings = append(out.Findings, finding(domain.SeverityWarning, CheckBackups, CodeBackupsStale,
				fmt.Sprintf("newest backup is %s old (limit %s)", age.Round(time.Minute), maxAge)))
		}
		if st.ExpiredCount > 0 {
			out.Findings = append(out.Findings, finding(domain.SeverityInfo, CheckBackups, CodeBackupsExpired,
				fmt.Sprintf("%d backup(s) older than %d days can be cleaned up", st.ExpiredCount, retentionDays)))
		}
		if st.ResidueCount > 0 {
			out.Findings = append(out.Findings, finding(domain.SeverityInfo, CheckBackups, CodeBackupsResidue,
				fmt.Sprintf("%d preflight residue backup(s) left behind", st.ResidueCount)))
		}
		return out, nil
	})
}

// ActivityCheck warns about error entries in the recent activity window.
func ActivityCheck(countErrors func(ctx context.Context, since time.Time) (int, error), window time.Duration, now func() time.Time) Check {
	return NewCheck(CheckActivity, func(ctx context.Context) (Outcome, error) {
		n, err := countErrors(ctx, now().Add(-window))
		if err != nil {
			return Outcome{}, fmt.Errorf("count activity errors: %w", err)
		}
		out := Outcome{Details: map[string]any{"errors": n, "window_hours": int(window.Hours())}}
		if n > 0 {
			out.Findings = append(out.Findings, finding(domain.SeverityWarning, CheckActivity, CodeActivityErrors,
				fmt.Sprintf("%d error(s) in the activity log over the last %s", n, window)))
		}
		return out, nil
	})
}

// PreflightCheck reflects the last preflight outcome. latest reports found=false
// when preflight never ran.
func PreflightCheck(latest func(ctx context.Context) (domain.PreflightResult, bool, error)) Check {
	return NewCheck(CheckPreflight, func(ctx context.Context) (Outcome, error) {
		res, found, err := latest(ctx)
		if err != nil {
			return Outcome{}, fmt.Errorf("load last preflight: %w", err)
		}
		if !found {
			return Outcome{
				Details:  map[string]any{"last_status": "never"},
				Findings: []domain.Finding{finding(domain.SeverityInfo, CheckPreflight, CodePreflightNeverRun, "preflight has never run")},
			}, nil
		}
		out := Outcome{Details: map[string]any{
			"last_status": res.Status,
			"last_run":    res.Timestamp,
			"failures":    res.Failures,
			"isolated":    res.Isolated,
		}}
		if res.Status != domain.PreflightPass {
			out.Findings = append(out.Findings, finding(domain.SeverityWarning, CheckPreflight, CodePreflightFailed,
				fmt.Sprintf("last preflight at %s failed with %d failure(s)", res.Timestamp, res.Failures)))
		}
		return out, nil
	})
}

func finding(sev domain.Severity, dom, code, text string) domain.Finding {
	return domain.Finding{Severity: sev, Domain: dom, Code: code, Text: text}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
