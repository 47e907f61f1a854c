// Package wizard turns an audit into sections and ranked recommendations.
// Everything here is pure; the engine owns locking and persistence.
package wizard

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"janitor/internal/audit"
	"janitor/internal/domain"
	"janitor/internal/remedy"
)

// ActionManualReview marks a recommendation that needs a human.
const ActionManualReview = "manual_review"

type Input struct {
	Audit audit.Report
	// Probes holds extra per-section details gathered next to the audit.
	Probes        map[string]map[string]any
	RetentionDays int
	Now           time.Time
	// Resolve reports whether an action is auto-fixable; nil uses the remedy registry.
	Resolve func(action string) bool
}

var sectionTitles = map[string]string{
	audit.CheckDatabase:  "Database",
	audit.CheckDisk:      "Disk space",
	audit.CheckAgents:    "Agents",
	audit.CheckBackups:   "Backups",
	audit.CheckActivity:  "Activity log",
	audit.CheckPreflight: "Preflight",
}

type rule struct {
	action      string
	title       string
	description string
	params      func(f domain.Finding, in Input) map[string]any
}

var rules = map[string]rule{
	audit.CodeBackupsMissing: {action: remedy.ActionCreateBackup, title: "Create a backup",
		description: "No backup exists. Snapshot the store now."},
	audit.CodeBackupsStale: {action: remedy.ActionCreateBackup, title: "Refresh backups",
		description: "The newest backup is older than the allowed age."},
	audit.CodeBackupsExpired: {action: remedy.ActionCleanupBackups, title: "Clean up old backups",
		description: "Backups past the retention window can be removed.",
		params: func(_ domain.Finding, in Input) map[string]any {
			return map[string]any{"days_to_keep": in.RetentionDays}
		}},
	audit.CodeBackupsResidue: {action: remedy.ActionPurgePreflightResidue, title: "Purge preflight residue",
		description: "Destructive preflight checks left backups behind."},
	audit.CodeDatabaseFragmented: {action: remedy.ActionVacuumDatabase, title: "Vacuum the database",
		description: "Reclaim free pages in the service store."},
	audit.CodeAgentStale: {action: remedy.ActionMarkStaleAgents, title: "Mark stale agents offline",
		description: "Agents stopped reporting heartbeats."},
	audit.CodePreflightFailed: {action: "run_preflight", title: "Investigate preflight failures",
		description: "Re-run preflight after fixing the failing checks."},
	audit.CodePreflightNeverRun: {action: "run_preflight", title: "Run preflight",
		description: "No preflight has been recorded yet."},
	audit.CodeDiskCritical: {action: ActionManualReview, title: "Free disk space",
		description: "The workspace volume is nearly full."},
	audit.CodeDiskHigh: {action: ActionManualReview, title: "Watch disk space",
		description: "The workspace volume is filling up."},
}

// Build assembles the wizard result.
func Build(in Input) domain.WizardResult {
	resolve := in.Resolve
	if resolve == nil {
		resolve = remedy.Resolves
	}
	res := domain.WizardResult{
		Timestamp:       in.Now.UTC().Format(time.RFC3339),
		Sections:        []domain.WizardSection{},
		Recommendations: []domain.Recommendation{},
	}
	byDomain := map[string][]domain.Finding{}
	for _, f := range in.Audit.Result.Findings {
		byDomain[f.Domain] = append(byDomain[f.Domain], f)
	}
	seen := map[string]bool{}
	for _, c := range in.Audit.Result.Checks {
		seen[c.Name] = true
		res.Sections = append(res.Sections, section(c.Name, byDomain[c.Name], mergeDetails(in.Audit.Details[c.Name], in.Probes[c.Name])))
	}
	// findings whose domain has no check of its own still get a section
	var extra []string
	for d := range byDomain {
		if !seen[d] {
			extra = append(extra, d)
		}
	}
	sort.Strings(extra)
	for _, d := range extra {
		res.Sections = append(res.Sections, section(d, byDomain[d], in.Probes[d]))
	}

	for _, s := range res.Sections {
		res.Summary.FindingsCount += len(s.Findings)
		for _, f := range s.Findings {
			res.Recommendations = append(res.Recommendations, recommend(f, in, resolve))
		}
	}
	sort.SliceStable(res.Recommendations, func(i, j int) bool {
		return res.Recommendations[i].Severity.Rank() < res.Recommendations[j].Severity.Rank()
	})

	res.Summary.HealthScore = in.Audit.Result.HealthScore
	res.Summary.Status = in.Audit.Result.Status
	res.Summary.ChecksPassed = in.Audit.Result.ChecksPassed
	res.Summary.ChecksTotal = in.Audit.Result.ChecksTotal
	return res
}

func section(name string, findings []domain.Finding, details map[string]any) domain.WizardSection {
	s := domain.WizardSection{
		ID:       name,
		Title:    sectionTitles[name],
		Status:   domain.SectionOK,
		Findings: findings,
		Details:  details,
	}
	if s.Title == "" && name != "" {
		s.Title = strings.ToUpper(name[:1]) + name[1:]
	}
	if s.Findings == nil {
		s.Findings = []domain.Finding{}
	}
	if s.Details == nil {
		s.Details = map[string]any{}
	}
	var blockers, warnings int
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityBlocker:
			blockers++
		case domain.SeverityWarning:
			warnings++
		}
	}
	switch {
	case blockers > 0:
		s.Status = domain.SectionError
		s.Summary = fmt.Sprintf("%d blocker(s), %d warning(s)", blockers, warnings)
	case warnings > 0:
		s.Status = domain.SectionWarning
		s.Summary = fmt.Sprintf("%d warning(s)", warnings)
	case len(findings) > 0:
		s.Summary = fmt.Sprintf("ok, %d note(s)", len(findings))
	default:
		s.Summary = "ok"
	}
	return s
}

func recommend(f domain.Finding, in Input, resolve func(string) bool) domain.Recommendation {
	r, ok := rules[f.Code]
	if !ok {
		r = rule{action: ActionManualReview, title: "Review " + f.Domain, description: "Inspect this finding manually."}
	}
	params := map[string]any{}
	if r.params != nil {
		params = r.params(f, in)
	}
	return domain.Recommendation{
		ID:          RecommendationID(f),
		Severity:    f.Severity,
		Title:       r.title,
		Description: r.description + " " + f.Text,
		Action:      r.action,
		Params:      params,
		CanAutoFix:  resolve(r.action),
	}
}

// RecommendationID is stable for the same finding across runs.
func RecommendationID(f domain.Finding) string {
	key := strings.Join([]string{f.Domain, f.Code, string(f.Severity), f.Text}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func mergeDetails(base, extra map[string]any) map[string]any {
	if len(base) == 0 && len(extra) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
