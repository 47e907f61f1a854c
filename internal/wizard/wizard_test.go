package wizard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"janitor/internal/audit"
	"janitor/internal/domain"
	"janitor/internal/remedy"
)

func report(findings ...domain.Finding) audit.Report {
	checks := []domain.CheckOutcome{}
	passed := 0
	for _, name := range audit.Order {
		ok := true
		for _, f := range findings {
			if f.Domain == name && f.Severity != domain.SeverityInfo {
				ok = false
			}
		}
		if ok {
			passed++
		}
		checks = append(checks, domain.CheckOutcome{Name: name, Passed: ok})
	}
	score := audit.Score(passed, len(checks))
	return audit.Report{
		Result: domain.AuditResult{
			HealthScore:  score,
			Status:       audit.StatusForScore(score),
			ChecksPassed: passed,
			ChecksTotal:  len(checks),
			Findings:     findings,
			Checks:       checks,
		},
		Details: map[string]map[string]any{audit.CheckBackups: {"backup_count": 4}},
	}
}

func TestBuildSectionsAndRanking(t *testing.T) {
	findings := []domain.Finding{
		{Severity: domain.SeverityInfo, Domain: audit.CheckBackups, Code: audit.CodeBackupsExpired, Text: "2 old"},
		{Severity: domain.SeverityWarning, Domain: audit.CheckAgents, Code: audit.CodeAgentStale, Text: "agent a"},
		{Severity: domain.SeverityBlocker, Domain: audit.CheckDisk, Code: audit.CodeDiskCritical, Text: "95%"},
		{Severity: domain.SeverityWarning, Domain: audit.CheckActivity, Code: audit.CodeActivityErrors, Text: "3 errors"},
	}
	res := Build(Input{
		Audit:         report(findings...),
		Probes:        map[string]map[string]any{audit.CheckBackups: {"newest": "2024-01-01T00:00:00Z"}},
		RetentionDays: 14,
		Now:           time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	})

	require.Len(t, res.Sections, len(audit.Order))
	statuses := map[string]string{}
	total := 0
	for i, s := range res.Sections {
		assert.Equal(t, audit.Order[i], s.ID)
		statuses[s.ID] = s.Status
		total += len(s.Findings)
	}
	assert.Equal(t, total, res.Summary.FindingsCount)
	assert.Equal(t, 4, res.Summary.FindingsCount)
	assert.Equal(t, domain.SectionError, statuses[audit.CheckDisk])
	assert.Equal(t, domain.SectionWarning, statuses[audit.CheckAgents])
	assert.Equal(t, domain.SectionOK, statuses[audit.CheckBackups])
	assert.Equal(t, domain.SectionOK, statuses[audit.CheckDatabase])

	backups := res.Sections[3]
	assert.Equal(t, 4, backups.Details["backup_count"])
	assert.Equal(t, "2024-01-01T00:00:00Z", backups.Details["newest"])

	require.Len(t, res.Recommendations, 4)
	var ranks []int
	for _, r := range res.Recommendations {
		ranks = append(ranks, r.Severity.Rank())
		if r.CanAutoFix {
			assert.True(t, remedy.Resolves(r.Action), r.Action)
		}
	}
	assert.Equal(t, []int{0, 1, 1, 2}, ranks)
	assert.Equal(t, ActionManualReview, res.Recommendations[0].Action)
	assert.False(t, res.Recommendations[0].CanAutoFix)
	// stable: agents section precedes activity
	assert.Equal(t, remedy.ActionMarkStaleAgents, res.Recommendations[1].Action)
	assert.True(t, res.Recommendations[1].CanAutoFix)
	assert.Equal(t, ActionManualReview, res.Recommendations[2].Action)
	assert.Equal(t, remedy.ActionCleanupBackups, res.Recommendations[3].Action)
	assert.Equal(t, map[string]any{"days_to_keep": 14}, res.Recommendations[3].Params)
}

func TestBuildCopiesAuditSummary(t *testing.T) {
	rep := report(domain.Finding{Severity: domain.SeverityBlocker, Domain: audit.CheckBackups, Code: audit.CodeBackupsMissing, Text: "none"})
	res := Build(Input{Audit: rep, Now: time.Now()})
	assert.Equal(t, rep.Result.HealthScore, res.Summary.HealthScore)
	assert.Equal(t, 83, res.Summary.HealthScore)
	assert.Equal(t, domain.HealthHealthy, res.Summary.Status)
	assert.Equal(t, 5, res.Summary.ChecksPassed)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, remedy.ActionCreateBackup, res.Recommendations[0].Action)
	assert.True(t, res.Recommendations[0].CanAutoFix)
}

func TestCanAutoFixFollowsResolver(t *testing.T) {
	rep := report(domain.Finding{Severity: domain.SeverityWarning, Domain: audit.CheckBackups, Code: audit.CodeBackupsStale, Text: "old"})
	res := Build(Input{Audit: rep, Now: time.Now(), Resolve: func(string) bool { return false }})
	require.Len(t, res.Recommendations, 1)
	assert.False(t, res.Recommendations[0].CanAutoFix)

	res = Build(Input{Audit: report(domain.Finding{Severity: domain.SeverityWarning, Domain: audit.CheckPreflight, Code: audit.CodePreflightFailed, Text: "x"}), Now: time.Now()})
	assert.False(t, res.Recommendations[0].CanAutoFix, "run_preflight is not a registered remediation")
}

func TestRecommendationIDsAreStable(t *testing.T) {
	f := domain.Finding{Severity: domain.SeverityWarning, Domain: "agents", Code: audit.CodeAgentStale, Text: "agent a"}
	assert.Equal(t, RecommendationID(f), RecommendationID(f))
	g := f
	g.Text = "agent b"
	assert.NotEqual(t, RecommendationID(f), RecommendationID(g))
}

func TestOrphanFindingGetsSection(t *testing.T) {
	rep := report()
	rep.Result.Findings = append(rep.Result.Findings, domain.Finding{Severity: domain.SeverityInfo, Domain: "network", Text: "slow"})
	res := Build(Input{Audit: rep, Now: time.Now()})
	require.Len(t, res.Sections, len(audit.Order)+1)
	last := res.Sections[len(res.Sections)-1]
	assert.Equal(t, "network", last.ID)
	assert.Equal(t, "Network", last.Title)
	assert.Equal(t, 1, res.Summary.FindingsCount)
}
