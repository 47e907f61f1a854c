package domain

// Severity ranks a finding. P1 blocks, P2 warns, P3 informs.
type Severity string

const (
	SeverityBlocker Severity = "P1"
	SeverityWarning Severity = "P2"
	SeverityInfo    Severity = "P3"
)

// Rank orders severities with the most urgent first.
func (s Severity) Rank() int {
	switch s {
	case SeverityBlocker:
		return 0
	case SeverityWarning:
		return 1
	case SeverityInfo:
		return 2
	default:
		return 3
	}
}

// Label returns the human name of the severity.
func (s Severity) Label() string {
	switch s {
	case SeverityBlocker:
		return "blocker"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

const (
	HealthHealthy        = "healthy"
	HealthNeedsAttention = "needs_attention"
	HealthCritical       = "critical"
)

type Finding struct {
	Severity Severity `json:"severity" enum:"P1,P2,P3"`
	Domain   string   `json:"domain"`
	Text     string   `json:"text"`
	Code     string   `json:"code,omitempty"`
}

type CheckOutcome struct {
	Name     string         `json:"name"`
	Passed   bool           `json:"passed"`
	Error    string         `json:"error,omitempty"`
	Findings int            `json:"findings"`
	Details  map[string]any `json:"details,omitempty"`
}

type AuditResult struct {
	Timestamp    string         `json:"timestamp" format:"date-time"`
	Status       string         `json:"status" enum:"healthy,needs_attention,critical"`
	HealthScore  int            `json:"health_score" minimum:"0" maximum:"100"`
	ChecksPassed int            `json:"checks_passed"`
	ChecksTotal  int            `json:"checks_total"`
	Findings     []Finding      `json:"findings"`
	Checks       []CheckOutcome `json:"checks"`
}

const (
	SectionOK      = "ok"
	SectionWarning = "warning"
	SectionError   = "error"
)

type WizardSection struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Status   string         `json:"status" enum:"ok,warning,error"`
	Summary  string         `json:"summary"`
	Findings []Finding      `json:"findings"`
	Details  map[string]any `json:"details"`
}

type Recommendation struct {
	ID          string         `json:"id"`
	Severity    Severity       `json:"severity" enum:"P1,P2,P3"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
	CanAutoFix  bool           `json:"can_auto_fix"`
}

type WizardSummary struct {
	HealthScore   int    `json:"health_score"`
	Status        string `json:"status" enum:"healthy,needs_attention,critical"`
	ChecksPassed  int    `json:"checks_passed"`
	ChecksTotal   int    `json:"checks_total"`
	FindingsCount int    `json:"findings_count"`
}

type WizardResult struct {
	RunID           int64            `json:"run_id,omitempty"`
	Timestamp       string           `json:"timestamp" format:"date-time"`
	Summary         WizardSummary    `json:"summary"`
	Sections        []WizardSection  `json:"sections"`
	Recommendations []Recommendation `json:"recommendations"`
}

// WizardRun is the durable history row written after a completed wizard pass.
type WizardRun struct {
	ID            int64  `json:"id"`
	Timestamp     string `json:"timestamp" format:"date-time"`
	HealthScore   int    `json:"health_score"`
	Status        string `json:"status"`
	FindingsCount int    `json:"findings_count"`
	ChecksPassed  int    `json:"checks_passed"`
	ChecksTotal   int    `json:"checks_total"`
}

const (
	ConcernBlocker = "blocker"
	ConcernWarning = "warning"
)

type ReviewConcern struct {
	Severity string `json:"severity" enum:"blocker,warning"`
	Rule     string `json:"rule"`
	Issue    string `json:"issue"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
}

type ReviewResult struct {
	Approved     bool            `json:"approved"`
	Concerns     []ReviewConcern `json:"concerns"`
	BlockerCount int             `json:"blocker_count"`
	WarningCount int             `json:"warning_count"`
	ReviewedAt   string          `json:"reviewed_at" format:"date-time"`
	ReviewedBy   string          `json:"reviewed_by"`
}

const (
	PreflightPass    = "pass"
	PreflightFail    = "fail"
	PreflightSkipped = "skipped"
)

type PreflightCheck struct {
	Name       string `json:"name"`
	Status     string `json:"status" enum:"pass,fail,skipped"`
	Detail     string `json:"detail,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type PreflightResult struct {
	ID        string           `json:"id"`
	Status    string           `json:"status" enum:"pass,fail"`
	Timestamp string           `json:"timestamp" format:"date-time"`
	Failures  int              `json:"failures"`
	Isolated  bool             `json:"isolated"`
	Checks    []PreflightCheck `json:"checks,omitempty"`
}

type BackupFile struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Modified  string `json:"modified" format:"date-time"`
	Path      string `json:"path"`
}

type EditHistoryItem struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp" format:"date-time"`
	File      string `json:"file"`
	Agent     string `json:"agent"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

const (
	LogSuccess = "success"
	LogError   = "error"
	LogWarning = "warning"
	LogInfo    = "info"
)

type LogEntry struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"timestamp" format:"date-time"`
	Action    string `json:"action"`
	Details   string `json:"details"`
	Status    string `json:"status"`
	AgentID   string `json:"agent_id"`
}

const (
	AgentOnline  = "online"
	AgentOffline = "offline"
)

type Agent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Status        string `json:"status" enum:"online,offline"`
	LastHeartbeat string `json:"last_heartbeat" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
