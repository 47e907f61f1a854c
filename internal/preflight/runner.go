package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"janitor/internal/apperr"
	"janitor/internal/domain"
	janitorsdk "janitor/sdk/go"
)

// Check names, in run order.
const (
	CheckAPIHealth       = "api_health"
	CheckStatus          = "status"
	CheckAudit           = "audit"
	CheckBackupsList     = "backups_list"
	CheckHistoryList     = "history_list"
	CheckLogsList        = "logs_list"
	CheckReviewGate      = "review_gate"
	CheckOAuthRedirect   = "oauth_redirect"
	CheckBackupRoundtrip = "backup_roundtrip"
)

// errSkipped marks a check that did not apply to this run.
type errSkipped struct{ reason string }

func (e errSkipped) Error() string { return e.reason }

func skip(reason string) error { return errSkipped{reason: reason} }

type check struct {
	name string
	run  func(ctx context.Context, r *run) (string, error)
}

type run struct {
	cfg    Config
	client *janitorsdk.Client
	runner Runner
}

var catalogue = []check{
	{CheckAPIHealth, checkHealth},
	{CheckStatus, checkStatus},
	{CheckAudit, checkAudit},
	{CheckBackupsList, checkBackups},
	{CheckHistoryList, checkHistory},
	{CheckLogsList, checkLogs},
	{CheckReviewGate, checkReviewGate},
	{CheckOAuthRedirect, checkOAuth},
	{CheckBackupRoundtrip, checkRoundtrip},
}

// Names lists the checks in run order.
func Names() []string {
	out := make([]string, len(catalogue))
	for i, c := range catalogue {
		out[i] = c.name
	}
	return out
}

// Runner executes the check catalogue.
type Runner struct {
	// Live is the credential set used for non-isolated runs.
	Live          Endpoint
	Sandbox       SandboxFactory
	Timeout       time.Duration
	OAuthURL      string
	ResiduePrefix string
	OpenURL       func(url string) error
	HTTPClient    *http.Client
	Now           func() time.Time
	Logger        *slog.Logger
}

// Execute runs every check. Errors are reserved for runs that could not
// start; failing checks are reported in the result.
func (r Runner) Execute(ctx context.Context, cfg Config) (domain.PreflightResult, error) {
	if err := cfg.Validate(); err != nil {
		return domain.PreflightResult{}, err
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ep := r.Live
	ep.BaseURL = cfg.APIBase
	if cfg.Isolated {
		if r.Sandbox == nil {
			return domain.PreflightResult{}, apperr.SandboxError{Err: errors.New("no sandbox factory configured")}
		}
		sb, err := r.Sandbox(ctx)
		if err != nil {
			return domain.PreflightResult{}, apperr.SandboxError{Err: err}
		}
		defer func() {
			if err := sb.Close(); err != nil {
				logger.Warn("sandbox close failed", "err", err)
			}
		}()
		ep = sb.Endpoint()
	}

	client := janitorsdk.New(ep.BaseURL, ep.Tenant)
	client.BearerToken = ep.Token
	client.APIKey = ep.APIKey
	if r.HTTPClient != nil {
		client.HTTPClient = r.HTTPClient
	}
	state := &run{cfg: cfg, client: client, runner: r}

	res := domain.PreflightResult{
		ID:        uuid.NewString(),
		Timestamp: now().UTC().Format(time.RFC3339),
		Isolated:  cfg.Isolated,
		Checks:    make([]domain.PreflightCheck, 0, len(catalogue)),
	}
	for _, c := range catalogue {
		started := time.Now()
		pc := domain.PreflightCheck{Name: c.name}
		if ctx.Err() != nil {
			pc.Status = domain.PreflightFail
			pc.Detail = "timed out before start"
			res.Checks = append(res.Checks, pc)
			continue
		}
		detail, err := c.run(ctx, state)
		var sk errSkipped
		switch {
		case errors.As(err, &sk):
			pc.Status = domain.PreflightSkipped
			pc.Detail = sk.reason
		case err != nil:
			pc.Status = domain.PreflightFail
			pc.Detail = err.Error()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				pc.Detail = "timed out: " + pc.Detail
			}
		default:
			pc.Status = domain.PreflightPass
			pc.Detail = detail
		}
		pc.DurationMS = time.Since(started).Milliseconds()
		res.Checks = append(res.Checks, pc)
	}
	res.Status = domain.PreflightPass
	for _, c := range res.Checks {
		if c.Status == domain.PreflightFail {
			res.Failures++
		}
	}
	if res.Failures > 0 {
		res.Status = domain.PreflightFail
	}
	logger.Info("preflight finished", "id", res.ID, "status", res.Status, "failures", res.Failures, "isolated", res.Isolated)
	return res, nil
}

func checkHealth(ctx context.Context, r *run) (string, error) {
	if err := r.client.Health(ctx); err != nil {
		return "", err
	}
	return "ok", nil
}

func checkStatus(ctx context.Context, r *run) (string, error) {
	st, err := r.client.Status(ctx)
	if err != nil {
		return "", err
	}
	if _, ok := st["uptime_seconds"]; !ok {
		return "", errors.New("status response lacks uptime_seconds")
	}
	return fmt.Sprintf("wizard_state=%v", st["wizard_state"]), nil
}

func checkAudit(ctx context.Context, r *run) (string, error) {
	a, err := r.client.Audit(ctx)
	if err != nil {
		return "", err
	}
	if a.ChecksTotal == 0 || a.HealthScore < 0 || a.HealthScore > 100 {
		return "", fmt.Errorf("malformed audit: score=%d checks=%d", a.HealthScore, a.ChecksTotal)
	}
	return fmt.Sprintf("score=%d status=%s", a.HealthScore, a.Status), nil
}

func checkBackups(ctx context.Context, r *run) (string, error) {
	b, err := r.client.Backups(ctx, 5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d backup(s)", len(b)), nil
}

func checkHistory(ctx context.Context, r *run) (string, error) {
	h, err := r.client.History(ctx, 5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d edit(s)", len(h)), nil
}

func checkLogs(ctx context.Context, r *run) (string, error) {
	l, err := r.client.Logs(ctx, 5)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d entr(ies)", len(l)), nil
}

func checkReviewGate(ctx context.Context, r *run) (string, error) {
	bad, err := r.client.Review(ctx, "preflight_probe.py", "import os\nos.system('rm -rf /')\n")
	if err != nil {
		return "", err
	}
	if bad.Approved {
		return "", errors.New("destructive sample was approved")
	}
	good, err := r.client.Review(ctx, "preflight_probe.py", "print('ok')\n")
	if err != nil {
		return "", err
	}
	if !good.Approved {
		return "", fmt.Errorf("benign sample was rejected with %d blocker(s)", good.BlockerCount)
	}
	return "destructive rejected, benign approved", nil
}

func checkOAuth(ctx context.Context, r *run) (string, error) {
	if r.cfg.SkipOAuth {
		return "", skip("skipped by request")
	}
	target := strings.TrimSpace(r.runner.OAuthURL)
	if target == "" {
		return "", skip("no oauth_url configured")
	}
	if r.cfg.OpenBrowser {
		open := r.runner.OpenURL
		if open == nil {
			open = OpenBrowser
		}
		if err := open(target); err != nil {
			return "", fmt.Errorf("open browser: %w", err)
		}
		return "opened " + target + " in the system browser", nil
	}
	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		loc := resp.Header.Get("Location")
		if loc == "" {
			return "", fmt.Errorf("redirect %d without Location", resp.StatusCode)
		}
		return "redirects to " + loc, nil
	case resp.StatusCode < 300:
		return fmt.Sprintf("status %d", resp.StatusCode), nil
	default:
		return "", fmt.Errorf("oauth endpoint returned %d", resp.StatusCode)
	}
}

func checkRoundtrip(ctx context.Context, r *run) (string, error) {
	if !r.cfg.AllowDestructive {
		return "", skip("destructive checks not allowed")
	}
	label := strings.TrimSuffix(r.runner.ResiduePrefix, "-")
	if label == "" {
		label = "preflight"
	}
	snap, err := r.client.Snapshot(ctx, label)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	listed, err := r.client.Backups(ctx, 0)
	if err != nil {
		return "", err
	}
	if !containsBackup(listed, snap.Filename) {
		return "", fmt.Errorf("snapshot %s not listed", snap.Filename)
	}
	if err := r.client.DeleteBackup(ctx, snap.Filename); err != nil {
		return "", fmt.Errorf("delete %s: %w", snap.Filename, err)
	}
	listed, err = r.client.Backups(ctx, 0)
	if err != nil {
		return "", err
	}
	if containsBackup(listed, snap.Filename) {
		return "", fmt.Errorf("snapshot %s still listed after delete", snap.Filename)
	}
	return fmt.Sprintf("created and removed %s (%d bytes)", snap.Filename, snap.SizeBytes), nil
}

func containsBackup(list []janitorsdk.BackupFile, name string) bool {
	for _, b := range list {
		if b.Filename == name {
			return true
		}
	}
	return false
}

// Manual describes how to run the same checks from a shell.
type Manual struct {
	ScriptPath         string   `json:"script_path"`
	Command            string   `json:"command"`
	CommandDestructive string   `json:"command_destructive,omitempty"`
	CommandUseExisting string   `json:"command_use_existing,omitempty"`
	Notes              string   `json:"notes,omitempty"`
	Flags              []string `json:"flags"`
	Checks             []string `json:"checks"`
}

// ManualInfo reports the running binary as script_path, falling back to
// "janitor" when the executable cannot be resolved.
func ManualInfo() Manual {
	script := "janitor"
	if exe, err := os.Executable(); err == nil && exe != "" {
		script = exe
	}
	return Manual{
		ScriptPath:         script,
		Command:            "janitor preflight",
		CommandDestructive: "janitor preflight --allow-destructive",
		CommandUseExisting: "janitor preflight --isolated=false --api-base <url>",
		Notes: "The default run starts a throwaway sandbox and leaves no residue behind. " +
			"--allow-destructive adds a backup snapshot round trip. " +
			"Against an existing API, set preflight.token or preflight.api_key in janitor.yml so the checks can authenticate.",
		Flags: []string{
			"--isolated        run against a throwaway sandbox (default true)",
			"--skip-oauth      skip the browser-dependent oauth check",
			"--open-browser    open the oauth url in the system browser",
			"--allow-destructive  create and delete a backup snapshot",
			"--api-base URL    API to test when not isolated",
		},
		Checks: Names(),
	}
}
