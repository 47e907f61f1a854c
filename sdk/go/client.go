package janitorsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"janitor/internal/domain"
)

// Client is a minimal Janitor HTTP API client.
type Client struct {
	BaseURL     string
	Tenant      string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenant string) *Client {
	return &Client{
		BaseURL: baseURL,
		Tenant:  tenant,
		Timeout: 10 * time.Second,
	}
}

type (
	AuditResult     = domain.AuditResult
	WizardResult    = domain.WizardResult
	WizardRun       = domain.WizardRun
	ReviewResult    = domain.ReviewResult
	PreflightResult = domain.PreflightResult
	BackupFile      = domain.BackupFile
	EditHistoryItem = domain.EditHistoryItem
	LogEntry        = domain.LogEntry
	Agent           = domain.Agent
)

// FixResult is the outcome of a remediation followed by its wizard refresh.
type FixResult struct {
	Action           string         `json:"action"`
	Summary          string         `json:"summary"`
	Changed          bool           `json:"changed"`
	Data             map[string]any `json:"data,omitempty"`
	RemediationError string         `json:"remediation_error,omitempty"`
	Wizard           WizardResult   `json:"wizard"`
}

type CleanupResult struct {
	Deleted int `json:"deleted"`
	Kept    int `json:"kept"`
}

// PreflightOptions selects what a triggered preflight run does.
type PreflightOptions struct {
	Isolated         bool   `json:"isolated"`
	SkipOAuth        bool   `json:"skip_oauth"`
	OpenBrowser      bool   `json:"open_browser"`
	AllowDestructive bool   `json:"allow_destructive"`
	APIBase          string `json:"api_base,omitempty"`
}

type EditInput struct {
	File    string `json:"file"`
	Agent   string `json:"agent,omitempty"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == status
}

// Health checks liveness. It needs no credentials.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "v0/status", nil, &resp)
	return resp, err
}

func (c *Client) Audit(ctx context.Context) (AuditResult, error) {
	var resp AuditResult
	err := c.do(ctx, http.MethodGet, "v0/audit", nil, &resp)
	return resp, err
}

func (c *Client) Wizard(ctx context.Context) (WizardResult, error) {
	var resp WizardResult
	err := c.do(ctx, http.MethodPost, "v0/wizard", nil, &resp)
	return resp, err
}

func (c *Client) WizardHistory(ctx context.Context, limit int) ([]WizardRun, error) {
	var resp []WizardRun
	err := c.do(ctx, http.MethodGet, withLimit("v0/wizard/history", limit), nil, &resp)
	return resp, err
}

// Fix applies a registered remediation action.
func (c *Client) Fix(ctx context.Context, action string, params map[string]any) (FixResult, error) {
	body := map[string]any{"action": action}
	if params != nil {
		body["params"] = params
	}
	var resp FixResult
	err := c.do(ctx, http.MethodPost, "v0/wizard/fix", body, &resp)
	return resp, err
}

func (c *Client) Review(ctx context.Context, filePath, content string) (ReviewResult, error) {
	body := map[string]any{
		"file_path":   filePath,
		"new_content": content,
	}
	var resp ReviewResult
	err := c.do(ctx, http.MethodPost, "v0/review", body, &resp)
	return resp, err
}

func (c *Client) ReviewPatch(ctx context.Context, patch string) (ReviewResult, error) {
	var resp ReviewResult
	err := c.do(ctx, http.MethodPost, "v0/review/patch", map[string]any{"patch": patch}, &resp)
	return resp, err
}

func (c *Client) PreflightInfo(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, "v0/preflight-info", nil, &resp)
	return resp, err
}

func (c *Client) RunPreflight(ctx context.Context, opts PreflightOptions) (PreflightResult, error) {
	var resp struct {
		Result PreflightResult `json:"result"`
	}
	err := c.do(ctx, http.MethodPost, "v0/run-preflight", opts, &resp)
	return resp.Result, err
}

// Cleanup runs a retention sweep. daysToKeep < 0 uses the server default.
func (c *Client) Cleanup(ctx context.Context, daysToKeep int) (CleanupResult, error) {
	endpoint := "v0/cleanup"
	if daysToKeep >= 0 {
		endpoint = fmt.Sprintf("%s?days_to_keep=%d", endpoint, daysToKeep)
	}
	var resp CleanupResult
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Backups(ctx context.Context, limit int) ([]BackupFile, error) {
	var resp []BackupFile
	err := c.do(ctx, http.MethodGet, withLimit("v0/backups", limit), nil, &resp)
	return resp, err
}

func (c *Client) Snapshot(ctx context.Context, label string) (BackupFile, error) {
	var resp BackupFile
	err := c.do(ctx, http.MethodPost, "v0/backups/snapshot", map[string]any{"label": label}, &resp)
	return resp, err
}

func (c *Client) DeleteBackup(ctx context.Context, filename string) error {
	return c.do(ctx, http.MethodDelete, "v0/backups/"+url.PathEscape(filename), nil, nil)
}

func (c *Client) History(ctx context.Context, limit int) ([]EditHistoryItem, error) {
	var resp []EditHistoryItem
	err := c.do(ctx, http.MethodGet, withLimit("v0/history", limit), nil, &resp)
	return resp, err
}

func (c *Client) AppendEdit(ctx context.Context, in EditInput) (EditHistoryItem, error) {
	var resp EditHistoryItem
	err := c.do(ctx, http.MethodPost, "v0/history", in, &resp)
	return resp, err
}

func (c *Client) Logs(ctx context.Context, limit int) ([]LogEntry, error) {
	var resp []LogEntry
	err := c.do(ctx, http.MethodGet, withLimit("v0/logs", limit), nil, &resp)
	return resp, err
}

func (c *Client) Heartbeat(ctx context.Context, agentID, name string) (Agent, error) {
	var resp Agent
	body := map[string]any{}
	if name != "" {
		body["name"] = name
	}
	err := c.do(ctx, http.MethodPost, "v0/agents/"+url.PathEscape(agentID)+"/heartbeat", body, &resp)
	return resp, err
}

func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var resp []Agent
	err := c.do(ctx, http.MethodGet, "v0/agents", nil, &resp)
	return resp, err
}

func withLimit(endpoint string, limit int) string {
	if limit > 0 {
		return fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	return endpoint
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Tenant != "" {
		req.Header.Set("X-Tenant-ID", c.Tenant)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
