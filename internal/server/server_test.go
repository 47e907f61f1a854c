package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"janitor/internal/audit"
	"janitor/internal/config"
	"janitor/internal/db"
	"janitor/internal/domain"
	"janitor/internal/engine"
	"janitor/internal/migrate"
	"janitor/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Hub    *Hub
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type serverOption func(*Config)

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.RateLimit.RunsPerMinute = 0
	e, err := engine.New(conn, cfg, workspace)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	e.DiskUsage = func(string) (audit.DiskUsage, error) {
		return audit.DiskUsage{Total: 100 << 30, Free: 90 << 30, UsedPercent: 10}, nil
	}
	hub := NewHub(nil)
	e.Notify = hub
	scfg := Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}, Hub: hub}
	for _, opt := range opts {
		opt(&scfg)
	}
	handler, err := New(scfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Hub:    hub,
		client: &http.Client{},
		close: func() {
			hub.Close()
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func authHeaders(t *testing.T, actor, tenant string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actor, tenant, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error
}

func TestHealthIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	if !strings.Contains(string(data), `"ok"`) {
		t.Fatalf("unexpected health body %s", data)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, data)
	}
	if code := decodeError(t, data).Code; code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", code)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestTenantResolution(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, authHeaders(t, "ops", "acme"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var st engine.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.Tenant != "acme" {
		t.Fatalf("expected tenant from claim, got %q", st.Tenant)
	}

	headers := authHeaders(t, "ops", "acme")
	headers[TenantHeader] = "globex"
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, headers)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for tenant mismatch, got %d: %s", res.StatusCode, data)
	}

	headers = authHeaders(t, "ops", "")
	headers[TenantHeader] = "globex"
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.Tenant != "globex" {
		t.Fatalf("expected tenant from header, got %q", st.Tenant)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	if err := srv.Engine.Repo.InsertAPIKey(ctx, nil, domain.APIKey{
		ID:       "k1",
		ActorID:  "ci-bot",
		TenantID: "acme",
		KeyHash:  repo.HashAPIKey("sekret"),
	}); err != nil {
		t.Fatalf("insert api key: %v", err)
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/review", map[string]any{
		"file_path":   "main.py",
		"new_content": "print('hi')\n",
	}, map[string]string{"X-Api-Key": "sekret"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, data)
	}
	var rr domain.ReviewResult
	if err := json.Unmarshal(data, &rr); err != nil {
		t.Fatalf("unmarshal review: %v", err)
	}
	if !rr.Approved || rr.ReviewedBy != "ci-bot" {
		t.Fatalf("unexpected review result %+v", rr)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/status", nil, map[string]string{"X-Api-Key": "wrong"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown key, got %d", res.StatusCode)
	}
}

func TestAuditLowScoreIsOK(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/audit", nil, authHeaders(t, "ops", ""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("audit status %d: %s", res.StatusCode, data)
	}
	var ar domain.AuditResult
	if err := json.Unmarshal(data, &ar); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	// no backups yet, so the report is not healthy
	if ar.HealthScore >= 100 || len(ar.Findings) == 0 {
		t.Fatalf("expected findings for an empty workspace, got %+v", ar)
	}
}

func TestWizardRunAndHistory(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	headers := authHeaders(t, "ops", "")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/wizard", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("wizard status %d: %s", res.StatusCode, data)
	}
	var wr domain.WizardResult
	if err := json.Unmarshal(data, &wr); err != nil {
		t.Fatalf("unmarshal wizard: %v", err)
	}
	if wr.RunID == 0 || len(wr.Sections) == 0 {
		t.Fatalf("unexpected wizard result %+v", wr)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/wizard/history?limit=5", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, data)
	}
	var runs []domain.WizardRun
	if err := json.Unmarshal(data, &runs); err != nil {
		t.Fatalf("unmarshal runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != wr.RunID {
		t.Fatalf("expected one run %d, got %+v", wr.RunID, runs)
	}
}

func TestWizardRejectedWhileRunInProgress(t *testing.T) {
	srv := newTestServer(t)
	release, err := srv.Engine.Locks.TryAcquire(context.Background(), engine.DefaultTenant, engine.KindPreflight)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/wizard", nil, authHeaders(t, "ops", ""))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, data)
	}
	body := decodeError(t, data)
	if body.Code != "run_in_progress" || body.Details["kind"] != engine.KindPreflight {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestRunTriggersAreRateLimited(t *testing.T) {
	srv := newTestServer(t, func(c *Config) {
		c.RateLimit = &config.RateLimitConfig{RunsPerMinute: 1, Burst: 1}
	})
	headers := authHeaders(t, "ops", "")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/wizard", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first wizard status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/wizard", nil, headers)
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d: %s", res.StatusCode, data)
	}
	// buckets are per tenant
	other := authHeaders(t, "ops", "acme")
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/wizard", nil, other)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("other tenant wizard status %d: %s", res.StatusCode, data)
	}
}

func TestFixValidation(t *testing.T) {
	srv := newTestServer(t)
	headers := authHeaders(t, "ops", "")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/wizard/fix", map[string]any{
		"action": "format_disk",
	}, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown action, got %d: %s", res.StatusCode, data)
	}
	runs, err := srv.Engine.Repo.ListWizardRuns(context.Background(), engine.DefaultTenant, 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("rejected fix must not run the wizard, got %d runs", len(runs))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/wizard/fix", map[string]any{
		"action": "cleanup_backups",
		"params": map[string]any{"days_to_keep": 7},
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fix status %d: %s", res.StatusCode, data)
	}
	var fr engine.FixResult
	if err := json.Unmarshal(data, &fr); err != nil {
		t.Fatalf("unmarshal fix: %v", err)
	}
	if fr.Action != "cleanup_backups" || fr.Wizard.RunID == 0 {
		t.Fatalf("unexpected fix result %+v", fr)
	}
}

func TestReviewRejectsDestructiveContent(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/review", map[string]any{
		"file_path":   "cleanup.sh",
		"new_content": "#!/bin/sh\nrm -rf /\n",
	}, authHeaders(t, "alice", ""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("review status %d: %s", res.StatusCode, data)
	}
	var rr domain.ReviewResult
	if err := json.Unmarshal(data, &rr); err != nil {
		t.Fatalf("unmarshal review: %v", err)
	}
	if rr.Approved || rr.BlockerCount == 0 {
		t.Fatalf("expected rejection, got %+v", rr)
	}
	if rr.ReviewedBy != "alice" {
		t.Fatalf("expected reviewed_by alice, got %q", rr.ReviewedBy)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/review/patch", map[string]any{
		"patch": "not a diff",
	}, authHeaders(t, "alice", ""))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad patch, got %d: %s", res.StatusCode, data)
	}
}

func TestCleanupDaysToKeep(t *testing.T) {
	srv := newTestServer(t)
	headers := authHeaders(t, "ops", "")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cleanup?days_to_keep=abc", nil, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cleanup?days_to_keep=-1", nil, headers)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative days, got %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cleanup", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cleanup status %d: %s", res.StatusCode, data)
	}
	var cr CleanupResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		t.Fatalf("unmarshal cleanup: %v", err)
	}
	if cr.Deleted != 0 || cr.Kept != 0 {
		t.Fatalf("expected empty sweep, got %+v", cr)
	}
}

func TestBackupSnapshotListDelete(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	headers := authHeaders(t, "ops", "")

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/backups/missing.db", nil, headers)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/backups/snapshot", map[string]any{"label": "nightly"}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("snapshot status %d: %s", res.StatusCode, data)
	}
	var file domain.BackupFile
	if err := json.Unmarshal(data, &file); err != nil {
		t.Fatalf("unmarshal backup: %v", err)
	}
	if file.Filename == "" || file.SizeBytes == 0 {
		t.Fatalf("unexpected backup %+v", file)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/backups?limit=10", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var files []domain.BackupFile
	if err := json.Unmarshal(data, &files); err != nil {
		t.Fatalf("unmarshal backups: %v", err)
	}
	if len(files) != 1 || files[0].Filename != file.Filename {
		t.Fatalf("unexpected backups %+v", files)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/backups/"+file.Filename, nil, headers)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, data)
	}
}

func TestTrailIsAppendOnly(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	headers := authHeaders(t, "editor", "")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/history", map[string]any{
		"file":    "app/main.go",
		"success": true,
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("append status %d: %s", res.StatusCode, data)
	}
	var item domain.EditHistoryItem
	if err := json.Unmarshal(data, &item); err != nil {
		t.Fatalf("unmarshal edit: %v", err)
	}
	if item.Agent != "editor" {
		t.Fatalf("expected agent from actor, got %q", item.Agent)
	}

	for _, p := range []string{"/v0/history", "/v0/logs"} {
		res, data = doJSON(t, client, http.MethodDelete, srv.URL+p, nil, headers)
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("DELETE %s: expected 403, got %d: %s", p, res.StatusCode, data)
		}
		if code := decodeError(t, data).Code; code != "policy_violation" {
			t.Fatalf("DELETE %s: expected policy_violation, got %q", p, code)
		}
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/history", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, data)
	}
	var items []domain.EditHistoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("history must survive a clear request, got %d items", len(items))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/logs", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("logs status %d: %s", res.StatusCode, data)
	}
	var logs []domain.LogEntry
	if err := json.Unmarshal(data, &logs); err != nil {
		t.Fatalf("unmarshal logs: %v", err)
	}
	// edit.recorded plus two denied clears
	if len(logs) != 3 || logs[0].Action != "trail.clear_denied" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}

func TestAgentsHeartbeat(t *testing.T) {
	srv := newTestServer(t)
	headers := authHeaders(t, "ops", "")
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/agents/worker-1/heartbeat", map[string]any{"name": "Worker"}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/agents", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("agents status %d: %s", res.StatusCode, data)
	}
	var agents []domain.Agent
	if err := json.Unmarshal(data, &agents); err != nil {
		t.Fatalf("unmarshal agents: %v", err)
	}
	if len(agents) != 1 || agents[0].Status != domain.AgentOnline {
		t.Fatalf("unexpected agents %+v", agents)
	}
}

func TestPreflightLiveRequiresBase(t *testing.T) {
	srv := newTestServer(t)
	srv.Engine.Config.Preflight.APIBase = ""
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/run-preflight", map[string]any{}, authHeaders(t, "ops", ""))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/run-preflight", map[string]any{"isolated": true}, authHeaders(t, "ops", ""))
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a sandbox, got %d: %s", res.StatusCode, data)
	}
}

func TestPreflightInfo(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/preflight-info", nil, authHeaders(t, "ops", ""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var info map[string]any
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("unmarshal preflight info: %v", err)
	}
	for _, key := range []string{"script_path", "command", "command_destructive", "command_use_existing", "notes"} {
		if s, _ := info[key].(string); s == "" {
			t.Fatalf("preflight info missing %q: %s", key, data)
		}
	}
	if info["command"] != "janitor preflight" {
		t.Fatalf("unexpected command %v", info["command"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "janitor_ws_clients") {
		t.Fatalf("expected janitor metrics in exposition")
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, authHeaders(t, "ops", ""))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	for _, p := range []string{"/v0/wizard/fix", "/v0/run-preflight", "/v0/backups/{filename}", "X-Tenant-ID", "apiKeyAuth"} {
		if !strings.Contains(string(data), p) {
			t.Fatalf("openapi missing %s", p)
		}
	}
}

func TestWebsocketReceivesRunNotifications(t *testing.T) {
	srv := newTestServer(t)
	headers := authHeaders(t, "ops", "")
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/events/ws"
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, h)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/wizard", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("wizard status %d: %s", res.StatusCode, data)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var n engine.Notification
	if err := conn.ReadJSON(&n); err != nil {
		t.Fatalf("read notification: %v", err)
	}
	if n.Kind != engine.KindWizard || n.Tenant != engine.DefaultTenant {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestWebsocketRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/events/ws"
	_, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial to fail without credentials")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake response, got %+v", res)
	}
}

func TestWebsocketAcceptsQueryToken(t *testing.T) {
	srv := newTestServer(t)
	token, err := SignToken(testSecret, "browser", "acme", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/events/ws?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	_, res, err := websocket.DefaultDialer.Dial(wsURL+"x", nil)
	if err == nil || res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a tampered token, got %v %+v", err, res)
	}
}

func TestWebhookDispatcherSignsAndFilters(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []repo.TenantLogEntry
		sigOK    = true
	)
	hookSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		if r.Header.Get(HeaderWebhookSignature) != "sha256="+Sign("hook-secret", body) {
			sigOK = false
		}
		var entry repo.TenantLogEntry
		json.Unmarshal(body, &entry)
		received = append(received, entry)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hookSrv.Close()

	d := NewWebhookDispatcher(srv.Engine.Repo, []config.WebhookConfig{{
		URL:    hookSrv.URL,
		Secret: "hook-secret",
		Events: []string{"backups.*"},
	}}, nil)
	// prime the cursor so earlier history is not replayed
	d.DispatchAll(ctx)

	if _, err := srv.Engine.AppendEdit(ctx, "", engine.EditInput{File: "a.txt", Success: true}); err != nil {
		t.Fatalf("append edit: %v", err)
	}
	if _, err := srv.Engine.Cleanup(ctx, "acme", nil); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one filtered delivery, got %+v", received)
	}
	if received[0].Action != "backups.cleanup" || received[0].Tenant != "acme" {
		t.Fatalf("unexpected delivery %+v", received[0])
	}
	if !sigOK {
		t.Fatalf("signature mismatch")
	}
}

func TestActionFilter(t *testing.T) {
	cases := []struct {
		filter []string
		action string
		want   bool
	}{
		{nil, "audit.run", true},
		{[]string{"*"}, "audit.run", true},
		{[]string{"wizard.run"}, "wizard.run", true},
		{[]string{"wizard.run"}, "wizard.fix", false},
		{[]string{"wizard.*"}, "wizard.fix", true},
		{[]string{"wizard.*"}, "backups.cleanup", false},
	}
	for _, tc := range cases {
		if got := newActionFilter(tc.filter).match(tc.action); got != tc.want {
			t.Fatalf("filter %v action %s: got %v want %v", tc.filter, tc.action, got, tc.want)
		}
	}
}

func TestStatusMetricsTrackRecentRuns(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	headers := authHeaders(t, "ops", "")
	ctx := context.Background()

	metrics := func() map[string]any {
		t.Helper()
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/status", nil, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", res.StatusCode, data)
		}
		var body struct {
			Metrics map[string]any `json:"metrics"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("unmarshal status: %v", err)
		}
		return body.Metrics
	}

	m := metrics()
	for _, key := range []string{"last_audit", "last_preflight", "last_preflight_status", "findings_count", "recent_edits", "system_health"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("metrics missing %q: %v", key, m)
		}
	}
	if m["last_audit"] != nil || m["last_preflight"] != nil || m["system_health"] != engine.SystemHealthUnknown {
		t.Fatalf("unexpected metrics before any run: %v", m)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/wizard", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("wizard status %d: %s", res.StatusCode, data)
	}
	var wr domain.WizardResult
	if err := json.Unmarshal(data, &wr); err != nil {
		t.Fatalf("unmarshal wizard: %v", err)
	}
	if _, err := srv.Engine.AppendEdit(ctx, "default", engine.EditInput{File: "main.go", Agent: "ops", Success: true}); err != nil {
		t.Fatalf("append edit: %v", err)
	}
	pf := domain.PreflightResult{ID: "p1", Status: domain.PreflightFail, Timestamp: "2024-05-01T00:00:00Z", Failures: 1}
	if err := srv.Engine.Repo.InsertPreflightRun(ctx, nil, "default", pf); err != nil {
		t.Fatalf("insert preflight: %v", err)
	}

	m = metrics()
	if m["last_audit"] == nil {
		t.Fatalf("expected last_audit after a wizard pass: %v", m)
	}
	if m["system_health"] != wr.Summary.Status {
		t.Fatalf("expected system_health %q, got %v", wr.Summary.Status, m["system_health"])
	}
	runs, err := srv.Engine.WizardHistory(ctx, "default", 1)
	if err != nil || len(runs) != 1 {
		t.Fatalf("wizard history: %v %v", runs, err)
	}
	if m["findings_count"] != float64(runs[0].FindingsCount) {
		t.Fatalf("expected findings_count %d, got %v", runs[0].FindingsCount, m["findings_count"])
	}
	if m["recent_edits"] != float64(1) {
		t.Fatalf("expected one recent edit, got %v", m["recent_edits"])
	}
	if m["last_preflight"] != pf.Timestamp || m["last_preflight_status"] != domain.PreflightFail {
		t.Fatalf("unexpected preflight metrics: %v", m)
	}
}
