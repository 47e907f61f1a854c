package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"janitor/internal/config"
	"janitor/internal/observability"
	"janitor/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookBatch    = 100
)

// Webhook delivery headers.
const (
	HeaderWebhookAction    = "X-Janitor-Action"
	HeaderWebhookDelivery  = "X-Janitor-Delivery"
	HeaderWebhookTenant    = "X-Janitor-Tenant"
	HeaderWebhookSignature = "X-Janitor-Signature"
)

// WebhookDispatcher follows the activity log and posts every new entry to
// the configured hooks. Each hook keeps its own cursor and stops at the
// first failed delivery so nothing is skipped.
type WebhookDispatcher struct {
	repo     repo.Repo
	webhooks []config.WebhookConfig
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger
	mu       sync.Mutex
	cursors  map[int]int64
}

func NewWebhookDispatcher(r repo.Repo, hooks []config.WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		repo:     r,
		webhooks: hooks,
		interval: defaultWebhookInterval,
		client:   &http.Client{},
		logger:   logger,
		cursors:  make(map[int]int64),
	}
}

// Run polls until ctx is done. It returns immediately when no hook is
// enabled.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if !d.anyEnabled() {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *WebhookDispatcher) anyEnabled() bool {
	for _, hook := range d.webhooks {
		if hook.HookEnabled() && strings.TrimSpace(hook.URL) != "" {
			return true
		}
	}
	return false
}

// DispatchAll makes one delivery pass over every enabled hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if !hook.HookEnabled() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	entries, err := d.repo.LogsAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.logger.Warn("webhook: fetch activity failed", "err", err)
		return
	}
	filter := newActionFilter(hook.Events)
	for _, entry := range entries {
		if !filter.match(entry.Action) {
			d.setCursor(idx, entry.ID)
			continue
		}
		if err := d.post(ctx, hook, entry); err != nil {
			observability.WebhookDeliveries.WithLabelValues(observability.OutcomeError).Inc()
			d.logger.Warn("webhook: delivery failed", "url", hook.URL, "id", entry.ID, "err", err)
			return
		}
		observability.WebhookDeliveries.WithLabelValues(observability.OutcomeSuccess).Inc()
		d.setCursor(idx, entry.ID)
	}
}

// cursorFor starts new hooks at the current end of the log; history is not
// replayed.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.repo.LatestLogID(ctx)
	if err != nil {
		d.logger.Warn("webhook: init cursor failed", "err", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, entry repo.TenantLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, hook.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookAction, entry.Action)
	req.Header.Set(HeaderWebhookDelivery, fmt.Sprintf("%d", entry.ID))
	req.Header.Set(HeaderWebhookTenant, entry.Tenant)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set(HeaderWebhookSignature, "sha256="+Sign(hook.Secret, data))
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret, as sent in the
// signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// actionFilter matches activity actions. An entry ending in ".*" matches
// the whole family, e.g. "backups.*".
type actionFilter struct {
	all      bool
	set      map[string]struct{}
	prefixes []string
}

func newActionFilter(actions []string) actionFilter {
	f := actionFilter{set: make(map[string]struct{})}
	for _, a := range actions {
		key := strings.TrimSpace(a)
		switch {
		case key == "":
		case key == "*":
			return actionFilter{all: true}
		case strings.HasSuffix(key, ".*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(key, "*"))
		default:
			f.set[key] = struct{}{}
		}
	}
	if len(f.set) == 0 && len(f.prefixes) == 0 {
		return actionFilter{all: true}
	}
	return f
}

func (f actionFilter) match(action string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[action]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(action, p) {
			return true
		}
	}
	return false
}
