package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"janitor/internal/apperr"
	"janitor/internal/config"
	"janitor/internal/domain"
	"janitor/internal/engine"
	"janitor/internal/observability"
	"janitor/internal/preflight"
	"janitor/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	// RateLimit overrides the engine config's rate_limit section.
	RateLimit *config.RateLimitConfig
	// Hub receives run notifications. A new hub is created when nil, and
	// it becomes the engine's notifier unless one is already set.
	Hub    *Hub
	Logger *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"run_in_progress"`
	Message string         `json:"message" example:"wizard run already in progress for tenant default"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"wizard\"}"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

type handlers struct {
	e       engine.Engine
	limiter *runLimiter
	logger  *slog.Logger
}

// New returns an HTTP handler exposing the janitor API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Engine.Config == nil {
		return nil, errors.New("server: engine config is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" && !cfg.Auth.AllowAnonymous {
		logger.Warn("no jwt secret configured; only api keys will authenticate")
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewHub(logger)
	}
	e := cfg.Engine
	if e.Notify == nil {
		e.Notify = hub
	}
	rl := e.Config.RateLimit
	if cfg.RateLimit != nil {
		rl = *cfg.RateLimit
	}
	h := &handlers{e: e, limiter: newRunLimiter(rl), logger: logger}

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			// Schema/request validation errors are plain bad requests here
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, e.Repo))
	hcfg := huma.DefaultConfig("Janitor API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	router.Handle("/metrics", promhttp.Handler())
	router.Get(path.Join(basePath, "events/ws"), hub.serveWS)
	registerHealth(group)
	registerStatus(group, h)
	registerAudit(group, h)
	registerWizard(group, h)
	registerReview(group, h)
	registerPreflight(group, h)
	registerBackups(group, h)
	registerTrail(group, h)
	registerAgents(group, h)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var ve apperr.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var nf apperr.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "name": nf.Name})
	}
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var rp apperr.RunInProgressError
	if errors.As(err, &rp) {
		details := map[string]any{"tenant": rp.Tenant}
		if rp.Kind != "" {
			details["kind"] = rp.Kind
		}
		if !rp.Since.IsZero() {
			details["since"] = rp.Since.UTC().Format(time.RFC3339)
		}
		return newAPIError(http.StatusConflict, "run_in_progress", err.Error(), details)
	}
	var sb apperr.SandboxError
	if errors.As(err, &sb) {
		return newAPIError(http.StatusServiceUnavailable, "sandbox_unavailable", err.Error(), nil)
	}
	var pv apperr.PolicyViolation
	if errors.As(err, &pv) {
		return newAPIError(http.StatusForbidden, "policy_violation", err.Error(), map[string]any{"policy": pv.Policy})
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newAPIError(http.StatusGatewayTimeout, "timeout", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// allowRun applies the per-tenant run trigger limit.
func (h *handlers) allowRun(tenant, kind string) huma.StatusError {
	ok, wait := h.limiter.Allow(tenant)
	if ok {
		return nil
	}
	observability.RunsRejected.WithLabelValues(kind, "rate_limited").Inc()
	retry := int(math.Ceil(wait.Seconds()))
	return newAPIError(http.StatusTooManyRequests, "rate_limited",
		fmt.Sprintf("too many %s runs for tenant %s; retry in %ds", kind, tenant, retry),
		map[string]any{"retry_after_seconds": retry})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var (
		once sync.Once
		doc  []byte
	)
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			decorateOpenAPI(oas, basePath)
			doc, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(doc)
	})
}

var (
	bearerAuth = map[string][]string{"bearerAuth": {}}
	apiKeyAuth = map[string][]string{"apiKeyAuth": {}}
)

// decorateOpenAPI documents the error envelope, both credential schemes and
// the tenant header on every operation except health.
func decorateOpenAPI(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{Type: "apiKey", In: "header", Name: "X-Api-Key"}
	security := []map[string][]string{bearerAuth, apiKeyAuth}
	oas.Security = security

	errResp := &huma.Response{
		Description: "Error envelope",
		Content: map[string]*huma.MediaType{
			"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
		},
	}
	tenantParam := &huma.Param{
		Name:        TenantHeader,
		In:          "header",
		Description: "Tenant to act on; must match the tenant bound to the credential",
		Schema:      &huma.Schema{Type: "string"},
	}
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = errResp
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
			op.Parameters = append(op.Parameters, tenantParam)
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Janitor API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key. Pick a tenant with X-Tenant-ID.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: HealthResponse{Status: "ok"}}, nil
	})
}

func registerStatus(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Service identity, uptime and tenant counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Status `json:"body"`
	}, error) {
		st, err := h.e.Status(ctx, tenantFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Status `json:"body"`
		}{Body: st}, nil
	})
}

func registerAudit(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Run the health audit",
		Description: "Runs every check once and returns a scored report. A low score is still a 200.",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.AuditResult `json:"body"`
	}, error) {
		res, err := h.e.RunAudit(ctx, tenantFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.AuditResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerWizard(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "run-wizard",
		Method:      http.MethodPost,
		Path:        "/wizard",
		Summary:     "Run the wizard",
		Errors: []int{
			http.StatusConflict,
			http.StatusTooManyRequests,
			http.StatusGatewayTimeout,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.WizardResult `json:"body"`
	}, error) {
		tenant := tenantFromContext(ctx)
		if err := h.allowRun(tenant, engine.KindWizard); err != nil {
			return nil, err
		}
		res, err := h.e.RunWizard(ctx, tenant)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WizardResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "wizard-history",
		Method:      http.MethodGet,
		Path:        "/wizard/history",
		Summary:     "List past wizard runs, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"0"`
	}) (*struct {
		Body []domain.WizardRun `json:"body"`
	}, error) {
		runs, err := h.e.WizardHistory(ctx, tenantFromContext(ctx), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WizardRun `json:"body"`
		}{Body: nonNil(runs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-fix",
		Method:      http.MethodPost,
		Path:        "/wizard/fix",
		Summary:     "Apply a remediation and re-run the wizard",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body FixRequest `json:"body"`
	}) (*struct {
		Body engine.FixResult `json:"body"`
	}, error) {
		tenant := tenantFromContext(ctx)
		if err := h.allowRun(tenant, engine.KindFix); err != nil {
			return nil, err
		}
		res, err := h.e.ApplyFix(ctx, tenant, input.Body.Action, input.Body.Params)
		if err != nil {
			if res.RemediationError != "" {
				h.logger.Warn("remediation failed", "action", res.Action, "tenant", tenant, "err", res.RemediationError)
				// the wizard still ran; hand its run id back with the failure
				return nil, newAPIError(http.StatusInternalServerError, "remediation_failed", res.RemediationError, map[string]any{
					"action":        res.Action,
					"wizard_run_id": res.Wizard.RunID,
				})
			}
			return nil, handleError(err)
		}
		return &struct {
			Body engine.FixResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerReview(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "review",
		Method:      http.MethodPost,
		Path:        "/review",
		Summary:     "Review a proposed file edit",
		Description: "Evaluates the content without applying it. approved is false when any blocker is found.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body domain.ReviewResult `json:"body"`
	}, error) {
		res := h.e.Review(actorFromContext(ctx), input.Body.FilePath, input.Body.NewContent)
		return &struct {
			Body domain.ReviewResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-patch",
		Method:      http.MethodPost,
		Path:        "/review/patch",
		Summary:     "Review the added lines of a unified diff",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body ReviewPatchRequest `json:"body"`
	}) (*struct {
		Body domain.ReviewResult `json:"body"`
	}, error) {
		res, err := h.e.ReviewPatch(actorFromContext(ctx), input.Body.Patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ReviewResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerPreflight(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "preflight-info",
		Method:      http.MethodGet,
		Path:        "/preflight-info",
		Summary:     "Manual CLI equivalent of a preflight run",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body preflight.Manual `json:"body"`
	}, error) {
		return &struct {
			Body preflight.Manual `json:"body"`
		}{Body: h.e.PreflightInfo()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-preflight",
		Method:      http.MethodPost,
		Path:        "/run-preflight",
		Summary:     "Run the preflight checks",
		Description: "A run that executes and fails is a 200 with status fail. 503 means the isolated sandbox could not start.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusTooManyRequests,
			http.StatusServiceUnavailable,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body PreflightRequest `json:"body" required:"false"`
	}) (*struct {
		Body PreflightResponse `json:"body"`
	}, error) {
		tenant := tenantFromContext(ctx)
		if err := h.allowRun(tenant, engine.KindPreflight); err != nil {
			return nil, err
		}
		res, err := h.e.RunPreflight(ctx, tenant, input.Body.config())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PreflightResponse `json:"body"`
		}{Body: PreflightResponse{Result: res}}, nil
	})
}

func registerBackups(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "cleanup-backups",
		Method:      http.MethodPost,
		Path:        "/cleanup",
		Summary:     "Delete backups older than the retention window",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		DaysToKeep string `query:"days_to_keep" doc:"Retention in days; defaults to the configured value"`
	}) (*struct {
		Body CleanupResponse `json:"body"`
	}, error) {
		tenant := tenantFromContext(ctx)
		var days *int
		if strings.TrimSpace(input.DaysToKeep) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(input.DaysToKeep))
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "days_to_keep must be an integer",
					map[string]any{"field": "days_to_keep"})
			}
			days = &n
		}
		if err := h.allowRun(tenant, engine.KindCleanup); err != nil {
			return nil, err
		}
		res, err := h.e.Cleanup(ctx, tenant, days)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CleanupResponse `json:"body"`
		}{Body: CleanupResponse{Deleted: res.Deleted, Kept: res.Kept}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-backups",
		Method:      http.MethodGet,
		Path:        "/backups",
		Summary:     "List backups, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"0"`
	}) (*struct {
		Body []domain.BackupFile `json:"body"`
	}, error) {
		items, err := h.e.ListBackups(ctx, tenantFromContext(ctx), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.BackupFile `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "snapshot-backup",
		Method:        http.MethodPost,
		Path:          "/backups/snapshot",
		Summary:       "Snapshot the service store into the backup store",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body SnapshotRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.BackupFile `json:"body"`
	}, error) {
		label := input.Body.Label
		if label == "" {
			label = "manual"
		}
		file, err := h.e.Snapshot(ctx, tenantFromContext(ctx), label)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BackupFile `json:"body"`
		}{Body: file}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-backup",
		Method:        http.MethodDelete,
		Path:          "/backups/{filename}",
		Summary:       "Delete one backup",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Filename string `path:"filename"`
	}) (*struct{}, error) {
		if err := h.e.DeleteBackup(ctx, tenantFromContext(ctx), input.Filename); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTrail(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "List recorded file edits, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"0" doc:"0 returns the whole trail"`
	}) (*struct {
		Body []domain.EditHistoryItem `json:"body"`
	}, error) {
		items, err := h.e.ListEdits(ctx, tenantFromContext(ctx), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.EditHistoryItem `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "append-history",
		Method:        http.MethodPost,
		Path:          "/history",
		Summary:       "Record an attempted file edit",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body AppendEditRequest `json:"body"`
	}) (*struct {
		Body domain.EditHistoryItem `json:"body"`
	}, error) {
		agent := input.Body.Agent
		if agent == "" {
			agent = actorFromContext(ctx)
		}
		item, err := h.e.AppendEdit(ctx, tenantFromContext(ctx), engine.EditInput{
			File:    input.Body.File,
			Agent:   agent,
			Success: input.Body.Success,
			Reason:  input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EditHistoryItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-history",
		Method:      http.MethodDelete,
		Path:        "/history",
		Summary:     "Always refused: the edit trail is append-only",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return nil, handleError(h.e.ClearEdits(ctx, tenantFromContext(ctx)))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-logs",
		Method:      http.MethodGet,
		Path:        "/logs",
		Summary:     "List activity log entries, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"0" doc:"0 returns the whole log"`
	}) (*struct {
		Body []domain.LogEntry `json:"body"`
	}, error) {
		items, err := h.e.ListLogs(ctx, tenantFromContext(ctx), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LogEntry `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-logs",
		Method:      http.MethodDelete,
		Path:        "/logs",
		Summary:     "Always refused: the activity log is append-only",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return nil, handleError(h.e.ClearLogs(ctx, tenantFromContext(ctx)))
	})
}

func registerAgents(api huma.API, h *handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "agent-heartbeat",
		Method:      http.MethodPost,
		Path:        "/agents/{id}/heartbeat",
		Summary:     "Register an agent or refresh its heartbeat",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body HeartbeatRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.Agent `json:"body"`
	}, error) {
		a, err := h.e.Heartbeat(ctx, tenantFromContext(ctx), input.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agent `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "List known agents",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Agent `json:"body"`
	}, error) {
		items, err := h.e.ListAgents(ctx, tenantFromContext(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Agent `json:"body"`
		}{Body: nonNil(items)}, nil
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
