package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"janitor/internal/engine"
	"janitor/internal/repo"
)

// TenantHeader selects the tenant a request acts on.
const TenantHeader = "X-Tenant-ID"

type AuthConfig struct {
	JWTSecret string
	// AllowAnonymous lets unauthenticated requests through as actor
	// "anonymous". Only meant for local development.
	AllowAnonymous bool
	Logger         *slog.Logger
}

type Principal struct {
	ActorID string
	Tenant  string
	Source  string
}

type principalKey struct{}
type tenantKey struct{}

func (c AuthConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// actorFromContext returns the authenticated actor, or "" for anonymous
// requests.
func actorFromContext(ctx context.Context) string {
	if p, ok := principalFromContext(ctx); ok && p.Source != sourceAnonymous {
		return p.ActorID
	}
	return ""
}

// tenantFromContext returns the tenant resolved by the auth middleware.
func tenantFromContext(ctx context.Context) string {
	if t, ok := ctx.Value(tenantKey{}).(string); ok && t != "" {
		return t
	}
	return engine.DefaultTenant
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Tenant string `json:"tenant,omitempty"`
}

// Credential sources recorded on a Principal.
const (
	sourceJWT       = "jwt"
	sourceAPIKey    = "api_key"
	sourceAnonymous = "anonymous"
)

var (
	errNoCredentials  = errors.New("authentication required")
	errBadCredentials = errors.New("invalid credentials")
)

// authenticator resolves the caller of a request.
type authenticator struct {
	cfg    AuthConfig
	keys   repo.Repo
	parser *jwt.Parser
}

func newAuthenticator(cfg AuthConfig, keys repo.Repo) *authenticator {
	return &authenticator{
		cfg:    cfg,
		keys:   keys,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// principal checks, in order, a bearer token, an X-Api-Key header and the
// access_token query parameter that browser websocket clients use. It
// returns errNoCredentials when the request carries none.
func (a *authenticator) principal(req *http.Request) (Principal, error) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			return Principal{}, errBadCredentials
		}
		return a.token(strings.TrimSpace(token))
	}
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		return a.apiKey(req.Context(), key)
	}
	if token := req.URL.Query().Get("access_token"); token != "" {
		return a.token(token)
	}
	if a.cfg.AllowAnonymous {
		return Principal{ActorID: sourceAnonymous, Source: sourceAnonymous}, nil
	}
	return Principal{}, errNoCredentials
}

func (a *authenticator) token(raw string) (Principal, error) {
	if strings.TrimSpace(a.cfg.JWTSecret) == "" {
		return Principal{}, fmt.Errorf("%w: bearer tokens are not accepted", errBadCredentials)
	}
	var claims jwtClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	}); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", errBadCredentials, err)
	}
	if claims.Subject == "" {
		return Principal{}, fmt.Errorf("%w: token has no subject", errBadCredentials)
	}
	return Principal{ActorID: claims.Subject, Tenant: claims.Tenant, Source: sourceJWT}, nil
}

func (a *authenticator) apiKey(ctx context.Context, key string) (Principal, error) {
	k, err := a.keys.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if errors.Is(err, repo.ErrNotFound) {
		return Principal{}, fmt.Errorf("%w: unknown api key", errBadCredentials)
	}
	if err != nil {
		return Principal{}, err
	}
	return Principal{ActorID: k.ActorID, Tenant: k.TenantID, Source: sourceAPIKey}, nil
}

// SignToken mints an HS256 token for actor scoped to tenant. Tokens are
// normally issued elsewhere; this serves local tooling and the preflight
// sandbox.
func SignToken(secret, actor, tenant string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	if strings.TrimSpace(actor) == "" {
		return "", errors.New("actor required")
	}
	now := time.Now()
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  actor,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Tenant: tenant,
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// resolveTenant picks the tenant for a request. A credential bound to a
// tenant may not act on another one.
func resolveTenant(req *http.Request, p Principal) (string, huma.StatusError) {
	header := strings.TrimSpace(req.Header.Get(TenantHeader))
	switch {
	case header == "" && p.Tenant != "":
		return p.Tenant, nil
	case header == "":
		return engine.DefaultTenant, nil
	case p.Tenant != "" && header != p.Tenant:
		return "", newAPIError(http.StatusForbidden, "tenant_mismatch", "credential is not valid for this tenant",
			map[string]any{"tenant": header})
	default:
		return header, nil
	}
}

// newAuthMiddleware guards everything under basePath except health and
// stores the principal and resolved tenant on the request context.
func newAuthMiddleware(basePath string, cfg AuthConfig, keys repo.Repo) func(http.Handler) http.Handler {
	auth := newAuthenticator(cfg, keys)
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}
			p, err := auth.principal(req)
			switch {
			case errors.Is(err, errNoCredentials):
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil))
				return
			case errors.Is(err, errBadCredentials):
				cfg.logger().Debug("credentials rejected", "path", req.URL.Path, "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			case err != nil:
				cfg.logger().Error("authenticate", "err", err)
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
				return
			}
			tenant, terr := resolveTenant(req, p)
			if terr != nil {
				respondStatusError(w, terr)
				return
			}
			ctx := withPrincipal(req.Context(), p)
			ctx = context.WithValue(ctx, tenantKey{}, tenant)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
