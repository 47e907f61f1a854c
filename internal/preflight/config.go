// Package preflight runs synthetic end-to-end checks against a running
// Janitor API, either a throwaway sandbox or the live deployment.
package preflight

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"janitor/internal/apperr"
)

// Config selects what a preflight run does.
type Config struct {
	Isolated         bool   `json:"isolated"`
	SkipOAuth        bool   `json:"skip_oauth"`
	OpenBrowser      bool   `json:"open_browser"`
	AllowDestructive bool   `json:"allow_destructive"`
	APIBase          string `json:"api_base" validate:"omitempty,http_url"`
}

var validate = validator.New()

// Validate checks cfg. A live run needs an http(s) API base.
func (c Config) Validate() error {
	if !c.Isolated && strings.TrimSpace(c.APIBase) == "" {
		return apperr.ValidationError{Field: "api_base", Message: "required when not isolated"}
	}
	if c.Isolated {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validationf("api_base", "must be an http(s) URL, got %q", c.APIBase)
		}
		return err
	}
	return nil
}

// Endpoint is an API the runner talks to.
type Endpoint struct {
	BaseURL string
	Tenant  string
	Token   string
	APIKey  string
}

// Sandbox is an isolated API instance with its own store and backups.
type Sandbox interface {
	Endpoint() Endpoint
	Close() error
}

type SandboxFactory func(ctx context.Context) (Sandbox, error)
