// Package remedy holds the closed registry of remediation actions the fix
// dispatcher may run. Every handler is idempotent.
package remedy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"janitor/internal/apperr"
)

const (
	ActionCleanupBackups        = "cleanup_backups"
	ActionCreateBackup          = "create_backup"
	ActionVacuumDatabase        = "vacuum_database"
	ActionMarkStaleAgents       = "mark_stale_agents"
	ActionPurgePreflightResidue = "purge_preflight_residue"
)

// Target is the tenant-scoped system a remediation acts on.
type Target interface {
	CleanupBackups(ctx context.Context, daysToKeep int) (deleted, kept int, err error)
	// CreateBackup returns the new backup name, or "" when a fresh one already exists.
	CreateBackup(ctx context.Context, label string) (string, error)
	VacuumDatabase(ctx context.Context) error
	MarkStaleAgents(ctx context.Context) (int64, error)
	PurgePreflightResidue(ctx context.Context) (int, error)
	DefaultRetentionDays() int
}

// Outcome is what a remediation reports back.
type Outcome struct {
	Summary string         `json:"summary"`
	Changed bool           `json:"changed"`
	Data    map[string]any `json:"data,omitempty"`
}

type Handler struct {
	Action      string
	Description string
	// params decodes and validates raw params without side effects.
	params func(raw map[string]any) (any, error)
	apply  func(ctx context.Context, t Target, p any) (Outcome, error)
}

// Prepared is a validated action ready to apply.
type Prepared struct {
	Handler Handler
	Params  any
}

func (p Prepared) Apply(ctx context.Context, t Target) (Outcome, error) {
	return p.Handler.apply(ctx, t, p.Params)
}

type CleanupParams struct {
	DaysToKeep *int `json:"days_to_keep" validate:"omitempty,min=0,max=3650"`
}

type CreateBackupParams struct {
	Label string `json:"label" validate:"omitempty,max=40,printascii"`
}

type noParams struct{}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var registry = map[string]Handler{
	ActionCleanupBackups: {
		Action:      ActionCleanupBackups,
		Description: "Delete backups older than the retention window",
		params:      decoder[CleanupParams](),
		apply: func(ctx context.Context, t Target, p any) (Outcome, error) {
			params := p.(CleanupParams)
			days := t.DefaultRetentionDays()
			if params.DaysToKeep != nil {
				days = *params.DaysToKeep
			}
			deleted, kept, err := t.CleanupBackups(ctx, days)
			out := Outcome{
				Summary: fmt.Sprintf("deleted %d backup(s), kept %d", deleted, kept),
				Changed: deleted > 0,
				Data:    map[string]any{"deleted": deleted, "kept": kept, "days_to_keep": days},
			}
			return out, err
		},
	},
	ActionCreateBackup: {
		Action:      ActionCreateBackup,
		Description: "Snapshot the service store into the backup store",
		params:      decoder[CreateBackupParams](),
		apply: func(ctx context.Context, t Target, p any) (Outcome, error) {
			params := p.(CreateBackupParams)
			name, err := t.CreateBackup(ctx, params.Label)
			if err != nil {
				return Outcome{Summary: "backup failed"}, err
			}
			if name == "" {
				return Outcome{Summary: "a recent backup already exists"}, nil
			}
			return Outcome{Summary: "created backup " + name, Changed: true, Data: map[string]any{"filename": name}}, nil
		},
	},
	ActionVacuumDatabase: {
		Action:      ActionVacuumDatabase,
		Description: "Rebuild the service store to reclaim free pages",
		params:      decoder[noParams](),
		apply: func(ctx context.Context, t Target, _ any) (Outcome, error) {
			if err := t.VacuumDatabase(ctx); err != nil {
				return Outcome{Summary: "vacuum failed"}, err
			}
			return Outcome{Summary: "database vacuumed", Changed: true}, nil
		},
	},
	ActionMarkStaleAgents: {
		Action:      ActionMarkStaleAgents,
		Description: "Mark agents with stale heartbeats offline",
		params:      decoder[noParams](),
		apply: func(ctx context.Context, t Target, _ any) (Outcome, error) {
			n, err := t.MarkStaleAgents(ctx)
			if err != nil {
				return Outcome{Summary: "marking agents failed"}, err
			}
			return Outcome{Summary: fmt.Sprintf("marked %d agent(s) offline", n), Changed: n > 0, Data: map[string]any{"marked": n}}, nil
		},
	},
	ActionPurgePreflightResidue: {
		Action:      ActionPurgePreflightResidue,
		Description: "Delete backups left behind by destructive preflight checks",
		params:      decoder[noParams](),
		apply: func(ctx context.Context, t Target, _ any) (Outcome, error) {
			n, err := t.PurgePreflightResidue(ctx)
			return Outcome{Summary: fmt.Sprintf("purged %d residue backup(s)", n), Changed: n > 0, Data: map[string]any{"purged": n}}, err
		},
	},
}

// Resolves reports whether action names a registered remediation.
func Resolves(action string) bool {
	_, ok := registry[action]
	return ok
}

// Lookup returns the handler for action or a ValidationError.
func Lookup(action string) (Handler, error) {
	h, ok := registry[strings.TrimSpace(action)]
	if !ok {
		return Handler{}, apperr.ValidationError{Field: "action", Message: "unknown remediation action"}
	}
	return h, nil
}

// Prepare looks up action and validates params. It has no side effects.
func Prepare(action string, raw map[string]any) (Prepared, error) {
	h, err := Lookup(action)
	if err != nil {
		return Prepared{}, err
	}
	p, err := h.params(raw)
	if err != nil {
		return Prepared{}, err
	}
	return Prepared{Handler: h, Params: p}, nil
}

// Actions lists registered actions sorted by name.
func Actions() []Handler {
	out := make([]Handler, 0, len(registry))
	for _, h := range registry {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}

func decoder[T any]() func(map[string]any) (any, error) {
	return func(raw map[string]any) (any, error) {
		var p T
		if len(raw) > 0 {
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, apperr.Validationf("params", "invalid params: %v", err)
			}
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&p); err != nil {
				return nil, apperr.Validationf("params", "invalid params: %v", err)
			}
		}
		if err := validate.Struct(p); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) && len(verrs) > 0 {
				fe := verrs[0]
				return nil, apperr.Validationf("params."+fe.Field(), "failed %s=%s", fe.Tag(), fe.Param())
			}
			return nil, apperr.Validationf("params", "%v", err)
		}
		return p, nil
	}
}
