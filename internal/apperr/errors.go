package apperr

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError indicates bad caller input. Nothing was changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NotFoundError indicates a named resource does not exist.
type NotFoundError struct {
	Kind string
	Name string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

// RunInProgressError is returned when a tenant already has a wizard, fix or
// preflight run holding the run lock.
type RunInProgressError struct {
	Tenant string
	Kind   string
	Since  time.Time
}

func (e RunInProgressError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("a run is already in progress for tenant %s", e.Tenant)
	}
	return fmt.Sprintf("%s run already in progress for tenant %s", e.Kind, e.Tenant)
}

// SandboxError reports that the isolated preflight environment could not be
// prepared. It is distinct from a preflight run that executed and failed.
type SandboxError struct {
	Err error
}

func (e SandboxError) Error() string {
	return "sandbox unavailable: " + e.Err.Error()
}

func (e SandboxError) Unwrap() error { return e.Err }

// PolicyViolation is returned when an operation is forbidden by invariant,
// such as clearing the append-only trail.
type PolicyViolation struct {
	Policy  string
	Message string
}

func (e PolicyViolation) Error() string {
	if e.Message == "" {
		return "policy violation: " + e.Policy
	}
	return fmt.Sprintf("policy violation (%s): %s", e.Policy, e.Message)
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: strings.TrimSpace(fmt.Sprintf(format, args...))}
}
