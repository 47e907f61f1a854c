package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorsMatchThroughWrapping(t *testing.T) {
	base := errors.New("mkdir denied")
	err := fmt.Errorf("run preflight: %w", SandboxError{Err: base})

	var sbx SandboxError
	if !errors.As(err, &sbx) {
		t.Fatalf("expected SandboxError, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause to be reachable")
	}

	err = fmt.Errorf("fix: %w", Validationf("action", "unknown remediation action %q", "frobnicate"))
	var verr ValidationError
	if !errors.As(err, &verr) || verr.Field != "action" {
		t.Fatalf("expected ValidationError on action, got %v", err)
	}
}

func TestRunInProgressMessageNamesKind(t *testing.T) {
	err := RunInProgressError{Tenant: "acme", Kind: "wizard"}
	if got := err.Error(); got != "wizard run already in progress for tenant acme" {
		t.Fatalf("unexpected message %q", got)
	}
}
