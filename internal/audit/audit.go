// Package audit runs an ordered battery of health checks and scores the result.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"janitor/internal/domain"
)

// Outcome is what a single check reports.
type Outcome struct {
	Findings []domain.Finding
	Details  map[string]any
}

// Passed is true when the outcome carries no blocker or warning findings.
func (o Outcome) Passed() bool {
	for _, f := range o.Findings {
		if f.Severity == domain.SeverityBlocker || f.Severity == domain.SeverityWarning {
			return false
		}
	}
	return true
}

type Check interface {
	Name() string
	Run(ctx context.Context) (Outcome, error)
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context) (Outcome, error)
}

func (c checkFunc) Name() string                            { return c.name }
func (c checkFunc) Run(ctx context.Context) (Outcome, error) { return c.fn(ctx) }

// NewCheck adapts a function into a Check.
func NewCheck(name string, fn func(ctx context.Context) (Outcome, error)) Check {
	return checkFunc{name: name, fn: fn}
}

// Runner executes checks in order. A failing or panicking check becomes a P1
// finding for its own domain; later checks still run.
type Runner struct {
	Checks []Check
	Now    func() time.Time
	Logger *slog.Logger
}

// Report is the full audit output including per-check details.
type Report struct {
	Result  domain.AuditResult
	Details map[string]map[string]any
}

func (r Runner) Run(ctx context.Context) Report {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rep := Report{
		Result: domain.AuditResult{
			Timestamp: now().UTC().Format(time.RFC3339),
			Findings:  []domain.Finding{},
			Checks:    make([]domain.CheckOutcome, 0, len(r.Checks)),
		},
		Details: map[string]map[string]any{},
	}
	for _, c := range r.Checks {
		out, err := runOne(ctx, c)
		co := domain.CheckOutcome{Name: c.Name(), Details: out.Details}
		if err != nil {
			logger.Warn("audit check failed", "check", c.Name(), "err", err)
			co.Error = err.Error()
			out.Findings = append(out.Findings, domain.Finding{
				Severity: domain.SeverityBlocker,
				Domain:   c.Name(),
				Text:     fmt.Sprintf("check %s failed: %v", c.Name(), err),
				Code:     "check_error",
			})
		}
		for i := range out.Findings {
			if out.Findings[i].Domain == "" {
				out.Findings[i].Domain = c.Name()
			}
		}
		co.Passed = err == nil && out.Passed()
		co.Findings = len(out.Findings)
		if co.Passed {
			rep.Result.ChecksPassed++
		}
		rep.Result.ChecksTotal++
		rep.Result.Findings = append(rep.Result.Findings, out.Findings...)
		rep.Result.Checks = append(rep.Result.Checks, co)
		if out.Details != nil {
			rep.Details[c.Name()] = out.Details
		}
	}
	rep.Result.HealthScore = Score(rep.Result.ChecksPassed, rep.Result.ChecksTotal)
	rep.Result.Status = StatusForScore(rep.Result.HealthScore)
	return rep
}

func runOne(ctx context.Context, c Check) (out Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = Outcome{}
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	return c.Run(ctx)
}

// Score is round(100*passed/total); an empty battery scores 0.
func Score(passed, total int) int {
	if total <= 0 {
		return 0
	}
	if passed < 0 {
		passed = 0
	}
	if passed > total {
		passed = total
	}
	return int(math.Round(100 * float64(passed) / float64(total)))
}

func StatusForScore(score int) string {
	switch {
	case score >= 80:
		return domain.HealthHealthy
	case score >= 50:
		return domain.HealthNeedsAttention
	default:
		return domain.HealthCritical
	}
}
