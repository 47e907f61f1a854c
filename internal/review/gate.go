// Package review is the pre-write code review gate. A review with any
// blocker concern is not approved; warnings are advisory.
package review

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"janitor/internal/domain"
)

// Rule names reported in concerns.
const (
	RuleDangerousCommand = "dangerous_command"
	RuleBlockedPath      = "blocked_path"
	RulePathTraversal    = "path_traversal"
	RuleSecret           = "hardcoded_secret"
	RuleSyntax           = "syntax_error"
	RuleSize             = "size_limit"
	RuleEmpty            = "empty_content"
)

const (
	DefaultReviewer = "janitor"
	DefaultMaxBytes = 256 * 1024
	DefaultMaxLines = 5000
)

type Options struct {
	Reviewer     string
	MaxBytes     int
	MaxLines     int
	BlockedPaths []string
	// RulesFile optionally replaces the danger patterns and extends the
	// blocked paths.
	RulesFile string
	Now       func() time.Time
}

type Gate struct {
	reviewer string
	maxBytes int
	maxLines int
	danger   []compiledPattern
	paths    []pathRule
	now      func() time.Time
}

func NewGate(opts Options) (*Gate, error) {
	rules, err := LoadRules(opts.RulesFile)
	if err != nil {
		return nil, err
	}
	patterns := DefaultDangerPatterns()
	if len(rules.Rules.DangerPatterns) > 0 {
		patterns = rules.Rules.DangerPatterns
	}
	danger, err := compileDanger(patterns)
	if err != nil {
		return nil, err
	}
	globs := opts.BlockedPaths
	if len(globs) == 0 {
		globs = DefaultBlockedPaths()
	}
	globs = append(append([]string{}, globs...), rules.Rules.BlockedPaths...)
	paths, err := compilePaths(globs)
	if err != nil {
		return nil, err
	}
	g := &Gate{
		reviewer: opts.Reviewer,
		maxBytes: opts.MaxBytes,
		maxLines: opts.MaxLines,
		danger:   danger,
		paths:    paths,
		now:      opts.Now,
	}
	if g.reviewer == "" {
		g.reviewer = DefaultReviewer
	}
	if g.maxBytes <= 0 {
		g.maxBytes = DefaultMaxBytes
	}
	if g.maxLines <= 0 {
		g.maxLines = DefaultMaxLines
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g, nil
}

// Review checks proposed content for filePath.
func (g *Gate) Review(filePath, content string) domain.ReviewResult {
	return g.ReviewAs(g.reviewer, filePath, content)
}

func (g *Gate) ReviewAs(reviewer, filePath, content string) domain.ReviewResult {
	var concerns []domain.ReviewConcern
	concerns = append(concerns, g.checkPath(filePath)...)
	concerns = append(concerns, g.checkSize(filePath, content)...)
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		concerns = append(concerns, g.checkLine(filePath, i+1, line)...)
	}
	if c, ok := checkSyntax(context.Background(), filePath, []byte(content)); ok {
		concerns = append(concerns, c)
	}
	return g.result(reviewer, concerns)
}

func (g *Gate) result(reviewer string, concerns []domain.ReviewConcern) domain.ReviewResult {
	if reviewer == "" {
		reviewer = g.reviewer
	}
	sort.SliceStable(concerns, func(i, j int) bool {
		return rank(concerns[i].Severity) < rank(concerns[j].Severity)
	})
	res := domain.ReviewResult{
		Concerns:   concerns,
		ReviewedAt: g.now().UTC().Format(time.RFC3339),
		ReviewedBy: reviewer,
	}
	if res.Concerns == nil {
		res.Concerns = []domain.ReviewConcern{}
	}
	for _, c := range concerns {
		if c.Severity == domain.ConcernBlocker {
			res.BlockerCount++
		} else {
			res.WarningCount++
		}
	}
	res.Approved = res.BlockerCount == 0
	return res
}

func rank(severity string) int {
	if severity == domain.ConcernBlocker {
		return 0
	}
	return 1
}

func (g *Gate) checkPath(filePath string) []domain.ReviewConcern {
	raw := strings.ReplaceAll(strings.TrimSpace(filePath), "\\", "/")
	if raw == "" {
		return []domain.ReviewConcern{{
			Severity: domain.ConcernWarning,
			Rule:     RuleBlockedPath,
			Issue:    "no file path given",
		}}
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return []domain.ReviewConcern{{
				Severity: domain.ConcernBlocker,
				Rule:     RulePathTraversal,
				Issue:    "path escapes the workspace",
				File:     filePath,
			}}
		}
	}
	clean := path.Clean(raw)
	for _, r := range g.paths {
		if r.matches(clean) {
			return []domain.ReviewConcern{{
				Severity: domain.ConcernBlocker,
				Rule:     RuleBlockedPath,
				Issue:    "writes to protected path (" + r.glob + ")",
				File:     filePath,
			}}
		}
	}
	return nil
}

func (g *Gate) checkSize(filePath, content string) []domain.ReviewConcern {
	var out []domain.ReviewConcern
	if strings.TrimSpace(content) == "" {
		out = append(out, domain.ReviewConcern{
			Severity: domain.ConcernWarning,
			Rule:     RuleEmpty,
			Issue:    "content is empty",
			File:     filePath,
		})
		return out
	}
	if len(content) > g.maxBytes {
		out = append(out, domain.ReviewConcern{
			Severity: domain.ConcernBlocker,
			Rule:     RuleSize,
			Issue:    "content exceeds " + strconv.Itoa(g.maxBytes) + " bytes",
			File:     filePath,
		})
	}
	if n := strings.Count(content, "\n") + 1; n > g.maxLines {
		out = append(out, domain.ReviewConcern{
			Severity: domain.ConcernWarning,
			Rule:     RuleSize,
			Issue:    "content has " + strconv.Itoa(n) + " lines (limit " + strconv.Itoa(g.maxLines) + ")",
			File:     filePath,
		})
	}
	return out
}

func (g *Gate) checkLine(filePath string, lineNo int, line string) []domain.ReviewConcern {
	var out []domain.ReviewConcern
	blocked := false
	for _, p := range g.danger {
		if !p.re.MatchString(line) {
			continue
		}
		sev := severityOf(p.rule.Level)
		// a line already blocked does not also need the generic warning
		if blocked && sev == domain.ConcernWarning {
			continue
		}
		if sev == domain.ConcernBlocker {
			blocked = true
		}
		out = append(out, domain.ReviewConcern{
			Severity: sev,
			Rule:     RuleDangerousCommand,
			Issue:    p.rule.Message,
			File:     filePath,
			Line:     lineNo,
		})
	}
	for _, s := range secretPatterns {
		if !s.re.MatchString(line) {
			continue
		}
		sev := domain.ConcernWarning
		if s.blocker {
			sev = domain.ConcernBlocker
		}
		out = append(out, domain.ReviewConcern{
			Severity: sev,
			Rule:     RuleSecret,
			Issue:    "possible " + strings.ReplaceAll(s.name, "_", " ") + " in content",
			File:     filePath,
			Line:     lineNo,
		})
	}
	return out
}
