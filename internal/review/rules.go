package review

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"janitor/internal/domain"
)

// DangerPattern is a regex rule matched line by line against new content.
type DangerPattern struct {
	Pattern string `yaml:"pattern"`
	Level   string `yaml:"level"`
	Message string `yaml:"message"`
}

// RulesFile is the YAML schema of a rules override file.
type RulesFile struct {
	Rules struct {
		DangerPatterns []DangerPattern `yaml:"danger_patterns"`
		BlockedPaths   []string        `yaml:"blocked_paths"`
	} `yaml:"rules"`
}

type compiledPattern struct {
	re   *regexp.Regexp
	rule DangerPattern
}

// LoadRules reads a rules file. A missing path yields an empty file.
func LoadRules(path string) (RulesFile, error) {
	var rules RulesFile
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return rules, nil
		}
		return rules, err
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, fmt.Errorf("invalid review rules %s: %w", path, err)
	}
	return rules, nil
}

func DefaultDangerPatterns() []DangerPattern {
	return []DangerPattern{
		{Pattern: `rm\s+-[a-zA-Z]*(?:rf|fr)[a-zA-Z]*\s+(?:--no-preserve-root\s+)?/(?:$|[\s'"*;)\x60])`, Level: "blocker", Message: "Deletes the root directory"},
		{Pattern: `rm\s+-[a-zA-Z]*(?:rf|fr)[a-zA-Z]*\s+(?:~|\$HOME)(?:/)?(?:$|[\s'";)])`, Level: "blocker", Message: "Deletes the home directory"},
		{Pattern: `rm\s+-[a-zA-Z]*(?:rf|fr)[a-zA-Z]*\s+\*`, Level: "blocker", Message: "Recursive delete of everything"},
		{Pattern: `\bdd\s+if=`, Level: "blocker", Message: "Raw disk writing"},
		{Pattern: `\bmkfs\.`, Level: "blocker", Message: "Formatting filesystem"},
		{Pattern: `>\s*/dev/(?:sd[a-z]|nvme\d|hd[a-z]|disk\d)`, Level: "blocker", Message: "Writing to block device"},
		{Pattern: `:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`, Level: "blocker", Message: "Fork bomb"},
		{Pattern: `(?i)\bdrop\s+(?:database|schema)\b`, Level: "blocker", Message: "Drops a database"},
		{Pattern: `(?i)shutil\.rmtree\(\s*['"](?:/|~)['"]`, Level: "blocker", Message: "Recursive delete of root or home"},
		{Pattern: `os\.RemoveAll\(\s*"/"\s*\)`, Level: "blocker", Message: "Recursive delete of root"},
		{Pattern: `(?i)\btruncate\s+table\b`, Level: "warning", Message: "Truncates a table"},
		{Pattern: `(?i)\bdrop\s+table\b`, Level: "warning", Message: "Drops a table"},
		{Pattern: `rm\s+-[a-zA-Z]*(?:rf|fr)`, Level: "warning", Message: "Recursive forced delete"},
		{Pattern: `chmod\s+(?:-R\s+)?777`, Level: "warning", Message: "Overly permissive chmod"},
		{Pattern: `(?:curl|wget)[^|]*\|\s*(?:sudo\s+)?(?:ba|z)?sh\b`, Level: "warning", Message: "Pipes a remote script to a shell"},
		{Pattern: `(?:curl|wget).*\|\s*sudo`, Level: "warning", Message: "Pipes a remote script to sudo"},
		{Pattern: `\bgit\s+push\s+.*--force\b`, Level: "warning", Message: "Force push"},
	}
}

func DefaultBlockedPaths() []string {
	return []string{".env", ".env.*", "*.pem", "*.key", "id_rsa*", ".git/**", "/etc/**"}
}

type secretPattern struct {
	name    string
	re      *regexp.Regexp
	blocker bool
}

var secretPatterns = []secretPattern{
	{name: "aws_access_key", re: regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`)},
	{name: "private_key", re: regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`), blocker: true},
	{name: "stripe_live_key", re: regexp.MustCompile(`sk_live_[0-9a-zA-Z]{24,}`)},
	{name: "github_token", re: regexp.MustCompile(`gh[pousr]_[A-Za-z0-9_]{36,}`)},
	{name: "generic_api_key", re: regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|secret[_-]?key|access[_-]?token)['"]?\s*[:=]\s*['"][a-zA-Z0-9_\-]{20,}['"]`)},
	{name: "password", re: regexp.MustCompile(`(?i)(?:password|passwd|pwd)\s*[=:]\s*['"][^'"]{8,}['"]`)},
	{name: "connection_string", re: regexp.MustCompile(`(?i)(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis)://[^\s'"]+:[^\s'"@]+@`)},
}

func compileDanger(patterns []DangerPattern) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("danger pattern %q: %w", p.Pattern, err)
		}
		out = append(out, compiledPattern{re: re, rule: p})
	}
	return out, nil
}

func severityOf(level string) string {
	switch strings.ToLower(level) {
	case "blocker", "block", "critical", "high":
		return domain.ConcernBlocker
	default:
		return domain.ConcernWarning
	}
}

// globToRegex converts a path glob. "**" spans directories, "*" and "?" do not.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case c == '*' && i+1 < len(glob) && glob[i+1] == '*':
			b.WriteString(".*")
			i++
		case c == '*':
			b.WriteString("[^/]*")
		case c == '?':
			b.WriteString("[^/]")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	return b.String()
}

type pathRule struct {
	glob     string
	re       *regexp.Regexp
	basename bool
	anchored bool
}

func compilePaths(globs []string) ([]pathRule, error) {
	out := make([]pathRule, 0, len(globs))
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		re, err := regexp.Compile(globToRegex(strings.TrimPrefix(g, "./")))
		if err != nil {
			return nil, fmt.Errorf("blocked path %q: %w", g, err)
		}
		out = append(out, pathRule{
			glob:     g,
			re:       re,
			basename: !strings.Contains(g, "/"),
			anchored: strings.HasPrefix(g, "/"),
		})
	}
	return out, nil
}

// matches tests a slash-separated cleaned path. Relative directory globs
// match at any depth.
func (r pathRule) matches(p string) bool {
	if r.basename {
		base := p
		if i := strings.LastIndex(p, "/"); i >= 0 {
			base = p[i+1:]
		}
		return r.re.MatchString(base)
	}
	if r.anchored {
		return r.re.MatchString(p)
	}
	rel := strings.TrimPrefix(p, "/")
	for {
		if r.re.MatchString(rel) {
			return true
		}
		i := strings.Index(rel, "/")
		if i < 0 {
			return false
		}
		rel = rel[i+1:]
	}
}
