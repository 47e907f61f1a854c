package review

import (
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"janitor/internal/apperr"
	"janitor/internal/domain"
)

// ReviewPatch reviews a unified diff. Only added lines are scanned; each
// touched file is checked against the blocked paths, deletions included.
func (g *Gate) ReviewPatch(reviewer, patch string) (domain.ReviewResult, error) {
	if strings.TrimSpace(patch) == "" {
		return domain.ReviewResult{}, apperr.ValidationError{Field: "patch", Message: "patch is empty"}
	}
	files, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return domain.ReviewResult{}, apperr.Validationf("patch", "invalid unified diff: %v", err)
	}
	if len(files) == 0 {
		return domain.ReviewResult{}, apperr.ValidationError{Field: "patch", Message: "patch touches no files"}
	}
	var concerns []domain.ReviewConcern
	added := 0
	for _, fd := range files {
		name := patchFileName(fd)
		concerns = append(concerns, g.checkPath(name)...)
		for _, hunk := range fd.Hunks {
			lineNo := int(hunk.NewStartLine)
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				switch {
				case strings.HasPrefix(line, "+"):
					text := line[1:]
					added += len(text) + 1
					concerns = append(concerns, g.checkLine(name, lineNo, text)...)
					lineNo++
				case strings.HasPrefix(line, " "):
					lineNo++
				}
			}
		}
	}
	if added > g.maxBytes {
		concerns = append(concerns, domain.ReviewConcern{
			Severity: domain.ConcernBlocker,
			Rule:     RuleSize,
			Issue:    "patch adds more than the byte limit",
		})
	}
	return g.result(reviewer, concerns), nil
}

func patchFileName(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == "/dev/null" {
		name = fd.OrigName
	}
	for _, prefix := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, prefix) {
			return strings.TrimPrefix(name, prefix)
		}
	}
	return name
}
