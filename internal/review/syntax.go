package review

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"gopkg.in/yaml.v3"

	"janitor/internal/domain"
)

func languageFor(filePath string) *sitter.Language {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".go":
		return golang.GetLanguage()
	case ".py":
		return python.GetLanguage()
	case ".js", ".mjs", ".cjs":
		return javascript.GetLanguage()
	}
	return nil
}

// checkSyntax parses content in the language implied by filePath. Unknown
// extensions are not checked.
func checkSyntax(ctx context.Context, filePath string, content []byte) (domain.ReviewConcern, bool) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return domain.ReviewConcern{}, false
	}
	switch strings.ToLower(path.Ext(filePath)) {
	case ".json":
		if !json.Valid(content) {
			return syntaxConcern(filePath, 0, "invalid JSON"), true
		}
		return domain.ReviewConcern{}, false
	case ".yml", ".yaml":
		var v any
		if err := yaml.Unmarshal(content, &v); err != nil {
			return syntaxConcern(filePath, 0, "invalid YAML: "+err.Error()), true
		}
		return domain.ReviewConcern{}, false
	}
	lang := languageFor(filePath)
	if lang == nil {
		return domain.ReviewConcern{}, false
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return syntaxConcern(filePath, 0, "parse failed: "+err.Error()), true
	}
	defer tree.Close()
	bad := findFirstError(tree.RootNode())
	if bad == nil {
		return domain.ReviewConcern{}, false
	}
	return syntaxConcern(filePath, int(bad.StartPoint().Row)+1, fmt.Sprintf("%s does not parse", strings.TrimPrefix(path.Ext(filePath), "."))), true
}

func syntaxConcern(filePath string, line int, issue string) domain.ReviewConcern {
	return domain.ReviewConcern{
		Severity: domain.ConcernBlocker,
		Rule:     RuleSyntax,
		Issue:    issue,
		File:     filePath,
		Line:     line,
	}
}

func findFirstError(node *sitter.Node) *sitter.Node {
	if node == nil {
		return nil
	}
	if node.IsError() || node.IsMissing() {
		return node
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		if found := findFirstError(node.Child(int(i))); found != nil {
			return found
		}
	}
	return nil
}
