// Package indexer walks the project tree, AST-chunks source files with
// tree-sitter, falls back to line-based chunking on parse failure, embeds
// chunks via the embedding provider, and upserts them into the vector
// index. A debounced file watcher keeps the index incrementally current.
package indexer

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludePatterns are built-in exclusions (VCS metadata, common
// build artefacts, dependency directories) merged with user-configured
// patterns from settings.yaml.
var DefaultExcludePatterns = []string{
	"**/.git/**",
	"**/.oak/**",
	"**/oak/history/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/.venv/**",
	"**/__pycache__/**",
	"**/*.min.js",
	"**/*.lock",
}

// ExclusionSet matches a file path against the merged default+user
// patterns and the project root's .gitignore, using doublestar's
// **-aware glob matching.
type ExclusionSet struct {
	root      string
	patterns  []string
	gitignore []string
}

// NewExclusionSet builds an ExclusionSet for root, merging the built-in
// defaults with user patterns and loading .gitignore if present.
func NewExclusionSet(root string, userPatterns []string) *ExclusionSet {
	patterns := append([]string{}, DefaultExcludePatterns...)
	patterns = append(patterns, userPatterns...)

	es := &ExclusionSet{root: root, patterns: patterns}
	es.gitignore = loadGitignore(filepath.Join(root, ".gitignore"))
	return es
}

// Excluded reports whether relPath (relative to root, forward-slash
// separated) should be skipped.
func (es *ExclusionSet) Excluded(relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	for _, pat := range es.patterns {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return true
		}
	}
	for _, pat := range es.gitignore {
		if matchesGitignoreLine(pat, relPath) {
			return true
		}
	}
	return false
}

// loadGitignore reads simple, non-negated .gitignore lines. Negation
// (`!pattern`) and nested .gitignore files are intentionally unsupported —
// the project-level file covers the common case this daemon needs.
func loadGitignore(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func matchesGitignoreLine(pattern, relPath string) bool {
	pattern = strings.TrimPrefix(pattern, "/")
	if strings.HasSuffix(pattern, "/") {
		dir := strings.TrimSuffix(pattern, "/")
		return relPath == dir || strings.HasPrefix(relPath, dir+"/")
	}
	if !strings.Contains(pattern, "/") {
		// Bare filename/glob patterns match at any depth.
		if ok, _ := doublestar.Match(pattern, filepath.Base(relPath)); ok {
			return true
		}
		if ok, _ := doublestar.Match("**/"+pattern, relPath); ok {
			return true
		}
		return false
	}
	ok, _ := doublestar.Match(pattern, relPath)
	return ok
}
