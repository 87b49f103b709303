package mcpadapter

import "strings"

// defaultExcludes is the directory_tree built-in exclude list (spec.md §4.10).
var defaultExcludes = []string{
	"node_modules", ".git", "dist", "build", ".next", "target", ".venv", "venv",
	"__pycache__", ".cache", ".pytest_cache", ".mypy_cache", ".ruff_cache",
	"coverage", ".coverage", "htmlcov", ".idea", ".vscode", ".svn", ".hg",
	"*.egg-info",
}

// matchesExclude reports whether name matches pattern: a name matches
// "*.<suf>" iff it ends with ".<suf>", otherwise the match is exact.
func matchesExclude(name, pattern string) bool {
	if suf, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(name, "."+suf)
	}
	return name == pattern
}

func isExcluded(name string, patterns []string) bool {
	for _, p := range patterns {
		if matchesExclude(name, p) {
			return true
		}
	}
	return false
}
