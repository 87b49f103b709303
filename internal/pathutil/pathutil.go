// Package pathutil normalizes caller-supplied relative paths and proves
// containment within a base directory. It never touches the filesystem;
// symlink traversal at I/O time is a non-goal.
package pathutil

import (
	"path"
	"strings"

	"github.com/agentfs/workspaced/internal/errtag"
)

// ResolveWithin strips leading separators from userPath, lexically joins it
// with base, collapses "." and ".." segments, and proves the result is base
// or a descendant of base. The empty string and "." resolve to base.
func ResolveWithin(base, userPath string) (string, error) {
	base = path.Clean(base)
	trimmed := strings.TrimLeft(userPath, "/")

	if trimmed == "" || trimmed == "." {
		return base, nil
	}

	joined := path.Join(base, trimmed)

	if joined != base && !strings.HasPrefix(joined, base+"/") {
		return "", errtag.New(errtag.PathEscape, "path "+userPath+" escapes base "+base)
	}

	return joined, nil
}

// JoinScope is ResolveWithin specialized for composing a scope path onto a
// parent scope path: it proves containment the same way but returns a path
// relative in spirit to scopeBase (the caller passes the combined absolute
// base for validation and receives back the same absolute, cleaned result).
func JoinScope(scopeBase, userPath string) (string, error) {
	return ResolveWithin(scopeBase, userPath)
}

// Rel returns p with the base prefix stripped, suitable for handing to a
// backend that expects paths relative to its own root. Assumes p is base or
// a descendant of base (as produced by ResolveWithin).
func Rel(base, p string) string {
	if p == base {
		return "."
	}
	return strings.TrimPrefix(p, base+"/")
}
