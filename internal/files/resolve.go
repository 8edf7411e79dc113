// Package files turns file paths and glob patterns into the tagged context
// blob piped to the CLI.
package files

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	. "github.com/roelfdiedericks/gemini-mcp/internal/logging"
	"github.com/roelfdiedericks/gemini-mcp/internal/paths"
)

// junkDirs are never descended into by glob matches. Explicitly named
// files are always honoured.
var junkDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"__pycache__":  true,
	".venv":        true,
	".mypy_cache":  true,
	".tox":         true,
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Paths []string // absolute, existing, regular files; no duplicates
	Junk  int      // glob matches dropped for living under a junk directory
}

// Resolve expands explicit files and glob patterns (with ** support) into
// absolute paths. Explicit files come first in the given order, then each
// pattern's matches sorted. Missing paths and directories are dropped.
// maxFiles <= 0 means no limit.
func Resolve(files, patterns []string, maxFiles int) Resolution {
	var res Resolution
	seen := make(map[string]bool)

	full := func() bool {
		return maxFiles > 0 && len(res.Paths) >= maxFiles
	}

	add := func(path string) {
		abs, ok := regularFile(path)
		if !ok || seen[abs] {
			return
		}
		seen[abs] = true
		res.Paths = append(res.Paths, abs)
	}

	for _, f := range files {
		if full() {
			break
		}
		add(f)
	}

	for _, pattern := range patterns {
		if full() {
			break
		}
		expanded, err := paths.ExpandTilde(pattern)
		if err != nil {
			L_warn("files: cannot expand pattern", "pattern", pattern, "error", err)
			continue
		}
		matches, err := doublestar.FilepathGlob(expanded)
		if err != nil {
			L_warn("files: bad glob pattern", "pattern", pattern, "error", err)
			continue
		}
		slices.Sort(matches)
		base, _ := doublestar.SplitPattern(filepath.ToSlash(expanded))

		for _, m := range matches {
			if full() {
				break
			}
			if inJunkDir(filepath.FromSlash(base), m) {
				if abs, ok := regularFile(m); ok && !seen[abs] {
					res.Junk++
				}
				continue
			}
			add(m)
		}
	}

	if full() {
		L_debug("files: file limit reached", "maxFiles", maxFiles)
	}
	return res
}

func regularFile(path string) (string, bool) {
	expanded, err := paths.ExpandTilde(path)
	if err != nil {
		return "", false
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return abs, true
}

// inJunkDir reports whether match sits under a junk directory below the
// pattern's literal base.
func inJunkDir(base, match string) bool {
	rel, err := filepath.Rel(base, match)
	if err != nil {
		rel = match
	}
	dir := filepath.Dir(rel)
	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if junkDirs[part] {
			return true
		}
	}
	return false
}
