package gate

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxChangedFiles caps the changed-file list a run considers.
const MaxChangedFiles = 50

const maxRootDepth = 20

var rootMarkers = []string{".git", "pyproject.toml", "package.json"}

// FindRoot walks up from start looking for a project marker. It gives up
// after 20 levels and falls back to start.
func FindRoot(start string) string {
	start, _ = filepath.Abs(start)
	if resolved, err := filepath.EvalSymlinks(start); err == nil {
		start = resolved
	}
	cur := start
	for i := 0; i < maxRootDepth; i++ {
		for _, m := range rootMarkers {
			if _, err := os.Stat(filepath.Join(cur, m)); err == nil {
				return cur
			}
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return start
}

// relativeTo expresses path relative to root. Absolute paths outside root
// yield "".
func relativeTo(root, path string) string {
	if !filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	return rel
}

// filterChanged de-duplicates files, drops ignored ones and applies the cap.
func filterChanged(files, ignore []string) []string {
	seen := make(map[string]bool, len(files))
	out := []string{}
	for _, f := range files {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		if ignored(f, ignore) {
			continue
		}
		out = append(out, f)
	}
	if len(out) > MaxChangedFiles {
		out = out[:MaxChangedFiles]
	}
	return out
}

func ignored(rel string, patterns []string) bool {
	slash := filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, slash); err == nil && ok {
			return true
		}
	}
	return false
}
