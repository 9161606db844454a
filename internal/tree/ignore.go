package tree

import (
	"path"
	"strings"
)

// ignorePattern is a parsed ignore pattern with its matching strategy.
type ignorePattern struct {
	pattern   string
	matchPath bool // true = match the relative path; false = basename only
}

// IgnoreMatcher checks relative paths against a set of ignore patterns.
// Patterns without '/' match against the entry's basename; patterns with
// '/' match against the full relative path from the scan root. It is only
// consulted while listing: scrub and backup always see the whole tree.
type IgnoreMatcher struct {
	patterns []ignorePattern
}

// NewIgnoreMatcher creates an IgnoreMatcher from raw pattern strings.
// Blank entries and entries starting with '#' are skipped.
func NewIgnoreMatcher(rawPatterns []string) *IgnoreMatcher {
	var patterns []ignorePattern
	for _, raw := range rawPatterns {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		patterns = append(patterns, ignorePattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &IgnoreMatcher{patterns: patterns}
}

// Match reports whether the given relative path should be skipped.
func (m *IgnoreMatcher) Match(relativePath string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	basename := path.Base(relativePath)
	for _, p := range m.patterns {
		var matched bool
		var err error
		if p.matchPath {
			matched, err = path.Match(p.pattern, relativePath)
		} else {
			matched, err = path.Match(p.pattern, basename)
		}
		if err != nil {
			// Bad pattern, skip rather than crash.
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
