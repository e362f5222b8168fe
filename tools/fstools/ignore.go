package fstools

import (
	"path"
	"strings"
)

// ignoreFilter applies a practical subset of gitignore semantics: blank
// lines and comments are skipped, a trailing "/" restricts the rule to
// directories, a leading "/" anchors at the workspace root, "!" negates,
// and the last matching rule wins. Patterns without a slash match any path
// segment.
type ignoreFilter struct {
	rules []ignoreRule
}

type ignoreRule struct {
	pattern  string
	negate   bool
	anchored bool
	dirOnly  bool
	// hasSlash rules match against the whole path; others against
	// individual segments.
	hasSlash bool
}

func parseIgnoreFile(content string) *ignoreFilter {
	f := &ignoreFilter{}
	for line := range strings.Lines(content) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule := ignoreRule{}
		if strings.HasPrefix(line, "!") {
			rule.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			rule.anchored = true
			line = strings.TrimPrefix(line, "/")
		}
		rule.hasSlash = strings.Contains(line, "/")
		rule.pattern = line
		f.rules = append(f.rules, rule)
	}
	return f
}

// Match reports whether p (a clean, root-relative path) is ignored. A path
// is also ignored when any of its parent directories is.
func (f *ignoreFilter) Match(p string) bool {
	if p == "." {
		return false
	}

	// Check the path itself and every ancestor directory.
	segs := strings.Split(p, "/")
	for i := 1; i <= len(segs); i++ {
		if f.matchOne(strings.Join(segs[:i], "/"), i < len(segs)) {
			return true
		}
	}
	return false
}

func (f *ignoreFilter) matchOne(p string, isDir bool) bool {
	ignored := false
	for _, rule := range f.rules {
		if rule.dirOnly && !isDir {
			continue
		}
		if rule.matches(p) {
			ignored = !rule.negate
		}
	}
	return ignored
}

func (r ignoreRule) matches(p string) bool {
	if r.hasSlash || r.anchored {
		ok, err := matchGlob(r.pattern, p)
		return err == nil && ok
	}
	ok, err := path.Match(r.pattern, path.Base(p))
	return err == nil && ok
}
