package watcher

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gobwas/glob"
)

// Matcher decides which paths an adapter observes.
//
// Include patterns are gobwas globs. A pattern without a '/' is matched
// against the base name, otherwise against the slash-separated path.
// Exclude patterns are doublestar patterns matched against the full path
// without its leading separator, so "**/.git/**" excludes both the .git
// directory and everything below it.
type Matcher struct {
	include []includePattern
	exclude []string
}

type includePattern struct {
	g        glob.Glob
	fullPath bool
}

// NewMatcher compiles include and exclude patterns.
func NewMatcher(include, exclude []string) (*Matcher, error) {
	m := &Matcher{}
	for _, p := range include {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		m.include = append(m.include, includePattern{g: g, fullPath: strings.Contains(p, "/")})
	}
	for _, p := range exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
		m.exclude = append(m.exclude, p)
	}
	return m, nil
}

// MatchFile reports whether a file at path should be observed.
func (m *Matcher) MatchFile(path string) bool {
	if m.excluded(path) {
		return false
	}
	slashed := filepath.ToSlash(path)
	base := filepath.Base(path)
	for _, p := range m.include {
		if p.fullPath {
			if p.g.Match(slashed) {
				return true
			}
			continue
		}
		if p.g.Match(base) {
			return true
		}
	}
	return false
}

// MatchDir reports whether a directory at path may be materialized.
func (m *Matcher) MatchDir(path string) bool {
	return !m.excluded(path)
}

func (m *Matcher) excluded(path string) bool {
	if len(m.exclude) == 0 {
		return false
	}
	rel := strings.TrimPrefix(filepath.ToSlash(path[len(filepath.VolumeName(path)):]), "/")
	for _, p := range m.exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
