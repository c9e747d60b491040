package query

import "sort"

// Set is a set of file paths.
type Set map[string]struct{}

// NewSet returns a set holding paths.
func NewSet(paths ...string) Set {
	s := make(Set, len(paths))
	for _, p := range paths {
		s[p] = struct{}{}
	}
	return s
}

// Add inserts path.
func (s Set) Add(path string) {
	s[path] = struct{}{}
}

// Contains reports whether path is in s.
func (s Set) Contains(path string) bool {
	_, ok := s[path]
	return ok
}

// Len returns the number of paths.
func (s Set) Len() int {
	return len(s)
}

// Intersect returns the paths present in both s and other.
func (s Set) Intersect(other Set) Set {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(Set, len(small))
	for p := range small {
		if large.Contains(p) {
			out.Add(p)
		}
	}
	return out
}

// Union returns the paths present in either s or other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for p := range s {
		out.Add(p)
	}
	for p := range other {
		out.Add(p)
	}
	return out
}

// Sorted returns the paths in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
