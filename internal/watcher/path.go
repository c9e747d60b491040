package watcher

import (
	"path/filepath"
	"runtime"
	"strings"
)

// caseInsensitive is true on platforms whose default file systems fold case.
var caseInsensitive = runtime.GOOS == "windows" || runtime.GOOS == "darwin"

// Canonical normalizes a path to the form used for every key and event:
// cleaned, OS separators, and lower-cased where the file system folds case.
func Canonical(path string) string {
	path = filepath.Clean(path)
	if caseInsensitive {
		path = strings.ToLower(path)
	}
	return path
}

// Segments splits an absolute path into its volume root followed by one
// element per directory level: "/a/b" becomes ["/", "a", "b"].
func Segments(path string) []string {
	path = filepath.Clean(path)
	vol := filepath.VolumeName(path)
	sep := string(filepath.Separator)

	segs := []string{vol + sep}
	rest := strings.Trim(path[len(vol):], sep)
	if rest == "" {
		return segs
	}
	return append(segs, strings.Split(rest, sep)...)
}

// JoinSegments is the inverse of Segments.
func JoinSegments(segs []string) string {
	if len(segs) == 0 {
		return ""
	}
	return filepath.Join(segs...)
}

// HasPathPrefix reports whether path is dir or lies below it.
func HasPathPrefix(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, string(filepath.Separator)) {
		dir += string(filepath.Separator)
	}
	return strings.HasPrefix(path, dir)
}

// SubstitutePath corrects a path whose ancestor segments are stale.
//
// Backends keep reporting the path a watch was registered under after an
// ancestor directory is renamed. known is the directory's current path. The
// leading len(Segments(known)) segments of observed are compared with it;
// from the first segment where they diverge, the whole prefix is replaced by
// known and the remainder is kept verbatim. A path that already starts with
// known, or is shorter than it, is returned unchanged.
func SubstitutePath(observed, known string) string {
	obs := Segments(observed)
	kn := Segments(known)
	if len(obs) < len(kn) {
		return observed
	}

	for i := range kn {
		if obs[i] != kn[i] {
			out := make([]string, 0, len(obs))
			out = append(out, kn...)
			out = append(out, obs[len(kn):]...)
			return JoinSegments(out)
		}
	}
	return observed
}

// ReplacePrefix rewrites path from under oldDir to under newDir.
// Paths outside oldDir are returned unchanged.
func ReplacePrefix(path, oldDir, newDir string) string {
	if !HasPathPrefix(path, oldDir) {
		return path
	}
	if path == oldDir {
		return newDir
	}
	rel := strings.TrimPrefix(path[len(oldDir):], string(filepath.Separator))
	return filepath.Join(newDir, rel)
}
