package tree

import (
	"sort"

	"github.com/enata/fileindexer/internal/watcher"
)

// Filter decides which files of one directory node are monitored: all of
// them when whole-folder monitoring is enabled, otherwise only the files
// registered individually. Not safe for concurrent use; nodes guard it.
type Filter struct {
	enabled bool
	files   map[string]struct{}
}

// Enabled reports whether whole-folder monitoring is on.
func (f *Filter) Enabled() bool {
	return f.enabled
}

// SetEnabled toggles whole-folder monitoring.
func (f *Filter) SetEnabled(enabled bool) {
	f.enabled = enabled
}

// Passes reports whether path is monitored by this filter alone.
func (f *Filter) Passes(path string) bool {
	if f.enabled {
		return true
	}
	_, ok := f.files[path]
	return ok
}

// Add registers path for individual monitoring.
func (f *Filter) Add(path string) {
	if f.files == nil {
		f.files = make(map[string]struct{})
	}
	f.files[path] = struct{}{}
}

// Remove unregisters path. Reports whether it was registered.
func (f *Filter) Remove(path string) bool {
	if _, ok := f.files[path]; !ok {
		return false
	}
	delete(f.files, path)
	return true
}

// Has reports whether path is registered individually.
func (f *Filter) Has(path string) bool {
	_, ok := f.files[path]
	return ok
}

// Files returns the individually registered paths in sorted order.
func (f *Filter) Files() []string {
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// RewritePrefix moves registered paths from under oldDir to under newDir.
func (f *Filter) RewritePrefix(oldDir, newDir string) {
	if len(f.files) == 0 || oldDir == newDir {
		return
	}
	files := make(map[string]struct{}, len(f.files))
	for p := range f.files {
		files[watcher.ReplacePrefix(p, oldDir, newDir)] = struct{}{}
	}
	f.files = files
}
