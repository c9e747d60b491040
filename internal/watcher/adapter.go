package watcher

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	fierrors "github.com/enata/fileindexer/internal/errors"
)

// Adapter observes the direct contents of one directory and reports
// normalized events to its Handler.
//
// It tracks the matching files and the subdirectories it has seen, pairs
// backend renames into single rename events, and corrects paths the backend
// still reports under a pre-rename ancestor. Its state is guarded by a
// local mutex; events are processed on one goroutine per adapter while the
// session's ordering lock is held (shared for add/change, exclusive for
// rename/remove).
type Adapter struct {
	session *Session
	handler Handler
	logger  *slog.Logger

	mu       sync.Mutex
	dir      string
	files    map[string]os.FileInfo
	subdirs  map[string]os.FileInfo
	explicit map[string]struct{}
	closed   bool

	queue     chan FileEvent
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the run goroutine.
	pending *pendingRename
	timer   *time.Timer
	changes *Debouncer
}

// pendingRename is a backend rename waiting for the add that names its target.
type pendingRename struct {
	path  string
	isDir bool
	info  os.FileInfo

	// changed is set when a debounced change to path was still waiting.
	changed bool
}

// NewAdapter starts observing dir, scans it, and emits a synthetic add for
// every matching file found. The caller must hold the session's ordering
// lock (either mode) because the initial adds are delivered synchronously.
func NewAdapter(s *Session, dir string, h Handler) (*Adapter, error) {
	dir = Canonical(dir)
	a := &Adapter{
		session:  s,
		handler:  h,
		logger:   s.logger,
		dir:      dir,
		files:    make(map[string]os.FileInfo),
		subdirs:  make(map[string]os.FileInfo),
		explicit: make(map[string]struct{}),
		queue:    make(chan FileEvent, s.opts.EventBufferSize),
		done:     make(chan struct{}),
		changes:  NewDebouncer(s.opts.ChangeDebounce),
	}

	// Route first so nothing the backend reports during the scan is lost;
	// it queues until the goroutine starts.
	if err := s.register(a); err != nil {
		return nil, err
	}
	if err := s.backend.Add(dir); err != nil {
		s.unregister(a)
		return nil, err
	}
	if err := a.scan(); err != nil {
		s.unregister(a)
		_ = s.backend.Remove(dir)
		return nil, fierrors.IOError("scan "+dir, err).WithDetail("path", dir)
	}

	a.ForceAddEvent()

	if err := s.start(a); err != nil {
		s.unregister(a)
		_ = s.backend.Remove(dir)
		return nil, err
	}
	return a, nil
}

// Dir returns the directory currently observed.
func (a *Adapter) Dir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dir
}

// TrackedFiles returns the tracked file paths in sorted order.
func (a *Adapter) TrackedFiles() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedKeys(a.files)
}

// Subdirs returns the known subdirectory paths in sorted order.
func (a *Adapter) Subdirs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedKeys(a.subdirs)
}

// Tracks reports whether path is a tracked file.
func (a *Adapter) Tracks(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.files[path]
	return ok
}

// Include makes the adapter observe path even if the matcher rejects it.
// The file is tracked right away when it exists. Reports whether path is
// tracked afterwards.
func (a *Adapter) Include(path string) bool {
	path = Canonical(path)
	info, statErr := os.Lstat(path)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.explicit[path] = struct{}{}
	if _, ok := a.files[path]; ok {
		return true
	}
	if statErr != nil || info.IsDir() {
		return false
	}
	a.files[path] = info
	return true
}

// Release undoes Include. Files the matcher accepts stay tracked.
func (a *Adapter) Release(path string) {
	path = Canonical(path)

	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.explicit, path)
	if !a.session.matcher.MatchFile(path) {
		delete(a.files, path)
	}
}

// ForceAddEvent emits a synthetic add for every tracked file.
// The caller must hold the session's ordering lock.
func (a *Adapter) ForceAddEvent() {
	for _, path := range a.TrackedFiles() {
		a.emitFile(FileEvent{Path: path, Operation: OpAdd, Synthetic: true})
	}
}

// ForceRemoveEvent emits a synthetic remove for every tracked file.
// The caller must hold the session's ordering lock.
func (a *Adapter) ForceRemoveEvent() {
	for _, path := range a.TrackedFiles() {
		a.emitFile(FileEvent{Path: path, Operation: OpRemove, Synthetic: true})
	}
}

// ForceRenameEvent moves the adapter from oldDir to newDir after an
// ancestor rename: tracked paths are rewritten, the backend watch is
// re-registered under the new path, a synthetic rename is emitted per
// tracked file, and files that changed in the meantime are resynced.
// No-op when oldDir equals newDir. The caller must hold the session's
// ordering lock exclusively.
func (a *Adapter) ForceRenameEvent(oldDir, newDir string) {
	oldDir, newDir = Canonical(oldDir), Canonical(newDir)
	if oldDir == newDir {
		return
	}

	type move struct{ from, to string }

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	if a.dir != oldDir {
		a.logger.Debug("forced rename from unexpected directory",
			slog.String("old_path", oldDir), slog.String("current", a.dir))
		oldDir = a.dir
	}
	a.dir = newDir

	moves := make([]move, 0, len(a.files))
	files := make(map[string]os.FileInfo, len(a.files))
	for path, info := range a.files {
		to := ReplacePrefix(path, oldDir, newDir)
		files[to] = info
		moves = append(moves, move{from: path, to: to})
	}
	a.files = files
	a.subdirs = rewriteKeys(a.subdirs, oldDir, newDir)
	explicit := make(map[string]struct{}, len(a.explicit))
	for path := range a.explicit {
		explicit[ReplacePrefix(path, oldDir, newDir)] = struct{}{}
	}
	a.explicit = explicit
	a.mu.Unlock()

	sort.Slice(moves, func(i, j int) bool { return moves[i].from < moves[j].from })

	a.session.reroute(a, oldDir, newDir)
	_ = a.session.backend.Remove(oldDir) // the backend may have dropped it already
	if err := a.session.backend.Add(newDir); err != nil {
		a.logger.Warn("failed to re-register watch after rename",
			append([]any{slog.String("dir", newDir)}, fierrors.LogAttrs(err)...)...)
	}

	for _, m := range moves {
		a.emitFile(FileEvent{Path: m.to, OldPath: m.from, Operation: OpRename, Synthetic: true})
	}

	a.resync()
}

// Close stops the adapter and drops its backend watch. It does not wait
// for the goroutine, so it is safe to call while holding the ordering lock.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		dir := a.dir
		a.mu.Unlock()

		close(a.done)
		a.session.unregister(a)
		_ = a.session.backend.Remove(dir)
	})
}

func (a *Adapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// scan records the directory's current matching files and subdirectories.
func (a *Adapter) scan() error {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return err
	}

	files := make(map[string]os.FileInfo)
	subdirs := make(map[string]os.FileInfo)
	for _, e := range entries {
		path := Canonical(filepath.Join(a.dir, e.Name()))
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}
		switch {
		case info.IsDir():
			if a.session.matcher.MatchDir(path) {
				subdirs[path] = info
			}
		case isFileLike(path, info) && a.matches(path):
			files[path] = info
		}
	}

	a.mu.Lock()
	a.files = files
	a.subdirs = subdirs
	a.mu.Unlock()
	return nil
}

// resync reconciles tracked files with the directory listing after a
// redirect. The backend may have lost the directory's watch until the
// redirect re-added it, so files that were created, deleted or edited in
// that gap are reported as adds, removes and changes. Subdirectories are
// refreshed silently.
func (a *Adapter) resync() {
	dir := a.Dir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		a.logger.Debug("resync skipped", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}

	onDisk := make(map[string]os.FileInfo)
	subdirs := make(map[string]os.FileInfo)
	for _, e := range entries {
		path := Canonical(filepath.Join(dir, e.Name()))
		info, err := os.Lstat(path)
		if err != nil {
			continue
		}
		if info.IsDir() {
			if a.session.matcher.MatchDir(path) {
				subdirs[path] = info
			}
			continue
		}
		if isFileLike(path, info) && a.matches(path) {
			onDisk[path] = info
		}
	}

	var added, removed, changed []string
	a.mu.Lock()
	for path, info := range onDisk {
		before, ok := a.files[path]
		switch {
		case !ok:
			added = append(added, path)
		case modified(before, info):
			changed = append(changed, path)
		}
		a.files[path] = info
	}
	for path := range a.files {
		if _, ok := onDisk[path]; !ok {
			delete(a.files, path)
			removed = append(removed, path)
		}
	}
	a.subdirs = subdirs
	a.mu.Unlock()

	sort.Strings(removed)
	sort.Strings(changed)
	sort.Strings(added)
	for _, path := range removed {
		a.emitFile(FileEvent{Path: path, Operation: OpRemove, Synthetic: true})
	}
	for _, path := range changed {
		a.emitFile(FileEvent{Path: path, Operation: OpChange, Synthetic: true})
	}
	for _, path := range added {
		a.emitFile(FileEvent{Path: path, Operation: OpAdd, Synthetic: true})
	}
}

// modified reports whether now describes different content than before:
// another file took the name, or its size or modification time moved.
func modified(before, now os.FileInfo) bool {
	return !os.SameFile(before, now) ||
		before.Size() != now.Size() ||
		!before.ModTime().Equal(now.ModTime())
}

// matches reports whether path is a file this adapter should observe.
func (a *Adapter) matches(path string) bool {
	a.mu.Lock()
	_, ok := a.explicit[path]
	a.mu.Unlock()
	return ok || a.session.matcher.MatchFile(path)
}

// correct rewrites a path reported under a stale directory name.
func (a *Adapter) correct(path string) string {
	dir := a.Dir()
	parent := filepath.Dir(path)
	if parent == dir {
		return path
	}
	if len(Segments(parent)) == len(Segments(dir)) {
		return SubstitutePath(path, dir)
	}
	// The directory moved to another depth; only the base name survives.
	return ReplacePrefix(path, parent, dir)
}

func (a *Adapter) emitFile(ev FileEvent) {
	ev.Timestamp = time.Now()
	a.handler.HandleFileEvent(ev)
}

func (a *Adapter) emitDir(ev FileEvent) {
	ev.IsDir = true
	ev.Timestamp = time.Now()
	a.handler.HandleDirEvent(ev)
}

// isFileLike accepts regular files and symlinks that resolve to one.
func isFileLike(path string, info os.FileInfo) bool {
	if info.Mode().IsRegular() {
		return true
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return false
	}
	target, err := os.Stat(path)
	return err == nil && target.Mode().IsRegular()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func rewriteKeys(m map[string]os.FileInfo, oldDir, newDir string) map[string]os.FileInfo {
	out := make(map[string]os.FileInfo, len(m))
	for path, info := range m {
		out[ReplacePrefix(path, oldDir, newDir)] = info
	}
	return out
}
