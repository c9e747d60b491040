package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeBackend is a Backend whose events are injected by the test.
type fakeBackend struct {
	mu      sync.Mutex
	watched map[string]bool
	calls   []string

	events    chan FileEvent
	errors    chan error
	closeOnce sync.Once
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		watched: make(map[string]bool),
		events:  make(chan FileEvent, 100),
		errors:  make(chan error, 1),
	}
}

func (f *fakeBackend) Add(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched[dir] = true
	f.calls = append(f.calls, "add "+dir)
	return nil
}

func (f *fakeBackend) Remove(dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "remove "+dir)
	if !f.watched[dir] {
		return fmt.Errorf("not watching %s", dir)
	}
	delete(f.watched, dir)
	return nil
}

func (f *fakeBackend) Events() <-chan FileEvent { return f.events }
func (f *fakeBackend) Errors() <-chan error     { return f.errors }

func (f *fakeBackend) Close() error {
	f.closeOnce.Do(func() {
		close(f.events)
		close(f.errors)
	})
	return nil
}

func (f *fakeBackend) send(path string, op Operation) {
	f.events <- FileEvent{Path: path, Operation: op}
}

func (f *fakeBackend) isWatching(dir string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watched[dir]
}

// recorder is a Handler that keeps every event it receives.
type recorder struct {
	mu    sync.Mutex
	files []FileEvent
	dirs  []FileEvent
}

func (r *recorder) HandleFileEvent(ev FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, ev)
}

func (r *recorder) HandleDirEvent(ev FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dirs = append(r.dirs, ev)
}

func (r *recorder) fileEvents() []FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FileEvent(nil), r.files...)
}

func (r *recorder) dirEvents() []FileEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]FileEvent(nil), r.dirs...)
}

func (r *recorder) waitFiles(t *testing.T, n int) []FileEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.fileEvents()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.fileEvents()
}

func (r *recorder) waitDirs(t *testing.T, n int) []FileEvent {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.dirEvents()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.dirEvents()
}

func newTestSession(t *testing.T, tweaks ...func(*Options)) (*Session, *fakeBackend) {
	t.Helper()
	fb := newFakeBackend()
	opts := Options{
		Exclude:      []string{"**/.git/**"},
		RenameWindow: 30 * time.Millisecond,
		Logger:       discardLogger(),
	}
	for _, tweak := range tweaks {
		tweak(&opts)
	}
	s, err := NewSession(fb, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, fb
}

func newTestAdapter(t *testing.T, s *Session, dir string, h Handler) *Adapter {
	t.Helper()
	s.Lock().Lock()
	defer s.Lock().Unlock()
	a, err := NewAdapter(s, dir, h)
	require.NoError(t, err)
	return a
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewAdapter_EmitsInitialAdds(t *testing.T) {
	// Given: a directory with two matching files, one other file and subdirectories
	dir := Canonical(t.TempDir())
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "c.md"), "c")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	s, fb := newTestSession(t)
	rec := &recorder{}

	// When: an adapter is created
	a := newTestAdapter(t, s, dir, rec)

	// Then: the matching files are reported as synthetic adds in order
	events := rec.fileEvents()
	require.Len(t, events, 2)
	assert.Equal(t, filepath.Join(dir, "a.txt"), events[0].Path)
	assert.Equal(t, filepath.Join(dir, "b.txt"), events[1].Path)
	for _, ev := range events {
		assert.Equal(t, OpAdd, ev.Operation)
		assert.True(t, ev.Synthetic)
	}
	assert.Equal(t, []string{filepath.Join(dir, "sub")}, a.Subdirs())
	assert.Empty(t, rec.dirEvents())
	assert.True(t, fb.isWatching(dir))
}

func TestAdapter_AddThenChange(t *testing.T) {
	// Given: an adapter on an empty directory
	dir := Canonical(t.TempDir())
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)

	// When: a file is created and then written
	path := filepath.Join(dir, "new.txt")
	writeFile(t, path, "hello")
	fb.send(path, OpAdd)
	fb.send(path, OpChange)

	// Then: it is reported as add then change and tracked
	events := rec.waitFiles(t, 2)
	assert.Equal(t, OpAdd, events[0].Operation)
	assert.Equal(t, OpChange, events[1].Operation)
	assert.False(t, events[0].Synthetic)
	assert.Equal(t, []string{path}, a.TrackedFiles())
}

func TestAdapter_IgnoresNonMatchingFiles(t *testing.T) {
	dir := Canonical(t.TempDir())
	s, fb := newTestSession(t)
	rec := &recorder{}
	newTestAdapter(t, s, dir, rec)

	other := filepath.Join(dir, "image.png")
	writeFile(t, other, "x")
	fb.send(other, OpAdd)

	marker := filepath.Join(dir, "marker.txt")
	writeFile(t, marker, "m")
	fb.send(marker, OpAdd)

	events := rec.waitFiles(t, 1)
	require.Len(t, events, 1)
	assert.Equal(t, marker, events[0].Path)
}

func TestAdapter_RemoveTrackedFile(t *testing.T) {
	dir := Canonical(t.TempDir())
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "a")
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)

	require.NoError(t, os.Remove(path))
	fb.send(path, OpRemove)

	events := rec.waitFiles(t, 2)
	assert.Equal(t, OpRemove, events[1].Operation)
	assert.Equal(t, path, events[1].Path)
	assert.Empty(t, a.TrackedFiles())
}

func TestAdapter_PairsRename(t *testing.T) {
	// Given: a tracked file
	dir := Canonical(t.TempDir())
	oldPath := filepath.Join(dir, "a.txt")
	newPath := filepath.Join(dir, "b.txt")
	writeFile(t, oldPath, "a")
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)

	// When: it is renamed and the backend reports both halves
	require.NoError(t, os.Rename(oldPath, newPath))
	fb.send(oldPath, OpRename)
	fb.send(newPath, OpAdd)

	// Then: one rename event carries both paths
	events := rec.waitFiles(t, 2)
	require.Len(t, events, 2)
	assert.Equal(t, OpRename, events[1].Operation)
	assert.Equal(t, oldPath, events[1].OldPath)
	assert.Equal(t, newPath, events[1].Path)
	assert.Equal(t, []string{newPath}, a.TrackedFiles())
}

func TestAdapter_RenameToNonMatchingNameIsRemove(t *testing.T) {
	dir := Canonical(t.TempDir())
	oldPath := filepath.Join(dir, "a.txt")
	newPath := filepath.Join(dir, "a.md")
	writeFile(t, oldPath, "a")
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)

	require.NoError(t, os.Rename(oldPath, newPath))
	fb.send(oldPath, OpRename)
	fb.send(newPath, OpAdd)

	events := rec.waitFiles(t, 2)
	assert.Equal(t, OpRemove, events[1].Operation)
	assert.Equal(t, oldPath, events[1].Path)
	assert.Empty(t, a.TrackedFiles())
}

func TestAdapter_UnpairedRenameBecomesRemoveAfterWindow(t *testing.T) {
	// Given: a tracked file moved out of the directory
	dir := Canonical(t.TempDir())
	outside := Canonical(t.TempDir())
	path := filepath.Join(dir, "a.txt")
	writeFile(t, path, "a")
	s, fb := newTestSession(t)
	rec := &recorder{}
	newTestAdapter(t, s, dir, rec)

	require.NoError(t, os.Rename(path, filepath.Join(outside, "a.txt")))

	// When: only the source half arrives
	fb.send(path, OpRename)

	// Then: the rename window expires into a removal
	events := rec.waitFiles(t, 2)
	assert.Equal(t, OpRemove, events[1].Operation)
	assert.Equal(t, path, events[1].Path)
}

func TestAdapter_DirectoryEvents(t *testing.T) {
	// Given: an adapter on an empty directory
	dir := Canonical(t.TempDir())
	s, fb := newTestSession(t)
	rec := &recorder{}
	newTestAdapter(t, s, dir, rec)

	// When: a subdirectory is created, renamed and removed
	sub := filepath.Join(dir, "sub")
	renamed := filepath.Join(dir, "renamed")
	require.NoError(t, os.Mkdir(sub, 0o755))
	fb.send(sub, OpAdd)
	rec.waitDirs(t, 1)

	require.NoError(t, os.Rename(sub, renamed))
	fb.send(sub, OpRename)
	fb.send(renamed, OpAdd)
	rec.waitDirs(t, 2)

	require.NoError(t, os.Remove(renamed))
	fb.send(renamed, OpRemove)

	// Then: each change is reported as a directory event
	events := rec.waitDirs(t, 3)
	require.Len(t, events, 3)
	assert.Equal(t, OpAdd, events[0].Operation)
	assert.Equal(t, sub, events[0].Path)
	assert.Equal(t, OpRename, events[1].Operation)
	assert.Equal(t, sub, events[1].OldPath)
	assert.Equal(t, renamed, events[1].Path)
	assert.Equal(t, OpRemove, events[2].Operation)
	for _, ev := range events {
		assert.True(t, ev.IsDir)
	}
	assert.Empty(t, rec.fileEvents())
}

func TestAdapter_ExcludedSubdirIsIgnored(t *testing.T) {
	dir := Canonical(t.TempDir())
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)

	gitDir := filepath.Join(dir, ".git")
	require.NoError(t, os.Mkdir(gitDir, 0o755))
	fb.send(gitDir, OpAdd)

	marker := filepath.Join(dir, "marker")
	require.NoError(t, os.Mkdir(marker, 0o755))
	fb.send(marker, OpAdd)

	events := rec.waitDirs(t, 1)
	require.Len(t, events, 1)
	assert.Equal(t, marker, events[0].Path)
	assert.Equal(t, []string{marker}, a.Subdirs())
}

func TestAdapter_ForceRenameEvent(t *testing.T) {
	// Given: an adapter on root/d tracking one file
	root := Canonical(t.TempDir())
	oldDir := filepath.Join(root, "d")
	newDir := filepath.Join(root, "moved", "d")
	writeFile(t, filepath.Join(oldDir, "a.txt"), "a")
	require.NoError(t, os.Mkdir(filepath.Join(root, "moved"), 0o755))
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, oldDir, rec)

	// When: the directory is moved and the adapter is redirected
	require.NoError(t, os.Rename(oldDir, newDir))
	writeFile(t, filepath.Join(newDir, "b.txt"), "b")
	s.Lock().Lock()
	a.ForceRenameEvent(oldDir, newDir)
	s.Lock().Unlock()

	// Then: tracked files are renamed and the file created meanwhile is added
	events := rec.fileEvents()
	require.Len(t, events, 3)
	assert.Equal(t, OpRename, events[1].Operation)
	assert.Equal(t, filepath.Join(oldDir, "a.txt"), events[1].OldPath)
	assert.Equal(t, filepath.Join(newDir, "a.txt"), events[1].Path)
	assert.True(t, events[1].Synthetic)
	assert.Equal(t, OpAdd, events[2].Operation)
	assert.Equal(t, filepath.Join(newDir, "b.txt"), events[2].Path)

	assert.Equal(t, newDir, a.Dir())
	assert.False(t, fb.isWatching(oldDir))
	assert.True(t, fb.isWatching(newDir))

	// When: the backend still reports a change under the stale path
	fb.send(filepath.Join(oldDir, "a.txt"), OpChange)

	// Then: it is delivered under the current path
	events = rec.waitFiles(t, 4)
	assert.Equal(t, OpChange, events[3].Operation)
	assert.Equal(t, filepath.Join(newDir, "a.txt"), events[3].Path)
}

func TestAdapter_ForceRenameEventReportsEditsMadeWhileUnwatched(t *testing.T) {
	// Given: an adapter on root/d tracking two files
	root := Canonical(t.TempDir())
	oldDir := filepath.Join(root, "d")
	newDir := filepath.Join(root, "e")
	writeFile(t, filepath.Join(oldDir, "a.txt"), "alpha")
	writeFile(t, filepath.Join(oldDir, "b.txt"), "bravo")
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, oldDir, rec)

	// When: the directory is moved, the backend drops its watch, and one
	// file is edited before the adapter is redirected
	require.NoError(t, os.Rename(oldDir, newDir))
	require.NoError(t, fb.Remove(oldDir))
	writeFile(t, filepath.Join(newDir, "a.txt"), "alpha, edited after the move")
	s.Lock().Lock()
	a.ForceRenameEvent(oldDir, newDir)
	s.Lock().Unlock()

	// Then: both files are renamed and only the edited one is reported as changed
	events := rec.fileEvents()
	require.Len(t, events, 5)
	assert.Equal(t, OpRename, events[2].Operation)
	assert.Equal(t, OpRename, events[3].Operation)
	assert.Equal(t, OpChange, events[4].Operation)
	assert.Equal(t, filepath.Join(newDir, "a.txt"), events[4].Path)
	assert.True(t, events[4].Synthetic)
	assert.True(t, fb.isWatching(newDir))
}

func TestAdapter_ForceRenameEventReportsReplacedFile(t *testing.T) {
	// Given: an adapter tracking one file
	root := Canonical(t.TempDir())
	oldDir := filepath.Join(root, "d")
	newDir := filepath.Join(root, "e")
	path := filepath.Join(oldDir, "a.txt")
	writeFile(t, path, "alpha")
	s, _ := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, oldDir, rec)

	// When: the file is replaced by another one of the same size, then the
	// directory is moved
	replacement := filepath.Join(oldDir, "a.tmp")
	writeFile(t, replacement, "omega")
	require.NoError(t, os.Rename(replacement, path))
	require.NoError(t, os.Rename(oldDir, newDir))
	s.Lock().Lock()
	a.ForceRenameEvent(oldDir, newDir)
	s.Lock().Unlock()

	// Then: the new file behind the old name is reported as changed
	events := rec.fileEvents()
	require.Len(t, events, 3)
	assert.Equal(t, OpChange, events[2].Operation)
	assert.Equal(t, filepath.Join(newDir, "a.txt"), events[2].Path)
}

func TestSession_RerouteKeepsOnlyLatestAlias(t *testing.T) {
	// Given: an adapter on root/d
	root := Canonical(t.TempDir())
	d, e, f := filepath.Join(root, "d"), filepath.Join(root, "e"), filepath.Join(root, "f")
	writeFile(t, filepath.Join(d, "a.txt"), "a")
	s, _ := newTestSession(t)
	a := newTestAdapter(t, s, d, &recorder{})

	// When: the directory is renamed twice
	require.NoError(t, os.Rename(d, e))
	s.Lock().Lock()
	a.ForceRenameEvent(d, e)
	s.Lock().Unlock()
	require.NoError(t, os.Rename(e, f))
	s.Lock().Lock()
	a.ForceRenameEvent(e, f)
	s.Lock().Unlock()

	// Then: only the most recent stale path is still routed to the adapter
	s.mu.RLock()
	aliases := len(s.aliases)
	s.mu.RUnlock()
	assert.Equal(t, 1, aliases)
	assert.Same(t, a, s.lookup(f))
	assert.Same(t, a, s.lookup(e))
	assert.Nil(t, s.lookup(d))
}

func TestAdapter_ForceRenameEventSamePathIsNoop(t *testing.T) {
	dir := Canonical(t.TempDir())
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	s, _ := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)

	s.Lock().Lock()
	a.ForceRenameEvent(dir, dir)
	s.Lock().Unlock()

	assert.Len(t, rec.fileEvents(), 1)
}

func TestAdapter_ForceRemoveAndAdd(t *testing.T) {
	dir := Canonical(t.TempDir())
	writeFile(t, filepath.Join(dir, "a.txt"), "a")
	writeFile(t, filepath.Join(dir, "b.txt"), "b")
	s, _ := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)

	s.Lock().Lock()
	a.ForceRemoveEvent()
	a.ForceAddEvent()
	s.Lock().Unlock()

	events := rec.fileEvents()
	require.Len(t, events, 6)
	assert.Equal(t, OpRemove, events[2].Operation)
	assert.Equal(t, OpRemove, events[3].Operation)
	assert.Equal(t, OpAdd, events[4].Operation)
	assert.Equal(t, OpAdd, events[5].Operation)
}

func TestAdapter_IncludeAndRelease(t *testing.T) {
	// Given: an adapter with a file the matcher rejects
	dir := Canonical(t.TempDir())
	path := filepath.Join(dir, "notes.md")
	writeFile(t, path, "n")
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)
	require.Empty(t, a.TrackedFiles())

	// When: the file is included explicitly
	s.Lock().Lock()
	tracked := a.Include(path)
	s.Lock().Unlock()

	// Then: it is tracked and its changes are reported
	assert.True(t, tracked)
	fb.send(path, OpChange)
	events := rec.waitFiles(t, 1)
	assert.Equal(t, OpChange, events[0].Operation)

	// When: it is released
	s.Lock().Lock()
	a.Release(path)
	s.Lock().Unlock()

	// Then: it is no longer tracked
	assert.Empty(t, a.TrackedFiles())
}

func TestAdapter_CloseStopsDelivery(t *testing.T) {
	dir := Canonical(t.TempDir())
	s, fb := newTestSession(t)
	rec := &recorder{}
	a := newTestAdapter(t, s, dir, rec)

	a.Close()
	a.Close()

	path := filepath.Join(dir, "late.txt")
	writeFile(t, path, "x")
	fb.send(path, OpAdd)

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, rec.fileEvents())
	assert.False(t, fb.isWatching(dir))
}

func TestNewAdapter_ClosedSession(t *testing.T) {
	s, _ := newTestSession(t)
	require.NoError(t, s.Close())

	s.Lock().Lock()
	_, err := NewAdapter(s, t.TempDir(), &recorder{})
	s.Lock().Unlock()

	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestNewAdapter_MissingDirectory(t *testing.T) {
	s, _ := newTestSession(t)

	s.Lock().Lock()
	_, err := NewAdapter(s, filepath.Join(t.TempDir(), "missing"), &recorder{})
	s.Lock().Unlock()

	assert.Error(t, err)
}

func TestSession_FSNotifyEndToEnd(t *testing.T) {
	// Given: a session on the real fsnotify backend
	dir := Canonical(t.TempDir())
	s, err := NewDefaultSession(Options{Logger: discardLogger()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	rec := &recorder{}

	s.Lock().Lock()
	_, err = NewAdapter(s, dir, rec)
	s.Lock().Unlock()
	require.NoError(t, err)

	// When: a file is created and then renamed
	oldPath := filepath.Join(dir, "a.txt")
	newPath := filepath.Join(dir, "b.txt")
	writeFile(t, oldPath, "hello")
	require.Eventually(t, func() bool {
		for _, ev := range rec.fileEvents() {
			if ev.Operation == OpAdd && ev.Path == oldPath {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, os.Rename(oldPath, newPath))

	// Then: the rename is reported with both paths
	require.Eventually(t, func() bool {
		for _, ev := range rec.fileEvents() {
			if ev.Operation == OpRename && ev.OldPath == oldPath && ev.Path == newPath {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
