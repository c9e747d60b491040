package indexer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/enata/fileindexer/internal/config"
	fierrors "github.com/enata/fileindexer/internal/errors"
	"github.com/enata/fileindexer/internal/logging"
	"github.com/enata/fileindexer/internal/watcher"
	"github.com/enata/fileindexer/pkg/query"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithLogger(logging.Discard()),
		WithWatchOptions(watcher.Options{
			Exclude:      []string{"**/.git/**"},
			PollInterval: 20 * time.Millisecond,
			RenameWindow: 30 * time.Millisecond,
		}),
	}
	m, err := NewManager(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func resultPaths(t *testing.T, m *Manager, expr string) []string {
	t.Helper()
	q, err := m.ParseQuery(expr)
	require.NoError(t, err)
	results, err := m.QueryIndex(q)
	require.NoError(t, err)
	paths := make([]string, 0, len(results))
	for _, r := range results {
		paths = append(paths, r.Path)
	}
	return paths
}

func eventuallyMatches(t *testing.T, m *Manager, expr string, want []string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, resultPaths(t, m, expr))
	}, waitFor, tick, "query %q never returned %v", expr, want)
}

func TestNewManager_InvalidPatterns(t *testing.T) {
	// Given: an exclude pattern that does not validate
	// When: creating a manager
	_, err := NewManager(
		WithLogger(logging.Discard()),
		WithWatchOptions(watcher.Options{Exclude: []string{"a/[b"}}),
	)

	// Then: a config error is returned
	require.Error(t, err)
	assert.True(t, fierrors.IsCategory(err, fierrors.CategoryConfig))
}

func TestManager_AddDirectories_IndexesExistingFiles(t *testing.T) {
	// Given: a directory with two text files and a non-matching file
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "nested", "b.txt")
	writeFile(t, a, "alpha beta")
	writeFile(t, b, "Beta gamma")
	writeFile(t, filepath.Join(dir, "c.md"), "alpha beta gamma")

	m := newTestManager(t)

	// When: the directory is added
	require.NoError(t, m.AddDirectories(dir))

	// Then: queries see only the matching files, case-insensitively
	eventuallyMatches(t, m, "beta", []string{a, b})
	assert.Equal(t, []string{a}, resultPaths(t, m, "alpha"))
	assert.Equal(t, []string{b}, resultPaths(t, m, "GAMMA"))
	assert.Equal(t, []string{a, b}, resultPaths(t, m, "alpha | gamma"))
	assert.Empty(t, resultPaths(t, m, "alpha gamma"))
}

func TestManager_QueryIndex_ReportsFileInfo(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "hello world")

	m := newTestManager(t)
	require.NoError(t, m.AddDirectories(dir))
	eventuallyMatches(t, m, "hello", []string{a})

	results, err := m.QueryIndex(query.Has("world"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a, results[0].Path)
	assert.Equal(t, int64(len("hello world")), results[0].Size)
	assert.False(t, results[0].ModTime.IsZero())
}

func TestManager_BlankPathsAreArgumentErrors(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		call func() error
	}{
		{"AddDirectories", func() error { return m.AddDirectories(dir, "  ") }},
		{"AddFiles", func() error { return m.AddFiles("") }},
		{"TryRemoveFile", func() error { _, err := m.TryRemoveFile(""); return err }},
		{"TryRemoveDirectory", func() error { _, err := m.TryRemoveDirectory(" "); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, fierrors.ErrCodeInvalidArgument, fierrors.GetCode(err))
		})
	}

	// A blank entry rejects the whole call before anything is added.
	assert.Empty(t, m.Snapshot())
}

func TestManager_AddDirectories_SkipsMissingAndMismatched(t *testing.T) {
	// Given: a missing path and a file passed as a directory
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	writeFile(t, file, "alpha")

	m := newTestManager(t)

	// When: adding them as directories
	err := m.AddDirectories(filepath.Join(dir, "missing"), file)

	// Then: no error is returned and nothing is indexed
	require.NoError(t, err)
	assert.Empty(t, m.IndexedFiles())

	// And: adding a directory as a file is skipped the same way
	require.NoError(t, m.AddFiles(dir))
	assert.Empty(t, m.IndexedFiles())
}

func TestManager_AddFiles_IndexesOnlyThatFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	writeFile(t, a, "shared")
	writeFile(t, b, "shared")

	m := newTestManager(t)
	require.NoError(t, m.AddFiles(a))

	eventuallyMatches(t, m, "shared", []string{a})
}

func TestManager_FollowsModifications(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "before")

	m := newTestManager(t)
	require.NoError(t, m.AddDirectories(dir))
	eventuallyMatches(t, m, "before", []string{a})

	// When: the file content changes
	writeFile(t, a, "after")

	// Then: the old word no longer matches and the new one does
	eventuallyMatches(t, m, "after", []string{a})
	eventuallyMatches(t, m, "before", []string{})
}

func TestManager_FollowsCreateRenameDelete(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t)
	require.NoError(t, m.AddDirectories(dir))

	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")

	writeFile(t, a, "moving target")
	eventuallyMatches(t, m, "target", []string{a})

	require.NoError(t, os.Rename(a, b))
	eventuallyMatches(t, m, "target", []string{b})

	require.NoError(t, os.Remove(b))
	eventuallyMatches(t, m, "target", []string{})
}

func TestManager_TryRemove(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "alpha")

	m := newTestManager(t)
	require.NoError(t, m.AddDirectories(dir))
	eventuallyMatches(t, m, "alpha", []string{a})

	t.Run("unknown paths report false", func(t *testing.T) {
		removed, err := m.TryRemoveFile(filepath.Join(dir, "other.txt"))
		require.NoError(t, err)
		assert.False(t, removed)

		removed, err = m.TryRemoveDirectory(filepath.Join(dir, "nope"))
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("removing the directory drops its files", func(t *testing.T) {
		removed, err := m.TryRemoveDirectory(dir)
		require.NoError(t, err)
		assert.True(t, removed)
		eventuallyMatches(t, m, "alpha", []string{})
	})
}

func TestManager_QueryCacheFollowsGeneration(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	writeFile(t, a, "cached")

	m := newTestManager(t, WithCacheSize(8))
	require.NoError(t, m.AddDirectories(dir))
	eventuallyMatches(t, m, "cached", []string{a})

	// Repeated queries at one generation are served from the cache.
	gen := m.Stats().Generation
	assert.Equal(t, []string{a}, resultPaths(t, m, "cached"))
	assert.Equal(t, gen, m.Stats().Generation)
	assert.Equal(t, 1, m.cache.Len())
	assert.Positive(t, m.QueryMetrics().CacheHits)

	// A new file bumps the generation, so the stale entry is not reused.
	writeFile(t, b, "cached")
	eventuallyMatches(t, m, "cached", []string{a, b})
}

func TestManager_RecordsQueryMetrics(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "alpha")

	m := newTestManager(t, WithCacheSize(0))
	require.NoError(t, m.AddDirectories(dir))

	_ = resultPaths(t, m, "alpha")
	_ = resultPaths(t, m, "alpha | missing")
	_ = resultPaths(t, m, "missing")

	s := m.QueryMetrics()
	assert.Equal(t, int64(3), s.TotalQueries)
	assert.Zero(t, s.CacheHits)
	assert.Equal(t, int64(1), s.ZeroResultCount)
	assert.Equal(t, []string{"missing"}, s.ZeroResultQueries)
	require.Len(t, s.TopWords, 2)
	assert.Equal(t, "alpha", s.TopWords[0].Word)
	assert.Equal(t, int64(2), s.TopWords[0].Count)
}

func TestManager_CacheDisabled(t *testing.T) {
	m := newTestManager(t, WithCacheSize(0))
	assert.Nil(t, m.cache)
	assert.Empty(t, resultPaths(t, m, "anything"))
}

func TestManager_QueryIndex_Errors(t *testing.T) {
	m := newTestManager(t)

	_, err := m.QueryIndex(nil)
	require.Error(t, err)
	assert.Equal(t, fierrors.ErrCodeInvalidArgument, fierrors.GetCode(err))

	_, err = m.ParseQuery("alpha AND")
	require.Error(t, err)
	assert.Equal(t, fierrors.ErrCodeInvalidQuery, fierrors.GetCode(err))
}

func TestManager_PollBackend(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "polled")

	m := newTestManager(t, WithBackend(config.BackendPoll))
	require.NoError(t, m.AddDirectories(dir))
	eventuallyMatches(t, m, "polled", []string{a})

	b := filepath.Join(dir, "b.txt")
	writeFile(t, b, "polled")
	eventuallyMatches(t, m, "polled", []string{a, b})
}

func TestManager_PrunesTombstones(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	writeFile(t, a, "gone")

	m := newTestManager(t, WithTombstonePruning(0, 10*time.Millisecond))
	require.NoError(t, m.AddDirectories(dir))
	eventuallyMatches(t, m, "gone", []string{a})

	require.NoError(t, os.Remove(a))
	eventuallyMatches(t, m, "gone", []string{})

	require.Eventually(t, func() bool {
		return m.Stats().Tombstones == 0
	}, waitFor, tick)
}

func TestManager_Close(t *testing.T) {
	m, err := NewManager(WithLogger(logging.Discard()))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.AddDirectories(t.TempDir()), ErrClosed)
	_, err = m.QueryIndex(query.Has("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.TryRemoveFile("/x")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Watch.Include = []string{"*.log"}
	cfg.Watch.Backend = config.BackendPoll
	cfg.Query.Parallelism = 3
	cfg.Query.CacheSize = 0
	cfg.Index.PruneInterval = "5s"

	m := &Manager{}
	for _, opt := range OptionsFromConfig(cfg) {
		opt(m)
	}

	assert.Equal(t, []string{"*.log"}, m.watchOpts.Include)
	assert.Equal(t, cfg.Watch.Exclude, m.watchOpts.Exclude)
	assert.Equal(t, config.BackendPoll, m.backendKind)
	assert.Equal(t, 3, m.parallelism)
	assert.Equal(t, 0, m.cacheSize)
	assert.Equal(t, 5*time.Second, m.pruneInterval)
	assert.Equal(t, 50*time.Millisecond, m.watchOpts.RenameWindow)
	assert.Equal(t, 20*time.Millisecond, m.watchOpts.ChangeDebounce)
	assert.NotNil(t, m.loader)
}
