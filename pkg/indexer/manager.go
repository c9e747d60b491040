package indexer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/enata/fileindexer/internal/config"
	fierrors "github.com/enata/fileindexer/internal/errors"
	"github.com/enata/fileindexer/internal/index"
	"github.com/enata/fileindexer/internal/logging"
	"github.com/enata/fileindexer/internal/telemetry"
	"github.com/enata/fileindexer/internal/text"
	"github.com/enata/fileindexer/internal/tree"
	"github.com/enata/fileindexer/internal/watcher"
	"github.com/enata/fileindexer/pkg/query"
)

// ErrClosed is returned by operations on a closed Manager.
var ErrClosed = fierrors.New(fierrors.ErrCodeWatcherClosed, "indexer is closed", nil)

// Manager wires the observation tree to the inverted index.
//
// Manager is safe for concurrent use.
type Manager struct {
	logger             *slog.Logger
	watchOpts          watcher.Options
	backendKind        string
	backend            watcher.Backend
	loader             text.TextLoader
	tokenizer          text.Tokenizer
	parallelism        int
	cacheSize          int
	tombstoneRetention time.Duration
	pruneInterval      time.Duration

	tree    *tree.Tree
	index   *index.Index
	cache   *lru.Cache[string, []string]
	metrics *telemetry.QueryMetrics

	mu        sync.RWMutex
	closed    bool
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

var _ Indexer = (*Manager)(nil)

// NewManager creates a manager and starts its background work.
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{
		backendKind:        config.BackendFSNotify,
		parallelism:        runtime.NumCPU(),
		cacheSize:          256,
		tombstoneRetention: 10 * time.Minute,
		pruneInterval:      time.Minute,
		stop:               make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrDefault(m.logger)
	m.watchOpts.Logger = m.logger

	if err := m.watchOpts.Validate(); err != nil {
		return nil, fierrors.ConfigError("invalid watch options", err)
	}

	session, err := m.newSession()
	if err != nil {
		return nil, err
	}

	if m.cacheSize > 0 {
		cache, err := lru.New[string, []string](m.cacheSize)
		if err != nil {
			_ = session.Close()
			return nil, fierrors.InternalError("create query cache", err)
		}
		m.cache = cache
	}

	m.index = index.New(
		index.WithLoader(m.loader),
		index.WithTokenizer(m.tokenizer),
		index.WithLogger(m.logger),
	)
	m.metrics = telemetry.NewQueryMetrics(telemetry.Config{})
	m.tree = tree.New(session, m.logger)
	m.tree.Subscribe(m.index)

	if m.pruneInterval > 0 {
		m.wg.Add(1)
		go m.pruneLoop()
	}

	m.logger.Info("indexer started",
		slog.String("session", session.ID),
		slog.String("backend", m.backendKind),
		slog.Any("include", m.watchOpts.WithDefaults().Include))
	return m, nil
}

func (m *Manager) newSession() (*watcher.Session, error) {
	switch {
	case m.backend != nil:
		return watcher.NewSession(m.backend, m.watchOpts)
	case m.backendKind == config.BackendPoll:
		return watcher.NewSession(watcher.NewPollingBackend(m.watchOpts), m.watchOpts)
	default:
		return watcher.NewDefaultSession(m.watchOpts)
	}
}

// AddDirectories implements Indexer.
func (m *Manager) AddDirectories(paths ...string) error {
	return m.addPaths(paths, true)
}

// AddFiles implements Indexer.
func (m *Manager) AddFiles(paths ...string) error {
	return m.addPaths(paths, false)
}

func (m *Manager) addPaths(paths []string, dirs bool) error {
	kind := "file"
	if dirs {
		kind = "directory"
	}
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			return fierrors.ArgumentError(kind + " path must not be blank")
		}
	}
	if m.isClosed() {
		return ErrClosed
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			m.logger.Warn("skipping invalid path", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			m.logger.Warn("skipping "+kind, fierrors.LogAttrs(fierrors.IOError("cannot stat "+kind, err).WithDetail("path", abs))...)
			continue
		}
		if info.IsDir() != dirs {
			m.logger.Warn("skipping "+kind,
				fierrors.LogAttrs(fierrors.New(fierrors.ErrCodeInvalidPath, fmt.Sprintf("not a %s", kind), nil).WithDetail("path", abs))...)
			continue
		}

		if dirs {
			err = m.tree.AddDirectory(abs)
		} else {
			err = m.tree.AddFile(abs)
		}
		if err != nil {
			m.logger.Warn("failed to add "+kind, append([]any{slog.String("path", abs)}, fierrors.LogAttrs(err)...)...)
			continue
		}
		m.logger.Info("watching "+kind, slog.String("path", abs))
	}
	return nil
}

// TryRemoveFile implements Indexer.
func (m *Manager) TryRemoveFile(path string) (bool, error) {
	abs, err := m.removalPath(path, "file")
	if err != nil {
		return false, err
	}
	removed := m.tree.TryRemoveFile(abs)
	if !removed {
		m.logger.Debug("remove skipped", fierrors.LogAttrs(fierrors.NotFoundError(abs))...)
	}
	return removed, nil
}

// TryRemoveDirectory implements Indexer.
func (m *Manager) TryRemoveDirectory(path string) (bool, error) {
	abs, err := m.removalPath(path, "directory")
	if err != nil {
		return false, err
	}
	removed := m.tree.TryRemoveDirectory(abs)
	if !removed {
		m.logger.Debug("remove skipped", fierrors.LogAttrs(fierrors.NotFoundError(abs))...)
	}
	return removed, nil
}

func (m *Manager) removalPath(path, kind string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fierrors.ArgumentError(kind + " path must not be blank")
	}
	if m.isClosed() {
		return "", ErrClosed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fierrors.New(fierrors.ErrCodeInvalidPath, "invalid path", err).WithDetail("path", path)
	}
	return abs, nil
}

// ParseQuery parses expr with the manager's query parallelism.
func (m *Manager) ParseQuery(expr string) (query.Query, error) {
	return query.Parse(expr, query.WithParallelism(m.parallelism))
}

// QueryIndex implements Indexer.
func (m *Manager) QueryIndex(q query.Query) ([]FileInfo, error) {
	if q == nil {
		return nil, fierrors.ArgumentError("query must not be nil")
	}
	if m.isClosed() {
		return nil, ErrClosed
	}

	start := time.Now()
	paths, cached := m.execute(q)

	results := make([]FileInfo, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			m.logger.Warn("omitting query result", fierrors.LogAttrs(fierrors.IOError("cannot stat result", err).WithDetail("path", p))...)
			continue
		}
		results = append(results, FileInfo{Path: p, Size: info.Size(), ModTime: info.ModTime()})
	}

	m.metrics.Record(telemetry.QueryEvent{
		Query:       q.String(),
		Words:       query.Words(q),
		ResultCount: len(results),
		Latency:     time.Since(start),
		CacheHit:    cached,
	})
	return results, nil
}

// execute evaluates q, reusing the result computed for the same index
// generation when one is cached.
func (m *Manager) execute(q query.Query) (paths []string, cached bool) {
	if m.cache == nil {
		return m.index.ExecuteQuery(q), false
	}

	key := fmt.Sprintf("%d\x00%s", m.index.Generation(), q.String())
	if paths, ok := m.cache.Get(key); ok {
		return paths, true
	}
	paths = m.index.ExecuteQuery(q)
	m.cache.Add(key, paths)
	return paths, false
}

// Stats implements Indexer.
func (m *Manager) Stats() IndexStats {
	s := m.index.Stats()
	return IndexStats{Files: s.Files, Words: s.Words, Tombstones: s.Tombstones, Generation: s.Generation}
}

// QueryMetrics returns statistics about the queries answered so far.
func (m *Manager) QueryMetrics() telemetry.Snapshot {
	return m.metrics.Snapshot()
}

// Snapshot returns the observation tree topology.
func (m *Manager) Snapshot() []tree.NodeInfo {
	return m.tree.Snapshot()
}

// Tree returns the underlying observation tree.
func (m *Manager) Tree() *tree.Tree {
	return m.tree
}

// Index returns the underlying inverted index.
func (m *Manager) Index() *index.Index {
	return m.index
}

// IndexedFiles returns every indexed path in sorted order.
func (m *Manager) IndexedFiles() []string {
	return m.index.Files()
}

// Close implements Indexer.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		close(m.stop)
		m.wg.Wait()
		m.closeErr = m.tree.Close()
		m.logger.Info("indexer stopped")
	})
	return m.closeErr
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) pruneLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.index.PruneTombstones(time.Now().Add(-m.tombstoneRetention)); n > 0 {
				m.logger.Debug("pruned tombstones", slog.Int("count", n))
			}
		}
	}
}
