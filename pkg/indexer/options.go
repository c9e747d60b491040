package indexer

import (
	"log/slog"
	"time"

	"github.com/enata/fileindexer/internal/config"
	"github.com/enata/fileindexer/internal/text"
	"github.com/enata/fileindexer/internal/watcher"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager and every component it creates.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithWatchOptions sets include/exclude patterns and backend tuning.
func WithWatchOptions(opts watcher.Options) Option {
	return func(m *Manager) {
		m.watchOpts = opts
	}
}

// WithBackend selects the change notification backend: config.BackendFSNotify
// (default, falls back to polling when unavailable) or config.BackendPoll.
func WithBackend(kind string) Option {
	return func(m *Manager) {
		m.backendKind = kind
	}
}

// WithWatchBackend injects a ready-made backend. Mostly for tests.
func WithWatchBackend(b watcher.Backend) Option {
	return func(m *Manager) {
		m.backend = b
	}
}

// WithLoader sets how file contents are read.
func WithLoader(l text.TextLoader) Option {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithTokenizer sets how file contents are split into words.
func WithTokenizer(t text.Tokenizer) Option {
	return func(m *Manager) {
		m.tokenizer = t
	}
}

// WithParallelism bounds concurrent subquery evaluation for ParseQuery.
func WithParallelism(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.parallelism = n
		}
	}
}

// WithCacheSize sets the number of cached query results. Zero disables caching.
func WithCacheSize(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.cacheSize = n
		}
	}
}

// WithTombstonePruning sets how long removed files are remembered and how
// often they are pruned. A zero interval disables pruning.
func WithTombstonePruning(retention, interval time.Duration) Option {
	return func(m *Manager) {
		m.tombstoneRetention = retention
		m.pruneInterval = interval
	}
}

// OptionsFromConfig translates a loaded configuration into options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithWatchOptions(watcher.Options{
			Include:         cfg.Watch.Include,
			Exclude:         cfg.Watch.Exclude,
			PollInterval:    cfg.PollIntervalDuration(),
			EventBufferSize: cfg.Watch.EventBufferSize,
			RenameWindow:    cfg.RenameWindowDuration(),
			ChangeDebounce:  cfg.ChangeDebounceDuration(),
		}),
		WithBackend(cfg.Watch.Backend),
		WithLoader(text.FileLoader{MaxSize: cfg.Index.MaxFileSize}),
		WithParallelism(cfg.Query.Parallelism),
		WithCacheSize(cfg.Query.CacheSize),
		WithTombstonePruning(cfg.TombstoneRetentionDuration(), cfg.PruneIntervalDuration()),
	}
}
