package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/enata/fileindexer/internal/logging"
)

// Watch backends.
const (
	BackendFSNotify = "fsnotify"
	BackendPoll     = "poll"
)

// Config represents the complete fileindexer configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Query   QueryConfig   `yaml:"query" json:"query"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// WatchConfig configures which files are observed and how.
type WatchConfig struct {
	// Include lists glob patterns matched against file names (default: *.txt).
	Include []string `yaml:"include" json:"include"`
	// Exclude lists doublestar patterns matched against full paths.
	Exclude []string `yaml:"exclude" json:"exclude"`
	// Backend is "fsnotify" (default) or "poll".
	Backend string `yaml:"backend" json:"backend"`
	// PollInterval is the scan period for the poll backend (e.g., "2s").
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
	// EventBufferSize is the capacity of each event queue.
	EventBufferSize int `yaml:"event_buffer_size" json:"event_buffer_size"`
	// RenameWindow is how long a rename waits for its matching create (e.g., "50ms").
	RenameWindow string `yaml:"rename_window" json:"rename_window"`
	// ChangeDebounce coalesces repeated writes to one file (e.g., "20ms"; "0s" disables).
	ChangeDebounce string `yaml:"change_debounce" json:"change_debounce"`
}

// IndexConfig configures the inverted index.
type IndexConfig struct {
	// TombstoneRetention is how long a removed file's timestamp is kept (e.g., "10m").
	TombstoneRetention string `yaml:"tombstone_retention" json:"tombstone_retention"`
	// PruneInterval is how often tombstones are pruned (e.g., "1m").
	PruneInterval string `yaml:"prune_interval" json:"prune_interval"`
	// MaxFileSize is the largest file in bytes that is loaded (0 = unlimited).
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`
}

// QueryConfig configures query evaluation.
type QueryConfig struct {
	// Parallelism bounds concurrent subquery evaluation.
	Parallelism int `yaml:"parallelism" json:"parallelism"`
	// CacheSize is the number of cached query results (0 disables the cache).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LoggingConfig configures the log sink.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// defaultExcludePatterns are always excluded.
var defaultExcludePatterns = []string{
	"**/.git/**",
	"**/.svn/**",
	"**/node_modules/**",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	exclude := make([]string, len(defaultExcludePatterns))
	copy(exclude, defaultExcludePatterns)

	return &Config{
		Version: 1,
		Watch: WatchConfig{
			Include:         []string{"*.txt"},
			Exclude:         exclude,
			Backend:         BackendFSNotify,
			PollInterval:    "2s",
			EventBufferSize: 1000,
			RenameWindow:    "50ms",
			ChangeDebounce:  "20ms",
		},
		Index: IndexConfig{
			TombstoneRetention: "10m",
			PruneInterval:      "1m",
			MaxFileSize:        64 * 1024 * 1024,
		},
		Query: QueryConfig{
			Parallelism: runtime.NumCPU(),
			CacheSize:   256,
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      logging.DefaultLogPath(),
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/fileindexer/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/fileindexer/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fileindexer", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fileindexer", "config.yaml")
	}
	return filepath.Join(home, ".config", "fileindexer", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// LoadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func LoadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()

	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := cfg.readYAML(configPath); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}

	return &cfg, nil
}

// Load loads configuration for the given working directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/fileindexer/config.yaml)
//  3. Project config (.fileindexer.yaml in dir)
//  4. Environment variables (FILEINDEXER_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := LoadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ProjectConfigPath returns the project config file in dir, or "" if none exists.
func ProjectConfigPath(dir string) string {
	for _, name := range []string{".fileindexer.yaml", ".fileindexer.yml"} {
		p := filepath.Join(dir, name)
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// loadFromFile merges .fileindexer.yaml (or .yml) from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	path := ProjectConfigPath(dir)
	if path == "" {
		return nil
	}

	var parsed Config
	if err := parsed.readYAML(path); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

// readYAML decodes a YAML file into c without applying defaults.
func (c *Config) readYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Watch
	if len(other.Watch.Include) > 0 {
		c.Watch.Include = other.Watch.Include
	}
	if len(other.Watch.Exclude) > 0 {
		// Merge with defaults rather than replace
		c.Watch.Exclude = appendUnique(c.Watch.Exclude, other.Watch.Exclude...)
	}
	if other.Watch.Backend != "" {
		c.Watch.Backend = other.Watch.Backend
	}
	if other.Watch.PollInterval != "" {
		c.Watch.PollInterval = other.Watch.PollInterval
	}
	if other.Watch.EventBufferSize != 0 {
		c.Watch.EventBufferSize = other.Watch.EventBufferSize
	}
	if other.Watch.RenameWindow != "" {
		c.Watch.RenameWindow = other.Watch.RenameWindow
	}
	if other.Watch.ChangeDebounce != "" {
		c.Watch.ChangeDebounce = other.Watch.ChangeDebounce
	}

	// Index
	if other.Index.TombstoneRetention != "" {
		c.Index.TombstoneRetention = other.Index.TombstoneRetention
	}
	if other.Index.PruneInterval != "" {
		c.Index.PruneInterval = other.Index.PruneInterval
	}
	if other.Index.MaxFileSize != 0 {
		c.Index.MaxFileSize = other.Index.MaxFileSize
	}

	// Query
	if other.Query.Parallelism != 0 {
		c.Query.Parallelism = other.Query.Parallelism
	}
	if other.Query.CacheSize != 0 {
		c.Query.CacheSize = other.Query.CacheSize
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies FILEINDEXER_* environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FILEINDEXER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FILEINDEXER_WATCH_BACKEND"); v != "" {
		c.Watch.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("FILEINDEXER_INCLUDE"); v != "" {
		var include []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				include = append(include, p)
			}
		}
		if len(include) > 0 {
			c.Watch.Include = include
		}
	}
	if v := os.Getenv("FILEINDEXER_QUERY_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Query.Parallelism = n
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if len(c.Watch.Include) == 0 {
		return fmt.Errorf("watch.include must list at least one pattern")
	}

	switch c.Watch.Backend {
	case BackendFSNotify, BackendPoll:
	default:
		return fmt.Errorf("watch.backend must be 'fsnotify' or 'poll', got %s", c.Watch.Backend)
	}

	if c.Watch.EventBufferSize <= 0 {
		return fmt.Errorf("watch.event_buffer_size must be positive, got %d", c.Watch.EventBufferSize)
	}

	durations := map[string]string{
		"watch.poll_interval":       c.Watch.PollInterval,
		"watch.rename_window":       c.Watch.RenameWindow,
		"watch.change_debounce":     c.Watch.ChangeDebounce,
		"index.tombstone_retention": c.Index.TombstoneRetention,
		"index.prune_interval":      c.Index.PruneInterval,
	}
	for name, v := range durations {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s must be a duration, got %q: %w", name, v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, v)
		}
	}

	if c.Index.MaxFileSize < 0 {
		return fmt.Errorf("index.max_file_size must be non-negative, got %d", c.Index.MaxFileSize)
	}
	if c.Query.Parallelism <= 0 {
		return fmt.Errorf("query.parallelism must be positive, got %d", c.Query.Parallelism)
	}
	if c.Query.CacheSize < 0 {
		return fmt.Errorf("query.cache_size must be non-negative, got %d", c.Query.CacheSize)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	return nil
}

// PollIntervalDuration returns watch.poll_interval as a time.Duration.
func (c *Config) PollIntervalDuration() time.Duration {
	return parseDurationOr(c.Watch.PollInterval, 2*time.Second)
}

// RenameWindowDuration returns watch.rename_window as a time.Duration.
func (c *Config) RenameWindowDuration() time.Duration {
	return parseDurationOr(c.Watch.RenameWindow, 50*time.Millisecond)
}

// ChangeDebounceDuration returns watch.change_debounce as a time.Duration.
func (c *Config) ChangeDebounceDuration() time.Duration {
	return parseDurationOr(c.Watch.ChangeDebounce, 20*time.Millisecond)
}

// TombstoneRetentionDuration returns index.tombstone_retention as a time.Duration.
func (c *Config) TombstoneRetentionDuration() time.Duration {
	return parseDurationOr(c.Index.TombstoneRetention, 10*time.Minute)
}

// PruneIntervalDuration returns index.prune_interval as a time.Duration.
func (c *Config) PruneIntervalDuration() time.Duration {
	return parseDurationOr(c.Index.PruneInterval, time.Minute)
}

// LoggingConfig converts the logging section to a logging.Config.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		FilePath:  c.Logging.File,
		MaxSizeMB: c.Logging.MaxSizeMB,
		MaxFiles:  c.Logging.MaxFiles,
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
