package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config describes where log records go and how the file is rotated.
type Config struct {
	Level    string // debug, info, warn or error
	FilePath string // empty logs to stderr only

	MaxSizeMB int
	MaxFiles  int

	// WriteToStderr mirrors file output to stderr.
	WriteToStderr bool
}

// DefaultConfig logs info and above to DefaultLogPath, rotating at 10 MB
// and keeping five backups.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		FilePath:  DefaultLogPath(),
		MaxSizeMB: 10,
		MaxFiles:  5,
	}
}

// DebugConfig is DefaultConfig at debug level, mirrored to stderr.
func DebugConfig() Config {
	c := DefaultConfig()
	c.Level, c.WriteToStderr = "debug", true
	return c
}

// Setup builds a JSON slog.Logger for cfg. The returned cleanup flushes and
// closes the log file and must be called before exit.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	handlerOpts := &slog.HandlerOptions{Level: LevelFromString(cfg.Level)}

	if cfg.FilePath == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), func() {}, nil
	}

	rw, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var sink io.Writer = rw
	if cfg.WriteToStderr {
		sink = io.MultiWriter(rw, os.Stderr)
	}

	cleanup := func() {
		_ = rw.Sync()
		_ = rw.Close()
	}
	return slog.New(slog.NewJSONHandler(sink, handlerOpts)), cleanup, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDefault returns l, or slog.Default() when l is nil.
func OrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// LevelFromString maps a level name to slog.Level, case-insensitively.
// Unknown names map to info.
func LevelFromString(level string) slog.Level {
	if l, ok := levels[strings.ToLower(level)]; ok {
		return l
	}
	return slog.LevelInfo
}

// ValidLevel reports whether level names a known log level.
func ValidLevel(level string) bool {
	_, ok := levels[strings.ToLower(level)]
	return ok
}
