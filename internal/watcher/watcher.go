package watcher

import (
	"fmt"
	"log/slog"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpAdd indicates a file or directory appeared.
	OpAdd Operation = iota
	// OpChange indicates an existing file was modified.
	OpChange
	// OpRemove indicates a file or directory is gone.
	OpRemove
	// OpRename indicates a file or directory was renamed. Backends emit it
	// with only Path set (the old name); adapters pair it with the following
	// add and emit it with both OldPath and Path.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpAdd:
		return "ADD"
	case OpChange:
		return "CHANGE"
	case OpRemove:
		return "REMOVE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is the canonical absolute path of the file or directory.
	// For renames it is the new path.
	Path string

	// OldPath is the previous path for rename events.
	// Empty for non-rename events.
	OldPath string

	// Operation is the type of file system operation.
	Operation Operation

	// IsDir indicates if the event is for a directory.
	IsDir bool

	// Synthetic is set on events an adapter generated itself (initial scan,
	// forced resync) rather than observed from the backend.
	Synthetic bool

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// String renders the event for logs and test failures.
func (e FileEvent) String() string {
	if e.Operation == OpRename && e.OldPath != "" {
		return fmt.Sprintf("%s %s -> %s", e.Operation, e.OldPath, e.Path)
	}
	return fmt.Sprintf("%s %s", e.Operation, e.Path)
}

// Handler receives the normalized events of one adapter.
//
// HandleFileEvent is invoked for files that pass the adapter's matcher.
// HandleDirEvent is invoked for direct subdirectories (add, remove, rename).
// Both are called synchronously from the adapter while the session's
// ordering lock is held in the appropriate mode.
type Handler interface {
	HandleFileEvent(ev FileEvent)
	HandleDirEvent(ev FileEvent)
}

// Options configures the watcher behavior.
type Options struct {
	// Include lists glob patterns for files to observe.
	// Patterns without a separator are matched against the file name.
	// Default: ["*.txt"]
	Include []string

	// Exclude lists doublestar patterns matched against the full path.
	// Excluded directories are never materialized.
	Exclude []string

	// PollInterval is the scan interval for the polling backend.
	// Default: 2s
	PollInterval time.Duration

	// EventBufferSize is the size of each event queue.
	// Default: 1000
	EventBufferSize int

	// RenameWindow is how long a rename waits for the add that completes it
	// before it is treated as a removal.
	// Default: 50ms
	RenameWindow time.Duration

	// ChangeDebounce coalesces bursts of change notifications for the same
	// file: a change is reported once no further change for that file
	// arrived within this window. Zero reports every change immediately.
	ChangeDebounce time.Duration

	// Logger receives diagnostics. Default: slog.Default()
	Logger *slog.Logger
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Include:         []string{"*.txt"},
		PollInterval:    2 * time.Second,
		EventBufferSize: 1000,
		RenameWindow:    50 * time.Millisecond,
	}
}

// Validate validates the options and returns an error if invalid.
func (o Options) Validate() error {
	if o.EventBufferSize < 0 {
		return fmt.Errorf("event buffer size must be non-negative, got %d", o.EventBufferSize)
	}
	if o.RenameWindow < 0 {
		return fmt.Errorf("rename window must be non-negative, got %s", o.RenameWindow)
	}
	if o.ChangeDebounce < 0 {
		return fmt.Errorf("change debounce must be non-negative, got %s", o.ChangeDebounce)
	}
	_, err := NewMatcher(o.Include, o.Exclude)
	return err
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if len(o.Include) == 0 {
		o.Include = defaults.Include
	}
	if o.PollInterval == 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize == 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if o.RenameWindow == 0 {
		o.RenameWindow = defaults.RenameWindow
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}
