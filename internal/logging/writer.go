package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// RotatingWriter is an io.Writer that appends to a single log file and
// shifts it to numbered backups (path.1, path.2, ...) once it grows past a
// size limit. At most maxFiles backups are kept.
//
// Shifting takes an advisory lock on "<path>.lock"; a writer that loses the
// race keeps appending to its open file and retries on the next write.
type RotatingWriter struct {
	path     string
	limit    int64
	backups  int
	rotation *flock.Flock

	mu     sync.Mutex
	f      *os.File
	size   int64
	fsync  bool
	closed bool
}

// NewRotatingWriter opens (or creates) path for appending. A maxSizeMB of 0
// rotates before every write.
func NewRotatingWriter(path string, maxSizeMB, maxFiles int) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		limit:    int64(maxSizeMB) << 20,
		backups:  maxFiles,
		rotation: flock.New(path + ".lock"),
		fsync:    true,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

// SetImmediateSync controls whether every write is followed by fsync.
func (w *RotatingWriter) SetImmediateSync(enabled bool) {
	w.mu.Lock()
	w.fsync = enabled
	w.mu.Unlock()
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}

	if w.size+int64(len(p)) > w.limit {
		if err := w.shift(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}
	if w.f == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}

	n, err := w.f.Write(p)
	w.size += int64(n)
	if err == nil && w.fsync {
		_ = w.f.Sync()
	}
	return n, err
}

// Sync flushes buffered data to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	return w.f.Sync()
}

// Close closes the log file. Calling it twice is a no-op.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closed = true
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.f = f
	w.size = info.Size()
	return nil
}

func (w *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}

// shift moves path.N-1 to path.N down to path to path.1, dropping the
// oldest backup.
func (w *RotatingWriter) shift() error {
	ok, err := w.rotation.TryLock()
	if err != nil {
		return fmt.Errorf("lock log for rotation: %w", err)
	}
	if !ok {
		return nil
	}
	defer func() { _ = w.rotation.Unlock() }()

	if w.f != nil {
		err := w.f.Close()
		w.f = nil
		if err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
	}

	if w.backups < 1 {
		if err := os.Remove(w.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("truncate log file: %w", err)
		}
		return w.open()
	}

	_ = os.Remove(w.backup(w.backups))
	for n := w.backups - 1; n >= 1; n-- {
		if err := os.Rename(w.backup(n), w.backup(n+1)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("shift %s: %w", w.backup(n), err)
		}
	}
	if err := os.Rename(w.path, w.backup(1)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("rotate log file: %w", err)
	}
	return w.open()
}
