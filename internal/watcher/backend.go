package watcher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	fierrors "github.com/enata/fileindexer/internal/errors"
)

// Backend delivers raw, non-recursive change notifications for a set of
// directories. Event paths are canonical; renames carry only the old path.
type Backend interface {
	// Add starts observing dir.
	Add(dir string) error
	// Remove stops observing dir. Removing an unknown dir is an error the
	// caller may ignore.
	Remove(dir string) error
	// Events returns the raw event stream.
	Events() <-chan FileEvent
	// Errors returns non-fatal backend errors.
	Errors() <-chan error
	// Close releases the backend. Safe to call multiple times.
	Close() error
}

// FSNotifyBackend implements Backend on top of fsnotify.
type FSNotifyBackend struct {
	fsw    *fsnotify.Watcher
	events chan FileEvent
	errors chan error
	stopCh chan struct{}
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ Backend = (*FSNotifyBackend)(nil)

// NewFSNotifyBackend creates an fsnotify-backed Backend.
func NewFSNotifyBackend(opts Options) (*FSNotifyBackend, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fierrors.New(fierrors.ErrCodeWatchFailed, "create fsnotify watcher", err)
	}

	b := &FSNotifyBackend{
		fsw:    fsw,
		events: make(chan FileEvent, opts.EventBufferSize),
		errors: make(chan error, 10),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}
	go b.run()
	return b, nil
}

// Add starts watching dir.
func (b *FSNotifyBackend) Add(dir string) error {
	if err := b.fsw.Add(dir); err != nil {
		return fierrors.New(fierrors.ErrCodeWatchFailed, "watch "+dir, err).WithDetail("path", dir)
	}
	return nil
}

// Remove stops watching dir.
func (b *FSNotifyBackend) Remove(dir string) error {
	return b.fsw.Remove(dir)
}

// Events returns the channel of raw events.
func (b *FSNotifyBackend) Events() <-chan FileEvent {
	return b.events
}

// Errors returns the channel of watcher errors.
func (b *FSNotifyBackend) Errors() <-chan error {
	return b.errors
}

// Close stops the event loop and closes the fsnotify watcher.
func (b *FSNotifyBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.closeErr = b.fsw.Close()
		<-b.done
	})
	return b.closeErr
}

func (b *FSNotifyBackend) run() {
	defer close(b.done)

	for {
		select {
		case <-b.stopCh:
			return
		case event, ok := <-b.fsw.Events:
			if !ok {
				return
			}
			b.handle(event)
		case err, ok := <-b.fsw.Errors:
			if !ok {
				return
			}
			b.emitError(err)
		}
	}
}

// handle converts an fsnotify event. fsnotify reports an in-directory
// rename as Rename(old) followed by Create(new); pairing happens in the
// adapter that owns the directory.
func (b *FSNotifyBackend) handle(event fsnotify.Event) {
	var op Operation
	switch {
	case event.Has(fsnotify.Create):
		op = OpAdd
	case event.Has(fsnotify.Write):
		op = OpChange
	case event.Has(fsnotify.Remove):
		op = OpRemove
	case event.Has(fsnotify.Rename):
		op = OpRename
	default:
		// Chmod and anything newer carry no content change
		return
	}

	ev := FileEvent{
		Path:      Canonical(event.Name),
		Operation: op,
		Timestamp: time.Now(),
	}

	select {
	case b.events <- ev:
	case <-b.stopCh:
	}
}

func (b *FSNotifyBackend) emitError(err error) {
	select {
	case b.errors <- err:
	default:
		b.logger.Warn("watcher error buffer full, dropping error", slog.String("error", err.Error()))
	}
}
