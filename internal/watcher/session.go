package watcher

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	fierrors "github.com/enata/fileindexer/internal/errors"
)

// ErrSessionClosed is returned when registering an adapter on a closed session.
var ErrSessionClosed = fierrors.New(fierrors.ErrCodeWatcherClosed, "watch session is closed", nil)

// OrderingLock serializes structural changes (directory rename and removal,
// monitoring toggles) against ordinary file events.
//
// Ordinary add/change events hold it shared; renames and removals hold it
// exclusively. It is not reentrant: code running under either mode must not
// acquire it again.
type OrderingLock struct {
	mu sync.RWMutex
}

// Lock acquires the lock exclusively.
func (l *OrderingLock) Lock() { l.mu.Lock() }

// Unlock releases an exclusive hold.
func (l *OrderingLock) Unlock() { l.mu.Unlock() }

// RLock acquires the lock shared.
func (l *OrderingLock) RLock() { l.mu.RLock() }

// RUnlock releases a shared hold.
func (l *OrderingLock) RUnlock() { l.mu.RUnlock() }

// Session owns one Backend and routes its events to the Adapter registered
// for each event's parent directory. All adapters of a session share its
// OrderingLock and Matcher.
type Session struct {
	// ID identifies the session in logs.
	ID string

	opts    Options
	backend Backend
	matcher *Matcher
	lock    *OrderingLock
	logger  *slog.Logger

	mu      sync.RWMutex
	routes  map[string]*Adapter
	aliases map[string]*Adapter
	closed  bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewSession starts routing events from backend. The session takes
// ownership of backend and closes it on Close.
func NewSession(backend Backend, opts Options) (*Session, error) {
	opts = opts.WithDefaults()

	matcher, err := NewMatcher(opts.Include, opts.Exclude)
	if err != nil {
		return nil, fierrors.ConfigError("invalid watch patterns", err)
	}

	id := uuid.NewString()
	s := &Session{
		ID:      id,
		opts:    opts,
		backend: backend,
		matcher: matcher,
		lock:    &OrderingLock{},
		logger:  opts.Logger.With(slog.String("session", id)),
		routes:  make(map[string]*Adapter),
		aliases: make(map[string]*Adapter),
		done:    make(chan struct{}),
	}

	s.wg.Add(1)
	go s.dispatch()
	return s, nil
}

// NewDefaultSession creates a session on a fresh fsnotify backend, falling
// back to polling when fsnotify cannot be initialized.
func NewDefaultSession(opts Options) (*Session, error) {
	opts = opts.WithDefaults()

	var backend Backend
	fsb, err := NewFSNotifyBackend(opts)
	if err != nil {
		opts.Logger.Warn("fsnotify unavailable, falling back to polling", slog.String("error", err.Error()))
		backend = NewPollingBackend(opts)
	} else {
		backend = fsb
	}
	return NewSession(backend, opts)
}

// Lock returns the session's ordering lock.
func (s *Session) Lock() *OrderingLock {
	return s.lock
}

// Matcher returns the session's file matcher.
func (s *Session) Matcher() *Matcher {
	return s.matcher
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// Close stops dispatching, closes the backend and waits for every adapter
// goroutine to exit. It must not be called while holding the ordering lock.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.done)
		s.closeErr = s.backend.Close()
		s.wg.Wait()
	})
	return s.closeErr
}

// register binds a's directory to a. Events routed before start queue up
// in the adapter's buffer.
func (s *Session) register(a *Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.routes[a.dir] = a
	return nil
}

// start launches the adapter goroutine.
func (s *Session) start(a *Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	s.wg.Add(1)
	go a.run()
	return nil
}

// reroute moves a from oldDir to newDir. oldDir stays as an alias so events
// the backend queued under the stale path still reach a. Each adapter keeps
// at most one alias, its latest stale path.
func (s *Session) reroute(a *Adapter, oldDir, newDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.routes[oldDir] == a {
		delete(s.routes, oldDir)
	}
	for dir, r := range s.aliases {
		if r == a {
			delete(s.aliases, dir)
		}
	}
	delete(s.aliases, newDir)
	s.aliases[oldDir] = a
	s.routes[newDir] = a
}

// unregister drops every route and alias pointing at a.
func (s *Session) unregister(a *Adapter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for dir, r := range s.routes {
		if r == a {
			delete(s.routes, dir)
		}
	}
	for dir, r := range s.aliases {
		if r == a {
			delete(s.aliases, dir)
		}
	}
}

// lookup finds the adapter for dir; exact routes win over aliases.
func (s *Session) lookup(dir string) *Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.routes[dir]; ok {
		return a
	}
	return s.aliases[dir]
}

func (s *Session) dispatch() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.backend.Events():
			if !ok {
				return
			}
			s.route(ev)
		case err, ok := <-s.backend.Errors():
			if !ok {
				return
			}
			s.logger.Warn("watch backend error", slog.String("error", err.Error()))
		}
	}
}

func (s *Session) route(ev FileEvent) {
	dir := filepath.Dir(ev.Path)
	if dir == ev.Path {
		// Events about a volume root have no parent to report them
		return
	}

	a := s.lookup(dir)
	if a == nil {
		s.logger.Debug("dropping event for unwatched directory",
			slog.String("path", ev.Path),
			slog.String("op", ev.Operation.String()))
		return
	}
	a.enqueue(ev, s.done)
}
