package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	fierrors "github.com/enata/fileindexer/internal/errors"
)

// PollingBackend implements Backend by periodically listing each registered
// directory. Used where fsnotify is unavailable (network mounts, some
// container volumes). Renames surface as a remove followed by an add.
type PollingBackend struct {
	interval time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	dirs map[string]map[string]fileSnapshot

	events chan FileEvent
	errors chan error
	stopCh chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
	isDir   bool
}

var _ Backend = (*PollingBackend)(nil)

// NewPollingBackend creates a polling Backend using opts.PollInterval.
func NewPollingBackend(opts Options) *PollingBackend {
	opts = opts.WithDefaults()

	p := &PollingBackend{
		interval: opts.PollInterval,
		logger:   opts.Logger,
		dirs:     make(map[string]map[string]fileSnapshot),
		events:   make(chan FileEvent, opts.EventBufferSize),
		errors:   make(chan error, 10),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Add records a baseline listing of dir; later polls report differences.
func (p *PollingBackend) Add(dir string) error {
	snapshot, err := scanDir(dir)
	if err != nil {
		return fierrors.New(fierrors.ErrCodeWatchFailed, "watch "+dir, err).WithDetail("path", dir)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dirs[dir] = snapshot
	return nil
}

// Remove forgets dir.
func (p *PollingBackend) Remove(dir string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.dirs[dir]; !ok {
		return fmt.Errorf("not watching %s", dir)
	}
	delete(p.dirs, dir)
	return nil
}

// Events returns the channel of raw events.
func (p *PollingBackend) Events() <-chan FileEvent {
	return p.events
}

// Errors returns the channel of errors.
func (p *PollingBackend) Errors() <-chan error {
	return p.errors
}

// Close stops polling.
func (p *PollingBackend) Close() error {
	p.closeOnce.Do(func() {
		close(p.stopCh)
		<-p.done
	})
	return nil
}

func (p *PollingBackend) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			if !p.poll() {
				return
			}
		}
	}
}

// poll diffs every registered directory once. Returns false when stopped.
func (p *PollingBackend) poll() bool {
	p.mu.Lock()
	dirs := make([]string, 0, len(p.dirs))
	for dir := range p.dirs {
		dirs = append(dirs, dir)
	}
	p.mu.Unlock()
	sort.Strings(dirs)

	for _, dir := range dirs {
		current, err := scanDir(dir)
		if err != nil {
			// The parent's listing reports the directory itself going away
			p.logger.Debug("poll skipped directory", slog.String("path", dir), slog.String("error", err.Error()))
			continue
		}

		p.mu.Lock()
		previous, ok := p.dirs[dir]
		if ok {
			p.dirs[dir] = current
		}
		p.mu.Unlock()
		if !ok {
			continue
		}

		for _, ev := range detectChanges(dir, previous, current) {
			select {
			case p.events <- ev:
			case <-p.stopCh:
				return false
			}
		}
	}
	return true
}

// detectChanges compares two listings of dir. Removals come first so a
// replaced file is seen as remove then add.
func detectChanges(dir string, previous, current map[string]fileSnapshot) []FileEvent {
	now := time.Now()
	var removed, added, changed []string

	for name := range previous {
		if _, ok := current[name]; !ok {
			removed = append(removed, name)
		}
	}
	for name, snap := range current {
		prev, ok := previous[name]
		switch {
		case !ok:
			added = append(added, name)
		case prev.isDir != snap.isDir:
			removed = append(removed, name)
			added = append(added, name)
		case !snap.isDir && (prev.modTime != snap.modTime || prev.size != snap.size):
			changed = append(changed, name)
		}
	}
	sort.Strings(removed)
	sort.Strings(added)
	sort.Strings(changed)

	events := make([]FileEvent, 0, len(removed)+len(added)+len(changed))
	for _, name := range removed {
		events = append(events, FileEvent{Path: Canonical(filepath.Join(dir, name)), Operation: OpRemove, IsDir: previous[name].isDir, Timestamp: now})
	}
	for _, name := range added {
		events = append(events, FileEvent{Path: Canonical(filepath.Join(dir, name)), Operation: OpAdd, IsDir: current[name].isDir, Timestamp: now})
	}
	for _, name := range changed {
		events = append(events, FileEvent{Path: Canonical(filepath.Join(dir, name)), Operation: OpChange, Timestamp: now})
	}
	return events
}

// scanDir lists the direct entries of dir.
func scanDir(dir string) (map[string]fileSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]fileSnapshot, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue // vanished between ReadDir and Info
		}
		snapshot[e.Name()] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
			isDir:   e.IsDir(),
		}
	}
	return snapshot, nil
}
