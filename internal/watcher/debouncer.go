package watcher

import (
	"sort"
	"time"
)

// Debouncer coalesces rapid change notifications per path so that an
// editor saving a file in several writes causes one reload, not one per
// write. A path becomes due once it has been quiet for the whole window:
//   - CHANGE + CHANGE = CHANGE (latest wins, deadline pushed back)
//   - CHANGE + REMOVE = REMOVE (the caller drops the path with Take)
//   - CHANGE + RENAME = RENAME + CHANGE under the new name
//
// Only changes are buffered; adds, removes and renames pass straight
// through the adapter. A Debouncer belongs to one adapter goroutine and
// is not safe for concurrent use.
type Debouncer struct {
	window  time.Duration
	pending map[string]time.Time
	timer   *time.Timer
}

// NewDebouncer creates a debouncer with the given quiet window. With a zero
// window nothing should be buffered; callers check Enabled.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]time.Time),
	}
}

// Enabled reports whether changes are buffered at all.
func (d *Debouncer) Enabled() bool {
	return d.window > 0
}

// Add records a change to path seen at now.
func (d *Debouncer) Add(path string, now time.Time) {
	d.pending[path] = now
	if d.timer == nil {
		d.timer = time.NewTimer(d.window)
	}
}

// Take drops path and reports whether a change was pending for it.
func (d *Debouncer) Take(path string) bool {
	_, ok := d.pending[path]
	delete(d.pending, path)
	return ok
}

// Len returns the number of paths with a pending change.
func (d *Debouncer) Len() int {
	return len(d.pending)
}

// C fires when the earliest pending path may be due. It is nil while
// nothing is pending.
func (d *Debouncer) C() <-chan time.Time {
	if d.timer == nil {
		return nil
	}
	return d.timer.C
}

// Due removes and returns, sorted, the paths that have been quiet for the
// window as of now, and re-arms the timer for the rest. Call it after C
// fired.
func (d *Debouncer) Due(now time.Time) []string {
	d.Stop()

	var due []string
	var next time.Duration
	for path, last := range d.pending {
		wait := last.Add(d.window).Sub(now)
		if wait <= 0 {
			due = append(due, path)
			continue
		}
		if next == 0 || wait < next {
			next = wait
		}
	}
	for _, path := range due {
		delete(d.pending, path)
	}
	if next > 0 {
		d.timer = time.NewTimer(next)
	}

	sort.Strings(due)
	return due
}

// Stop cancels the timer. Pending paths are kept.
func (d *Debouncer) Stop() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
