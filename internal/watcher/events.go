package watcher

import (
	"os"
	"time"
)

// enqueue hands a backend event to the adapter goroutine. It blocks while
// the buffer is full and gives up only when the adapter or session stops.
func (a *Adapter) enqueue(ev FileEvent, sessionDone <-chan struct{}) {
	select {
	case a.queue <- ev:
	case <-a.done:
	case <-sessionDone:
	}
}

func (a *Adapter) run() {
	defer a.session.wg.Done()
	defer a.stopTimer()
	defer a.changes.Stop()

	for {
		var expired <-chan time.Time
		if a.timer != nil {
			expired = a.timer.C
		}

		select {
		case <-a.done:
			return
		case <-a.session.done:
			return
		case ev := <-a.queue:
			a.handle(ev)
		case <-expired:
			a.timer = nil
			a.withLock(true, a.flushPending)
		case <-a.changes.C():
			a.withLock(false, a.flushChanges)
		}
	}
}

func (a *Adapter) withLock(exclusive bool, fn func()) {
	lock := a.session.lock
	if exclusive {
		lock.Lock()
		defer lock.Unlock()
	} else {
		lock.RLock()
		defer lock.RUnlock()
	}
	if a.isClosed() {
		return
	}
	fn()
}

func (a *Adapter) handle(ev FileEvent) {
	exclusive := ev.Operation == OpRename || ev.Operation == OpRemove || a.pending != nil
	a.withLock(exclusive, func() { a.process(ev) })
}

func (a *Adapter) process(ev FileEvent) {
	path := a.correct(Canonical(ev.Path))

	if a.pending != nil {
		switch {
		case ev.Operation == OpAdd && a.completeRename(path):
			return
		case ev.Operation == OpRename && a.correct(a.pending.path) == path:
			// Duplicate notification for the rename already waiting.
			return
		}
		a.flushPending()
	}

	switch ev.Operation {
	case OpAdd:
		a.onAdd(path)
	case OpChange:
		a.onChange(path)
	case OpRemove:
		a.onRemove(path)
	case OpRename:
		a.onRenameFrom(path)
	}
}

func (a *Adapter) onAdd(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		// Gone again before we looked; its removal follows.
		return
	}

	if info.IsDir() {
		if !a.session.matcher.MatchDir(path) {
			return
		}
		a.mu.Lock()
		_, known := a.subdirs[path]
		a.subdirs[path] = info
		a.mu.Unlock()
		if !known {
			a.emitDir(FileEvent{Path: path, Operation: OpAdd})
		}
		return
	}

	if !isFileLike(path, info) || !a.matches(path) {
		return
	}
	a.mu.Lock()
	_, known := a.files[path]
	if !known {
		a.files[path] = info
	}
	a.mu.Unlock()

	if known {
		a.onChange(path)
		return
	}
	a.emitFile(FileEvent{Path: path, Operation: OpAdd})
}

func (a *Adapter) onChange(path string) {
	if !a.Tracks(path) {
		// A write to a file we never saw created.
		a.onAdd(path)
		return
	}
	if a.changes.Enabled() {
		a.changes.Add(path, time.Now())
		return
	}
	a.emitChange(path)
}

// emitChange reports a change to a tracked file and refreshes its recorded
// metadata. Files that vanished meanwhile are skipped; their removal follows.
func (a *Adapter) emitChange(path string) {
	info, err := os.Lstat(path)
	if err != nil {
		return
	}
	a.mu.Lock()
	_, ok := a.files[path]
	if ok {
		a.files[path] = info
	}
	a.mu.Unlock()
	if ok {
		a.emitFile(FileEvent{Path: path, Operation: OpChange})
	}
}

// flushChanges reports the debounced changes that have gone quiet. Paths
// no longer tracked, such as those rewritten by a redirect, are dropped.
func (a *Adapter) flushChanges() {
	for _, path := range a.changes.Due(time.Now()) {
		a.emitChange(path)
	}
}

func (a *Adapter) onRemove(path string) {
	a.mu.Lock()
	if _, ok := a.subdirs[path]; ok {
		delete(a.subdirs, path)
		a.mu.Unlock()
		a.emitDir(FileEvent{Path: path, Operation: OpRemove})
		return
	}
	if _, ok := a.files[path]; ok {
		delete(a.files, path)
		a.mu.Unlock()
		a.changes.Take(path)
		a.emitFile(FileEvent{Path: path, Operation: OpRemove})
		return
	}
	a.mu.Unlock()
}

// onRenameFrom parks the source side of a rename until its target shows
// up or the rename window expires.
func (a *Adapter) onRenameFrom(path string) {
	a.mu.Lock()
	var p *pendingRename
	if info, ok := a.subdirs[path]; ok {
		p = &pendingRename{path: path, isDir: true, info: info}
	} else if info, ok := a.files[path]; ok {
		p = &pendingRename{path: path, info: info}
	}
	a.mu.Unlock()

	if p == nil {
		return
	}
	p.changed = a.changes.Take(path)
	a.pending = p
	a.timer = time.NewTimer(a.session.opts.RenameWindow)
}

// completeRename pairs the pending source with newPath when both name the
// same file system object. Reports whether the pair was made.
func (a *Adapter) completeRename(newPath string) bool {
	p := a.pending
	info, err := os.Lstat(newPath)
	if err != nil || info.IsDir() != p.isDir {
		return false
	}
	if p.info != nil && !os.SameFile(p.info, info) {
		return false
	}
	a.stopTimer()
	a.pending = nil

	oldPath := a.correct(p.path)

	if p.isDir {
		keep := a.session.matcher.MatchDir(newPath)
		a.mu.Lock()
		delete(a.subdirs, oldPath)
		if keep {
			a.subdirs[newPath] = info
		}
		a.mu.Unlock()

		if keep {
			a.emitDir(FileEvent{Path: newPath, OldPath: oldPath, Operation: OpRename})
		} else {
			a.emitDir(FileEvent{Path: oldPath, Operation: OpRemove})
		}
		return true
	}

	keep := isFileLike(newPath, info) && a.matches(newPath)
	a.mu.Lock()
	delete(a.files, oldPath)
	if keep {
		a.files[newPath] = info
	}
	a.mu.Unlock()

	if !keep {
		a.emitFile(FileEvent{Path: oldPath, Operation: OpRemove})
		return true
	}
	a.emitFile(FileEvent{Path: newPath, OldPath: oldPath, Operation: OpRename})
	if p.changed {
		// The edit made before the rename still has to reach the new name.
		a.changes.Add(newPath, time.Now())
	}
	return true
}

// flushPending reports a rename whose target never appeared here as a removal.
func (a *Adapter) flushPending() {
	p := a.pending
	if p == nil {
		return
	}
	a.stopTimer()
	a.pending = nil
	a.onRemove(a.correct(p.path))
}

func (a *Adapter) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
