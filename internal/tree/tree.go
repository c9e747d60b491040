package tree

import (
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	fierrors "github.com/enata/fileindexer/internal/errors"
	"github.com/enata/fileindexer/internal/logging"
	"github.com/enata/fileindexer/internal/watcher"
)

// Sink receives the monitored events that leave the tree.
type Sink interface {
	HandleEvent(ev watcher.FileEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev watcher.FileEvent)

// HandleEvent calls f(ev).
func (f SinkFunc) HandleEvent(ev watcher.FileEvent) { f(ev) }

// Tree mirrors the observed directory hierarchy. Every directory along an
// added path gets a node with its own watch adapter; events travel from the
// node that saw them to the root, which forwards the monitored ones to the
// subscribed sinks.
//
// Nodes live in an arena and refer to each other by index. They are created
// on first use and kept when monitoring is switched off; only directories
// that disappear from disk are detached.
type Tree struct {
	session *watcher.Session
	logger  *slog.Logger

	mu     sync.RWMutex
	nodes  []*node
	sinks  []Sink
	closed bool
}

// New creates an empty tree observing through session. The tree takes
// ownership of the session and closes it on Close.
func New(session *watcher.Session, logger *slog.Logger) *Tree {
	return &Tree{
		session: session,
		logger:  logging.OrDefault(logger),
		nodes: []*node{{
			idx:      rootIndex,
			parent:   noParent,
			children: make(map[string]int),
		}},
	}
}

// Subscribe registers a sink for monitored events.
func (t *Tree) Subscribe(s Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks = append(t.sinks, s)
}

// AddDirectory enables whole-folder monitoring for path and materializes
// nodes for its existing subdirectories. Files that become monitored are
// published as adds.
func (t *Tree) AddDirectory(path string) error {
	path = watcher.Canonical(path)

	lock := t.session.Lock()
	lock.Lock()
	defer lock.Unlock()

	if t.isClosed() {
		return watcher.ErrSessionClosed
	}

	idx, err := t.reach(path)
	if err != nil {
		return err
	}
	n := t.node(idx)

	if !n.enabled() {
		before := t.monitoredFiles(idx)
		n.mu.Lock()
		n.filter.SetEnabled(true)
		n.mu.Unlock()
		after := t.monitoredFiles(idx)
		t.publishDiff(after, before, watcher.OpAdd)
	}

	t.materialize(idx)
	return nil
}

// AddFile registers path for individual monitoring without enabling
// whole-folder monitoring for its directory.
func (t *Tree) AddFile(path string) error {
	path = watcher.Canonical(path)

	lock := t.session.Lock()
	lock.Lock()
	defer lock.Unlock()

	if t.isClosed() {
		return watcher.ErrSessionClosed
	}

	idx, err := t.reach(filepath.Dir(path))
	if err != nil {
		return err
	}
	n := t.node(idx)
	a := n.watch()

	was := a.Tracks(path) && t.monitors(idx, path)

	n.mu.Lock()
	n.filter.Add(path)
	n.mu.Unlock()

	if a.Include(path) && !was {
		t.publish(watcher.FileEvent{Path: path, Operation: watcher.OpAdd, Synthetic: true})
	}
	return nil
}

// TryRemoveDirectory disables whole-folder monitoring for path and
// publishes removes for the files that stop being monitored. Returns false
// when no node was ever created for path.
func (t *Tree) TryRemoveDirectory(path string) bool {
	path = watcher.Canonical(path)

	lock := t.session.Lock()
	lock.Lock()
	defer lock.Unlock()

	idx, ok := t.find(path)
	if !ok {
		return false
	}
	n := t.node(idx)

	if n.enabled() {
		before := t.monitoredFiles(idx)
		n.mu.Lock()
		n.filter.SetEnabled(false)
		n.mu.Unlock()
		after := t.monitoredFiles(idx)
		t.publishDiff(before, after, watcher.OpRemove)
	}
	return true
}

// TryRemoveFile unregisters an individually monitored file. Returns false
// when the file was never registered.
func (t *Tree) TryRemoveFile(path string) bool {
	path = watcher.Canonical(path)

	lock := t.session.Lock()
	lock.Lock()
	defer lock.Unlock()

	idx, ok := t.find(filepath.Dir(path))
	if !ok {
		return false
	}
	n := t.node(idx)

	n.mu.Lock()
	registered := n.filter.Has(path)
	n.mu.Unlock()
	if !registered {
		return false
	}

	a := n.watch()
	was := a != nil && a.Tracks(path) && t.monitors(idx, path)

	n.mu.Lock()
	n.filter.Remove(path)
	n.mu.Unlock()
	if a != nil {
		a.Release(path)
	}

	now := a != nil && a.Tracks(path) && t.monitors(idx, path)
	if was && !now {
		t.publish(watcher.FileEvent{Path: path, Operation: watcher.OpRemove, Synthetic: true})
	}
	return true
}

// Close stops every adapter and closes the session.
func (t *Tree) Close() error {
	lock := t.session.Lock()
	lock.Lock()
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		lock.Unlock()
		return nil
	}
	t.closed = true
	nodes := append([]*node(nil), t.nodes...)
	t.mu.Unlock()

	for _, n := range nodes {
		if a := n.watch(); a != nil {
			a.Close()
		}
	}
	lock.Unlock()

	return t.session.Close()
}

func (t *Tree) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *Tree) node(idx int) *node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[idx]
}

// monitors reports whether path in node idx is monitored.
func (t *Tree) monitors(idx int, path string) bool {
	return t.node(idx).passes(path) || t.inherited(idx)
}

// find returns the node for dir without creating anything.
func (t *Tree) find(dir string) (int, bool) {
	idx := rootIndex
	for _, seg := range watcher.Segments(dir) {
		c, ok := t.node(idx).child(seg)
		if !ok {
			return 0, false
		}
		idx = c
	}
	return idx, true
}

// reach returns the node for dir, creating missing nodes along the way.
// It fails when dir itself cannot be watched.
func (t *Tree) reach(dir string) (int, error) {
	idx := rootIndex
	for _, seg := range watcher.Segments(dir) {
		c, ok := t.node(idx).child(seg)
		if !ok {
			c = t.newChild(idx, seg)
		}
		idx = c
	}

	if t.node(idx).watch() == nil {
		return 0, fierrors.New(fierrors.ErrCodeWatchFailed, "cannot watch "+dir, nil).WithDetail("path", dir)
	}
	return idx, nil
}

// newChild creates a node for name under parentIdx and starts its adapter.
// The adapter's initial adds travel through the tree before it returns.
func (t *Tree) newChild(parentIdx int, name string) int {
	n := &node{
		name:     name,
		path:     t.childPath(parentIdx, name),
		parent:   parentIdx,
		children: make(map[string]int),
	}

	t.mu.Lock()
	n.idx = len(t.nodes)
	t.nodes = append(t.nodes, n)
	t.mu.Unlock()

	parent := t.node(parentIdx)
	parent.mu.Lock()
	parent.children[name] = n.idx
	parent.mu.Unlock()

	a, err := watcher.NewAdapter(t.session, n.path, nodeHandler{tree: t, idx: n.idx})
	if err != nil {
		t.logger.Warn("failed to watch directory",
			append([]any{slog.String("path", n.path)}, fierrors.LogAttrs(err)...)...)
		return n.idx
	}
	n.mu.Lock()
	n.adapter = a
	n.mu.Unlock()
	return n.idx
}

// materialize creates nodes for the existing subdirectories below idx.
func (t *Tree) materialize(idx int) {
	n := t.node(idx)
	a := n.watch()
	if a == nil {
		return
	}
	for _, sub := range a.Subdirs() {
		name := filepath.Base(sub)
		c, ok := n.child(name)
		if !ok {
			c = t.newChild(idx, name)
		}
		t.materialize(c)
	}
}

// handleDirEvent reacts to a subdirectory change reported by node idx.
func (t *Tree) handleDirEvent(idx int, ev watcher.FileEvent) {
	n := t.node(idx)
	if n.detached {
		return
	}

	switch ev.Operation {
	case watcher.OpAdd:
		if !n.enabled() && !t.inherited(idx) {
			return
		}
		name := filepath.Base(ev.Path)
		if _, ok := n.child(name); ok {
			return
		}
		t.materialize(t.newChild(idx, name))
	case watcher.OpRemove:
		t.removeChild(idx, filepath.Base(ev.Path))
	case watcher.OpRename:
		t.renameChild(idx, filepath.Base(ev.OldPath), filepath.Base(ev.Path))
	}
}

// removeChild publishes removes for every file below the child, then
// detaches the child's subtree.
func (t *Tree) removeChild(parentIdx int, name string) {
	parent := t.node(parentIdx)
	c, ok := parent.child(name)
	if !ok {
		return
	}

	sub := t.subtree(c)
	for _, i := range sub {
		if a := t.node(i).watch(); a != nil {
			a.ForceRemoveEvent()
		}
	}
	for _, i := range sub {
		n := t.node(i)
		n.mu.Lock()
		a := n.adapter
		n.adapter = nil
		n.mu.Unlock()
		if a != nil {
			a.Close()
		}
		n.detached = true
	}

	parent.mu.Lock()
	delete(parent.children, name)
	parent.mu.Unlock()
	t.node(c).parent = noParent

	t.logger.Debug("directory removed", slog.String("path", t.node(c).path), slog.Int("nodes", len(sub)))
}

// renameChild moves the child oldName to newName and redirects every
// adapter in its subtree.
func (t *Tree) renameChild(parentIdx int, oldName, newName string) {
	parent := t.node(parentIdx)
	c, ok := parent.child(oldName)
	if !ok {
		// Never materialized; it is new here as far as the tree knows.
		t.handleDirEvent(parentIdx, watcher.FileEvent{Path: t.childPath(parentIdx, newName), Operation: watcher.OpAdd, IsDir: true})
		return
	}
	if existing, clash := parent.child(newName); clash && existing != c {
		t.removeChild(parentIdx, newName)
	}

	parent.mu.Lock()
	delete(parent.children, oldName)
	parent.children[newName] = c
	parent.mu.Unlock()

	n := t.node(c)
	oldPath := n.path
	n.name = newName
	t.relocate(c, t.childPath(parentIdx, newName))

	t.logger.Debug("directory renamed", slog.String("old_path", oldPath), slog.String("new_path", n.path))
}

// relocate gives node idx and its descendants their new paths.
func (t *Tree) relocate(idx int, newPath string) {
	n := t.node(idx)
	oldPath := n.path
	n.path = newPath

	n.mu.Lock()
	n.filter.RewritePrefix(oldPath, newPath)
	a := n.adapter
	n.mu.Unlock()

	if a != nil {
		a.ForceRenameEvent(oldPath, newPath)
	}
	for _, c := range n.childIndices() {
		t.relocate(c, filepath.Join(newPath, t.node(c).name))
	}
}

func (t *Tree) publish(ev watcher.FileEvent) {
	t.mu.RLock()
	sinks := append([]Sink(nil), t.sinks...)
	t.mu.RUnlock()

	for _, s := range sinks {
		s.HandleEvent(ev)
	}
}

// publishDiff publishes op for every path in a that is not in b.
func (t *Tree) publishDiff(a, b map[string]struct{}, op watcher.Operation) {
	paths := make([]string, 0, len(a))
	for p := range a {
		if _, ok := b[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		t.publish(watcher.FileEvent{Path: p, Operation: op, Synthetic: true})
	}
}
