package tree

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/enata/fileindexer/internal/watcher"
)

const (
	rootIndex = 0
	noParent  = -1
)

// node is one directory in the arena. children, filter and adapter are
// guarded by mu. name, path, parent and detached only change while the
// session's ordering lock is held exclusively.
type node struct {
	idx    int
	name   string
	path   string
	parent int

	detached bool

	mu       sync.Mutex
	children map[string]int
	filter   Filter
	adapter  *watcher.Adapter
}

func (n *node) child(name string) (int, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	idx, ok := n.children[name]
	return idx, ok
}

func (n *node) childIndices() []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]int, 0, len(names))
	for _, name := range names {
		out = append(out, n.children[name])
	}
	return out
}

func (n *node) watch() *watcher.Adapter {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.adapter
}

func (n *node) enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.filter.Enabled()
}

func (n *node) passes(path string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.filter.Passes(path)
}

// tagged is an adapter event travelling towards the root together with
// its monitoring verdict. wasMonitored applies to the old path of renames.
type tagged struct {
	ev           watcher.FileEvent
	monitored    bool
	wasMonitored bool
}

// nodeHandler connects a node's adapter to the tree.
type nodeHandler struct {
	tree *Tree
	idx  int
}

func (h nodeHandler) HandleFileEvent(ev watcher.FileEvent) {
	h.tree.emit(h.idx, ev)
}

func (h nodeHandler) HandleDirEvent(ev watcher.FileEvent) {
	h.tree.handleDirEvent(h.idx, ev)
}

// emit tags an event of node idx with that node's own verdict and sends it
// to the parent.
func (t *Tree) emit(idx int, ev watcher.FileEvent) {
	n := t.node(idx)
	if n.detached {
		return
	}

	msg := tagged{ev: ev, monitored: n.passes(ev.Path)}
	if ev.Operation == watcher.OpRename {
		if ev.Synthetic {
			// Forced renames follow a directory move under the same parent,
			// so the verdict cannot change.
			msg.wasMonitored = msg.monitored
		} else {
			msg.wasMonitored = n.passes(ev.OldPath)
		}
	}
	if n.enabled() {
		msg.monitored = true
		msg.wasMonitored = true
	}
	t.forward(n.parent, msg)
}

// forward walks msg up the parent chain, folding in every ancestor's
// whole-folder flag, and hands it to the root.
func (t *Tree) forward(idx int, msg tagged) {
	for idx != noParent {
		n := t.node(idx)
		if n.detached {
			return
		}
		if n.enabled() {
			msg.monitored = true
			msg.wasMonitored = true
		}
		if idx == rootIndex {
			t.deliver(msg)
			return
		}
		idx = n.parent
	}
}

// deliver applies the root's rule: only monitored events leave the tree.
// A rename that crosses the monitoring boundary becomes a remove or an add.
func (t *Tree) deliver(msg tagged) {
	ev := msg.ev
	if ev.Operation != watcher.OpRename {
		if msg.monitored {
			t.publish(ev)
		}
		return
	}

	switch {
	case msg.monitored && msg.wasMonitored:
		t.publish(ev)
	case msg.wasMonitored:
		t.publish(watcher.FileEvent{Path: ev.OldPath, Operation: watcher.OpRemove, Synthetic: ev.Synthetic, Timestamp: ev.Timestamp})
	case msg.monitored:
		t.publish(watcher.FileEvent{Path: ev.Path, Operation: watcher.OpAdd, Synthetic: ev.Synthetic, Timestamp: ev.Timestamp})
	}
}

// inherited reports whether any strict ancestor of idx monitors whole folders.
func (t *Tree) inherited(idx int) bool {
	for p := t.node(idx).parent; p != noParent; p = t.node(p).parent {
		if t.node(p).enabled() {
			return true
		}
	}
	return false
}

// monitoredFiles collects the monitored, tracked files of the subtree at idx.
func (t *Tree) monitoredFiles(idx int) map[string]struct{} {
	out := make(map[string]struct{})
	t.collectMonitored(idx, t.inherited(idx), out)
	return out
}

func (t *Tree) collectMonitored(idx int, inherited bool, out map[string]struct{}) {
	n := t.node(idx)
	if a := n.watch(); a != nil {
		for _, path := range a.TrackedFiles() {
			if inherited || n.passes(path) {
				out[path] = struct{}{}
			}
		}
	}
	below := inherited || n.enabled()
	for _, c := range n.childIndices() {
		t.collectMonitored(c, below, out)
	}
}

// subtree lists idx and its descendants in pre-order.
func (t *Tree) subtree(idx int) []int {
	out := []int{idx}
	for _, c := range t.node(idx).childIndices() {
		out = append(out, t.subtree(c)...)
	}
	return out
}

func (t *Tree) childPath(parentIdx int, name string) string {
	if parentIdx == rootIndex {
		return name
	}
	return filepath.Join(t.node(parentIdx).path, name)
}
