package tree

// NodeInfo describes one directory node for display.
type NodeInfo struct {
	Name        string     `json:"name"`
	Path        string     `json:"path"`
	WholeFolder bool       `json:"whole_folder"`
	Files       []string   `json:"files,omitempty"`   // individually registered
	Tracked     []string   `json:"tracked,omitempty"` // files the adapter currently tracks
	Children    []NodeInfo `json:"children,omitempty"`
}

// Snapshot returns the current topology, one entry per volume root.
func (t *Tree) Snapshot() []NodeInfo {
	lock := t.session.Lock()
	lock.RLock()
	defer lock.RUnlock()

	root := t.node(rootIndex)
	out := make([]NodeInfo, 0)
	for _, c := range root.childIndices() {
		out = append(out, t.describe(c))
	}
	return out
}

func (t *Tree) describe(idx int) NodeInfo {
	n := t.node(idx)

	n.mu.Lock()
	info := NodeInfo{
		Name:        n.name,
		Path:        n.path,
		WholeFolder: n.filter.Enabled(),
		Files:       n.filter.Files(),
	}
	a := n.adapter
	n.mu.Unlock()

	if a != nil {
		info.Tracked = a.TrackedFiles()
	}
	for _, c := range n.childIndices() {
		info.Children = append(info.Children, t.describe(c))
	}
	return info
}

// Find returns the snapshot entry for path, if present.
func Find(nodes []NodeInfo, path string) (NodeInfo, bool) {
	for _, n := range nodes {
		if n.Path == path {
			return n, true
		}
		if found, ok := Find(n.Children, path); ok {
			return found, true
		}
	}
	return NodeInfo{}, false
}
