package output

import (
	"path/filepath"
	"strings"

	"github.com/disiqueira/gotree/v3"

	"github.com/enata/fileindexer/internal/tree"
)

const (
	markerWhole    = "[all]"
	markerExplicit = "+"
)

// RenderTree draws the observation tree topology. Directories monitored as
// a whole are marked [all]; individually registered files are marked +.
// Tracked files are listed under their directory.
func RenderTree(nodes []tree.NodeInfo, styles Styles) string {
	var sb strings.Builder
	for _, n := range nodes {
		t := gotree.New(dirLabel(n.Path, n.WholeFolder, styles))
		addChildren(t, n, styles)
		sb.WriteString(t.Print())
	}
	return sb.String()
}

func addChildren(t gotree.Tree, n tree.NodeInfo, styles Styles) {
	explicit := make(map[string]struct{}, len(n.Files))
	for _, f := range n.Files {
		explicit[f] = struct{}{}
	}

	for _, f := range n.Tracked {
		label := filepath.Base(f)
		if _, ok := explicit[f]; ok {
			label += " " + styles.Marker.Render(markerExplicit)
		} else if !n.WholeFolder {
			label = styles.Dim.Render(label)
		}
		t.Add(label)
	}

	for _, c := range n.Children {
		addChildren(t.Add(dirLabel(c.Name+string(filepath.Separator), c.WholeFolder, styles)), c, styles)
	}
}

func dirLabel(name string, whole bool, styles Styles) string {
	label := styles.Dir.Render(name)
	if whole {
		label += " " + styles.Marker.Render(markerWhole)
	}
	return label
}
