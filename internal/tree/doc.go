// Package tree implements the observation tree: a node per directory
// along every watched path, each with its own watch adapter, joined into
// one stream of monitored file events.
//
// A file is monitored when it lies in a directory with whole-folder
// monitoring enabled (AddDirectory), below such a directory, or was
// registered individually (AddFile). Events for other tracked files are
// dropped at the root. Switching monitoring on or off publishes the
// resulting adds or removes, so a sink sees a consistent picture without
// rescanning.
//
// Directory renames relocate the node and redirect every adapter below it;
// directory removals publish removes for every file below before the
// subtree is detached.
package tree
