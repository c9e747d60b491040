package indexer

import (
	"time"

	"github.com/enata/fileindexer/pkg/query"
)

// Indexer defines the contract of a file indexer.
//
// Implementations must be safe for concurrent use.
type Indexer interface {
	// AddDirectories watches each directory and everything below it.
	//
	// Behavior:
	//   - A blank path fails the call before anything is added
	//   - Any other failure is logged and the remaining paths are processed
	//   - Adding a directory twice is a no-op
	AddDirectories(paths ...string) error

	// AddFiles watches individual files without watching their siblings.
	// Same batch behavior as AddDirectories.
	AddFiles(paths ...string) error

	// TryRemoveFile stops watching an individually added file.
	// Returns false if the file was never added.
	TryRemoveFile(path string) (bool, error)

	// TryRemoveDirectory stops watching a directory.
	// Returns false if the directory was never reached.
	TryRemoveDirectory(path string) (bool, error)

	// QueryIndex returns the files matching q with their metadata.
	// Files that vanished since they were indexed are logged and omitted.
	QueryIndex(q query.Query) ([]FileInfo, error)

	// Stats returns current index statistics.
	Stats() IndexStats

	// Close stops watching and releases all resources.
	// Safe to call multiple times.
	Close() error
}

// FileInfo describes one query result.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// IndexStats holds statistics about an index.
type IndexStats struct {
	// Files is the number of indexed files.
	Files int `json:"files"`

	// Words is the number of distinct words.
	Words int `json:"words"`

	// Tombstones is the number of removed files still remembered.
	Tombstones int `json:"tombstones"`

	// Generation increases with every content change.
	Generation uint64 `json:"generation"`
}
