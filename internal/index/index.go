package index

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	fierrors "github.com/enata/fileindexer/internal/errors"
	"github.com/enata/fileindexer/internal/logging"
	"github.com/enata/fileindexer/internal/text"
	"github.com/enata/fileindexer/internal/watcher"
	"github.com/enata/fileindexer/pkg/query"
)

// Index is an in-memory inverted word index fed by file events.
//
// Events for one path may arrive out of order from different adapters.
// Every operation carries a Stamp; an operation older than the last one
// applied to its path is discarded. Removed paths keep their last stamp as
// a tombstone until PruneTombstones drops it, so a late add or rename
// cannot bring a removed file back.
//
// A single RWMutex guards all state: mutations take it exclusively,
// queries take it shared.
type Index struct {
	loader    text.TextLoader
	tokenizer text.Tokenizer
	clock     Clock
	logger    *slog.Logger

	mu         sync.RWMutex
	words      map[text.Word]map[string]struct{}
	files      map[string]*fileEntry
	last       map[string]Stamp
	generation uint64
}

type fileEntry struct {
	words map[text.Word]struct{}
	hash  uint64
}

// Stats is a point-in-time summary of an Index.
type Stats struct {
	Files      int    `json:"files"`
	Words      int    `json:"words"`
	Tombstones int    `json:"tombstones"`
	Generation uint64 `json:"generation"`
}

// Option configures an Index.
type Option func(*Index)

// WithLoader sets the content loader. Default: text.FileLoader{}.
func WithLoader(l text.TextLoader) Option {
	return func(i *Index) {
		if l != nil {
			i.loader = l
		}
	}
}

// WithTokenizer sets the tokenizer. Default: text.RegexTokenizer{}.
func WithTokenizer(t text.Tokenizer) Option {
	return func(i *Index) {
		if t != nil {
			i.tokenizer = t
		}
	}
}

// WithClock sets the stamp source. Default: a SystemClock.
func WithClock(c Clock) Option {
	return func(i *Index) {
		if c != nil {
			i.clock = c
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(i *Index) {
		i.logger = l
	}
}

// New creates an empty index.
func New(opts ...Option) *Index {
	i := &Index{
		loader:    text.FileLoader{},
		tokenizer: text.RegexTokenizer{},
		clock:     &SystemClock{},
		words:     make(map[text.Word]map[string]struct{}),
		files:     make(map[string]*fileEntry),
		last:      make(map[string]Stamp),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = logging.OrDefault(i.logger)
	return i
}

// HandleEvent stamps a file event on arrival and applies it.
func (i *Index) HandleEvent(ev watcher.FileEvent) {
	stamp := i.clock.Now()
	switch ev.Operation {
	case watcher.OpAdd:
		i.OnFileAdded(ev.Path, stamp)
	case watcher.OpChange:
		i.OnFileChanged(ev.Path, stamp)
	case watcher.OpRemove:
		i.OnFileRemoved(ev.Path, stamp)
	case watcher.OpRename:
		i.OnFileRenamed(ev.OldPath, ev.Path, stamp)
	}
}

// OnFileAdded loads and indexes path.
func (i *Index) OnFileAdded(path string, stamp Stamp) {
	i.load(path, stamp, "add")
}

// OnFileChanged reloads and reindexes path.
func (i *Index) OnFileChanged(path string, stamp Stamp) {
	i.load(path, stamp, "change")
}

func (i *Index) load(path string, stamp Stamp, op string) {
	if i.isStale(path, stamp) {
		i.logger.Debug("discarding stale event", slog.String("op", op), slog.String("path", path))
		return
	}

	content, err := i.loader.LoadText(path)
	if err != nil {
		i.logger.Warn("skipping file that could not be loaded",
			append([]any{slog.String("op", op), slog.String("path", path)}, fierrors.LogAttrs(err)...)...)
		return
	}
	words := text.Distinct(i.tokenizer.Tokenize(content))
	hash := xxhash.Sum64String(content)

	i.mu.Lock()
	defer i.mu.Unlock()

	if last, ok := i.last[path]; ok && last.After(stamp) {
		i.logger.Debug("discarding stale event", slog.String("op", op), slog.String("path", path))
		return
	}
	i.last[path] = stamp

	if e, ok := i.files[path]; ok && e.hash == hash {
		return
	}
	i.unlink(path)
	i.link(path, &fileEntry{words: words, hash: hash})
	i.generation++
}

// OnFileRemoved drops path from the index.
func (i *Index) OnFileRemoved(path string, stamp Stamp) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if last, ok := i.last[path]; ok && last.After(stamp) {
		i.logger.Debug("discarding stale event", slog.String("op", "remove"), slog.String("path", path))
		return
	}
	i.last[path] = stamp
	if i.unlink(path) {
		i.generation++
	}
}

// OnFileRenamed moves the words of oldPath to newPath without reloading.
func (i *Index) OnFileRenamed(oldPath, newPath string, stamp Stamp) {
	i.mu.Lock()

	if lastNew, ok := i.last[newPath]; ok && lastNew.After(stamp) {
		// newPath moved on already; only the stale oldPath entry is left to drop.
		if lastOld, ok := i.last[oldPath]; !ok || stamp.After(lastOld) {
			i.last[oldPath] = stamp
			if i.unlink(oldPath) {
				i.generation++
			}
		}
		i.mu.Unlock()
		return
	}
	if lastOld, ok := i.last[oldPath]; ok && lastOld.After(stamp) {
		i.mu.Unlock()
		i.logger.Debug("discarding stale event", slog.String("op", "rename"),
			slog.String("old_path", oldPath), slog.String("new_path", newPath))
		return
	}

	e, ok := i.files[oldPath]
	if !ok {
		// Nothing indexed under the old name, so there is nothing to move;
		// index the new name from disk instead.
		i.last[oldPath] = stamp
		i.mu.Unlock()
		i.load(newPath, stamp, "rename")
		return
	}

	i.unlink(newPath)
	i.unlink(oldPath)
	i.link(newPath, e)
	i.last[oldPath] = stamp
	i.last[newPath] = stamp
	i.generation++
	i.mu.Unlock()
}

// link records e under path. The caller holds mu and has unlinked path.
func (i *Index) link(path string, e *fileEntry) {
	i.files[path] = e
	for w := range e.words {
		set, ok := i.words[w]
		if !ok {
			set = make(map[string]struct{})
			i.words[w] = set
		}
		set[path] = struct{}{}
	}
}

// unlink removes path from every word it maps to, pruning emptied words.
// The caller holds mu. Reports whether path was indexed.
func (i *Index) unlink(path string) bool {
	e, ok := i.files[path]
	if !ok {
		return false
	}
	for w := range e.words {
		set := i.words[w]
		delete(set, path)
		if len(set) == 0 {
			delete(i.words, w)
		}
	}
	delete(i.files, path)
	return true
}

func (i *Index) isStale(path string, stamp Stamp) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	last, ok := i.last[path]
	return ok && last.After(stamp)
}

// ExecuteQuery evaluates q against the current index and returns the
// matching paths in sorted order.
func (i *Index) ExecuteQuery(q query.Query) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return q.Evaluate(view{i}).Sorted()
}

// view exposes the word table to queries. Only valid while mu is held.
type view struct {
	i *Index
}

func (v view) Lookup(w text.Word) (map[string]struct{}, bool) {
	set, ok := v.i.words[w]
	return set, ok
}

// Contains reports whether path is indexed.
func (i *Index) Contains(path string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.files[path]
	return ok
}

// Files returns the indexed paths in sorted order.
func (i *Index) Files() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.files))
	for p := range i.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Words returns every indexed word in sorted order.
func (i *Index) Words() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]string, 0, len(i.words))
	for w := range i.words {
		out = append(out, w.String())
	}
	sort.Strings(out)
	return out
}

// WordsOf returns the words recorded for path in sorted order.
func (i *Index) WordsOf(path string) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	e, ok := i.files[path]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(e.words))
	for w := range e.words {
		out = append(out, w.String())
	}
	sort.Strings(out)
	return out
}

// Generation increases whenever the indexed content changes.
func (i *Index) Generation() uint64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.generation
}

// PruneTombstones forgets the stamps of removed paths last touched before
// cutoff and returns how many were dropped.
func (i *Index) PruneTombstones(cutoff time.Time) int {
	i.mu.Lock()
	defer i.mu.Unlock()

	pruned := 0
	for path, stamp := range i.last {
		if _, indexed := i.files[path]; indexed {
			continue
		}
		if stamp.Time.Before(cutoff) {
			delete(i.last, path)
			pruned++
		}
	}
	return pruned
}

// Stats returns current counters.
func (i *Index) Stats() Stats {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Stats{
		Files:      len(i.files),
		Words:      len(i.words),
		Tombstones: len(i.last) - len(i.files),
		Generation: i.generation,
	}
}
