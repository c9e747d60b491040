// Package watcher turns raw file system notifications into normalized
// add, change, remove and rename events for single directories.
//
// A Session owns one Backend (fsnotify, or polling where inotify-style
// watching is unavailable) and routes each backend event to the Adapter
// registered for the event's parent directory. Adapters track the matching
// files of their directory, pair rename halves into one rename event,
// coalesce bursts of writes to one file through a Debouncer, and report
// subdirectory changes separately so a caller can build a recursive view
// on top.
//
// Usage:
//
//	s, err := watcher.NewDefaultSession(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	s.Lock().Lock()
//	a, err := watcher.NewAdapter(s, "/path/to/dir", handler)
//	s.Lock().Unlock()
//
// All adapters of a session share its OrderingLock. Handlers run with the
// lock held and must not acquire it again.
package watcher
