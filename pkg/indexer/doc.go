// Package indexer is the entry point to fileindexer: it watches
// directories and individual files, keeps an inverted word index of their
// content up to date, and answers boolean word queries.
//
// # Architecture
//
//	┌─────────────────┐
//	│     Manager     │  ← This package (facade)
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐      ┌────────────────┐
//	│ Observation     │─────▶│ Inverted index │
//	│ tree            │      │                │
//	└────────┬────────┘      └───────▲────────┘
//	         │                       │
//	┌────────▼────────┐      ┌───────┴────────┐
//	│ Watch adapters  │      │ Queries        │
//	│ (one per dir)   │      │ Has/And/Or     │
//	└─────────────────┘      └────────────────┘
//
// Each directory along a watched path gets a watch adapter. Adapter events
// travel up the observation tree; the monitored ones reach the index, which
// applies them in timestamp order per file.
//
// # Usage
//
//	m, err := indexer.NewManager(indexer.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	if err := m.AddDirectories("/home/me/notes"); err != nil {
//	    return err
//	}
//
//	q, err := m.ParseQuery("apple (pie | tart)")
//	if err != nil {
//	    return err
//	}
//	files, err := m.QueryIndex(q)
//
// # Error handling
//
// Blank paths and nil queries are argument errors and are returned at
// once. Everything that goes wrong with a single path (it does not exist,
// cannot be read, vanished before a query result was resolved) is logged
// and skipped; the rest of the batch proceeds.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Queries run concurrently with each
// other and with index updates.
package indexer
