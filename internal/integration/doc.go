// Package integration holds end-to-end tests that drive the indexer through
// real file system changes.
package integration
