// Package logging configures structured logging for fileindexer.
//
// Logs are JSON lines written to ~/.fileindexer/logs/fileindexer.log with
// size-based rotation, and optionally mirrored to stderr. Components never
// depend on a logger succeeding: a failed write is dropped, not returned.
package logging
