// Package index maintains the inverted word index: word to files, file to
// words, and the last applied stamp per file. It consumes the monitored
// file events of an observation tree and answers boolean queries.
package index
