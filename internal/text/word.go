// Package text turns file contents into index words.
package text

import (
	"iter"
	"strings"
)

// Word is a normalized, lower-cased index key. Words with equal text are
// equal and can be used as map keys.
type Word struct {
	text string
}

// NewWord normalizes s into a Word.
func NewWord(s string) Word {
	return Word{text: strings.ToLower(s)}
}

// String returns the normalized text.
func (w Word) String() string {
	return w.text
}

// IsZero reports whether w is the empty word.
func (w Word) IsZero() bool {
	return w.text == ""
}

// Distinct collects the distinct words of seq.
func Distinct(seq iter.Seq[Word]) map[Word]struct{} {
	out := make(map[Word]struct{})
	for w := range seq {
		if !w.IsZero() {
			out[w] = struct{}{}
		}
	}
	return out
}
