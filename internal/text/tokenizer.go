package text

import (
	"iter"
	"regexp"
)

// Tokenizer splits text into words. The returned sequence is lazy and may
// be ranged over more than once.
type Tokenizer interface {
	Tokenize(text string) iter.Seq[Word]
}

// wordPattern matches runs of letters, digits and underscores.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// RegexTokenizer yields every run of letters, digits and underscores,
// lower-cased.
type RegexTokenizer struct{}

var _ Tokenizer = RegexTokenizer{}

// Tokenize implements Tokenizer.
func (RegexTokenizer) Tokenize(text string) iter.Seq[Word] {
	return func(yield func(Word) bool) {
		rest := text
		for {
			loc := wordPattern.FindStringIndex(rest)
			if loc == nil {
				return
			}
			if !yield(NewWord(rest[loc[0]:loc[1]])) {
				return
			}
			rest = rest[loc[1]:]
		}
	}
}
