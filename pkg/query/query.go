package query

import (
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/enata/fileindexer/internal/text"
)

// View is read-only access to an inverted index. Implementations must keep
// the returned map unchanged for the duration of an evaluation.
type View interface {
	Lookup(w text.Word) (map[string]struct{}, bool)
}

// Query is a boolean expression over index words. Queries hold no index
// state and can be evaluated against any number of views.
type Query interface {
	Evaluate(v View) Set
	String() string
}

// Has matches the files containing word.
func Has(word string) Query {
	return has{word: text.NewWord(word)}
}

type has struct {
	word text.Word
}

func (q has) Evaluate(v View) Set {
	files, ok := v.Lookup(q.word)
	if !ok {
		return Set{}
	}
	out := make(Set, len(files))
	for p := range files {
		out.Add(p)
	}
	return out
}

func (q has) String() string {
	return q.word.String()
}

type combinator int

const (
	opAnd combinator = iota
	opOr
)

// Compound combines subqueries with AND or OR. Subqueries are evaluated
// concurrently, then folded left to right.
type Compound struct {
	op          combinator
	subs        []Query
	parallelism int
}

// And matches the files every subquery matches. With no subqueries it
// matches nothing.
func And(subs ...Query) *Compound {
	return &Compound{op: opAnd, subs: subs}
}

// Or matches the files any subquery matches. With no subqueries it
// matches nothing.
func Or(subs ...Query) *Compound {
	return &Compound{op: opOr, subs: subs}
}

// WithParallelism limits how many subqueries are evaluated at once.
// Values below 1 mean runtime.NumCPU().
func (c *Compound) WithParallelism(n int) *Compound {
	c.parallelism = n
	return c
}

// Evaluate implements Query.
func (c *Compound) Evaluate(v View) Set {
	if len(c.subs) == 0 {
		return Set{}
	}

	results := make([]Set, len(c.subs))
	if len(c.subs) == 1 {
		results[0] = c.subs[0].Evaluate(v)
	} else {
		limit := c.parallelism
		if limit < 1 {
			limit = runtime.NumCPU()
		}

		var g errgroup.Group
		g.SetLimit(limit)
		for i, sub := range c.subs {
			g.Go(func() error {
				results[i] = sub.Evaluate(v)
				return nil
			})
		}
		_ = g.Wait() // evaluations never fail
	}

	acc := results[0]
	for _, r := range results[1:] {
		if c.op == opAnd {
			acc = acc.Intersect(r)
		} else {
			acc = acc.Union(r)
		}
	}
	return acc
}

// String renders the query in the syntax Parse accepts.
func (c *Compound) String() string {
	sep := " AND "
	if c.op == opOr {
		sep = " OR "
	}
	parts := make([]string, len(c.subs))
	for i, sub := range c.subs {
		parts[i] = sub.String()
		if _, nested := sub.(*Compound); nested {
			parts[i] = "(" + parts[i] + ")"
		}
	}
	return strings.Join(parts, sep)
}

// Words returns the distinct words q refers to, in first-seen order.
// Queries built outside this package contribute nothing.
func Words(q Query) []string {
	var out []string
	seen := make(map[string]struct{})
	var walk func(Query)
	walk = func(q Query) {
		switch q := q.(type) {
		case has:
			w := q.word.String()
			if _, ok := seen[w]; !ok {
				seen[w] = struct{}{}
				out = append(out, w)
			}
		case *Compound:
			for _, sub := range q.subs {
				walk(sub)
			}
		}
	}
	walk(q)
	return out
}
