package query

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/enata/fileindexer/internal/text"
)

// mapView is a View over a fixed word -> files table.
type mapView map[string][]string

func (v mapView) Lookup(w text.Word) (map[string]struct{}, bool) {
	files, ok := v[w.String()]
	if !ok {
		return nil, false
	}
	out := make(map[string]struct{}, len(files))
	for _, f := range files {
		out[f] = struct{}{}
	}
	return out, true
}

// countingQuery records how many evaluations run at once.
type countingQuery struct {
	inner   Query
	running *atomic.Int32
	peak    *atomic.Int32
}

func (q countingQuery) Evaluate(v View) Set {
	n := q.running.Add(1)
	for {
		p := q.peak.Load()
		if n <= p || q.peak.CompareAndSwap(p, n) {
			break
		}
	}
	defer q.running.Add(-1)
	return q.inner.Evaluate(v)
}

func (q countingQuery) String() string { return q.inner.String() }

var fruit = mapView{
	"a": {"f1", "f2"},
	"b": {"f1"},
	"c": {"f3"},
}

func TestHas(t *testing.T) {
	assert.Equal(t, NewSet("f1", "f2"), Has("a").Evaluate(fruit))
	assert.Equal(t, NewSet("f1", "f2"), Has("A").Evaluate(fruit), "words are case-normalized")
	assert.Empty(t, Has("missing").Evaluate(fruit))
}

func TestHas_ResultIsACopy(t *testing.T) {
	backing := map[string]struct{}{"f1": {}}
	v := staticView{word: text.NewWord("a"), files: backing}

	got := Has("a").Evaluate(v)
	got.Add("f9")

	assert.Len(t, backing, 1)
}

type staticView struct {
	word  text.Word
	files map[string]struct{}
}

func (v staticView) Lookup(w text.Word) (map[string]struct{}, bool) {
	if w != v.word {
		return nil, false
	}
	return v.files, true
}

func TestAndOr(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want Set
	}{
		{"and", And(Has("a"), Has("b")), NewSet("f1")},
		{"or", Or(Has("a"), Has("b")), NewSet("f1", "f2")},
		{"and disjoint", And(Has("a"), Has("c")), NewSet()},
		{"or disjoint", Or(Has("b"), Has("c")), NewSet("f1", "f3")},
		{"and with missing word", And(Has("a"), Has("zzz")), NewSet()},
		{"empty and", And(), NewSet()},
		{"empty or", Or(), NewSet()},
		{"single and", And(Has("c")), NewSet("f3")},
		{"nested", Or(And(Has("a"), Has("b")), Has("c")), NewSet("f1", "f3")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.Evaluate(fruit))
		})
	}
}

func TestCompound_Reusable(t *testing.T) {
	q := And(Has("a"), Has("b"))
	other := mapView{"a": {"x"}, "b": {"x", "y"}}

	assert.Equal(t, NewSet("f1"), q.Evaluate(fruit))
	assert.Equal(t, NewSet("x"), q.Evaluate(other))
}

func TestCompound_ParallelismLimit(t *testing.T) {
	var running, peak atomic.Int32
	subs := make([]Query, 16)
	for i := range subs {
		subs[i] = countingQuery{inner: Has("a"), running: &running, peak: &peak}
	}

	got := Or(subs...).WithParallelism(2).Evaluate(fruit)

	assert.Equal(t, NewSet("f1", "f2"), got)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestSet(t *testing.T) {
	s := NewSet("b", "a")
	s.Add("c")

	assert.True(t, s.Contains("a"))
	assert.False(t, s.Contains("z"))
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"a", "b", "c"}, s.Sorted())
	assert.Equal(t, NewSet("a"), s.Intersect(NewSet("a", "z")))
	assert.Equal(t, NewSet("a", "b", "c", "z"), s.Union(NewSet("z")))
}

func TestString(t *testing.T) {
	q := Or(And(Has("Apple"), Has("pie")), Has("tart"))
	assert.Equal(t, "(apple AND pie) OR tart", q.String())
}

func TestWords(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"single", Has("Alpha"), []string{"alpha"}},
		{"nested with duplicates", Or(And(Has("a"), Has("b")), Has("A"), Has("c")), []string{"a", "b", "c"}},
		{"empty compound", And(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Words(tt.q))
		})
	}
}
