// Package telemetry keeps in-process query statistics. Nothing is persisted
// or reported anywhere.
package telemetry

import (
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LatencyBucket is one bin of the query latency histogram.
type LatencyBucket string

const (
	BucketUnder100us LatencyBucket = "lt_100us"
	BucketUnder1ms   LatencyBucket = "lt_1ms"
	BucketUnder10ms  LatencyBucket = "lt_10ms"
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketSlow       LatencyBucket = "ge_100ms"
)

// Buckets lists the histogram bins in ascending order.
var Buckets = []LatencyBucket{BucketUnder100us, BucketUnder1ms, BucketUnder10ms, BucketUnder100ms, BucketSlow}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	switch {
	case d < 100*time.Microsecond:
		return BucketUnder100us
	case d < time.Millisecond:
		return BucketUnder1ms
	case d < 10*time.Millisecond:
		return BucketUnder10ms
	case d < 100*time.Millisecond:
		return BucketUnder100ms
	default:
		return BucketSlow
	}
}

// QueryEvent describes one evaluated query.
type QueryEvent struct {
	Query       string
	Words       []string
	ResultCount int
	Latency     time.Duration
	CacheHit    bool
}

// Ring is a fixed-capacity FIFO buffer that evicts its oldest item.
type Ring[T any] struct {
	items []T
	head  int
	size  int
}

// NewRing creates a ring with the given capacity (default 100).
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Add appends item, evicting the oldest when full.
func (r *Ring[T]) Add(item T) {
	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// Items returns the buffered items, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, 0, r.size)
	if r.size < len(r.items) {
		return append(out, r.items[:r.size]...)
	}
	out = append(out, r.items[r.head:]...)
	return append(out, r.items[:r.head]...)
}

// Len returns the number of buffered items.
func (r *Ring[T]) Len() int {
	return r.size
}

// WordCount is a query word and how often it was asked for.
type WordCount struct {
	Word  string `json:"word"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	TotalQueries        int64                   `json:"total_queries"`
	CacheHits           int64                   `json:"cache_hits"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	TopWords            []WordCount             `json:"top_words"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	Since               time.Time               `json:"since"`
}

// CacheHitRate returns the fraction of queries answered from the cache.
func (s Snapshot) CacheHitRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalQueries)
}

// Config sizes the bounded parts of QueryMetrics.
type Config struct {
	TopWordsCapacity    int // default 100
	ZeroResultsCapacity int // default 20
}

// QueryMetrics aggregates QueryEvents. Safe for concurrent use.
type QueryMetrics struct {
	mu          sync.Mutex
	total       int64
	cacheHits   int64
	zeroCount   int64
	zeroResults *Ring[string]
	topWords    *lru.Cache[string, int64]
	latencies   map[LatencyBucket]int64
	since       time.Time
}

// NewQueryMetrics creates an empty collector.
func NewQueryMetrics(cfg Config) *QueryMetrics {
	if cfg.TopWordsCapacity <= 0 {
		cfg.TopWordsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 20
	}
	// lru.New only fails for a non-positive size.
	topWords, _ := lru.New[string, int64](cfg.TopWordsCapacity)

	return &QueryMetrics{
		zeroResults: NewRing[string](cfg.ZeroResultsCapacity),
		topWords:    topWords,
		latencies:   make(map[LatencyBucket]int64),
		since:       time.Now(),
	}
}

// Record adds one query to the aggregates.
func (m *QueryMetrics) Record(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if ev.CacheHit {
		m.cacheHits++
	}
	if ev.ResultCount == 0 {
		m.zeroCount++
		m.zeroResults.Add(ev.Query)
	}
	m.latencies[LatencyToBucket(ev.Latency)]++

	for _, w := range ev.Words {
		w = strings.ToLower(w)
		count, _ := m.topWords.Peek(w)
		m.topWords.Add(w, count+1)
	}
}

// Snapshot returns the current aggregates. TopWords is ordered by count,
// most frequent first, then alphabetically.
func (m *QueryMetrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	words := make([]WordCount, 0, m.topWords.Len())
	for _, w := range m.topWords.Keys() {
		if c, ok := m.topWords.Peek(w); ok {
			words = append(words, WordCount{Word: w, Count: c})
		}
	}
	slices.SortFunc(words, func(a, b WordCount) int {
		if a.Count != b.Count {
			return int(b.Count - a.Count)
		}
		return strings.Compare(a.Word, b.Word)
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	return Snapshot{
		TotalQueries:        m.total,
		CacheHits:           m.cacheHits,
		ZeroResultCount:     m.zeroCount,
		ZeroResultQueries:   m.zeroResults.Items(),
		TopWords:            words,
		LatencyDistribution: latencies,
		Since:               m.since,
	}
}
