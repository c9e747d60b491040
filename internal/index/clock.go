package index

import (
	"sync/atomic"
	"time"
)

// Stamp orders index operations on one path. Time is the arrival time;
// Seq breaks ties between stamps taken within the clock's resolution.
type Stamp struct {
	Time time.Time
	Seq  uint64
}

// After reports whether s is later than o.
func (s Stamp) After(o Stamp) bool {
	if !s.Time.Equal(o.Time) {
		return s.Time.After(o.Time)
	}
	return s.Seq > o.Seq
}

// Clock hands out stamps.
type Clock interface {
	Now() Stamp
}

// SystemClock stamps with time.Now and a process-wide counter.
type SystemClock struct {
	seq atomic.Uint64
}

// Now implements Clock.
func (c *SystemClock) Now() Stamp {
	return Stamp{Time: time.Now(), Seq: c.seq.Add(1)}
}
