// Package window implements the sliding-window access counters of the
// hot-key recorder.
package window

import (
	"sync"
	"time"
)

type bucket struct {
	slot  int64
	count uint64
}

// Counter is a ring of time buckets covering one window. Memory is fixed at
// construction regardless of traffic.
type Counter struct {
	mu      sync.Mutex
	width   time.Duration
	buckets []bucket

	// start of the current run of activity; reset once every bucket expired
	runStart time.Time
	lastHit  time.Time
}

func NewCounter(window time.Duration, n int) *Counter {
	if n <= 0 {
		n = 1
	}
	w := window / time.Duration(n)
	if w <= 0 {
		w = time.Millisecond
	}
	return &Counter{width: w, buckets: make([]bucket, n)}
}

func (c *Counter) slotOf(t time.Time) int64 { return t.UnixNano() / int64(c.width) }

func (c *Counter) span() time.Duration { return c.width * time.Duration(len(c.buckets)) }

// Add records one hit at now.
func (c *Counter) Add(now time.Time) {
	s := c.slotOf(now)
	n := int64(len(c.buckets))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastHit.IsZero() || c.slotOf(c.lastHit) <= s-n {
		c.runStart = now
	}
	b := &c.buckets[s%n]
	if b.slot != s {
		b.slot = s
		b.count = 0
	}
	b.count++
	if now.After(c.lastHit) {
		c.lastHit = now
	}
}

// Hits is the number of hits whose bucket is still inside the window at now.
func (c *Counter) Hits(now time.Time) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hitsLocked(c.slotOf(now))
}

func (c *Counter) hitsLocked(cur int64) uint64 {
	n := int64(len(c.buckets))
	var sum uint64
	for i := range c.buckets {
		b := c.buckets[i]
		if b.count > 0 && b.slot > cur-n && b.slot <= cur {
			sum += b.count
		}
	}
	return sum
}

// Rate returns hits per second over the covered span: the time since the
// current run of activity began, clamped to [one bucket, the full window].
func (c *Counter) Rate(now time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := c.hitsLocked(c.slotOf(now))
	if hits == 0 {
		return 0
	}
	covered := now.Sub(c.runStart)
	if covered < c.width {
		covered = c.width
	}
	if full := c.span(); covered > full {
		covered = full
	}
	return float64(hits) / covered.Seconds()
}

func (c *Counter) LastHit() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHit
}
