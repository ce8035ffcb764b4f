package window

import (
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotness"
)

type Config struct {
	Capacity int
	Window   time.Duration
	Buckets  int
}

const (
	maxShards = 16
	// below this many keys per shard a single exact LRU is used
	minShardCapacity = 256
)

// Recorder keeps one Counter per key for at most Capacity keys. Keys are
// spread over xxhash shards, each an LRU of Capacity/shards; when a new key
// arrives at a full shard its least recently accessed key is dropped.
type Recorder struct {
	window  time.Duration
	buckets int

	now func() time.Time

	shards    []*lru.Cache[string, *Counter]
	evictions atomic.Uint64
}

var _ hotness.Recorder = (*Recorder)(nil)

func New(cfg Config) *Recorder {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100000
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Second
	}
	if cfg.Buckets <= 0 {
		cfg.Buckets = 10
	}
	n := 1
	for n < maxShards && cfg.Capacity/(n*2) >= minShardCapacity {
		n *= 2
	}
	r := &Recorder{
		window:  cfg.Window,
		buckets: cfg.Buckets,
		now:     time.Now,
		shards:  make([]*lru.Cache[string, *Counter], n),
	}
	per, rem := cfg.Capacity/n, cfg.Capacity%n
	for i := range r.shards {
		size := per
		if i < rem {
			size++
		}
		r.shards[i], _ = lru.New[string, *Counter](size)
	}
	return r
}

func (r *Recorder) shard(key string) *lru.Cache[string, *Counter] {
	if len(r.shards) == 1 {
		return r.shards[0]
	}
	return r.shards[xxhash.Sum64String(key)%uint64(len(r.shards))]
}

// each visits every tracked key and its counter without touching recency.
func (r *Recorder) each(fn func(key string, c *Counter, shard *lru.Cache[string, *Counter])) {
	for _, sh := range r.shards {
		for _, k := range sh.Keys() {
			if c, ok := sh.Peek(k); ok {
				fn(k, c, sh)
			}
		}
	}
}

// WithClock replaces the time source; used by tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

func (r *Recorder) Record(key string) {
	if key == "" {
		return
	}
	sh := r.shard(key)
	c, ok := sh.Get(key)
	if !ok {
		fresh := NewCounter(r.window, r.buckets)
		prev, found, evicted := sh.PeekOrAdd(key, fresh)
		if found {
			c = prev
		} else {
			c = fresh
		}
		if evicted {
			r.evictions.Add(1)
		}
	}
	c.Add(r.now())
}

func (r *Recorder) QPS(key string) float64 {
	c, ok := r.shard(key).Peek(key)
	if !ok {
		return 0
	}
	return c.Rate(r.now())
}

// Snapshot returns the current rate of every tracked key without touching
// recency order.
func (r *Recorder) Snapshot() map[string]float64 {
	now := r.now()
	out := make(map[string]float64, r.Len())
	r.each(func(k string, c *Counter, _ *lru.Cache[string, *Counter]) {
		out[k] = c.Rate(now)
	})
	return out
}

func (r *Recorder) Forget(keys ...string) {
	for _, k := range keys {
		r.shard(k).Remove(k)
	}
}

// Sweep drops counters with no hit for longer than idle and returns how many.
func (r *Recorder) Sweep(idle time.Duration) int {
	if idle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-idle)
	n := 0
	r.each(func(k string, c *Counter, sh *lru.Cache[string, *Counter]) {
		if c.LastHit().Before(cutoff) && sh.Remove(k) {
			n++
		}
	})
	return n
}

func (r *Recorder) Len() int {
	n := 0
	for _, sh := range r.shards {
		n += sh.Len()
	}
	return n
}

// Evictions counts keys dropped under capacity pressure.
func (r *Recorder) Evictions() uint64 { return r.evictions.Load() }
