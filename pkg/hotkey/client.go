// Package hotkey wraps a key-value store with hot-key detection and a bounded
// local cache for the keys that receive the most reads.
package hotkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/cache"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotevents"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotness"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotness/metricswrap"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotness/window"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/logger"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/monitor"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/refresh"
)

var ErrClosed = errors.New("hotkey: client closed")

const (
	OpSet    = "set"
	OpDelete = "delete"
)

// Notifier is told about every successful write so peers can drop their copy.
type Notifier interface {
	Notify(key, op string)
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces the time source of the recorder and statistics.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithEvents(s hotevents.Sink) Option {
	return func(c *Client) {
		if s != nil {
			c.events = s
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notify = n }
}

const writeStripes = 64

type Client struct {
	cfg   Config
	store cache.Store
	log   *slog.Logger
	now   func() time.Time

	rec      *window.Recorder
	recorder hotness.Recorder
	class    hotness.Classifier
	local    *cache.Local
	reg      *refresh.Registry
	stats    *monitor.Stats
	events   hotevents.Sink
	notify   Notifier

	sf singleflight.Group
	// bumped by every write; promotion compares before and after its fetch
	writeGen [writeStripes]atomic.Uint64

	mu      sync.Mutex
	started bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(cfg Config, store cache.Store, opts ...Option) *Client {
	cfg.withDefaults()
	c := &Client{
		cfg:    cfg,
		store:  store,
		log:    logger.Discard(),
		now:    time.Now,
		class:  hotness.Classifier{Hot: cfg.HotQPS, Warm: cfg.WarmQPS},
		events: hotevents.Nop{},
	}
	for _, o := range opts {
		o(c)
	}

	c.rec = window.New(window.Config{
		Capacity: cfg.RecorderCapacity,
		Window:   cfg.Window,
		Buckets:  cfg.Buckets,
	}).WithClock(c.now)
	c.recorder = metricswrap.New(c.rec, metricswrap.WithHotLog(cfg.HotQPS, 0.001, c.log))
	c.local = cache.NewLocal(cfg.TopN).WithClock(c.now)
	c.reg = refresh.New(cfg.Refresh, store, c.local,
		refresh.WithLogger(c.log),
		refresh.WithGiveUpHook(func(key string, failures int) {
			c.events.Publish(hotevents.Event{Type: hotevents.RefreshFailed, Key: key, Failures: failures, TS: c.now()})
		}))
	c.stats = monitor.NewStats(c.now)
	return c
}

func (c *Client) Enabled() bool { return c.cfg.Enabled }

func (c *Client) gen(key string) *atomic.Uint64 {
	return &c.writeGen[xxhash.Sum64String(key)%writeStripes]
}

// Get serves key from the local cache when it holds a live entry and from
// the store otherwise. found=false with a nil error means the key does not exist.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.closed.Load() {
		return nil, false, ErrClosed
	}
	if !c.cfg.Enabled {
		val, found, err := c.store.Get(ctx, key)
		c.stats.ObserveRead(false, false)
		observability.ObserveRead("passthrough")
		if err != nil {
			return nil, false, fmt.Errorf("hotkey get %q: %w", key, err)
		}
		return val, found, nil
	}

	c.recorder.Record(key)

	if val, ok := c.local.Get(key); ok {
		c.stats.ObserveRead(true, true)
		observability.ObserveRead("hit")
		return val, true, nil
	}

	entry, version, hot := c.local.Lookup(key)
	val, found, err := c.store.Get(ctx, key)
	c.stats.ObserveRead(hot, false)
	if err != nil {
		observability.ObserveRead("error")
		return nil, false, fmt.Errorf("hotkey get %q: %w", key, err)
	}
	if !found {
		observability.ObserveRead("not_found")
		return nil, false, nil
	}
	observability.ObserveRead("miss")

	// hot key whose entry was invalidated: refill and resume refreshing
	if hot && c.local.Refresh(entry, version, val) {
		c.reg.Register(key, entry)
	}
	return val, true, nil
}

// Set writes through to the store, then updates the cached copy in place.
func (c *Client) Set(ctx context.Context, key string, val []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.stats.ObserveWrite()
	if c.cfg.Enabled {
		c.recorder.Record(key)
	}

	if err := c.store.Set(ctx, key, val); err != nil {
		observability.ObserveWrite(OpSet, err)
		return fmt.Errorf("hotkey set %q: %w", key, err)
	}
	observability.ObserveWrite(OpSet, nil)
	if !c.cfg.Enabled {
		return nil
	}

	c.gen(key).Add(1)
	if c.local.Update(key, slices.Clone(val)) {
		// a refresh task cancelled by an earlier delete resumes
		if e, _, ok := c.local.Lookup(key); ok {
			c.reg.Register(key, e)
		}
	}
	if c.notify != nil {
		c.notify.Notify(key, OpSet)
	}
	return nil
}

// Delete removes key from the store and marks its cached copy stale. The key
// stays in the hot set until the next demotion tick.
func (c *Client) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.stats.ObserveWrite()
	if c.cfg.Enabled {
		c.recorder.Record(key)
	}

	if err := c.store.Delete(ctx, key); err != nil {
		observability.ObserveWrite(OpDelete, err)
		return fmt.Errorf("hotkey delete %q: %w", key, err)
	}
	observability.ObserveWrite(OpDelete, nil)
	if !c.cfg.Enabled {
		return nil
	}

	c.gen(key).Add(1)
	if c.local.Invalidate(key) {
		c.reg.Deregister(key)
	}
	if c.notify != nil {
		c.notify.Notify(key, OpDelete)
	}
	return nil
}

// InvalidateLocal drops the cached value of key after another instance
// changed it. A set keeps the refresh task so the entry refills itself.
func (c *Client) InvalidateLocal(key, op string) bool {
	c.gen(key).Add(1)
	if !c.local.Invalidate(key) {
		return false
	}
	if op == OpDelete {
		c.reg.Deregister(key)
	}
	return true
}

// HotKeys returns the cached keys in lexical order.
func (c *Client) HotKeys() []string {
	keys := c.local.Keys()
	slices.Sort(keys)
	return keys
}

func (c *Client) IsHot(key string) bool { return c.local.Contains(key) }

// QPS is the current rate estimate of key.
func (c *Client) QPS(key string) float64 { return c.recorder.QPS(key) }

// Tier classifies key from its current rate estimate.
func (c *Client) Tier(key string) hotness.Tier { return c.class.Classify(c.recorder.QPS(key)) }

// Entry reports the state of a cached key.
func (c *Client) Entry(key string) (cache.EntryInfo, bool) { return c.local.Info(key) }

func (c *Client) Info() monitor.Info {
	return c.stats.Snapshot(c.cfg.Enabled, monitor.Sizes{
		Recorder:      c.recorder.Len(),
		Cache:         c.local.Len(),
		CacheCapacity: c.local.Capacity(),
		Registry:      c.reg.Len(),
	})
}

// LogInfo writes the current monitor snapshot to the client logger.
func (c *Client) LogInfo() monitor.Info {
	in := c.Info()
	monitor.Log(c.log, "hotkey monitor", in)
	return in
}

// Start launches the promotion and demotion loops. It is a no-op for a
// disabled client or when already started.
func (c *Client) Start(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || !c.cfg.Enabled {
		return nil
	}
	c.started = true

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(2)
	go c.loop(ctx, "promotion", c.cfg.PromotionInterval, func(ctx context.Context) { c.PromotionTick(ctx) })
	go c.loop(ctx, "demotion", c.cfg.DemotionInterval, func(ctx context.Context) { c.DemotionTick(ctx) })

	c.log.Info("hotkey client started",
		"top_n", c.cfg.TopN,
		"hot_qps", c.cfg.HotQPS,
		"warm_qps", c.cfg.WarmQPS,
		"promotion_interval", c.cfg.PromotionInterval,
		"demotion_interval", c.cfg.DemotionInterval)
	return nil
}

func (c *Client) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context)) {
	defer c.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("scheduler stopped", "scheduler", name)
			return
		case <-t.C:
			tick(ctx)
		}
	}
}

// Close stops the schedulers and every refresh task. Further calls fail with ErrClosed.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.reg.Close()
	c.log.Info("hotkey client closed")
	return nil
}
