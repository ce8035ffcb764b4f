// Package refresh keeps cached hot-key entries fresh with one background
// task per key.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/cache"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/logger"
)

type Config struct {
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
	// RateLimit caps refresh fetches per second across all tasks; zero disables it.
	RateLimit float64
	Burst     int
}

type Option func(*Registry)

func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithGiveUpHook is called after a task deregisters itself on repeated failures.
func WithGiveUpHook(fn func(key string, failures int)) Option {
	return func(r *Registry) { r.onGiveUp = fn }
}

type task struct {
	key    string
	entry  *cache.Entry
	cancel context.CancelFunc
}

// Registry owns the refresh tasks. It never creates or removes cache entries;
// a task that gives up leaves its entry in place.
type Registry struct {
	cfg      Config
	store    cache.Store
	local    *cache.Local
	limiter  *rate.Limiter
	log      *slog.Logger
	onGiveUp func(key string, failures int)

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, store cache.Store, local *cache.Local, opts ...Option) *Registry {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	r := &Registry{
		cfg:   cfg,
		store: store,
		local: local,
		log:   logger.Discard(),
		tasks: make(map[string]*task),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register starts refreshing entry. It reports false when key already has a
// task or the registry is closed.
func (r *Registry) Register(key string, entry *cache.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	if _, ok := r.tasks[key]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{key: key, entry: entry, cancel: cancel}
	r.tasks[key] = t
	observability.SetComponentSize("registry", len(r.tasks))

	r.wg.Add(1)
	go r.run(ctx, t)
	return true
}

// Deregister cancels the task of key. An in-flight fetch is discarded.
func (r *Registry) Deregister(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[key]
	if !ok {
		return false
	}
	t.cancel()
	delete(r.tasks, key)
	observability.SetComponentSize("registry", len(r.tasks))
	return true
}

func (r *Registry) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Close cancels every task and waits for them to exit.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	for k, t := range r.tasks {
		t.cancel()
		delete(r.tasks, k)
	}
	r.mu.Unlock()
	r.wg.Wait()
	observability.SetComponentSize("registry", 0)
}

// drop removes t only if it is still the registered task for its key.
func (r *Registry) drop(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[t.key]; ok && cur == t {
		t.cancel()
		delete(r.tasks, t.key)
		observability.SetComponentSize("registry", len(r.tasks))
	}
}

func (r *Registry) run(ctx context.Context, t *task) {
	defer r.wg.Done()
	tick := time.NewTicker(r.cfg.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if !r.refreshOnce(ctx, t) {
				r.drop(t)
				return
			}
		}
	}
}

// refreshOnce reports whether the task should keep running.
func (r *Registry) refreshOnce(ctx context.Context, t *task) bool {
	cur, version, ok := r.local.Lookup(t.key)
	if !ok || cur != t.entry {
		return false
	}
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return ctx.Err() == nil
		}
	}

	fctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	val, found, err := r.store.Get(fctx, t.key)
	cancel()

	if ctx.Err() != nil {
		return false
	}
	if err == nil && found {
		if r.local.Refresh(t.entry, version, val) {
			observability.ObserveRefresh("ok")
		} else {
			observability.ObserveRefresh("superseded")
		}
		return true
	}

	res := "error"
	if err == nil {
		res = "not_found"
	}
	observability.ObserveRefresh(res)

	n := r.local.RecordFailure(t.entry)
	if n == 0 {
		return false
	}
	r.log.Debug("refresh failed", "key", t.key, "failures", n, "result", res, "err", err)
	if n < r.cfg.FailureThreshold {
		return true
	}

	observability.ObserveRefresh("gave_up")
	r.log.Warn("refresh task deregistered after repeated failures",
		"key", t.key, "failures", n, "err", err)
	if r.onGiveUp != nil {
		r.onGiveUp(t.key, n)
	}
	return false
}
