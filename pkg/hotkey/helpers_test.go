package hotkey

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/cache"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/cache/redisstore"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotevents"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/refresh"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// countingStore counts reads that reach the backing store.
type countingStore struct {
	cache.Store
	gets atomic.Int64
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.gets.Add(1)
	return s.Store.Get(ctx, key)
}

type recordingSink struct {
	mu     sync.Mutex
	events []hotevents.Event
}

func (r *recordingSink) Publish(ev hotevents.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingSink) Kinds() []hotevents.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]hotevents.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// scenarioConfig is hot=30 warm=10 capacity=15 TopN=10 refresh=10s threshold=3.
func scenarioConfig() Config {
	return Config{
		Enabled:           true,
		TopN:              10,
		HotQPS:            30,
		WarmQPS:           10,
		PromotionInterval: 5 * time.Second,
		DemotionInterval:  60 * time.Second,
		RecorderCapacity:  15,
		Window:            10 * time.Second,
		Buckets:           10,
		InactiveExpire:    120 * time.Second,
		StoreTimeout:      time.Second,
		Refresh: refresh.Config{
			Interval:         10 * time.Second,
			Timeout:          time.Second,
			FailureThreshold: 3,
		},
	}
}

type harness struct {
	c     *Client
	clock *fakeClock
	store *countingStore
	mr    *miniredis.Miniredis
	sink  *recordingSink
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rs, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })

	h := &harness{
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
		store: &countingStore{Store: rs},
		mr:    mr,
		sink:  &recordingSink{},
	}
	h.c = New(cfg, h.store, WithClock(h.clock.Now), WithEvents(h.sink))
	t.Cleanup(func() { _ = h.c.Close() })
	return h
}

// drive reads each key at its rate for d, advancing the fake clock in 10ms steps.
func (h *harness) drive(t *testing.T, rates map[string]float64, d time.Duration) {
	t.Helper()
	const step = 10 * time.Millisecond
	acc := make(map[string]float64, len(rates))
	ctx := context.Background()
	for elapsed := time.Duration(0); elapsed < d; elapsed += step {
		for k, rps := range rates {
			acc[k] += rps * step.Seconds()
			for acc[k] >= 1 {
				acc[k]--
				if _, _, err := h.c.Get(ctx, k); err != nil {
					t.Fatalf("Get(%s): %v", k, err)
				}
			}
		}
		h.clock.Add(step)
	}
}
