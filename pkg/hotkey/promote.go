package hotkey

import (
	"context"
	"slices"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/cache"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotevents"
)

type candidate struct {
	key string
	qps float64
}

// PromotionTick admits hot keys that are not cached yet, hottest first. At
// capacity a candidate replaces the coldest cached key only when it is
// hotter; the first candidate that cannot displace anyone ends the tick.
// It returns the number of keys admitted.
func (c *Client) PromotionTick(ctx context.Context) int {
	if !c.cfg.Enabled {
		return 0
	}
	var cands []candidate
	for k, q := range c.recorder.Snapshot() {
		if c.class.IsHot(q) && !c.local.Contains(k) {
			cands = append(cands, candidate{key: k, qps: q})
		}
	}
	if len(cands) == 0 {
		return 0
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		switch {
		case a.qps > b.qps:
			return -1
		case a.qps < b.qps:
			return 1
		default:
			return 0
		}
	})

	admitted := 0
	for _, cd := range cands {
		if ctx.Err() != nil {
			break
		}
		victim := ""
		if c.local.Len() >= c.local.Capacity() {
			vk, vq, ok := c.coldest()
			if !ok || vq >= cd.qps {
				observability.ObservePromotion("refused")
				c.log.Debug("promotion refused, cache full of hotter keys",
					"key", cd.key, "qps", cd.qps, "coldest_qps", vq)
				break
			}
			victim = vk
		}
		if c.promote(ctx, cd, victim) {
			admitted++
		}
	}
	if admitted > 0 {
		observability.SetComponentSize("cache", c.local.Len())
	}
	return admitted
}

// coldest returns the cached key with the lowest current rate.
func (c *Client) coldest() (string, float64, bool) {
	var (
		key   string
		low   float64
		found bool
	)
	for _, k := range c.local.Keys() {
		q := c.recorder.QPS(k)
		if !found || q < low {
			key, low, found = k, q, true
		}
	}
	return key, low, found
}

// promote fetches the current value and admits it. Concurrent promotions of
// one key share a single fetch.
func (c *Client) promote(ctx context.Context, cd candidate, victim string) bool {
	v, _, _ := c.sf.Do(cd.key, func() (any, error) {
		if c.local.Contains(cd.key) {
			return cache.AlreadyCached.String(), nil
		}
		g := c.gen(cd.key)
		before := g.Load()

		fctx, cancel := context.WithTimeout(ctx, c.cfg.StoreTimeout)
		val, found, err := c.store.Get(fctx, cd.key)
		cancel()
		if err != nil {
			c.log.Warn("promotion fetch failed", "key", cd.key, "err", err)
			return "fetch_error", nil
		}
		if !found {
			return "not_found", nil
		}

		e, res, evicted := c.local.Admit(cd.key, val, victim)
		if evicted != nil {
			c.reg.Deregister(evicted.Key())
			observability.ObserveDemotion("evicted", 1)
			c.events.Publish(hotevents.Event{Type: hotevents.Evicted, Key: evicted.Key(), QPS: c.recorder.QPS(evicted.Key()), TS: c.now()})
			c.log.Info("hot key evicted for a hotter key", "key", evicted.Key(), "by", cd.key)
		}
		if res != cache.Admitted && res != cache.Replaced {
			return res.String(), nil
		}
		// a write raced the fetch; serve from the store until refreshed
		if g.Load() != before {
			c.local.Invalidate(cd.key)
		}
		c.reg.Register(cd.key, e)
		c.events.Publish(hotevents.Event{Type: hotevents.Promoted, Key: cd.key, QPS: cd.qps, TS: c.now()})
		c.log.Info("hot key promoted", "key", cd.key, "qps", cd.qps)
		return res.String(), nil
	})

	res, _ := v.(string)
	observability.ObservePromotion(res)
	return res == cache.Admitted.String() || res == cache.Replaced.String()
}
