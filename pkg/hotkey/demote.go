package hotkey

import (
	"context"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotevents"
)

// DemotionTick removes cached keys that are no longer hot, together with
// their refresh task and access history, then sweeps idle recorder state.
// It returns the number of keys demoted.
func (c *Client) DemotionTick(ctx context.Context) int {
	if !c.cfg.Enabled {
		return 0
	}
	demoted := 0
	for _, k := range c.local.Keys() {
		if ctx.Err() != nil {
			break
		}
		q := c.recorder.QPS(k)
		if c.class.IsHot(q) {
			continue
		}
		if _, ok := c.local.Remove(k); !ok {
			continue
		}
		c.reg.Deregister(k)
		c.recorder.Forget(k)
		demoted++
		c.events.Publish(hotevents.Event{Type: hotevents.Demoted, Key: k, QPS: q, TS: c.now()})
		c.log.Info("hot key demoted", "key", k, "qps", q, "tier", c.class.Classify(q).String())
	}
	observability.ObserveDemotion("cooled", demoted)

	if swept := c.rec.Sweep(c.cfg.InactiveExpire); swept > 0 {
		c.log.Debug("idle access windows dropped", "count", swept)
	}

	observability.SetComponentSize("recorder", c.recorder.Len())
	observability.SetComponentSize("cache", c.local.Len())
	observability.SetComponentSize("registry", c.reg.Len())
	c.LogInfo()
	return demoted
}
