package hotkey

import (
	"time"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/config"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/refresh"
)

type Config struct {
	// Enabled=false turns the client into a pass-through to the store.
	Enabled bool

	TopN    int
	HotQPS  float64
	WarmQPS float64

	PromotionInterval time.Duration
	DemotionInterval  time.Duration

	RecorderCapacity int
	Window           time.Duration
	Buckets          int
	InactiveExpire   time.Duration

	// StoreTimeout bounds the fetch made when a key is promoted.
	StoreTimeout time.Duration

	Refresh refresh.Config
}

func FromConfig(c config.Config) Config {
	return Config{
		Enabled:           c.Enabled,
		TopN:              c.Detection.TopN,
		HotQPS:            c.Detection.HotQPS,
		WarmQPS:           c.Detection.WarmQPS,
		PromotionInterval: c.Detection.PromotionInterval,
		DemotionInterval:  c.Detection.DemotionInterval,
		RecorderCapacity:  c.Recorder.Capacity,
		Window:            c.Recorder.Window,
		Buckets:           c.Recorder.Buckets,
		InactiveExpire:    c.Recorder.InactiveExpire,
		StoreTimeout:      c.StoreTimeout,
		Refresh: refresh.Config{
			Interval:         c.Refresh.Interval,
			Timeout:          c.Refresh.Timeout,
			FailureThreshold: c.Refresh.FailureThreshold,
			RateLimit:        c.Refresh.RateLimit,
			Burst:            c.Refresh.Burst,
		},
	}
}

func (c *Config) withDefaults() {
	if c.TopN <= 0 {
		c.TopN = 20
	}
	if c.HotQPS <= 0 {
		c.HotQPS = 500
	}
	if c.WarmQPS < 0 || c.WarmQPS >= c.HotQPS {
		c.WarmQPS = c.HotQPS * 0.4
	}
	if c.PromotionInterval <= 0 {
		c.PromotionInterval = 5 * time.Second
	}
	if c.DemotionInterval <= 0 {
		c.DemotionInterval = 60 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 250 * time.Millisecond
	}
}
