// Package config loads the hot-key layer configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "HOTKEY"

var ErrInvalid = errors.New("invalid config")

type Detection struct {
	TopN              int           `envconfig:"TOP_N" default:"20"`
	HotQPS            float64       `envconfig:"HOT_QPS" default:"500"`
	WarmQPS           float64       `envconfig:"WARM_QPS" default:"200"`
	PromotionInterval time.Duration `envconfig:"PROMOTION_INTERVAL" default:"5s"`
	DemotionInterval  time.Duration `envconfig:"DEMOTION_INTERVAL" default:"60s"`
}

type Recorder struct {
	Capacity       int           `envconfig:"CAPACITY" default:"100000"`
	Window         time.Duration `envconfig:"WINDOW" default:"10s"`
	Buckets        int           `envconfig:"BUCKETS" default:"10"`
	InactiveExpire time.Duration `envconfig:"INACTIVE_EXPIRE" default:"120s"`
}

type Refresh struct {
	Interval         time.Duration `envconfig:"INTERVAL" default:"10s"`
	FailureThreshold int           `envconfig:"FAILURE_THRESHOLD" default:"3"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"1s"`
	// 0 disables the shared limiter
	RateLimit float64 `envconfig:"RATE_LIMIT" default:"0"`
	Burst     int     `envconfig:"BURST" default:"0"`
}

type Metrics struct {
	Enabled bool   `envconfig:"ENABLED" default:"false"`
	Addr    string `envconfig:"ADDR" default:":9090"`
	Path    string `envconfig:"PATH" default:"/metrics"`
}

type Invalidation struct {
	Enabled bool     `envconfig:"ENABLED" default:"false"`
	Brokers []string `envconfig:"BROKERS" default:"localhost:9092"`
	Topic   string   `envconfig:"TOPIC" default:"hotkey-invalidation"`
	GroupID string   `envconfig:"GROUP_ID" default:"hotkey-invalidator"`
}

type Events struct {
	Enabled   bool     `envconfig:"ENABLED" default:"false"`
	Brokers   []string `envconfig:"BROKERS" default:"localhost:9092"`
	Topic     string   `envconfig:"TOPIC" default:"hotkey-events"`
	QueueSize int      `envconfig:"QUEUE_SIZE" default:"1024"`
}

type Config struct {
	Addr         string        `envconfig:"ADDR" default:":8090"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
	LogConsole   bool          `envconfig:"LOG_CONSOLE" default:"false"`
	LogSampleN   int           `envconfig:"LOG_SAMPLE_N" default:"0"`
	Enabled      bool          `envconfig:"ENABLED" default:"true"`
	RedisAddr    string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"250ms"`

	Detection    Detection    `envconfig:"DETECTION"`
	Recorder     Recorder     `envconfig:"RECORDER"`
	Refresh      Refresh      `envconfig:"REFRESH"`
	Metrics      Metrics      `envconfig:"METRICS"`
	Invalidation Invalidation `envconfig:"INVALIDATION"`
	Events       Events       `envconfig:"EVENTS"`
}

// FromEnv reads HOTKEY_* variables and validates the result.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration FromEnv yields with an empty environment.
func Default() Config {
	return Config{
		Addr:         ":8090",
		LogLevel:     "info",
		Enabled:      true,
		RedisAddr:    "localhost:6379",
		StoreTimeout: 250 * time.Millisecond,
		Detection: Detection{
			TopN:              20,
			HotQPS:            500,
			WarmQPS:           200,
			PromotionInterval: 5 * time.Second,
			DemotionInterval:  60 * time.Second,
		},
		Recorder: Recorder{
			Capacity:       100000,
			Window:         10 * time.Second,
			Buckets:        10,
			InactiveExpire: 120 * time.Second,
		},
		Refresh: Refresh{
			Interval:         10 * time.Second,
			FailureThreshold: 3,
			Timeout:          time.Second,
		},
		Metrics: Metrics{Addr: ":9090", Path: "/metrics"},
		Invalidation: Invalidation{
			Brokers: []string{"localhost:9092"},
			Topic:   "hotkey-invalidation",
			GroupID: "hotkey-invalidator",
		},
		Events: Events{
			Brokers:   []string{"localhost:9092"},
			Topic:     "hotkey-events",
			QueueSize: 1024,
		},
	}
}

func (c Config) Validate() error {
	d, r, f := c.Detection, c.Recorder, c.Refresh
	switch {
	case d.TopN <= 0:
		return fmt.Errorf("%w: detection top-n must be > 0, got %d", ErrInvalid, d.TopN)
	case d.HotQPS <= 0:
		return fmt.Errorf("%w: hot qps threshold must be > 0, got %g", ErrInvalid, d.HotQPS)
	case d.WarmQPS < 0 || d.WarmQPS >= d.HotQPS:
		return fmt.Errorf("%w: warm qps threshold must be in [0, %g), got %g", ErrInvalid, d.HotQPS, d.WarmQPS)
	case d.PromotionInterval <= 0:
		return fmt.Errorf("%w: promotion interval must be > 0", ErrInvalid)
	case d.DemotionInterval <= 0:
		return fmt.Errorf("%w: demotion interval must be > 0", ErrInvalid)
	case r.Capacity <= 0:
		return fmt.Errorf("%w: recorder capacity must be > 0, got %d", ErrInvalid, r.Capacity)
	case r.Window <= 0 || r.Buckets <= 0:
		return fmt.Errorf("%w: recorder window and buckets must be > 0", ErrInvalid)
	case f.Interval <= 0:
		return fmt.Errorf("%w: refresh interval must be > 0", ErrInvalid)
	case f.FailureThreshold <= 0:
		return fmt.Errorf("%w: refresh failure threshold must be > 0, got %d", ErrInvalid, f.FailureThreshold)
	case f.RateLimit < 0:
		return fmt.Errorf("%w: refresh rate limit must be >= 0", ErrInvalid)
	}
	return nil
}
