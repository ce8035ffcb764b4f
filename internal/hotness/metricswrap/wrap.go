// Package metricswrap decorates a hotness.Recorder with Prometheus gauges and
// sampled hot-key logging.
package metricswrap

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	xx "github.com/cespare/xxhash/v2"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotness"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/logger"
)

type evictionCounter interface{ Evictions() uint64 }

type WithMetrics struct {
	inner hotness.Recorder

	hotQPS     float64
	sample     float64
	log        *slog.Logger
	lastEvicts atomic.Uint64
}

var _ hotness.Recorder = (*WithMetrics)(nil)

type Option func(*WithMetrics)

// WithHotLog logs a sampled fraction of records whose key is at or above hotQPS.
func WithHotLog(hotQPS, sample float64, log *slog.Logger) Option {
	return func(w *WithMetrics) {
		w.hotQPS = hotQPS
		w.sample = sample
		if log != nil {
			w.log = log
		}
	}
}

func New(inner hotness.Recorder, opts ...Option) *WithMetrics {
	w := &WithMetrics{inner: inner, log: logger.Discard()}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *WithMetrics) Record(key string) {
	before := w.inner.Len()
	w.inner.Record(key)

	if w.hotQPS > 0 && shouldLog(w.sample, key) {
		if qps := w.inner.QPS(key); qps >= w.hotQPS {
			w.log.Info("key above hot threshold",
				"event", "hotness_threshold",
				"qps", qps,
				"key_hash", fmt.Sprintf("%016x", xx.Sum64String(key)))
		}
	}

	if after := w.inner.Len(); after != before {
		observability.SetComponentSize("recorder", after)
	}
	w.syncEvictions()
}

func (w *WithMetrics) QPS(key string) float64 { return w.inner.QPS(key) }

func (w *WithMetrics) Snapshot() map[string]float64 { return w.inner.Snapshot() }

func (w *WithMetrics) Forget(keys ...string) {
	w.inner.Forget(keys...)
	observability.SetComponentSize("recorder", w.inner.Len())
}

func (w *WithMetrics) Len() int { return w.inner.Len() }

func (w *WithMetrics) syncEvictions() {
	ec, ok := w.inner.(evictionCounter)
	if !ok {
		return
	}
	cur := ec.Evictions()
	prev := w.lastEvicts.Load()
	if cur > prev && w.lastEvicts.CompareAndSwap(prev, cur) {
		observability.AddRecorderEvictions(int(cur - prev))
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	h := xx.Sum64String(key)
	return (h % denom) < threshold
}
