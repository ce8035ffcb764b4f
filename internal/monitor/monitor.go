// Package monitor aggregates read and hot-key statistics of the wrapped accessor.
package monitor

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotness/window"
)

const rateWindow = 10 * time.Second

// Info is a point-in-time view of the hot-key layer.
type Info struct {
	Enabled bool `json:"enabled"`

	TotalCalls uint64  `json:"total_calls"`
	TotalReads uint64  `json:"total_reads"`
	GetQPS     float64 `json:"get_qps"`
	CacheHits  uint64  `json:"cache_hits"`
	HitRate    float64 `json:"hit_rate"`

	HotAccesses  uint64  `json:"hot_accesses"`
	HotHits      uint64  `json:"hot_hits"`
	HotMisses    uint64  `json:"hot_misses"`
	HotQPS       float64 `json:"hot_qps"`
	HotHitRate   float64 `json:"hot_hit_rate"`
	TrafficRatio float64 `json:"traffic_ratio"`

	RecorderSize  int `json:"recorder_size"`
	CacheSize     int `json:"cache_size"`
	CacheCapacity int `json:"cache_capacity"`
	RegistrySize  int `json:"registry_size"`

	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Sizes are the component sizes folded into an Info.
type Sizes struct {
	Recorder      int
	Cache         int
	CacheCapacity int
	Registry      int
}

type Stats struct {
	now     func() time.Time
	started time.Time

	calls     atomic.Uint64
	reads     atomic.Uint64
	hits      atomic.Uint64
	hotAccess atomic.Uint64
	hotHits   atomic.Uint64
	hotMisses atomic.Uint64

	readRate *window.Counter
	hotRate  *window.Counter
}

func NewStats(now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	return &Stats{
		now:      now,
		started:  now(),
		readRate: window.NewCounter(rateWindow, 10),
		hotRate:  window.NewCounter(rateWindow, 10),
	}
}

// ObserveRead counts one read. hot means the key was in the hot set; hit
// means it was served without touching the store.
func (s *Stats) ObserveRead(hot, hit bool) {
	now := s.now()
	s.calls.Add(1)
	s.reads.Add(1)
	s.readRate.Add(now)
	if hit {
		s.hits.Add(1)
	}
	if !hot {
		return
	}
	s.hotAccess.Add(1)
	s.hotRate.Add(now)
	if hit {
		s.hotHits.Add(1)
	} else {
		s.hotMisses.Add(1)
	}
}

func (s *Stats) ObserveWrite() { s.calls.Add(1) }

func (s *Stats) Snapshot(enabled bool, sz Sizes) Info {
	now := s.now()
	in := Info{
		Enabled:       enabled,
		TotalCalls:    s.calls.Load(),
		TotalReads:    s.reads.Load(),
		GetQPS:        s.readRate.Rate(now),
		CacheHits:     s.hits.Load(),
		HotAccesses:   s.hotAccess.Load(),
		HotHits:       s.hotHits.Load(),
		HotMisses:     s.hotMisses.Load(),
		HotQPS:        s.hotRate.Rate(now),
		RecorderSize:  sz.Recorder,
		CacheSize:     sz.Cache,
		CacheCapacity: sz.CacheCapacity,
		RegistrySize:  sz.Registry,
		UptimeSeconds: now.Sub(s.started).Seconds(),
	}
	in.HitRate = ratio(in.CacheHits, in.TotalReads)
	in.HotHitRate = ratio(in.HotHits, in.HotHits+in.HotMisses)
	in.TrafficRatio = ratio(in.HotAccesses, in.TotalReads)
	return in
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// Log writes in as one structured line.
func Log(l *slog.Logger, msg string, in Info) {
	l.Info(msg,
		"enabled", in.Enabled,
		"total_calls", in.TotalCalls,
		"total_reads", in.TotalReads,
		"get_qps", in.GetQPS,
		"hit_rate", in.HitRate,
		"hot_hit_rate", in.HotHitRate,
		"hot_qps", in.HotQPS,
		"traffic_ratio", in.TrafficRatio,
		"recorder_size", in.RecorderSize,
		"cache_size", in.CacheSize,
		"registry_size", in.RegistrySize,
	)
}
