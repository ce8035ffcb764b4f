// Package observability holds the process-wide Prometheus collectors of the hot-key layer.
package observability

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

func init() {
	enabled.Store(true)
}

var (
	readsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_reads_total",
			Help: "Reads through the wrapped accessor by result.",
		},
		[]string{"result"},
	)

	writesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_writes_total",
			Help: "Writes and deletes through the wrapped accessor.",
		},
		[]string{"op", "result"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_store_op_total",
			Help: "Backing store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hotkey_store_op_duration_seconds",
			Help:    "Latency of backing store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"op"},
	)

	promotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_promotions_total",
			Help: "Promotion attempts by result.",
		},
		[]string{"result"},
	)

	demotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_demotions_total",
			Help: "Keys removed from the local cache by reason.",
		},
		[]string{"reason"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_refresh_total",
			Help: "Background refresh attempts by result.",
		},
		[]string{"result"},
	)

	recorderEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hotkey_recorder_evictions_total",
			Help: "Access windows evicted from the recorder under capacity pressure.",
		},
	)

	componentSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hotkey_component_size",
			Help: "Current entry count of bounded components.",
		},
		[]string{"component"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"method", "route", "status"},
	)

	invalidationMsgs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_invalidation_msgs_total",
			Help: "Invalidation messages consumed by result.",
		},
		[]string{"result"},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hotkey_events_total",
			Help: "Hot-key lifecycle events by type and publish result.",
		},
		[]string{"type", "result"},
	)

	all = []prometheus.Collector{
		readsTotal, writesTotal, storeOpTotal, storeOpDurationSeconds,
		promotionsTotal, demotionsTotal, refreshTotal, recorderEvictions,
		componentSize, httpRequestsTotal, httpRequestDurationSeconds,
		invalidationMsgs, eventsTotal,
	}

	regMu sync.Mutex
)

// Init registers the collectors with reg (the default registerer when nil).
// Registering into the same registry twice is a no-op.
func Init(reg prometheus.Registerer, on bool) {
	enabled.Store(on)
	if !on {
		return
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	regMu.Lock()
	defer regMu.Unlock()
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func ObserveRead(res string) {
	if !enabled.Load() {
		return
	}
	readsTotal.WithLabelValues(res).Inc()
}

func ObserveWrite(op string, err error) {
	if !enabled.Load() {
		return
	}
	writesTotal.WithLabelValues(op, result(err)).Inc()
}

func ObserveStoreOp(op string, err error, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	storeOpTotal.WithLabelValues(op, result(err)).Inc()
	storeOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func ObservePromotion(res string) {
	if !enabled.Load() {
		return
	}
	promotionsTotal.WithLabelValues(res).Inc()
}

func ObserveDemotion(reason string, n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	demotionsTotal.WithLabelValues(reason).Add(float64(n))
}

func ObserveRefresh(res string) {
	if !enabled.Load() {
		return
	}
	refreshTotal.WithLabelValues(res).Inc()
}

func AddRecorderEvictions(n int) {
	if !enabled.Load() || n <= 0 {
		return
	}
	recorderEvictions.Add(float64(n))
}

// SetComponentSize publishes the size of "recorder", "cache" or "registry".
func SetComponentSize(component string, n int) {
	if !enabled.Load() {
		return
	}
	componentSize.WithLabelValues(component).Set(float64(n))
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	if !enabled.Load() {
		return
	}
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveInvalidation(res string) {
	if !enabled.Load() {
		return
	}
	invalidationMsgs.WithLabelValues(res).Inc()
}

func ObserveEvent(kind, res string) {
	if !enabled.Load() {
		return
	}
	eventsTotal.WithLabelValues(kind, res).Inc()
}
