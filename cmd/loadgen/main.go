package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type Config struct {
	BaseURL        string
	Keys           int
	KeyPrefix      string
	Concurrency    int
	Duration       time.Duration
	RPS            float64
	ZipfS          float64
	ZipfV          float64
	WriteRatio     float64
	RequestTimeout time.Duration
	PollInterval   time.Duration
	Output         string
	Seed           bool
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.BaseURL, "target", "http://localhost:8090", "hotkey server base URL")
	flag.IntVar(&cfg.Keys, "keys", 1000, "distinct keys in the pool")
	flag.StringVar(&cfg.KeyPrefix, "prefix", "item", "key prefix")
	flag.IntVar(&cfg.Concurrency, "concurrency", 32, "concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "test duration")
	flag.Float64Var(&cfg.RPS, "rps", 0, "aggregate request rate, 0 is unlimited")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.Float64Var(&cfg.WriteRatio, "write-ratio", 0.01, "fraction of requests that are PUTs")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 5*time.Second, "per-request timeout")
	flag.DurationVar(&cfg.PollInterval, "poll", 5*time.Second, "monitor poll interval, 0 disables")
	flag.StringVar(&cfg.Output, "out", "", "optional summary JSON path")
	flag.BoolVar(&cfg.Seed, "seed", true, "write every key once before the run")
	flag.Parse()
	return cfg
}

func keyName(prefix string, i int) string { return fmt.Sprintf("%s:%d", prefix, i) }

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	Reads         int64     `json:"reads"`
	Writes        int64     `json:"writes"`
	Errors        int64     `json:"errors"`
	HotServed     int64     `json:"hot_served"`
	HotRatio      float64   `json:"hot_ratio"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Concurrency   int       `json:"concurrency"`
	Keys          int       `json:"keys"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	FinalHotKeys  []string  `json:"final_hot_keys"`
	TargetURL     string    `json:"target"`
}

type counters struct {
	reads, writes, errors, hot atomic.Int64

	mu    sync.Mutex
	latMs []float64
}

func (c *counters) observe(d time.Duration) {
	c.mu.Lock()
	c.latMs = append(c.latMs, float64(d.Microseconds())/1000.0)
	c.mu.Unlock()
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:          1024,
			MaxIdleConnsPerHost:   256,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: timeout,
	}
}

func main() {
	cfg := loadConfig()
	if cfg.Keys <= 0 || cfg.Concurrency <= 0 {
		log.Fatalf("keys and concurrency must be > 0")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	hc := newHTTPClient(cfg.RequestTimeout)

	if cfg.Seed {
		if err := seedKeys(context.Background(), hc, base, cfg); err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.Printf("seeded %d keys", cfg.Keys)
	}

	var lim *rate.Limiter
	if cfg.RPS > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var c counters
	seed := time.Now().UnixNano()
	startTime := time.Now()
	log.Printf("loadgen start target=%s dur=%s conc=%d keys=%d zipf(s=%.2f,v=%.2f) rps=%.0f",
		base, cfg.Duration, cfg.Concurrency, cfg.Keys, cfg.ZipfS, cfg.ZipfV, cfg.RPS)

	g, gctx := errgroup.WithContext(ctx)
	for id := range cfg.Concurrency {
		g.Go(func() error {
			worker(gctx, hc, base, cfg, lim, rand.New(rand.NewSource(seed+int64(id)+1)), &c)
			return nil
		})
	}
	if cfg.PollInterval > 0 {
		g.Go(func() error {
			poll(gctx, hc, base, cfg.PollInterval)
			return nil
		})
	}
	_ = g.Wait()

	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(c.latMs)
	reads, writes := c.reads.Load(), c.writes.Load()
	total := reads + writes
	s := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: total,
		Reads:         reads,
		Writes:        writes,
		Errors:        c.errors.Load(),
		HotServed:     c.hot.Load(),
		ThroughputRPS: float64(total) / elapsed,
		P50Ms:         percentile(c.latMs, 50),
		P95Ms:         percentile(c.latMs, 95),
		P99Ms:         percentile(c.latMs, 99),
		Concurrency:   cfg.Concurrency,
		Keys:          cfg.Keys,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		TargetURL:     base,
	}
	if reads > 0 {
		s.HotRatio = float64(s.HotServed) / float64(reads)
	}
	if hk, err := fetchHotKeys(context.Background(), hc, base); err == nil {
		s.FinalHotKeys = hk
	}

	log.Printf("done: total=%d reads=%d writes=%d err=%d hot=%.1f%% thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		total, reads, writes, s.Errors, s.HotRatio*100, s.ThroughputRPS, s.P50Ms, s.P95Ms, s.P99Ms)

	if cfg.Output != "" {
		if err := writeSummary(cfg.Output, s); err != nil {
			log.Printf("write summary: %v", err)
			return
		}
		log.Printf("wrote %s", cfg.Output)
	}
}

func seedKeys(ctx context.Context, hc *http.Client, base string, cfg Config) error {
	for i := range cfg.Keys {
		k := keyName(cfg.KeyPrefix, i)
		if _, err := put(ctx, hc, base, k, "v0-"+k); err != nil {
			return err
		}
	}
	return nil
}

func worker(ctx context.Context, hc *http.Client, base string, cfg Config, lim *rate.Limiter, r *rand.Rand, c *counters) {
	zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, uint64(cfg.Keys-1))
	for ctx.Err() == nil {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return
			}
		}
		key := keyName(cfg.KeyPrefix, int(zipf.Uint64()))

		start := time.Now()
		var (
			status int
			hot    bool
			err    error
		)
		if r.Float64() < cfg.WriteRatio {
			c.writes.Add(1)
			status, err = put(ctx, hc, base, key, fmt.Sprintf("v%d", start.UnixNano()))
		} else {
			c.reads.Add(1)
			status, hot, err = get(ctx, hc, base, key)
		}
		if ctx.Err() != nil {
			return
		}
		if err != nil || status >= 300 {
			c.errors.Add(1)
			continue
		}
		if hot {
			c.hot.Add(1)
		}
		c.observe(time.Since(start))
	}
}

func get(ctx context.Context, hc *http.Client, base, key string) (int, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/kv/"+key, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, resp.Header.Get("X-Hot-Key") == "true", nil
}

func put(ctx context.Context, hc *http.Client, base, key, val string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, base+"/api/kv/"+key, strings.NewReader(val))
	if err != nil {
		return 0, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("PUT %s: status %d", key, resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// poll logs the server's monitor snapshot until ctx is done.
func poll(ctx context.Context, hc *http.Client, base string, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		var info map[string]any
		if err := getJSON(ctx, hc, base+"/api/hotkey/monitor/info", &info); err != nil {
			log.Printf("monitor poll: %v", err)
			continue
		}
		log.Printf("monitor: get_qps=%v hot_qps=%v hit_rate=%v cache=%v/%v",
			info["get_qps"], info["hot_qps"], info["hit_rate"], info["cache_size"], info["cache_capacity"])
	}
}

func fetchHotKeys(ctx context.Context, hc *http.Client, base string) ([]string, error) {
	var out struct {
		Keys []string `json:"keys"`
	}
	if err := getJSON(ctx, hc, base+"/api/hotkey/monitor/hotkeys", &out); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

func getJSON(ctx context.Context, hc *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func writeSummary(path string, s summary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	f, err := os.Create(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
