// Package health serves liveness and readiness probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type ReadinessReporter interface {
	Readiness() (ready bool, partitions []int32)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// PingReporter is ready while the backing store answers a ping within Timeout.
type PingReporter struct {
	Pinger  Pinger
	Timeout time.Duration
}

func (p PingReporter) Readiness() (bool, []int32) {
	if p.Pinger == nil {
		return true, nil
	}
	to := p.Timeout
	if to <= 0 {
		to = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), to)
	defer cancel()
	return p.Pinger.Ping(ctx) == nil, nil
}

// All is ready only when every reporter is; partitions are concatenated.
func All(rs ...ReadinessReporter) ReadinessReporter { return all(rs) }

type all []ReadinessReporter

func (a all) Readiness() (bool, []int32) {
	var parts []int32
	for _, r := range a {
		if r == nil {
			continue
		}
		ok, p := r.Readiness()
		if !ok {
			return false, nil
		}
		parts = append(parts, p...)
	}
	return true, parts
}

func Readiness(rr ReadinessReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type resp struct {
			Status     string  `json:"status"`
			Partitions []int32 `json:"partitions,omitempty"`
		}
		ready, parts := rr.Readiness()
		out := resp{Status: "not_ready"}
		if ready {
			out.Status = "ready"
			out.Partitions = parts
		}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(out)
	}
}
