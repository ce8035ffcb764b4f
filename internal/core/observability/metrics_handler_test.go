package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg, true)
	Init(reg, true) // second registration is tolerated

	ObserveHTTP("GET", "/api/kv/{key}", 200, 0.001)
	ObserveRead("hit")
	ObserveStoreOp("get", nil, 0.002)
	ObserveStoreOp("get", errors.New("down"), 0.002)
	SetComponentSize("cache", 7)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, s := range []string{
		`http_requests_total{method="GET",route="/api/kv/{key}",status="200"}`,
		`hotkey_reads_total{result="hit"}`,
		`hotkey_store_op_total{op="get",result="error"}`,
		`hotkey_store_op_duration_seconds_bucket{op="get"`,
		`hotkey_component_size{component="cache"} 7`,
	} {
		if !strings.Contains(body, s) {
			t.Fatalf("missing %q in payload:\n%s", s, body)
		}
	}
}

func TestDisabled_DropsObservations(t *testing.T) {
	Init(nil, false)
	t.Cleanup(func() { enabled.Store(true) })

	before := testutil.ToFloat64(promotionsTotal.WithLabelValues("admitted"))
	ObservePromotion("admitted")
	if got := testutil.ToFloat64(promotionsTotal.WithLabelValues("admitted")); got != before {
		t.Fatalf("disabled metrics still counted: before=%g after=%g", before, got)
	}
}
