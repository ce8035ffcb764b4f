package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLiveness_Handler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	Liveness()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	ct := rr.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content-type=%q want text/plain", ct)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "ok" {
		t.Fatalf("body=%q want ok", got)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type fixed struct {
	ok    bool
	parts []int32
}

func (f fixed) Readiness() (bool, []int32) { return f.ok, f.parts }

func TestReadiness_StoreDown(t *testing.T) {
	down := PingReporter{Pinger: pingFunc(func(context.Context) error { return errors.New("refused") })}

	rr := httptest.NewRecorder()
	Readiness(All(down, fixed{ok: true}))(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"not_ready"`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestReadiness_AllUp(t *testing.T) {
	up := PingReporter{Pinger: pingFunc(func(context.Context) error { return nil })}

	rr := httptest.NewRecorder()
	Readiness(All(up, fixed{ok: true, parts: []int32{0, 2}}, nil))(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"ready"`) || !strings.Contains(body, `[0,2]`) {
		t.Fatalf("body=%s", body)
	}
}
