package redisstore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/metrics"
)

// creates new client connected to miniredis for testing
func newMini(t *testing.T, opts ...Option) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	rc, err := New(ctx, mr.Addr(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return rc, mr
}

func TestSetGetDelete_HappyPath(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := rc.Set(ctx, "k1", []byte("v1")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, found, err := rc.Get(ctx, "k1")
	if err != nil || !found || string(got) != "v1" {
		t.Fatalf("Get got=%q found=%v err=%v", got, found, err)
	}

	if err := rc.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, found, err = rc.Get(ctx, "k1")
	if err != nil || found {
		t.Fatalf("after delete found=%v err=%v", found, err)
	}
}

func TestGet_MissingIsNotAnError(t *testing.T) {
	rc, _ := newMini(t)
	val, found, err := rc.Get(context.Background(), "missing")
	if err != nil || found || val != nil {
		t.Fatalf("val=%q found=%v err=%v", val, found, err)
	}
}

func TestServerError_IsWrapped(t *testing.T) {
	rc, mr := newMini(t)
	mr.SetError("LOADING")
	defer mr.SetError("")

	ctx := context.Background()
	if _, _, err := rc.Get(ctx, "k"); err == nil || !strings.Contains(err.Error(), `redis GET "k"`) {
		t.Fatalf("Get err=%v", err)
	}
	if err := rc.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected Set error")
	}
	if err := rc.Ping(ctx); err == nil {
		t.Fatalf("expected Ping error")
	}
}

func TestContextDeadline_IsRespected(t *testing.T) {
	rc, _ := newMini(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := rc.Set(ctx, "k", []byte("v")); err == nil {
		t.Fatalf("expected error on Set with canceled context")
	}
	if _, _, err := rc.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error on Get with canceled context")
	}
	if err := rc.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected error on Delete with canceled context")
	}
}

func TestNew_RejectsEmptyAddr(t *testing.T) {
	if _, err := New(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestMetrics_Incremented(t *testing.T) {
	p := metrics.Init(metrics.Config{Enabled: true})

	rc, _ := newMini(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_ = rc.Set(ctx, "m1", []byte("x"))
	_, _, _ = rc.Get(ctx, "m1")
	_ = rc.Delete(ctx, "m1")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `hotkey_store_op_total{op="set"`) ||
		!strings.Contains(body, `hotkey_store_op_total{op="get"`) ||
		!strings.Contains(body, `hotkey_store_op_total{op="del"`) {
		t.Fatalf("missing hotkey_store_op_total metrics; got:\n%s", body)
	}
	if !strings.Contains(body, `hotkey_store_op_duration_seconds_bucket{op="set"`) {
		t.Fatalf("missing hotkey_store_op_duration_seconds histogram; got:\n%s", body)
	}
}
