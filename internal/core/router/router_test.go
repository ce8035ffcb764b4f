package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/cache"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotness"
	mylog "github.com/liangqilang-zhuhui/techwolf-hotkey/internal/logger"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/monitor"
)

type fakeService struct {
	mu     sync.Mutex
	data   map[string][]byte
	hot    map[string]bool
	err    error
	logged int
}

func newFake() *fakeService {
	return &fakeService{data: map[string][]byte{}, hot: map[string]bool{}}
}

func (f *fakeService) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeService) Set(_ context.Context, key string, val []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = val
	return nil
}

func (f *fakeService) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.data, key)
	return nil
}

func (f *fakeService) Info() monitor.Info {
	return monitor.Info{Enabled: true, TotalCalls: 42, CacheCapacity: 10}
}

func (f *fakeService) LogInfo() monitor.Info {
	f.mu.Lock()
	f.logged++
	f.mu.Unlock()
	return f.Info()
}

func (f *fakeService) HotKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.hot {
		out = append(out, k)
	}
	return out
}

func (f *fakeService) IsHot(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hot[key]
}

func (f *fakeService) QPS(key string) float64 {
	if f.IsHot(key) {
		return 600
	}
	return 3
}

func (f *fakeService) Tier(key string) hotness.Tier {
	if f.IsHot(key) {
		return hotness.TierHot
	}
	return hotness.TierCold
}

func (f *fakeService) Entry(key string) (cache.EntryInfo, bool) {
	if !f.IsHot(key) {
		return cache.EntryInfo{}, false
	}
	return cache.EntryInfo{Valid: true, Size: 5, Version: 1, RefreshedAt: time.Unix(1_700_000_000, 0)}, true
}

func newTestRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	Mount(r, mylog.Discard(), svc)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestKV_PutGetDelete(t *testing.T) {
	svc := newFake()
	h := newTestRouter(svc)

	rr := do(t, h, http.MethodPut, "/api/kv/user:1", "alice")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/kv/user:1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "alice", rr.Body.String())
	assert.Equal(t, "application/octet-stream", rr.Header().Get("Content-Type"))
	assert.Empty(t, rr.Header().Get("X-Hot-Key"))

	rr = do(t, h, http.MethodDelete, "/api/kv/user:1", "")
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/kv/user:1", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestKV_HotHeader(t *testing.T) {
	svc := newFake()
	svc.data["hot"] = []byte("v")
	svc.hot["hot"] = true

	rr := do(t, newTestRouter(svc), http.MethodGet, "/api/kv/hot", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "true", rr.Header().Get("X-Hot-Key"))
}

func TestKV_StoreErrorIsBadGateway(t *testing.T) {
	svc := newFake()
	svc.err = errors.New("connection refused")
	h := newTestRouter(svc)

	for _, tc := range []struct{ method, body string }{
		{http.MethodGet, ""},
		{http.MethodPut, "x"},
		{http.MethodDelete, ""},
	} {
		rr := do(t, h, tc.method, "/api/kv/k", tc.body)
		assert.Equal(t, http.StatusBadGateway, rr.Code, tc.method)
		assert.NotContains(t, rr.Body.String(), "connection refused", tc.method)
	}
}

func TestKV_ValueTooLarge(t *testing.T) {
	rr := do(t, newTestRouter(newFake()), http.MethodPut, "/api/kv/big", strings.Repeat("x", maxValueBytes+1))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestKV_BlankKey(t *testing.T) {
	rr := do(t, newTestRouter(newFake()), http.MethodGet, "/api/kv/%20", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMonitor_Info(t *testing.T) {
	rr := do(t, newTestRouter(newFake()), http.MethodGet, "/api/hotkey/monitor/info", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var info monitor.Info
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
	assert.True(t, info.Enabled)
	assert.EqualValues(t, 42, info.TotalCalls)
}

func TestMonitor_Check(t *testing.T) {
	svc := newFake()
	svc.hot["a"] = true
	h := newTestRouter(svc)

	rr := do(t, h, http.MethodGet, "/api/hotkey/monitor/check?key=a", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got checkResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, checkResp{Key: "a", Hot: true, QPS: 600, Tier: "hot"}, got)

	rr = do(t, h, http.MethodGet, "/api/hotkey/monitor/check?key=b", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.False(t, got.Hot)
	assert.Equal(t, "cold", got.Tier)

	rr = do(t, h, http.MethodGet, "/api/hotkey/monitor/check", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMonitor_HotKeysAndStats(t *testing.T) {
	svc := newFake()
	svc.hot["a"] = true
	h := newTestRouter(svc)

	rr := do(t, h, http.MethodGet, "/api/hotkey/monitor/hotkeys", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var hk struct {
		Count int      `json:"count"`
		Keys  []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &hk))
	assert.Equal(t, 1, hk.Count)
	assert.Equal(t, []string{"a"}, hk.Keys)

	rr = do(t, h, http.MethodGet, "/api/hotkey/monitor/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st struct {
		Info monitor.Info `json:"info"`
		Keys []keyStats   `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.Len(t, st.Keys, 1)
	assert.Equal(t, "a", st.Keys[0].Key)
	assert.True(t, st.Keys[0].Valid)
	assert.Equal(t, 5, st.Keys[0].Size)
}

func TestMonitor_RefreshLogs(t *testing.T) {
	svc := newFake()
	rr := do(t, newTestRouter(svc), http.MethodPost, "/api/hotkey/monitor/refresh", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, svc.logged)
}
