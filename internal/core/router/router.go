// Package router holds the HTTP handlers of the key-value and monitor API.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/cache"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/observability"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/hotness"
	mylog "github.com/liangqilang-zhuhui/techwolf-hotkey/internal/logger"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/monitor"
)

const maxValueBytes = 1 << 20

// Service is the wrapped accessor plus its introspection surface.
type Service interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte) error
	Delete(ctx context.Context, key string) error

	Info() monitor.Info
	LogInfo() monitor.Info
	HotKeys() []string
	IsHot(key string) bool
	QPS(key string) float64
	Tier(key string) hotness.Tier
	Entry(key string) (cache.EntryInfo, bool)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency under the route pattern.
func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func keyParam(r *http.Request) (string, bool) {
	k := strings.TrimSpace(chi.URLParam(r, "key"))
	return k, k != ""
}

// Mount registers the API routes on r.
func Mount(r chi.Router, logger *slog.Logger, svc Service) {
	const kvRoute = "/api/kv/{key}"
	r.Get(kvRoute, instrument(kvRoute, HandleGet(logger, svc)))
	r.Put(kvRoute, instrument(kvRoute, HandlePut(logger, svc)))
	r.Delete(kvRoute, instrument(kvRoute, HandleDelete(logger, svc)))

	r.Route("/api/hotkey/monitor", func(r chi.Router) {
		r.Get("/info", instrument("/api/hotkey/monitor/info", HandleInfo(svc)))
		r.Get("/check", instrument("/api/hotkey/monitor/check", HandleCheck(svc)))
		r.Get("/hotkeys", instrument("/api/hotkey/monitor/hotkeys", HandleHotKeys(svc)))
		r.Get("/stats", instrument("/api/hotkey/monitor/stats", HandleStats(svc)))
		r.Post("/refresh", instrument("/api/hotkey/monitor/refresh", HandleRefresh(svc)))
	})
}

func HandleGet(logger *slog.Logger, svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyParam(r)
		if !ok {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		ctx := mylog.WithOp(mylog.WithKey(r.Context(), key), "get")
		val, found, err := svc.Get(ctx, key)
		if err != nil {
			logger.ErrorContext(ctx, "get failed", "err", err)
			http.Error(w, "backing store unavailable", http.StatusBadGateway)
			return
		}
		if !found {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		if svc.IsHot(key) {
			w.Header().Set("X-Hot-Key", "true")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(val)
	}
}

func HandlePut(logger *slog.Logger, svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyParam(r)
		if !ok {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueBytes))
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				http.Error(w, "value too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		ctx := mylog.WithOp(mylog.WithKey(r.Context(), key), "set")
		if err := svc.Set(ctx, key, body); err != nil {
			logger.ErrorContext(ctx, "set failed", "err", err)
			http.Error(w, "backing store unavailable", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleDelete(logger *slog.Logger, svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := keyParam(r)
		if !ok {
			http.Error(w, "missing key", http.StatusBadRequest)
			return
		}
		ctx := mylog.WithOp(mylog.WithKey(r.Context(), key), "delete")
		if err := svc.Delete(ctx, key); err != nil {
			logger.ErrorContext(ctx, "delete failed", "err", err)
			http.Error(w, "backing store unavailable", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleInfo(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.Info())
	}
}

type checkResp struct {
	Key  string  `json:"key"`
	Hot  bool    `json:"hot"`
	QPS  float64 `json:"qps"`
	Tier string  `json:"tier"`
}

func HandleCheck(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.URL.Query().Get("key"))
		if key == "" {
			http.Error(w, "missing required parameter: key", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, checkResp{
			Key:  key,
			Hot:  svc.IsHot(key),
			QPS:  svc.QPS(key),
			Tier: svc.Tier(key).String(),
		})
	}
}

func HandleHotKeys(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		keys := svc.HotKeys()
		writeJSON(w, http.StatusOK, map[string]any{"count": len(keys), "keys": keys})
	}
}

type keyStats struct {
	Key         string    `json:"key"`
	QPS         float64   `json:"qps"`
	Tier        string    `json:"tier"`
	Valid       bool      `json:"valid"`
	Failures    int       `json:"failures"`
	RefreshedAt time.Time `json:"refreshed_at"`
	Size        int       `json:"size"`
}

func HandleStats(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		keys := svc.HotKeys()
		out := make([]keyStats, 0, len(keys))
		for _, k := range keys {
			e, ok := svc.Entry(k)
			if !ok {
				continue
			}
			out = append(out, keyStats{
				Key:         k,
				QPS:         svc.QPS(k),
				Tier:        svc.Tier(k).String(),
				Valid:       e.Valid,
				Failures:    e.Failures,
				RefreshedAt: e.RefreshedAt,
				Size:        e.Size,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"info": svc.Info(), "keys": out})
	}
}

// HandleRefresh logs a monitor snapshot on demand and returns it.
func HandleRefresh(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, svc.LogInfo())
	}
}
