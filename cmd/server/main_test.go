package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matt-riley/experimentz/internal/config"
	"github.com/matt-riley/experimentz/internal/metrics"
	"github.com/matt-riley/experimentz/internal/middleware"
	"github.com/matt-riley/experimentz/internal/repository"
	"github.com/matt-riley/experimentz/internal/server"
	"github.com/matt-riley/experimentz/internal/service"
	"github.com/matt-riley/experimentz/internal/store"
)

func newTestStack(t *testing.T, rateLimit int) (http.Handler, *metrics.Metrics, *bytes.Buffer) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := metrics.New()
	st, err := store.New(repository.NewMemoryRepository(), store.DefaultBlobName, store.WithObserver(m.ObserveStore))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	svc, err := service.New(ctx, st, service.WithRecorder(m))
	if err != nil {
		t.Fatalf("service.New() error = %v", err)
	}

	limiter := middleware.NewRateLimiter(ctx, rateLimit)
	t.Cleanup(limiter.Stop)

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))
	api := server.NewHTTPHandler(svc, server.WithMetricsHandler(m.Handler()))
	return newHTTPHandler(api, log, m, limiter, "Ops Bot"), m, &logs
}

func TestNewHTTPHandlerRecordsDefaultActor(t *testing.T) {
	handler, _, logs := newTestStack(t, 10)

	req := httptest.NewRequest(http.MethodPost, "/v1/experiments/1/status", strings.NewReader(`{"status":"Stopped"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"changedBy":"Ops Bot"`) {
		t.Fatalf("expected default actor in history, got %s", rec.Body.String())
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Fatal("expected request id response header")
	}
	if !strings.Contains(logs.String(), "request completed") {
		t.Fatalf("expected request log, got %s", logs.String())
	}
}

func TestNewHTTPHandlerRateLimitsMutationsOnly(t *testing.T) {
	handler, m, _ := newTestStack(t, 1)

	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/v1/experiments/1/toggle", nil)
		req.RemoteAddr = "10.0.0.7:4000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post(); code != http.StatusOK {
		t.Fatalf("first mutation status = %d, want %d", code, http.StatusOK)
	}
	if code := post(); code != http.StatusTooManyRequests {
		t.Fatalf("second mutation status = %d, want %d", code, http.StatusTooManyRequests)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/experiments", nil)
	req.RemoteAddr = "10.0.0.7:4000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d, want %d", rec.Code, http.StatusOK)
	}

	if v := testutil.ToFloat64(m.RateLimitedTotal); v != 1 {
		t.Fatalf("rate limited total = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "POST /v1/experiments/{id}/toggle", "200")); v != 1 {
		t.Fatalf("route metric = %v, want 1", v)
	}
}

func TestNewHTTPHandlerServesMetrics(t *testing.T) {
	handler, _, _ := newTestStack(t, 10)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Result().Body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	for _, want := range []string{"experimentz_experiments", "experimentz_store_operations_total"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestOpenBlobStore(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		cfg  config.Config
	}{
		{name: "memory", cfg: config.Config{StoreDriver: config.DriverMemory}},
		{name: "file", cfg: config.Config{StoreDriver: config.DriverFile, FileDir: filepath.Join(dir, "files")}},
		{name: "sqlite", cfg: config.Config{StoreDriver: config.DriverSQLite, SQLitePath: filepath.Join(dir, "experimentz.db")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs, closeBlobs, err := openBlobStore(context.Background(), tt.cfg, prometheus.NewRegistry(), log)
			if err != nil {
				t.Fatalf("openBlobStore() error = %v", err)
			}
			defer closeBlobs()

			if err := blobs.WriteBlob(context.Background(), "experiments", []byte(`[]`)); err != nil {
				t.Fatalf("WriteBlob() error = %v", err)
			}
			got, err := blobs.ReadBlob(context.Background(), "experiments")
			if err != nil {
				t.Fatalf("ReadBlob() error = %v", err)
			}
			if string(got) != "[]" {
				t.Fatalf("ReadBlob() = %q, want []", got)
			}
		})
	}
}

func TestOpenBlobStoreUnknownDriver(t *testing.T) {
	_, closeBlobs, err := openBlobStore(context.Background(), config.Config{StoreDriver: "tape"}, nil, slog.Default())
	if err == nil {
		t.Fatal("openBlobStore() error = nil, want error")
	}
	closeBlobs()
}
