// Package main is the entry point for the experimentz server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Open the blob backend selected by STORE_DRIVER (running goose
//     migrations first for postgres).
//  3. Create the store and service, loading or seeding the experiments.
//  4. Start the JSON API (:8080), the gRPC health service (:9090) and,
//     when ADMIN_ADDR is set, the HTML console.
//  5. Wait for SIGINT/SIGTERM, then gracefully shut everything down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"google.golang.org/grpc"

	"github.com/matt-riley/experimentz/internal/admin"
	"github.com/matt-riley/experimentz/internal/config"
	"github.com/matt-riley/experimentz/internal/logging"
	"github.com/matt-riley/experimentz/internal/metrics"
	"github.com/matt-riley/experimentz/internal/middleware"
	"github.com/matt-riley/experimentz/internal/server"
	"github.com/matt-riley/experimentz/internal/service"
	"github.com/matt-riley/experimentz/internal/store"
	"github.com/matt-riley/experimentz/internal/tracing"
)

const (
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	blobs, closeBlobs, err := openBlobStore(ctx, cfg, m.Registry, logging.Component(log, "repository"))
	if err != nil {
		return err
	}
	defer closeBlobs()

	st, err := store.New(blobs, cfg.BlobName,
		store.WithLogger(logging.Component(log, "store")),
		store.WithObserver(m.ObserveStore),
	)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	svc, err := service.New(ctx, st,
		service.WithLogger(logging.Component(log, "service")),
		service.WithRecorder(m),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	limiter := middleware.NewRateLimiter(ctx, cfg.MutationRateLimit)
	defer limiter.Stop()

	apiHandler := server.NewHTTPHandler(svc,
		server.WithMetricsHandler(m.Handler()),
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(newHTTPHandler(apiHandler, log, m, limiter, cfg.DefaultActor), "experimentz-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			m.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamRequestLoggingInterceptor(log),
			m.StreamServerInterceptor(),
		),
	)
	health := server.RegisterHealth(grpcServer, svc)
	health.Sync()

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	defer grpcListener.Close()

	serveErrCh := make(chan error, 3)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErrCh <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	var adminServer *http.Server
	if cfg.AdminAddr != "" {
		adminListener, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("listen admin %s: %w", cfg.AdminAddr, err)
		}
		defer adminListener.Close()

		adminLog := logging.Component(log, "admin")
		adminServer = &http.Server{
			Handler:           otelhttp.NewHandler(middleware.HTTPRequestLogging(adminLog)(admin.NewHandler(svc, adminLog)), "experimentz-admin"),
			ReadHeaderTimeout: httpReadHeaderTimeout,
			ReadTimeout:       httpReadTimeout,
			IdleTimeout:       httpIdleTimeout,
		}
		go func() {
			if err := adminServer.Serve(adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrCh <- fmt.Errorf("serve admin: %w", err)
			}
		}()
		log.Info("admin console listening", "admin_addr", cfg.AdminAddr)
	}

	log.Info("server started",
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"store_driver", cfg.StoreDriver,
		"blob", cfg.BlobName,
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")
	health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("admin server shutdown error", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.ShutdownTimeout):
		grpcServer.Stop()
	}

	return serveErr
}

// newHTTPHandler wraps the API with request logging, actor resolution and
// the mutation rate limit. Route metrics sit innermost so they see the
// pattern matched by the API mux.
func newHTTPHandler(apiHandler http.Handler, log *slog.Logger, m *metrics.Metrics, limiter *middleware.RateLimiter, defaultActor string) http.Handler {
	h := m.HTTPMiddleware(apiHandler)
	h = middleware.HTTPMutationRateLimit(limiter, m.RateLimitedTotal.Inc)(h)
	h = middleware.HTTPActor(defaultActor)(h)
	return middleware.HTTPRequestLogging(log)(h)
}
