// Package metrics provides Prometheus instrumentation for the experimentz
// server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only experimentz metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/experimentz/internal/core"
)

// Metrics holds all Prometheus collectors used by the experimentz server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	GRPCRequestsTotal      *prometheus.CounterVec
	GRPCRequestDuration    *prometheus.HistogramVec
	MutationsTotal         *prometheus.CounterVec
	StatusTransitionsTotal *prometheus.CounterVec
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	Experiments            *prometheus.GaugeVec
	RateLimitedTotal       prometheus.Counter
}

// New creates and registers all experimentz metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "experimentz_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "experimentz_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "experimentz_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "experimentz_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "experimentz_mutations_total",
			Help: "Total number of experiment mutations by operation and result.",
		}, []string{"operation", "result"}),

		StatusTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "experimentz_status_transitions_total",
			Help: "Total number of accepted experiment status transitions.",
		}, []string{"from", "to"}),

		StoreOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "experimentz_store_operations_total",
			Help: "Total number of experiment blob reads and writes.",
		}, []string{"operation", "result"}),

		StoreOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "experimentz_store_operation_duration_seconds",
			Help:    "Experiment blob read and write latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),

		Experiments: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "experimentz_experiments",
			Help: "Number of stored experiments by status.",
		}, []string{"status"}),

		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "experimentz_rate_limited_total",
			Help: "Total number of mutating requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.MutationsTotal,
		m.StatusTransitionsTotal,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.Experiments,
		m.RateLimitedTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// HTTPMiddleware records request count and latency labelled by the matched
// ServeMux pattern.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		code := strconv.Itoa(rec.status)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route, code).Observe(time.Since(start).Seconds())
	})
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		st, _ := status.FromError(err)
		code := st.Code().String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// StreamServerInterceptor returns a gRPC stream interceptor that records
// request count and latency.
func (m *Metrics) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		method := path.Base(info.FullMethod)
		st, _ := status.FromError(err)
		code := st.Code().String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return err
	}
}

// ObserveMutation counts one service mutation.
func (m *Metrics) ObserveMutation(operation, result string) {
	m.MutationsTotal.WithLabelValues(operation, result).Inc()
}

// ObserveTransition counts one accepted status change.
func (m *Metrics) ObserveTransition(from, to core.Status) {
	m.StatusTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

// SetExperimentCounts replaces the per-status experiment gauge.
func (m *Metrics) SetExperimentCounts(counts map[core.Status]int) {
	m.Experiments.Reset()
	for st, n := range counts {
		m.Experiments.WithLabelValues(string(st)).Set(float64(n))
	}
}

// ObserveStore records one blob read or write.
func (m *Metrics) ObserveStore(operation string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StoreOperationsTotal.WithLabelValues(operation, result).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}
