package server

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the service name reported alongside the overall ("")
// health status.
const HealthServiceName = "experimentz.v1.Experiments"

// Readiness reports whether experiments have been loaded.
type Readiness interface {
	Ready() bool
}

// HealthReporter publishes store readiness through grpc.health.v1.Health.
type HealthReporter struct {
	health *health.Server
	ready  Readiness
}

// RegisterHealth registers the health service on registrar. Both service
// names start NOT_SERVING; call Sync once the store has loaded.
func RegisterHealth(registrar grpc.ServiceRegistrar, ready Readiness) *HealthReporter {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(registrar, hs)
	reporter := &HealthReporter{health: hs, ready: ready}
	reporter.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return reporter
}

// Sync copies the current readiness into the health status.
func (h *HealthReporter) Sync() {
	if h.ready != nil && h.ready.Ready() {
		h.set(healthpb.HealthCheckResponse_SERVING)
		return
	}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
}

// Shutdown reports NOT_SERVING and ignores later updates.
func (h *HealthReporter) Shutdown() {
	h.health.Shutdown()
}

func (h *HealthReporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthServiceName, status)
}
