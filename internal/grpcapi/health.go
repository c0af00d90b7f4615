// Package grpcapi exposes per-input availability over the standard gRPC
// health protocol.
package grpcapi

import (
	"slices"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"threatwatch/internal/events"
	"threatwatch/internal/logging"
	"threatwatch/internal/metrics"
	"threatwatch/internal/motion"
	"threatwatch/internal/sources"
	"threatwatch/internal/threat"
)

// ServiceName is the overall health service. Inputs are reported as
// "threatwatch.motion" and "threatwatch.<domain>".
const ServiceName = "threatwatch"

// ServiceFor returns the health service name of an input.
func ServiceFor(input string) string { return ServiceName + "." + input }

// Health tracks input availability from bus events.
type Health struct {
	srv     *health.Server
	domains []sources.Domain
}

// NewHealth creates a health tracker with every service SERVING.
func NewHealth(domains []sources.Domain) *Health {
	h := &Health{srv: health.NewServer(), domains: domains}
	h.set(ServiceName, true)
	h.set(ServiceFor("motion"), true)
	for _, d := range domains {
		h.set(ServiceFor(string(d)), true)
	}
	return h
}

// Server returns the underlying grpc health implementation.
func (h *Health) Server() *health.Server { return h.srv }

// OnEvent implements events.Handler.
func (h *Health) OnEvent(e events.Event) {
	switch p := e.Payload.(type) {
	case threat.Evaluation:
		h.fromState(p.State)
	case sources.Result:
		h.set(ServiceFor(string(p.Domain)), !p.Failed())
	case motion.Status:
		h.set(ServiceFor("motion"), p.State != motion.StatusError)
	}
}

// fromState updates every input from an evaluation. The overall service
// stops serving only when no input could be read.
func (h *Health) fromState(st threat.State) {
	h.set(ServiceFor("motion"), !slices.Contains(st.Degraded, "motion"))
	for _, d := range h.domains {
		h.set(ServiceFor(string(d)), !slices.Contains(st.Degraded, string(d)))
	}
	h.set(ServiceName, len(st.Degraded) < len(h.domains)+1)
}

func (h *Health) set(service string, serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		logging.Debug().Str("service", service).Msg("health not serving")
	}
	h.srv.SetServingStatus(service, status)
	metrics.HealthStatus.WithLabelValues(service).Set(metrics.BoolGauge(serving))
}

// Shutdown sets every service to NOT_SERVING.
func (h *Health) Shutdown() { h.srv.Shutdown() }
