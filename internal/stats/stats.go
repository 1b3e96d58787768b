// Package stats defines the telemetry types exchanged between gateways and
// orbit: per-service probe outcomes and the per-tick snapshot a gateway
// publishes on the bus.
//
// All types are JSON-serializable; latencies travel as integer milliseconds
// so the wire format is stable across runtimes.
package stats

import (
	"time"
)

// ServiceStatus is the probe outcome for one service.
type ServiceStatus string

const (
	StatusUp   ServiceStatus = "up"
	StatusDown ServiceStatus = "down"
)

// ServiceStat is the result of a single health/latency probe.
// Latency is zero when the service is down; Error carries the probe failure
// message and is empty on success.
type ServiceStat struct {
	ServiceID string        `json:"service_id"`
	Status    ServiceStatus `json:"status"`
	LatencyMs int64         `json:"latency_ms"`
	Error     string        `json:"error,omitempty"`
}

// Latency returns the probe latency as a time.Duration.
func (s ServiceStat) Latency() time.Duration {
	return time.Duration(s.LatencyMs) * time.Millisecond
}

// Up reports whether the probe succeeded.
func (s ServiceStat) Up() bool { return s.Status == StatusUp }

// GatewayLatencyStats is one gateway's complete per-tick view of its local
// services, keyed by service id. It is the payload fanned out through orbit
// so every peer learns this gateway's direct latencies.
type GatewayLatencyStats struct {
	GatewayID string                 `json:"gateway_id"`
	Stats     map[string]ServiceStat `json:"stats"`
}

// Heartbeat is a periodic liveness beacon. Receivers use SentAt to estimate
// the bus delay from the emitting gateway.
type Heartbeat struct {
	GatewayID string    `json:"gateway_id"`
	SentAt    time.Time `json:"sent_at"`
}
