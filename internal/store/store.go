// Package store maintains the latency routing table each gateway keeps.
//
// Three mappings are tracked: direct gateway→service latencies (G2S),
// gateway→gateway latencies (G2G), and the derived optimal next-hop per
// service (OPT). OPT is recomputed incrementally whenever a relevant entry
// changes, so reads on the proxy hot path are a single map lookup.
//
// Two backends are available:
//   - MemoryStore — in-process, reference implementation.
//   - RedisStore  — Redis-backed with per-entry TTL, for gateways that share
//     a routing table across replicas.
//
// Both implement the Store interface so the runtime holds either.
package store

import (
	"context"
	"time"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/stats"
)

// GatewayToServiceStats is one gateway's measured latency to one service it
// fronts directly, together with the locally configured service entry.
type GatewayToServiceStats struct {
	ServiceID   string               `json:"service_id"`
	Latency     time.Duration        `json:"latency"`
	LastUpdated time.Time            `json:"last_updated"`
	Service     config.ServiceConfig `json:"service"`
}

// GatewayToGatewayStats is the measured latency of one gateway→gateway edge.
type GatewayToGatewayStats struct {
	Latency     time.Duration `json:"latency"`
	LastUpdated time.Time     `json:"last_updated"`
}

// OptimalPath is the chosen next hop for a service: the gateway with the
// lowest total latency across all direct and two-hop candidates.
type OptimalPath struct {
	Gateway     string        `json:"gateway"`
	Latency     time.Duration `json:"latency"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Store is the routing-table capability shared by every activity in the
// gateway process. All methods are safe for concurrent invocation and are
// total: failures inside a backend degrade to a logged warning, never an
// error surfaced to the caller. Read methods return value copies.
type Store interface {
	// UpdateGatewayToService applies one snapshot. Services missing from the
	// local catalog are skipped with a warning; services reported down have
	// their entry removed. Optimal paths are recomputed for every touched
	// service.
	UpdateGatewayToService(ctx context.Context, snap stats.GatewayLatencyStats, catalog map[string]config.ServiceConfig)

	// UpdateGatewayToGateway overwrites one gateway→gateway edge and
	// recomputes every known optimal path.
	UpdateGatewayToGateway(ctx context.Context, from, to string, latency time.Duration)

	// GetOptimal returns the optimal next hop for a service, if any
	// candidate path exists.
	GetOptimal(ctx context.Context, serviceID string) (OptimalPath, bool)

	// GetGatewayToService returns one direct entry.
	GetGatewayToService(ctx context.Context, gatewayID, serviceID string) (GatewayToServiceStats, bool)

	// GetGatewayToGateway returns one edge entry.
	GetGatewayToGateway(ctx context.Context, from, to string) (GatewayToGatewayStats, bool)

	// RemoveStale evicts every G2S and G2G entry older than maxAge and
	// recomputes the affected optimal paths.
	RemoveStale(ctx context.Context, maxAge time.Duration)
}
