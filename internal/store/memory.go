package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/stats"
)

// MemoryStore is the in-process routing table.
//
// Each mapping has its own RWMutex. Update operations hold a write lock only
// for the map mutation and release it before recomputing optimal paths;
// recomputation then takes read locks on the two source maps and a write
// lock on the optimal map. This bounds write-lock hold time to the snapshot
// size and keeps optimal-path readers from ever blocking G2S/G2G writers.
type MemoryStore struct {
	g2sMu sync.RWMutex
	g2s   map[string]map[string]GatewayToServiceStats

	g2gMu sync.RWMutex
	g2g   map[string]map[string]GatewayToGatewayStats

	optMu sync.RWMutex
	opt   map[string]OptimalPath

	log *slog.Logger
}

// NewMemoryStore creates an empty routing table.
func NewMemoryStore(log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		g2s: make(map[string]map[string]GatewayToServiceStats),
		g2g: make(map[string]map[string]GatewayToGatewayStats),
		opt: make(map[string]OptimalPath),
		log: log,
	}
}

// UpdateGatewayToService applies one snapshot atomically: every service in
// the snapshot that is also in the local catalog is replaced under a single
// write-lock acquisition. Services the catalog does not know are skipped
// with a warning — the local catalog filters incoming telemetry. A service
// reported down has its entry removed so it stops being a path candidate.
func (s *MemoryStore) UpdateGatewayToService(_ context.Context, snap stats.GatewayLatencyStats, catalog map[string]config.ServiceConfig) {
	now := time.Now()
	touched := make([]string, 0, len(snap.Stats))

	s.g2sMu.Lock()
	services := s.g2s[snap.GatewayID]
	if services == nil {
		services = make(map[string]GatewayToServiceStats, len(snap.Stats))
		s.g2s[snap.GatewayID] = services
	}
	for serviceID, stat := range snap.Stats {
		svc, ok := catalog[serviceID]
		if !ok {
			s.log.Warn("service not in local catalog, skipping",
				slog.String("gateway", snap.GatewayID),
				slog.String("service", serviceID),
			)
			continue
		}
		touched = append(touched, serviceID)
		if !stat.Up() {
			delete(services, serviceID)
			continue
		}
		services[serviceID] = GatewayToServiceStats{
			ServiceID:   serviceID,
			Latency:     stat.Latency(),
			LastUpdated: now,
			Service:     svc,
		}
	}
	s.g2sMu.Unlock()

	for _, serviceID := range touched {
		s.updateOptimalPath(serviceID)
	}
}

// UpdateGatewayToGateway overwrites one edge, then recomputes every service
// currently holding an optimal path (an edge change can shift any of them).
func (s *MemoryStore) UpdateGatewayToGateway(_ context.Context, from, to string, latency time.Duration) {
	s.g2gMu.Lock()
	edges := s.g2g[from]
	if edges == nil {
		edges = make(map[string]GatewayToGatewayStats)
		s.g2g[from] = edges
	}
	edges[to] = GatewayToGatewayStats{Latency: latency, LastUpdated: time.Now()}
	s.g2gMu.Unlock()

	for _, serviceID := range s.knownServices() {
		s.updateOptimalPath(serviceID)
	}
}

// GetOptimal returns a copy of the optimal path for serviceID.
func (s *MemoryStore) GetOptimal(_ context.Context, serviceID string) (OptimalPath, bool) {
	s.optMu.RLock()
	defer s.optMu.RUnlock()
	p, ok := s.opt[serviceID]
	return p, ok
}

// GetGatewayToService returns a copy of one direct entry.
func (s *MemoryStore) GetGatewayToService(_ context.Context, gatewayID, serviceID string) (GatewayToServiceStats, bool) {
	s.g2sMu.RLock()
	defer s.g2sMu.RUnlock()
	st, ok := s.g2s[gatewayID][serviceID]
	return st, ok
}

// GetGatewayToGateway returns a copy of one edge entry.
func (s *MemoryStore) GetGatewayToGateway(_ context.Context, from, to string) (GatewayToGatewayStats, bool) {
	s.g2gMu.RLock()
	defer s.g2gMu.RUnlock()
	st, ok := s.g2g[from][to]
	return st, ok
}

// RemoveStale evicts entries whose LastUpdated is older than maxAge and
// recomputes the optimal paths the evictions touched.
func (s *MemoryStore) RemoveStale(_ context.Context, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	touched := make(map[string]bool)

	s.g2sMu.Lock()
	for gatewayID, services := range s.g2s {
		for serviceID, st := range services {
			if st.LastUpdated.Before(cutoff) {
				delete(services, serviceID)
				touched[serviceID] = true
			}
		}
		if len(services) == 0 {
			delete(s.g2s, gatewayID)
		}
	}
	s.g2sMu.Unlock()

	edgeEvicted := false
	s.g2gMu.Lock()
	for from, edges := range s.g2g {
		for to, st := range edges {
			if st.LastUpdated.Before(cutoff) {
				delete(edges, to)
				edgeEvicted = true
			}
		}
		if len(edges) == 0 {
			delete(s.g2g, from)
		}
	}
	s.g2gMu.Unlock()

	if edgeEvicted {
		// An evicted edge can invalidate any two-hop path.
		for _, serviceID := range s.knownServices() {
			touched[serviceID] = true
		}
	}
	for serviceID := range touched {
		s.updateOptimalPath(serviceID)
	}
}

// knownServices returns every service id currently holding an optimal path.
func (s *MemoryStore) knownServices() []string {
	s.optMu.RLock()
	defer s.optMu.RUnlock()
	ids := make([]string, 0, len(s.opt))
	for id := range s.opt {
		ids = append(ids, id)
	}
	return ids
}

// updateOptimalPath recomputes OPT for one service from a point-in-time read
// of the two source maps. When no candidate remains the entry is dropped.
func (s *MemoryStore) updateOptimalPath(serviceID string) {
	gateway, latency, ok := s.calculateOptimalPath(serviceID)

	s.optMu.Lock()
	defer s.optMu.Unlock()
	if !ok {
		delete(s.opt, serviceID)
		return
	}
	s.opt[serviceID] = OptimalPath{
		Gateway:     gateway,
		Latency:     latency,
		LastUpdated: time.Now(),
	}
}

// calculateOptimalPath scans direct candidates, then two-hop candidates.
// Comparison is strict less-than over candidates enumerated in sorted
// gateway-id order, so ties deterministically keep the lexicographically
// smallest gateway id. Paths longer than two hops are not considered.
func (s *MemoryStore) calculateOptimalPath(serviceID string) (string, time.Duration, bool) {
	s.g2sMu.RLock()
	defer s.g2sMu.RUnlock()
	s.g2gMu.RLock()
	defer s.g2gMu.RUnlock()

	best := ""
	found := false
	var bestLatency time.Duration

	for _, gatewayID := range sortedKeys(s.g2s) {
		st, ok := s.g2s[gatewayID][serviceID]
		if !ok {
			continue
		}
		if !found || st.Latency < bestLatency {
			best, bestLatency, found = gatewayID, st.Latency, true
		}
	}

	for _, from := range sortedKeys(s.g2g) {
		edges := s.g2g[from]
		for _, intermediate := range sortedKeys(edges) {
			st, ok := s.g2s[intermediate][serviceID]
			if !ok {
				continue
			}
			total := edges[intermediate].Latency + st.Latency
			if !found || total < bestLatency {
				// The intermediate gateway is the announced next hop.
				best, bestLatency, found = intermediate, total, true
			}
		}
	}

	return best, bestLatency, found
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
