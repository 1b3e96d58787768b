package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/stats"
)

// Key layout: one JSON value per composite key.
//
//	g2s:<gateway>:<service> → GatewayToServiceStats
//	g2g:<from>:<to>         → GatewayToGatewayStats
//	opt:<service>           → OptimalPath
//
// Every entry carries a TTL so a gateway that stops publishing ages out of
// the shared table without explicit eviction.
const (
	g2sKeyPrefix = "g2s:"
	g2gKeyPrefix = "g2g:"
	optKeyPrefix = "opt:"

	storeTTL     = time.Hour
	queryTimeout = 500 * time.Millisecond
	scanCount    = 200
)

// RedisStore is the Redis-backed routing table, for deployments where
// several gateway replicas in one region share routing state.
//
// All operations degrade gracefully: a Redis failure is logged at WARN and
// the operation becomes a no-op (updates) or a miss (reads) — the routing
// fabric keeps running on whatever state is reachable.
type RedisStore struct {
	client *redis.Client
	log    *slog.Logger
}

// NewRedisStoreFromClient wraps an existing Redis client. The caller owns
// the client lifecycle.
func NewRedisStoreFromClient(client *redis.Client, log *slog.Logger) *RedisStore {
	return &RedisStore{client: client, log: log}
}

// NewRedisStoreFromURL parses the URL from the store config, verifies the
// connection with a PING, and returns a RedisStore owning the client.
func NewRedisStoreFromURL(ctx context.Context, cfg config.RedisConfig, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}

	return &RedisStore{client: client, log: log}, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// UpdateGatewayToService applies one snapshot. Catalog filtering and
// down-service removal follow the in-memory backend exactly.
func (s *RedisStore) UpdateGatewayToService(ctx context.Context, snap stats.GatewayLatencyStats, catalog map[string]config.ServiceConfig) {
	now := time.Now()
	touched := make([]string, 0, len(snap.Stats))

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

		key := g2sKey(snap.GatewayID, serviceID)
		if !stat.Up() {
			s.del(ctx, key)
			continue
		}
		s.setJSON(ctx, key, GatewayToServiceStats{
			ServiceID:   serviceID,
			Latency:     stat.Latency(),
			LastUpdated: now,
			Service:     svc,
		})
	}

	for _, serviceID := range touched {
		s.updateOptimalPath(ctx, serviceID)
	}
}

// UpdateGatewayToGateway overwrites one edge and recomputes every service
// that currently holds an optimal path.
func (s *RedisStore) UpdateGatewayToGateway(ctx context.Context, from, to string, latency time.Duration) {
	s.setJSON(ctx, g2gKey(from, to), GatewayToGatewayStats{
		Latency:     latency,
		LastUpdated: time.Now(),
	})

	for _, serviceID := range s.knownServices(ctx) {
		s.updateOptimalPath(ctx, serviceID)
	}
}

// GetOptimal returns the optimal next hop for a service.
func (s *RedisStore) GetOptimal(ctx context.Context, serviceID string) (OptimalPath, bool) {
	var p OptimalPath
	if !s.getJSON(ctx, optKeyPrefix+serviceID, &p) {
		return OptimalPath{}, false
	}
	return p, true
}

// GetGatewayToService returns one direct entry.
func (s *RedisStore) GetGatewayToService(ctx context.Context, gatewayID, serviceID string) (GatewayToServiceStats, bool) {
	var st GatewayToServiceStats
	if !s.getJSON(ctx, g2sKey(gatewayID, serviceID), &st) {
		return GatewayToServiceStats{}, false
	}
	return st, true
}

// GetGatewayToGateway returns one edge entry.
func (s *RedisStore) GetGatewayToGateway(ctx context.Context, from, to string) (GatewayToGatewayStats, bool) {
	var st GatewayToGatewayStats
	if !s.getJSON(ctx, g2gKey(from, to), &st) {
		return GatewayToGatewayStats{}, false
	}
	return st, true
}

// RemoveStale deletes entries older than maxAge. The per-entry TTL already
// bounds staleness at one hour; this tightens it to the caller's window.
func (s *RedisStore) RemoveStale(ctx context.Context, maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	touched := make(map[string]bool)

	for _, key := range s.scanKeys(ctx, g2sKeyPrefix+"*") {
		var st GatewayToServiceStats
		if !s.getJSON(ctx, key, &st) {
			continue
		}
		if st.LastUpdated.Before(cutoff) {
			s.del(ctx, key)
			touched[st.ServiceID] = true
		}
	}

	edgeEvicted := false
	for _, key := range s.scanKeys(ctx, g2gKeyPrefix+"*") {
		var st GatewayToGatewayStats
		if !s.getJSON(ctx, key, &st) {
			continue
		}
		if st.LastUpdated.Before(cutoff) {
			s.del(ctx, key)
			edgeEvicted = true
		}
	}

	if edgeEvicted {
		for _, serviceID := range s.knownServices(ctx) {
			touched[serviceID] = true
		}
	}
	for serviceID := range touched {
		s.updateOptimalPath(ctx, serviceID)
	}
}

// ── Optimal-path recomputation ───────────────────────────────────────────────

// updateOptimalPath recomputes OPT for one service from a scan of the two
// source key spaces. When no candidate remains the opt key is deleted.
func (s *RedisStore) updateOptimalPath(ctx context.Context, serviceID string) {
	gateway, latency, ok := s.calculateOptimalPath(ctx, serviceID)
	if !ok {
		s.del(ctx, optKeyPrefix+serviceID)
		return
	}
	s.setJSON(ctx, optKeyPrefix+serviceID, OptimalPath{
		Gateway:     gateway,
		Latency:     latency,
		LastUpdated: time.Now(),
	})
}

func (s *RedisStore) calculateOptimalPath(ctx context.Context, serviceID string) (string, time.Duration, bool) {
	// Direct candidates: every gateway holding an entry for this service.
	// Keys come back sorted so ties keep the lexicographically smallest
	// gateway id, matching the in-memory backend.
	direct := make(map[string]time.Duration)
	for _, key := range s.scanKeys(ctx, g2sKeyPrefix+"*:"+serviceID) {
		gatewayID, svc, ok := splitComposite(key, g2sKeyPrefix)
		if !ok || svc != serviceID {
			continue
		}
		var st GatewayToServiceStats
		if !s.getJSON(ctx, key, &st) {
			continue
		}
		direct[gatewayID] = st.Latency
	}

	best := ""
	found := false
	var bestLatency time.Duration
	for _, gatewayID := range sortedKeys(direct) {
		if !found || direct[gatewayID] < bestLatency {
			best, bestLatency, found = gatewayID, direct[gatewayID], true
		}
	}

	// Two-hop candidates: every edge whose target reaches the service.
	for _, key := range s.scanKeys(ctx, g2gKeyPrefix+"*") {
		_, intermediate, ok := splitComposite(key, g2gKeyPrefix)
		if !ok {
			continue
		}
		serviceLatency, reaches := direct[intermediate]
		if !reaches {
			continue
		}
		var edge GatewayToGatewayStats
		if !s.getJSON(ctx, key, &edge) {
			continue
		}
		total := edge.Latency + serviceLatency
		if !found || total < bestLatency {
			best, bestLatency, found = intermediate, total, true
		}
	}

	return best, bestLatency, found
}

// knownServices enumerates service ids currently holding an optimal path.
func (s *RedisStore) knownServices(ctx context.Context) []string {
	keys := s.scanKeys(ctx, optKeyPrefix+"*")
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, strings.TrimPrefix(key, optKeyPrefix))
	}
	return ids
}

// ── Redis plumbing ───────────────────────────────────────────────────────────

func (s *RedisStore) setJSON(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("store encode failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := s.client.Set(opCtx, key, data, storeTTL).Err(); err != nil {
		s.log.Warn("store set failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) bool {
	opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	data, err := s.client.Get(opCtx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("store get failed", slog.String("key", key), slog.String("error", err.Error()))
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.log.Warn("store decode failed", slog.String("key", key), slog.String("error", err.Error()))
		return false
	}
	return true
}

func (s *RedisStore) del(ctx context.Context, key string) {
	opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	if err := s.client.Del(opCtx, key).Err(); err != nil {
		s.log.Warn("store del failed", slog.String("key", key), slog.String("error", err.Error()))
	}
}

// scanKeys enumerates keys matching pattern, sorted for deterministic
// candidate ordering.
func (s *RedisStore) scanKeys(ctx context.Context, pattern string) []string {
	var (
		keys   []string
		cursor uint64
	)
	for {
		opCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		batch, next, err := s.client.Scan(opCtx, cursor, pattern, scanCount).Result()
		cancel()
		if err != nil {
			s.log.Warn("store scan failed", slog.String("pattern", pattern), slog.String("error", err.Error()))
			return keys
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys
}

// splitComposite splits "<prefix><a>:<b>" into (a, b). Gateway and service
// ids must not contain ":".
func splitComposite(key, prefix string) (string, string, bool) {
	rest := strings.TrimPrefix(key, prefix)
	i := strings.IndexByte(rest, ':')
	if i < 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func g2sKey(gatewayID, serviceID string) string { return g2sKeyPrefix + gatewayID + ":" + serviceID }
func g2gKey(from, to string) string             { return g2gKeyPrefix + from + ":" + to }
