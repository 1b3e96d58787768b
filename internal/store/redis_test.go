package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/JeetSamespace/pluto/internal/stats"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisStoreFromClient(client, testLogger())
}

func TestRedisStore_UpdateAndGet(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	catalog := testCatalog("svc-a")

	s.UpdateGatewayToService(ctx, snapshot("gw-1", map[string]int64{"svc-a": 7}), catalog)

	st, ok := s.GetGatewayToService(ctx, "gw-1", "svc-a")
	if !ok {
		t.Fatal("expected entry for (gw-1, svc-a)")
	}
	if st.Latency != 7*time.Millisecond {
		t.Errorf("latency = %v, want 7ms", st.Latency)
	}
	if st.Service.ID != "svc-a" {
		t.Errorf("service config id = %q, want svc-a", st.Service.ID)
	}
}

func TestRedisStore_OptimalDirect(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	catalog := testCatalog("X")

	s.UpdateGatewayToService(ctx, snapshot("A", map[string]int64{"X": 5}), catalog)
	s.UpdateGatewayToService(ctx, snapshot("B", map[string]int64{"X": 20}), catalog)

	opt, ok := s.GetOptimal(ctx, "X")
	if !ok {
		t.Fatal("expected optimal path for X")
	}
	if opt.Gateway != "A" || opt.Latency != 5*time.Millisecond {
		t.Errorf("optimal = (%s, %v), want (A, 5ms)", opt.Gateway, opt.Latency)
	}
}

func TestRedisStore_OptimalTwoHop(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	catalog := testCatalog("X")

	s.UpdateGatewayToService(ctx, snapshot("A", map[string]int64{"X": 100}), catalog)
	s.UpdateGatewayToService(ctx, snapshot("B", map[string]int64{"X": 50}), catalog)
	s.UpdateGatewayToGateway(ctx, "A", "B", 10*time.Millisecond)

	opt, ok := s.GetOptimal(ctx, "X")
	if !ok {
		t.Fatal("expected optimal path for X")
	}
	if opt.Gateway != "B" || opt.Latency != 60*time.Millisecond {
		t.Errorf("optimal = (%s, %v), want (B, 60ms)", opt.Gateway, opt.Latency)
	}
}

func TestRedisStore_CatalogFiltersUnknownServices(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	catalog := testCatalog("known")

	s.UpdateGatewayToService(ctx, snapshot("gw-remote", map[string]int64{
		"known":   5,
		"unknown": 1,
	}), catalog)

	if _, ok := s.GetGatewayToService(ctx, "gw-remote", "unknown"); ok {
		t.Error("entry created for service outside the local catalog")
	}
	if _, ok := s.GetOptimal(ctx, "unknown"); ok {
		t.Error("optimal path created for service outside the local catalog")
	}
}

func TestRedisStore_DownServiceRemoved(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	catalog := testCatalog("svc-a")

	s.UpdateGatewayToService(ctx, snapshot("gw-1", map[string]int64{"svc-a": 5}), catalog)
	if _, ok := s.GetOptimal(ctx, "svc-a"); !ok {
		t.Fatal("expected optimal path while up")
	}

	downSnap := stats.GatewayLatencyStats{
		GatewayID: "gw-1",
		Stats: map[string]stats.ServiceStat{
			"svc-a": {ServiceID: "svc-a", Status: stats.StatusDown, Error: "connection refused"},
		},
	}
	s.UpdateGatewayToService(ctx, downSnap, catalog)

	if _, ok := s.GetGatewayToService(ctx, "gw-1", "svc-a"); ok {
		t.Error("down service still has a G2S entry")
	}
	if _, ok := s.GetOptimal(ctx, "svc-a"); ok {
		t.Error("down service still has an optimal path")
	}
}

func TestRedisStore_RemoveStale(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()
	catalog := testCatalog("svc-a")

	s.UpdateGatewayToService(ctx, snapshot("gw-1", map[string]int64{"svc-a": 5}), catalog)

	s.RemoveStale(ctx, time.Hour)
	if _, ok := s.GetGatewayToService(ctx, "gw-1", "svc-a"); !ok {
		t.Fatal("fresh entry evicted")
	}

	time.Sleep(5 * time.Millisecond)
	s.RemoveStale(ctx, time.Nanosecond)
	if _, ok := s.GetGatewayToService(ctx, "gw-1", "svc-a"); ok {
		t.Error("stale entry survived")
	}
	if _, ok := s.GetOptimal(ctx, "svc-a"); ok {
		t.Error("optimal path survived with no remaining candidates")
	}
}
