package gateway

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/probe"
	"github.com/JeetSamespace/pluto/internal/stats"
	"github.com/JeetSamespace/pluto/internal/store"
	"github.com/JeetSamespace/pluto/internal/transport"
	"github.com/JeetSamespace/pluto/internal/transport/transporttest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(name string, services ...config.ServiceConfig) *config.GatewayConfig {
	return &config.GatewayConfig{
		Name:       name,
		Region:     "test",
		ListenPort: 8080,
		LogLevel:   "info",
		Services:   services,
		Transport: config.TransportConfig{
			Type: "nats",
			NATS: config.NATSConfig{URL: "nats://127.0.0.1:4222"},
		},
		Store:     config.StoreConfig{Type: config.StoreMemory},
		Latency:   config.LatencyConfig{Interval: 20 * time.Millisecond, Timeout: time.Second},
		Heartbeat: config.HeartbeatConfig{Interval: 20 * time.Millisecond, Timeout: time.Second, Retries: 3},
		Failover:  config.FailoverConfig{Retries: 2, Interval: time.Second},
	}
}

func service(id string) config.ServiceConfig {
	return config.ServiceConfig{
		ID:      id,
		Address: "127.0.0.1",
		Port:    9000,
		HealthCheck: config.HealthCheckConfig{
			Type:     config.HealthCheckTCP,
			Interval: time.Second,
			Timeout:  time.Second,
		},
	}
}

func testRuntime(cfg *config.GatewayConfig, bus *transporttest.Bus, st store.Store) *Runtime {
	log := testLogger()
	mgr := transport.NewManager(bus, log)
	prober := probe.New(cfg.Name, cfg.ServiceMap(), log)
	return New(cfg, mgr, st, prober, nil, nil, log)
}

// An inbound snapshot lands in the store, filtered through the local catalog.
func TestRuntime_AppliesInboundSnapshot(t *testing.T) {
	cfg := testConfig("gw-local", service("svc-a"))
	st := store.NewMemoryStore(testLogger())
	r := testRuntime(cfg, transporttest.New(), st)
	ctx := context.Background()

	r.handleMessage(ctx, transport.NewStatsMessage(stats.GatewayLatencyStats{
		GatewayID: "gw-remote",
		Stats: map[string]stats.ServiceStat{
			"svc-a":    {ServiceID: "svc-a", Status: stats.StatusUp, LatencyMs: 6},
			"svc-else": {ServiceID: "svc-else", Status: stats.StatusUp, LatencyMs: 1},
		},
	}))

	if _, ok := st.GetGatewayToService(ctx, "gw-remote", "svc-a"); !ok {
		t.Error("catalog service not applied")
	}
	if _, ok := st.GetGatewayToService(ctx, "gw-remote", "svc-else"); ok {
		t.Error("non-catalog service applied")
	}
	opt, ok := st.GetOptimal(ctx, "svc-a")
	if !ok || opt.Gateway != "gw-remote" {
		t.Errorf("optimal = %+v (ok=%v), want gw-remote", opt, ok)
	}
}

// A peer heartbeat records a gateway→gateway edge from this gateway to the
// peer; the gateway's own heartbeat is ignored.
func TestRuntime_HeartbeatUpdatesEdge(t *testing.T) {
	cfg := testConfig("gw-local")
	st := store.NewMemoryStore(testLogger())
	r := testRuntime(cfg, transporttest.New(), st)
	ctx := context.Background()

	r.handleMessage(ctx, transport.NewHeartbeatMessage(stats.Heartbeat{
		GatewayID: "gw-peer",
		SentAt:    time.Now().Add(-3 * time.Millisecond),
	}))

	edge, ok := st.GetGatewayToGateway(ctx, "gw-local", "gw-peer")
	if !ok {
		t.Fatal("expected edge gw-local → gw-peer")
	}
	if edge.Latency < 0 {
		t.Errorf("edge latency = %v, want ≥ 0", edge.Latency)
	}

	r.handleMessage(ctx, transport.NewHeartbeatMessage(stats.Heartbeat{
		GatewayID: "gw-local",
		SentAt:    time.Now(),
	}))
	if _, ok := st.GetGatewayToGateway(ctx, "gw-local", "gw-local"); ok {
		t.Error("own heartbeat recorded as an edge")
	}
}

// A heartbeat from a skewed clock clamps to zero instead of going negative.
func TestRuntime_HeartbeatClampsClockSkew(t *testing.T) {
	cfg := testConfig("gw-local")
	st := store.NewMemoryStore(testLogger())
	r := testRuntime(cfg, transporttest.New(), st)
	ctx := context.Background()

	r.handleMessage(ctx, transport.NewHeartbeatMessage(stats.Heartbeat{
		GatewayID: "gw-fast-clock",
		SentAt:    time.Now().Add(time.Minute),
	}))

	edge, ok := st.GetGatewayToGateway(ctx, "gw-local", "gw-fast-clock")
	if !ok {
		t.Fatal("expected edge")
	}
	if edge.Latency != 0 {
		t.Errorf("edge latency = %v, want 0", edge.Latency)
	}
}

// Unknown message variants are ignored without side effects.
func TestRuntime_IgnoresUnknownMessages(t *testing.T) {
	cfg := testConfig("gw-local", service("svc-a"))
	st := store.NewMemoryStore(testLogger())
	r := testRuntime(cfg, transporttest.New(), st)

	r.handleMessage(context.Background(), transport.Message{Type: "future_thing"})
	r.handleMessage(context.Background(), transport.NewPingMessage())

	if _, ok := st.GetOptimal(context.Background(), "svc-a"); ok {
		t.Error("unknown message mutated the store")
	}
}

// The full runtime publishes snapshots on the latency topic and heartbeats
// on the heartbeat topic, then stops cleanly on cancel.
func TestRuntime_PublishesSnapshotsAndHeartbeats(t *testing.T) {
	cfg := testConfig("gw-pub")
	bus := transporttest.New()
	st := store.NewMemoryStore(testLogger())
	r := testRuntime(cfg, bus, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(bus.Published(transport.PublishGatewayLatencyStats)) > 0 &&
			len(bus.Published(transport.PublishGatewayHeartbeat)) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if len(bus.Published(transport.PublishGatewayLatencyStats)) == 0 {
		t.Error("no snapshot published")
	}
	if len(bus.Published(transport.PublishGatewayHeartbeat)) == 0 {
		t.Error("no heartbeat published")
	}

	payloads := bus.Published(transport.PublishGatewayLatencyStats)
	msg, err := transport.DecodeMessage(payloads[0])
	if err != nil {
		t.Fatalf("decode published snapshot: %v", err)
	}
	if msg.Type != transport.MessageGatewayLatencyStats || msg.Stats == nil {
		t.Fatalf("unexpected snapshot message: %+v", msg)
	}
	if msg.Stats.GatewayID != "gw-pub" {
		t.Errorf("snapshot gateway id = %q, want gw-pub", msg.Stats.GatewayID)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runtime did not stop after cancel")
	}
}

// A broadcast failure does not terminate the sender loop.
func TestRuntime_SenderSurvivesPublishFailure(t *testing.T) {
	cfg := testConfig("gw-retry")
	bus := transporttest.New()
	bus.FailPublishOn(transport.PublishGatewayLatencyStats, context.DeadlineExceeded)
	st := store.NewMemoryStore(testLogger())
	r := testRuntime(cfg, bus, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	// Let several ticks fail, then heal the bus and expect a publish.
	time.Sleep(80 * time.Millisecond)
	bus.FailPublishOn(transport.PublishGatewayLatencyStats, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(bus.Published(transport.PublishGatewayLatencyStats)) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(bus.Published(transport.PublishGatewayLatencyStats)) == 0 {
		t.Error("sender never recovered after publish failures")
	}

	cancel()
	<-done
}
