package probe

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/stats"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tcpListener returns a live listener and its (host, port).
func tcpListener(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

// closedPort returns a (host, port) with nothing listening.
func closedPort(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	_ = ln.Close()
	return host, port
}

func tcpService(id, host string, port int, timeout time.Duration) config.ServiceConfig {
	return config.ServiceConfig{
		ID:      id,
		Address: host,
		Port:    port,
		HealthCheck: config.HealthCheckConfig{
			Type:     config.HealthCheckTCP,
			Interval: time.Second,
			Timeout:  timeout,
		},
	}
}

func TestProbe_TCPUp(t *testing.T) {
	host, port := tcpListener(t)
	p := New("gw-test", nil, testLogger())

	stat := p.Probe(context.Background(), tcpService("svc", host, port, 2*time.Second))

	if stat.Status != stats.StatusUp {
		t.Fatalf("status = %s, want up (error: %s)", stat.Status, stat.Error)
	}
	if stat.Error != "" {
		t.Errorf("error = %q, want empty", stat.Error)
	}
	if stat.LatencyMs < 0 {
		t.Errorf("latency = %dms, want ≥ 0", stat.LatencyMs)
	}
}

// A probe against a closed port reports down with a non-empty error and zero
// latency, within the health-check timeout.
func TestProbe_TCPDownClosedPort(t *testing.T) {
	host, port := closedPort(t)
	p := New("gw-test", nil, testLogger())

	start := time.Now()
	stat := p.Probe(context.Background(), tcpService("svc", host, port, 2*time.Second))
	elapsed := time.Since(start)

	if stat.Status != stats.StatusDown {
		t.Fatalf("status = %s, want down", stat.Status)
	}
	if stat.Error == "" {
		t.Error("expected a probe error message")
	}
	if stat.LatencyMs != 0 {
		t.Errorf("latency = %dms, want 0 for down", stat.LatencyMs)
	}
	if elapsed > 3*time.Second {
		t.Errorf("probe took %v, want ≤ timeout plus slack", elapsed)
	}
}

// An unroutable address hits the timeout, not an unbounded hang.
func TestProbe_TCPTimeout(t *testing.T) {
	// 203.0.113.0/24 is TEST-NET-3: packets go nowhere.
	svc := tcpService("svc", "203.0.113.1", 81, 300*time.Millisecond)
	p := New("gw-test", nil, testLogger())

	start := time.Now()
	stat := p.Probe(context.Background(), svc)
	elapsed := time.Since(start)

	if stat.Status != stats.StatusDown {
		t.Fatalf("status = %s, want down", stat.Status)
	}
	if elapsed > 2*time.Second {
		t.Errorf("probe took %v, want ~300ms", elapsed)
	}
}

func TestProbe_HTTPUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	svc := config.ServiceConfig{
		ID:      "svc-http",
		Address: "127.0.0.1",
		Port:    80,
		HealthCheck: config.HealthCheckConfig{
			Type:     config.HealthCheckHTTP,
			Interval: time.Second,
			Timeout:  2 * time.Second,
			URL:      srv.URL + "/healthz",
		},
	}

	p := New("gw-test", nil, testLogger())
	stat := p.Probe(context.Background(), svc)

	if stat.Status != stats.StatusUp {
		t.Fatalf("status = %s, want up (error: %s)", stat.Status, stat.Error)
	}
}

func TestProbe_HTTPDownUnreachable(t *testing.T) {
	host, port := closedPort(t)
	svc := config.ServiceConfig{
		ID:      "svc-http",
		Address: host,
		Port:    port,
		HealthCheck: config.HealthCheckConfig{
			Type:     config.HealthCheckHTTP,
			Interval: time.Second,
			Timeout:  time.Second,
			URL:      "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/healthz",
		},
	}

	p := New("gw-test", nil, testLogger())
	stat := p.Probe(context.Background(), svc)

	if stat.Status != stats.StatusDown {
		t.Fatalf("status = %s, want down", stat.Status)
	}
	if stat.Error == "" {
		t.Error("expected a probe error message")
	}
}

// ProbeAll fans out over the whole catalog and reports every service,
// failures included.
func TestProbeAll_SnapshotCoversCatalog(t *testing.T) {
	upHost, upPort := tcpListener(t)
	downHost, downPort := closedPort(t)

	services := map[string]config.ServiceConfig{
		"alive": tcpService("alive", upHost, upPort, 2*time.Second),
		"dead":  tcpService("dead", downHost, downPort, time.Second),
	}

	p := New("gw-test", services, testLogger())
	snap := p.ProbeAll(context.Background())

	if snap.GatewayID != "gw-test" {
		t.Errorf("gateway id = %q, want gw-test", snap.GatewayID)
	}
	if len(snap.Stats) != 2 {
		t.Fatalf("snapshot has %d services, want 2", len(snap.Stats))
	}
	if snap.Stats["alive"].Status != stats.StatusUp {
		t.Errorf("alive status = %s, want up", snap.Stats["alive"].Status)
	}
	if snap.Stats["dead"].Status != stats.StatusDown {
		t.Errorf("dead status = %s, want down", snap.Stats["dead"].Status)
	}
}

// A cancelled context abandons in-flight probes within the timeout window.
func TestProbeAll_RespectsCancellation(t *testing.T) {
	svc := tcpService("svc", "203.0.113.1", 81, 5*time.Second)
	p := New("gw-test", map[string]config.ServiceConfig{"svc": svc}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	snap := p.ProbeAll(ctx)
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Errorf("ProbeAll took %v after cancel, want prompt return", elapsed)
	}
	if snap.Stats["svc"].Status != stats.StatusDown {
		t.Errorf("cancelled probe status = %s, want down", snap.Stats["svc"].Status)
	}
}
