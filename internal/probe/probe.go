// Package probe measures liveness and latency of the local service catalog.
//
// Each tick the gateway fans out one probe per configured service, waits for
// all of them, and assembles the per-tick GatewayLatencyStats snapshot that
// gets published on the bus. Probe failures are captured in the ServiceStat
// itself — a probe never returns an error.
package probe

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/stats"
)

// Prober issues health/latency probes for one gateway's service catalog.
// It is safe for concurrent use; the catalog is immutable after startup.
type Prober struct {
	gatewayID string
	services  map[string]config.ServiceConfig

	httpClient *fasthttp.Client
	log        *slog.Logger
}

// New creates a Prober for the given catalog.
func New(gatewayID string, services map[string]config.ServiceConfig, log *slog.Logger) *Prober {
	return &Prober{
		gatewayID: gatewayID,
		services:  services,
		httpClient: &fasthttp.Client{
			// Health endpoints are tiny; don't hold idle connections that
			// would skew the next measurement toward reuse.
			MaxIdleConnDuration: time.Second,
		},
		log: log,
	}
}

// ProbeAll probes every configured service concurrently and returns the
// assembled snapshot. Every service appears in the result, failures
// included. Each probe is bounded by its own health-check timeout; an
// in-flight probe is abandoned within that window when ctx is cancelled.
func (p *Prober) ProbeAll(ctx context.Context) stats.GatewayLatencyStats {
	snap := stats.GatewayLatencyStats{
		GatewayID: p.gatewayID,
		Stats:     make(map[string]stats.ServiceStat, len(p.services)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for id, svc := range p.services {
		wg.Add(1)
		go func(id string, svc config.ServiceConfig) {
			defer wg.Done()
			stat := p.Probe(ctx, svc)
			mu.Lock()
			snap.Stats[id] = stat
			mu.Unlock()
		}(id, svc)
	}
	wg.Wait()

	return snap
}

// Probe runs one health check and returns its outcome. Down results carry
// the failure message and a zero latency.
func (p *Prober) Probe(ctx context.Context, svc config.ServiceConfig) stats.ServiceStat {
	switch svc.HealthCheck.Type {
	case config.HealthCheckHTTP:
		return p.probeHTTP(svc)
	default:
		return p.probeTCP(ctx, svc)
	}
}

// probeTCP opens a TCP connection to the service address and measures the
// elapsed wall-clock time.
func (p *Prober) probeTCP(ctx context.Context, svc config.ServiceConfig) stats.ServiceStat {
	dialCtx, cancel := context.WithTimeout(ctx, svc.HealthCheck.Timeout)
	defer cancel()

	var d net.Dialer
	start := time.Now()
	conn, err := d.DialContext(dialCtx, "tcp", svc.Addr())
	elapsed := time.Since(start)
	if err != nil {
		return down(svc.ID, err)
	}
	_ = conn.Close()

	return up(svc.ID, elapsed)
}

// probeHTTP issues a GET against the configured health URL. Any HTTP
// response counts as up — the service answered; status interpretation is
// left to the service's own monitoring. Transport failures and timeouts
// count as down.
func (p *Prober) probeHTTP(svc config.ServiceConfig) stats.ServiceStat {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(svc.HealthCheck.URL)
	req.Header.SetMethod(fasthttp.MethodGet)

	start := time.Now()
	err := p.httpClient.DoTimeout(req, resp, svc.HealthCheck.Timeout)
	elapsed := time.Since(start)
	if err != nil {
		return down(svc.ID, err)
	}

	return up(svc.ID, elapsed)
}

func up(serviceID string, latency time.Duration) stats.ServiceStat {
	return stats.ServiceStat{
		ServiceID: serviceID,
		Status:    stats.StatusUp,
		LatencyMs: latency.Milliseconds(),
	}
}

func down(serviceID string, err error) stats.ServiceStat {
	return stats.ServiceStat{
		ServiceID: serviceID,
		Status:    stats.StatusDown,
		Error:     err.Error(),
	}
}
