// Package proxy implements the gateway's client-facing reverse proxy.
//
// Each request names a target service (header or path prefix); the handler
// asks the shared routing store for the optimal gateway and forwards the
// request there — directly to the local service when this gateway is
// optimal, or to the peer gateway that is. Transport failures fail over to
// the next candidate upstream, bounded by the failover config, with a
// per-upstream circuit breaker in front.
//
// The proxy only crosses into the rest of the runtime at the store's API:
// the store drives selection, the proxy tracks nothing about peer health
// beyond its own breakers.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/metrics"
	"github.com/JeetSamespace/pluto/internal/ratelimit"
	"github.com/JeetSamespace/pluto/internal/store"
	"github.com/JeetSamespace/pluto/pkg/apierr"
)

// Request headers used between gateways.
const (
	// HeaderService names the target service explicitly, overriding path
	// resolution. Set on gateway→gateway handoffs.
	HeaderService = "X-Pluto-Service"

	// HeaderForwarded carries the id of the gateway that already handled the
	// request. Its presence restricts the receiving gateway to direct
	// forwarding, so a request never bounces between gateways.
	HeaderForwarded = "X-Pluto-Forwarded"
)

const defaultForwardTimeout = 30 * time.Second

// Options configures a Server beyond the gateway config.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Registry

	// Limiter is optional; nil disables rate limiting.
	Limiter *ratelimit.RPMLimiter

	// ForwardTimeout bounds one upstream attempt. Zero means 30s.
	ForwardTimeout time.Duration

	CBConfig CBConfig
}

// Server is the proxy frontend. It shares the routing store by reference
// with the background runtime and owns nothing else mutable.
type Server struct {
	gatewayID string
	region    string

	services map[string]config.ServiceConfig
	peers    map[string]config.PeerConfig

	store store.Store
	log   *slog.Logger
	prom  *metrics.Registry

	limiter *ratelimit.RPMLimiter
	cb      *CircuitBreaker

	maxAttempts    int
	forwardTimeout time.Duration

	client  *fasthttp.Client
	srv     *fasthttp.Server
	baseCtx context.Context

	startTime time.Time
}

// NewServer builds the proxy frontend for one gateway.
func NewServer(ctx context.Context, cfg *config.GatewayConfig, st store.Store, opts Options) *Server {
	if ctx == nil {
		panic("proxy: context must not be nil")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	forwardTimeout := opts.ForwardTimeout
	if forwardTimeout <= 0 {
		forwardTimeout = defaultForwardTimeout
	}
	maxAttempts := cfg.Failover.Retries
	if maxAttempts <= 0 {
		// Zero retries still forwards once.
		maxAttempts = 1
	}

	return &Server{
		gatewayID:      cfg.Name,
		region:         cfg.Region,
		services:       cfg.ServiceMap(),
		peers:          cfg.PeerMap(),
		store:          st,
		log:            log,
		prom:           opts.Metrics,
		limiter:        opts.Limiter,
		cb:             NewCircuitBreakerWithConfig(opts.CBConfig),
		maxAttempts:    maxAttempts,
		forwardTimeout: forwardTimeout,
		client:         &fasthttp.Client{},
		baseCtx:        ctx,
		startTime:      time.Now(),
	}
}

// handleProxy is the catch-all request handler.
func (s *Server) handleProxy(ctx *fasthttp.RequestCtx) {
	start := time.Now()

	if s.prom != nil {
		s.prom.IncInFlight()
		defer s.prom.DecInFlight()
	}

	if s.limiter != nil {
		allowed, _ := s.limiter.Allow(s.baseCtx, ctx.RemoteIP().String())
		if !allowed {
			if s.prom != nil {
				s.prom.RecordRateLimit("rejected")
				s.prom.ObserveHTTP("proxy", fasthttp.StatusTooManyRequests, time.Since(start))
			}
			apierr.WriteRateLimit(ctx)
			return
		}
		if s.prom != nil {
			s.prom.RecordRateLimit("allowed")
		}
	}

	serviceID := resolveServiceID(ctx)
	if serviceID == "" {
		apierr.Write(ctx, fasthttp.StatusBadRequest,
			"request names no service", apierr.TypeInvalidRequest, apierr.CodeInvalidRequest)
		s.observe(start, ctx)
		return
	}

	candidates := s.buildCandidates(serviceID, string(ctx.Request.Header.Peek(HeaderForwarded)))
	if len(candidates) == 0 {
		if _, known := s.services[serviceID]; !known {
			// Not local and no peer reaches it.
			if _, hasRoute := s.store.GetOptimal(s.baseCtx, serviceID); !hasRoute {
				apierr.WriteUnknownService(ctx, serviceID)
				s.observe(start, ctx)
				return
			}
		}
		apierr.WriteNoRoute(ctx, serviceID)
		s.observe(start, ctx)
		return
	}

	s.forwardWithFailover(ctx, serviceID, candidates)
	s.observe(start, ctx)
}

func (s *Server) observe(start time.Time, ctx *fasthttp.RequestCtx) {
	if s.prom != nil {
		s.prom.ObserveHTTP("proxy", ctx.Response.StatusCode(), time.Since(start))
	}
}

// handleHealth reports the gateway's view of its own services.
func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	services := make(map[string]string, len(s.services))
	overall := "ok"
	for id := range s.services {
		if _, ok := s.store.GetGatewayToService(s.baseCtx, s.gatewayID, id); ok {
			services[id] = "up"
		} else {
			services[id] = "down"
			overall = "degraded"
		}
	}

	writeJSON(ctx, map[string]any{
		"status":         overall,
		"gateway":        s.gatewayID,
		"region":         s.region,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"services":       services,
	})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}

// Close stops the listener, if running.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown()
}

// GatewayID returns the owning gateway's id.
func (s *Server) GatewayID() string { return s.gatewayID }

func (s *Server) String() string {
	return fmt.Sprintf("proxy(%s, %d services, %d peers)", s.gatewayID, len(s.services), len(s.peers))
}
