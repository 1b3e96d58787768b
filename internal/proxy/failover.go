package proxy

import (
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/JeetSamespace/pluto/pkg/apierr"
)

// upstream is one candidate target for a request.
type upstream struct {
	// name labels the upstream in logs, metrics, and breaker state: the peer
	// gateway id, or "local:<service>" for a direct forward.
	name string
	addr string
	tls  bool

	// direct is true when addr is the service itself rather than a peer
	// gateway.
	direct bool
}

// buildCandidates orders the upstreams to try for a service: the store's
// optimal gateway first (resolved to the local service or a peer dial
// entry), then the direct local service as fallback. A request that was
// already forwarded by a peer is restricted to the direct path so traffic
// never bounces between gateways.
func (s *Server) buildCandidates(serviceID, forwardedBy string) []upstream {
	var out []upstream

	direct := func() (upstream, bool) {
		svc, ok := s.services[serviceID]
		if !ok {
			return upstream{}, false
		}
		return upstream{name: "local:" + serviceID, addr: svc.Addr(), direct: true}, true
	}

	if forwardedBy != "" {
		if u, ok := direct(); ok {
			out = append(out, u)
		}
		return out
	}

	if opt, ok := s.store.GetOptimal(s.baseCtx, serviceID); ok {
		if s.prom != nil {
			s.prom.SetOptimalLatency(serviceID, opt.Latency)
		}
		if opt.Gateway == s.gatewayID {
			if u, ok := direct(); ok {
				out = append(out, u)
			}
		} else if peer, ok := s.peers[opt.Gateway]; ok {
			out = append(out, upstream{name: peer.ID, addr: peer.Addr(), tls: peer.TLS})
		} else {
			s.log.Warn("optimal gateway has no peer entry",
				slog.String("service", serviceID),
				slog.String("gateway", opt.Gateway),
			)
		}
	}

	// Direct fallback, unless the optimal path already resolved to it.
	if u, ok := direct(); ok {
		if len(out) == 0 || out[0].name != u.name {
			out = append(out, u)
		}
	}

	return out
}

// forwardWithFailover walks the candidate list until one forward succeeds,
// bounded by the failover retry budget. Upstreams whose circuit breaker is
// open are skipped. Only transport-level failures trigger failover; an HTTP
// error status from an upstream is a response, and it is served as-is.
func (s *Server) forwardWithFailover(ctx *fasthttp.RequestCtx, serviceID string, candidates []upstream) {
	requestID, _ := ctx.UserValue("request_id").(string)

	var lastErr error
	prev := ""
	attempts := 0

	for _, u := range candidates {
		if attempts >= s.maxAttempts {
			break
		}

		if !s.cb.Allow(u.name) {
			s.log.Warn("circuit_breaker_open",
				slog.String("request_id", requestID),
				slog.String("upstream", u.name),
			)
			if s.prom != nil {
				s.prom.RecordCircuitBreakerRejection(u.name, s.cb.StateLabel(u.name))
				s.prom.SetCircuitBreaker(u.name, int64(s.cb.State(u.name)))
			}
			continue
		}

		if prev != "" {
			if s.prom != nil {
				s.prom.RecordFailover(serviceID, prev, u.name)
			}
			s.log.Info("failover",
				slog.String("request_id", requestID),
				slog.String("service", serviceID),
				slog.String("from", prev),
				slog.String("to", u.name),
			)
		}

		start := time.Now()
		err := s.forward(ctx, serviceID, u)
		dur := time.Since(start)
		attempts++

		if err == nil {
			s.cb.RecordSuccess(u.name)
			if s.prom != nil {
				s.prom.ObserveUpstreamAttempt(u.name, "success", dur)
				s.prom.SetCircuitBreaker(u.name, int64(s.cb.State(u.name)))
			}
			return
		}

		s.cb.RecordFailure(u.name)
		if s.prom != nil {
			s.prom.ObserveUpstreamAttempt(u.name, "error", dur)
			s.prom.SetCircuitBreaker(u.name, int64(s.cb.State(u.name)))
		}
		s.log.Warn("upstream_attempt_failed",
			slog.String("request_id", requestID),
			slog.String("service", serviceID),
			slog.String("upstream", u.name),
			slog.String("error", err.Error()),
			slog.Int64("latency_ms", dur.Milliseconds()),
		)

		lastErr = err
		prev = u.name
	}

	if s.prom != nil {
		s.prom.RecordFailoverExhausted(serviceID)
	}
	if lastErr == fasthttp.ErrTimeout {
		apierr.WriteTimeout(ctx)
		return
	}
	msg := "all upstreams failed"
	if lastErr != nil {
		msg = "all upstreams failed: " + lastErr.Error()
	}
	apierr.WriteUpstreamError(ctx, msg)
}

// forward sends one copy of the request to u and, on success, copies the
// upstream response into ctx.
func (s *Server) forward(ctx *fasthttp.RequestCtx, serviceID string, u upstream) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	ctx.Request.CopyTo(req)
	req.SetHost(u.addr)
	if u.tls {
		req.URI().SetScheme("https")
	} else {
		req.URI().SetScheme("http")
	}
	if !u.direct {
		// Peer handoff: pin the target service and mark the hop.
		req.Header.Set(HeaderService, serviceID)
		req.Header.Set(HeaderForwarded, s.gatewayID)
	}

	if err := s.client.DoTimeout(req, resp, s.forwardTimeout); err != nil {
		return err
	}

	resp.CopyTo(&ctx.Response)
	return nil
}
