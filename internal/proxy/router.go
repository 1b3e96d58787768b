package proxy

import (
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management API handlers registered under
// the /pluto/* prefix, kept out of the proxied namespace.
type ManagementRoutes struct {
	Metrics RouteHandler

	// Ready reports process readiness; the gateway app wires it to the bus
	// connection state. Nil means always ready.
	Ready func() bool
}

// Start starts the HTTP listener on addr (e.g. ":8080") and blocks until the
// listener fails or Close is called. Pass nil for mgmt to start in
// proxy-only mode.
func (s *Server) Start(addr string, mgmt *ManagementRoutes) error {
	r := router.New()

	r.GET("/pluto/health", s.handleHealth)
	r.GET("/pluto/readiness", func(ctx *fasthttp.RequestCtx) {
		if mgmt == nil || mgmt.Ready == nil || mgmt.Ready() {
			writeJSON(ctx, map[string]string{"status": "ok"})
			return
		}
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		writeJSON(ctx, map[string]string{"status": "unavailable"})
	})
	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/pluto/metrics", mgmt.Metrics)
	}

	// Everything else is client traffic.
	r.NotFound = s.handleProxy

	handler := applyMiddleware(r.Handler,
		recovery,
		requestID,
		timing,
	)

	s.srv = &fasthttp.Server{
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s.srv.ListenAndServe(addr)
}
