// Package orbit implements the central relay: every latency snapshot and
// heartbeat received on a gateway-origin topic is immediately rebroadcast on
// the matching gateway-consumption topic, unchanged. Orbit aggregates
// nothing, filters nothing, and stores nothing.
package orbit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/metrics"
	"github.com/JeetSamespace/pluto/internal/transport"
)

// Orbit is the relay runtime.
type Orbit struct {
	cfg  *config.OrbitConfig
	bus  *transport.Manager
	prom *metrics.Registry
	log  *slog.Logger
}

// New wraps a connected transport manager.
func New(cfg *config.OrbitConfig, bus *transport.Manager, prom *metrics.Registry, log *slog.Logger) *Orbit {
	return &Orbit{cfg: cfg, bus: bus, prom: prom, log: log}
}

// Run relays messages until ctx is cancelled or the bus ends the stream.
// Rebroadcast failures are logged and the receive loop continues.
func (o *Orbit) Run(ctx context.Context) error {
	ch, err := o.bus.SubscribeToTopics(ctx, []transport.Topic{
		transport.PublishGatewayLatencyStats,
		transport.PublishGatewayHeartbeat,
	})
	if err != nil {
		return fmt.Errorf("orbit: subscribe: %w", err)
	}

	o.log.Info("orbit relaying",
		slog.String("from", transport.PublishGatewayLatencyStats.String()),
		slog.String("to", transport.SubscribeGatewayLatencyStats.String()),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("orbit: inbound stream ended")
			}
			o.relay(ctx, msg)
		}
	}
}

// relay rebroadcasts one message on the consumption topic matching its type.
// Unknown variants are dropped — gateways would ignore them anyway.
func (o *Orbit) relay(ctx context.Context, msg transport.Message) {
	var topic transport.Topic
	switch msg.Type {
	case transport.MessageGatewayLatencyStats:
		topic = transport.SubscribeGatewayLatencyStats
	case transport.MessageHeartbeat:
		topic = transport.SubscribeGatewayHeartbeat
	default:
		return
	}

	if err := o.bus.Broadcast(ctx, []transport.Topic{topic}, msg); err != nil {
		o.log.Warn("relay broadcast failed",
			slog.String("topic", topic.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if o.prom != nil {
		o.prom.RecordRelay(topic.String())
	}
}

// ServeManagement exposes /metrics and /health on orbit's listen port and
// blocks until the listener fails or Close is called on the server. Only
// started when metrics are enabled in the config.
func (o *Orbit) ServeManagement(addr string) error {
	r := router.New()
	r.GET("/health", func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"ok"}`)
	})
	if o.prom != nil {
		r.GET("/metrics", o.prom.Handler())
	}

	srv := &fasthttp.Server{Handler: r.Handler}
	if o.cfg.MaxConnections > 0 {
		srv.Concurrency = o.cfg.MaxConnections
	}
	return srv.ListenAndServe(addr)
}
