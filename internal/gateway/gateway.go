// Package gateway runs the background activities of one gateway process:
// the probe/publish tick, the snapshot receiver, and the heartbeat beacon.
//
// The runtime owns the transport manager and the service catalog; the
// routing store is shared by reference with the proxy frontend. All loops
// respect context cancellation and return on the first unrecoverable event,
// letting the process race them against the shutdown signal.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/logger"
	"github.com/JeetSamespace/pluto/internal/metrics"
	"github.com/JeetSamespace/pluto/internal/probe"
	"github.com/JeetSamespace/pluto/internal/stats"
	"github.com/JeetSamespace/pluto/internal/store"
	"github.com/JeetSamespace/pluto/internal/transport"
)

// staleFactor scales the latency interval into the staleness eviction
// window: entries older than three ticks are dropped.
const staleFactor = 3

// Runtime is the set of background loops for one gateway.
type Runtime struct {
	id       string
	cfg      *config.GatewayConfig
	services map[string]config.ServiceConfig

	bus    *transport.Manager
	store  store.Store
	prober *probe.Prober

	// journal is optional; nil disables probe journaling.
	journal *logger.Logger

	prom *metrics.Registry
	log  *slog.Logger
}

// New assembles the runtime. The store is shared with the proxy frontend;
// the transport manager and catalog are owned exclusively.
func New(cfg *config.GatewayConfig, bus *transport.Manager, st store.Store, prober *probe.Prober, journal *logger.Logger, prom *metrics.Registry, log *slog.Logger) *Runtime {
	return &Runtime{
		id:       cfg.Name,
		cfg:      cfg,
		services: cfg.ServiceMap(),
		bus:      bus,
		store:    st,
		prober:   prober,
		journal:  journal,
		prom:     prom,
		log:      log,
	}
}

// Run starts the sender, receiver, and heartbeat loops and blocks until ctx
// is cancelled or one loop fails.
func (r *Runtime) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return r.sendLoop(gctx) })
	g.Go(func() error { return r.receiveLoop(gctx) })
	g.Go(func() error { return r.heartbeatLoop(gctx) })

	return g.Wait()
}

// sendLoop probes every local service each latency interval, broadcasts the
// snapshot, and evicts stale routing entries. A broadcast failure is logged
// and the next tick retries — the loop only ends with the context.
func (r *Runtime) sendLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Latency.Interval)
	defer ticker.Stop()

	for {
		snap := r.prober.ProbeAll(ctx)
		r.journalSnapshot(snap)

		err := r.bus.Broadcast(ctx, []transport.Topic{transport.PublishGatewayLatencyStats},
			transport.NewStatsMessage(snap))
		if err != nil {
			if r.prom != nil {
				r.prom.SnapshotPublishError()
			}
			r.log.Warn("snapshot broadcast failed", slog.String("error", err.Error()))
		} else if r.prom != nil {
			r.prom.SnapshotPublished()
		}

		r.store.RemoveStale(ctx, staleFactor*r.cfg.Latency.Interval)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// receiveLoop applies every inbound snapshot and heartbeat to the store.
// Unknown message types are ignored. The loop returns an error when the bus
// ends the stream, which takes the whole runtime down.
func (r *Runtime) receiveLoop(ctx context.Context) error {
	ch, err := r.bus.SubscribeToTopics(ctx, []transport.Topic{
		transport.SubscribeGatewayLatencyStats,
		transport.SubscribeGatewayHeartbeat,
	})
	if err != nil {
		return fmt.Errorf("gateway: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("gateway: snapshot stream ended")
			}
			r.handleMessage(ctx, msg)
		}
	}
}

func (r *Runtime) handleMessage(ctx context.Context, msg transport.Message) {
	if r.prom != nil {
		r.prom.RecordBusMessage(string(msg.Type))
	}

	switch msg.Type {
	case transport.MessageGatewayLatencyStats:
		if msg.Stats == nil {
			return
		}
		r.store.UpdateGatewayToService(ctx, *msg.Stats, r.services)

	case transport.MessageHeartbeat:
		if msg.Heartbeat == nil || msg.Heartbeat.GatewayID == r.id {
			return
		}
		// One-way bus delay stands in for the peer edge latency. Clock skew
		// can drive the difference negative; clamp at zero.
		delay := time.Since(msg.Heartbeat.SentAt)
		if delay < 0 {
			delay = 0
		}
		r.store.UpdateGatewayToGateway(ctx, r.id, msg.Heartbeat.GatewayID, delay)

	default:
		// Forward compatibility: unknown variants are ignored.
	}
}

// heartbeatLoop publishes this gateway's beacon every heartbeat interval.
func (r *Runtime) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		hb := stats.Heartbeat{GatewayID: r.id, SentAt: time.Now()}
		err := r.bus.Publish(ctx, transport.PublishGatewayHeartbeat, transport.NewHeartbeatMessage(hb))
		if err != nil {
			r.log.Warn("heartbeat publish failed", slog.String("error", err.Error()))
		}
	}
}

// journalSnapshot records every probe outcome and exports probe metrics.
func (r *Runtime) journalSnapshot(snap stats.GatewayLatencyStats) {
	now := time.Now()
	for id, stat := range snap.Stats {
		if r.prom != nil {
			check := config.HealthCheckTCP
			if svc, ok := r.services[id]; ok {
				check = svc.HealthCheck.Type
			}
			r.prom.ObserveProbe(id, check, stat.Up(), stat.Latency())
		}
		if r.journal != nil {
			r.journal.Log(logger.ProbeLog{
				ID:        uuid.New(),
				GatewayID: snap.GatewayID,
				ServiceID: id,
				Status:    string(stat.Status),
				LatencyMs: stat.LatencyMs,
				Error:     stat.Error,
				CreatedAt: now,
			})
		}
	}
}
