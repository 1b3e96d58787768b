package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/gateway"
	"github.com/JeetSamespace/pluto/internal/logger"
	"github.com/JeetSamespace/pluto/internal/metrics"
	"github.com/JeetSamespace/pluto/internal/probe"
	"github.com/JeetSamespace/pluto/internal/proxy"
	"github.com/JeetSamespace/pluto/internal/ratelimit"
	"github.com/JeetSamespace/pluto/internal/store"
	"github.com/JeetSamespace/pluto/internal/transport"
)

// initInfra establishes the bus connection and, when the redis store backend
// is configured, Redis. The rate limiter reuses that connection and never
// opens one of its own.
func (a *App) initInfra(ctx context.Context) error {
	a.log.Info("connecting to bus", slog.String("url", redactURL(a.cfg.Transport.NATS.URL)))

	bus, err := transport.NewNATSPubSub(a.cfg.Transport.NATS, a.log)
	if err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	a.bus = bus
	a.mgr = transport.NewManager(bus, a.log)
	a.log.Info("bus connected")

	if a.cfg.Store.Type == config.StoreRedis {
		a.log.Info("connecting to redis", slog.String("url", redactURL(a.cfg.Store.Redis.URL)))

		rdb, err := connectRedis(ctx, a.cfg.Store.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.rdb = rdb
		a.log.Info("redis connected")
	}

	return nil
}

// initStore selects the routing store backend.
func (a *App) initStore(_ context.Context) error {
	switch a.cfg.Store.Type {
	case config.StoreRedis:
		a.st = store.NewRedisStoreFromClient(a.rdb, a.log)
		a.log.Info("store backend: redis")

	case config.StoreMemory:
		a.st = store.NewMemoryStore(a.log)
		a.log.Info("store backend: memory (in-process)")

	default:
		return fmt.Errorf("unknown store type: %s", a.cfg.Store.Type)
	}

	return nil
}

// initServices creates the prober, the probe journal, and the metrics
// registry.
func (a *App) initServices(ctx context.Context) error {
	a.prober = probe.New(a.cfg.Name, a.cfg.ServiceMap(), a.log)

	journal, err := logger.New(ctx, a.log)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	a.journal = journal

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version, "gateway")

	return nil
}

// initRuntime assembles the background loops.
func (a *App) initRuntime(_ context.Context) error {
	a.runtime = gateway.New(a.cfg, a.mgr, a.st, a.prober, a.journal, a.prom, a.log)
	return nil
}

// initProxy wires the proxy frontend to the shared store.
func (a *App) initProxy(_ context.Context) error {
	opts := proxy.Options{
		Logger:  a.log,
		Metrics: a.prom,
	}

	// Rate limiting rides on the Redis connection the store already holds.
	if a.cfg.RateLimit.RPM > 0 {
		if a.rdb == nil {
			a.log.Warn("rate limiting requires the redis store backend; disabled")
		} else {
			opts.Limiter = ratelimit.NewRPMLimiter(a.rdb, a.cfg.RateLimit.RPM)
			a.log.Info("rate limiting enabled", slog.Int("rpm", a.cfg.RateLimit.RPM))
		}
	}

	a.proxySrv = proxy.NewServer(a.baseCtx, a.cfg, a.st, opts)
	return nil
}
