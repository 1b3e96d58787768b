// Package app wires up all gateway subsystems and owns the process
// lifecycle.
//
// Startup order:
//  1. initInfra    — external connections (bus, Redis when needed)
//  2. initStore    — routing store backend
//  3. initServices — prober, probe journal, metrics registry
//  4. initRuntime  — background loops (sender / receiver / heartbeat)
//  5. initProxy    — client-facing reverse proxy
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/gateway"
	"github.com/JeetSamespace/pluto/internal/logger"
	"github.com/JeetSamespace/pluto/internal/metrics"
	"github.com/JeetSamespace/pluto/internal/probe"
	"github.com/JeetSamespace/pluto/internal/proxy"
	"github.com/JeetSamespace/pluto/internal/store"
	"github.com/JeetSamespace/pluto/internal/transport"
)

// App owns all long-lived gateway resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.GatewayConfig
	baseCtx context.Context
	log     *slog.Logger

	// Optional external connections — nil when not configured.
	rdb *redis.Client

	bus *transport.NATSPubSub
	mgr *transport.Manager

	st       store.Store
	journal  *logger.Logger
	prom     *metrics.Registry
	prober   *probe.Prober
	runtime  *gateway.Runtime
	proxySrv *proxy.Server

	closeMu sync.Mutex
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.GatewayConfig, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"store", a.initStore},
		{"services", a.initServices},
		{"runtime", a.initRuntime},
		{"proxy", a.initProxy},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the background runtime and the proxy listener and blocks until
// ctx is cancelled or either fails. It closes the app when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.ListenPort)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("gateway", a.cfg.Name),
		slog.String("region", a.cfg.Region),
		slog.String("addr", addr),
		slog.String("store", a.cfg.Store.Type),
		slog.Int("services", len(a.cfg.Services)),
		slog.Int("peers", len(a.cfg.Peers)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.runtime.Run(gctx)
	})

	// The proxy listener runs beside the background loops; the two only
	// share the store.
	mgmt := &proxy.ManagementRoutes{
		Metrics: a.prom.Handler(),
		Ready:   a.bus.Connected,
	}
	g.Go(func() error {
		return a.proxySrv.Start(addr, mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times and from multiple goroutines.
func (a *App) Close() {
	a.closeMu.Lock()
	defer a.closeMu.Unlock()

	if a.proxySrv != nil {
		if err := a.proxySrv.Close(); err != nil {
			a.log.Error("proxy close error", slog.String("error", err.Error()))
		}
		a.proxySrv = nil
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Error("journal close error", slog.String("error", err.Error()))
		}
		a.journal = nil
	}
	if a.mgr != nil {
		if err := a.mgr.Close(); err != nil {
			a.log.Error("bus close error", slog.String("error", err.Error()))
		}
		a.mgr = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("redis close error", slog.String("error", err.Error()))
		}
		a.rdb = nil
	}
}

// connectRedis parses the URL and verifies connectivity with a PING.
// Returns an error — callers decide whether to fatal or degrade.
func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return rdb, nil
}

// redactURL replaces the userinfo portion of a URL with "***" for safe logging.
// e.g. "redis://:secret@localhost:6379" → "redis://***@localhost:6379"
func redactURL(raw string) string {
	for i, c := range raw {
		if c == '@' {
			// Find the scheme end ("://") and keep only scheme + "***" + @host.
			for j := i - 1; j >= 0; j-- {
				if j+2 < len(raw) && raw[j:j+3] == "://" {
					return raw[:j+3] + "***" + raw[i:]
				}
			}
			return "***" + raw[i:]
		}
	}
	return raw
}
