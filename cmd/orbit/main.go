// Command orbit is the pluto central relay.
//
// It reads its HCL configuration from ORBIT_CONFIG_PATH (default
// config-orbit.hcl), subscribes to the gateway-origin topics, and fans every
// snapshot and heartbeat back out to the whole fleet, unchanged.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/JeetSamespace/pluto/internal/config"
	"github.com/JeetSamespace/pluto/internal/metrics"
	"github.com/JeetSamespace/pluto/internal/orbit"
	"github.com/JeetSamespace/pluto/internal/transport"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadOrbit()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := buildLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	bus, err := transport.NewNATSPubSub(cfg.Transport.NATS, logger)
	if err != nil {
		logger.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	mgr := transport.NewManager(bus, logger)
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Error("bus close error", slog.String("error", err.Error()))
		}
	}()

	prom := metrics.New()
	prom.SetBuildInfo(version, "orbit")

	o := orbit.New(cfg, mgr, prom, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return o.Run(gctx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return o.ServeManagement(fmt.Sprintf(":%d", cfg.ListenPort))
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("orbit stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Unknown level strings default to INFO.
func buildLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: l,
	}))
}
