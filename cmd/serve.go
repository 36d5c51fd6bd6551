package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dixelmedia/wabridge/internal/config"
	"github.com/dixelmedia/wabridge/internal/dispatch"
	"github.com/dixelmedia/wabridge/internal/httpapi"
	"github.com/dixelmedia/wabridge/internal/session"
	"github.com/dixelmedia/wabridge/internal/tracing"
	"github.com/dixelmedia/wabridge/internal/transport"
)

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, _, telCfg := cfg.Snapshot()
	shutdownTracing, err := tracing.Setup(ctx, telCfg)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("trace flush failed", "error", err)
		}
	}()

	bridge, err := transport.New(cfg)
	if err != nil {
		slog.Error("bridge setup failed", "error", err)
		os.Exit(1)
	}

	_, bridgeCfg, _ := cfg.Snapshot()
	ctrl := session.NewController(bridge, bridgeCfg.RetryDelay())

	gw := dispatch.New(cfg, bridge, ctrl.State)
	ctrl.SetHandler(gw)

	api := httpapi.NewServer(cfg, gw, ctrl.State)

	// Hot reload of webhook url / ack text; listener and bridge endpoints
	// still require a restart.
	if err := config.Watch(ctx, cfgPath, cfg); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	g.Go(func() error { return api.Start(gctx) })
	g.Go(func() error {
		// A failed first dial is not fatal: the controller has already
		// scheduled the retry.
		if err := ctrl.Start(gctx); err != nil {
			slog.Warn("initial bridge connection failed, will retry", "error", err)
		}
		return nil
	})

	slog.Info("wabridge started", "version", Version, "config", cfgPath)

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	slog.Info("wabridge stopped")
}
