package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/vocalize-voice-lab/internal/config"
	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/metrics"
	"github.com/vocalize-voice-lab/internal/provider"
	"github.com/vocalize-voice-lab/internal/relay"
)

func main() {
	configPath := flag.String("config", os.Getenv("VOCALIZE_CONFIG"), "path to YAML config file")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init("")
		logging.FatalExitf("relay: failed to load config", "err", err)
	}
	if cfg.Logging.File != "" {
		logging.InitFile(cfg.Logging.Level, cfg.Logging.File)
	} else {
		logging.Init(cfg.Logging.Level)
	}
	defer logging.Sync()

	if err := cfg.ValidateRelay(); err != nil {
		logging.FatalExitf("relay: invalid config", "err", err)
	}
	if err := os.MkdirAll(cfg.Relay.UploadDir, 0o755); err != nil {
		logging.FatalExitf("relay: failed to create upload dir", "dir", cfg.Relay.UploadDir, "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := provider.New(ctx, cfg.Provider)
	if err != nil {
		logging.FatalExitf("relay: failed to create provider", "kind", cfg.Provider.Kind, "err", err)
	}
	m := metrics.New()
	srv := relay.New(cfg, p, m)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Relay.IsProduction() {
		kw := &relay.KeepWarm{
			BaseURL:  relay.KeepWarmURL(cfg.Relay),
			Interval: cfg.Relay.GetKeepWarmInterval(),
			Metrics:  m,
		}
		g.Go(func() error {
			// Give the listener a moment before the first ping.
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(5 * time.Second):
			}
			_ = kw.Ping(gctx)
			return kw.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		logging.Errorw("relay: exited with error", "err", err)
		_ = logging.Sync()
		os.Exit(1)
	}
	logging.Infow("relay: stopped")
}
