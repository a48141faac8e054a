package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/vocalize-voice-lab/internal/audio"
	"github.com/vocalize-voice-lab/internal/config"
	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/mcp"
	"github.com/vocalize-voice-lab/internal/pipeline"
	"github.com/vocalize-voice-lab/internal/recorder"
	"github.com/vocalize-voice-lab/internal/recordings"
	"github.com/vocalize-voice-lab/internal/speech"
)

const captureStartTimeout = 3 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("VOCALIZE_CONFIG"), "path to YAML config file")
	relayURL := flag.String("relay", "", "relay base URL (overrides config and RELAY_URL)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceclient: %v\n", err)
		os.Exit(1)
	}
	if *relayURL != "" {
		cfg.Client.RelayURL = *relayURL
	}
	logFile := cfg.Logging.File
	if logFile == "" {
		logFile = filepath.Join(os.TempDir(), "vocalize-voiceclient.log")
	}
	logging.InitFile(cfg.Logging.Level, logFile)
	defer logging.Sync()

	if err := cfg.ValidateClient(); err != nil {
		fmt.Fprintf(os.Stderr, "voiceclient: invalid config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := speech.NewEngine(cfg.Speech)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voiceclient: %v\n", err)
		os.Exit(1)
	}

	a := &app{
		cfg:     cfg,
		out:     os.Stdout,
		engine:  engine,
		player:  audio.NewPlayer(),
		recOpts: recorder.OptionsFromConfig(cfg.Recorder),
		mcp:     mcp.NewClientWrapper("vocalize-voiceclient", "0.1.0"),
	}
	a.orch = pipeline.New(
		pipeline.NewRelayClient(cfg.Client.RelayURL, cfg.Client.GetRequestTimeout()),
		speech.NewSpeaker(engine),
		pipeline.Options{MinAudioBytes: cfg.Client.MinAudioBytes, Rate: cfg.Speech.Rate, Pitch: cfg.Speech.Pitch},
	)
	a.orch.SetVoice(a.currentVoice)
	a.orch.OnChange(a.printStatus)
	a.rec = recorder.New(recorder.FFmpegOpener(captureStartTimeout), audio.NewEncoder(""), "", func(r *recorder.Recording) {
		go a.runPipeline(ctx, r)
	})

	g, gctx := errgroup.WithContext(ctx)
	if store := recordings.NewStore(cfg.Recordings.Dir); store != nil {
		if err := os.MkdirAll(store.Dir, 0o755); err != nil {
			logging.Warnw("voiceclient: recordings dir unavailable, persistence disabled", "dir", store.Dir, "err", err)
		} else {
			a.orch.SetArchive(store)
			cleaner := &recordings.Cleaner{
				Dir:       store.Dir,
				Retention: cfg.Recordings.GetRetention(),
				Interval:  cfg.Recordings.GetCleanupInterval(),
				MaxFiles:  cfg.Recordings.MaxFiles,
			}
			g.Go(func() error { return cleaner.Run(gctx) })
		}
	}

	a.loadVoices(gctx)
	fmt.Fprintf(a.out, "Relay: %s  Speech: %s  Log: %s\n", cfg.Client.RelayURL, engine.Name(), logFile)
	fmt.Fprintln(a.out, helpText)

	g.Go(func() error {
		defer stop()
		return a.repl(gctx, os.Stdin)
	})
	if err := g.Wait(); err != nil {
		logging.Errorw("voiceclient: exited with error", "err", err)
	}
	a.shutdown()
}
