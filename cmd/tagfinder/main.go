package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tagfinder/internal/api"
	"tagfinder/internal/config"
	"tagfinder/internal/detections"
	"tagfinder/internal/ingest"
	"tagfinder/internal/logging"
	"tagfinder/internal/model"
	"tagfinder/internal/session"
	"tagfinder/internal/snapshots"
	"tagfinder/internal/storage"
)

var version = "dev"

// applyFlagOverrides layers the CLI flags over a loaded config. It runs at
// startup and again on every file reload so a flag survives edits to the
// config file.
func applyFlagOverrides(cfg *config.Config, logLevel, mode string) {
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if mode != "" {
		cfg.Mode = mode
	}
}

func main() {
	configPath := flag.String("config", "", "path to config file (yaml or json)")
	logLevel := flag.String("log-level", "", "override configured log level")
	mode := flag.String("mode", "", "override configured scan mode")
	flag.Parse()

	var mgr *config.Manager
	if *configPath != "" {
		m, err := config.NewManager(config.ResolvePath(*configPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "config: %v\n", err)
			os.Exit(1)
		}
		mgr = m
	} else {
		mgr = config.NewStaticManager(config.DefaultConfig())
	}
	cfg := mgr.Get()
	applyFlagOverrides(cfg, *logLevel, *mode)
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("tagfinder starting", "version", version, "mode", cfg.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		logger.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	if store != nil {
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := store.Init(initCtx)
		cancel()
		if err != nil {
			logger.Error("storage schema init failed", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	snapshotStore := snapshots.NewStore(cfg.Snapshots.StoreLimit)
	detectionStore := detections.NewStore(cfg.Detects.StoreLimit)
	sess := session.New(cfg, logger, snapshotStore, detectionStore, store)

	// Each line source gets its own parser: CSV header detection is stateful.
	adverts := make(chan model.RawAdvertisement, cfg.Ingest.ChannelBuffer)
	ingest.StartBLE(ctx, mgr, adverts, logger)
	ingest.StartUDP(ctx, mgr, ingest.NewParser(), adverts, logger)
	ingest.StartTCPStream(ctx, mgr, ingest.NewParser(), adverts, logger)
	ingest.StartREST(ctx, mgr, adverts, logger)
	ingest.StartKafka(ctx, mgr, adverts, logger)
	ingest.StartReplay(ctx, mgr, ingest.NewParser(), adverts, logger)

	sess.Run(ctx, adverts)
	api.Start(ctx, mgr, detectionStore, sess, logger, version)

	if mgr.Path() != "" {
		go mgr.Watch(3*time.Second,
			func(next *config.Config) {
				// CLI flags outrank the file across reloads.
				applyFlagOverrides(next, *logLevel, *mode)
				sess.UpdateConfig(next)
				logger.Info("config reloaded", "path", mgr.Path())
			},
			func(err error) {
				logger.Warn("config reload failed", "err", err)
			},
			ctx.Done(),
		)
	}

	<-ctx.Done()
	logger.Info("shutting down")
}
