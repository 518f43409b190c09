package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/guzus/dr-manhattan-sub000/internal/config"
	"github.com/guzus/dr-manhattan-sub000/internal/connection"
	"github.com/guzus/dr-manhattan-sub000/internal/discovery"
	"github.com/guzus/dr-manhattan-sub000/internal/dispatch"
	"github.com/guzus/dr-manhattan-sub000/internal/gamma"
	"github.com/guzus/dr-manhattan-sub000/internal/metrics"
	"github.com/guzus/dr-manhattan-sub000/internal/sink"
	"github.com/guzus/dr-manhattan-sub000/internal/state"
	"github.com/guzus/dr-manhattan-sub000/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/crawler.yaml", "path to config file")
	flag.Parse()

	// Optional .env for local runs; absence is fine.
	godotenv.Load()

	// Bootstrap logger; replaced once the configured level is known.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting crawler",
		"version", version.String(),
		"instance_id", cfg.Instance.ID,
		"config", *configPath,
	)

	if cfg.Ephemeral() {
		logger.Warn("no s3 bucket configured: running in local-ephemeral mode, finalized files are deleted without upload")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	var uploader sink.Uploader
	if !cfg.Ephemeral() {
		s3up, err := sink.NewS3Uploader(ctx, cfg.Sink.S3Bucket)
		if err != nil {
			logger.Error("failed to init s3 uploader", "error", err)
			os.Exit(1)
		}
		uploader = s3up
		logger.Info("uploads enabled", "bucket", cfg.Sink.S3Bucket)
	}

	st := state.New(cfg.Dedup.Capacity, cfg.Dedup.EvictBatch)

	dataSink := sink.New(sink.Config{
		Dir:       cfg.Sink.Dir,
		FlushRows: cfg.Sink.FlushRows,
	}, uploader, logger.With("component", "sink"))
	defer dataSink.Close()

	dispatcher := dispatch.New(dispatch.Config{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}, st, dataSink, logger.With("component", "dispatch"))

	if err := dispatcher.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	listing := gamma.NewClient(cfg.Gamma.URL,
		gamma.WithLogger(logger.With("component", "gamma")),
		gamma.WithTimeout(cfg.Gamma.Timeout),
		gamma.WithRetries(cfg.Gamma.MaxRetries, time.Second),
	)

	poller := discovery.New(discovery.Config{
		Interval:    cfg.Discovery.Interval,
		SearchLimit: cfg.Discovery.SearchLimit,
	}, cfg.Markets, listing, st, dataSink, logger.With("component", "discovery"))

	if err := poller.Start(ctx); err != nil {
		logger.Error("failed to start discovery poller", "error", err)
		os.Exit(1)
	}

	manager := connection.NewManager(connection.ManagerConfig{
		FeedURL:        cfg.Feed.URL,
		PingInterval:   cfg.Feed.PingInterval,
		ReconnectDelay: cfg.Feed.ReconnectDelay,
		IdleWait:       cfg.Feed.IdleWait,
		DriftPoll:      cfg.Feed.DriftPoll,
		StopTimeout:    cfg.Feed.StopTimeout,
		BufferSize:     cfg.Feed.BufferSize,
	}, st, dispatcher, logger.With("component", "connection"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(gctx)
	})

	g.Go(func() error {
		return metrics.Serve(gctx, cfg.Metrics.Port, cfg.Metrics.Path, logger.With("component", "metrics"))
	})

	// Periodic flush so long-lived instruments do not sit on buffered rows.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Sink.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				dataSink.FlushAll()
			}
		}
	})

	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	poller.Stop(shutdownCtx)
	dispatcher.Stop(shutdownCtx)

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("crawler exited", "error", err)
		os.Exit(1)
	}
	logger.Info("crawler stopped")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
