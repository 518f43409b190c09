package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_events_received_total",
		Help: "Feed events received, by event type.",
	}, []string{"event_type"})

	EventsDeduped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_events_deduped_total",
		Help: "Events dropped as duplicates, by event type.",
	}, []string{"event_type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_events_dropped_total",
		Help: "Events dropped, by reason (untracked, parse, backpressure, unknown_type).",
	}, []string{"reason"})

	RowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_rows_written_total",
		Help: "Rows handed to the durable sink, by event type.",
	}, []string{"event_type"})

	SinkFlushes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_sink_flushes_total",
		Help: "Buffer flushes to local parquet files.",
	})

	UploadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_uploads_succeeded_total",
		Help: "Successful object-storage uploads.",
	})

	UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_uploads_failed_total",
		Help: "Uploads abandoned after exhausting retries.",
	})

	GenerationsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_generations_started_total",
		Help: "Connection generations started.",
	})

	DiscoveryDiffs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_discovery_diffs_total",
		Help: "Discovery ticks that changed the desired set.",
	})

	DesiredAssets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_desired_assets",
		Help: "Size of the desired asset set.",
	})

	OpenFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_sink_open_files",
		Help: "Open buffered parquet files.",
	})
)

// Serve exposes the metrics endpoint until ctx is canceled.
func Serve(ctx context.Context, port int, path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("metrics server started", "port", port, "path", path)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}
