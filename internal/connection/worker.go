package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

// worker owns one connection generation: a single WebSocket connection plus
// the asset set it declared at connect time. It connects, sends the
// full-replace subscription, keeps the link alive with PING text frames, and
// feeds every inbound frame to the dispatcher.
//
// Readiness is always signaled, including on startup failure, so the manager
// never blocks waiting for a generation that will never come up.
type worker struct {
	generation int64
	assetIDs   []string
	client     Client
	dispatcher Dispatcher
	logger     *slog.Logger

	pingInterval time.Duration

	ready     chan struct{}
	done      chan struct{}
	readyOnce sync.Once
	doneOnce  sync.Once

	mu     sync.Mutex
	failed bool
}

func newWorker(generation int64, assetIDs []string, client Client, dispatcher Dispatcher, pingInterval time.Duration, logger *slog.Logger) *worker {
	return &worker{
		generation:   generation,
		assetIDs:     assetIDs,
		client:       client,
		dispatcher:   dispatcher,
		pingInterval: pingInterval,
		logger:       logger.With("generation", generation),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// run drives the generation to completion. It returns when the connection
// dies or the worker is stopped.
func (w *worker) run(ctx context.Context) {
	defer w.signalReady()
	defer w.signalDone()

	if err := w.client.Connect(ctx); err != nil {
		w.logger.Warn("connect failed", "error", err)
		w.markFailed()
		return
	}
	defer w.client.Close()

	sub := model.NewSubscribeMessage(w.assetIDs)
	if err := w.client.SendJSON(sub); err != nil {
		w.logger.Warn("subscribe send failed", "error", err)
		w.markFailed()
		return
	}

	w.logger.Info("generation ready", "assets", len(w.assetIDs))
	w.signalReady()

	pingTicker := time.NewTicker(w.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pingTicker.C:
			if err := w.client.SendText("PING"); err != nil {
				w.logger.Warn("keepalive failed", "error", err)
				return
			}

		case err := <-w.client.Errors():
			w.logger.Warn("connection error", "error", err)
			return

		case msg, ok := <-w.client.Messages():
			if !ok {
				return
			}
			w.dispatcher.DispatchRaw(msg.Data)
		}
	}
}

// stop closes the connection and waits for run to exit, bounded by timeout.
// Exceeding the bound abandons the generation rather than joining it.
func (w *worker) stop(timeout time.Duration) {
	w.client.Close()

	select {
	case <-w.done:
	case <-time.After(timeout):
		w.logger.Warn("generation stop timed out, abandoning")
	}
}

// Ready reports when the worker has signaled readiness (or startup failure).
func (w *worker) Ready() <-chan struct{} {
	return w.ready
}

// Done reports when run has returned.
func (w *worker) Done() <-chan struct{} {
	return w.done
}

// Failed reports whether startup failed before readiness.
func (w *worker) Failed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

func (w *worker) signalReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

func (w *worker) signalDone() {
	w.doneOnce.Do(func() { close(w.done) })
}

func (w *worker) markFailed() {
	w.mu.Lock()
	w.failed = true
	w.mu.Unlock()
}
