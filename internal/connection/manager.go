package connection

import (
	"context"
	"log/slog"
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/metrics"
	"github.com/guzus/dr-manhattan-sub000/internal/state"
)

// Manager drives connection generations so that the subscribed asset set
// converges toward the desired set. Each iteration snapshots the desired
// set, starts a fresh generation carrying the full watch set, and retires
// the previous generation only after the new one reports ready.
//
// Two generations overlap briefly during rollover, so the watch set is
// never uncovered; downstream dedup absorbs the duplicated delivery.
type Manager struct {
	cfg        ManagerConfig
	st         *state.State
	dispatcher Dispatcher
	logger     *slog.Logger

	// newClient is swapped out by tests.
	newClient func() Client

	generation int64
}

// NewManager creates a new subscription manager.
func NewManager(cfg ManagerConfig, st *state.State, dispatcher Dispatcher, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultManagerConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = def.IdleWait
	}
	if cfg.DriftPoll <= 0 {
		cfg.DriftPoll = def.DriftPoll
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = def.StopTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	m := &Manager{
		cfg:        cfg,
		st:         st,
		dispatcher: dispatcher,
		logger:     logger,
	}
	m.newClient = func() Client {
		return NewClient(ClientConfig{
			URL:          cfg.FeedURL,
			WriteTimeout: cfg.WriteTimeout,
			BufferSize:   cfg.BufferSize,
		}, logger)
	}
	return m
}

// Run executes the manager loop until ctx is canceled. It never returns an
// error other than ctx.Err(); every failure mode inside a generation is
// absorbed by backoff and retry.
func (m *Manager) Run(ctx context.Context) error {
	var current *worker

	defer func() {
		if current != nil {
			current.stop(m.cfg.StopTimeout)
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		assetIDs := m.st.SnapshotDesired()
		metrics.DesiredAssets.Set(float64(len(assetIDs)))

		if len(assetIDs) == 0 {
			m.logger.Info("no assets to subscribe, waiting")
			if !sleep(ctx, m.cfg.IdleWait) {
				return ctx.Err()
			}
			continue
		}

		m.generation++
		metrics.GenerationsStarted.Inc()
		m.logger.Info("starting generation",
			"generation", m.generation,
			"assets", len(assetIDs),
		)

		next := newWorker(m.generation, assetIDs, m.newClient(), m.dispatcher, m.cfg.PingInterval, m.logger)
		go next.run(ctx)

		select {
		case <-next.Ready():
		case <-ctx.Done():
			next.stop(m.cfg.StopTimeout)
			return ctx.Err()
		}

		if next.Failed() {
			m.logger.Warn("generation failed during startup", "generation", m.generation)
			if !sleep(ctx, m.cfg.ReconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		// Retire the previous generation only now that the new one is live,
		// so the watch set is never uncovered.
		if current != nil {
			m.logger.Info("stopping previous generation", "generation", current.generation)
			current.stop(m.cfg.StopTimeout)
		}
		current = next

		if !m.supervise(ctx, current) {
			return ctx.Err()
		}
	}
}

// supervise watches one live generation until it dies or the subscription
// state drifts. Returns false when ctx was canceled.
func (m *Manager) supervise(ctx context.Context, w *worker) bool {
	ticker := time.NewTicker(m.cfg.DriftPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false

		case <-w.Done():
			m.logger.Warn("generation died, reconnecting", "generation", w.generation)
			return sleep(ctx, m.cfg.ReconnectDelay)

		case <-ticker.C:
			if m.st.Drifted() {
				m.logger.Info("subscription drift detected, rolling generation")
				return true
			}
		}
	}
}

// sleep waits for d, returning false if ctx was canceled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
