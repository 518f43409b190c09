package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/guzus/dr-manhattan-sub000/internal/metrics"
	"github.com/guzus/dr-manhattan-sub000/internal/model"
	"github.com/guzus/dr-manhattan-sub000/internal/state"
)

// Sink receives surviving rows. Implemented by the durable sink; Write may
// block on disk or network I/O, which is why it only ever runs on the
// dispatcher's worker pool.
type Sink interface {
	Write(meta model.AssetMeta, eventType string, row map[string]any) error
}

// Config holds dispatcher configuration.
type Config struct {
	Workers   int // write worker pool size (default: 4)
	QueueSize int // pending write queue (default: 10000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:   4,
		QueueSize: 10000,
	}
}

// writeTask is one row bound for the sink.
type writeTask struct {
	meta      model.AssetMeta
	eventType string
	row       map[string]any
}

// Dispatcher parses raw feed frames, routes them by event type, applies
// metadata lookup and dedup against the shared state, and hands surviving
// rows to the sink through a bounded worker pool.
type Dispatcher struct {
	cfg    Config
	st     *state.State
	sink   Sink
	logger *slog.Logger

	tasks chan writeTask

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Dispatcher.
func New(cfg Config, st *state.State, sink Sink, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Dispatcher{
		cfg:    cfg,
		st:     st,
		sink:   sink,
		logger: logger,
		tasks:  make(chan writeTask, cfg.QueueSize),
	}
}

// Start spins up the write worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.writeWorker()
	}

	d.logger.Info("dispatcher started",
		"workers", d.cfg.Workers,
		"queue_size", d.cfg.QueueSize,
	)
	return nil
}

// Stop drains the pool and shuts down.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DispatchRaw handles one raw frame: a JSON event object or an array of
// them. Garbage never propagates; malformed frames are dropped at debug
// level so a flaky feed cannot crash the supervisor loop.
func (d *Dispatcher) DispatchRaw(raw []byte) {
	trimmed := trimLeadingSpace(raw)
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			d.dropFrame(raw, err)
			return
		}
		for _, item := range items {
			d.dispatchOne(item)
		}
		return
	}

	d.dispatchOne(trimmed)
}

func (d *Dispatcher) dispatchOne(raw []byte) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		d.dropFrame(raw, err)
		return
	}

	switch env.EventType {
	case model.EventBook:
		d.handleBook(raw)
	case model.EventPriceChange:
		d.handlePriceChange(raw)
	case model.EventTickSizeChange:
		d.handleTickSizeChange(raw)
	case model.EventLastTradePrice:
		d.handleLastTrade(raw)
	default:
		metrics.EventsDropped.WithLabelValues("unknown_type").Inc()
		d.logger.Debug("unknown event type", "event_type", env.EventType)
	}
}

// handleBook processes a full book snapshot.
func (d *Dispatcher) handleBook(raw []byte) {
	metrics.EventsReceived.WithLabelValues(model.EventBook).Inc()

	var ev model.BookEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		d.dropFrame(raw, err)
		return
	}
	if ev.AssetID == "" {
		return
	}

	meta, tracked, fresh := d.st.Filter(model.EventBook, ev.AssetID, ev.Hash)
	if !tracked {
		metrics.EventsDropped.WithLabelValues("untracked").Inc()
		return
	}
	if !fresh {
		metrics.EventsDeduped.WithLabelValues(model.EventBook).Inc()
		return
	}

	d.enqueue(meta, model.EventBook, bookRow(ev))
}

// handlePriceChange processes a batched delta frame. Metadata lookup and
// dedup for the whole batch happen under a single state acquisition.
func (d *Dispatcher) handlePriceChange(raw []byte) {
	metrics.EventsReceived.WithLabelValues(model.EventPriceChange).Inc()

	var ev model.PriceChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		d.dropFrame(raw, err)
		return
	}
	if len(ev.PriceChanges) == 0 {
		return
	}

	keep, metas := d.st.FilterBatch(model.EventPriceChange, ev.PriceChanges)

	ts := ev.TimestampMillis()
	for i, pc := range ev.PriceChanges {
		if !keep[i] {
			continue
		}
		meta, ok := metas[pc.AssetID]
		if !ok {
			continue
		}
		d.enqueue(meta, model.EventPriceChange, priceChangeRow(ev.Market, ts, pc))
	}
}

// handleTickSizeChange processes a tick size transition.
func (d *Dispatcher) handleTickSizeChange(raw []byte) {
	metrics.EventsReceived.WithLabelValues(model.EventTickSizeChange).Inc()

	var ev model.TickSizeChangeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		d.dropFrame(raw, err)
		return
	}
	if ev.AssetID == "" {
		return
	}

	meta, tracked, fresh := d.st.Filter(model.EventTickSizeChange, ev.AssetID, ev.Hash)
	if !tracked {
		metrics.EventsDropped.WithLabelValues("untracked").Inc()
		return
	}
	if !fresh {
		metrics.EventsDeduped.WithLabelValues(model.EventTickSizeChange).Inc()
		return
	}

	d.enqueue(meta, model.EventTickSizeChange, tickSizeRow(ev))
}

// handleLastTrade processes a last-trade report.
func (d *Dispatcher) handleLastTrade(raw []byte) {
	metrics.EventsReceived.WithLabelValues(model.EventLastTradePrice).Inc()

	var ev model.LastTradePriceEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		d.dropFrame(raw, err)
		return
	}
	if ev.AssetID == "" {
		return
	}

	meta, tracked, fresh := d.st.Filter(model.EventLastTradePrice, ev.AssetID, ev.Hash)
	if !tracked {
		metrics.EventsDropped.WithLabelValues("untracked").Inc()
		return
	}
	if !fresh {
		metrics.EventsDeduped.WithLabelValues(model.EventLastTradePrice).Inc()
		return
	}

	d.enqueue(meta, model.EventLastTradePrice, lastTradeRow(ev))
}

// enqueue hands a row to the worker pool. The enqueue path never blocks the
// frame reader: a full queue drops the row with a warning.
func (d *Dispatcher) enqueue(meta model.AssetMeta, eventType string, row map[string]any) {
	select {
	case d.tasks <- writeTask{meta: meta, eventType: eventType, row: row}:
	default:
		metrics.EventsDropped.WithLabelValues("backpressure").Inc()
		d.logger.Warn("write queue full, dropping row",
			"asset_id", meta.AssetID,
			"event_type", eventType,
		)
	}
}

// writeWorker drains the task queue into the sink.
func (d *Dispatcher) writeWorker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case task := <-d.tasks:
					d.write(task)
				default:
					return
				}
			}
		case task := <-d.tasks:
			d.write(task)
		}
	}
}

func (d *Dispatcher) write(task writeTask) {
	if err := d.sink.Write(task.meta, task.eventType, task.row); err != nil {
		d.logger.Error("sink write failed",
			"asset_id", task.meta.AssetID,
			"event_type", task.eventType,
			"error", err,
		)
		return
	}
	metrics.RowsWritten.WithLabelValues(task.eventType).Inc()
}

func (d *Dispatcher) dropFrame(raw []byte, err error) {
	metrics.EventsDropped.WithLabelValues("parse").Inc()
	d.logger.Debug("dropping unparseable frame",
		"error", err,
		"size", len(raw),
	)
}

func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t' || b[0] == '\n' || b[0] == '\r') {
		b = b[1:]
	}
	return b
}
