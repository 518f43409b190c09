package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/guzus/dr-manhattan-sub000/internal/metrics"
	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

// Config holds sink configuration.
type Config struct {
	Dir       string // local buffer directory (default: os.TempDir())
	FlushRows int    // rows buffered before a flush (default: 1000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:       os.TempDir(),
		FlushRows: 1000,
	}
}

// fileState is the buffered writer for one (asset, event type) pair. Its
// mutex serializes writers for that pair only; unrelated pairs never
// contend.
type fileState struct {
	mu     sync.Mutex
	file   *os.File
	writer *parquet.GenericWriter[map[string]any]
	schema *parquet.Schema
	fields []string
	buf    []map[string]any
	closed bool
}

// Sink buffers rows into per-(asset, event type) parquet files and, on
// finalization, ships them to object storage.
//
// With a nil uploader the sink runs in local-ephemeral mode: finalized files
// are deleted with no durability guarantee at all.
type Sink struct {
	cfg      Config
	uploader Uploader
	logger   *slog.Logger

	now func() time.Time // injected for tests

	mu    sync.Mutex
	files map[string]*fileState
}

// New creates a Sink. uploader may be nil (local-ephemeral mode).
func New(cfg Config, uploader Uploader, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if cfg.FlushRows <= 0 {
		cfg.FlushRows = DefaultConfig().FlushRows
	}
	return &Sink{
		cfg:      cfg,
		uploader: uploader,
		logger:   logger,
		now:      time.Now,
		files:    make(map[string]*fileState),
	}
}

// Write appends one row to the buffered file for (meta, eventType), opening
// the file lazily and inferring its schema from the first row. The buffer is
// flushed once it reaches the configured row threshold.
func (s *Sink) Write(meta model.AssetMeta, eventType string, row map[string]any) error {
	path := localPath(s.cfg.Dir, meta, eventType)

	for {
		fs := s.getOrCreate(path)

		fs.mu.Lock()
		if fs.closed {
			// Lost a race with Finalize; the entry is already out of the
			// map, so the next lookup creates a fresh file.
			fs.mu.Unlock()
			continue
		}

		if fs.writer == nil {
			if err := s.openLocked(fs, path, row); err != nil {
				fs.mu.Unlock()
				return err
			}
		}

		if !matchesFields(fs.fields, row) {
			fs.mu.Unlock()
			return fmt.Errorf("%s: %w", path, ErrSchemaMismatch)
		}

		fs.buf = append(fs.buf, row)
		var err error
		if len(fs.buf) >= s.cfg.FlushRows {
			err = s.flushLocked(fs)
		}
		fs.mu.Unlock()
		return err
	}
}

// FlushAll flushes every open buffer to its underlying file. Called
// periodically so long-lived instruments do not sit on stale rows.
func (s *Sink) FlushAll() {
	s.mu.Lock()
	states := make([]*fileState, 0, len(s.files))
	for _, fs := range s.files {
		states = append(states, fs)
	}
	s.mu.Unlock()

	for _, fs := range states {
		fs.mu.Lock()
		if !fs.closed {
			if err := s.flushLocked(fs); err != nil {
				s.logger.Error("flush failed", "error", err)
			}
		}
		fs.mu.Unlock()
	}
}

// Finalize flushes, closes, and ships the buffered files for every event
// type of one instrument. Pairs with neither in-memory state nor an on-disk
// file are skipped. With an uploader configured, each file is uploaded with
// bounded retries: success deletes the local copy, exhaustion keeps it and
// logs an error. Without an uploader the local file is deleted
// unconditionally.
//
// Finalize does not lock out concurrent Writes to the same path: a row still
// queued in the dispatch pool when its instrument left scope can recreate
// and truncate the file while the upload reads it. The window is bounded by
// the queued rows at removal time; the finalized instrument no longer passes
// the dispatcher's tracking filter, so no new rows follow.
func (s *Sink) Finalize(ctx context.Context, meta model.AssetMeta) {
	for _, eventType := range model.EventTypes {
		path := localPath(s.cfg.Dir, meta, eventType)

		s.mu.Lock()
		fs, tracked := s.files[path]
		if tracked {
			delete(s.files, path)
		}
		s.mu.Unlock()

		if tracked {
			fs.mu.Lock()
			if err := s.closeLocked(fs); err != nil {
				s.logger.Error("finalize close failed", "path", path, "error", err)
			}
			fs.mu.Unlock()
		}

		if _, err := os.Stat(path); err != nil {
			continue
		}

		if s.uploader == nil {
			// Ephemeral mode: no upload path exists, nothing to keep.
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				s.logger.Error("remove failed", "path", path, "error", err)
			}
			continue
		}

		key := objectKey(meta, eventType, s.now())
		if err := uploadWithRetry(ctx, s.uploader, path, key, s.logger); err != nil {
			// Never silently lose unsent data.
			metrics.UploadsFailed.Inc()
			s.logger.Error("upload abandoned, keeping local file",
				"path", path,
				"key", key,
				"error", err,
			)
			continue
		}

		metrics.UploadsSucceeded.Inc()
		s.logger.Info("uploaded",
			"bucket", s.uploader.Bucket(),
			"key", key,
		)
		if err := os.Remove(path); err != nil {
			s.logger.Error("remove after upload failed", "path", path, "error", err)
		}
	}
}

// Close flushes and closes every open file without uploading. Files stay on
// disk for the next process start to finalize.
func (s *Sink) Close() {
	s.mu.Lock()
	states := make(map[string]*fileState, len(s.files))
	for path, fs := range s.files {
		states[path] = fs
	}
	s.files = make(map[string]*fileState)
	s.mu.Unlock()

	for path, fs := range states {
		fs.mu.Lock()
		if err := s.closeLocked(fs); err != nil {
			s.logger.Error("close failed", "path", path, "error", err)
		}
		fs.mu.Unlock()
	}
}

// OpenFiles returns the number of open buffered files.
func (s *Sink) OpenFiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

func (s *Sink) getOrCreate(path string) *fileState {
	s.mu.Lock()
	defer s.mu.Unlock()

	fs, ok := s.files[path]
	if !ok {
		fs = &fileState{}
		s.files[path] = fs
		metrics.OpenFiles.Set(float64(len(s.files)))
	}
	return fs
}

// openLocked creates the local file and its writer, inferring the schema
// from the first row. Caller holds fs.mu.
func (s *Sink) openLocked(fs *fileState, path string, firstRow map[string]any) error {
	schema, fields, err := inferSchema("row", firstRow)
	if err != nil {
		return fmt.Errorf("infer schema for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}

	fs.file = f
	fs.writer = parquet.NewGenericWriter[map[string]any](f, schema, parquet.Compression(&parquet.Snappy))
	fs.schema = schema
	fs.fields = fields
	fs.buf = fs.buf[:0]

	s.logger.Debug("writer opened", "path", path)
	return nil
}

// flushLocked writes the buffered rows through the parquet writer. Caller
// holds fs.mu.
func (s *Sink) flushLocked(fs *fileState) error {
	if fs.writer == nil || len(fs.buf) == 0 {
		return nil
	}
	if _, err := fs.writer.Write(fs.buf); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := fs.writer.Flush(); err != nil {
		return fmt.Errorf("flush row group: %w", err)
	}
	fs.buf = fs.buf[:0]
	metrics.SinkFlushes.Inc()
	return nil
}

// closeLocked flushes remaining rows and closes the writer and file. Caller
// holds fs.mu.
func (s *Sink) closeLocked(fs *fileState) error {
	if fs.closed {
		return nil
	}
	fs.closed = true

	if fs.writer == nil {
		return nil
	}

	var firstErr error
	if len(fs.buf) > 0 {
		if _, err := fs.writer.Write(fs.buf); err != nil && firstErr == nil {
			firstErr = err
		}
		fs.buf = nil
	}
	if err := fs.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := fs.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	s.mu.Lock()
	metrics.OpenFiles.Set(float64(len(s.files)))
	s.mu.Unlock()

	return firstErr
}
