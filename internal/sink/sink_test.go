package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

type fakeUploader struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
	keys     []string
}

func (f *fakeUploader) Upload(ctx context.Context, localPath, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient upload failure")
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeUploader) Bucket() string { return "test-bucket" }

func testMeta() model.AssetMeta {
	return model.AssetMeta{
		AssetID:      "tok1",
		MarketID:     "0xabc",
		Question:     "Bitcoin up or down?",
		CloseTimeStr: "2026-01-15T13:00:00Z",
		Outcome:      "Up",
		Freq:         "1h",
		Prefix:       "crypto/btc",
	}
}

func testRow(hash string) map[string]any {
	return map[string]any{
		"asset_id":     "tok1",
		"hash":         hash,
		"timestamp_ms": int64(1700000000123),
		"price":        "0.51",
	}
}

func TestWriteCreatesFile(t *testing.T) {
	s := New(Config{Dir: t.TempDir(), FlushRows: 2}, nil, nil)
	defer s.Close()

	meta := testMeta()
	if err := s.Write(meta, model.EventBook, testRow("h1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if s.OpenFiles() != 1 {
		t.Errorf("OpenFiles = %d, want 1", s.OpenFiles())
	}

	path := localPath(s.cfg.Dir, meta, model.EventBook)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("buffered file missing: %v", err)
	}
}

func TestWriteSchemaMismatch(t *testing.T) {
	s := New(Config{Dir: t.TempDir()}, nil, nil)
	defer s.Close()

	meta := testMeta()
	if err := s.Write(meta, model.EventBook, testRow("h1")); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}

	// A row with a diverging field set must be rejected, not written.
	bad := map[string]any{"asset_id": "tok1", "surprise": "field"}
	err := s.Write(meta, model.EventBook, bad)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Errorf("Write with diverging fields: err = %v, want ErrSchemaMismatch", err)
	}

	// The original shape still writes fine afterwards.
	if err := s.Write(meta, model.EventBook, testRow("h2")); err != nil {
		t.Errorf("Write after rejection failed: %v", err)
	}
}

func TestFlushAllWritesBufferedRows(t *testing.T) {
	s := New(Config{Dir: t.TempDir(), FlushRows: 1000}, nil, nil)
	defer s.Close()

	meta := testMeta()
	for i := 0; i < 3; i++ {
		if err := s.Write(meta, model.EventBook, testRow(fmt.Sprintf("h%d", i))); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	// Well below the flush threshold: nothing has reached the file yet.
	path := localPath(s.cfg.Dir, meta, model.EventBook)
	before, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat before flush: %v", err)
	}

	s.FlushAll()

	after, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat after flush: %v", err)
	}
	if after.Size() <= before.Size() {
		t.Errorf("FlushAll left the file at %d bytes, want buffered rows written (was %d)", after.Size(), before.Size())
	}

	// A second FlushAll with an empty buffer writes nothing further.
	s.FlushAll()
	again, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat after second flush: %v", err)
	}
	if again.Size() != after.Size() {
		t.Errorf("empty-buffer FlushAll grew the file from %d to %d bytes", after.Size(), again.Size())
	}
}

func TestFinalizeUploadsAndDeletes(t *testing.T) {
	up := &fakeUploader{}
	s := New(Config{Dir: t.TempDir(), FlushRows: 100}, up, nil)
	s.now = func() time.Time { return time.Date(2026, 1, 15, 14, 0, 0, 0, time.UTC) }

	meta := testMeta()
	if err := s.Write(meta, model.EventBook, testRow("h1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	s.Finalize(context.Background(), meta)

	if s.OpenFiles() != 0 {
		t.Errorf("OpenFiles = %d, want 0 after finalize", s.OpenFiles())
	}
	path := localPath(s.cfg.Dir, meta, model.EventBook)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("local file should be deleted after upload, stat err = %v", err)
	}

	if len(up.keys) != 1 {
		t.Fatalf("uploads = %d, want 1 (only book has data)", len(up.keys))
	}
	want := "crypto/btc/year=2026/month=01/day=15/2026-01-15T13:00:00Z/Up/book.parquet"
	if up.keys[0] != want {
		t.Errorf("key = %q, want %q", up.keys[0], want)
	}
}

func TestFinalizeRetriesThenSucceeds(t *testing.T) {
	old := uploadInitialBackoff
	uploadInitialBackoff = time.Millisecond
	defer func() { uploadInitialBackoff = old }()

	up := &fakeUploader{failures: 3}
	s := New(Config{Dir: t.TempDir()}, up, nil)

	meta := testMeta()
	if err := s.Write(meta, model.EventBook, testRow("h1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	s.Finalize(context.Background(), meta)

	if up.calls != 4 {
		t.Errorf("upload calls = %d, want 4 (3 failures then success)", up.calls)
	}
	path := localPath(s.cfg.Dir, meta, model.EventBook)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("local file should be deleted after eventual success, stat err = %v", err)
	}
}

func TestFinalizeKeepsFileOnExhaustion(t *testing.T) {
	old := uploadInitialBackoff
	uploadInitialBackoff = time.Millisecond
	defer func() { uploadInitialBackoff = old }()

	up := &fakeUploader{failures: UploadAttempts + 1}
	s := New(Config{Dir: t.TempDir()}, up, nil)

	meta := testMeta()
	if err := s.Write(meta, model.EventBook, testRow("h1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	s.Finalize(context.Background(), meta)

	if up.calls != UploadAttempts {
		t.Errorf("upload calls = %d, want %d", up.calls, UploadAttempts)
	}
	path := localPath(s.cfg.Dir, meta, model.EventBook)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("local file must be kept after exhausted retries: %v", err)
	}
}

func TestFinalizeEphemeralDeletes(t *testing.T) {
	s := New(Config{Dir: t.TempDir()}, nil, nil)

	meta := testMeta()
	if err := s.Write(meta, model.EventBook, testRow("h1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	s.Finalize(context.Background(), meta)

	path := localPath(s.cfg.Dir, meta, model.EventBook)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("ephemeral finalize should delete the file, stat err = %v", err)
	}
}

func TestWriteAfterFinalizeCreatesFreshFile(t *testing.T) {
	s := New(Config{Dir: t.TempDir()}, nil, nil)
	defer s.Close()

	meta := testMeta()
	if err := s.Write(meta, model.EventBook, testRow("h1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	s.Finalize(context.Background(), meta)

	// A straggler row after finalization must land in a brand new file.
	if err := s.Write(meta, model.EventBook, testRow("h2")); err != nil {
		t.Fatalf("Write after finalize failed: %v", err)
	}
	if s.OpenFiles() != 1 {
		t.Errorf("OpenFiles = %d, want 1", s.OpenFiles())
	}
}
