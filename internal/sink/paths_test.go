package sink

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

func TestLocalPath(t *testing.T) {
	meta := testMeta()
	got := localPath("/tmp/buf", meta, model.EventBook)

	want := filepath.Join("/tmp/buf", "crypto_btc_1h_2026-01-15T13-00-00Z_Up_book.parquet")
	if got != want {
		t.Errorf("localPath = %q, want %q", got, want)
	}
}

func TestObjectKey(t *testing.T) {
	meta := testMeta()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	got := objectKey(meta, model.EventPriceChange, now)
	want := "crypto/btc/year=2026/month=01/day=15/2026-01-15T13:00:00Z/Up/price_change.parquet"
	if got != want {
		t.Errorf("objectKey = %q, want %q", got, want)
	}
}

func TestObjectKeyFallsBackToUploadDate(t *testing.T) {
	meta := testMeta()
	meta.CloseTimeStr = "never"
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	got := objectKey(meta, model.EventBook, now)
	want := "crypto/btc/year=2026/month=02/day=01/never/Up/book.parquet"
	if got != want {
		t.Errorf("objectKey = %q, want %q", got, want)
	}
}
