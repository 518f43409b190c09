package sink

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

// localPath returns the buffered file location for one (asset, event type)
// pair. The name encodes everything needed to rebuild the object key, so an
// operator can recover files kept after failed uploads.
func localPath(dir string, meta model.AssetMeta, eventType string) string {
	prefix := strings.ReplaceAll(meta.Prefix, "/", "_")
	closeTime := strings.ReplaceAll(meta.CloseTimeStr, ":", "-")
	name := fmt.Sprintf("%s_%s_%s_%s_%s.parquet", prefix, meta.Freq, closeTime, meta.Outcome, eventType)
	return filepath.Join(dir, name)
}

// objectKey returns the Hive-style upload key, partitioned by the
// instrument's close date rather than wall-clock ingestion time so a
// backtest can address files by the session they belong to. An unparseable
// close time falls back to the upload date.
func objectKey(meta model.AssetMeta, eventType string, now time.Time) string {
	dt, err := meta.CloseTime()
	if err != nil {
		dt = now.UTC()
	}
	return strings.Join([]string{
		meta.Prefix,
		fmt.Sprintf("year=%04d", dt.Year()),
		fmt.Sprintf("month=%02d", int(dt.Month())),
		fmt.Sprintf("day=%02d", dt.Day()),
		meta.CloseTimeStr,
		meta.Outcome,
		eventType + ".parquet",
	}, "/")
}
