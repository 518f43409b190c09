// Package sink implements the durable sink: buffered parquet files per
// (asset, event type) pair, flushed on a row threshold and uploaded to
// object storage when an instrument leaves scope.
//
// Each file's schema is fixed by its first row. Uploads retry with bounded
// exponential backoff; a file that cannot be shipped is kept locally rather
// than dropped. Without a configured bucket the sink is explicitly
// ephemeral.
package sink
