// Package model defines shared data types used across the crawler.
//
// Conventions:
//   - Prices and sizes: decimal strings exactly as the feed delivers them
//   - Timestamps: string epoch millis on the wire, int64 millis in rows
//   - Close times: CloseTimeLayout strings, always UTC
package model
