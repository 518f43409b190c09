package model

import (
	"strconv"
	"time"
)

// closeTimeFormats are the inputs Gamma has been observed to return for
// endDate, tried in order.
var closeTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeCloseTime converts a raw close-time value to CloseTimeLayout in
// UTC. Unparseable strings are returned as-is rather than dropped, so a
// malformed upstream value degrades to an odd partition path instead of lost
// data. An empty value maps to the current time.
func NormalizeCloseTime(raw string) string {
	if raw == "" {
		return time.Now().UTC().Format(CloseTimeLayout)
	}

	for _, layout := range closeTimeFormats {
		if dt, err := time.Parse(layout, raw); err == nil {
			return dt.UTC().Format(CloseTimeLayout)
		}
	}

	// Epoch seconds or millis.
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC().Format(CloseTimeLayout)
		}
		return time.Unix(n, 0).UTC().Format(CloseTimeLayout)
	}

	return raw
}
