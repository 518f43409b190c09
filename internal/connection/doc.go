// Package connection manages the upstream WebSocket feed.
//
// A generation is one connection attempt plus the asset set it declared at
// connect time. The manager rolls generations as the desired set changes:
// the new generation sends the complete watch set (the feed protocol is
// full-replace, not incremental), and the old one is stopped only after the
// new one is ready. The brief overlap is intentional; per-event dedup
// downstream makes it safe.
package connection
