// Package state holds the shared subscription record: the desired and
// subscribed asset sets, per-asset metadata, and the per-event-type dedup
// buckets.
//
// It is pure data plus invariants; no I/O happens under its mutex. One State
// is constructed in main and injected everywhere, so tests can instantiate
// independent instances.
package state
