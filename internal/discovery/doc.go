// Package discovery implements the market discovery poller.
//
// On a fixed interval it evaluates each configured market rule against the
// listing API, computes the new desired asset set, swaps it into the shared
// subscription state, and finalizes instruments that dropped out of scope.
// Rule failures are isolated: one broken rule never blocks the others, and
// the next tick retries unconditionally.
package discovery
