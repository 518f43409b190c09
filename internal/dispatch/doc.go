// Package dispatch routes parsed feed events to the durable sink.
//
// Per-event processing holds the shared state mutex only for metadata lookup
// and dedup; the sink write, which may touch disk or object storage, always
// runs on a bounded worker pool so a slow write never stalls frame
// consumption from the socket.
package dispatch
