package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// TimestampedMessage wraps raw frame bytes with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw frame bytes from the WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // Feed URL (e.g. wss://ws-subscriptions-clob.polymarket.com/ws/market)
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		WriteTimeout: 5 * time.Second,
		BufferSize:   10000,
	}
}

// ManagerConfig configures the subscription manager.
type ManagerConfig struct {
	FeedURL        string        // WebSocket feed URL
	PingInterval   time.Duration // Application-level keepalive interval
	ReconnectDelay time.Duration // Wait after a failed or dead generation
	IdleWait       time.Duration // Wait when the desired set is empty
	DriftPoll      time.Duration // How often to check for death or drift
	StopTimeout    time.Duration // Bounded wait for an old generation to exit
	WriteTimeout   time.Duration // Per-send write deadline
	BufferSize     int           // Inbound frame buffer per connection
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		PingInterval:   20 * time.Second,
		ReconnectDelay: 3 * time.Second,
		IdleWait:       15 * time.Second,
		DriftPoll:      time.Second,
		StopTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
		BufferSize:     10000,
	}
}

// Dispatcher consumes raw inbound frames. Implemented by the event
// dispatcher; must never block on I/O.
type Dispatcher interface {
	DispatchRaw(raw []byte)
}
