package config

import (
	"os"
	"time"

	"github.com/google/uuid"
)

// Default values for optional configuration fields.
const (
	DefaultFeedURL        = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	DefaultGammaURL       = "https://gamma-api.polymarket.com"
	DefaultGammaTimeout   = 30 * time.Second
	DefaultGammaRetries   = 3
	DefaultPingInterval   = 20 * time.Second
	DefaultReconnectDelay = 3 * time.Second
	DefaultIdleWait       = 15 * time.Second
	DefaultDriftPoll      = time.Second
	DefaultStopTimeout    = 5 * time.Second
	DefaultFeedBuffer     = 10000
	DefaultPollInterval   = 3 * time.Minute
	DefaultSearchLimit    = 1000
	DefaultWorkers        = 4
	DefaultQueueSize      = 10000
	DefaultFlushRows      = 1000
	DefaultFlushInterval  = time.Minute
	DefaultDedupCapacity  = 100_000
	DefaultEvictBatch     = 10_000
	DefaultMetricsPort    = 9090
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
)

func (c *CrawlerConfig) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = "crawler-" + uuid.NewString()[:8]
	}

	// Feed defaults
	if c.Feed.URL == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.ReconnectDelay == 0 {
		c.Feed.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Feed.IdleWait == 0 {
		c.Feed.IdleWait = DefaultIdleWait
	}
	if c.Feed.DriftPoll == 0 {
		c.Feed.DriftPoll = DefaultDriftPoll
	}
	if c.Feed.StopTimeout == 0 {
		c.Feed.StopTimeout = DefaultStopTimeout
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBuffer
	}

	// Gamma defaults
	if c.Gamma.URL == "" {
		c.Gamma.URL = DefaultGammaURL
	}
	if c.Gamma.Timeout == 0 {
		c.Gamma.Timeout = DefaultGammaTimeout
	}
	if c.Gamma.MaxRetries == 0 {
		c.Gamma.MaxRetries = DefaultGammaRetries
	}

	// Discovery defaults
	if c.Discovery.Interval == 0 {
		c.Discovery.Interval = DefaultPollInterval
	}
	if c.Discovery.SearchLimit == 0 {
		c.Discovery.SearchLimit = DefaultSearchLimit
	}

	// Dispatch defaults
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = DefaultWorkers
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = DefaultQueueSize
	}

	// Sink defaults
	if c.Sink.Dir == "" {
		c.Sink.Dir = os.TempDir()
	}
	if c.Sink.FlushRows == 0 {
		c.Sink.FlushRows = DefaultFlushRows
	}
	if c.Sink.FlushInterval == 0 {
		c.Sink.FlushInterval = DefaultFlushInterval
	}

	// Dedup defaults
	if c.Dedup.Capacity == 0 {
		c.Dedup.Capacity = DefaultDedupCapacity
	}
	if c.Dedup.EvictBatch == 0 {
		c.Dedup.EvictBatch = DefaultEvictBatch
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
