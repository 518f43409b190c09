package config

import (
	"time"

	"github.com/guzus/dr-manhattan-sub000/internal/model"
)

// CrawlerConfig is the root configuration for a crawler instance.
type CrawlerConfig struct {
	Instance  InstanceConfig     `yaml:"instance"`
	Feed      FeedConfig         `yaml:"feed"`
	Gamma     GammaConfig        `yaml:"gamma"`
	Discovery DiscoveryConfig    `yaml:"discovery"`
	Dispatch  DispatchConfig     `yaml:"dispatch"`
	Sink      SinkConfig         `yaml:"sink"`
	Dedup     DedupConfig        `yaml:"dedup"`
	Metrics   MetricsConfig      `yaml:"metrics"`
	Log       LogConfig          `yaml:"log"`
	Markets   []model.MarketRule `yaml:"markets"`
}

// InstanceConfig identifies this crawler.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds WebSocket feed settings.
type FeedConfig struct {
	URL            string        `yaml:"url"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	IdleWait       time.Duration `yaml:"idle_wait"`
	DriftPoll      time.Duration `yaml:"drift_poll"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
}

// GammaConfig holds listing API settings.
type GammaConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DiscoveryConfig holds market discovery settings.
type DiscoveryConfig struct {
	Interval    time.Duration `yaml:"interval"`
	SearchLimit int           `yaml:"search_limit"`
}

// DispatchConfig holds write worker pool settings.
type DispatchConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// SinkConfig holds durable sink settings.
//
// An empty S3Bucket disables uploads entirely: the sink runs in
// local-ephemeral mode and finalized files are deleted without any
// durability guarantee.
type SinkConfig struct {
	Dir           string        `yaml:"dir"`
	FlushRows     int           `yaml:"flush_rows"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	S3Bucket      string        `yaml:"s3_bucket"`
}

// DedupConfig bounds the per-event-type dedup buckets.
type DedupConfig struct {
	Capacity   int `yaml:"capacity"`
	EvictBatch int `yaml:"evict_batch"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
