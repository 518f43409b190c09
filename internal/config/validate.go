package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *CrawlerConfig) Validate() error {
	if !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return fmt.Errorf("feed.url must be a ws:// or wss:// URL, got %q", c.Feed.URL)
	}

	if c.Dispatch.Workers < 1 {
		return errors.New("dispatch.workers must be >= 1")
	}
	if c.Dispatch.QueueSize < 1 {
		return errors.New("dispatch.queue_size must be >= 1")
	}

	if c.Sink.FlushRows < 1 {
		return errors.New("sink.flush_rows must be >= 1")
	}

	if c.Dedup.Capacity < 1 {
		return errors.New("dedup.capacity must be >= 1")
	}
	if c.Dedup.EvictBatch < 1 {
		return errors.New("dedup.evict_batch must be >= 1")
	}
	if c.Dedup.EvictBatch > c.Dedup.Capacity {
		return errors.New("dedup.evict_batch must not exceed dedup.capacity")
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be in 1..65535")
	}

	if len(c.Markets) == 0 {
		return errors.New("at least one market rule is required")
	}
	seen := make(map[string]struct{}, len(c.Markets))
	for i, rule := range c.Markets {
		if rule.Name == "" {
			return fmt.Errorf("markets[%d].name is required", i)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("markets[%d].name %q is duplicated", i, rule.Name)
		}
		seen[rule.Name] = struct{}{}
		if rule.Slug == "" {
			return fmt.Errorf("markets[%d].slug is required", i)
		}
		if rule.Prefix == "" {
			return fmt.Errorf("markets[%d].prefix is required", i)
		}
		if rule.WindowMinutes < 0 {
			return fmt.Errorf("markets[%d].window_minutes must be >= 0", i)
		}
	}

	return nil
}

// Ephemeral reports whether the sink runs without an upload path. Finalized
// files are then deleted with no durability guarantee; operators must not
// assume local persistence.
func (c *CrawlerConfig) Ephemeral() bool {
	return c.Sink.S3Bucket == ""
}
