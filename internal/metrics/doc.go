// Package metrics registers the crawler's Prometheus collectors and serves
// the scrape endpoint. The service is unattended; metrics and logs are its
// only observable surface.
package metrics
