// Package gamma implements the market listing client: tag lookup by slug and
// keyword-filtered search of open markets. The discovery poller consumes it
// through a narrow interface; everything here is plain synchronous HTTP.
package gamma
