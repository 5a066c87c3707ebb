// Package rate provides the throttles the engine consults before login and
// reset-request work. Limiter keeps fixed-window counters in Redis and is
// shared across nodes. Local keeps per-process token buckets.
package rate
