// Package cache caches the active rule list so the trigger manager and the
// agent-tool schema surface don't round-trip to Postgres on every access.
package cache

import (
	"time"

	"github.com/onstaq/automation-engine/internal/automation"
)

// RulesCache abstracts the active-rule-list cache so in-memory and Redis
// implementations are interchangeable.
type RulesCache interface {
	// Get retrieves cached rules, returns nil if cache miss or expired.
	Get() []*automation.Rule

	// Set stores rules in cache.
	Set(rules []*automation.Rule)

	// Invalidate clears the cache, forcing a refresh on next Get.
	Invalidate()

	// IsValid returns true if cache has valid data.
	IsValid() bool
}

// Config holds configuration for cache behavior.
type Config struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration

	// RefreshOnInvalidate determines if cache should be refreshed immediately
	// when invalidated, or wait for next Get call.
	RefreshOnInvalidate bool
}

// DefaultConfig returns sensible defaults for rule caching.
func DefaultConfig() Config {
	return Config{
		TTL:                 0,
		RefreshOnInvalidate: false,
	}
}
