package cache

import (
	"sync"
	"time"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/logger"
)

// InMemory is a thread-safe in-memory RulesCache.
type InMemory struct {
	rules    []*automation.Rule
	cachedAt time.Time
	config   Config
	mu       sync.RWMutex
	isValid  bool
}

// NewInMemory creates a new in-memory rules cache.
func NewInMemory(config Config) *InMemory {
	return &InMemory{config: config}
}

func (c *InMemory) Get() []*automation.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		logger.Debug("rule cache miss", "reason", "invalidated")
		return nil
	}
	if c.config.TTL > 0 && time.Since(c.cachedAt) > c.config.TTL {
		logger.Debug("rule cache miss", "reason", "expired", "age", time.Since(c.cachedAt))
		return nil
	}

	logger.Debug("rule cache hit", "rules", len(c.rules))
	rulesCopy := make([]*automation.Rule, len(c.rules))
	copy(rulesCopy, c.rules)
	return rulesCopy
}

func (c *InMemory) Set(rules []*automation.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make([]*automation.Rule, len(rules))
	copy(c.rules, rules)
	c.cachedAt = time.Now()
	c.isValid = true
	logger.Debug("rule cache filled", "rules", len(rules))
}

func (c *InMemory) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.isValid = false
	c.rules = nil
	logger.Debug("rule cache invalidated")
}

func (c *InMemory) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.isValid {
		return false
	}
	if c.config.TTL > 0 {
		return time.Since(c.cachedAt) <= c.config.TTL
	}
	return true
}
