package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/logger"
)

// redisKey is the single key the active rule list is stored under. There is
// exactly one "active rule list" per deployment, so no keyspace is needed.
const redisKey = "automation-engine:rules:active"

// Redis is a RulesCache backed by a shared Redis instance, letting the
// active-rule-list cache survive process restarts and be shared across
// horizontally-scaled read replicas of the HTTP API.
type Redis struct {
	client *redis.Client
	config Config
	ctx    context.Context
}

// NewRedis creates a Redis-backed RulesCache against an already-connected
// client.
func NewRedis(client *redis.Client, config Config) *Redis {
	return &Redis{client: client, config: config, ctx: context.Background()}
}

type redisEnvelope struct {
	Rules    []*automation.Rule `json:"rules"`
	CachedAt time.Time          `json:"cachedAt"`
}

func (c *Redis) Get() []*automation.Rule {
	raw, err := c.client.Get(c.ctx, redisKey).Bytes()
	if err != nil {
		logger.Debug("rule cache miss", "backend", "redis", "reason", "not found", "error", err)
		return nil
	}

	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		logger.Warn("rule cache entry corrupt, treating as miss", "backend", "redis", "error", err)
		return nil
	}

	if c.config.TTL > 0 && time.Since(env.CachedAt) > c.config.TTL {
		logger.Debug("rule cache miss", "backend", "redis", "reason", "expired")
		return nil
	}
	logger.Debug("rule cache hit", "backend", "redis", "rules", len(env.Rules))
	return env.Rules
}

func (c *Redis) Set(rules []*automation.Rule) {
	env := redisEnvelope{Rules: rules, CachedAt: time.Now()}
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}

	expiry := time.Duration(0)
	if c.config.TTL > 0 {
		expiry = c.config.TTL
	}
	if err := c.client.Set(c.ctx, redisKey, raw, expiry).Err(); err != nil {
		logger.Warn("failed to fill rule cache", "backend", "redis", "error", err)
		return
	}
	logger.Debug("rule cache filled", "backend", "redis", "rules", len(rules))
}

func (c *Redis) Invalidate() {
	c.client.Del(c.ctx, redisKey)
	logger.Debug("rule cache invalidated", "backend", "redis")
}

func (c *Redis) IsValid() bool {
	n, err := c.client.Exists(c.ctx, redisKey).Result()
	if err != nil {
		return false
	}
	if n == 0 {
		return false
	}
	if c.config.TTL == 0 {
		return true
	}
	return c.Get() != nil
}
