package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/liftdao/finance-layer/internal/app/domain/roles"
	"github.com/liftdao/finance-layer/pkg/logger"
)

// RedisCache shares role resolutions across instances. One hash per principal
// keyed by project, deleted whole on invalidation, so any instance committing
// an assignment change evicts every projection for that principal.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

var _ RoleCache = (*RedisCache)(nil)

// NewRedisCache creates a Redis-backed role cache.
func NewRedisCache(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = logger.NewDefault("authz-cache")
	}
	return &RedisCache{client: client, ttl: ttl, log: log}
}

func cacheKey(principalID string) string {
	return "authz:roles:" + principalID
}

func (c *RedisCache) Get(ctx context.Context, principalID string, projectID int64) (roles.RoleSet, bool) {
	raw, err := c.client.HGet(ctx, cacheKey(principalID), fmt.Sprintf("%d", projectID)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.WithError(err).Warn("role cache read failed")
		}
		return roles.RoleSet{}, false
	}

	var set roles.RoleSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		c.log.WithError(err).Warn("role cache entry corrupt")
		return roles.RoleSet{}, false
	}
	return set, true
}

func (c *RedisCache) Put(ctx context.Context, principalID string, projectID int64, set roles.RoleSet) {
	raw, err := json.Marshal(set)
	if err != nil {
		c.log.WithError(err).Warn("role cache marshal failed")
		return
	}

	key := cacheKey(principalID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, fmt.Sprintf("%d", projectID), raw)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).Warn("role cache write failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, principalID string) {
	if err := c.client.Del(ctx, cacheKey(principalID)).Err(); err != nil {
		c.log.WithError(err).WithField("principal_id", principalID).Warn("role cache invalidation failed")
	}
}
