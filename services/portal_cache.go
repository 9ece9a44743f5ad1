package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tls_portal_go/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const portalCachePrefix = "portal:subdomain:"

// PortalCache is a read-through cache for resolved portals. Cache failures never
// fail a resolution; implementations log and report a miss.
type PortalCache interface {
	Get(ctx context.Context, subdomain string) (*ResolvedPortal, bool)
	Set(ctx context.Context, subdomain string, portal *ResolvedPortal)
	Invalidate(ctx context.Context, subdomain string)
}

// NewRedisClient connects to REDIS_ADDR; nil when no address is configured
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// RedisPortalCache stores resolved portals as JSON under portal:subdomain:<s>
type RedisPortalCache struct {
	c   *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisPortalCache(c *redis.Client, ttl time.Duration, log *zap.Logger) *RedisPortalCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPortalCache{c: c, ttl: ttl, log: log}
}

func portalCacheKey(subdomain string) string {
	return portalCachePrefix + subdomain
}

func (r *RedisPortalCache) Get(ctx context.Context, subdomain string) (*ResolvedPortal, bool) {
	val, err := r.c.Get(ctx, portalCacheKey(subdomain)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("Portal cache read failed", zap.String("subdomain", subdomain), zap.Error(err))
		}
		return nil, false
	}
	var portal ResolvedPortal
	if err := json.Unmarshal([]byte(val), &portal); err != nil {
		r.log.Warn("Portal cache entry unreadable", zap.String("subdomain", subdomain), zap.Error(err))
		return nil, false
	}
	return &portal, true
}

func (r *RedisPortalCache) Set(ctx context.Context, subdomain string, portal *ResolvedPortal) {
	b, err := json.Marshal(portal)
	if err != nil {
		return
	}
	if err := r.c.Set(ctx, portalCacheKey(subdomain), b, r.ttl).Err(); err != nil {
		r.log.Warn("Portal cache write failed", zap.String("subdomain", subdomain), zap.Error(err))
	}
}

func (r *RedisPortalCache) Invalidate(ctx context.Context, subdomain string) {
	if err := r.c.Del(ctx, portalCacheKey(subdomain)).Err(); err != nil {
		r.log.Warn("Portal cache invalidation failed", zap.String("subdomain", subdomain), zap.Error(err))
	}
}
