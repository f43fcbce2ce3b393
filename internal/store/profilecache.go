package store

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/tbrennem-source/sf-permits-mcp-sub002/internal/model"
)

// ProfileStore is the slice of Store the cache fronts.
type ProfileStore interface {
	Profile(ctx context.Context, stationCode, period string) (*model.StationVelocityProfile, error)
	UpsertProfile(ctx context.Context, p model.StationVelocityProfile) error
}

// ProfileCache is a read-through Redis cache for velocity profiles. Cache
// trouble never fails a lookup; the inner store stays authoritative.
type ProfileCache struct {
	inner ProfileStore
	rdb   *redis.Client
	ttl   time.Duration
}

func NewProfileCache(inner ProfileStore, redisURL string, ttl time.Duration) (*ProfileCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &ProfileCache{inner: inner, rdb: redis.NewClient(opt), ttl: ttl}, nil
}

func (c *ProfileCache) Profile(ctx context.Context, stationCode, period string) (*model.StationVelocityProfile, error) {
	key := cacheKey(stationCode, period)
	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var p model.StationVelocityProfile
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}
	p, err := c.inner.Profile(ctx, stationCode, period)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(p); err == nil {
		_ = c.rdb.Set(ctx, key, data, c.ttl).Err()
	}
	return p, nil
}

func (c *ProfileCache) UpsertProfile(ctx context.Context, p model.StationVelocityProfile) error {
	if err := c.inner.UpsertProfile(ctx, p); err != nil {
		return err
	}
	if data, err := json.Marshal(p); err == nil {
		_ = c.rdb.Set(ctx, cacheKey(p.StationCode, p.Period), data, c.ttl).Err()
	}
	return nil
}

func cacheKey(stationCode, period string) string {
	return "velocity:" + stationCode + ":" + period
}
