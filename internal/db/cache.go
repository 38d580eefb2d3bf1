package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cabinbook/internal/domain"
	"cabinbook/internal/model"
)

const cachePrefix = "cabinbook:catalog:"

type catalogSource interface {
	domain.Catalog
	domain.Directory
}

// CachedCatalog is a Redis read-through cache in front of the catalogue.
// Cache failures fall back to the source.
type CachedCatalog struct {
	src    catalogSource
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedCatalog(src catalogSource, client *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachedCatalog {
	return &CachedCatalog{
		src:    src,
		redis:  client,
		ttl:    ttl,
		logger: logger.With().Str("component", "catalog_cache").Logger(),
	}
}

func (c *CachedCatalog) GetCabin(ctx context.Context, id int64) (*model.Cabin, error) {
	key := fmt.Sprintf("%scabin:%d", cachePrefix, id)
	var cabin model.Cabin
	if c.readCache(ctx, key, &cabin) {
		return &cabin, nil
	}
	out, err := c.src.GetCabin(ctx, id)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out, nil
}

func (c *CachedCatalog) ListCabins(ctx context.Context) ([]*model.Cabin, error) {
	key := cachePrefix + "cabins"
	var cabins []*model.Cabin
	if c.readCache(ctx, key, &cabins) {
		return cabins, nil
	}
	out, err := c.src.ListCabins(ctx)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out, nil
}

func (c *CachedCatalog) GetRequester(ctx context.Context, id int64) (*model.Requester, error) {
	key := fmt.Sprintf("%srequester:%d", cachePrefix, id)
	var r model.Requester
	if c.readCache(ctx, key, &r) {
		return &r, nil
	}
	out, err := c.src.GetRequester(ctx, id)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, key, out)
	return out, nil
}

// Invalidate drops every cached catalogue entry.
func (c *CachedCatalog) Invalidate(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}
	iter := c.redis.Scan(ctx, 0, cachePrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan catalog cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...).Err()
}

func (c *CachedCatalog) enabled() bool {
	return c.redis != nil && c.ttl > 0
}

func (c *CachedCatalog) readCache(ctx context.Context, key string, out any) bool {
	if !c.enabled() {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *CachedCatalog) writeCache(ctx context.Context, key string, val any) {
	if !c.enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("cache write failed")
	}
}
