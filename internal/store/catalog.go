package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"neurobot/internal/models"
)

const (
	productKeyPrefix = "catalog:product:"
	giftProductsKey  = "catalog:gifts"
)

// CachedCatalog is a read-through Redis cache in front of another Catalog.
// Cache failures fall through to the underlying catalog.
type CachedCatalog struct {
	next Catalog
	rdb  *redis.Client
	ttl  time.Duration
	log  logrus.FieldLogger
}

func NewCachedCatalog(next Catalog, rdb *redis.Client, ttl time.Duration, log logrus.FieldLogger) *CachedCatalog {
	return &CachedCatalog{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedCatalog) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if c.load(ctx, productKeyPrefix+id, &p) {
		return &p, nil
	}
	fresh, err := c.next.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, productKeyPrefix+id, fresh)
	return fresh, nil
}

func (c *CachedCatalog) ListActiveGiftProducts(ctx context.Context) ([]models.Product, error) {
	var gifts []models.Product
	if c.load(ctx, giftProductsKey, &gifts) {
		return gifts, nil
	}
	fresh, err := c.next.ListActiveGiftProducts(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, giftProductsKey, fresh)
	return fresh, nil
}

// Invalidate drops cached entries for the given product ids and the gift list.
func (c *CachedCatalog) Invalidate(ctx context.Context, ids ...string) error {
	keys := []string{giftProductsKey}
	for _, id := range ids {
		keys = append(keys, productKeyPrefix+id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate catalog cache: %w", err)
	}
	return nil
}

func (c *CachedCatalog) load(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("catalog cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("catalog cache entry is corrupt")
		return false
	}
	return true
}

func (c *CachedCatalog) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("catalog cache write failed")
	}
}
