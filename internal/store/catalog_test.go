package store

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurobot/internal/models"
)

func setupCatalog(t *testing.T) (*CachedCatalog, *MemoryStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	backing := NewMemoryStore()
	return NewCachedCatalog(backing, rdb, time.Hour, logger), backing, mr
}

func TestCachedCatalog_ReadThrough(t *testing.T) {
	catalog, backing, mr := setupCatalog(t)
	ctx := context.Background()
	backing.AddProduct(models.Product{ID: "p1", Name: "Basic", Prices: map[models.Currency]float64{models.CurrencyRUB: 100}})

	p, err := catalog.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Basic", p.Name)
	assert.True(t, mr.Exists(productKeyPrefix+"p1"))

	backing.AddProduct(models.Product{ID: "p1", Name: "Renamed"})
	p, err = catalog.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Basic", p.Name, "served from cache")
	assert.Equal(t, 100.0, p.Prices[models.CurrencyRUB])

	require.NoError(t, catalog.Invalidate(ctx, "p1"))
	p, err = catalog.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)
}

func TestCachedCatalog_MissingProduct(t *testing.T) {
	catalog, _, mr := setupCatalog(t)

	_, err := catalog.GetProduct(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, mr.Exists(productKeyPrefix+"nope"))
}

func TestCachedCatalog_RedisDown(t *testing.T) {
	catalog, backing, mr := setupCatalog(t)
	backing.AddProduct(models.Product{ID: "g1", Type: models.ProductTypePackage, IsActive: true, Details: models.ProductDetails{IsGift: true}})
	mr.Close()

	gifts, err := catalog.ListActiveGiftProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, gifts, 1)
	assert.Equal(t, "g1", gifts[0].ID)
}
