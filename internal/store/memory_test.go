package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurobot/internal/models"
)

func createUser(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.CreateUser(ctx, &models.User{ID: id, Currency: models.CurrencyRUB})
	})
	require.NoError(t, err)
}

func TestMemoryStore_StaleSaveConflicts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	createUser(t, s, "u1")

	var stale *models.User
	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		stale, err = tx.GetUser(ctx, "u1")
		return err
	}))

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		if err != nil {
			return err
		}
		u.Discount = 15
		return tx.SaveUser(ctx, u)
	}))

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		stale.Discount = 99
		return tx.SaveUser(ctx, stale)
	})
	assert.ErrorIs(t, err, ErrConflict)

	_ = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		u, err := tx.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 15, u.Discount)
		assert.Equal(t, int64(2), u.Version)
		return nil
	})
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.CreateUser(ctx, &models.User{ID: "u1"}); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, &models.Transaction{ID: "t1", UserID: "u1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_ = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		_, err := tx.GetUser(ctx, "u1")
		assert.ErrorIs(t, err, ErrNotFound)
		txs, err := tx.ListUserTransactions(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, txs)
		return nil
	})
}

func TestMemoryStore_CartUpsert(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetCart(ctx, "u1")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(0), c.Version)
		c.Add("p1", 2)
		c.Add("p1", 3)
		return tx.SaveCart(ctx, c)
	}))

	_ = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetCart(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, c.Items, 1)
		assert.Equal(t, int64(5), c.Items[0].Quantity)
		assert.Equal(t, int64(1), c.Version)

		fresh := &models.Cart{UserID: "u1"}
		assert.ErrorIs(t, tx.SaveCart(ctx, fresh), ErrConflict)
		return nil
	})
}

func TestMemoryStore_ChargeLookups(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		for _, id := range []string{"a", "b"} {
			if err := tx.CreatePackage(ctx, &models.Package{ID: id, UserID: "u1", ProviderPaymentChargeID: "ch_1"}); err != nil {
				return err
			}
		}
		if err := tx.CreateSubscription(ctx, &models.Subscription{ID: "s1", UserID: "u1", ProviderAutoPaymentChargeID: "pm_1"}); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, &models.Transaction{ID: "t1", UserID: "u1", ProviderChargeID: "ch_1"})
	}))

	_ = s.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		pkgs, err := tx.FindPackagesByChargeID(ctx, "ch_1")
		require.NoError(t, err)
		assert.Len(t, pkgs, 2)

		none, err := tx.FindPackagesByChargeID(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, none)

		subs, err := tx.FindSubscriptionsByMandateID(ctx, "pm_1")
		require.NoError(t, err)
		assert.Len(t, subs, 1)

		_, err = tx.FindSubscriptionByChargeID(ctx, "ch_1")
		assert.ErrorIs(t, err, ErrNotFound)

		seen, err := tx.HasTransactionForCharge(ctx, "ch_1")
		require.NoError(t, err)
		assert.True(t, seen)
		return nil
	})
}

func TestMemoryStore_GiftProducts(t *testing.T) {
	s := NewMemoryStore()
	s.AddProduct(models.Product{ID: "gift-b", Type: models.ProductTypePackage, IsActive: true, Details: models.ProductDetails{IsGift: true}})
	s.AddProduct(models.Product{ID: "gift-a", Type: models.ProductTypePackage, IsActive: true, Details: models.ProductDetails{IsGift: true}})
	s.AddProduct(models.Product{ID: "gift-off", Type: models.ProductTypePackage, IsActive: false, Details: models.ProductDetails{IsGift: true}})
	s.AddProduct(models.Product{ID: "plain", Type: models.ProductTypePackage, IsActive: true})

	gifts, err := s.ListActiveGiftProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, gifts, 2)
	assert.Equal(t, "gift-a", gifts[0].ID)
	assert.Equal(t, "gift-b", gifts[1].ID)
}
