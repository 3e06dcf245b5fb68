// Package store is the entitlement store accessor: transactional access to
// users, subscriptions, packages, carts, the ledger and promo codes.
//
// Mutable documents carry a version. Saving a document whose version no longer
// matches the stored one fails with ErrConflict and the whole unit passed to
// RunInTx is rolled back; callers retry from the top.
package store

import (
	"context"
	"errors"
	"time"

	"neurobot/internal/models"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a document read by the unit changed before
	// the unit committed.
	ErrConflict = errors.New("store: concurrent modification")
)

type Store interface {
	// RunInTx runs fn as one all-or-nothing unit. fn must not keep tx after it
	// returns.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

type Tx interface {
	// GetUser locks the user until the unit ends. Units that change which
	// subscription is current read the user before listing subscriptions.
	GetUser(ctx context.Context, id string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	SaveUser(ctx context.Context, u *models.User) error

	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	FindSubscriptionByChargeID(ctx context.Context, chargeID string) (*models.Subscription, error)
	FindSubscriptionsByMandateID(ctx context.Context, mandateID string) ([]models.Subscription, error)
	ListUserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error)
	ListSubscriptionsEndingBefore(ctx context.Context, statuses []models.SubscriptionStatus, before time.Time) ([]models.Subscription, error)
	CreateSubscription(ctx context.Context, s *models.Subscription) error
	SaveSubscription(ctx context.Context, s *models.Subscription) error

	GetPackage(ctx context.Context, id string) (*models.Package, error)
	FindPackagesByChargeID(ctx context.Context, chargeID string) ([]models.Package, error)
	CreatePackage(ctx context.Context, p *models.Package) error
	SavePackage(ctx context.Context, p *models.Package) error

	// GetCart returns an empty, unsaved cart (Version 0) when the user has none.
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	SaveCart(ctx context.Context, c *models.Cart) error

	CreateTransaction(ctx context.Context, t *models.Transaction) error
	HasTransactionForCharge(ctx context.Context, chargeID string) (bool, error)
	ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error)

	FindPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	IsPromoCodeUsed(ctx context.Context, userID, promoCodeID string) (bool, error)
	MarkPromoCodeUsed(ctx context.Context, used *models.UsedPromoCode) error
}

// Catalog reads products. Products are managed outside the billing engine.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListActiveGiftProducts(ctx context.Context) ([]models.Product, error)
}
