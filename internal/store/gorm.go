package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"neurobot/internal/models"
)

// GormStore implements Store on top of gorm (Postgres in production).
// Optimistic locking uses the version column: every save is an UPDATE guarded
// by "version = ?" and zero affected rows means somebody else committed first.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &gormTx{db: db})
	})
	return translate(err)
}

func (s *GormStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *GormStore) ListActiveGiftProducts(ctx context.Context) ([]models.Product, error) {
	var all []models.Product
	err := s.db.WithContext(ctx).
		Where("type = ? AND is_active = ?", models.ProductTypePackage, true).
		Order("id").
		Find(&all).Error
	if err != nil {
		return nil, err
	}
	// details is a JSON column; filter in Go to stay dialect-neutral
	var gifts []models.Product
	for _, p := range all {
		if p.Details.IsGift {
			gifts = append(gifts, p)
		}
	}
	return gifts, nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrConflict
	default:
		return err
	}
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) first(ctx context.Context, dst any, query string, args ...any) error {
	return translate(t.db.WithContext(ctx).Where(query, args...).First(dst).Error)
}

func (t *gormTx) create(ctx context.Context, v any) error {
	return translate(t.db.WithContext(ctx).Create(v).Error)
}

// casUpdate writes every column of doc when the stored version still equals
// prev. doc must already carry prev+1.
func (t *gormTx) casUpdate(ctx context.Context, doc any, prev int64) error {
	res := t.db.WithContext(ctx).Model(doc).Where("version = ?", prev).Select("*").Updates(doc)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// GetUser takes a row lock so units touching the same user's entitlement run
// one after another.
func (t *gormTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *gormTx) CreateUser(ctx context.Context, u *models.User) error {
	u.Version = 1
	return t.create(ctx, u)
}

func (t *gormTx) SaveUser(ctx context.Context, u *models.User) error {
	prev := u.Version
	u.Version++
	if err := t.casUpdate(ctx, u, prev); err != nil {
		u.Version = prev
		return err
	}
	return nil
}

func (t *gormTx) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var s models.Subscription
	if err := t.first(ctx, &s, "id = ?", id); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *gormTx) FindSubscriptionByChargeID(ctx context.Context, chargeID string) (*models.Subscription, error) {
	var s models.Subscription
	err := t.db.WithContext(ctx).
		Where("provider_payment_charge_id = ?", chargeID).
		Order("created_at DESC").
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

func (t *gormTx) FindSubscriptionsByMandateID(ctx context.Context, mandateID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := t.db.WithContext(ctx).
		Where("provider_auto_payment_charge_id = ?", mandateID).
		Order("created_at").
		Find(&subs).Error
	return subs, err
}

func (t *gormTx) ListUserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := t.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&subs).Error
	return subs, err
}

func (t *gormTx) ListSubscriptionsEndingBefore(ctx context.Context, statuses []models.SubscriptionStatus, before time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := t.db.WithContext(ctx).
		Where("status IN ? AND end_date < ?", statuses, before).
		Order("end_date").
		Find(&subs).Error
	return subs, err
}

func (t *gormTx) CreateSubscription(ctx context.Context, s *models.Subscription) error {
	s.Version = 1
	return t.create(ctx, s)
}

func (t *gormTx) SaveSubscription(ctx context.Context, s *models.Subscription) error {
	prev := s.Version
	s.Version++
	if err := t.casUpdate(ctx, s, prev); err != nil {
		s.Version = prev
		return err
	}
	return nil
}

func (t *gormTx) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	var p models.Package
	if err := t.first(ctx, &p, "id = ?", id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *gormTx) FindPackagesByChargeID(ctx context.Context, chargeID string) ([]models.Package, error) {
	var pkgs []models.Package
	err := t.db.WithContext(ctx).
		Where("provider_payment_charge_id = ?", chargeID).
		Order("created_at").
		Find(&pkgs).Error
	return pkgs, err
}

func (t *gormTx) CreatePackage(ctx context.Context, p *models.Package) error {
	p.Version = 1
	return t.create(ctx, p)
}

func (t *gormTx) SavePackage(ctx context.Context, p *models.Package) error {
	prev := p.Version
	p.Version++
	if err := t.casUpdate(ctx, p, prev); err != nil {
		p.Version = prev
		return err
	}
	return nil
}

func (t *gormTx) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	var c models.Cart
	err := t.first(ctx, &c, "user_id = ?", userID)
	if errors.Is(err, ErrNotFound) {
		return &models.Cart{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *gormTx) SaveCart(ctx context.Context, c *models.Cart) error {
	if c.Version == 0 {
		c.Version = 1
		if err := t.create(ctx, c); err != nil {
			c.Version = 0
			return err
		}
		return nil
	}
	prev := c.Version
	c.Version++
	if err := t.casUpdate(ctx, c, prev); err != nil {
		c.Version = prev
		return err
	}
	return nil
}

func (t *gormTx) CreateTransaction(ctx context.Context, tr *models.Transaction) error {
	return t.create(ctx, tr)
}

func (t *gormTx) HasTransactionForCharge(ctx context.Context, chargeID string) (bool, error) {
	if chargeID == "" {
		return false, nil
	}
	var n int64
	err := t.db.WithContext(ctx).Model(&models.Transaction{}).Where("provider_charge_id = ?", chargeID).Count(&n).Error
	return n > 0, err
}

func (t *gormTx) ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	var out []models.Transaction
	err := t.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&out).Error
	return out, err
}

func (t *gormTx) FindPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var p models.PromoCode
	if err := t.first(ctx, &p, "code = ?", code); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *gormTx) IsPromoCodeUsed(ctx context.Context, userID, promoCodeID string) (bool, error) {
	var n int64
	err := t.db.WithContext(ctx).Model(&models.UsedPromoCode{}).
		Where("user_id = ? AND promo_code_id = ?", userID, promoCodeID).
		Count(&n).Error
	return n > 0, err
}

func (t *gormTx) MarkPromoCodeUsed(ctx context.Context, used *models.UsedPromoCode) error {
	return t.create(ctx, used)
}
