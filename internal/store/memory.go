package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"neurobot/internal/models"
)

const (
	collUsers         = "users"
	collSubscriptions = "subscriptions"
	collPackages      = "packages"
	collCarts         = "carts"
	collTransactions  = "transactions"
	collPromoCodes    = "promo_codes"
	collUsedPromos    = "used_promo_codes"
)

// MemoryStore keeps every document as JSON in process memory. Units run one
// at a time, so a conflict only surfaces when a caller saves a document it
// read in an earlier unit. Used by tests and local runs without Postgres.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte

	productsMu sync.RWMutex
	products   map[string]models.Product
}

func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		data:     make(map[string]map[string][]byte),
		products: make(map[string]models.Product),
	}
	for _, c := range []string{collUsers, collSubscriptions, collPackages, collCarts, collTransactions, collPromoCodes, collUsedPromos} {
		m.data[c] = make(map[string][]byte)
	}
	return m
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := make(map[string]map[string][]byte, len(m.data))
	for coll, docs := range m.data {
		cp := make(map[string][]byte, len(docs))
		for id, raw := range docs {
			cp[id] = raw
		}
		snapshot[coll] = cp
	}

	if err := fn(ctx, &memTx{m: m}); err != nil {
		m.data = snapshot
		return err
	}
	return nil
}

// AddProduct seeds the catalog.
func (m *MemoryStore) AddProduct(p models.Product) {
	m.productsMu.Lock()
	defer m.productsMu.Unlock()
	p.Prices = clonePrices(p.Prices)
	m.products[p.ID] = p
}

// AddPromoCode seeds a promo code.
func (m *MemoryStore) AddPromoCode(p models.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return put(m, collPromoCodes, p.ID, p)
}

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	m.productsMu.RLock()
	defer m.productsMu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Prices = clonePrices(p.Prices)
	p.Details.Limits = p.Details.Limits.Clone()
	p.Details.BonusCredits = p.Details.BonusCredits.Clone()
	return &p, nil
}

func (m *MemoryStore) ListActiveGiftProducts(ctx context.Context) ([]models.Product, error) {
	m.productsMu.RLock()
	defer m.productsMu.RUnlock()
	var out []models.Product
	for _, p := range m.products {
		if p.Type == models.ProductTypePackage && p.IsActive && p.Details.IsGift {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func clonePrices(in map[models.Currency]float64) map[models.Currency]float64 {
	out := make(map[models.Currency]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func get[T any](m *MemoryStore, coll, id string) (*T, error) {
	raw, ok := m.data[coll][id]
	if !ok {
		return nil, ErrNotFound
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", coll, id, err)
	}
	return &v, nil
}

func put(m *MemoryStore, coll, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", coll, id, err)
	}
	m.data[coll][id] = raw
	return nil
}

func list[T any](m *MemoryStore, coll string, keep func(*T) bool) ([]T, error) {
	ids := make([]string, 0, len(m.data[coll]))
	for id := range m.data[coll] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []T
	for _, id := range ids {
		v, err := get[T](m, coll, id)
		if err != nil {
			return nil, err
		}
		if keep(v) {
			out = append(out, *v)
		}
	}
	return out, nil
}

func exists(m *MemoryStore, coll, id string) bool {
	_, ok := m.data[coll][id]
	return ok
}

type memTx struct {
	m *MemoryStore
}

func (t *memTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	return get[models.User](t.m, collUsers, id)
}

func (t *memTx) CreateUser(ctx context.Context, u *models.User) error {
	if exists(t.m, collUsers, u.ID) {
		return ErrConflict
	}
	now := time.Now()
	u.Version = 1
	u.CreatedAt, u.UpdatedAt = now, now
	return put(t.m, collUsers, u.ID, u)
}

func (t *memTx) SaveUser(ctx context.Context, u *models.User) error {
	cur, err := get[models.User](t.m, collUsers, u.ID)
	if err != nil {
		return err
	}
	if cur.Version != u.Version {
		return ErrConflict
	}
	u.Version++
	u.UpdatedAt = time.Now()
	return put(t.m, collUsers, u.ID, u)
}

func (t *memTx) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	return get[models.Subscription](t.m, collSubscriptions, id)
}

func (t *memTx) FindSubscriptionByChargeID(ctx context.Context, chargeID string) (*models.Subscription, error) {
	subs, err := list(t.m, collSubscriptions, func(s *models.Subscription) bool {
		return chargeID != "" && s.ProviderPaymentChargeID == chargeID
	})
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	sortSubscriptions(subs)
	return &subs[len(subs)-1], nil
}

func (t *memTx) FindSubscriptionsByMandateID(ctx context.Context, mandateID string) ([]models.Subscription, error) {
	subs, err := list(t.m, collSubscriptions, func(s *models.Subscription) bool {
		return mandateID != "" && s.ProviderAutoPaymentChargeID == mandateID
	})
	sortSubscriptions(subs)
	return subs, err
}

func (t *memTx) ListUserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	subs, err := list(t.m, collSubscriptions, func(s *models.Subscription) bool { return s.UserID == userID })
	sortSubscriptions(subs)
	return subs, err
}

func (t *memTx) ListSubscriptionsEndingBefore(ctx context.Context, statuses []models.SubscriptionStatus, before time.Time) ([]models.Subscription, error) {
	subs, err := list(t.m, collSubscriptions, func(s *models.Subscription) bool {
		if !s.EndDate.Before(before) {
			return false
		}
		for _, st := range statuses {
			if s.Status == st {
				return true
			}
		}
		return false
	})
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].EndDate.Before(subs[j].EndDate) })
	return subs, err
}

func sortSubscriptions(subs []models.Subscription) {
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].CreatedAt.Before(subs[j].CreatedAt) })
}

func (t *memTx) CreateSubscription(ctx context.Context, s *models.Subscription) error {
	if exists(t.m, collSubscriptions, s.ID) {
		return ErrConflict
	}
	now := time.Now()
	s.Version = 1
	s.CreatedAt, s.UpdatedAt = now, now
	return put(t.m, collSubscriptions, s.ID, s)
}

func (t *memTx) SaveSubscription(ctx context.Context, s *models.Subscription) error {
	cur, err := get[models.Subscription](t.m, collSubscriptions, s.ID)
	if err != nil {
		return err
	}
	if cur.Version != s.Version {
		return ErrConflict
	}
	s.Version++
	s.UpdatedAt = time.Now()
	return put(t.m, collSubscriptions, s.ID, s)
}

func (t *memTx) GetPackage(ctx context.Context, id string) (*models.Package, error) {
	return get[models.Package](t.m, collPackages, id)
}

func (t *memTx) FindPackagesByChargeID(ctx context.Context, chargeID string) ([]models.Package, error) {
	pkgs, err := list(t.m, collPackages, func(p *models.Package) bool {
		return chargeID != "" && p.ProviderPaymentChargeID == chargeID
	})
	sort.SliceStable(pkgs, func(i, j int) bool { return pkgs[i].CreatedAt.Before(pkgs[j].CreatedAt) })
	return pkgs, err
}

func (t *memTx) CreatePackage(ctx context.Context, p *models.Package) error {
	if exists(t.m, collPackages, p.ID) {
		return ErrConflict
	}
	now := time.Now()
	p.Version = 1
	p.CreatedAt, p.UpdatedAt = now, now
	return put(t.m, collPackages, p.ID, p)
}

func (t *memTx) SavePackage(ctx context.Context, p *models.Package) error {
	cur, err := get[models.Package](t.m, collPackages, p.ID)
	if err != nil {
		return err
	}
	if cur.Version != p.Version {
		return ErrConflict
	}
	p.Version++
	p.UpdatedAt = time.Now()
	return put(t.m, collPackages, p.ID, p)
}

func (t *memTx) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	c, err := get[models.Cart](t.m, collCarts, userID)
	if err == ErrNotFound {
		return &models.Cart{UserID: userID}, nil
	}
	return c, err
}

func (t *memTx) SaveCart(ctx context.Context, c *models.Cart) error {
	cur, err := get[models.Cart](t.m, collCarts, c.UserID)
	switch {
	case err == ErrNotFound:
		if c.Version != 0 {
			return ErrConflict
		}
	case err != nil:
		return err
	case cur.Version != c.Version:
		return ErrConflict
	}
	c.Version++
	c.UpdatedAt = time.Now()
	return put(t.m, collCarts, c.UserID, c)
}

func (t *memTx) CreateTransaction(ctx context.Context, tr *models.Transaction) error {
	if exists(t.m, collTransactions, tr.ID) {
		return ErrConflict
	}
	return put(t.m, collTransactions, tr.ID, tr)
}

func (t *memTx) HasTransactionForCharge(ctx context.Context, chargeID string) (bool, error) {
	if chargeID == "" {
		return false, nil
	}
	found, err := list(t.m, collTransactions, func(tr *models.Transaction) bool { return tr.ProviderChargeID == chargeID })
	return len(found) > 0, err
}

func (t *memTx) ListUserTransactions(ctx context.Context, userID string) ([]models.Transaction, error) {
	out, err := list(t.m, collTransactions, func(tr *models.Transaction) bool { return tr.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}

func (t *memTx) FindPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	found, err := list(t.m, collPromoCodes, func(p *models.PromoCode) bool { return p.Code == code })
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	return &found[0], nil
}

func usedPromoKey(userID, promoCodeID string) string {
	return userID + "/" + promoCodeID
}

func (t *memTx) IsPromoCodeUsed(ctx context.Context, userID, promoCodeID string) (bool, error) {
	return exists(t.m, collUsedPromos, usedPromoKey(userID, promoCodeID)), nil
}

func (t *memTx) MarkPromoCodeUsed(ctx context.Context, used *models.UsedPromoCode) error {
	key := usedPromoKey(used.UserID, used.PromoCodeID)
	if exists(t.m, collUsedPromos, key) {
		return ErrConflict
	}
	used.CreatedAt = time.Now()
	return put(t.m, collUsedPromos, key, used)
}
