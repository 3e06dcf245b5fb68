package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"neurobot/internal/discount"
	"neurobot/internal/ledger"
	"neurobot/internal/metrics"
	"neurobot/internal/models"
	"neurobot/internal/store"
)

const (
	DefaultTrialDuration = 72 * time.Hour
	defaultMaxRetries    = 5
	defaultRetryBackoff  = 20 * time.Millisecond
)

type Options struct {
	// FreeLimits are the daily limits of a user without a subscription.
	FreeLimits models.Quotas
	// GiftThresholds grant every active gift product once a single purchase
	// reaches the amount in its currency.
	GiftThresholds map[models.Currency]float64
	MinAmounts     map[models.Currency]float64
	// TrialPrices is the first-charge price of a trial. A currency without an
	// entry has no trial.
	TrialPrices   map[models.Currency]float64
	TrialDuration time.Duration
	// TrialWindow: a row whose paid period is not longer than this is still
	// extended in place on renewal.
	TrialWindow  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	Clock        func() time.Time
}

type Deps struct {
	Store     store.Store
	Catalog   store.Catalog
	Providers []Provider
	Notifier  Notifier
	Publisher LedgerPublisher
	Metrics   *metrics.Metrics
	Logger    logrus.FieldLogger
}

// Service bundles the billing managers. They share one store and retry
// policy.
type Service struct {
	Subscriptions *SubscriptionManager
	Purchases     *PurchaseManager
	Reconciler    *Reconciler

	core *core
}

func New(deps Deps, opts Options) *Service {
	if opts.TrialDuration <= 0 {
		opts.TrialDuration = DefaultTrialDuration
	}
	if opts.TrialWindow <= 0 {
		opts.TrialWindow = DefaultTrialDuration
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	c := &core{
		store:     deps.Store,
		catalog:   deps.Catalog,
		providers: make(map[models.PaymentMethod]Provider, len(deps.Providers)),
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		opts:      opts,
	}
	for _, p := range deps.Providers {
		c.providers[p.Method()] = p
	}

	subs := &SubscriptionManager{core: c}
	purchases := &PurchaseManager{core: c, subs: subs}
	return &Service{
		Subscriptions: subs,
		Purchases:     purchases,
		Reconciler:    &Reconciler{core: c, subs: subs, purchases: purchases},
		core:          c,
	}
}

// Provider returns the adapter registered for method.
func (s *Service) Provider(method models.PaymentMethod) (Provider, error) {
	return s.core.provider(method)
}

// EnsureUser returns the user, creating it on the free tier if needed.
func (s *Service) EnsureUser(ctx context.Context, id string, currency models.Currency) (*models.User, error) {
	var user *models.User
	err := s.core.transact(ctx, "user.ensure", func(ctx context.Context, tx store.Tx, fx *effects) error {
		u, err := tx.GetUser(ctx, id)
		if err == nil {
			user = u
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		u = &models.User{
			ID:                          id,
			Currency:                    currency,
			DailyLimits:                 s.core.opts.FreeLimits.Clone(),
			AdditionalUsageQuota:        models.Quotas{},
			LastSubscriptionLimitUpdate: s.core.now(),
		}
		if err := tx.CreateUser(ctx, u); err != nil {
			return err
		}
		user = u
		return nil
	})
	return user, err
}

// GetUser reads the user's current entitlement.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := s.core.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, id)
		return err
	})
	return user, err
}

// RenewalAmount is what a recurring charge of sub costs now: the product price
// for the period with the product discount. User discounts only apply to the
// first charge.
func (s *Service) RenewalAmount(ctx context.Context, sub *models.Subscription) (float64, error) {
	product, err := s.core.catalog.GetProduct(ctx, sub.ProductID)
	if err != nil {
		return 0, fmt.Errorf("get product %s: %w", sub.ProductID, err)
	}
	unit, ok := product.Price(sub.Currency)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, sub.Currency)
	}
	return discount.Apply(unit*float64(sub.Period), product.Discount), nil
}

type core struct {
	store     store.Store
	catalog   store.Catalog
	providers map[models.PaymentMethod]Provider
	notifier  Notifier
	publisher LedgerPublisher
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	opts      Options
}

func (c *core) now() time.Time {
	return c.opts.Clock().UTC()
}

func (c *core) provider(method models.PaymentMethod) (Provider, error) {
	p, ok := c.providers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, method)
	}
	return p, nil
}

// effects run after the unit commits, in order, and never on rollback.
type effects struct {
	fns []func(ctx context.Context)
}

func (e *effects) after(fn func(ctx context.Context)) {
	e.fns = append(e.fns, fn)
}

func (e *effects) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for _, fn := range e.fns {
		fn(ctx)
	}
}

// transact runs fn in a store unit, retrying the whole unit on version
// conflicts. Side effects registered on fx run once, after the commit that
// succeeded.
func (c *core) transact(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx, fx *effects) error) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		fx := &effects{}
		err := c.store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return fn(ctx, tx, fx)
		})
		if err == nil {
			fx.run(ctx)
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}

		lastErr = err
		c.metrics.Conflict(op)
		c.log.WithFields(logrus.Fields{"op": op, "attempt": attempt}).Debug("transaction conflict, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.opts.RetryBackoff):
		}
	}
	return &TransientFailureError{Op: op, Attempts: c.opts.MaxRetries, Err: lastErr}
}

func (c *core) read(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return c.store.RunInTx(ctx, fn)
}

// appendLedger writes t inside the unit and publishes it after commit.
func (c *core) appendLedger(ctx context.Context, tx store.Tx, fx *effects, t *models.Transaction) error {
	t.CreatedAt = c.now()
	if err := ledger.Append(ctx, tx, t); err != nil {
		return err
	}
	entry := *t
	fx.after(func(ctx context.Context) {
		c.metrics.LedgerEntry(entry)
		if c.publisher == nil {
			return
		}
		if err := c.publisher.PublishTransaction(ctx, entry); err != nil {
			c.log.WithError(err).WithField("transaction_id", entry.ID).Warn("publish ledger entry failed")
		}
	})
	return nil
}

func (c *core) notify(fx *effects, n Notification) {
	fx.after(func(ctx context.Context) {
		c.notifier.Notify(ctx, n)
	})
}

func (c *core) disableAutoRenew(ctx context.Context, sub models.Subscription) {
	c.toggleAutoRenew(ctx, sub, false)
}

func (c *core) enableAutoRenew(ctx context.Context, sub models.Subscription) {
	c.toggleAutoRenew(ctx, sub, true)
}

func (c *core) toggleAutoRenew(ctx context.Context, sub models.Subscription, enable bool) {
	p, err := c.provider(sub.PaymentMethod)
	if err != nil {
		// promo and gift rows have nothing to toggle
		return
	}
	if enable {
		err = p.EnableAutoRenew(ctx, &sub)
	} else {
		err = p.DisableAutoRenew(ctx, &sub)
	}
	if err == nil {
		return
	}
	c.log.WithError(err).WithFields(logrus.Fields{
		"subscription_id": sub.ID,
		"provider":        sub.PaymentMethod,
		"enable":          enable,
	}).Warn("auto-renew toggle failed, needs manual reconciliation")
	c.notifier.Alert(ctx, OperatorAlert{
		Reason:         "auto-renew toggle failed",
		Provider:       sub.PaymentMethod,
		CorrelationKey: sub.ProviderAutoPaymentChargeID,
		Err:            err,
	})
}

func (c *core) product(ctx context.Context, id string, typ models.ProductType) (*models.Product, error) {
	p, err := c.catalog.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
	}
	if err != nil {
		return nil, err
	}
	if p.Type != typ || !p.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
	}
	return p, nil
}

func (c *core) checkMinimum(currency models.Currency, amount float64) error {
	if floor, ok := c.opts.MinAmounts[currency]; ok && amount < floor {
		return &MinimumAmountError{Currency: currency, Amount: amount, Minimum: floor}
	}
	return nil
}

// netAmount clamps a provider-reported net amount into [0, gross].
// settlementCurrency is implemented by providers that charge in a single
// currency regardless of the user's.
type settlementCurrency interface {
	SettlementCurrency() models.Currency
}

func chargeCurrency(p Provider, user *models.User) models.Currency {
	if s, ok := p.(settlementCurrency); ok {
		return s.SettlementCurrency()
	}
	return user.Currency
}

func netAmount(net, gross float64) float64 {
	net = discount.Round(net)
	if net < 0 {
		return 0
	}
	if net > gross {
		return gross
	}
	return net
}
