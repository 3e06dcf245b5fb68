package billing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"neurobot/internal/models"
	"neurobot/internal/store"
)

var t0 = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeProvider struct {
	method models.PaymentMethod
	trial  bool
	// prefix is prepended to the order id to form the checkout id; empty
	// keeps the order id.
	prefix      string
	checkoutErr error

	mu        sync.Mutex
	checkouts []CheckoutRequest
	disabled  []string
	enabled   []string
}

func (p *fakeProvider) Method() models.PaymentMethod { return p.method }

func (p *fakeProvider) SupportsTrial() bool { return p.trial }

func (p *fakeProvider) Normalize(payload []byte) (PaymentEvent, error) {
	if string(payload) == "ignored" {
		return PaymentEvent{}, ErrIgnoredEvent
	}
	var ev PaymentEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return PaymentEvent{}, err
	}
	ev.Provider = p.method
	return ev, nil
}

func (p *fakeProvider) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkouts = append(p.checkouts, req)
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	id := p.prefix + req.OrderID
	return &Checkout{ProviderChargeID: id, URL: "https://pay.example/" + id}, nil
}

func (p *fakeProvider) DisableAutoRenew(ctx context.Context, sub *models.Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disabled = append(p.disabled, sub.ID)
	return nil
}

func (p *fakeProvider) EnableAutoRenew(ctx context.Context, sub *models.Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = append(p.enabled, sub.ID)
	return nil
}

func (p *fakeProvider) lastCheckout() CheckoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkouts[len(p.checkouts)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	notes  []Notification
	alerts []OperatorAlert
}

func (n *recordingNotifier) Notify(ctx context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *recordingNotifier) Alert(ctx context.Context, a OperatorAlert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

func (n *recordingNotifier) count(kind NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, note := range n.notes {
		if note.Kind == kind {
			c++
		}
	}
	return c
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []models.Transaction
}

func (p *recordingPublisher) PublishTransaction(ctx context.Context, t models.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, t)
	return nil
}

// flakyStore fails the next `failures` units with a conflict after running
// them, so their writes are rolled back.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
	calls    int
	trace    *txTrace
}

// txTrace records the order of user and subscription-list reads.
type txTrace struct {
	mu    sync.Mutex
	calls []string
}

func (tr *txTrace) add(call string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, call)
}

func (tr *txTrace) index(call string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, c := range tr.calls {
		if c == call {
			return i
		}
	}
	return -1
}

type tracedTx struct {
	store.Tx
	trace *txTrace
}

func (t tracedTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	t.trace.add("GetUser")
	return t.Tx.GetUser(ctx, id)
}

func (t tracedTx) ListUserSubscriptions(ctx context.Context, userID string) ([]models.Subscription, error) {
	t.trace.add("ListUserSubscriptions")
	return t.Tx.ListUserSubscriptions(ctx, userID)
}

func (f *flakyStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	trace := f.trace
	f.mu.Unlock()

	if trace != nil {
		inner := fn
		fn = func(ctx context.Context, tx store.Tx) error {
			return inner(ctx, tracedTx{Tx: tx, trace: trace})
		}
	}
	if !fail {
		return f.Store.RunInTx(ctx, fn)
	}
	return f.Store.RunInTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return store.ErrConflict
	})
}

func (f *flakyStore) startTrace() *txTrace {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace = &txTrace{}
	return f.trace
}

func (f *flakyStore) failNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
	f.calls = 0
}

type testEnv struct {
	svc       *Service
	mem       *store.MemoryStore
	flaky     *flakyStore
	clock     *fakeClock
	stripe    *fakeProvider
	yookassa  *fakeProvider
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mem := store.NewMemoryStore()
	mem.AddProduct(models.Product{
		ID: "pro", Name: "Pro", Type: models.ProductTypeSubscription, IsActive: true,
		Prices: map[models.Currency]float64{models.CurrencyUSD: 20, models.CurrencyRUB: 990},
		Details: models.ProductDetails{
			Limits:       models.Quotas{"gpt": 100},
			BonusCredits: models.Quotas{"images": 10},
			HasTrial:     true,
		},
	})
	mem.AddProduct(models.Product{
		ID: "lite", Name: "Lite", Type: models.ProductTypeSubscription, IsActive: true, Discount: 5,
		Prices:  map[models.Currency]float64{models.CurrencyUSD: 10},
		Details: models.ProductDetails{Limits: models.Quotas{"gpt": 30}},
	})
	mem.AddProduct(models.Product{
		ID: "tokens", Name: "Tokens", Type: models.ProductTypePackage, IsActive: true,
		Prices:  map[models.Currency]float64{models.CurrencyUSD: 20, models.CurrencyRUB: 500},
		Details: models.ProductDetails{Quota: "gpt_tokens"},
	})
	mem.AddProduct(models.Product{
		ID: "images", Name: "Images", Type: models.ProductTypePackage, IsActive: true,
		Prices:  map[models.Currency]float64{models.CurrencyUSD: 5},
		Details: models.ProductDetails{Quota: "images"},
	})
	mem.AddProduct(models.Product{
		ID: "sticker", Name: "Sticker", Type: models.ProductTypePackage, IsActive: true,
		Prices:  map[models.Currency]float64{models.CurrencyUSD: 0.5},
		Details: models.ProductDetails{Quota: "stickers"},
	})
	mem.AddProduct(models.Product{
		ID: "gift", Name: "Gift", Type: models.ProductTypePackage, IsActive: true,
		Prices:  map[models.Currency]float64{models.CurrencyUSD: 0},
		Details: models.ProductDetails{Quota: "images", Quantity: 3, IsGift: true},
	})

	clock := &fakeClock{now: t0}
	flaky := &flakyStore{Store: mem}
	stripe := &fakeProvider{method: models.PaymentMethodStripe, trial: true, prefix: "cs_"}
	yookassa := &fakeProvider{method: models.PaymentMethodYooKassa}
	notifier := &recordingNotifier{}
	publisher := &recordingPublisher{}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc := New(Deps{
		Store:     flaky,
		Catalog:   mem,
		Providers: []Provider{stripe, yookassa},
		Notifier:  notifier,
		Publisher: publisher,
		Logger:    logger,
	}, Options{
		FreeLimits:     models.Quotas{"gpt": 5},
		GiftThresholds: map[models.Currency]float64{models.CurrencyUSD: 30},
		MinAmounts:     map[models.Currency]float64{models.CurrencyUSD: 1},
		TrialPrices:    map[models.Currency]float64{models.CurrencyUSD: 1},
		RetryBackoff:   time.Millisecond,
		Clock:          clock.Now,
	})

	return &testEnv{
		svc:       svc,
		mem:       mem,
		flaky:     flaky,
		clock:     clock,
		stripe:    stripe,
		yookassa:  yookassa,
		notifier:  notifier,
		publisher: publisher,
	}
}

func (e *testEnv) user(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := e.svc.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (e *testEnv) subscription(t *testing.T, id string) *models.Subscription {
	t.Helper()
	var sub *models.Subscription
	require.NoError(t, e.mem.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		sub, err = tx.GetSubscription(ctx, id)
		return err
	}))
	return sub
}

func (e *testEnv) packages(t *testing.T, chargeID string) []models.Package {
	t.Helper()
	var pkgs []models.Package
	require.NoError(t, e.mem.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		pkgs, err = tx.FindPackagesByChargeID(ctx, chargeID)
		return err
	}))
	return pkgs
}

func (e *testEnv) ledger(t *testing.T, userID string) []models.Transaction {
	t.Helper()
	var out []models.Transaction
	require.NoError(t, e.mem.RunInTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.ListUserTransactions(ctx, userID)
		return err
	}))
	return out
}

func (e *testEnv) newUser(t *testing.T, id string) {
	t.Helper()
	_, err := e.svc.EnsureUser(context.Background(), id, models.CurrencyUSD)
	require.NoError(t, err)
}

func netOf(v float64) *float64 { return &v }

// subscribe runs a full stripe checkout and first charge for product.
func (e *testEnv) subscribe(t *testing.T, userID, productID, mandate string) *models.Subscription {
	t.Helper()
	ctx := context.Background()
	sub, checkout, err := e.svc.Subscriptions.Checkout(ctx, userID, productID, models.PeriodMonthly, models.PaymentMethodStripe)
	require.NoError(t, err)
	err = e.svc.Reconciler.Apply(ctx, PaymentEvent{
		Provider:          models.PaymentMethodStripe,
		Kind:              EventSucceeded,
		CorrelationKey:    checkout.ProviderChargeID,
		AmountGross:       sub.Amount,
		ProviderChargeID:  "pi_" + sub.ID,
		ProviderMandateID: mandate,
		IsTrialHint:       sub.IsTrial,
	})
	require.NoError(t, err)
	return e.subscription(t, sub.ID)
}

func errorsAs[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
