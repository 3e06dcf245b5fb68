package billing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurobot/internal/models"
)

func TestHandle_IgnoredAndMalformed(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	assert.NoError(t, e.svc.Reconciler.Handle(ctx, models.PaymentMethodStripe, []byte("ignored")))
	assert.ErrorIs(t, e.svc.Reconciler.Handle(ctx, models.PaymentMethodStripe, []byte("{not json")), ErrMalformedPayload)

	err := e.svc.Reconciler.Handle(ctx, models.PaymentMethodTelegramStars, []byte("{}"))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHandle_AppliesNormalizedEvent(t *testing.T) {
	e := newTestEnv(t)
	e.newUser(t, "u1")
	ctx := context.Background()

	sub, checkout, err := e.svc.Subscriptions.Checkout(ctx, "u1", "lite", models.PeriodMonthly, models.PaymentMethodYooKassa)
	require.NoError(t, err)
	assert.Equal(t, sub.ID, checkout.ProviderChargeID)

	payload, err := json.Marshal(PaymentEvent{
		Kind:              EventSucceeded,
		CorrelationKey:    "unrelated",
		OrderID:           sub.ID,
		AmountGross:       9.5,
		ProviderMandateID: "pm_1",
	})
	require.NoError(t, err)
	require.NoError(t, e.svc.Reconciler.Handle(ctx, models.PaymentMethodYooKassa, payload))

	got := e.subscription(t, sub.ID)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
	assert.Equal(t, "pm_1", got.ProviderAutoPaymentChargeID)
}

func TestApply_UnknownEventAlertsOperator(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	err := e.svc.Reconciler.Apply(ctx, PaymentEvent{
		Provider:       models.PaymentMethodStripe,
		Kind:           EventSucceeded,
		CorrelationKey: "cs_missing",
		RawType:        "checkout.session.completed",
	})
	unknown, ok := errorsAs[*UnknownProviderEventError](err)
	require.True(t, ok)
	assert.Equal(t, "cs_missing", unknown.CorrelationKey)

	require.Len(t, e.notifier.alerts, 1)
	assert.Equal(t, models.PaymentMethodStripe, e.notifier.alerts[0].Provider)

	err = e.svc.Reconciler.Apply(ctx, PaymentEvent{
		Provider:       models.PaymentMethodStripe,
		Kind:           EventSucceeded,
		Renewal:        true,
		CorrelationKey: "sub_missing",
	})
	_, ok = errorsAs[*UnknownProviderEventError](err)
	assert.True(t, ok)
}

func TestApply_RenewalCancelOnProviderSide(t *testing.T) {
	e := newTestEnv(t)
	e.newUser(t, "u1")
	ctx := context.Background()

	sub := e.subscribe(t, "u1", "lite", "sub_1")
	require.NoError(t, e.svc.Reconciler.Apply(ctx, PaymentEvent{
		Provider:       models.PaymentMethodStripe,
		Kind:           EventCanceled,
		Renewal:        true,
		CorrelationKey: "sub_1",
	}))

	got := e.subscription(t, sub.ID)
	assert.Equal(t, models.SubscriptionStatusCanceled, got.Status)
	assert.Equal(t, sub.EndDate, got.EndDate)
	assert.Empty(t, e.stripe.disabled, "provider already stopped the mandate")
}

func TestPreCheckout(t *testing.T) {
	e := newTestEnv(t)
	e.newUser(t, "u1")
	ctx := context.Background()

	sub, _, err := e.svc.Subscriptions.Checkout(ctx, "u1", "lite", models.PeriodMonthly, models.PaymentMethodYooKassa)
	require.NoError(t, err)
	pkg, _, err := e.svc.Purchases.BuyPackage(ctx, "u1", "tokens", 1, models.PaymentMethodYooKassa)
	require.NoError(t, err)

	assert.NoError(t, e.svc.Reconciler.PreCheckout(ctx, OrderSubscription, sub.ID))
	assert.NoError(t, e.svc.Reconciler.PreCheckout(ctx, OrderPackage, pkg.ID))
	assert.ErrorIs(t, e.svc.Reconciler.PreCheckout(ctx, OrderSubscription, "missing"), ErrOrderNotPayable)
	assert.ErrorIs(t, e.svc.Reconciler.PreCheckout(ctx, OrderPackage, "missing"), ErrOrderNotPayable)

	_, err = e.svc.Subscriptions.Decline(ctx, sub.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, e.svc.Reconciler.PreCheckout(ctx, OrderSubscription, sub.ID), ErrOrderNotPayable)
}

func TestInvoicePayload(t *testing.T) {
	payload := InvoicePayload(OrderCart, "abc")
	assert.Equal(t, "cart:abc", payload)

	kind, id, err := ParseInvoicePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, OrderCart, kind)
	assert.Equal(t, "abc", id)

	_, _, err = ParseInvoicePayload("gift:abc")
	assert.Error(t, err)
	_, _, err = ParseInvoicePayload("sub:")
	assert.Error(t, err)
}

func TestEnsureUser(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	u, err := e.svc.EnsureUser(ctx, "u1", models.CurrencyRUB)
	require.NoError(t, err)
	assert.Equal(t, models.Quotas{"gpt": 5}, u.DailyLimits)
	assert.Equal(t, models.CurrencyRUB, u.Currency)

	again, err := e.svc.EnsureUser(ctx, "u1", models.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, models.CurrencyRUB, again.Currency)
}
