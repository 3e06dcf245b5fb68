package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurobot/internal/billing"
	"neurobot/internal/models"
)

func newTestYooKassa(t *testing.T, handler http.HandlerFunc) *YooKassa {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClient("shop", "secret")
	client.APIURL = srv.URL
	log, _ := test.NewNullLogger()
	return NewYooKassa(client, "https://t.me/neurobot", FeeSchedule{Percent: 3.5}, log)
}

func TestYooKassaCreateCheckout(t *testing.T) {
	var got CreatePaymentRequest
	var gotKey string
	y := newTestYooKassa(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "secret", pass)
		gotKey = r.Header.Get("Idempotence-Key")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"id":"pay_1","status":"pending","confirmation":{"type":"redirect","confirmation_url":"https://yoomoney.ru/pay"}}`))
	})

	checkout, err := y.CreateCheckout(context.Background(), billing.CheckoutRequest{
		OrderID:   "order-1",
		Kind:      billing.OrderSubscription,
		UserID:    "42",
		Title:     "Pro",
		Amount:    299,
		Currency:  models.CurrencyRUB,
		Recurring: true,
		TrialDays: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "pay_1", checkout.ProviderChargeID)
	assert.Equal(t, "https://yoomoney.ru/pay", checkout.URL)

	assert.Equal(t, "order-1", gotKey)
	assert.Equal(t, Amount{Value: "299.00", Currency: "RUB"}, got.Amount)
	assert.True(t, got.SavePaymentMethod)
	assert.True(t, got.Capture)
	assert.Equal(t, "order-1", got.Metadata[metaOrderID])
	assert.Equal(t, "sub", got.Metadata[metaKind])
	assert.Equal(t, "true", got.Metadata[metaTrial])
}

func TestYooKassaAPIError(t *testing.T) {
	y := newTestYooKassa(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","code":"invalid_request"}`))
	})
	_, err := y.CreateCheckout(context.Background(), billing.CheckoutRequest{OrderID: "o", Amount: 1, Currency: models.CurrencyRUB})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request")
}

func TestYooKassaChargeRenewal(t *testing.T) {
	var got CreatePaymentRequest
	var gotKey string
	y := newTestYooKassa(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("Idempotence-Key")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Write([]byte(`{"id":"pay_2","status":"succeeded"}`))
	})

	sub := &models.Subscription{
		ID:                          "sub-1",
		UserID:                      "42",
		Currency:                    models.CurrencyRUB,
		ProviderAutoPaymentChargeID: "pm_saved",
		EndDate:                     time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
	}
	resp, err := y.ChargeRenewal(context.Background(), sub, 499)
	require.NoError(t, err)
	assert.Equal(t, "pay_2", resp.ID)
	assert.Equal(t, "renewal-sub-1-20260210", gotKey)
	assert.Equal(t, "pm_saved", got.PaymentMethodID)
	assert.Equal(t, typeRenewal, got.Metadata[metaType])
	assert.Nil(t, got.Confirmation)

	_, err = y.ChargeRenewal(context.Background(), &models.Subscription{ID: "sub-2"}, 1)
	assert.Error(t, err)
}

func TestYooKassaNormalize(t *testing.T) {
	log, _ := test.NewNullLogger()
	y := NewYooKassa(NewClient("s", "k"), "", FeeSchedule{Percent: 3.5}, log)

	t.Run("first charge with income amount", func(t *testing.T) {
		ev, err := y.Normalize([]byte(`{
			"type":"notification","event":"payment.succeeded",
			"object":{"id":"pay_1","status":"succeeded","paid":true,
				"amount":{"value":"299.00","currency":"RUB"},
				"income_amount":{"value":"288.54","currency":"RUB"},
				"payment_method":{"id":"pm_1","type":"bank_card","saved":true},
				"metadata":{"order_id":"order-1","trial":"true"}}}`))
		require.NoError(t, err)
		assert.Equal(t, billing.EventSucceeded, ev.Kind)
		assert.False(t, ev.Renewal)
		assert.Equal(t, "pay_1", ev.CorrelationKey)
		assert.Equal(t, "order-1", ev.OrderID)
		assert.Equal(t, 299.0, ev.AmountGross)
		assert.Equal(t, 288.54, ev.IncomeAmount())
		assert.Equal(t, "pm_1", ev.ProviderMandateID)
		assert.True(t, ev.IsTrialHint)
	})

	t.Run("fee fallback and unsaved method", func(t *testing.T) {
		ev, err := y.Normalize([]byte(`{"event":"payment.succeeded","object":{"id":"pay_2",
			"amount":{"value":"100.00","currency":"RUB"},"payment_method":{"id":"pm_2"}}}`))
		require.NoError(t, err)
		assert.Equal(t, 96.5, ev.IncomeAmount())
		assert.Empty(t, ev.ProviderMandateID)
	})

	t.Run("renewal keyed by mandate", func(t *testing.T) {
		ev, err := y.Normalize([]byte(`{"event":"payment.canceled","object":{"id":"pay_3",
			"amount":{"value":"499.00","currency":"RUB"},
			"payment_method":{"id":"pm_1","saved":true},
			"metadata":{"type":"renewal","mandate_id":"pm_1"}}}`))
		require.NoError(t, err)
		assert.Equal(t, billing.EventFailed, ev.Kind)
		assert.True(t, ev.Renewal)
		assert.Equal(t, "pm_1", ev.CorrelationKey)
		assert.Equal(t, "pay_3", ev.ChargeID())
	})

	t.Run("waiting for capture is ignored", func(t *testing.T) {
		_, err := y.Normalize([]byte(`{"event":"payment.waiting_for_capture","object":{"id":"p"}}`))
		assert.ErrorIs(t, err, billing.ErrIgnoredEvent)
	})

	t.Run("refunds are unknown", func(t *testing.T) {
		_, err := y.Normalize([]byte(`{"event":"refund.succeeded","object":{"id":"r_1"}}`))
		var unknown *billing.UnknownProviderEventError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, "refund.succeeded", unknown.EventType)
	})

	t.Run("bad amount", func(t *testing.T) {
		_, err := y.Normalize([]byte(`{"event":"payment.succeeded","object":{"id":"p","amount":{"value":"abc"}}}`))
		assert.Error(t, err)
	})
}
