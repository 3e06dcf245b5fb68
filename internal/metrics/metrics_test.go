package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"neurobot/internal/models"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.PaymentEvent(models.PaymentMethodStripe, "succeeded", "applied")
	m.PaymentEvent(models.PaymentMethodStripe, "succeeded", "applied")
	m.Conflict("subscription.create")
	m.LedgerEntry(models.Transaction{Type: models.TransactionTypeIncome, Currency: models.CurrencyUSD})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PaymentEvents.WithLabelValues("STRIPE", "succeeded", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TxConflicts.WithLabelValues("subscription.create")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerEntries.WithLabelValues("INCOME", "USD")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PaymentEvent(models.PaymentMethodYooKassa, "failed", "applied")
		m.Conflict("x")
		m.LedgerEntry(models.Transaction{})
	})
}
