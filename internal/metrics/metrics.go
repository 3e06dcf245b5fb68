package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"neurobot/internal/models"
)

// Metrics groups the billing counters. A nil *Metrics records nothing.
type Metrics struct {
	PaymentEvents *prometheus.CounterVec
	TxConflicts   *prometheus.CounterVec
	LedgerEntries *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "payment_events_total",
			Help:      "Provider payment events by outcome of reconciliation.",
		}, []string{"provider", "kind", "outcome"}),
		TxConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "tx_conflicts_total",
			Help:      "Optimistic transaction conflicts, retried or not.",
		}, []string{"op"}),
		LedgerEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "ledger_entries_total",
			Help:      "Committed ledger transactions.",
		}, []string{"type", "currency"}),
	}
	reg.MustRegister(m.PaymentEvents, m.TxConflicts, m.LedgerEntries)
	return m
}

func (m *Metrics) PaymentEvent(provider models.PaymentMethod, kind, outcome string) {
	if m == nil {
		return
	}
	m.PaymentEvents.WithLabelValues(string(provider), kind, outcome).Inc()
}

func (m *Metrics) Conflict(op string) {
	if m == nil {
		return
	}
	m.TxConflicts.WithLabelValues(op).Inc()
}

func (m *Metrics) LedgerEntry(t models.Transaction) {
	if m == nil {
		return
	}
	m.LedgerEntries.WithLabelValues(string(t.Type), string(t.Currency)).Inc()
}
