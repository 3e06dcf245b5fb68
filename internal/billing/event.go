package billing

import (
	"context"
	"fmt"
	"strings"

	"neurobot/internal/models"
)

type EventKind string

const (
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventCanceled  EventKind = "canceled"
)

// PaymentEvent is a provider notification normalized for the reconciler.
type PaymentEvent struct {
	Provider models.PaymentMethod
	Kind     EventKind
	// Renewal events are correlated by mandate, first charges by checkout id.
	Renewal        bool
	CorrelationKey string
	// OrderID is our own id echoed back in provider metadata; used when the
	// correlation key does not match a row.
	OrderID string
	// RawType is the provider's own event name, for logs and alerts.
	RawType                string
	AmountGross            float64
	AmountNet              *float64
	Currency               models.Currency
	ProviderChargeID       string
	ProviderMandateID      string
	ProviderSubscriptionID string
	IsTrialHint            bool
}

// IncomeAmount is the net amount when the provider reports it, gross otherwise.
func (e PaymentEvent) IncomeAmount() float64 {
	if e.AmountNet != nil {
		return *e.AmountNet
	}
	return e.AmountGross
}

// ChargeID is the id under which the charge is recorded in the ledger.
func (e PaymentEvent) ChargeID() string {
	if e.ProviderChargeID != "" {
		return e.ProviderChargeID
	}
	return e.CorrelationKey
}

type OrderKind string

const (
	OrderSubscription OrderKind = "sub"
	OrderPackage      OrderKind = "pkg"
	OrderCart         OrderKind = "cart"
)

// InvoicePayload encodes the order reference carried through a native
// platform invoice.
func InvoicePayload(kind OrderKind, orderID string) string {
	return string(kind) + ":" + orderID
}

func ParseInvoicePayload(payload string) (OrderKind, string, error) {
	kind, id, ok := strings.Cut(payload, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("malformed invoice payload %q", payload)
	}
	switch OrderKind(kind) {
	case OrderSubscription, OrderPackage, OrderCart:
		return OrderKind(kind), id, nil
	}
	return "", "", fmt.Errorf("unknown order kind %q", kind)
}

type CheckoutRequest struct {
	OrderID  string
	Kind     OrderKind
	UserID   string
	Title    string
	Amount   float64
	Currency models.Currency
	// Recurring checkouts set up a mandate; RecurringAmount is charged each
	// PeriodMonths after the first charge (or after the trial).
	Recurring       bool
	RecurringAmount float64
	PeriodMonths    int
	TrialDays       int
}

type Checkout struct {
	// ProviderChargeID correlates the first-charge webhook with the row.
	ProviderChargeID string
	URL              string
}

// Provider adapts one payment processor to the billing engine.
type Provider interface {
	Method() models.PaymentMethod
	Normalize(payload []byte) (PaymentEvent, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	DisableAutoRenew(ctx context.Context, sub *models.Subscription) error
	EnableAutoRenew(ctx context.Context, sub *models.Subscription) error
}
