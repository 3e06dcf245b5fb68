package billing

import (
	"context"
	"time"

	"neurobot/internal/models"
)

type NotificationKind string

const (
	NotifySubscriptionActivated NotificationKind = "subscription_activated"
	NotifySubscriptionRenewed   NotificationKind = "subscription_renewed"
	NotifySubscriptionCanceled  NotificationKind = "subscription_canceled"
	NotifySubscriptionResumed   NotificationKind = "subscription_resumed"
	NotifySubscriptionExpired   NotificationKind = "subscription_expired"
	NotifySubscriptionDeclined  NotificationKind = "subscription_declined"
	NotifyPackagesActivated     NotificationKind = "packages_activated"
	NotifyPackagesDeclined      NotificationKind = "packages_declined"
	NotifyGiftGranted           NotificationKind = "gift_granted"
	NotifyPromoRedeemed         NotificationKind = "promo_redeemed"
	NotifyRenewalReminder       NotificationKind = "renewal_reminder"
)

type Notification struct {
	Kind           NotificationKind
	UserID         string
	SubscriptionID string
	ProductIDs     []string
	EndDate        time.Time
	Amount         float64
	Currency       models.Currency
	IsTrial        bool
}

// OperatorAlert asks a human to look at a payment the engine could not settle.
type OperatorAlert struct {
	Reason         string
	Provider       models.PaymentMethod
	CorrelationKey string
	Err            error
}

// Notifier delivers messages after a unit commits. Failures are the
// notifier's to log; they never roll back billing state.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
	Alert(ctx context.Context, a OperatorAlert)
}

// LedgerPublisher receives committed ledger entries.
type LedgerPublisher interface {
	PublishTransaction(ctx context.Context, t models.Transaction) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}
func (nopNotifier) Alert(context.Context, OperatorAlert) {}
