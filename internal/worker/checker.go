package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"neurobot/internal/billing"
	"neurobot/internal/models"
	"neurobot/internal/payment"
)

const (
	reminderLead   = 24 * time.Hour
	reminderMarker = 48 * time.Hour
	chargeMarker   = 24 * time.Hour
)

// RenewalCharger initiates a recurring charge on a saved payment method.
type RenewalCharger interface {
	ChargeRenewal(ctx context.Context, sub *models.Subscription, amount float64) (*payment.PaymentResponse, error)
}

// Checker runs the periodic subscription jobs: renewal reminders,
// merchant-initiated YooKassa renewals and period-end expiry.
type Checker struct {
	Billing  *billing.Service
	Redis    *redis.Client
	Notifier billing.Notifier
	// YooKassa may be nil when the provider is not configured.
	YooKassa RenewalCharger
	// Grace keeps an ACTIVE row alive past its end date while the provider's
	// renewal is in flight.
	Grace time.Duration
	Log   logrus.FieldLogger
	Clock func() time.Time
}

func NewChecker(svc *billing.Service, rdb *redis.Client, notifier billing.Notifier, yookassa RenewalCharger, grace time.Duration, log logrus.FieldLogger) *Checker {
	return &Checker{
		Billing:  svc,
		Redis:    rdb,
		Notifier: notifier,
		YooKassa: yookassa,
		Grace:    grace,
		Log:      log,
		Clock:    time.Now,
	}
}

// Start runs a check immediately and then on schedule until ctx is done.
func (c *Checker) Start(ctx context.Context, schedule string) error {
	cr := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(c.Log))))
	if _, err := cr.AddFunc(schedule, func() { c.CheckSubscriptions(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule subscription check %q: %w", schedule, err)
	}
	c.Log.WithField("schedule", schedule).Info("Background subscription worker started")

	c.CheckSubscriptions(ctx)
	cr.Start()

	<-ctx.Done()
	<-cr.Stop().Done()
	return nil
}

func (c *Checker) CheckSubscriptions(ctx context.Context) {
	now := c.Clock().UTC()
	c.Log.Debug("Running subscription check cycle...")

	c.sendReminders(ctx, now)
	c.chargeRenewals(ctx, now)
	c.expireCanceled(ctx, now)
	c.expireOverdue(ctx, now)
}

// 1. Notify 24h before the end of the period
func (c *Checker) sendReminders(ctx context.Context, now time.Time) {
	subs, err := c.Billing.Subscriptions.EndingBefore(ctx, now.Add(reminderLead),
		models.SubscriptionStatusActive, models.SubscriptionStatusTrial)
	if err != nil {
		c.Log.WithError(err).Error("Error querying expiring subscriptions")
		return
	}

	for _, sub := range subs {
		if !sub.EndDate.After(now) {
			continue
		}
		key := fmt.Sprintf("notified_24h_%s", sub.ID)
		first, err := c.Redis.SetNX(ctx, key, "true", reminderMarker).Result()
		if err != nil {
			c.Log.WithError(err).WithField("subscription_id", sub.ID).Warn("Failed to set reminder marker")
			continue
		}
		if !first {
			continue
		}
		c.Notifier.Notify(ctx, billing.Notification{
			Kind:           billing.NotifyRenewalReminder,
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			ProductIDs:     []string{sub.ProductID},
			EndDate:        sub.EndDate,
			Amount:         sub.Amount,
			Currency:       sub.Currency,
			IsTrial:        sub.IsTrial,
		})
	}
}

// 2. YooKassa does not bill saved cards on its own; the outcome arrives via
// the regular webhook
func (c *Checker) chargeRenewals(ctx context.Context, now time.Time) {
	if c.YooKassa == nil {
		return
	}
	subs, err := c.Billing.Subscriptions.EndingBefore(ctx, now,
		models.SubscriptionStatusActive, models.SubscriptionStatusTrial)
	if err != nil {
		c.Log.WithError(err).Error("Error querying due subscriptions")
		return
	}

	for i := range subs {
		sub := &subs[i]
		if sub.PaymentMethod != models.PaymentMethodYooKassa || sub.ProviderAutoPaymentChargeID == "" {
			continue
		}
		log := c.Log.WithFields(logrus.Fields{"subscription_id": sub.ID, "user_id": sub.UserID})

		key := fmt.Sprintf("renewal_charge_%s_%s", sub.ID, now.Format("20060102"))
		first, err := c.Redis.SetNX(ctx, key, "true", chargeMarker).Result()
		if err != nil {
			log.WithError(err).Warn("Failed to set renewal marker")
			continue
		}
		if !first {
			continue
		}

		amount, err := c.Billing.RenewalAmount(ctx, sub)
		if err != nil {
			log.WithError(err).Error("Failed to price renewal")
			continue
		}
		resp, err := c.YooKassa.ChargeRenewal(ctx, sub, amount)
		if err != nil {
			log.WithError(err).Warn("Renewal charge failed")
			continue
		}
		log.WithFields(logrus.Fields{"charge_id": resp.ID, "status": resp.Status}).Info("Renewal charge created")
	}
}

// 3. Canceled subscriptions run out at the end of the paid period
func (c *Checker) expireCanceled(ctx context.Context, now time.Time) {
	subs, err := c.Billing.Subscriptions.EndingBefore(ctx, now, models.SubscriptionStatusCanceled)
	if err != nil {
		c.Log.WithError(err).Error("Error querying canceled subscriptions")
		return
	}
	for _, sub := range subs {
		c.expire(ctx, sub)
	}
}

// 4. Renewals that never arrived
func (c *Checker) expireOverdue(ctx context.Context, now time.Time) {
	subs, err := c.Billing.Subscriptions.EndingBefore(ctx, now.Add(-c.Grace),
		models.SubscriptionStatusActive, models.SubscriptionStatusTrial)
	if err != nil {
		c.Log.WithError(err).Error("Error querying overdue subscriptions")
		return
	}
	for _, sub := range subs {
		c.expire(ctx, sub)
	}
}

func (c *Checker) expire(ctx context.Context, sub models.Subscription) {
	log := c.Log.WithFields(logrus.Fields{"subscription_id": sub.ID, "user_id": sub.UserID})
	_, err := c.Billing.Subscriptions.Expire(ctx, sub.ID)
	switch {
	case err == nil:
		log.WithField("end_date", sub.EndDate).Info("Subscription expired")
	case errors.Is(err, billing.ErrDuplicateEvent):
	default:
		log.WithError(err).Error("Failed to expire subscription")
	}
}
