package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"neurobot/internal/discount"
	"neurobot/internal/models"
	"neurobot/internal/store"
)

// SubscriptionManager owns the subscription lifecycle and keeps the user's
// entitlement in line with it.
type SubscriptionManager struct {
	*core
}

// trialSupporter is implemented by providers that can charge a trial price
// first and the regular price afterwards.
type trialSupporter interface {
	SupportsTrial() bool
}

// Activation carries what the provider reported about a successful first
// charge.
type Activation struct {
	IncomeAmount           float64
	ProviderChargeID       string
	ProviderMandateID      string
	ProviderSubscriptionID string
	IsTrial                bool
	// StartAt defaults to now.
	StartAt time.Time
}

// RenewalCharge is a successful recurring charge.
type RenewalCharge struct {
	ProviderChargeID string
	AmountGross      float64
	IncomeAmount     float64
}

// Checkout opens a WAITING subscription and returns the provider's payment
// link for it.
func (m *SubscriptionManager) Checkout(ctx context.Context, userID, productID string, period int, method models.PaymentMethod) (*models.Subscription, *Checkout, error) {
	if period != models.PeriodMonthly && period != models.PeriodYearly {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidPeriod, period)
	}
	p, err := m.provider(method)
	if err != nil {
		return nil, nil, err
	}
	product, err := m.product(ctx, productID, models.ProductTypeSubscription)
	if err != nil {
		return nil, nil, err
	}
	ts, ok := p.(trialSupporter)
	trialCapable := ok && ts.SupportsTrial()

	var (
		sub       *models.Subscription
		recurring float64
	)
	err = m.transact(ctx, "subscription.checkout", func(ctx context.Context, tx store.Tx, fx *effects) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", userID, err)
		}
		currency := chargeCurrency(p, user)
		unit, ok := product.Price(currency)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPriceUnavailable, currency)
		}
		res := discount.Resolve(user.Discount, product.Discount, 0)
		amount := discount.Apply(unit*float64(period), res.Percent)
		recurring = discount.Apply(unit*float64(period), product.Discount)

		trial := false
		if product.Details.HasTrial && !user.HadSubscription && trialCapable {
			if price, ok := m.opts.TrialPrices[currency]; ok {
				trial = true
				amount = price
			}
		}
		if !trial {
			if err := m.checkMinimum(currency, amount); err != nil {
				return err
			}
		}

		id := uuid.NewString()
		sub = &models.Subscription{
			ID:                      id,
			UserID:                  user.ID,
			ProductID:               product.ID,
			Period:                  period,
			Status:                  models.SubscriptionStatusWaiting,
			Currency:                currency,
			Amount:                  amount,
			Discount:                res.Percent,
			UsedUserDiscount:        res.FromUser && !trial,
			IsTrial:                 trial,
			PaymentMethod:           method,
			ProviderPaymentChargeID: id,
		}
		return tx.CreateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, nil, err
	}

	req := CheckoutRequest{
		OrderID:         sub.ID,
		Kind:            OrderSubscription,
		UserID:          userID,
		Title:           product.Name,
		Amount:          sub.Amount,
		Currency:        sub.Currency,
		Recurring:       true,
		RecurringAmount: recurring,
		PeriodMonths:    period,
	}
	if sub.IsTrial {
		req.TrialDays = int(m.opts.TrialDuration / (24 * time.Hour))
	}
	checkout, err := p.CreateCheckout(ctx, req)
	if err != nil {
		m.failWaiting(ctx, sub.ID)
		return nil, nil, fmt.Errorf("create %s checkout: %w", method, err)
	}
	if checkout.ProviderChargeID != "" && checkout.ProviderChargeID != sub.ID {
		if err := m.bindCharge(ctx, sub.ID, checkout.ProviderChargeID); err != nil {
			return nil, nil, err
		}
		sub.ProviderPaymentChargeID = checkout.ProviderChargeID
	}
	return sub, checkout, nil
}

func (m *SubscriptionManager) bindCharge(ctx context.Context, subscriptionID, chargeID string) error {
	return m.transact(ctx, "subscription.bind_charge", func(ctx context.Context, tx store.Tx, fx *effects) error {
		sub, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != models.SubscriptionStatusWaiting {
			return nil
		}
		sub.ProviderPaymentChargeID = chargeID
		return tx.SaveSubscription(ctx, sub)
	})
}

func (m *SubscriptionManager) failWaiting(ctx context.Context, subscriptionID string) {
	err := m.transact(ctx, "subscription.fail", func(ctx context.Context, tx store.Tx, fx *effects) error {
		sub, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != models.SubscriptionStatusWaiting {
			return nil
		}
		sub.Status = models.SubscriptionStatusError
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		m.log.WithError(err).WithField("subscription_id", subscriptionID).Error("mark subscription as failed")
	}
}

// Create activates a WAITING subscription after its first successful charge.
func (m *SubscriptionManager) Create(ctx context.Context, subscriptionID string, a Activation) (*models.Subscription, error) {
	var out *models.Subscription
	err := m.transact(ctx, "subscription.create", func(ctx context.Context, tx store.Tx, fx *effects) error {
		sub, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription %s: %w", subscriptionID, err)
		}
		switch {
		case sub.Status == models.SubscriptionStatusWaiting:
		case sub.Status.IsActivated() || sub.Status == models.SubscriptionStatusFinished:
			return ErrDuplicateEvent
		default:
			return fmt.Errorf("%w: %s subscription %s cannot be activated", ErrInvalidTransition, sub.Status, sub.ID)
		}
		a.IsTrial = a.IsTrial || sub.IsTrial
		if err := m.activate(ctx, tx, fx, sub, a, false); err != nil {
			return err
		}
		out = sub
		return nil
	})
	return out, err
}

// activate moves sub to TRIAL or ACTIVE and points the user's entitlement at
// it. Any other current subscription of the user is cancelled first.
func (m *SubscriptionManager) activate(ctx context.Context, tx store.Tx, fx *effects, sub *models.Subscription, a Activation, renewal bool) error {
	now := m.now()
	product, err := m.catalog.GetProduct(ctx, sub.ProductID)
	if err != nil {
		return fmt.Errorf("get product %s: %w", sub.ProductID, err)
	}
	// the user row is read (and locked) before the subscriptions are listed
	user, err := tx.GetUser(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("get user %s: %w", sub.UserID, err)
	}
	if err := m.cancelOthers(ctx, tx, fx, sub.UserID, sub.ID); err != nil {
		return err
	}

	start := now
	if a.StartAt.After(now) {
		start = a.StartAt
	}
	next := models.SubscriptionStatusActive
	end := start.AddDate(0, sub.Period, 0)
	if a.IsTrial {
		next = models.SubscriptionStatusTrial
		end = start.Add(m.opts.TrialDuration)
	}
	if !sub.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, sub.Status, next)
	}
	sub.Status = next
	sub.IsTrial = a.IsTrial
	sub.StartDate = start
	sub.EndDate = end
	sub.IncomeAmount = netAmount(a.IncomeAmount, sub.Amount)
	if sub.ProviderPaymentChargeID == "" {
		sub.ProviderPaymentChargeID = a.ProviderChargeID
	}
	if a.ProviderMandateID != "" {
		sub.ProviderAutoPaymentChargeID = a.ProviderMandateID
	}
	if a.ProviderSubscriptionID != "" {
		sub.ProviderSubscriptionID = a.ProviderSubscriptionID
	}
	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	if user.AdditionalUsageQuota == nil {
		user.AdditionalUsageQuota = models.Quotas{}
	}
	for quota, n := range product.Details.BonusCredits {
		user.AdditionalUsageQuota.Add(quota, n)
	}
	user.SubscriptionID = sub.ID
	user.DailyLimits = product.Details.Limits.Clone()
	user.HadSubscription = true
	user.LastSubscriptionLimitUpdate = now
	if sub.UsedUserDiscount {
		user.Discount = 0
	}
	if err := tx.SaveUser(ctx, user); err != nil {
		return err
	}

	err = m.appendLedger(ctx, tx, fx, &models.Transaction{
		UserID:      sub.UserID,
		Type:        models.TransactionTypeIncome,
		ProductID:   sub.ProductID,
		Amount:      sub.Amount,
		ClearAmount: sub.IncomeAmount,
		Currency:    sub.Currency,
		Quantity:    1,
		Details: models.TransactionDetails{
			SubscriptionID:    sub.ID,
			ProviderChargeID:  a.ProviderChargeID,
			ProviderMandateID: sub.ProviderAutoPaymentChargeID,
			PaymentMethod:     sub.PaymentMethod,
			IsTrial:           sub.IsTrial,
		},
	})
	if err != nil {
		return err
	}

	kind := NotifySubscriptionActivated
	if renewal {
		kind = NotifySubscriptionRenewed
	}
	m.notify(fx, subscriptionNotification(kind, sub))
	return nil
}

// cancelOthers cancels every current subscription of the user except keepID
// and stops their provider auto-renew after commit. A paid row keeps its end
// date so it can back the entitlement again later; a trial ends now.
func (m *SubscriptionManager) cancelOthers(ctx context.Context, tx store.Tx, fx *effects, userID, keepID string) error {
	subs, err := tx.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return err
	}
	now := m.now()
	for i := range subs {
		other := &subs[i]
		if other.ID == keepID || !other.Status.IsCurrent() {
			continue
		}
		if other.Status == models.SubscriptionStatusTrial && other.EndDate.After(now) {
			other.EndDate = now
		}
		other.Status = models.SubscriptionStatusCanceled
		if err := tx.SaveSubscription(ctx, other); err != nil {
			return err
		}
		superseded := *other
		fx.after(func(ctx context.Context) { m.disableAutoRenew(ctx, superseded) })
		m.log.WithFields(logrus.Fields{
			"subscription_id": superseded.ID,
			"replaced_by":     keepID,
			"user_id":         userID,
		}).Info("subscription superseded")
	}
	return nil
}

func (m *SubscriptionManager) looksLikeTrial(sub *models.Subscription) bool {
	return sub.IsTrial || sub.EndDate.Sub(sub.StartDate) <= m.opts.TrialWindow
}

// Renew applies a successful recurring charge to the subscription it renews.
// A trial is extended in place; a paid period is closed and a new row opened.
func (m *SubscriptionManager) Renew(ctx context.Context, oldSubscriptionID string, charge RenewalCharge) (*models.Subscription, error) {
	var out *models.Subscription
	err := m.transact(ctx, "subscription.renew", func(ctx context.Context, tx store.Tx, fx *effects) error {
		seen, err := tx.HasTransactionForCharge(ctx, charge.ProviderChargeID)
		if err != nil {
			return err
		}
		if seen {
			return ErrDuplicateEvent
		}
		if _, err := tx.FindSubscriptionByChargeID(ctx, charge.ProviderChargeID); err == nil {
			return ErrDuplicateEvent
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		old, err := tx.GetSubscription(ctx, oldSubscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription %s: %w", oldSubscriptionID, err)
		}
		if !old.Status.IsActivated() {
			return fmt.Errorf("%w: cannot renew %s subscription %s", ErrInvalidTransition, old.Status, old.ID)
		}
		wasCanceled := old.Status == models.SubscriptionStatusCanceled

		now := m.now()
		gross := charge.AmountGross
		if gross <= 0 {
			gross = old.Amount
		}
		income := netAmount(charge.IncomeAmount, gross)

		if m.looksLikeTrial(old) {
			base := old.EndDate
			if base.Before(now) {
				base = now
			}
			old.Status = models.SubscriptionStatusActive
			old.IsTrial = false
			old.EndDate = base.AddDate(0, old.Period, 0)
			old.IncomeAmount = discount.Round(old.IncomeAmount + income)
			if err := tx.SaveSubscription(ctx, old); err != nil {
				return err
			}
			if err := m.pointUserAt(ctx, tx, fx, old); err != nil {
				return err
			}
			err = m.appendLedger(ctx, tx, fx, &models.Transaction{
				UserID:      old.UserID,
				Type:        models.TransactionTypeIncome,
				ProductID:   old.ProductID,
				Amount:      gross,
				ClearAmount: income,
				Currency:    old.Currency,
				Quantity:    1,
				Details: models.TransactionDetails{
					SubscriptionID:    old.ID,
					ProviderChargeID:  charge.ProviderChargeID,
					ProviderMandateID: old.ProviderAutoPaymentChargeID,
					PaymentMethod:     old.PaymentMethod,
				},
			})
			if err != nil {
				return err
			}
			m.notify(fx, subscriptionNotification(NotifySubscriptionRenewed, old))
			out = old
		} else {
			startAt := old.EndDate
			old.Status = models.SubscriptionStatusFinished
			if err := tx.SaveSubscription(ctx, old); err != nil {
				return err
			}
			next := &models.Subscription{
				ID:                          uuid.NewString(),
				UserID:                      old.UserID,
				ProductID:                   old.ProductID,
				Period:                      old.Period,
				Status:                      models.SubscriptionStatusWaiting,
				Currency:                    old.Currency,
				Amount:                      gross,
				Discount:                    old.Discount,
				PaymentMethod:               old.PaymentMethod,
				ProviderPaymentChargeID:     charge.ProviderChargeID,
				ProviderAutoPaymentChargeID: old.ProviderAutoPaymentChargeID,
				ProviderSubscriptionID:      old.ProviderSubscriptionID,
			}
			if err := tx.CreateSubscription(ctx, next); err != nil {
				return err
			}
			err := m.activate(ctx, tx, fx, next, Activation{
				IncomeAmount:     income,
				ProviderChargeID: charge.ProviderChargeID,
				StartAt:          startAt,
			}, true)
			if err != nil {
				return err
			}
			out = next
		}

		if wasCanceled {
			renewed := *out
			fx.after(func(ctx context.Context) { m.enableAutoRenew(ctx, renewed) })
		}
		return nil
	})
	return out, err
}

// pointUserAt makes sub the user's current subscription and applies its
// limits.
func (m *SubscriptionManager) pointUserAt(ctx context.Context, tx store.Tx, fx *effects, sub *models.Subscription) error {
	user, err := tx.GetUser(ctx, sub.UserID)
	if err != nil {
		return fmt.Errorf("get user %s: %w", sub.UserID, err)
	}
	if err := m.cancelOthers(ctx, tx, fx, sub.UserID, sub.ID); err != nil {
		return err
	}
	product, err := m.catalog.GetProduct(ctx, sub.ProductID)
	if err != nil {
		return fmt.Errorf("get product %s: %w", sub.ProductID, err)
	}
	user.SubscriptionID = sub.ID
	user.DailyLimits = product.Details.Limits.Clone()
	user.LastSubscriptionLimitUpdate = m.now()
	return tx.SaveUser(ctx, user)
}

// Unsubscribe stops auto-renew. A paid period stays usable until its end
// date; a trial ends immediately.
func (m *SubscriptionManager) Unsubscribe(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	return m.cancel(ctx, subscriptionID, true)
}

// MarkCanceled records a cancellation initiated on the provider side.
func (m *SubscriptionManager) MarkCanceled(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	return m.cancel(ctx, subscriptionID, false)
}

func (m *SubscriptionManager) cancel(ctx context.Context, subscriptionID string, stopProvider bool) (*models.Subscription, error) {
	var out *models.Subscription
	err := m.transact(ctx, "subscription.cancel", func(ctx context.Context, tx store.Tx, fx *effects) error {
		sub, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription %s: %w", subscriptionID, err)
		}
		out = sub
		if sub.Status == models.SubscriptionStatusCanceled {
			return nil
		}
		if !sub.Status.CanTransitionTo(models.SubscriptionStatusCanceled) {
			return fmt.Errorf("%w: cannot cancel %s subscription %s", ErrInvalidTransition, sub.Status, sub.ID)
		}

		wasTrial := sub.Status == models.SubscriptionStatusTrial
		now := m.now()
		sub.Status = models.SubscriptionStatusCanceled
		if wasTrial && sub.EndDate.After(now) {
			sub.EndDate = now
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if wasTrial {
			if err := m.recompute(ctx, tx, sub.UserID); err != nil {
				return err
			}
		}

		canceled := *sub
		if stopProvider {
			fx.after(func(ctx context.Context) { m.disableAutoRenew(ctx, canceled) })
		}
		m.notify(fx, subscriptionNotification(NotifySubscriptionCanceled, &canceled))
		return nil
	})
	return out, err
}

// Resubscribe turns auto-renew back on for a cancelled subscription whose
// period has not ended yet.
func (m *SubscriptionManager) Resubscribe(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var out *models.Subscription
	err := m.transact(ctx, "subscription.resubscribe", func(ctx context.Context, tx store.Tx, fx *effects) error {
		sub, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription %s: %w", subscriptionID, err)
		}
		out = sub
		if sub.Status.IsCurrent() {
			return nil
		}
		if sub.Status != models.SubscriptionStatusCanceled || !sub.EndDate.After(m.now()) {
			return fmt.Errorf("%w: cannot resume %s subscription %s", ErrInvalidTransition, sub.Status, sub.ID)
		}

		sub.Status = models.SubscriptionStatusActive
		if sub.IsTrial {
			sub.Status = models.SubscriptionStatusTrial
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if err := m.pointUserAt(ctx, tx, fx, sub); err != nil {
			return err
		}

		resumed := *sub
		fx.after(func(ctx context.Context) { m.enableAutoRenew(ctx, resumed) })
		m.notify(fx, subscriptionNotification(NotifySubscriptionResumed, &resumed))
		return nil
	})
	return out, err
}

// Expire finishes a subscription and falls the user back to their next valid
// subscription or the free tier.
func (m *SubscriptionManager) Expire(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var out *models.Subscription
	err := m.transact(ctx, "subscription.expire", func(ctx context.Context, tx store.Tx, fx *effects) error {
		sub, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription %s: %w", subscriptionID, err)
		}
		if sub.Status == models.SubscriptionStatusFinished {
			return ErrDuplicateEvent
		}
		if !sub.Status.CanTransitionTo(models.SubscriptionStatusFinished) {
			return fmt.Errorf("%w: cannot expire %s subscription %s", ErrInvalidTransition, sub.Status, sub.ID)
		}

		now := m.now()
		sub.Status = models.SubscriptionStatusFinished
		if sub.EndDate.After(now) {
			sub.EndDate = now
		}
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		if err := m.recompute(ctx, tx, sub.UserID); err != nil {
			return err
		}
		out = sub
		m.notify(fx, subscriptionNotification(NotifySubscriptionExpired, sub))
		return nil
	})
	return out, err
}

// Decline records a failed first charge.
func (m *SubscriptionManager) Decline(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var out *models.Subscription
	err := m.transact(ctx, "subscription.decline", func(ctx context.Context, tx store.Tx, fx *effects) error {
		sub, err := tx.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription %s: %w", subscriptionID, err)
		}
		if sub.Status == models.SubscriptionStatusDeclined {
			return ErrDuplicateEvent
		}
		if sub.Status != models.SubscriptionStatusWaiting {
			return fmt.Errorf("%w: cannot decline %s subscription %s", ErrInvalidTransition, sub.Status, sub.ID)
		}
		sub.Status = models.SubscriptionStatusDeclined
		if err := tx.SaveSubscription(ctx, sub); err != nil {
			return err
		}
		out = sub
		m.notify(fx, subscriptionNotification(NotifySubscriptionDeclined, sub))
		return nil
	})
	return out, err
}

// recompute derives the user's current subscription and daily limits from
// their rows: an ACTIVE or TRIAL row wins, then the activated row ending
// last, otherwise the free tier.
func (m *SubscriptionManager) recompute(ctx context.Context, tx store.Tx, userID string) error {
	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user %s: %w", userID, err)
	}
	subs, err := tx.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return err
	}
	now := m.now()
	var best *models.Subscription
	for i := range subs {
		s := &subs[i]
		if !s.Status.IsActivated() || !s.EndDate.After(now) {
			continue
		}
		switch {
		case best == nil:
			best = s
		case s.Status.IsCurrent() != best.Status.IsCurrent():
			if s.Status.IsCurrent() {
				best = s
			}
		case s.EndDate.After(best.EndDate):
			best = s
		}
	}

	if best == nil {
		user.SubscriptionID = ""
		user.DailyLimits = m.opts.FreeLimits.Clone()
	} else {
		product, err := m.catalog.GetProduct(ctx, best.ProductID)
		if err != nil {
			return fmt.Errorf("get product %s: %w", best.ProductID, err)
		}
		user.SubscriptionID = best.ID
		user.DailyLimits = product.Details.Limits.Clone()
	}
	user.LastSubscriptionLimitUpdate = now
	return tx.SaveUser(ctx, user)
}

// ListForUser returns the user's subscriptions, oldest first.
func (m *SubscriptionManager) ListForUser(ctx context.Context, userID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := m.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		subs, err = tx.ListUserSubscriptions(ctx, userID)
		return err
	})
	return subs, err
}

// Current returns the user's ACTIVE or TRIAL subscription.
func (m *SubscriptionManager) Current(ctx context.Context, userID string) (*models.Subscription, error) {
	subs, err := m.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].Status.IsCurrent() {
			return &subs[i], nil
		}
	}
	return nil, store.ErrNotFound
}

// EndingBefore lists subscriptions in the given statuses whose end date is
// before t, for the periodic jobs.
func (m *SubscriptionManager) EndingBefore(ctx context.Context, t time.Time, statuses ...models.SubscriptionStatus) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := m.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		subs, err = tx.ListSubscriptionsEndingBefore(ctx, statuses, t)
		return err
	})
	return subs, err
}

func subscriptionNotification(kind NotificationKind, sub *models.Subscription) Notification {
	return Notification{
		Kind:           kind,
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		ProductIDs:     []string{sub.ProductID},
		EndDate:        sub.EndDate,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		IsTrial:        sub.IsTrial,
	}
}
