package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"neurobot/internal/models"
	"neurobot/internal/store"
)

// Reconciler applies normalized provider events to billing state. Every
// event is safe to deliver more than once.
type Reconciler struct {
	*core
	subs      *SubscriptionManager
	purchases *PurchaseManager
}

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeIgnored   = "ignored"
	outcomeUnknown   = "unknown"
	outcomeMismatch  = "mismatch"
	outcomeError     = "error"
)

// Handle normalizes a raw provider payload and applies it.
func (r *Reconciler) Handle(ctx context.Context, method models.PaymentMethod, payload []byte) error {
	p, err := r.provider(method)
	if err != nil {
		return err
	}
	ev, err := p.Normalize(payload)
	if err != nil {
		var unknown *UnknownProviderEventError
		switch {
		case errors.Is(err, ErrIgnoredEvent):
			r.metrics.PaymentEvent(method, "", outcomeIgnored)
			r.log.WithField("provider", method).WithError(err).Debug("provider event ignored")
			return nil
		case errors.As(err, &unknown):
			r.metrics.PaymentEvent(method, unknown.EventType, outcomeUnknown)
			r.reportUnknown(ctx, unknown)
			return err
		}
		r.metrics.PaymentEvent(method, "", outcomeError)
		return fmt.Errorf("normalize %s payload: %w: %w", method, ErrMalformedPayload, err)
	}
	return r.Apply(ctx, ev)
}

// Apply reconciles one normalized event.
func (r *Reconciler) Apply(ctx context.Context, ev PaymentEvent) error {
	log := r.log.WithFields(logrus.Fields{
		"provider":  ev.Provider,
		"kind":      ev.Kind,
		"renewal":   ev.Renewal,
		"key":       ev.CorrelationKey,
		"charge_id": ev.ProviderChargeID,
	})

	var err error
	if ev.Renewal {
		err = r.applyRenewal(ctx, ev)
	} else {
		err = r.applyFirstCharge(ctx, ev)
	}

	var unknown *UnknownProviderEventError
	switch {
	case err == nil:
		r.metrics.PaymentEvent(ev.Provider, string(ev.Kind), outcomeApplied)
		log.Info("payment event applied")
	case errors.Is(err, ErrDuplicateEvent):
		r.metrics.PaymentEvent(ev.Provider, string(ev.Kind), outcomeDuplicate)
		log.Debug("duplicate payment event")
		return nil
	case errors.As(err, &unknown):
		r.metrics.PaymentEvent(ev.Provider, string(ev.Kind), outcomeUnknown)
		r.reportUnknown(ctx, unknown)
	case errors.Is(err, ErrInvalidTransition):
		r.metrics.PaymentEvent(ev.Provider, string(ev.Kind), outcomeMismatch)
		log.WithError(err).Error("payment event does not match billing state")
		r.notifier.Alert(ctx, OperatorAlert{
			Reason:         "reconciliation mismatch",
			Provider:       ev.Provider,
			CorrelationKey: ev.CorrelationKey,
			Err:            err,
		})
	default:
		r.metrics.PaymentEvent(ev.Provider, string(ev.Kind), outcomeError)
		log.WithError(err).Error("apply payment event")
	}
	return err
}

func (r *Reconciler) reportUnknown(ctx context.Context, e *UnknownProviderEventError) {
	r.log.WithFields(logrus.Fields{
		"provider": e.Provider,
		"event":    e.EventType,
		"key":      e.CorrelationKey,
	}).Warn(e.Reason)
	r.notifier.Alert(ctx, OperatorAlert{
		Reason:         "unknown provider event: " + e.Reason,
		Provider:       e.Provider,
		CorrelationKey: e.CorrelationKey,
		Err:            e,
	})
}

type firstChargeTarget struct {
	sub  *models.Subscription
	pkgs []models.Package
}

// locate finds the rows a first-charge event refers to, trying the
// correlation key and then the echoed order id.
func (r *Reconciler) locate(ctx context.Context, ev PaymentEvent) (firstChargeTarget, error) {
	var target firstChargeTarget
	err := r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, key := range []string{ev.CorrelationKey, ev.OrderID} {
			if key == "" {
				continue
			}
			sub, err := tx.FindSubscriptionByChargeID(ctx, key)
			if err == nil {
				target.sub = sub
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
			pkgs, err := tx.FindPackagesByChargeID(ctx, key)
			if err != nil {
				return err
			}
			if len(pkgs) > 0 {
				target.pkgs = pkgs
				return nil
			}
		}
		return &UnknownProviderEventError{
			Provider:       ev.Provider,
			EventType:      ev.RawType,
			CorrelationKey: ev.CorrelationKey,
			Reason:         "no subscription or package matches the charge",
		}
	})
	return target, err
}

func (r *Reconciler) applyFirstCharge(ctx context.Context, ev PaymentEvent) error {
	target, err := r.locate(ctx, ev)
	if err != nil {
		return err
	}
	succeeded := ev.Kind == EventSucceeded
	if !succeeded && ev.Kind != EventFailed && ev.Kind != EventCanceled {
		return &UnknownProviderEventError{Provider: ev.Provider, EventType: ev.RawType, CorrelationKey: ev.CorrelationKey, Reason: "unsupported event kind " + string(ev.Kind)}
	}

	switch {
	case target.sub != nil:
		if !succeeded {
			_, err = r.subs.Decline(ctx, target.sub.ID)
			return err
		}
		_, err = r.subs.Create(ctx, target.sub.ID, Activation{
			IncomeAmount:           ev.IncomeAmount(),
			ProviderChargeID:       ev.ChargeID(),
			ProviderMandateID:      ev.ProviderMandateID,
			ProviderSubscriptionID: ev.ProviderSubscriptionID,
			IsTrial:                ev.IsTrialHint,
		})
		return err

	case len(target.pkgs) == 1 && !target.pkgs[0].FromCart:
		if !succeeded {
			_, err = r.purchases.DeclinePackages(ctx, target.pkgs[0].ProviderPaymentChargeID)
			return err
		}
		_, err = r.purchases.ActivatePackage(ctx, target.pkgs[0].ID, PackageActivation{
			IncomeAmount:     ev.IncomeAmount(),
			ProviderChargeID: ev.ChargeID(),
		})
		return err

	default:
		chargeID := target.pkgs[0].ProviderPaymentChargeID
		if !succeeded {
			_, err = r.purchases.DeclinePackages(ctx, chargeID)
			return err
		}
		_, err = r.purchases.SettleCart(ctx, chargeID, PackageActivation{
			IncomeAmount:     ev.IncomeAmount(),
			ProviderChargeID: ev.ChargeID(),
		})
		return err
	}
}

func (r *Reconciler) applyRenewal(ctx context.Context, ev PaymentEvent) error {
	var (
		current *models.Subscription
		seen    bool
	)
	err := r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		subs, err := tx.FindSubscriptionsByMandateID(ctx, ev.CorrelationKey)
		if err != nil {
			return err
		}
		for i := len(subs) - 1; i >= 0; i-- {
			if subs[i].Status.IsActivated() {
				current = &subs[i]
				break
			}
		}
		if len(subs) > 0 && current == nil && ev.Kind == EventSucceeded {
			seen, err = tx.HasTransactionForCharge(ctx, ev.ChargeID())
			return err
		}
		if len(subs) == 0 {
			return &UnknownProviderEventError{
				Provider:       ev.Provider,
				EventType:      ev.RawType,
				CorrelationKey: ev.CorrelationKey,
				Reason:         "no subscription holds the mandate",
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if current == nil {
		if ev.Kind != EventSucceeded || seen {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("%w: renewal for mandate %s has no live subscription", ErrInvalidTransition, ev.CorrelationKey)
	}

	switch ev.Kind {
	case EventSucceeded:
		_, err = r.subs.Renew(ctx, current.ID, RenewalCharge{
			ProviderChargeID: ev.ChargeID(),
			AmountGross:      ev.AmountGross,
			IncomeAmount:     ev.IncomeAmount(),
		})
	case EventFailed:
		_, err = r.subs.Expire(ctx, current.ID)
	case EventCanceled:
		_, err = r.subs.MarkCanceled(ctx, current.ID)
	default:
		err = &UnknownProviderEventError{Provider: ev.Provider, EventType: ev.RawType, CorrelationKey: ev.CorrelationKey, Reason: "unsupported event kind " + string(ev.Kind)}
	}
	return err
}

// PreCheckout confirms that an order is still awaiting payment. Native
// platform payments must be answered before the charge goes through.
func (r *Reconciler) PreCheckout(ctx context.Context, kind OrderKind, orderID string) error {
	return r.read(ctx, func(ctx context.Context, tx store.Tx) error {
		switch kind {
		case OrderSubscription:
			sub, err := tx.FindSubscriptionByChargeID(ctx, orderID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: subscription %s not found", ErrOrderNotPayable, orderID)
			}
			if err != nil {
				return err
			}
			if sub.Status != models.SubscriptionStatusWaiting {
				return fmt.Errorf("%w: subscription %s is %s", ErrOrderNotPayable, sub.ID, sub.Status)
			}
			return nil
		case OrderPackage, OrderCart:
			pkgs, err := tx.FindPackagesByChargeID(ctx, orderID)
			if err != nil {
				return err
			}
			if len(pkgs) == 0 {
				return fmt.Errorf("%w: order %s not found", ErrOrderNotPayable, orderID)
			}
			for _, p := range pkgs {
				if p.Status != models.PackageStatusWaiting {
					return fmt.Errorf("%w: package %s is %s", ErrOrderNotPayable, p.ID, p.Status)
				}
			}
			return nil
		}
		return fmt.Errorf("%w: unknown order kind %q", ErrOrderNotPayable, kind)
	})
}
