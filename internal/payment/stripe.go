package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"neurobot/internal/billing"
	"neurobot/internal/models"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

const (
	stripeCheckoutCompleted      = "checkout.session.completed"
	stripeCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	stripeCheckoutExpired        = "checkout.session.expired"
	stripeCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
	stripeInvoicePaid            = "invoice.paid"
	stripeInvoicePaymentFailed   = "invoice.payment_failed"
	stripeSubscriptionDeleted    = "customer.subscription.deleted"
	stripeSubscriptionUpdated    = "customer.subscription.updated"

	billingReasonCycle = "subscription_cycle"
)

// Stripe adapts Stripe Checkout. Subscriptions are Stripe-managed: renewals
// arrive as invoice.paid for the Stripe subscription, which doubles as the
// mandate id.
type Stripe struct {
	sc            *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	fee           FeeSchedule
	log           logrus.FieldLogger
}

func NewStripe(secretKey, webhookSecret, successURL, cancelURL string, fee FeeSchedule, log logrus.FieldLogger) *Stripe {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Stripe{
		sc:            sc,
		webhookSecret: webhookSecret,
		successURL:    successURL,
		cancelURL:     cancelURL,
		fee:           fee,
		log:           log,
	}
}

func (s *Stripe) Method() models.PaymentMethod { return models.PaymentMethodStripe }

func (s *Stripe) SupportsTrial() bool { return true }

// VerifySignature checks the Stripe-Signature header against the endpoint
// secret.
func (s *Stripe) VerifySignature(payload []byte, header string) error {
	if s.webhookSecret == "" {
		return nil
	}
	_, err := webhook.ConstructEventWithOptions(payload, header, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (s *Stripe) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	currency := strings.ToLower(string(req.Currency))
	params := &stripe.CheckoutSessionParams{
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(req.OrderID),
		Metadata: map[string]string{
			metaOrderID: req.OrderID,
			metaKind:    string(req.Kind),
			metaUserID:  req.UserID,
		},
	}
	params.Context = ctx

	if !req.Recurring {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			oneTimeLine(req.Title, currency, req.Amount),
		}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(minorUnits(req.RecurringAmount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(req.Title)},
				Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
					Interval:      stripe.String(string(stripe.PriceRecurringIntervalMonth)),
					IntervalCount: stripe.Int64(int64(req.PeriodMonths)),
				},
			},
			Quantity: stripe.Int64(1),
		}}
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{metaOrderID: req.OrderID},
		}
		switch {
		case req.TrialDays > 0:
			params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
			params.Metadata[metaTrial] = "true"
			// the trial price is billed on the first invoice next to the
			// zero-amount trial period
			params.LineItems = append(params.LineItems, oneTimeLine(req.Title+" (trial)", currency, req.Amount))
		case req.Amount < req.RecurringAmount:
			coupon, err := s.sc.Coupons.New(&stripe.CouponParams{
				Params:    stripe.Params{Context: ctx},
				AmountOff: stripe.Int64(minorUnits(req.RecurringAmount - req.Amount)),
				Currency:  stripe.String(currency),
				Duration:  stripe.String(string(stripe.CouponDurationOnce)),
			})
			if err != nil {
				return nil, fmt.Errorf("create first period coupon: %w", err)
			}
			params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(coupon.ID)}}
		}
	}

	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &billing.Checkout{ProviderChargeID: sess.ID, URL: sess.URL}, nil
}

func oneTimeLine(title, currency string, amount float64) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:    stripe.String(currency),
			UnitAmount:  stripe.Int64(minorUnits(amount)),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(title)},
		},
		Quantity: stripe.Int64(1),
	}
}

func (s *Stripe) DisableAutoRenew(ctx context.Context, sub *models.Subscription) error {
	return s.setCancelAtPeriodEnd(ctx, sub, true)
}

func (s *Stripe) EnableAutoRenew(ctx context.Context, sub *models.Subscription) error {
	return s.setCancelAtPeriodEnd(ctx, sub, false)
}

func (s *Stripe) setCancelAtPeriodEnd(ctx context.Context, sub *models.Subscription, cancel bool) error {
	id := sub.ProviderSubscriptionID
	if id == "" {
		id = sub.ProviderAutoPaymentChargeID
	}
	if id == "" {
		return fmt.Errorf("subscription %s has no stripe subscription", sub.ID)
	}
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	if _, err := s.sc.Subscriptions.Update(id, params); err != nil {
		return fmt.Errorf("update stripe subscription %s: %w", id, err)
	}
	s.log.WithFields(logrus.Fields{"subscription_id": sub.ID, "stripe_subscription": id}).
		Debugf("stripe cancel_at_period_end=%t", cancel)
	return nil
}

// stripeRef decodes a field that is an id string, or an object with an id
// when expanded.
type stripeRef string

func (r *stripeRef) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*r = stripeRef(obj.ID)
		return nil
	}
	var id *string
	if err := json.Unmarshal(b, &id); err != nil {
		return err
	}
	if id != nil {
		*r = stripeRef(*id)
	}
	return nil
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type stripeSession struct {
	ID                string            `json:"id"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     stripeRef         `json:"payment_intent"`
	Invoice           stripeRef         `json:"invoice"`
	Subscription      stripeRef         `json:"subscription"`
}

type stripeInvoice struct {
	ID            string    `json:"id"`
	AmountPaid    int64     `json:"amount_paid"`
	Currency      string    `json:"currency"`
	BillingReason string    `json:"billing_reason"`
	Subscription  stripeRef `json:"subscription"`
}

type stripeSubscription struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
}

func (s *Stripe) Normalize(payload []byte) (billing.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return billing.PaymentEvent{}, fmt.Errorf("decode stripe event: %w", err)
	}
	ev := billing.PaymentEvent{Provider: models.PaymentMethodStripe, RawType: event.Type}

	switch event.Type {
	case stripeCheckoutCompleted, stripeCheckoutAsyncSucceeded, stripeCheckoutExpired, stripeCheckoutAsyncFailed:
		var sess stripeSession
		if err := json.Unmarshal(event.Data.Object, &sess); err != nil {
			return billing.PaymentEvent{}, fmt.Errorf("decode checkout session: %w", err)
		}
		switch event.Type {
		case stripeCheckoutExpired, stripeCheckoutAsyncFailed:
			ev.Kind = billing.EventFailed
		default:
			if sess.PaymentStatus != "paid" && sess.PaymentStatus != "no_payment_required" {
				// async methods settle with a later event
				return billing.PaymentEvent{}, billing.ErrIgnoredEvent
			}
			ev.Kind = billing.EventSucceeded
		}
		ev.CorrelationKey = sess.ID
		ev.OrderID = sess.Metadata[metaOrderID]
		if ev.OrderID == "" {
			ev.OrderID = sess.ClientReferenceID
		}
		ev.Currency = models.Currency(strings.ToUpper(sess.Currency))
		ev.IsTrialHint = sess.Metadata[metaTrial] == "true"
		ev.ProviderChargeID = firstNonEmpty(string(sess.PaymentIntent), string(sess.Invoice), sess.ID)
		ev.ProviderMandateID = string(sess.Subscription)
		ev.ProviderSubscriptionID = string(sess.Subscription)
		s.setAmounts(&ev, sess.AmountTotal)
		return ev, nil

	case stripeInvoicePaid, stripeInvoicePaymentFailed:
		var inv stripeInvoice
		if err := json.Unmarshal(event.Data.Object, &inv); err != nil {
			return billing.PaymentEvent{}, fmt.Errorf("decode invoice: %w", err)
		}
		// first invoices are settled through the checkout session; failed
		// cycle charges are retried by Stripe and end in subscription.deleted
		if inv.BillingReason != billingReasonCycle || event.Type == stripeInvoicePaymentFailed || inv.Subscription == "" {
			return billing.PaymentEvent{}, billing.ErrIgnoredEvent
		}
		ev.Kind = billing.EventSucceeded
		ev.Renewal = true
		ev.CorrelationKey = string(inv.Subscription)
		ev.ProviderChargeID = inv.ID
		ev.ProviderMandateID = string(inv.Subscription)
		ev.ProviderSubscriptionID = string(inv.Subscription)
		ev.Currency = models.Currency(strings.ToUpper(inv.Currency))
		s.setAmounts(&ev, inv.AmountPaid)
		return ev, nil

	case stripeSubscriptionDeleted, stripeSubscriptionUpdated:
		var sub stripeSubscription
		if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
			return billing.PaymentEvent{}, fmt.Errorf("decode subscription: %w", err)
		}
		if event.Type == stripeSubscriptionDeleted {
			ev.Kind = billing.EventFailed
		} else if sub.CancelAtPeriodEnd {
			ev.Kind = billing.EventCanceled
		} else {
			return billing.PaymentEvent{}, billing.ErrIgnoredEvent
		}
		ev.Renewal = true
		ev.CorrelationKey = sub.ID
		ev.ProviderMandateID = sub.ID
		ev.ProviderSubscriptionID = sub.ID
		ev.ProviderChargeID = event.ID
		return ev, nil
	}

	return billing.PaymentEvent{}, &billing.UnknownProviderEventError{
		Provider:       models.PaymentMethodStripe,
		EventType:      event.Type,
		CorrelationKey: event.ID,
		Reason:         "unsupported stripe event",
	}
}

func (s *Stripe) setAmounts(ev *billing.PaymentEvent, minor int64) {
	ev.AmountGross = float64(minor) / 100
	net := s.fee.Net(ev.AmountGross)
	ev.AmountNet = &net
}

func minorUnits(v float64) int64 {
	return int64(math.Round(v * 100))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
