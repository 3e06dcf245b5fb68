package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/mymmrac/telego"

	"neurobot/internal/billing"
	"neurobot/internal/models"
)

// starSubscriptionPeriod is the only period Telegram accepts for star
// subscriptions (30 days).
const starSubscriptionPeriod = 2592000

// starsAPI is the part of *telego.Bot used for Stars payments.
type starsAPI interface {
	CreateInvoiceLink(ctx context.Context, params *telego.CreateInvoiceLinkParams) (*string, error)
	EditUserStarSubscription(ctx context.Context, params *telego.EditUserStarSubscriptionParams) error
}

// Stars is the platform-native provider. The order id travels in the invoice
// payload; recurring star subscriptions keep the first order id as mandate so
// every later successful_payment maps back to the same chain.
type Stars struct {
	api starsAPI
	fee FeeSchedule
}

func NewStars(api starsAPI, fee FeeSchedule) *Stars {
	return &Stars{api: api, fee: fee}
}

func (s *Stars) Method() models.PaymentMethod { return models.PaymentMethodTelegramStars }

// SettlementCurrency forces invoices into XTR whatever the user's currency.
func (s *Stars) SettlementCurrency() models.Currency { return models.CurrencyXTR }

func (s *Stars) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	params := &telego.CreateInvoiceLinkParams{
		Title:       req.Title,
		Description: req.Title,
		Payload:     billing.InvoicePayload(req.Kind, req.OrderID),
		Currency:    string(models.CurrencyXTR),
		Prices: []telego.LabeledPrice{
			{Label: req.Title, Amount: stars(req.Amount)},
		},
	}
	// star subscriptions are monthly only; longer periods are sold as one-off
	if req.Recurring && req.PeriodMonths == models.PeriodMonthly {
		params.SubscriptionPeriod = starSubscriptionPeriod
	}
	link, err := s.api.CreateInvoiceLink(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create invoice link: %w", err)
	}
	if link == nil {
		return nil, fmt.Errorf("create invoice link: empty response")
	}
	return &billing.Checkout{ProviderChargeID: req.OrderID, URL: *link}, nil
}

func (s *Stars) DisableAutoRenew(ctx context.Context, sub *models.Subscription) error {
	return s.edit(ctx, sub, true)
}

func (s *Stars) EnableAutoRenew(ctx context.Context, sub *models.Subscription) error {
	return s.edit(ctx, sub, false)
}

func (s *Stars) edit(ctx context.Context, sub *models.Subscription, cancel bool) error {
	if sub.ProviderSubscriptionID == "" {
		// one-off star payment, nothing recurs
		return nil
	}
	userID, err := strconv.ParseInt(sub.UserID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram user id %q: %w", sub.UserID, err)
	}
	return s.api.EditUserStarSubscription(ctx, &telego.EditUserStarSubscriptionParams{
		UserID:                  userID,
		TelegramPaymentChargeID: sub.ProviderSubscriptionID,
		IsCanceled:              cancel,
	})
}

// starsPayment mirrors the Bot API SuccessfulPayment object.
type starsPayment struct {
	Currency                string `json:"currency"`
	TotalAmount             int    `json:"total_amount"`
	InvoicePayload          string `json:"invoice_payload"`
	TelegramPaymentChargeID string `json:"telegram_payment_charge_id"`
	ProviderPaymentChargeID string `json:"provider_payment_charge_id"`
	IsRecurring             bool   `json:"is_recurring"`
	IsFirstRecurring        bool   `json:"is_first_recurring"`
}

func (s *Stars) Normalize(payload []byte) (billing.PaymentEvent, error) {
	var p starsPayment
	if err := json.Unmarshal(payload, &p); err != nil {
		return billing.PaymentEvent{}, fmt.Errorf("decode successful payment: %w", err)
	}
	kind, orderID, err := billing.ParseInvoicePayload(p.InvoicePayload)
	if err != nil {
		return billing.PaymentEvent{}, &billing.UnknownProviderEventError{
			Provider:       models.PaymentMethodTelegramStars,
			EventType:      "successful_payment",
			CorrelationKey: p.TelegramPaymentChargeID,
			Reason:         err.Error(),
		}
	}
	gross := float64(p.TotalAmount)
	net := s.fee.Net(gross)
	ev := billing.PaymentEvent{
		Provider:         models.PaymentMethodTelegramStars,
		Kind:             billing.EventSucceeded,
		RawType:          "successful_payment",
		CorrelationKey:   orderID,
		OrderID:          orderID,
		AmountGross:      gross,
		AmountNet:        &net,
		Currency:         models.Currency(p.Currency),
		ProviderChargeID: p.TelegramPaymentChargeID,
	}
	if kind == billing.OrderSubscription && p.IsRecurring {
		ev.ProviderMandateID = orderID
		if p.IsFirstRecurring {
			ev.ProviderSubscriptionID = p.TelegramPaymentChargeID
		} else {
			ev.Renewal = true
		}
	}
	return ev, nil
}

func stars(amount float64) int {
	n := int(math.Round(amount))
	if n < 1 {
		return 1
	}
	return n
}
