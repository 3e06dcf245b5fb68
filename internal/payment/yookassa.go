package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"neurobot/internal/billing"
	"neurobot/internal/models"
)

type Client struct {
	ShopID     string
	SecretKey  string
	APIURL     string
	HTTPClient *http.Client
}

func NewClient(shopID, secretKey string) *Client {
	return &Client{
		ShopID:    shopID,
		SecretKey: secretKey,
		APIURL:    "https://api.yookassa.ru/v3",
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreatePayment posts a payment. An empty idempotenceKey gets a random one.
func (c *Client) CreatePayment(ctx context.Context, reqBody CreatePaymentRequest, idempotenceKey string) (*PaymentResponse, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/payments", c.APIURL), bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if idempotenceKey == "" {
		idempotenceKey = uuid.New().String()
	}
	req.Header.Set("Idempotence-Key", idempotenceKey)
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.ShopID, c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}

	var paymentResponse PaymentResponse
	if err := json.Unmarshal(respBody, &paymentResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &paymentResponse, nil
}

// YooKassa adapts the YooKassa API. Recurring payments save the card and
// later charges are initiated by us against the saved method, so auto-renew
// is a local decision.
type YooKassa struct {
	Client    *Client
	ReturnURL string
	Fee       FeeSchedule
	Log       logrus.FieldLogger
}

func NewYooKassa(client *Client, returnURL string, fee FeeSchedule, log logrus.FieldLogger) *YooKassa {
	return &YooKassa{Client: client, ReturnURL: returnURL, Fee: fee, Log: log}
}

func (y *YooKassa) Method() models.PaymentMethod { return models.PaymentMethodYooKassa }

func (y *YooKassa) SupportsTrial() bool { return true }

func (y *YooKassa) CreateCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.Checkout, error) {
	metadata := map[string]string{
		metaOrderID: req.OrderID,
		metaKind:    string(req.Kind),
		metaUserID:  req.UserID,
	}
	if req.TrialDays > 0 {
		metadata[metaTrial] = "true"
	}

	resp, err := y.Client.CreatePayment(ctx, CreatePaymentRequest{
		Amount:            formatAmount(req.Amount, req.Currency),
		Capture:           true,
		Confirmation:      &Confirmation{Type: "redirect", ReturnURL: y.ReturnURL},
		Description:       req.Title,
		Metadata:          metadata,
		SavePaymentMethod: req.Recurring,
	}, req.OrderID)
	if err != nil {
		return nil, err
	}
	return &billing.Checkout{ProviderChargeID: resp.ID, URL: resp.Confirmation.ConfirmationURL}, nil
}

// ChargeRenewal charges the saved payment method of sub. The idempotence key
// is bound to the period being paid for, so a retried call never charges
// twice.
func (y *YooKassa) ChargeRenewal(ctx context.Context, sub *models.Subscription, amount float64) (*PaymentResponse, error) {
	if sub.ProviderAutoPaymentChargeID == "" {
		return nil, fmt.Errorf("subscription %s has no saved payment method", sub.ID)
	}
	key := fmt.Sprintf("renewal-%s-%s", sub.ID, sub.EndDate.UTC().Format("20060102"))
	return y.Client.CreatePayment(ctx, CreatePaymentRequest{
		Amount:          formatAmount(amount, sub.Currency),
		Capture:         true,
		Description:     "Subscription renewal",
		PaymentMethodID: sub.ProviderAutoPaymentChargeID,
		Metadata: map[string]string{
			metaType:      typeRenewal,
			metaSubID:     sub.ID,
			metaMandateID: sub.ProviderAutoPaymentChargeID,
			metaUserID:    sub.UserID,
		},
	}, key)
}

func (y *YooKassa) DisableAutoRenew(ctx context.Context, sub *models.Subscription) error {
	y.Log.WithField("subscription_id", sub.ID).Debug("yookassa auto-renew stopped locally")
	return nil
}

func (y *YooKassa) EnableAutoRenew(ctx context.Context, sub *models.Subscription) error {
	y.Log.WithField("subscription_id", sub.ID).Debug("yookassa auto-renew resumed locally")
	return nil
}

func (y *YooKassa) Normalize(payload []byte) (billing.PaymentEvent, error) {
	var notification WebhookNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return billing.PaymentEvent{}, fmt.Errorf("decode yookassa notification: %w", err)
	}
	obj := notification.Object

	ev := billing.PaymentEvent{
		Provider:         models.PaymentMethodYooKassa,
		RawType:          notification.Event,
		CorrelationKey:   obj.ID,
		OrderID:          obj.Metadata[metaOrderID],
		Currency:         models.Currency(obj.Amount.Currency),
		ProviderChargeID: obj.ID,
		IsTrialHint:      obj.Metadata[metaTrial] == "true",
	}
	switch notification.Event {
	case yooEventSucceeded:
		ev.Kind = billing.EventSucceeded
	case yooEventCanceled:
		ev.Kind = billing.EventFailed
	case yooEventWaitingForCapture:
		// payments are created with capture=true
		return billing.PaymentEvent{}, billing.ErrIgnoredEvent
	default:
		return billing.PaymentEvent{}, &billing.UnknownProviderEventError{
			Provider:       models.PaymentMethodYooKassa,
			EventType:      notification.Event,
			CorrelationKey: obj.ID,
			Reason:         "unsupported yookassa event",
		}
	}

	gross, err := parseAmount(obj.Amount)
	if err != nil {
		return billing.PaymentEvent{}, err
	}
	ev.AmountGross = gross
	if obj.IncomeAmount != nil {
		net, err := parseAmount(*obj.IncomeAmount)
		if err != nil {
			return billing.PaymentEvent{}, err
		}
		ev.AmountNet = &net
	} else {
		net := y.Fee.Net(gross)
		ev.AmountNet = &net
	}
	if obj.PaymentMethod.Saved {
		ev.ProviderMandateID = obj.PaymentMethod.ID
	}

	if obj.Metadata[metaType] == typeRenewal {
		ev.Renewal = true
		ev.CorrelationKey = obj.Metadata[metaMandateID]
		if ev.CorrelationKey == "" {
			ev.CorrelationKey = obj.PaymentMethod.ID
		}
	}
	return ev, nil
}

func formatAmount(v float64, currency models.Currency) Amount {
	return Amount{Value: strconv.FormatFloat(v, 'f', 2, 64), Currency: string(currency)}
}

func parseAmount(a Amount) (float64, error) {
	v, err := strconv.ParseFloat(a.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", a.Value, err)
	}
	return v, nil
}
