package billing

import (
	"errors"
	"fmt"

	"neurobot/internal/models"
)

var (
	// ErrDuplicateEvent marks a provider event whose effects are already
	// committed. The reconciler treats it as success.
	ErrDuplicateEvent = errors.New("billing: duplicate event")
	// ErrIgnoredEvent is returned by Provider.Normalize for events that carry
	// nothing to reconcile (intermediate states, non-cycle invoices).
	ErrIgnoredEvent = errors.New("billing: ignored event")
	// ErrMalformedPayload wraps Normalize failures that are not events at all.
	ErrMalformedPayload = errors.New("billing: malformed provider payload")
	// ErrInvalidTransition means the event does not fit the row's state.
	ErrInvalidTransition = errors.New("billing: invalid state transition")

	ErrUnknownProvider    = errors.New("billing: unknown payment provider")
	ErrProductUnavailable = errors.New("billing: product unavailable")
	ErrPriceUnavailable   = errors.New("billing: product has no price in currency")
	ErrInvalidPeriod      = errors.New("billing: invalid subscription period")
	ErrInvalidQuantity    = errors.New("billing: quantity must be positive")
	ErrEmptyCart          = errors.New("billing: cart is empty")
	ErrOrderNotPayable    = errors.New("billing: order is not awaiting payment")
)

// TransientFailureError is returned when a unit kept conflicting after all
// retries. Webhook callers should answer with a retryable status.
type TransientFailureError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientFailureError) Error() string {
	return fmt.Sprintf("billing: %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientFailureError) Unwrap() error { return e.Err }

// UnknownProviderEventError is an event that cannot be matched to any row or
// has a type we do not handle. It is surfaced to operators.
type UnknownProviderEventError struct {
	Provider       models.PaymentMethod
	EventType      string
	CorrelationKey string
	Reason         string
}

func (e *UnknownProviderEventError) Error() string {
	return fmt.Sprintf("billing: unknown %s event %q (key %q): %s", e.Provider, e.EventType, e.CorrelationKey, e.Reason)
}

// MinimumAmountError rejects a checkout whose total is below the provider
// minimum for the currency.
type MinimumAmountError struct {
	Currency models.Currency
	Amount   float64
	Minimum  float64
}

func (e *MinimumAmountError) Error() string {
	return fmt.Sprintf("billing: amount %.2f %s is below the minimum %.2f", e.Amount, e.Currency, e.Minimum)
}

// InsufficientEntitlementError rejects a promo code redemption.
type InsufficientEntitlementError struct {
	Code   string
	Reason string
}

const (
	PromoReasonNotFound    = "not_found"
	PromoReasonExpired     = "expired"
	PromoReasonAlreadyUsed = "already_used"
)

func (e *InsufficientEntitlementError) Error() string {
	return fmt.Sprintf("billing: promo code %q rejected: %s", e.Code, e.Reason)
}

// IsTransient reports whether err is worth redelivering.
func IsTransient(err error) bool {
	var tf *TransientFailureError
	return errors.As(err, &tf)
}
