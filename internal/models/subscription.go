package models

import (
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionStatusWaiting  SubscriptionStatus = "WAITING"
	SubscriptionStatusTrial    SubscriptionStatus = "TRIAL"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusFinished SubscriptionStatus = "FINISHED"
	SubscriptionStatusDeclined SubscriptionStatus = "DECLINED"
	SubscriptionStatusError    SubscriptionStatus = "ERROR"
)

var subscriptionTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusWaiting:  {SubscriptionStatusTrial, SubscriptionStatusActive, SubscriptionStatusDeclined, SubscriptionStatusError},
	SubscriptionStatusTrial:    {SubscriptionStatusActive, SubscriptionStatusFinished, SubscriptionStatusCanceled},
	SubscriptionStatusActive:   {SubscriptionStatusCanceled, SubscriptionStatusFinished, SubscriptionStatusDeclined},
	SubscriptionStatusCanceled: {SubscriptionStatusFinished, SubscriptionStatusActive, SubscriptionStatusTrial},
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s SubscriptionStatus) CanTransitionTo(next SubscriptionStatus) bool {
	for _, allowed := range subscriptionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsCurrent reports ACTIVE or TRIAL; at most one such row exists per user.
func (s SubscriptionStatus) IsCurrent() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrial
}

// IsActivated reports whether the row was paid for (or granted) at some point
// and may still give access until its end date.
func (s SubscriptionStatus) IsActivated() bool {
	return s.IsCurrent() || s == SubscriptionStatusCanceled
}

type PaymentMethod string

const (
	PaymentMethodYooKassa      PaymentMethod = "YOOKASSA"
	PaymentMethodStripe        PaymentMethod = "STRIPE"
	PaymentMethodTelegramStars PaymentMethod = "TELEGRAM_STARS"
	PaymentMethodPromoCode     PaymentMethod = "PROMO_CODE"
	PaymentMethodGift          PaymentMethod = "GIFT"
)

const (
	PeriodMonthly = 1
	PeriodYearly  = 12
)

type Subscription struct {
	ID                          string             `gorm:"primaryKey;size:64"`
	UserID                      string             `gorm:"size:64;not null;index"`
	ProductID                   string             `gorm:"size:64;not null"`
	Period                      int                `gorm:"not null;default:1"` // months
	Status                      SubscriptionStatus `gorm:"size:16;not null;index"`
	Currency                    Currency           `gorm:"size:8;not null"`
	Amount                      float64            `gorm:"not null;default:0"`
	IncomeAmount                float64            `gorm:"not null;default:0"`
	Discount                    int                `gorm:"not null;default:0"`
	UsedUserDiscount            bool               `gorm:"not null;default:false"`
	IsTrial                     bool               `gorm:"not null;default:false"`
	PaymentMethod               PaymentMethod      `gorm:"size:32"`
	ProviderPaymentChargeID     string             `gorm:"size:255;index"`
	ProviderAutoPaymentChargeID string             `gorm:"size:255;index"`
	ProviderSubscriptionID      string             `gorm:"size:255"`
	StartDate                   time.Time
	EndDate                     time.Time `gorm:"index"`
	Version                     int64     `gorm:"not null;default:1"`
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}
