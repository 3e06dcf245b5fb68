package models

import (
	"time"
)

// UnlimitedQuota marks a daily allowance without an upper bound.
const UnlimitedQuota int64 = -1

type Currency string

const (
	CurrencyRUB Currency = "RUB"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyXTR Currency = "XTR" // Telegram Stars
)

// Quotas maps a quota name (per-feature counter) to its allowance.
type Quotas map[string]int64

// Clone returns an independent copy.
func (q Quotas) Clone() Quotas {
	if q == nil {
		return Quotas{}
	}
	out := make(Quotas, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// Add increases quota by n. Unlimited quotas stay unlimited.
func (q Quotas) Add(quota string, n int64) {
	if q[quota] == UnlimitedQuota {
		return
	}
	q[quota] += n
}

type User struct {
	ID                          string   `gorm:"primaryKey;size:64"`
	Currency                    Currency `gorm:"size:8;not null;default:'RUB'"`
	Discount                    int      `gorm:"not null;default:0"`
	SubscriptionID              string   `gorm:"size:64;index"` // weak reference, rebuildable
	DailyLimits                 Quotas   `gorm:"serializer:json"`
	AdditionalUsageQuota        Quotas   `gorm:"serializer:json"`
	HadSubscription             bool     `gorm:"not null;default:false"`
	LastSubscriptionLimitUpdate time.Time
	Version                     int64 `gorm:"not null;default:1"`
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}
