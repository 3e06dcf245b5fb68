package models

type ProductType string

const (
	ProductTypeSubscription ProductType = "SUBSCRIPTION"
	ProductTypePackage      ProductType = "PACKAGE"
)

type ProductDetails struct {
	// Quota credited by a package purchase (one unit per purchased quantity).
	Quota        string `json:"quota,omitempty"`
	Quantity     int64  `json:"quantity,omitempty"` // gift grant size
	BonusCredits Quotas `json:"bonus_credits,omitempty"`
	Limits       Quotas `json:"limits,omitempty"`
	IsRecurring  bool   `json:"is_recurring,omitempty"`
	PeriodMonths int    `json:"period_months,omitempty"` // recurring package validity, 1 when unset
	HasTrial     bool   `json:"has_trial,omitempty"`
	IsGift       bool   `json:"is_gift,omitempty"`
}

// Product is read-only for the billing engine.
type Product struct {
	ID       string               `gorm:"primaryKey;size:64"`
	Name     string               `gorm:"size:255"`
	Type     ProductType          `gorm:"size:16;not null;index"`
	Category string               `gorm:"size:64"`
	Prices   map[Currency]float64 `gorm:"serializer:json"`
	Discount int                  `gorm:"not null;default:0"`
	Details  ProductDetails       `gorm:"serializer:json"`
	IsActive bool                 `gorm:"not null;default:true"`
}

// Price returns the unit price in the given currency.
func (p Product) Price(c Currency) (float64, bool) {
	v, ok := p.Prices[c]
	return v, ok
}
