package models

import (
	"time"
)

type PromoCodeType string

const (
	PromoCodeTypeSubscription PromoCodeType = "SUBSCRIPTION"
	PromoCodeTypePackage      PromoCodeType = "PACKAGE"
	PromoCodeTypeDiscount     PromoCodeType = "DISCOUNT"
)

type PromoCodeDetails struct {
	ProductID string `json:"product_id,omitempty"`
	Period    int    `json:"period,omitempty"` // months, subscription codes
	Quantity  int64  `json:"quantity,omitempty"`
	Discount  int    `json:"discount,omitempty"`
}

type PromoCode struct {
	ID        string           `gorm:"primaryKey;size:64"`
	Code      string           `gorm:"size:64;uniqueIndex;not null"`
	Type      PromoCodeType    `gorm:"size:16;not null"`
	Details   PromoCodeDetails `gorm:"serializer:json"`
	UntilAt   time.Time
	CreatedAt time.Time
}

// UsedPromoCode enforces single use per user.
type UsedPromoCode struct {
	UserID      string `gorm:"primaryKey;size:64"`
	PromoCodeID string `gorm:"primaryKey;size:64"`
	CreatedAt   time.Time
}
