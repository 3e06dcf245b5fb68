package models

import (
	"time"
)

type PackageStatus string

const (
	PackageStatusWaiting  PackageStatus = "WAITING"
	PackageStatusSuccess  PackageStatus = "SUCCESS"
	PackageStatusDeclined PackageStatus = "DECLINED"
	PackageStatusError    PackageStatus = "ERROR"
)

// Package is one purchased (or granted) usage package. A cart checkout opens
// several rows sharing the umbrella ProviderPaymentChargeID.
type Package struct {
	ID                      string        `gorm:"primaryKey;size:64"`
	UserID                  string        `gorm:"size:64;not null;index"`
	ProductID               string        `gorm:"size:64;not null"`
	Status                  PackageStatus `gorm:"size:16;not null;index"`
	Currency                Currency      `gorm:"size:8;not null"`
	Amount                  float64       `gorm:"not null;default:0"`
	IncomeAmount            float64       `gorm:"not null;default:0"`
	Quantity                int64         `gorm:"not null;default:1"`
	Discount                int           `gorm:"not null;default:0"`
	UsedUserDiscount        bool          `gorm:"not null;default:false"`
	PaymentMethod           PaymentMethod `gorm:"size:32"`
	ProviderPaymentChargeID string        `gorm:"size:255;index"`
	FromCart                bool          `gorm:"not null;default:false"`
	UntilAt                 *time.Time
	Version                 int64 `gorm:"not null;default:1"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
}
