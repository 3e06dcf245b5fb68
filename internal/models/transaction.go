package models

import (
	"time"
)

type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "INCOME"
	TransactionTypeExpense TransactionType = "EXPENSE"
)

type TransactionDetails struct {
	SubscriptionID    string        `json:"subscription_id,omitempty"`
	PackageID         string        `json:"package_id,omitempty"`
	ProviderChargeID  string        `json:"provider_charge_id,omitempty"`
	ProviderMandateID string        `json:"provider_mandate_id,omitempty"`
	PaymentMethod     PaymentMethod `json:"payment_method,omitempty"`
	IsTrial           bool          `json:"is_trial,omitempty"`
	IsSuggestion      bool          `json:"is_suggestion,omitempty"`
	IsGift            bool          `json:"is_gift,omitempty"`
}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID               string             `gorm:"primaryKey;size:64"`
	UserID           string             `gorm:"size:64;not null;index"`
	Type             TransactionType    `gorm:"size:16;not null"`
	ProductID        string             `gorm:"size:64"`
	Amount           float64            `gorm:"not null;default:0"`
	ClearAmount      float64            `gorm:"not null;default:0"`
	Currency         Currency           `gorm:"size:8;not null"`
	Quantity         int64              `gorm:"not null;default:1"`
	ProviderChargeID string             `gorm:"size:255;index"`
	Details          TransactionDetails `gorm:"serializer:json"`
	CreatedAt        time.Time
}
