// Package ledger appends financial transactions. Entries are never updated or
// deleted; reporting reads them as the source of truth.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"neurobot/internal/models"
)

var ErrInvalidTransaction = errors.New("ledger: invalid transaction")

// Writer is the append side of the entitlement store.
type Writer interface {
	CreateTransaction(ctx context.Context, t *models.Transaction) error
}

// Validate checks the invariants of a single entry.
func Validate(t *models.Transaction) error {
	switch {
	case t.UserID == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidTransaction)
	case t.Type != models.TransactionTypeIncome && t.Type != models.TransactionTypeExpense:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, t.Type)
	case t.Currency == "":
		return fmt.Errorf("%w: currency is required", ErrInvalidTransaction)
	case t.Amount < 0 || t.ClearAmount < 0:
		return fmt.Errorf("%w: negative amount", ErrInvalidTransaction)
	case t.ClearAmount > t.Amount:
		return fmt.Errorf("%w: net %.2f exceeds gross %.2f", ErrInvalidTransaction, t.ClearAmount, t.Amount)
	case t.Quantity < 0:
		return fmt.Errorf("%w: negative quantity", ErrInvalidTransaction)
	}
	return nil
}

// Append validates t, assigns its id and timestamp and writes it.
func Append(ctx context.Context, w Writer, t *models.Transaction) error {
	if err := Validate(t); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.ProviderChargeID == "" {
		t.ProviderChargeID = t.Details.ProviderChargeID
	}
	if err := w.CreateTransaction(ctx, t); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}
