package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurobot/internal/models"
)

type memWriter struct {
	rows []models.Transaction
}

func (w *memWriter) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	w.rows = append(w.rows, *t)
	return nil
}

func validIncome() *models.Transaction {
	return &models.Transaction{
		UserID:      "u1",
		Type:        models.TransactionTypeIncome,
		ProductID:   "p1",
		Amount:      100,
		ClearAmount: 96.5,
		Currency:    models.CurrencyRUB,
		Quantity:    1,
		Details:     models.TransactionDetails{ProviderChargeID: "ch_1"},
	}
}

func TestAppend_AssignsIDAndChargeColumn(t *testing.T) {
	w := &memWriter{}
	tr := validIncome()

	require.NoError(t, Append(context.Background(), w, tr))
	require.Len(t, w.rows, 1)
	assert.NotEmpty(t, w.rows[0].ID)
	assert.False(t, w.rows[0].CreatedAt.IsZero())
	assert.Equal(t, "ch_1", w.rows[0].ProviderChargeID)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*models.Transaction){
		"missing user":     func(t *models.Transaction) { t.UserID = "" },
		"unknown type":     func(t *models.Transaction) { t.Type = "REFUND" },
		"missing currency": func(t *models.Transaction) { t.Currency = "" },
		"negative amount":  func(t *models.Transaction) { t.Amount = -1 },
		"net above gross":  func(t *models.Transaction) { t.ClearAmount = 101 },
		"negative qty":     func(t *models.Transaction) { t.Quantity = -2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			tr := validIncome()
			mutate(tr)
			assert.ErrorIs(t, Validate(tr), ErrInvalidTransaction)
		})
	}

	zero := validIncome()
	zero.Amount, zero.ClearAmount = 0, 0
	assert.NoError(t, Validate(zero), "gift grants are zero-amount entries")
}

func TestAppend_RejectsInvalid(t *testing.T) {
	w := &memWriter{}
	tr := validIncome()
	tr.Type = ""

	assert.ErrorIs(t, Append(context.Background(), w, tr), ErrInvalidTransaction)
	assert.Empty(t, w.rows)
}
