package bot

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neurobot/internal/billing"
	"neurobot/internal/models"
)

func TestParseSubscribeData(t *testing.T) {
	productID, period, method, err := parseSubscribeData("pro:12:xtr")
	require.NoError(t, err)
	assert.Equal(t, "pro", productID)
	assert.Equal(t, 12, period)
	assert.Equal(t, models.PaymentMethodTelegramStars, method)

	for _, data := range []string{"pro:12", "pro:x:yk", "pro:1:paypal"} {
		_, _, _, err := parseSubscribeData(data)
		assert.Error(t, err, data)
	}
}

func TestMethodCodesRoundTrip(t *testing.T) {
	for m := range methodCodes {
		got, ok := methodFromCode(methodCode(m))
		assert.True(t, ok)
		assert.Equal(t, m, got)
	}
	_, ok := methodFromCode("")
	assert.False(t, ok)
}

func TestCallbackDataFitsTelegramLimit(t *testing.T) {
	id := "0b6c2f1e-7d4a-4f3e-9c1b-2a5d8e7f6a90"
	for _, data := range []string{
		cbSubscribe + "subscription_premium_plus:12:xtr",
		cbUnsubscribe + id,
		cbResubscribe + id,
		cbPackageBuy + "package_tokens_1000000:xtr",
	} {
		assert.LessOrEqual(t, len(data), 64, data)
	}
}

func TestErrorText(t *testing.T) {
	assert.Equal(t, "❌ Минимальная сумма оплаты: 1.00₽.",
		errorText(&billing.MinimumAmountError{Currency: models.CurrencyRUB, Amount: 0.5, Minimum: 1}))
	assert.Equal(t, "❌ Вы уже использовали этот промокод.",
		errorText(fmt.Errorf("redeem: %w", &billing.InsufficientEntitlementError{Code: "X", Reason: billing.PromoReasonAlreadyUsed})))
	assert.Equal(t, "❌ Промокод не найден.",
		errorText(&billing.InsufficientEntitlementError{Reason: billing.PromoReasonNotFound}))
	assert.Equal(t, "🛒 Корзина пуста.", errorText(billing.ErrEmptyCart))
	assert.Equal(t, "⏳ Сервис занят, попробуйте ещё раз через минуту.",
		errorText(&billing.TransientFailureError{Op: "cart.checkout", Attempts: 5}))
	assert.Equal(t, "❌ Произошла ошибка. Попробуйте позже.", errorText(fmt.Errorf("boom")))
}

func TestProfileText(t *testing.T) {
	user := &models.User{
		ID:                   "42",
		Discount:             10,
		DailyLimits:          models.Quotas{"images": 10, "gpt": models.UnlimitedQuota},
		AdditionalUsageQuota: models.Quotas{"gpt_tokens": 500},
	}
	sub := &models.Subscription{Status: models.SubscriptionStatusCanceled, EndDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}

	text := profileText(42, user, sub, "Pro")
	assert.Contains(t, text, "ID: 42")
	assert.Contains(t, text, "Pro (⏸ автопродление отключено)")
	assert.Contains(t, text, "01.03.2026")
	assert.Contains(t, text, "Персональная скидка: 10%")
	assert.Contains(t, text, "• gpt: ∞\n• images: 10")
	assert.Contains(t, text, "• gpt_tokens: 500")

	assert.Contains(t, profileText(42, &models.User{}, nil, ""), "Подписка: ❌ нет")
}
