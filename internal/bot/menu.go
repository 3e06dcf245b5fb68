package bot

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"neurobot/internal/billing"
	"neurobot/internal/models"
)

// Callback data. Prefixed entries carry arguments after the colon and must
// stay under Telegram's 64 byte limit.
const (
	cbMenu        = "menu"
	cbProfile     = "profile"
	cbPlans       = "plans"
	cbPackages    = "packages"
	cbCart        = "cart"
	cbPromo       = "promo"
	cbPlan        = "plan:"
	cbPeriod      = "period:"
	cbSubscribe   = "sub:"
	cbUnsubscribe = "unsub:"
	cbResubscribe = "resub:"
	cbPackage     = "pkg:"
	cbPackageBuy  = "pkgbuy:"
	cbCartAdd     = "cartadd:"
	cbCartRemove  = "cartrm:"
	cbCartPay     = "cartpay:"
)

var methodCodes = map[models.PaymentMethod]string{
	models.PaymentMethodYooKassa:      "yk",
	models.PaymentMethodStripe:        "st",
	models.PaymentMethodTelegramStars: "xtr",
}

func methodCode(m models.PaymentMethod) string { return methodCodes[m] }

func methodFromCode(code string) (models.PaymentMethod, bool) {
	for m, c := range methodCodes {
		if c == code {
			return m, true
		}
	}
	return "", false
}

func methodLabel(m models.PaymentMethod) string {
	switch m {
	case models.PaymentMethodYooKassa:
		return "💳 Картой (ЮKassa)"
	case models.PaymentMethodStripe:
		return "💳 Card (Stripe)"
	case models.PaymentMethodTelegramStars:
		return "⭐ Telegram Stars"
	}
	return string(m)
}

func mainMenu() *telego.InlineKeyboardMarkup {
	return tu.InlineKeyboard(
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("👤 Личный кабинет").WithCallbackData(cbProfile),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🚀 Подписка").WithCallbackData(cbPlans),
			tu.InlineKeyboardButton("📦 Пакеты").WithCallbackData(cbPackages),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🛒 Корзина").WithCallbackData(cbCart),
			tu.InlineKeyboardButton("🎟 Промокод").WithCallbackData(cbPromo),
		),
	)
}

// parseSubscribeData parses "<product>:<months>:<method code>".
func parseSubscribeData(data string) (string, int, models.PaymentMethod, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("malformed callback %q", data)
	}
	period, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, "", fmt.Errorf("malformed period %q", parts[1])
	}
	method, ok := methodFromCode(parts[2])
	if !ok {
		return "", 0, "", fmt.Errorf("unknown payment method %q", parts[2])
	}
	return parts[0], period, method, nil
}

func profileText(telegramID int64, user *models.User, sub *models.Subscription, productName string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "👤 Личный кабинет:\n\n🔹 ID: %d", telegramID)

	if sub == nil {
		sb.WriteString("\n🔹 Подписка: ❌ нет")
	} else {
		status := "✅ активна"
		switch sub.Status {
		case models.SubscriptionStatusTrial:
			status = "🎉 пробный период"
		case models.SubscriptionStatusCanceled:
			status = "⏸ автопродление отключено"
		}
		fmt.Fprintf(&sb, "\n🔹 Подписка: %s (%s)\n🔹 Действует до: %s", productName, status, sub.EndDate.Format("02.01.2006"))
	}
	if user.Discount > 0 {
		fmt.Fprintf(&sb, "\n🔹 Персональная скидка: %d%%", user.Discount)
	}

	if len(user.DailyLimits) > 0 {
		sb.WriteString("\n\n📊 Дневные лимиты:")
		writeQuotas(&sb, user.DailyLimits)
	}
	if len(user.AdditionalUsageQuota) > 0 {
		sb.WriteString("\n\n📦 Дополнительно:")
		writeQuotas(&sb, user.AdditionalUsageQuota)
	}
	return sb.String()
}

func writeQuotas(sb *strings.Builder, q models.Quotas) {
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if q[name] == models.UnlimitedQuota {
			fmt.Fprintf(sb, "\n• %s: ∞", name)
			continue
		}
		fmt.Fprintf(sb, "\n• %s: %d", name, q[name])
	}
}

func errorText(err error) string {
	var minimum *billing.MinimumAmountError
	var promo *billing.InsufficientEntitlementError
	switch {
	case err == nil:
		return "❌ Действие недоступно."
	case errors.As(err, &minimum):
		return fmt.Sprintf("❌ Минимальная сумма оплаты: %s.", formatPrice(minimum.Minimum, minimum.Currency))
	case errors.As(err, &promo):
		switch promo.Reason {
		case billing.PromoReasonExpired:
			return "❌ Срок действия промокода истёк."
		case billing.PromoReasonAlreadyUsed:
			return "❌ Вы уже использовали этот промокод."
		}
		return "❌ Промокод не найден."
	case errors.Is(err, billing.ErrEmptyCart):
		return "🛒 Корзина пуста."
	case errors.Is(err, billing.ErrPriceUnavailable):
		return "❌ Товар недоступен в вашей валюте."
	case errors.Is(err, billing.ErrProductUnavailable):
		return "❌ Товар недоступен."
	case errors.Is(err, billing.ErrInvalidTransition):
		return "❌ Действие недоступно для текущего статуса подписки."
	case billing.IsTransient(err):
		return "⏳ Сервис занят, попробуйте ещё раз через минуту."
	}
	return "❌ Произошла ошибка. Попробуйте позже."
}
