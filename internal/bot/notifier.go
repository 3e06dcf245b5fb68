package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"

	"neurobot/internal/billing"
	"neurobot/internal/models"
	"neurobot/internal/store"
)

type messageSender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Notifier delivers billing notifications to users and alerts to the
// operator chat.
type Notifier struct {
	sender         messageSender
	catalog        store.Catalog
	operatorChatID int64
	log            logrus.FieldLogger
}

func NewNotifier(sender messageSender, catalog store.Catalog, operatorChatID int64, log logrus.FieldLogger) *Notifier {
	return &Notifier{sender: sender, catalog: catalog, operatorChatID: operatorChatID, log: log}
}

func (n *Notifier) Notify(ctx context.Context, note billing.Notification) {
	chatID, err := strconv.ParseInt(note.UserID, 10, 64)
	if err != nil {
		n.log.WithField("user_id", note.UserID).Warn("notification for non-telegram user dropped")
		return
	}
	text := notificationText(note, n.productNames(ctx, note.ProductIDs))
	if text == "" {
		return
	}
	if _, err := n.sender.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"user_id": note.UserID,
			"kind":    note.Kind,
		}).Warn("failed to send notification")
	}
}

func (n *Notifier) Alert(ctx context.Context, a billing.OperatorAlert) {
	log := n.log.WithFields(logrus.Fields{
		"provider": a.Provider,
		"key":      a.CorrelationKey,
		"reason":   a.Reason,
	})
	log.WithError(a.Err).Error("operator alert")
	if n.operatorChatID == 0 {
		return
	}
	if _, err := n.sender.SendMessage(ctx, tu.Message(tu.ID(n.operatorChatID), alertText(a))); err != nil {
		log.WithError(err).Warn("failed to deliver operator alert")
	}
}

func (n *Notifier) productNames(ctx context.Context, ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		name := id
		if p, err := n.catalog.GetProduct(ctx, id); err == nil && p.Name != "" {
			name = p.Name
		}
		names = append(names, name)
	}
	return names
}

func notificationText(n billing.Notification, names []string) string {
	product := strings.Join(names, ", ")
	until := n.EndDate.Format("02.01.2006")

	switch n.Kind {
	case billing.NotifySubscriptionActivated:
		if n.IsTrial {
			return fmt.Sprintf("🎉 Пробный период «%s» активирован!\n\n📅 Действует до: %s", product, until)
		}
		return fmt.Sprintf("✅ Подписка «%s» активирована!\n\n📅 Действует до: %s", product, until)
	case billing.NotifySubscriptionRenewed:
		return fmt.Sprintf("🔄 Подписка «%s» продлена.\n\n📅 Действует до: %s", product, until)
	case billing.NotifySubscriptionCanceled:
		return fmt.Sprintf("⏸ Автопродление подписки «%s» отключено.\nДоступ сохранится до %s.", product, until)
	case billing.NotifySubscriptionResumed:
		return fmt.Sprintf("▶️ Автопродление подписки «%s» снова включено.", product)
	case billing.NotifySubscriptionExpired:
		return fmt.Sprintf("⌛ Подписка «%s» завершилась. Лимиты вернулись к бесплатному тарифу.", product)
	case billing.NotifySubscriptionDeclined:
		return fmt.Sprintf("❌ Оплата подписки «%s» не прошла.", product)
	case billing.NotifyPackagesActivated:
		return fmt.Sprintf("✅ Оплата прошла успешно!\n\n📦 Начислено: %s", product)
	case billing.NotifyPackagesDeclined:
		return "❌ Оплата не прошла. Товары остались в корзине."
	case billing.NotifyGiftGranted:
		return fmt.Sprintf("🎁 Вам подарок за покупку: %s", product)
	case billing.NotifyPromoRedeemed:
		if product == "" {
			return "🎟 Промокод применён!"
		}
		return fmt.Sprintf("🎟 Промокод применён: %s", product)
	case billing.NotifyRenewalReminder:
		return fmt.Sprintf("⏰ Подписка «%s» продлится %s. Управлять подпиской можно в личном кабинете.", product, until)
	}
	return ""
}

func alertText(a billing.OperatorAlert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚨 %s\nprovider: %s\nkey: %s", a.Reason, a.Provider, a.CorrelationKey)
	if a.Err != nil {
		fmt.Fprintf(&sb, "\nerror: %v", a.Err)
	}
	return sb.String()
}

func formatPrice(amount float64, currency models.Currency) string {
	switch currency {
	case models.CurrencyXTR:
		return fmt.Sprintf("%.0f ⭐", amount)
	case models.CurrencyRUB:
		return fmt.Sprintf("%.2f₽", amount)
	case models.CurrencyUSD:
		return fmt.Sprintf("$%.2f", amount)
	case models.CurrencyEUR:
		return fmt.Sprintf("€%.2f", amount)
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}
