package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/sirupsen/logrus"

	"neurobot/internal/billing"
	"neurobot/internal/models"
	"neurobot/internal/store"
)

const stateWaitingPromoCode = "WAITING_PROMO_CODE"

type Bot struct {
	Instance *telego.Bot
	Billing  *billing.Service
	Catalog  store.Catalog
	Alerts   billing.Notifier
	Log      logrus.FieldLogger

	// Methods are the payment providers offered to users, in button order.
	Methods              []models.PaymentMethod
	Currency             models.Currency
	SubscriptionProducts []string
	PackageProducts      []string

	UserStates map[int64]string
	StatesMu   sync.RWMutex
}

func NewBot(instance *telego.Bot, svc *billing.Service, catalog store.Catalog, alerts billing.Notifier, log logrus.FieldLogger) *Bot {
	return &Bot{
		Instance:   instance,
		Billing:    svc,
		Catalog:    catalog,
		Alerts:     alerts,
		Log:        log,
		Currency:   models.CurrencyRUB,
		UserStates: make(map[int64]string),
	}
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	updates, err := b.Instance.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start long polling: %w", err)
	}

	handler, err := th.NewBotHandler(b.Instance, updates)
	if err != nil {
		return fmt.Errorf("failed to create bot handler: %w", err)
	}

	// /start command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		userID := userKey(message.From.ID)

		if _, err := b.Billing.EnsureUser(ctx.Context(), userID, b.Currency); err != nil {
			b.Log.WithError(err).WithField("user_id", userID).Error("failed to ensure user")
			b.send(ctx, message.Chat.ID, errorText(err))
			return nil
		}

		// deep links like t.me/bot?start=promo_SPRING
		if parts := strings.Fields(message.Text); len(parts) > 1 {
			if code, ok := strings.CutPrefix(parts[1], "promo_"); ok {
				b.redeem(ctx, message.Chat.ID, userID, code)
			}
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("Привет, %s! 👋\n\nЗдесь можно оформить подписку и докупить пакеты запросов.", message.From.FirstName),
		).WithReplyMarkup(mainMenu()))
		return nil
	}, th.CommandEqual("start"))

	// /promo CODE
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		parts := strings.Fields(message.Text)
		if len(parts) < 2 {
			b.setState(message.From.ID, stateWaitingPromoCode)
			b.send(ctx, message.Chat.ID, "🎟 Введите промокод:")
			return nil
		}
		b.redeem(ctx, message.Chat.ID, userKey(message.From.ID), parts[1])
		return nil
	}, th.CommandEqual("promo"))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), "Главное меню").WithReplyMarkup(mainMenu()))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual(cbMenu))

	// Profile
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		userID := userKey(callback.From.ID)

		user, err := b.Billing.EnsureUser(ctx.Context(), userID, b.Currency)
		if err != nil {
			b.send(ctx, callback.From.ID, errorText(err))
			_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
			return nil
		}

		var sub *models.Subscription
		subs, err := b.Billing.Subscriptions.ListForUser(ctx.Context(), userID)
		if err != nil {
			b.Log.WithError(err).WithField("user_id", userID).Warn("failed to list subscriptions")
		}
		if user.SubscriptionID != "" {
			for i := range subs {
				if subs[i].ID == user.SubscriptionID {
					sub = &subs[i]
				}
			}
		}

		var productName string
		if sub != nil {
			productName = sub.ProductID
			if p, err := b.Catalog.GetProduct(ctx.Context(), sub.ProductID); err == nil {
				productName = p.Name
			}
		}

		rows := [][]telego.InlineKeyboardButton{}
		if sub != nil {
			switch {
			case sub.Status.IsCurrent():
				rows = append(rows, tu.InlineKeyboardRow(
					tu.InlineKeyboardButton("⏸ Отключить автопродление").WithCallbackData(cbUnsubscribe+sub.ID),
				))
			case sub.Status == models.SubscriptionStatusCanceled:
				rows = append(rows, tu.InlineKeyboardRow(
					tu.InlineKeyboardButton("▶️ Возобновить подписку").WithCallbackData(cbResubscribe+sub.ID),
				))
			}
		}
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton("« Назад").WithCallbackData(cbMenu)))

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(callback.From.ID),
			profileText(callback.From.ID, user, sub, productName),
		).WithReplyMarkup(tu.InlineKeyboard(rows...)))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual(cbProfile))

	// Subscription plans
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		rows := [][]telego.InlineKeyboardButton{}
		for _, p := range b.products(ctx.Context(), b.SubscriptionProducts, models.ProductTypeSubscription) {
			label := p.Name
			if price, ok := p.Price(b.Currency); ok {
				label = fmt.Sprintf("%s - %s/мес", p.Name, formatPrice(price, b.Currency))
			}
			rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(label).WithCallbackData(cbPlan+p.ID)))
		}
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton("« Назад").WithCallbackData(cbMenu)))

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), "📊 Выберите тариф:").
			WithReplyMarkup(tu.InlineKeyboard(rows...)))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual(cbPlans))

	// Plan -> period
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		productID := strings.TrimPrefix(callback.Data, cbPlan)
		keyboard := tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("1 месяц").WithCallbackData(fmt.Sprintf("%s%s:%d", cbPeriod, productID, models.PeriodMonthly)),
				tu.InlineKeyboardButton("12 месяцев").WithCallbackData(fmt.Sprintf("%s%s:%d", cbPeriod, productID, models.PeriodYearly)),
			),
			tu.InlineKeyboardRow(tu.InlineKeyboardButton("« Назад").WithCallbackData(cbPlans)),
		)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), "📅 Выберите период:").WithReplyMarkup(keyboard))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix(cbPlan))

	// Period -> payment method
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		target := strings.TrimPrefix(callback.Data, cbPeriod)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), "💳 Выберите способ оплаты:").
			WithReplyMarkup(b.methodsKeyboard(cbSubscribe+target+":", cbPlans)))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix(cbPeriod))

	// Subscription checkout
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		defer func() { _ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID)) }()

		productID, period, method, err := parseSubscribeData(strings.TrimPrefix(callback.Data, cbSubscribe))
		if err != nil {
			return nil
		}
		userID := userKey(callback.From.ID)
		if _, err := b.Billing.EnsureUser(ctx.Context(), userID, b.Currency); err != nil {
			b.send(ctx, callback.From.ID, errorText(err))
			return nil
		}
		sub, checkout, err := b.Billing.Subscriptions.Checkout(ctx.Context(), userID, productID, period, method)
		if err != nil {
			b.Log.WithError(err).WithFields(logrus.Fields{"user_id": userID, "product_id": productID}).Warn("subscription checkout failed")
			b.send(ctx, callback.From.ID, errorText(err))
			return nil
		}
		text := fmt.Sprintf("💳 К оплате: %s", formatPrice(sub.Amount, sub.Currency))
		if sub.IsTrial {
			text = fmt.Sprintf("🎉 Пробный период за %s, дальше подписка продлится автоматически.", formatPrice(sub.Amount, sub.Currency))
		}
		b.sendPayLink(ctx, callback.From.ID, text, checkout.URL)
		return nil
	}, th.CallbackDataPrefix(cbSubscribe))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		subID := strings.TrimPrefix(callback.Data, cbUnsubscribe)
		if b.ownsSubscription(ctx.Context(), callback.From.ID, subID) {
			if _, err := b.Billing.Subscriptions.Unsubscribe(ctx.Context(), subID); err != nil {
				b.send(ctx, callback.From.ID, errorText(err))
			}
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix(cbUnsubscribe))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		subID := strings.TrimPrefix(callback.Data, cbResubscribe)
		if b.ownsSubscription(ctx.Context(), callback.From.ID, subID) {
			if _, err := b.Billing.Subscriptions.Resubscribe(ctx.Context(), subID); err != nil {
				b.send(ctx, callback.From.ID, errorText(err))
			}
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix(cbResubscribe))

	// Packages
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		rows := [][]telego.InlineKeyboardButton{}
		for _, p := range b.products(ctx.Context(), b.PackageProducts, models.ProductTypePackage) {
			label := p.Name
			if price, ok := p.Price(b.Currency); ok {
				label = fmt.Sprintf("%s - %s", p.Name, formatPrice(price, b.Currency))
			}
			rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(label).WithCallbackData(cbPackage+p.ID)))
		}
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🛒 Корзина").WithCallbackData(cbCart),
			tu.InlineKeyboardButton("« Назад").WithCallbackData(cbMenu),
		))
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), "📦 Пакеты:").
			WithReplyMarkup(tu.InlineKeyboard(rows...)))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual(cbPackages))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		productID := strings.TrimPrefix(callback.Data, cbPackage)
		rows := [][]telego.InlineKeyboardButton{
			tu.InlineKeyboardRow(tu.InlineKeyboardButton("➕ В корзину").WithCallbackData(cbCartAdd + productID)),
		}
		for _, m := range b.Methods {
			rows = append(rows, tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("Купить: "+methodLabel(m)).WithCallbackData(cbPackageBuy+productID+":"+methodCode(m)),
			))
		}
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton("« Назад").WithCallbackData(cbPackages)))
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(callback.From.ID), "Что сделать с пакетом?").
			WithReplyMarkup(tu.InlineKeyboard(rows...)))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix(cbPackage))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		defer func() { _ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID)) }()

		productID, code, _ := strings.Cut(strings.TrimPrefix(callback.Data, cbPackageBuy), ":")
		method, ok := methodFromCode(code)
		if !ok {
			return nil
		}
		userID := userKey(callback.From.ID)
		pkg, checkout, err := b.Billing.Purchases.BuyPackage(ctx.Context(), userID, productID, 1, method)
		if err != nil {
			b.send(ctx, callback.From.ID, errorText(err))
			return nil
		}
		b.sendPayLink(ctx, callback.From.ID, fmt.Sprintf("💳 К оплате: %s", formatPrice(pkg.Amount, pkg.Currency)), checkout.URL)
		return nil
	}, th.CallbackDataPrefix(cbPackageBuy))

	// Cart
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		b.showCart(ctx, callback.From.ID)
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual(cbCart))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		userID := userKey(callback.From.ID)
		if _, err := b.Billing.EnsureUser(ctx.Context(), userID, b.Currency); err != nil {
			b.send(ctx, callback.From.ID, errorText(err))
		} else if _, err := b.Billing.Purchases.AddToCart(ctx.Context(), userID, strings.TrimPrefix(callback.Data, cbCartAdd), 1); err != nil {
			b.send(ctx, callback.From.ID, errorText(err))
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID).WithText("Добавлено в корзину"))
		return nil
	}, th.CallbackDataPrefix(cbCartAdd))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		if _, err := b.Billing.Purchases.RemoveFromCart(ctx.Context(), userKey(callback.From.ID), strings.TrimPrefix(callback.Data, cbCartRemove)); err != nil {
			b.send(ctx, callback.From.ID, errorText(err))
		} else {
			b.showCart(ctx, callback.From.ID)
		}
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataPrefix(cbCartRemove))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		defer func() { _ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID)) }()

		method, ok := methodFromCode(strings.TrimPrefix(callback.Data, cbCartPay))
		if !ok {
			return nil
		}
		pkgs, checkout, err := b.Billing.Purchases.CheckoutCart(ctx.Context(), userKey(callback.From.ID), method)
		if err != nil {
			b.send(ctx, callback.From.ID, errorText(err))
			return nil
		}
		var total float64
		for _, p := range pkgs {
			total += p.Amount
		}
		b.sendPayLink(ctx, callback.From.ID, fmt.Sprintf("💳 К оплате: %s", formatPrice(total, pkgs[0].Currency)), checkout.URL)
		return nil
	}, th.CallbackDataPrefix(cbCartPay))

	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		b.setState(callback.From.ID, stateWaitingPromoCode)
		b.send(ctx, callback.From.ID, "🎟 Введите промокод:")
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual(cbPromo))

	// Telegram waits about 10 seconds for the answer
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		query := update.PreCheckoutQuery
		params := &telego.AnswerPreCheckoutQueryParams{PreCheckoutQueryID: query.ID, Ok: true}

		kind, orderID, err := billing.ParseInvoicePayload(query.InvoicePayload)
		if err == nil {
			err = b.Billing.Reconciler.PreCheckout(ctx.Context(), kind, orderID)
		}
		if err != nil {
			b.Log.WithError(err).WithField("payload", query.InvoicePayload).Info("pre-checkout rejected")
			params.Ok = false
			params.ErrorMessage = "Заказ уже оплачен или устарел. Оформите его заново."
		}
		return ctx.Bot().AnswerPreCheckoutQuery(ctx.Context(), params)
	}, th.AnyPreCheckoutQuery())

	// Successful payments and free text input
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if message.SuccessfulPayment != nil {
			b.settleStarsPayment(ctx.Context(), message.SuccessfulPayment)
			return nil
		}
		if message.From == nil || message.Text == "" {
			return nil
		}

		if b.state(message.From.ID) != stateWaitingPromoCode {
			return nil
		}
		b.clearState(message.From.ID)
		b.redeem(ctx, message.Chat.ID, userKey(message.From.ID), message.Text)
		return nil
	}, th.AnyMessage())

	return handler.Start()
}

func (b *Bot) settleStarsPayment(ctx context.Context, payment *telego.SuccessfulPayment) {
	payload, err := json.Marshal(payment)
	if err != nil {
		b.Log.WithError(err).Error("failed to encode successful payment")
		return
	}
	err = b.Billing.Reconciler.Handle(ctx, models.PaymentMethodTelegramStars, payload)
	if err == nil {
		return
	}
	// Telegram does not redeliver the update, so anything left unsettled
	// needs a human
	var unknown *billing.UnknownProviderEventError
	if errors.As(err, &unknown) || errors.Is(err, billing.ErrInvalidTransition) {
		return
	}
	b.Alerts.Alert(ctx, billing.OperatorAlert{
		Reason:         "stars payment could not be settled",
		Provider:       models.PaymentMethodTelegramStars,
		CorrelationKey: payment.TelegramPaymentChargeID,
		Err:            err,
	})
}

func (b *Bot) redeem(ctx *th.Context, chatID int64, userID, code string) {
	if _, err := b.Billing.EnsureUser(ctx.Context(), userID, b.Currency); err != nil {
		b.send(ctx, chatID, errorText(err))
		return
	}
	if _, err := b.Billing.Purchases.RedeemPromoCode(ctx.Context(), userID, code); err != nil {
		b.send(ctx, chatID, errorText(err))
	}
	// success is reported by the notifier
}

func (b *Bot) showCart(ctx *th.Context, telegramID int64) {
	cart, err := b.Billing.Purchases.GetCart(ctx.Context(), userKey(telegramID))
	if err != nil {
		b.send(ctx, telegramID, errorText(err))
		return
	}
	if len(cart.Items) == 0 {
		b.send(ctx, telegramID, "🛒 Корзина пуста.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🛒 Корзина:\n")
	rows := [][]telego.InlineKeyboardButton{}
	for _, item := range cart.Items {
		name := item.ProductID
		if p, err := b.Catalog.GetProduct(ctx.Context(), item.ProductID); err == nil {
			name = p.Name
		}
		fmt.Fprintf(&sb, "\n• %s × %d", name, item.Quantity)
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("❌ "+name).WithCallbackData(cbCartRemove+item.ProductID),
		))
	}
	for _, m := range b.Methods {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("Оплатить: "+methodLabel(m)).WithCallbackData(cbCartPay+methodCode(m)),
		))
	}
	rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton("« Назад").WithCallbackData(cbPackages)))

	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), sb.String()).WithReplyMarkup(tu.InlineKeyboard(rows...)))
}

// ownsSubscription guards callbacks carrying a subscription id.
func (b *Bot) ownsSubscription(ctx context.Context, telegramID int64, subID string) bool {
	subs, err := b.Billing.Subscriptions.ListForUser(ctx, userKey(telegramID))
	if err != nil {
		b.Log.WithError(err).Warn("failed to list subscriptions")
		return false
	}
	for _, s := range subs {
		if s.ID == subID {
			return true
		}
	}
	return false
}

func (b *Bot) products(ctx context.Context, ids []string, typ models.ProductType) []models.Product {
	var out []models.Product
	for _, id := range ids {
		p, err := b.Catalog.GetProduct(ctx, id)
		if err != nil {
			b.Log.WithError(err).WithField("product_id", id).Warn("menu product unavailable")
			continue
		}
		if p.Type == typ && p.IsActive {
			out = append(out, *p)
		}
	}
	return out
}

func (b *Bot) methodsKeyboard(prefix, back string) *telego.InlineKeyboardMarkup {
	rows := [][]telego.InlineKeyboardButton{}
	for _, m := range b.Methods {
		rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton(methodLabel(m)).WithCallbackData(prefix+methodCode(m))))
	}
	rows = append(rows, tu.InlineKeyboardRow(tu.InlineKeyboardButton("« Назад").WithCallbackData(back)))
	return tu.InlineKeyboard(rows...)
}

func (b *Bot) sendPayLink(ctx *th.Context, chatID int64, text, url string) {
	keyboard := tu.InlineKeyboard(tu.InlineKeyboardRow(tu.InlineKeyboardButton("💳 Оплатить").WithURL(url)))
	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), text).WithReplyMarkup(keyboard))
}

func (b *Bot) send(ctx *th.Context, chatID int64, text string) {
	if _, err := ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(chatID), text)); err != nil {
		b.Log.WithError(err).WithField("chat_id", chatID).Warn("failed to send message")
	}
}

func (b *Bot) setState(telegramID int64, state string) {
	b.StatesMu.Lock()
	b.UserStates[telegramID] = state
	b.StatesMu.Unlock()
}

func (b *Bot) state(telegramID int64) string {
	b.StatesMu.RLock()
	defer b.StatesMu.RUnlock()
	return b.UserStates[telegramID]
}

func (b *Bot) clearState(telegramID int64) {
	b.StatesMu.Lock()
	delete(b.UserStates, telegramID)
	b.StatesMu.Unlock()
}

func userKey(telegramID int64) string {
	return strconv.FormatInt(telegramID, 10)
}
