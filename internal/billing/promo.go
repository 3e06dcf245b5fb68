package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"neurobot/internal/models"
	"neurobot/internal/store"
)

// PromoResult is what a redeemed code granted.
type PromoResult struct {
	Type         models.PromoCodeType
	Subscription *models.Subscription
	Package      *models.Package
	Discount     int
}

// RedeemPromoCode applies a promo code once per user. Subscription and
// package codes go through the regular activation paths at zero cost.
func (m *PurchaseManager) RedeemPromoCode(ctx context.Context, userID, code string) (*PromoResult, error) {
	code = strings.TrimSpace(code)
	var out *PromoResult
	err := m.transact(ctx, "promo.redeem", func(ctx context.Context, tx store.Tx, fx *effects) error {
		promo, err := tx.FindPromoCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return &InsufficientEntitlementError{Code: code, Reason: PromoReasonNotFound}
		}
		if err != nil {
			return err
		}
		if !promo.UntilAt.IsZero() && m.now().After(promo.UntilAt) {
			return &InsufficientEntitlementError{Code: code, Reason: PromoReasonExpired}
		}
		used, err := tx.IsPromoCodeUsed(ctx, userID, promo.ID)
		if err != nil {
			return err
		}
		if used {
			return &InsufficientEntitlementError{Code: code, Reason: PromoReasonAlreadyUsed}
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", userID, err)
		}

		res := &PromoResult{Type: promo.Type}
		switch promo.Type {
		case models.PromoCodeTypeSubscription:
			period := promo.Details.Period
			if period <= 0 {
				period = models.PeriodMonthly
			}
			sub := &models.Subscription{
				ID:            uuid.NewString(),
				UserID:        userID,
				ProductID:     promo.Details.ProductID,
				Period:        period,
				Status:        models.SubscriptionStatusWaiting,
				Currency:      user.Currency,
				PaymentMethod: models.PaymentMethodPromoCode,
			}
			if err := tx.CreateSubscription(ctx, sub); err != nil {
				return err
			}
			// activate reloads and saves the user itself
			if err := m.subs.activate(ctx, tx, fx, sub, Activation{}, false); err != nil {
				return err
			}
			res.Subscription = sub

		case models.PromoCodeTypePackage:
			qty := promo.Details.Quantity
			if qty <= 0 {
				qty = 1
			}
			pkg := &models.Package{
				ID:            uuid.NewString(),
				UserID:        userID,
				ProductID:     promo.Details.ProductID,
				Status:        models.PackageStatusWaiting,
				Currency:      user.Currency,
				Quantity:      qty,
				PaymentMethod: models.PaymentMethodPromoCode,
			}
			if err := tx.CreatePackage(ctx, pkg); err != nil {
				return err
			}
			if err := m.activatePackage(ctx, tx, fx, user, pkg, 0, ""); err != nil {
				return err
			}
			if err := tx.SaveUser(ctx, user); err != nil {
				return err
			}
			res.Package = pkg

		case models.PromoCodeTypeDiscount:
			user.Discount = promo.Details.Discount
			if err := tx.SaveUser(ctx, user); err != nil {
				return err
			}
			res.Discount = promo.Details.Discount

		default:
			return fmt.Errorf("promo code %s has unknown type %q", promo.ID, promo.Type)
		}

		if err := tx.MarkPromoCodeUsed(ctx, &models.UsedPromoCode{UserID: userID, PromoCodeID: promo.ID}); err != nil {
			return err
		}
		out = res
		n := Notification{Kind: NotifyPromoRedeemed, UserID: userID}
		if promo.Details.ProductID != "" {
			n.ProductIDs = []string{promo.Details.ProductID}
		}
		m.notify(fx, n)
		return nil
	})
	return out, err
}
