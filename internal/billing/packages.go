package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"neurobot/internal/discount"
	"neurobot/internal/models"
	"neurobot/internal/store"
)

// PurchaseManager sells usage packages, singly or through the cart, and
// redeems promo codes.
type PurchaseManager struct {
	*core
	subs *SubscriptionManager
}

// PackageActivation carries what the provider reported about the charge.
type PackageActivation struct {
	IncomeAmount     float64
	ProviderChargeID string
}

type pricedLine struct {
	product  *models.Product
	quantity int64
	amount   float64
	res      discount.Resolution
}

// priceLine prices quantity units of product for user. The user discount
// competes with the product discount and with the discount of the user's
// subscription product.
func (m *PurchaseManager) priceLine(ctx context.Context, tx store.Tx, user *models.User, currency models.Currency, product *models.Product, quantity int64) (pricedLine, error) {
	unit, ok := product.Price(currency)
	if !ok {
		return pricedLine{}, fmt.Errorf("%w: %s in %s", ErrPriceUnavailable, product.ID, currency)
	}
	subDiscount, err := m.subscriptionDiscount(ctx, tx, user)
	if err != nil {
		return pricedLine{}, err
	}
	res := discount.Resolve(user.Discount, subDiscount, product.Discount)
	return pricedLine{
		product:  product,
		quantity: quantity,
		amount:   discount.Apply(unit*float64(quantity), res.Percent),
		res:      res,
	}, nil
}

func (m *PurchaseManager) subscriptionDiscount(ctx context.Context, tx store.Tx, user *models.User) (int, error) {
	if user.SubscriptionID == "" {
		return 0, nil
	}
	sub, err := tx.GetSubscription(ctx, user.SubscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if !sub.Status.IsActivated() || !sub.EndDate.After(m.now()) {
		return 0, nil
	}
	product, err := m.catalog.GetProduct(ctx, sub.ProductID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return product.Discount, nil
}

// BuyPackage opens a WAITING package for quantity units and returns the
// provider's payment link.
func (m *PurchaseManager) BuyPackage(ctx context.Context, userID, productID string, quantity int64, method models.PaymentMethod) (*models.Package, *Checkout, error) {
	if quantity <= 0 {
		return nil, nil, ErrInvalidQuantity
	}
	p, err := m.provider(method)
	if err != nil {
		return nil, nil, err
	}
	product, err := m.product(ctx, productID, models.ProductTypePackage)
	if err != nil {
		return nil, nil, err
	}

	var pkg *models.Package
	err = m.transact(ctx, "package.checkout", func(ctx context.Context, tx store.Tx, fx *effects) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", userID, err)
		}
		currency := chargeCurrency(p, user)
		line, err := m.priceLine(ctx, tx, user, currency, product, quantity)
		if err != nil {
			return err
		}
		if err := m.checkMinimum(currency, line.amount); err != nil {
			return err
		}
		id := uuid.NewString()
		pkg = &models.Package{
			ID:                      id,
			UserID:                  user.ID,
			ProductID:               product.ID,
			Status:                  models.PackageStatusWaiting,
			Currency:                currency,
			Amount:                  line.amount,
			Quantity:                quantity,
			Discount:                line.res.Percent,
			UsedUserDiscount:        line.res.FromUser,
			PaymentMethod:           method,
			ProviderPaymentChargeID: id,
		}
		return tx.CreatePackage(ctx, pkg)
	})
	if err != nil {
		return nil, nil, err
	}

	checkout, err := p.CreateCheckout(ctx, CheckoutRequest{
		OrderID:  pkg.ID,
		Kind:     OrderPackage,
		UserID:   userID,
		Title:    product.Name,
		Amount:   pkg.Amount,
		Currency: pkg.Currency,
	})
	if err != nil {
		m.failPending(ctx, pkg.ProviderPaymentChargeID)
		return nil, nil, fmt.Errorf("create %s checkout: %w", method, err)
	}
	if checkout.ProviderChargeID != "" && checkout.ProviderChargeID != pkg.ProviderPaymentChargeID {
		if err := m.bindCharge(ctx, pkg.ProviderPaymentChargeID, checkout.ProviderChargeID); err != nil {
			return nil, nil, err
		}
		pkg.ProviderPaymentChargeID = checkout.ProviderChargeID
	}
	return pkg, checkout, nil
}

// bindCharge moves every WAITING package of an order to the provider's
// checkout id.
func (m *PurchaseManager) bindCharge(ctx context.Context, orderID, chargeID string) error {
	return m.transact(ctx, "package.bind_charge", func(ctx context.Context, tx store.Tx, fx *effects) error {
		pkgs, err := tx.FindPackagesByChargeID(ctx, orderID)
		if err != nil {
			return err
		}
		for i := range pkgs {
			if pkgs[i].Status != models.PackageStatusWaiting {
				continue
			}
			pkgs[i].ProviderPaymentChargeID = chargeID
			if err := tx.SavePackage(ctx, &pkgs[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *PurchaseManager) failPending(ctx context.Context, chargeID string) {
	err := m.transact(ctx, "package.fail", func(ctx context.Context, tx store.Tx, fx *effects) error {
		pkgs, err := tx.FindPackagesByChargeID(ctx, chargeID)
		if err != nil {
			return err
		}
		for i := range pkgs {
			if pkgs[i].Status != models.PackageStatusWaiting {
				continue
			}
			pkgs[i].Status = models.PackageStatusError
			if err := tx.SavePackage(ctx, &pkgs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.log.WithError(err).WithField("charge_id", chargeID).Error("mark packages as failed")
	}
}

// ActivatePackage credits a paid single package and grants gifts when the
// purchase reaches the threshold.
func (m *PurchaseManager) ActivatePackage(ctx context.Context, packageID string, a PackageActivation) (*models.Package, error) {
	var out *models.Package
	err := m.transact(ctx, "package.activate", func(ctx context.Context, tx store.Tx, fx *effects) error {
		pkg, err := tx.GetPackage(ctx, packageID)
		if err != nil {
			return fmt.Errorf("get package %s: %w", packageID, err)
		}
		switch pkg.Status {
		case models.PackageStatusWaiting:
		case models.PackageStatusSuccess:
			return ErrDuplicateEvent
		default:
			return fmt.Errorf("%w: cannot activate %s package %s", ErrInvalidTransition, pkg.Status, pkg.ID)
		}

		user, err := tx.GetUser(ctx, pkg.UserID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", pkg.UserID, err)
		}
		if err := m.activatePackage(ctx, tx, fx, user, pkg, netAmount(a.IncomeAmount, pkg.Amount), a.ProviderChargeID); err != nil {
			return err
		}
		if err := m.grantGifts(ctx, tx, fx, user, pkg.Currency, pkg.Amount); err != nil {
			return err
		}
		if pkg.UsedUserDiscount {
			user.Discount = 0
		}
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}
		out = pkg
		m.notify(fx, Notification{
			Kind:       NotifyPackagesActivated,
			UserID:     pkg.UserID,
			ProductIDs: []string{pkg.ProductID},
			Amount:     pkg.Amount,
			Currency:   pkg.Currency,
		})
		return nil
	})
	return out, err
}

// activatePackage marks pkg SUCCESS, credits user in memory and writes the
// ledger entry. The caller saves user.
func (m *PurchaseManager) activatePackage(ctx context.Context, tx store.Tx, fx *effects, user *models.User, pkg *models.Package, income float64, chargeID string) error {
	product, err := m.catalog.GetProduct(ctx, pkg.ProductID)
	if err != nil {
		return fmt.Errorf("get product %s: %w", pkg.ProductID, err)
	}
	now := m.now()
	pkg.Status = models.PackageStatusSuccess
	pkg.IncomeAmount = income
	if product.Details.IsRecurring {
		months := product.Details.PeriodMonths
		if months <= 0 {
			months = 1
		}
		until := now.AddDate(0, months, 0)
		pkg.UntilAt = &until
	}
	if err := tx.SavePackage(ctx, pkg); err != nil {
		return err
	}

	quota := product.Details.Quota
	if quota == "" {
		quota = product.ID
	}
	if user.AdditionalUsageQuota == nil {
		user.AdditionalUsageQuota = models.Quotas{}
	}
	user.AdditionalUsageQuota.Add(quota, pkg.Quantity)

	return m.appendLedger(ctx, tx, fx, &models.Transaction{
		UserID:      pkg.UserID,
		Type:        models.TransactionTypeIncome,
		ProductID:   pkg.ProductID,
		Amount:      pkg.Amount,
		ClearAmount: pkg.IncomeAmount,
		Currency:    pkg.Currency,
		Quantity:    pkg.Quantity,
		Details: models.TransactionDetails{
			PackageID:        pkg.ID,
			ProviderChargeID: chargeID,
			PaymentMethod:    pkg.PaymentMethod,
			IsGift:           pkg.PaymentMethod == models.PaymentMethodGift,
		},
	})
}

// grantGifts credits every active gift product once when amount reaches the
// currency's threshold. Gift packages never trigger further gifts.
func (m *PurchaseManager) grantGifts(ctx context.Context, tx store.Tx, fx *effects, user *models.User, currency models.Currency, amount float64) error {
	threshold, ok := m.opts.GiftThresholds[currency]
	if !ok || threshold <= 0 || amount < threshold {
		return nil
	}
	gifts, err := m.catalog.ListActiveGiftProducts(ctx)
	if err != nil {
		return fmt.Errorf("list gift products: %w", err)
	}
	if len(gifts) == 0 {
		return nil
	}

	granted := make([]string, 0, len(gifts))
	for _, g := range gifts {
		qty := g.Details.Quantity
		if qty <= 0 {
			qty = 1
		}
		pkg := &models.Package{
			ID:            uuid.NewString(),
			UserID:        user.ID,
			ProductID:     g.ID,
			Status:        models.PackageStatusWaiting,
			Currency:      currency,
			Quantity:      qty,
			PaymentMethod: models.PaymentMethodGift,
		}
		if err := tx.CreatePackage(ctx, pkg); err != nil {
			return err
		}
		if err := m.activatePackage(ctx, tx, fx, user, pkg, 0, ""); err != nil {
			return err
		}
		granted = append(granted, g.ID)
	}

	m.log.WithFields(logrus.Fields{"user_id": user.ID, "gifts": granted}).Info("gift packages granted")
	m.notify(fx, Notification{Kind: NotifyGiftGranted, UserID: user.ID, ProductIDs: granted, Currency: currency})
	return nil
}

// DeclinePackages records a failed charge for every WAITING package of the
// order. The cart is left as it was so the user can retry.
func (m *PurchaseManager) DeclinePackages(ctx context.Context, chargeID string) ([]models.Package, error) {
	var out []models.Package
	err := m.transact(ctx, "package.decline", func(ctx context.Context, tx store.Tx, fx *effects) error {
		pkgs, err := tx.FindPackagesByChargeID(ctx, chargeID)
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			return fmt.Errorf("packages for charge %s: %w", chargeID, store.ErrNotFound)
		}

		var declined, succeeded int
		productIDs := make([]string, 0, len(pkgs))
		for i := range pkgs {
			switch pkgs[i].Status {
			case models.PackageStatusWaiting:
				pkgs[i].Status = models.PackageStatusDeclined
				if err := tx.SavePackage(ctx, &pkgs[i]); err != nil {
					return err
				}
				productIDs = append(productIDs, pkgs[i].ProductID)
				declined++
			case models.PackageStatusSuccess:
				succeeded++
			}
		}
		if declined == 0 {
			if succeeded > 0 {
				return fmt.Errorf("%w: charge %s already settled", ErrInvalidTransition, chargeID)
			}
			return ErrDuplicateEvent
		}
		out = pkgs
		m.notify(fx, Notification{
			Kind:       NotifyPackagesDeclined,
			UserID:     pkgs[0].UserID,
			ProductIDs: productIDs,
			Currency:   pkgs[0].Currency,
		})
		return nil
	})
	return out, err
}
