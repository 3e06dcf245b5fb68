package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"neurobot/internal/discount"
	"neurobot/internal/models"
	"neurobot/internal/store"
)

func (m *PurchaseManager) AddToCart(ctx context.Context, userID, productID string, quantity int64) (*models.Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if _, err := m.product(ctx, productID, models.ProductTypePackage); err != nil {
		return nil, err
	}
	var out *models.Cart
	err := m.transact(ctx, "cart.add", func(ctx context.Context, tx store.Tx, fx *effects) error {
		cart, err := tx.GetCart(ctx, userID)
		if err != nil {
			return err
		}
		cart.Add(productID, quantity)
		if err := tx.SaveCart(ctx, cart); err != nil {
			return err
		}
		out = cart
		return nil
	})
	return out, err
}

func (m *PurchaseManager) RemoveFromCart(ctx context.Context, userID, productID string) (*models.Cart, error) {
	var out *models.Cart
	err := m.transact(ctx, "cart.remove", func(ctx context.Context, tx store.Tx, fx *effects) error {
		cart, err := tx.GetCart(ctx, userID)
		if err != nil {
			return err
		}
		out = cart
		if !cart.Remove(productID) {
			return nil
		}
		return tx.SaveCart(ctx, cart)
	})
	return out, err
}

func (m *PurchaseManager) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	var out *models.Cart
	err := m.read(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.GetCart(ctx, userID)
		return err
	})
	return out, err
}

// CheckoutCart opens one WAITING package per cart line under a single
// umbrella charge and returns the provider's payment link for the total.
func (m *PurchaseManager) CheckoutCart(ctx context.Context, userID string, method models.PaymentMethod) ([]models.Package, *Checkout, error) {
	p, err := m.provider(method)
	if err != nil {
		return nil, nil, err
	}

	var (
		pkgs     []models.Package
		total    float64
		currency models.Currency
		orderID  string
	)
	err = m.transact(ctx, "cart.checkout", func(ctx context.Context, tx store.Tx, fx *effects) error {
		pkgs, total = nil, 0
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", userID, err)
		}
		cart, err := tx.GetCart(ctx, userID)
		if err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return ErrEmptyCart
		}

		currency = chargeCurrency(p, user)
		lines := make([]pricedLine, 0, len(cart.Items))
		for _, item := range cart.Items {
			product, err := m.product(ctx, item.ProductID, models.ProductTypePackage)
			if err != nil {
				return err
			}
			line, err := m.priceLine(ctx, tx, user, currency, product, item.Quantity)
			if err != nil {
				return err
			}
			lines = append(lines, line)
			total += line.amount
		}
		total = discount.Round(total)
		if err := m.checkMinimum(currency, total); err != nil {
			return err
		}

		orderID = uuid.NewString()
		for _, line := range lines {
			pkg := models.Package{
				ID:                      uuid.NewString(),
				UserID:                  user.ID,
				ProductID:               line.product.ID,
				Status:                  models.PackageStatusWaiting,
				Currency:                currency,
				Amount:                  line.amount,
				Quantity:                line.quantity,
				Discount:                line.res.Percent,
				UsedUserDiscount:        line.res.FromUser,
				PaymentMethod:           method,
				ProviderPaymentChargeID: orderID,
				FromCart:                true,
			}
			if err := tx.CreatePackage(ctx, &pkg); err != nil {
				return err
			}
			pkgs = append(pkgs, pkg)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	checkout, err := p.CreateCheckout(ctx, CheckoutRequest{
		OrderID:  orderID,
		Kind:     OrderCart,
		UserID:   userID,
		Title:    fmt.Sprintf("Cart (%d items)", len(pkgs)),
		Amount:   total,
		Currency: currency,
	})
	if err != nil {
		m.failPending(ctx, orderID)
		return nil, nil, fmt.Errorf("create %s checkout: %w", method, err)
	}
	if checkout.ProviderChargeID != "" && checkout.ProviderChargeID != orderID {
		if err := m.bindCharge(ctx, orderID, checkout.ProviderChargeID); err != nil {
			return nil, nil, err
		}
		for i := range pkgs {
			pkgs[i].ProviderPaymentChargeID = checkout.ProviderChargeID
		}
	}
	return pkgs, checkout, nil
}

// SettleCart activates every package of a paid cart in one unit, splits the
// net amount across them and takes the paid lines out of the cart. Lines
// added after checkout stay. The gift threshold is checked once against the
// cart total.
func (m *PurchaseManager) SettleCart(ctx context.Context, chargeID string, a PackageActivation) ([]models.Package, error) {
	var out []models.Package
	err := m.transact(ctx, "cart.settle", func(ctx context.Context, tx store.Tx, fx *effects) error {
		pkgs, err := tx.FindPackagesByChargeID(ctx, chargeID)
		if err != nil {
			return err
		}
		if len(pkgs) == 0 {
			return fmt.Errorf("packages for charge %s: %w", chargeID, store.ErrNotFound)
		}

		var waiting, succeeded int
		var total float64
		for _, p := range pkgs {
			switch p.Status {
			case models.PackageStatusWaiting:
				waiting++
			case models.PackageStatusSuccess:
				succeeded++
			}
			total += p.Amount
		}
		if waiting == 0 && succeeded == len(pkgs) {
			return ErrDuplicateEvent
		}
		if waiting != len(pkgs) {
			return fmt.Errorf("%w: charge %s has %d of %d packages awaiting payment", ErrInvalidTransition, chargeID, waiting, len(pkgs))
		}
		total = discount.Round(total)

		user, err := tx.GetUser(ctx, pkgs[0].UserID)
		if err != nil {
			return fmt.Errorf("get user %s: %w", pkgs[0].UserID, err)
		}

		shares := splitIncome(netAmount(a.IncomeAmount, total), pkgs)
		usedUserDiscount := false
		productIDs := make([]string, 0, len(pkgs))
		for i := range pkgs {
			if err := m.activatePackage(ctx, tx, fx, user, &pkgs[i], shares[i], a.ProviderChargeID); err != nil {
				return err
			}
			usedUserDiscount = usedUserDiscount || pkgs[i].UsedUserDiscount
			productIDs = append(productIDs, pkgs[i].ProductID)
		}
		if err := m.grantGifts(ctx, tx, fx, user, pkgs[0].Currency, total); err != nil {
			return err
		}
		if usedUserDiscount {
			user.Discount = 0
		}
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}

		cart, err := tx.GetCart(ctx, user.ID)
		if err != nil {
			return err
		}
		changed := false
		for _, p := range pkgs {
			if p.FromCart && cart.Subtract(p.ProductID, p.Quantity) {
				changed = true
			}
		}
		if changed {
			if err := tx.SaveCart(ctx, cart); err != nil {
				return err
			}
		}

		out = pkgs
		m.notify(fx, Notification{
			Kind:       NotifyPackagesActivated,
			UserID:     user.ID,
			ProductIDs: productIDs,
			Amount:     total,
			Currency:   pkgs[0].Currency,
		})
		return nil
	})
	return out, err
}

// splitIncome spreads income over the packages in proportion to their
// amounts. Rounding leftovers go to the last package.
func splitIncome(income float64, pkgs []models.Package) []float64 {
	shares := make([]float64, len(pkgs))
	var total float64
	for _, p := range pkgs {
		total += p.Amount
	}
	if total <= 0 {
		return shares
	}
	var allocated float64
	for i, p := range pkgs {
		if i == len(pkgs)-1 {
			shares[i] = netAmount(income-allocated, p.Amount)
			break
		}
		shares[i] = netAmount(income*p.Amount/total, p.Amount)
		allocated += shares[i]
	}
	return shares
}
