// Package discount resolves which percentage discount applies to a purchase.
// User-level promotional discounts and product discounts never stack: the
// largest one wins.
package discount

import "math"

// Resolution is the outcome for one purchase.
type Resolution struct {
	Percent int
	// FromUser is set when the user-level discount is strictly larger than any
	// product discount. Completing such a purchase consumes it.
	FromUser bool
}

// Effective returns max(user, subscriptionProduct, packageProduct).
func Effective(user, subscriptionProduct, packageProduct int) int {
	return Resolve(user, subscriptionProduct, packageProduct).Percent
}

func Resolve(user, subscriptionProduct, packageProduct int) Resolution {
	intrinsic := max(clamp(subscriptionProduct), clamp(packageProduct))
	user = clamp(user)
	if user > intrinsic {
		return Resolution{Percent: user, FromUser: true}
	}
	return Resolution{Percent: intrinsic}
}

// Apply discounts price by percent and rounds to cents.
func Apply(price float64, percent int) float64 {
	return Round(price * float64(100-clamp(percent)) / 100)
}

// Round rounds a money amount to two decimals.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
