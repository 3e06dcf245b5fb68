package payment

import (
	"neurobot/internal/discount"
)

// FeeSchedule estimates the provider's cut when the webhook does not report
// the net amount.
type FeeSchedule struct {
	Percent float64
	Fixed   float64
}

// Net is gross minus Percent% and Fixed, never below zero.
func (f FeeSchedule) Net(gross float64) float64 {
	net := discount.Round(gross - gross*f.Percent/100 - f.Fixed)
	if net < 0 {
		return 0
	}
	return net
}
