package tax

import (
	"errors"
	"fmt"
)

// Deduction tiers for donations to a non-profit association.
const (
	// Threshold is the donation amount covered by the first, higher rate.
	Threshold Money = 25000

	firstRatePct = 80
	baseRatePct  = 40
	bonusRatePct = 45

	// RecurringYearsForBonus is the number of consecutive donation years
	// needed before the bonus rate applies above the threshold.
	RecurringYearsForBonus = 3
)

// ErrNegativeAmount is returned for donations below zero.
var ErrNegativeAmount = errors.New("donation amount must not be negative")

// Result is the outcome of a deduction calculation. It is never persisted.
type Result struct {
	Amount         Money
	Deduction      Money
	NetCost        Money
	DiscountTenths int64 // effective discount in tenths of a percent (538 = 53.8%)
	RecurringBonus bool
	FirstRate      float64
	AboveRate      float64
}

// DiscountPercent returns the effective discount rounded to one decimal.
func (r Result) DiscountPercent() float64 {
	return float64(r.DiscountTenths) / 10
}

// FormatDiscount renders the discount with exactly one decimal, e.g. "53.8".
func (r Result) FormatDiscount() string {
	return fmt.Sprintf("%d.%d", r.DiscountTenths/10, r.DiscountTenths%10)
}

// Calculate splits a donation at the threshold and applies the deduction tiers.
// All rounding is half-up on integer cents, so 53.75% reports as 53.8%.
// PRE: amount >= 0; recurringYears >= 0
// POST: Deduction + NetCost == Amount
func Calculate(amount Money, recurringYears int) (Result, error) {
	if amount < 0 {
		return Result{}, ErrNegativeAmount
	}

	bonus := recurringYears >= RecurringYearsForBonus
	aboveRate := int64(baseRatePct)
	if bonus {
		aboveRate = bonusRatePct
	}

	first := min(amount, Threshold)
	above := max(0, amount-Threshold)

	// hundredths of a cent
	raw := int64(first)*firstRatePct + int64(above)*aboveRate
	deduction := Money(roundHalfUp(raw, 100))

	var discount int64
	if amount > 0 {
		discount = roundHalfUp(int64(deduction)*1000, int64(amount))
	}

	return Result{
		Amount:         amount,
		Deduction:      deduction,
		NetCost:        amount - deduction,
		DiscountTenths: discount,
		RecurringBonus: bonus,
		FirstRate:      float64(firstRatePct) / 100,
		AboveRate:      float64(aboveRate) / 100,
	}, nil
}

// DeductionAboveThreshold returns only the deduction earned on the part of a
// donation above the threshold, independent of Calculate.
func DeductionAboveThreshold(amount Money, recurring bool) Money {
	rate := int64(baseRatePct)
	if recurring {
		rate = bonusRatePct
	}
	above := max(0, amount-Threshold)
	return Money(roundHalfUp(int64(above)*rate, 100))
}

// roundHalfUp divides n by d rounding ties away from zero.
// PRE: d > 0
func roundHalfUp(n, d int64) int64 {
	if n < 0 {
		return -roundHalfUp(-n, d)
	}
	return (2*n + d) / (2 * d)
}
