package usecase

import (
	"time"

	"github.com/shopspring/decimal"
)

// Prorate computes the amount owed, in minor units, when a subscription
// moves from a plan priced oldPriceCents to one priced newPriceCents with
// part of the current cycle remaining.
//
// With zero or negative whole days remaining the new plan's full price is
// charged. Otherwise the charge is the price delta scaled by the remaining
// share of the cycle; downgrades never produce a refund, only a no-charge
// swap. All arithmetic stays in minor-unit integers with a single
// round-half-up applied at the final step.
func Prorate(oldPriceCents, newPriceCents int64, periodStart, periodEnd, now time.Time) int64 {
	totalDays := wholeDays(periodStart, periodEnd)
	remainingDays := wholeDays(now, periodEnd)

	if remainingDays <= 0 || totalDays <= 0 {
		return newPriceCents
	}
	if remainingDays > totalDays {
		remainingDays = totalDays
	}

	delta := decimal.NewFromInt(newPriceCents - oldPriceCents).
		Mul(decimal.NewFromInt(remainingDays)).
		DivRound(decimal.NewFromInt(totalDays), 0)

	if delta.IsNegative() {
		return 0
	}
	return delta.IntPart()
}

func wholeDays(from, to time.Time) int64 {
	return int64(to.Sub(from) / (24 * time.Hour))
}
