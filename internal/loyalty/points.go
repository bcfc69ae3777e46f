package loyalty

import "github.com/storefront-labs/checkout/internal/config"

// PointsForAmount converts an actually-paid amount into earned points:
// one point per cfg.EarnDivisor VND, rounded down. Amounts below the divisor
// but at or above cfg.MinEarnAmount still earn a single point; anything
// smaller earns nothing.
func PointsForAmount(amountPaid int64, cfg config.Loyalty) int {
	if amountPaid <= 0 {
		return 0
	}
	points := int(amountPaid / cfg.EarnDivisor)
	if points == 0 && amountPaid >= cfg.MinEarnAmount {
		return 1
	}
	return points
}

// RedeemDiscount values pointsUsed against the order total. The discount is
// clamped so the total never goes negative; the caller still records the full
// point count in the REDEEM transaction.
func RedeemDiscount(pointsUsed int, baseTotal int64, cfg config.Loyalty) int64 {
	if pointsUsed <= 0 {
		return 0
	}
	discount := int64(pointsUsed) * cfg.PointValue
	if discount > baseTotal {
		return baseTotal
	}
	return discount
}
