package billing

import (
	"math"

	"github.com/shopspring/decimal"
)

// UsagePrecision is the number of decimal digits kept by SumUsage.
const UsagePrecision = 6

// Round rounds value half-to-even at the given number of decimal digits.
// Rounding applies to the shortest decimal form of value, not its binary
// expansion, so 2.675 rounds to 2.68. Negative digits round to a power of
// ten. Non-finite values are returned unchanged.
func Round(value float64, digits int) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	return decimal.NewFromFloat(value).RoundBank(int32(digits)).InexactFloat64()
}
