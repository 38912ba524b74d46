package billing

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
)

// Round2 rounds a monetary amount to two decimal places.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

// ToMinorUnits converts a major-unit amount into minor units, truncating sub-minor fractions.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Truncate(0).IntPart()
}

// FromMinorUnits converts minor units back into a major-unit amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ApplyPercentage returns amount * percentage / 100 rounded to two places.
func ApplyPercentage(amount, percentage decimal.Decimal) decimal.Decimal {
	return Round2(amount.Mul(percentage).Div(hundred))
}

// Float returns the amount as float64 for JSON payloads.
func Float(amount decimal.Decimal) float64 {
	f, _ := Round2(amount).Float64()
	return f
}
