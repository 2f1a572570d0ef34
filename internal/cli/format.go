package cli

import (
	"math/big"

	"github.com/shopspring/decimal"

	"clickstonks/internal/market"
)

var hundred = decimal.NewFromInt(100)

// scaled converts a fixed-point value into a decimal in display units.
func scaled(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -market.ScaleDigits)
}

// FormatMoney renders a scaled amount with two decimals, e.g. 12345 -> "12.35".
func FormatMoney(v uint64) string {
	return scaled(v).StringFixed(2)
}

// FormatRate renders a per-mille fee rate as a percentage, e.g. 15 -> "1.5%".
func FormatRate(rate uint64) string {
	return scaled(rate).Mul(hundred).String() + "%"
}

// FormatChange renders the relative move from last to current price.
func FormatChange(last, current uint64) string {
	if last == 0 {
		return "n/a"
	}
	from := scaled(last)
	pct := scaled(current).Sub(from).Div(from).Mul(hundred).Round(2)
	if pct.IsPositive() {
		return "+" + pct.StringFixed(2) + "%"
	}
	return pct.StringFixed(2) + "%"
}
