package market

import (
	"fmt"
	"math"
	"math/bits"
)

const (
	// ScaleFactor is the fixed-point multiplier for every money and price
	// value: a stored 12500 is displayed as 12.500.
	ScaleFactor = uint64(1_000)
	ScaleDigits = 3

	// MaxPrice keeps prices storable in a signed BIGINT column.
	MaxPrice = uint64(math.MaxInt64)
)

// MulChecked returns a*b or ErrOverflow if the product does not fit in 64 bits.
func MulChecked(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	return lo, nil
}

// AddChecked returns a+b or ErrOverflow.
func AddChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}

// Scale converts a whole display amount into its fixed-point representation.
func Scale(v uint64) (uint64, error) {
	return MulChecked(v, ScaleFactor)
}

// ApplyRate returns floor(amount*rate/ScaleFactor). The truncation is part of
// the fee contract: fees always round in the house's favor.
func ApplyRate(amount, rate uint64) (uint64, error) {
	product, err := MulChecked(amount, rate)
	if err != nil {
		return 0, err
	}
	return product / ScaleFactor, nil
}

// FormatScaled renders a scaled value with three decimals.
func FormatScaled(v uint64) string {
	return fmt.Sprintf("%d.%03d", v/ScaleFactor, v%ScaleFactor)
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// toSigned converts a counter into int64, saturating at MaxInt64.
func toSigned(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
