package meter

import (
	"math"

	"github.com/shopspring/decimal"
)

// ExtractDecimal pulls a numeric value from raw worker data by register name.
// Returns decimal.Zero if the field is missing or not a finite number.
func ExtractDecimal(data map[string]float64, field string) decimal.Decimal {
	if field == "" {
		return decimal.Zero
	}
	v, ok := data[field]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

// Scale applies a register scale factor to a raw device value.
// A zero scale is treated as 1 so unscaled descriptors pass values through.
func Scale(raw float64, scale float64) float64 {
	if scale == 0 {
		scale = 1
	}
	v, _ := decimal.NewFromFloat(raw).Mul(decimal.NewFromFloat(scale)).Float64()
	return v
}
