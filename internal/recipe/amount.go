package recipe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultUnit is assumed when an amount is a bare number.
const DefaultUnit = "oz"

// Amount is a parsed "<number> <unit>" quantity.
type Amount struct {
	Value float64
	Unit  string
}

// ParseAmount parses "1.5 oz", "2 ounces" or a bare "2" (ounces).
// Anything else returns ErrInvalidAmount.
func ParseAmount(s string) (Amount, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	unit := DefaultUnit
	if len(fields) > 1 {
		unit = strings.Join(fields[1:], " ")
	}
	return Amount{Value: v, Unit: unit}, nil
}

// Scale multiplies the quantity, keeping the unit.
func (a Amount) Scale(factor float64) Amount {
	return Amount{Value: a.Value * factor, Unit: a.Unit}
}

// String formats the amount the way the recipe store writes amounts:
// "1.5 oz", "2 oz".
func (a Amount) String() string {
	return strconv.FormatFloat(a.Value, 'f', -1, 64) + " " + a.Unit
}
