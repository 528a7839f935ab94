package decision

import "github.com/shopspring/decimal"

// Quantity sizes an order against a fixed cash budget: floor(budget/price).
// Non-positive prices size to zero rather than erroring; a zero quantity is
// the caller's signal to skip the trade.
func Quantity(price, cashBudget decimal.Decimal) int {
	if !price.IsPositive() || !cashBudget.IsPositive() {
		return 0
	}
	// QuoRem with precision 0 is an exact integer division, immune to the
	// rounding of Div at high precision.
	quo, _ := cashBudget.QuoRem(price, 0)
	return int(quo.IntPart())
}
