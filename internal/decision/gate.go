// Package decision holds the pipeline's only judgment calls: whether the
// live price still admits an alerted trade, and how large the order is.
package decision

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy selects how the admission band is interpreted.
type Policy string

const (
	// PolicyCeiling admits any price at or below high plus tolerance. The
	// alert band is a ceiling: the instruction is not to chase price above
	// the stated range, and prices below it are a better entry.
	PolicyCeiling Policy = "ceiling"
	// PolicyBand admits only prices within tolerance of the band midpoint,
	// on both sides. Stricter variant kept for configuration parity.
	PolicyBand Policy = "band"
)

var hundred = decimal.NewFromInt(100)

// Gate decides whether the current price still admits an alerted trade.
type Gate struct {
	policy       Policy
	tolerancePct decimal.Decimal
}

func NewGate(policy Policy, tolerancePct decimal.Decimal) (*Gate, error) {
	switch policy {
	case PolicyCeiling, PolicyBand:
	default:
		return nil, fmt.Errorf("decision: unknown gate policy %q", policy)
	}
	if tolerancePct.IsNegative() {
		return nil, fmt.Errorf("decision: tolerance must be >= 0, got %s", tolerancePct)
	}
	return &Gate{policy: policy, tolerancePct: tolerancePct}, nil
}

// Admit reports whether price is actionable against the [low, high] band.
// Boundaries are inclusive. The reason explains a rejection.
func (g *Gate) Admit(price, low, high decimal.Decimal) (bool, string) {
	tol := g.tolerancePct.Div(hundred)

	switch g.policy {
	case PolicyBand:
		mid := low.Add(high).Div(decimal.NewFromInt(2))
		width := mid.Mul(tol)
		lower, upper := mid.Sub(width), mid.Add(width)
		if price.LessThan(lower) || price.GreaterThan(upper) {
			return false, fmt.Sprintf("price %s outside band [%s, %s]", price, lower, upper)
		}
		return true, ""
	default: // PolicyCeiling
		ceiling := high.Mul(decimal.NewFromInt(1).Add(tol))
		if price.GreaterThan(ceiling) {
			return false, fmt.Sprintf("price %s above ceiling %s", price, ceiling)
		}
		return true, ""
	}
}
