// Package tradingutils holds decimal helpers shared by normalization, execution and reporting
package tradingutils

import (
	"github.com/shopspring/decimal"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// RoundToStep floors qty to a multiple of step. A zero step returns qty unchanged.
func RoundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// RoundToTick rounds price to the nearest multiple of tick
func RoundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if tick.Sign() <= 0 {
		return price
	}
	return price.Div(tick).Round(0).Mul(tick)
}

// Escalate returns price × (1 + adjustment × attempt), the price used on retry attempt k
func Escalate(price, adjustment decimal.Decimal, attempt int) decimal.Decimal {
	if attempt <= 0 {
		return price
	}
	return price.Mul(one.Add(adjustment.Mul(decimal.NewFromInt(int64(attempt)))))
}

// ProtectivePrices returns take-profit and stop-loss trigger prices for a position
// entered at entry. For a long, tp is above entry and sl below; a short is mirrored.
func ProtectivePrices(entry, tpPct, slPct decimal.Decimal, long bool) (tp, sl decimal.Decimal) {
	if long {
		return entry.Mul(one.Add(tpPct)), entry.Mul(one.Sub(slPct))
	}
	return entry.Mul(one.Sub(tpPct)), entry.Mul(one.Add(slPct))
}

// PriceChangePct is the signed percentage move from entry to exit in the position's favour
func PriceChangePct(entry, exit decimal.Decimal, long bool) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}
	change := exit.Sub(entry).Div(entry).Mul(hundred)
	if !long {
		change = change.Neg()
	}
	return change
}

// LeveragedPnLPct scales a price-change percentage by leverage
func LeveragedPnLPct(changePct decimal.Decimal, leverage int) decimal.Decimal {
	return changePct.Mul(decimal.NewFromInt(int64(leverage)))
}

// PnLQuote is the realized result in the quote asset for qty closed at exit
func PnLQuote(entry, exit, qty decimal.Decimal, long bool) decimal.Decimal {
	diff := exit.Sub(entry)
	if !long {
		diff = diff.Neg()
	}
	return diff.Mul(qty)
}

// WithinTolerance reports |a-b| <= tol
func WithinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}
