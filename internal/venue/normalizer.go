package venue

import (
	"context"
	"fmt"

	"signalbot/internal/core"
	apperrors "signalbot/pkg/errors"
	"signalbot/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Normalizer adapts quantities and prices to a symbol's LOT_SIZE and PRICE_FILTER
type Normalizer struct {
	filters *core.SymbolFilters
}

var _ core.INormalizer = (*Normalizer)(nil)

// NewNormalizer builds a normalizer from known filters. A nil filters value
// yields a normalizer that rejects everything.
func NewNormalizer(filters *core.SymbolFilters) *Normalizer {
	return &Normalizer{filters: filters}
}

// LoadNormalizer fetches filters for symbol from the venue
func LoadNormalizer(ctx context.Context, v core.IVenue, symbol string) (*Normalizer, error) {
	f, err := v.GetSymbolFilters(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load filters for %s: %w", symbol, err)
	}
	return NewNormalizer(f), nil
}

// Filters returns the filters in use
func (n *Normalizer) Filters() *core.SymbolFilters {
	return n.filters
}

// AdjustQuantity raises raw to minQty and floors it to stepSize
func (n *Normalizer) AdjustQuantity(raw decimal.Decimal) (decimal.Decimal, bool) {
	if n.filters == nil || raw.Sign() <= 0 {
		return decimal.Zero, false
	}
	qty := decimal.Max(raw, n.filters.MinQty)
	qty = tradingutils.RoundToStep(qty, n.filters.StepSize)
	if qty.Sign() <= 0 {
		return decimal.Zero, false
	}
	return qty, true
}

// AdjustPrice rounds raw to the nearest tick
func (n *Normalizer) AdjustPrice(raw decimal.Decimal) (decimal.Decimal, bool) {
	if n.filters == nil || raw.Sign() <= 0 {
		return decimal.Zero, false
	}
	price := tradingutils.RoundToTick(raw, n.filters.TickSize)
	if price.Sign() <= 0 {
		return decimal.Zero, false
	}
	return price, true
}

// QuantityFor derives the order quantity for a quote-asset amount at price
func (n *Normalizer) QuantityFor(amount, price decimal.Decimal) (decimal.Decimal, error) {
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price %s: %w", price, apperrors.ErrNormalizationFailed)
	}
	qty, ok := n.AdjustQuantity(amount.Div(price))
	if !ok {
		return decimal.Zero, fmt.Errorf("quantity for %s at %s: %w", amount, price, apperrors.ErrNormalizationFailed)
	}
	return qty, nil
}
