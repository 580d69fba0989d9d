// Package safety provides the startup checks run before the trading loop
package safety

import (
	"context"
	"errors"
	"fmt"

	"signalbot/internal/core"
	"signalbot/internal/venue"

	"github.com/shopspring/decimal"
)

// Params are the trading parameters being validated
type Params struct {
	Symbol        string
	Leverage      int
	TradeAmount   decimal.Decimal
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
}

// Report is the outcome of a successful startup check
type Report struct {
	Normalizer *venue.Normalizer
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	// Existing is the venue position found at startup, nil when flat
	Existing *core.Position
}

// SafetyChecker implements safety validation checks
type SafetyChecker struct {
	logger core.ILogger
}

// NewSafetyChecker creates a new safety checker
func NewSafetyChecker(logger core.ILogger) *SafetyChecker {
	return &SafetyChecker{
		logger: logger.WithField("component", "safety"),
	}
}

// CheckStartup validates p against the venue, applies the leverage and
// reports any position that is already open so it can be adopted.
func (s *SafetyChecker) CheckStartup(ctx context.Context, v core.IVenue, p Params) (*Report, error) {
	if err := s.ValidateTradingParameters(p); err != nil {
		return nil, err
	}

	s.logger.Info("Starting startup safety check", "symbol", p.Symbol, "leverage", p.Leverage, "trade_amount", p.TradeAmount)

	price, err := s.CheckVenueConnectivity(ctx, v, p.Symbol)
	if err != nil {
		return nil, err
	}

	normalizer, err := venue.LoadNormalizer(ctx, v, p.Symbol)
	if err != nil {
		return nil, err
	}
	filters := normalizer.Filters()
	if filters == nil || filters.StepSize.Sign() <= 0 || filters.TickSize.Sign() <= 0 {
		return nil, fmt.Errorf("symbol filters for %s are incomplete", p.Symbol)
	}

	raw := p.TradeAmount.Div(price)
	if raw.LessThan(filters.MinQty) {
		return nil, fmt.Errorf("trade amount %s buys %s %s at %s, below the minimum quantity %s",
			p.TradeAmount, raw.StringFixed(8), p.Symbol, price, filters.MinQty)
	}
	qty, err := normalizer.QuantityFor(p.TradeAmount, price)
	if err != nil {
		return nil, err
	}

	if err := v.SetLeverage(ctx, p.Symbol, p.Leverage); err != nil {
		return nil, fmt.Errorf("set leverage %dx: %w", p.Leverage, err)
	}

	report := &Report{Normalizer: normalizer, Price: price, Quantity: qty}

	pos, err := v.GetPosition(ctx, p.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	if pos != nil && !pos.IsFlat() {
		// an open position is adopted rather than traded over
		s.logger.Warn("Detected existing position, adopting it",
			"side", pos.Side,
			"size", pos.Size.String(),
			"entry_price", pos.EntryPrice.String())
		report.Existing = pos
	}

	s.logger.Info("Startup safety check completed successfully",
		"price", price.String(),
		"quantity", qty.String(),
		"min_qty", filters.MinQty.String())
	return report, nil
}

// ValidateTradingParameters validates trading parameters for safety
func (s *SafetyChecker) ValidateTradingParameters(p Params) error {
	var errs []error

	if p.Symbol == "" {
		errs = append(errs, errors.New("trading symbol cannot be empty"))
	}
	if p.Leverage < 1 || p.Leverage > 125 {
		errs = append(errs, fmt.Errorf("leverage must be between 1 and 125: %d", p.Leverage))
	}
	if p.TradeAmount.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, fmt.Errorf("trade amount must be positive: %s", p.TradeAmount))
	}
	if p.TakeProfitPct.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, fmt.Errorf("take-profit distance must be positive: %s", p.TakeProfitPct))
	}
	if p.StopLossPct.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, fmt.Errorf("stop-loss distance must be positive: %s", p.StopLossPct))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	// a stop further away than the margin can absorb is never reached
	if p.StopLossPct.Mul(decimal.NewFromInt(int64(p.Leverage))).GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("stop-loss %s%% at %dx lies beyond liquidation",
			p.StopLossPct.Shift(2).String(), p.Leverage)
	}
	if p.Leverage > 20 {
		s.logger.Warn("High leverage configured", "leverage", p.Leverage, "recommended_max", 20)
	}
	return nil
}

// CheckVenueConnectivity performs basic connectivity checks and returns the
// current price
func (s *SafetyChecker) CheckVenueConnectivity(ctx context.Context, v core.IVenue, symbol string) (decimal.Decimal, error) {
	s.logger.Info("Checking venue connectivity", "venue", v.GetName())

	if _, err := v.GetServerTime(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("server time access failed: %w", err)
	}

	price, err := v.GetTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price access failed: %w", err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("invalid price received: %s", price)
	}

	if _, err := v.GetOpenOrders(ctx, symbol); err != nil {
		s.logger.Warn("Open orders access failed (may be normal)", "error", err.Error())
	}

	s.logger.Info("Venue connectivity check passed", "venue", v.GetName(), "price", price.String())
	return price, nil
}
