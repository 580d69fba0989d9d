// Package venue holds venue-agnostic wrappers around core.IVenue: clock-skew
// recovery, periodic time sync, symbol normalization and the REST bar source.
package venue

import (
	"context"
	"errors"
	"time"

	"signalbot/internal/core"
	apperrors "signalbot/pkg/errors"

	"github.com/shopspring/decimal"
)

// ClockGuard retries a call exactly once after a time resync when the venue
// rejects it for a timestamp outside the receive window.
type ClockGuard struct {
	inner  core.IVenue
	logger core.ILogger
}

var _ core.IVenue = (*ClockGuard)(nil)

// NewClockGuard wraps inner
func NewClockGuard(inner core.IVenue, logger core.ILogger) *ClockGuard {
	return &ClockGuard{
		inner:  inner,
		logger: logger.WithField("component", "clock_guard"),
	}
}

func guarded[T any](ctx context.Context, g *ClockGuard, op string, fn func() (T, error)) (T, error) {
	res, err := fn()
	if err == nil || !errors.Is(err, apperrors.ErrTimestampOutOfBounds) {
		return res, err
	}

	g.logger.Warn("Timestamp outside recvWindow, resyncing", "op", op, "error", err)
	if _, syncErr := g.inner.SyncTime(ctx); syncErr != nil {
		g.logger.Error("Time resync failed", "op", op, "error", syncErr)
		return res, err
	}
	return fn()
}

func guardedErr(ctx context.Context, g *ClockGuard, op string, fn func() error) error {
	_, err := guarded(ctx, g, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (g *ClockGuard) GetName() string {
	return g.inner.GetName()
}

func (g *ClockGuard) CreateOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	return guarded(ctx, g, "create_order", func() (*core.Order, error) {
		return g.inner.CreateOrder(ctx, req)
	})
}

func (g *ClockGuard) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return guardedErr(ctx, g, "cancel_order", func() error {
		return g.inner.CancelOrder(ctx, symbol, orderID)
	})
}

func (g *ClockGuard) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return guardedErr(ctx, g, "cancel_all", func() error {
		return g.inner.CancelAllOpenOrders(ctx, symbol)
	})
}

func (g *ClockGuard) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*core.Order, error) {
	return guarded(ctx, g, "get_order", func() (*core.Order, error) {
		return g.inner.GetOrderStatus(ctx, symbol, orderID)
	})
}

func (g *ClockGuard) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	return guarded(ctx, g, "open_orders", func() ([]*core.Order, error) {
		return g.inner.GetOpenOrders(ctx, symbol)
	})
}

func (g *ClockGuard) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	return guarded(ctx, g, "position", func() (*core.Position, error) {
		return g.inner.GetPosition(ctx, symbol)
	})
}

func (g *ClockGuard) GetSymbolFilters(ctx context.Context, symbol string) (*core.SymbolFilters, error) {
	return g.inner.GetSymbolFilters(ctx, symbol)
}

func (g *ClockGuard) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return g.inner.GetTicker(ctx, symbol)
}

func (g *ClockGuard) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]core.Bar, error) {
	return g.inner.GetBars(ctx, symbol, timeframe, limit)
}

func (g *ClockGuard) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return guardedErr(ctx, g, "set_leverage", func() error {
		return g.inner.SetLeverage(ctx, symbol, leverage)
	})
}

func (g *ClockGuard) GetServerTime(ctx context.Context) (time.Time, error) {
	return g.inner.GetServerTime(ctx)
}

func (g *ClockGuard) SyncTime(ctx context.Context) (time.Duration, error) {
	return g.inner.SyncTime(ctx)
}
