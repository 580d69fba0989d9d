// Package core defines the domain types and collaborator interfaces of the execution engine
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IVenue defines the operations the engine consumes from a margin-trading venue
type IVenue interface {
	GetName() string

	// Order operations
	CreateOrder(ctx context.Context, req *PlaceOrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*Order, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)

	// Account and market data
	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)
	GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]Bar, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// Clock
	GetServerTime(ctx context.Context) (time.Time, error)
	SyncTime(ctx context.Context) (time.Duration, error)
}

// IBarSource supplies the bar window the signal generator evaluates
type IBarSource interface {
	Bars(ctx context.Context) ([]Bar, error)
}

// ISignalGenerator turns a bar window into a decision for the latest bar
type ISignalGenerator interface {
	Name() string
	Evaluate(bars []Bar) Decision
}

// INotifier delivers human-readable messages. Delivery is best-effort.
type INotifier interface {
	Notify(ctx context.Context, message string) bool
}

// IAuditSink persists trade milestones
type IAuditSink interface {
	RecordSignal(ctx context.Context, sig Signal) (string, error)
	RecordSignalConfirmed(ctx context.Context, signalID string, price decimal.Decimal, waited time.Duration) error
	RecordSignalCancelled(ctx context.Context, signalID string, price decimal.Decimal, waited time.Duration) error
	RecordPositionOpened(ctx context.Context, signalID string, price decimal.Decimal) error
	RecordPositionClosed(ctx context.Context, signalID string, exitPrice, pnlUSD, pnlPct decimal.Decimal) error
	RecordPositionCanceled(ctx context.Context, signalID string, exitPrice, pnlUSD, pnlPct decimal.Decimal) error
	RecordEvent(ctx context.Context, event AuditEvent) error
}

// INormalizer adapts raw values to venue constraints
type INormalizer interface {
	AdjustQuantity(raw decimal.Decimal) (decimal.Decimal, bool)
	AdjustPrice(raw decimal.Decimal) (decimal.Decimal, bool)
}

// IHealerScheduler schedules a delayed protective-order check
type IHealerScheduler interface {
	Schedule(trade ActiveTrade, delay time.Duration)
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
