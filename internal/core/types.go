package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or signal
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the closing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide returns the position direction an entry on this side opens
func (s Side) PositionSide() PositionSide {
	if s == SideBuy {
		return PositionLong
	}
	return PositionShort
}

// PositionSide is the direction of a venue position
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionFlat  PositionSide = "FLAT"
)

// EntrySide returns the order side that opened a position of this direction
func (p PositionSide) EntrySide() Side {
	if p == PositionShort {
		return SideSell
	}
	return SideBuy
}

// OrderKind is the venue order type
type OrderKind string

const (
	OrderKindLimit            OrderKind = "LIMIT"
	OrderKindMarket           OrderKind = "MARKET"
	OrderKindStopMarket       OrderKind = "STOP_MARKET"
	OrderKindStop             OrderKind = "STOP"
	OrderKindTakeProfitMarket OrderKind = "TAKE_PROFIT_MARKET"
	OrderKindTakeProfit       OrderKind = "TAKE_PROFIT"
)

// IsStopLoss reports whether the kind protects against adverse moves
func (k OrderKind) IsStopLoss() bool {
	return k == OrderKindStopMarket || k == OrderKindStop
}

// IsTakeProfit reports whether the kind locks in gains
func (k OrderKind) IsTakeProfit() bool {
	return k == OrderKindTakeProfitMarket || k == OrderKindTakeProfit
}

// OrderStatus is the lifecycle state reported by the venue
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether no further transitions are possible
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsOpen reports whether the order still rests on the book
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusNew || s == OrderStatusPartiallyFilled
}

// Order is the engine's cached projection of a venue order
type Order struct {
	ID            int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Kind          OrderKind
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	Status        OrderStatus
	ExecutedQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	ReduceOnly    bool
	UpdatedAt     time.Time
}

// PlaceOrderRequest describes an order to submit
type PlaceOrderRequest struct {
	Symbol        string
	Side          Side
	Kind          OrderKind
	Quantity      decimal.Decimal
	Price         decimal.Decimal // LIMIT only
	StopPrice     decimal.Decimal // STOP_MARKET / TAKE_PROFIT_MARKET
	ReduceOnly    bool
	ClientOrderID string
}

// Position is a snapshot of the venue position for one symbol
type Position struct {
	Symbol        string
	Side          PositionSide
	Size          decimal.Decimal // always non-negative
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// IsFlat reports whether no exposure exists
func (p Position) IsFlat() bool {
	return p.Side == PositionFlat || p.Size.IsZero()
}

// FlatPosition returns an empty position for symbol
func FlatPosition(symbol string) *Position {
	return &Position{Symbol: symbol, Side: PositionFlat}
}

// SymbolFilters are the venue trading constraints for a symbol
type SymbolFilters struct {
	Symbol   string
	MinQty   decimal.Decimal
	StepSize decimal.Decimal
	TickSize decimal.Decimal
}

// Bar is one OHLCV candle
type Bar struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Closed   bool
}

// Decision is the raw output of a signal generator for the latest bar
type Decision struct {
	Buy        bool
	Sell       bool
	Price      float64
	Indicators map[string]float64
}

// Side returns the signalled side, if any
func (d Decision) Side() (Side, bool) {
	switch {
	case d.Buy:
		return SideBuy, true
	case d.Sell:
		return SideSell, true
	}
	return "", false
}

// Signal is a captured trade decision
type Signal struct {
	ID          string
	Symbol      string
	Side        Side
	Price       decimal.Decimal
	Indicators  map[string]float64
	DetectedAt  time.Time
	CandleStart time.Time
}

// PendingSignal is a signal awaiting confirmation
type PendingSignal struct {
	Signal   Signal
	Deadline time.Time
}

// TradeIntent is a confirmed request to open a position
type TradeIntent struct {
	Signal      Signal
	Side        Side
	EntryPrice  decimal.Decimal
	Quantity    decimal.Decimal
	CandleStart time.Time // candle window the trade is opened in
}

// ActiveTrade tracks the orders of the currently open position
type ActiveTrade struct {
	SignalID        string
	Symbol          string
	Side            Side
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	EntryOrderID    int64
	StopLossID      int64
	TakeProfitID    int64
	OpenedAt        time.Time
	CandleStart     time.Time
}

// OrderIDs returns the non-zero order IDs of the trade group
func (t ActiveTrade) OrderIDs() []int64 {
	ids := make([]int64, 0, 3)
	for _, id := range []int64{t.EntryOrderID, t.StopLossID, t.TakeProfitID} {
		if id != 0 {
			ids = append(ids, id)
		}
	}
	return ids
}
