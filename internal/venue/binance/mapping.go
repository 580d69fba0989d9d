package binance

import (
	"fmt"
	"strconv"
	"time"

	"signalbot/internal/core"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

func toFuturesSide(s core.Side) futures.SideType {
	if s == core.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func fromFuturesSide(s futures.SideType) core.Side {
	if s == futures.SideTypeSell {
		return core.SideSell
	}
	return core.SideBuy
}

func toFuturesType(k core.OrderKind) (futures.OrderType, error) {
	switch k {
	case core.OrderKindLimit:
		return futures.OrderTypeLimit, nil
	case core.OrderKindMarket:
		return futures.OrderTypeMarket, nil
	case core.OrderKindStopMarket:
		return futures.OrderTypeStopMarket, nil
	case core.OrderKindStop:
		return futures.OrderTypeStop, nil
	case core.OrderKindTakeProfitMarket:
		return futures.OrderTypeTakeProfitMarket, nil
	case core.OrderKindTakeProfit:
		return futures.OrderTypeTakeProfit, nil
	}
	return "", fmt.Errorf("unsupported order kind %q", k)
}

func fromFuturesType(t futures.OrderType) core.OrderKind {
	switch t {
	case futures.OrderTypeMarket:
		return core.OrderKindMarket
	case futures.OrderTypeStopMarket:
		return core.OrderKindStopMarket
	case futures.OrderTypeStop:
		return core.OrderKindStop
	case futures.OrderTypeTakeProfitMarket:
		return core.OrderKindTakeProfitMarket
	case futures.OrderTypeTakeProfit:
		return core.OrderKindTakeProfit
	default:
		return core.OrderKindLimit
	}
}

func fromFuturesStatus(s futures.OrderStatusType) core.OrderStatus {
	switch s {
	case futures.OrderStatusTypePartiallyFilled:
		return core.OrderStatusPartiallyFilled
	case futures.OrderStatusTypeFilled:
		return core.OrderStatusFilled
	case futures.OrderStatusTypeCanceled:
		return core.OrderStatusCanceled
	case futures.OrderStatusTypeRejected:
		return core.OrderStatusRejected
	case futures.OrderStatusTypeExpired:
		return core.OrderStatusExpired
	default:
		return core.OrderStatusNew
	}
}

// dec parses a venue decimal string; blanks and garbage read as zero
func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func fromFuturesOrder(o *futures.Order) *core.Order {
	return &core.Order{
		ID:            o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          fromFuturesSide(o.Side),
		Kind:          fromFuturesType(o.Type),
		Quantity:      dec(o.OrigQuantity),
		Price:         dec(o.Price),
		StopPrice:     dec(o.StopPrice),
		Status:        fromFuturesStatus(o.Status),
		ExecutedQty:   dec(o.ExecutedQuantity),
		AvgPrice:      dec(o.AvgPrice),
		ReduceOnly:    o.ReduceOnly,
		UpdatedAt:     time.UnixMilli(o.UpdateTime),
	}
}

func fromCreateResponse(r *futures.CreateOrderResponse, req *core.PlaceOrderRequest) *core.Order {
	return &core.Order{
		ID:            r.OrderID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          req.Side,
		Kind:          req.Kind,
		Quantity:      dec(r.OrigQuantity),
		Price:         dec(r.Price),
		StopPrice:     dec(r.StopPrice),
		Status:        fromFuturesStatus(r.Status),
		ExecutedQty:   dec(r.ExecutedQuantity),
		ReduceOnly:    r.ReduceOnly,
		UpdatedAt:     time.UnixMilli(r.UpdateTime),
	}
}

// positionFromRisk folds one-way-mode position risk rows into a single position.
// A signed amount of zero (or no rows) is flat.
func positionFromRisk(symbol string, rows []*futures.PositionRisk) *core.Position {
	for _, r := range rows {
		if r.Symbol != symbol {
			continue
		}
		amt := dec(r.PositionAmt)
		if amt.IsZero() {
			continue
		}
		side := core.PositionLong
		if amt.IsNegative() {
			side = core.PositionShort
		}
		return &core.Position{
			Symbol:        symbol,
			Side:          side,
			Size:          amt.Abs(),
			EntryPrice:    dec(r.EntryPrice),
			MarkPrice:     dec(r.MarkPrice),
			UnrealizedPnL: dec(r.UnRealizedProfit),
		}
	}
	return core.FlatPosition(symbol)
}

func filtersFromSymbol(s futures.Symbol) (*core.SymbolFilters, error) {
	lot := s.LotSizeFilter()
	price := s.PriceFilter()
	if lot == nil || price == nil {
		return nil, fmt.Errorf("symbol %s is missing LOT_SIZE or PRICE_FILTER", s.Symbol)
	}
	return &core.SymbolFilters{
		Symbol:   s.Symbol,
		MinQty:   dec(lot.MinQuantity),
		StepSize: dec(lot.StepSize),
		TickSize: dec(price.TickSize),
	}, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func barFromKline(k *futures.Kline, now time.Time) core.Bar {
	return core.Bar{
		OpenTime: time.UnixMilli(k.OpenTime),
		Open:     parseFloat(k.Open),
		High:     parseFloat(k.High),
		Low:      parseFloat(k.Low),
		Close:    parseFloat(k.Close),
		Volume:   parseFloat(k.Volume),
		Closed:   time.UnixMilli(k.CloseTime).Before(now),
	}
}
