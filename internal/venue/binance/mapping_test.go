package binance

import (
	"testing"
	"time"

	"signalbot/internal/core"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionFromRisk(t *testing.T) {
	rows := []*futures.PositionRisk{
		{Symbol: "ETHUSDT", PositionAmt: "1"},
		{Symbol: "BTCUSDT", PositionAmt: "-0.015", EntryPrice: "60000.5", MarkPrice: "59990", UnRealizedProfit: "0.15"},
	}
	pos := positionFromRisk("BTCUSDT", rows)
	assert.Equal(t, core.PositionShort, pos.Side)
	assert.True(t, decimal.RequireFromString("0.015").Equal(pos.Size))
	assert.True(t, decimal.RequireFromString("60000.5").Equal(pos.EntryPrice))

	flat := positionFromRisk("BTCUSDT", []*futures.PositionRisk{{Symbol: "BTCUSDT", PositionAmt: "0.000"}})
	assert.True(t, flat.IsFlat())
	assert.True(t, positionFromRisk("BTCUSDT", nil).IsFlat())
}

func TestOrderMapping(t *testing.T) {
	o := fromFuturesOrder(&futures.Order{
		Symbol:           "BTCUSDT",
		OrderID:          42,
		Side:             futures.SideTypeSell,
		Type:             futures.OrderTypeTakeProfitMarket,
		Status:           futures.OrderStatusTypeExpired,
		OrigQuantity:     "0.010",
		StopPrice:        "61000",
		ExecutedQuantity: "0",
		ReduceOnly:       true,
	})
	assert.Equal(t, int64(42), o.ID)
	assert.Equal(t, core.SideSell, o.Side)
	assert.True(t, o.Kind.IsTakeProfit())
	assert.True(t, o.Status.IsTerminal())
	assert.True(t, o.ReduceOnly)

	for _, k := range []core.OrderKind{core.OrderKindLimit, core.OrderKindMarket, core.OrderKindStopMarket,
		core.OrderKindStop, core.OrderKindTakeProfitMarket, core.OrderKindTakeProfit} {
		ft, err := toFuturesType(k)
		require.NoError(t, err)
		assert.Equal(t, k, fromFuturesType(ft))
	}
	_, err := toFuturesType("ICEBERG")
	assert.Error(t, err)
}

func TestBarFromKline(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	closed := barFromKline(&futures.Kline{OpenTime: now.Add(-2 * time.Hour).UnixMilli(), CloseTime: now.Add(-time.Hour).UnixMilli() - 1,
		Open: "1", High: "3", Low: "0.5", Close: "2", Volume: "10"}, now)
	assert.True(t, closed.Closed)
	assert.Equal(t, 2.0, closed.Close)

	open := barFromKline(&futures.Kline{OpenTime: now.Add(-time.Minute).UnixMilli(), CloseTime: now.Add(time.Hour).UnixMilli()}, now)
	assert.False(t, open.Closed)
}
