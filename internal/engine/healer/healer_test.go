package healer

import (
	"context"
	"testing"
	"time"

	"signalbot/internal/core"
	"signalbot/internal/engine/state"
	"signalbot/internal/mock"
	"signalbot/internal/trading/order"
	"signalbot/internal/venue"
	"signalbot/pkg/concurrency"
	"signalbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	venue  *mock.Venue
	store  *state.Store
	healer *Healer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.NewNop()
	v := mock.NewVenue()
	store := state.NewStore("BTCUSDT")
	n := venue.NewNormalizer(&core.SymbolFilters{
		Symbol: "BTCUSDT", MinQty: d("0.001"), StepSize: d("0.001"), TickSize: d("0.1"),
	})
	opts := order.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	placer := order.NewOrderExecutor(v, n, opts, logger)
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "healer", MaxWorkers: 1}, logger)

	h := NewHealer(Config{TakeProfitPct: d("0.005"), StopLossPct: d("0.02")}, v, placer, store, n, nil, pool, logger)
	t.Cleanup(h.Stop)
	return &fixture{venue: v, store: store, healer: h}
}

func (f *fixture) openLong(t *testing.T) (core.ActiveTrade, *core.Order, *core.Order) {
	t.Helper()
	ctx := context.Background()
	f.venue.SetPosition("BTCUSDT", core.PositionLong, d("0.01"), d("50000"))
	f.venue.SetPrice("BTCUSDT", d("50000"))

	sl, err := f.venue.CreateOrder(ctx, &core.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: core.SideSell, Kind: core.OrderKindStopMarket,
		Quantity: d("0.01"), StopPrice: d("49000"), ReduceOnly: true,
	})
	require.NoError(t, err)
	tp, err := f.venue.CreateOrder(ctx, &core.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: core.SideSell, Kind: core.OrderKindTakeProfitMarket,
		Quantity: d("0.01"), StopPrice: d("50250"), ReduceOnly: true,
	})
	require.NoError(t, err)

	f.store.TrackOrder(&core.Order{ID: 1, Status: core.OrderStatusFilled})
	f.store.TrackOrder(sl)
	f.store.TrackOrder(tp)
	f.store.LinkGroup(1, sl.ID, tp.ID)

	trade := core.ActiveTrade{
		SignalID: "sig-1", Symbol: "BTCUSDT", Side: core.SideBuy,
		EntryPrice: d("50000"), Quantity: d("0.01"),
		EntryOrderID: 1, StopLossID: sl.ID, TakeProfitID: tp.ID,
	}
	f.store.SetActiveTrade(trade)
	return trade, sl, tp
}

func TestHeal_NothingMissing(t *testing.T) {
	f := newFixture(t)
	trade, _, _ := f.openLong(t)

	healed, err := f.healer.Heal(context.Background(), trade)
	require.NoError(t, err)
	assert.Empty(t, healed)
	assert.Equal(t, 2, f.venue.Calls(mock.OpCreateOrder))
}

func TestHeal_RecreatesMissingTakeProfitFromCurrentPrice(t *testing.T) {
	f := newFixture(t)
	trade, sl, tp := f.openLong(t)
	f.venue.SetOrderStatus(tp.ID, core.OrderStatusExpired)
	f.venue.SetPrice("BTCUSDT", d("50100"))

	healed, err := f.healer.Heal(context.Background(), trade)
	require.NoError(t, err)
	assert.Equal(t, []core.OrderKind{core.OrderKindTakeProfitMarket}, healed)

	open, err := f.venue.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 2)
	newTP := open[1]
	assert.Equal(t, core.OrderKindTakeProfitMarket, newTP.Kind)
	assert.True(t, newTP.ReduceOnly)
	// 50100 × 1.005 = 50350.5
	assert.True(t, newTP.StopPrice.Equal(d("50350.5")), newTP.StopPrice.String())

	active, _ := f.store.ActiveTrade()
	assert.Equal(t, newTP.ID, active.TakeProfitID)
	assert.Contains(t, f.store.Linked(sl.ID), newTP.ID)
	assert.Contains(t, f.store.Linked(1), newTP.ID)
}

func TestHeal_ExplicitOverrideWins(t *testing.T) {
	f := newFixture(t)
	trade, sl, _ := f.openLong(t)
	f.venue.SetOrderStatus(sl.ID, core.OrderStatusCanceled)
	trade.StopLossPrice = d("49500")

	healed, err := f.healer.Heal(context.Background(), trade)
	require.NoError(t, err)
	assert.Equal(t, []core.OrderKind{core.OrderKindStopMarket}, healed)

	active, _ := f.store.ActiveTrade()
	o, ok := f.store.Order(active.StopLossID)
	require.True(t, ok)
	assert.True(t, o.StopPrice.Equal(d("49500")))
}

func TestHeal_SkipsFlatPosition(t *testing.T) {
	f := newFixture(t)
	trade, _, _ := f.openLong(t)
	f.venue.SetPosition("BTCUSDT", core.PositionFlat, decimal.Zero, decimal.Zero)

	healed, err := f.healer.Heal(context.Background(), trade)
	require.NoError(t, err)
	assert.Empty(t, healed)
	assert.Equal(t, 0, f.venue.Calls(mock.OpOpenOrders))
}

func TestSchedule_RunsAfterDelay(t *testing.T) {
	f := newFixture(t)
	trade, _, tp := f.openLong(t)
	f.venue.SetOrderStatus(tp.ID, core.OrderStatusExpired)

	f.healer.Schedule(trade, 20*time.Millisecond)
	assert.Equal(t, 0, f.venue.Calls(mock.OpGetPosition))

	require.Eventually(t, func() bool {
		return f.venue.Calls(mock.OpCreateOrder) == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStop_CancelsPendingChecks(t *testing.T) {
	f := newFixture(t)
	trade, _, _ := f.openLong(t)

	f.healer.Schedule(trade, time.Hour)
	done := make(chan struct{})
	go func() {
		f.healer.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on a pending check")
	}
	assert.Equal(t, 0, f.venue.Calls(mock.OpGetPosition))
}
