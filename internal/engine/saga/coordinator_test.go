package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"signalbot/internal/core"
	"signalbot/internal/engine/state"
	"signalbot/internal/mock"
	"signalbot/internal/trading/order"
	"signalbot/internal/venue"
	apperrors "signalbot/pkg/errors"
	"signalbot/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type auditCall struct {
	method   string
	signalID string
	price    decimal.Decimal
	pnl      decimal.Decimal
	pnlPct   decimal.Decimal
	action   core.AuditAction
}

type recordingAudit struct {
	mu    sync.Mutex
	calls []auditCall
}

func (a *recordingAudit) add(c auditCall) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, c)
	return nil
}

func (a *recordingAudit) RecordSignal(_ context.Context, sig core.Signal) (string, error) {
	return sig.ID, a.add(auditCall{method: "signal", signalID: sig.ID})
}
func (a *recordingAudit) RecordSignalConfirmed(_ context.Context, id string, p decimal.Decimal, _ time.Duration) error {
	return a.add(auditCall{method: "confirmed", signalID: id, price: p})
}
func (a *recordingAudit) RecordSignalCancelled(_ context.Context, id string, p decimal.Decimal, _ time.Duration) error {
	return a.add(auditCall{method: "cancelled", signalID: id, price: p})
}
func (a *recordingAudit) RecordPositionOpened(_ context.Context, id string, p decimal.Decimal) error {
	return a.add(auditCall{method: "opened", signalID: id, price: p})
}
func (a *recordingAudit) RecordPositionClosed(_ context.Context, id string, exit, pnl, pct decimal.Decimal) error {
	return a.add(auditCall{method: "closed", signalID: id, price: exit, pnl: pnl, pnlPct: pct})
}
func (a *recordingAudit) RecordPositionCanceled(_ context.Context, id string, exit, pnl, pct decimal.Decimal) error {
	return a.add(auditCall{method: "canceled", signalID: id, price: exit, pnl: pnl, pnlPct: pct})
}
func (a *recordingAudit) RecordEvent(_ context.Context, e core.AuditEvent) error {
	return a.add(auditCall{method: "event", signalID: e.SignalID, action: e.Action})
}

func (a *recordingAudit) find(method string) []auditCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []auditCall
	for _, c := range a.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (a *recordingAudit) actions() []core.AuditAction {
	var out []core.AuditAction
	for _, c := range a.find("event") {
		out = append(out, c.action)
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	critical []string
}

func (n *recordingNotifier) Notify(_ context.Context, msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return true
}

func (n *recordingNotifier) Critical(_ context.Context, msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.critical = append(n.critical, msg)
	return true
}

type scheduled struct {
	trade core.ActiveTrade
	delay time.Duration
}

type recordingHealer struct {
	mu    sync.Mutex
	tasks []scheduled
}

func (h *recordingHealer) Schedule(trade core.ActiveTrade, delay time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = append(h.tasks, scheduled{trade: trade, delay: delay})
}

type fixture struct {
	venue    *mock.Venue
	store    *state.Store
	audit    *recordingAudit
	notifier *recordingNotifier
	healer   *recordingHealer
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.NewNop()
	v := mock.NewVenue()
	v.SetPrice("BTCUSDT", d("50000"))
	store := state.NewStore("BTCUSDT")
	n := venue.NewNormalizer(&core.SymbolFilters{
		Symbol: "BTCUSDT", MinQty: d("0.001"), StepSize: d("0.001"), TickSize: d("0.1"),
	})

	opts := order.DefaultOptions()
	opts.RetryDelay = time.Millisecond
	exec := order.NewOrderExecutor(v, n, opts, logger)

	cfg := DefaultConfig("BTCUSDT")
	cfg.RetryDelay = time.Millisecond
	cfg.FillCheckInterval = 5 * time.Millisecond
	cfg.FillMaxWait = 40 * time.Millisecond
	cfg.VerifyDelay = time.Millisecond

	f := &fixture{
		venue:    v,
		store:    store,
		audit:    &recordingAudit{},
		notifier: &recordingNotifier{},
		healer:   &recordingHealer{},
	}
	f.coord = NewCoordinator(cfg, v, exec, n, store, f.healer, f.audit, f.notifier, logger)
	return f
}

func buyIntent() core.TradeIntent {
	candle := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return core.TradeIntent{
		Signal: core.Signal{
			ID: "sig-1", Symbol: "BTCUSDT", Side: core.SideBuy, Price: d("50000"),
			DetectedAt: candle.Add(5 * time.Second), CandleStart: candle,
		},
		Side:        core.SideBuy,
		EntryPrice:  d("50000"),
		Quantity:    d("0.002"),
		CandleStart: candle,
	}
}

func TestExecute_BuyOpensProtectedPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade, err := f.coord.Execute(ctx, buyIntent())
	require.NoError(t, err)
	require.NotNil(t, trade)

	assert.True(t, trade.EntryPrice.Equal(d("50000")))
	assert.True(t, trade.Quantity.Equal(d("0.002")))
	assert.True(t, trade.StopLossPrice.Equal(d("49000")), trade.StopLossPrice.String())
	assert.True(t, trade.TakeProfitPrice.Equal(d("50250")), trade.TakeProfitPrice.String())

	// entry, stop-loss and take-profit form one group
	group := f.store.Group(trade.EntryOrderID)
	assert.ElementsMatch(t, []int64{trade.EntryOrderID, trade.StopLossID, trade.TakeProfitID}, group)

	open, err := f.venue.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, o := range open {
		assert.Equal(t, core.OrderStatusNew, o.Status)
		assert.Equal(t, core.SideSell, o.Side)
		assert.True(t, o.ReduceOnly)
		assert.True(t, o.Quantity.Equal(d("0.002")))
	}
	assert.Equal(t, core.OrderKindStopMarket, open[0].Kind)
	assert.Equal(t, core.OrderKindTakeProfitMarket, open[1].Kind)

	pos := f.store.LocalPosition()
	assert.Equal(t, core.PositionLong, pos.Side)
	assert.Equal(t, buyIntent().CandleStart, f.store.LastTradeCandle())

	require.Len(t, f.healer.tasks, 1)
	assert.Equal(t, time.Minute, f.healer.tasks[0].delay)
	assert.Equal(t, trade.TakeProfitID, f.healer.tasks[0].trade.TakeProfitID)

	require.Len(t, f.audit.find("opened"), 1)
	assert.Equal(t, []core.AuditAction{core.ActionOrdersCreated}, f.audit.actions())
	require.Len(t, f.notifier.messages, 1)
	assert.Contains(t, f.notifier.messages[0], "NEW TRADE OPENED")
}

func TestExecute_SellMirrorsProtectivePrices(t *testing.T) {
	f := newFixture(t)
	intent := buyIntent()
	intent.Side = core.SideSell
	intent.Signal.Side = core.SideSell

	trade, err := f.coord.Execute(context.Background(), intent)
	require.NoError(t, err)
	assert.True(t, trade.StopLossPrice.Equal(d("51000")))
	assert.True(t, trade.TakeProfitPrice.Equal(d("49750")))
	assert.Equal(t, core.PositionShort, f.store.LocalPosition().Side)
}

func TestExecute_TakeProfitFaultCancelsStopLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.venue.InjectError(mock.CreateOp(core.OrderKindTakeProfitMarket),
		apperrors.ErrNetwork, apperrors.ErrNetwork, apperrors.ErrNetwork)

	trade, err := f.coord.Execute(ctx, buyIntent())
	require.Error(t, err)
	assert.Nil(t, trade)
	assert.ErrorIs(t, err, apperrors.ErrProtectionFailed)
	assert.ErrorIs(t, err, apperrors.ErrProtectionGap)

	// neither protective order survives
	open, err := f.venue.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	var stopLoss *core.Order
	for _, o := range f.venue.Orders() {
		if o.Kind == core.OrderKindStopMarket {
			stopLoss = o
		}
	}
	require.NotNil(t, stopLoss)
	assert.Equal(t, core.OrderStatusCanceled, stopLoss.Status)

	assert.Empty(t, f.healer.tasks)
	assert.Contains(t, f.audit.actions(), core.ActionTradeFailed)
	require.Len(t, f.notifier.critical, 1)
	assert.Contains(t, f.notifier.critical[0], "Take-profit")
}

func TestExecute_StrandedStopLossStaysTracked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.venue.InjectError(mock.CreateOp(core.OrderKindTakeProfitMarket),
		apperrors.ErrNetwork, apperrors.ErrNetwork, apperrors.ErrNetwork)
	f.venue.InjectError(mock.OpCancelOrder,
		apperrors.ErrNetwork, apperrors.ErrNetwork, apperrors.ErrNetwork)

	_, err := f.coord.Execute(ctx, buyIntent())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProtectionGap)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)

	open, err := f.venue.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	sl := open[0]
	assert.Equal(t, core.OrderKindStopMarket, sl.Kind)

	trade, active := f.store.ActiveTrade()
	require.True(t, active)
	assert.Equal(t, sl.ID, trade.StopLossID)
	assert.Zero(t, trade.TakeProfitID)

	tracked, ok := f.store.Order(sl.ID)
	require.True(t, ok)
	assert.Equal(t, core.OrderStatusNew, tracked.Status)
	assert.Contains(t, f.store.Linked(trade.EntryOrderID), sl.ID)

	// closing the trade resolves the stranded order with it
	f.store.ClearTrade()
	assert.Equal(t, 0, f.store.TrackedCount())
	assert.Equal(t, 0, f.store.GraphSize())
}

func TestExecute_StopLossFaultIsProtectionGap(t *testing.T) {
	f := newFixture(t)
	f.venue.InjectError(mock.CreateOp(core.OrderKindStopMarket),
		apperrors.ErrNetwork, apperrors.ErrNetwork, apperrors.ErrNetwork)

	_, err := f.coord.Execute(context.Background(), buyIntent())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrProtectionGap)

	// no take-profit was attempted
	for _, o := range f.venue.Orders() {
		assert.NotEqual(t, core.OrderKindTakeProfitMarket, o.Kind)
	}
	require.Len(t, f.notifier.critical, 1)
}

func TestExecute_RetryNudgesEntryPrice(t *testing.T) {
	f := newFixture(t)
	f.venue.InjectError(mock.CreateOp(core.OrderKindLimit), apperrors.ErrNetwork, apperrors.ErrNetwork)

	trade, err := f.coord.Execute(context.Background(), buyIntent())
	require.NoError(t, err)

	entry, ok := f.store.Order(trade.EntryOrderID)
	require.True(t, ok)
	// third attempt: 50000 × (1 + 0.0001 × 2)
	assert.True(t, entry.Price.Equal(d("50010")), entry.Price.String())
	assert.Equal(t, 5, f.venue.Calls(mock.OpCreateOrder))
}

func TestExecute_NormalizationFailurePlacesNothing(t *testing.T) {
	f := newFixture(t)
	intent := buyIntent()
	intent.Quantity = decimal.Zero

	_, err := f.coord.Execute(context.Background(), intent)
	assert.ErrorIs(t, err, apperrors.ErrNormalizationFailed)
	assert.Equal(t, 0, f.venue.Calls(mock.OpCreateOrder))
}

func TestExecute_EntryFailure(t *testing.T) {
	f := newFixture(t)
	f.venue.InjectError(mock.CreateOp(core.OrderKindLimit), apperrors.ErrInsufficientFunds)

	_, err := f.coord.Execute(context.Background(), buyIntent())
	assert.ErrorIs(t, err, apperrors.ErrEntryFailed)
	assert.Equal(t, 1, f.venue.Calls(mock.OpCreateOrder))
	assert.True(t, f.store.LastTradeCandle().IsZero())
}

func TestExecute_EntryTimeoutCancelsEntry(t *testing.T) {
	f := newFixture(t)
	f.venue.SetLimitFill(mock.LimitFillResting)

	_, err := f.coord.Execute(context.Background(), buyIntent())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrEntryTimeout)

	orders := f.venue.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, core.OrderStatusCanceled, orders[0].Status)

	pos, err := f.venue.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())
	_, active := f.store.ActiveTrade()
	assert.False(t, active)
	assert.Equal(t, 0, f.store.TrackedCount())
}

func TestExecute_EntryRejectedWhileWaiting(t *testing.T) {
	f := newFixture(t)
	f.venue.SetLimitFill(mock.LimitFillResting)

	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if orders := f.venue.Orders(); len(orders) == 1 {
				f.venue.SetOrderStatus(orders[0].ID, core.OrderStatusExpired)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	_, err := f.coord.Execute(context.Background(), buyIntent())
	assert.ErrorIs(t, err, apperrors.ErrEntryFailed)
}

func TestAwaitFill_UnknownOrderCountsAsFilled(t *testing.T) {
	f := newFixture(t)
	f.venue.SetLimitFill(mock.LimitFillResting)
	ctx := context.Background()

	o, err := f.venue.CreateOrder(ctx, &core.PlaceOrderRequest{
		Symbol: "BTCUSDT", Side: core.SideBuy, Kind: core.OrderKindLimit, Quantity: d("0.002"), Price: d("50000"),
	})
	require.NoError(t, err)
	f.venue.ForgetOrder(o.ID)

	filled, err := f.coord.awaitFill(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, filled.Status)
}

func TestExecute_VerificationFailureRaisesCritical(t *testing.T) {
	f := newFixture(t)
	f.venue.InjectError(mock.OpGetPosition, apperrors.ErrNetwork, apperrors.ErrNetwork, apperrors.ErrNetwork)

	_, err := f.coord.Execute(context.Background(), buyIntent())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrVerificationFailed)

	// no protective orders for an unverified position
	assert.Len(t, f.venue.Orders(), 1)
	require.Len(t, f.notifier.critical, 1)
	assert.Contains(t, f.notifier.critical[0], "CRITICAL")
	_, active := f.store.ActiveTrade()
	assert.False(t, active)
}

func TestExecute_RejectsWhileTradeActive(t *testing.T) {
	f := newFixture(t)
	f.store.SetActiveTrade(core.ActiveTrade{SignalID: "open"})

	_, err := f.coord.Execute(context.Background(), buyIntent())
	assert.ErrorIs(t, err, apperrors.ErrSagaInFlight)
	assert.Equal(t, 0, f.venue.Calls(mock.OpCreateOrder))
}

func TestUnwind_ClosesAtMarketWithPnL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade, err := f.coord.Execute(ctx, buyIntent())
	require.NoError(t, err)

	// price moves, then the signal reverses at the next candle
	f.venue.SetPrice("BTCUSDT", d("50100"))
	require.NoError(t, f.coord.Unwind(ctx, "signal reversed"))

	open, err := f.venue.GetOpenOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, open)

	pos, err := f.venue.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())

	canceled := f.audit.find("canceled")
	require.Len(t, canceled, 1)
	assert.Equal(t, trade.SignalID, canceled[0].signalID)
	assert.True(t, canceled[0].price.Equal(d("50100")))
	// (50100 - 50000) × 0.002
	assert.True(t, canceled[0].pnl.Equal(d("0.2")), canceled[0].pnl.String())
	// 0.2% move at 10x
	assert.True(t, canceled[0].pnlPct.Equal(d("2")), canceled[0].pnlPct.String())

	_, active := f.store.ActiveTrade()
	assert.False(t, active)
	assert.Equal(t, 0, f.store.GraphSize())
	assert.True(t, f.store.LocalPosition().IsFlat())
	assert.Contains(t, f.notifier.messages[len(f.notifier.messages)-1], "POSITION CANCELED")
}

func TestUnwind_FlatPositionOnlyClears(t *testing.T) {
	f := newFixture(t)
	f.store.SetActiveTrade(core.ActiveTrade{SignalID: "stale", EntryOrderID: 7})

	require.NoError(t, f.coord.Unwind(context.Background(), "manual"))
	_, active := f.store.ActiveTrade()
	assert.False(t, active)
	assert.Empty(t, f.audit.find("canceled"))
	assert.Equal(t, 1, f.venue.Calls(mock.OpCancelAll))
}

func TestUnwind_TransientPositionReadIsRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Execute(ctx, buyIntent())
	require.NoError(t, err)

	f.venue.InjectError(mock.OpGetPosition, apperrors.ErrNetwork)
	require.NoError(t, f.coord.Unwind(ctx, "signal reversed"))

	pos, err := f.venue.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())
	_, active := f.store.ActiveTrade()
	assert.False(t, active)
}

func TestUnwind_PositionUnavailableAlertsAndCanBeRepeated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	trade, err := f.coord.Execute(ctx, buyIntent())
	require.NoError(t, err)

	f.venue.InjectError(mock.OpGetPosition, apperrors.ErrNetwork, apperrors.ErrNetwork, apperrors.ErrNetwork)
	err = f.coord.Unwind(ctx, "signal reversed")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNetwork)

	// protection is already canceled, so the operator must hear about it
	require.NotEmpty(t, f.notifier.critical)
	assert.Contains(t, f.notifier.critical[len(f.notifier.critical)-1], "unprotected")

	got, active := f.store.ActiveTrade()
	require.True(t, active)
	assert.Equal(t, trade.SignalID, got.SignalID)

	require.NoError(t, f.coord.Unwind(ctx, "signal reversed"))
	pos, err := f.venue.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, pos.IsFlat())
	_, active = f.store.ActiveTrade()
	assert.False(t, active)
}
