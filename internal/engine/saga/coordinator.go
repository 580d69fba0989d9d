// Package saga opens a protected position as a sequence of compensable venue
// steps: entry, fill wait, verification, stop-loss, take-profit.
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"signalbot/internal/alert"
	"signalbot/internal/core"
	"signalbot/internal/engine/state"
	apperrors "signalbot/pkg/errors"
	"signalbot/pkg/retry"
	"signalbot/pkg/telemetry"
	"signalbot/pkg/tradingutils"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Executor is the shared retrying order primitive
type Executor interface {
	PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	CancelAll(ctx context.Context, symbol string) error
}

// Config holds the saga timings and protective distances
type Config struct {
	Symbol            string
	Leverage          int
	TakeProfitPct     decimal.Decimal
	StopLossPct       decimal.Decimal
	MaxRetries        int
	RetryDelay        time.Duration
	FillCheckInterval time.Duration
	FillMaxWait       time.Duration
	VerifyDelay       time.Duration
	PositionTolerance decimal.Decimal
	HealerDelay       time.Duration
}

// DefaultConfig returns the execution defaults for symbol
func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:            symbol,
		Leverage:          10,
		TakeProfitPct:     decimal.RequireFromString("0.005"),
		StopLossPct:       decimal.RequireFromString("0.02"),
		MaxRetries:        3,
		RetryDelay:        2 * time.Second,
		FillCheckInterval: 5 * time.Second,
		FillMaxWait:       30 * time.Second,
		VerifyDelay:       10 * time.Second,
		PositionTolerance: decimal.RequireFromString("0.00001"),
		HealerDelay:       time.Minute,
	}
}

// Saga outcomes reported to metrics
const (
	OutcomeOpened        = "opened"
	OutcomeNormalization = "normalization_failed"
	OutcomeEntryFailed   = "entry_failed"
	OutcomeEntryTimeout  = "entry_timeout"
	OutcomeVerification  = "verification_failed"
	OutcomeProtection    = "protection_failed"
	OutcomeUnwound       = "unwound"
)

// Coordinator runs at most one saga at a time for its symbol
type Coordinator struct {
	cfg        Config
	venue      core.IVenue
	executor   Executor
	normalizer core.INormalizer
	store      *state.Store
	healer     core.IHealerScheduler
	audit      core.IAuditSink
	notifier   core.INotifier
	logger     core.ILogger
	tracer     trace.Tracer

	running atomic.Bool
	now     func() time.Time
}

// NewCoordinator creates a coordinator. healer, audit and notifier may be nil.
func NewCoordinator(
	cfg Config,
	venue core.IVenue,
	executor Executor,
	normalizer core.INormalizer,
	store *state.Store,
	healer core.IHealerScheduler,
	audit core.IAuditSink,
	notifier core.INotifier,
	logger core.ILogger,
) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Coordinator{
		cfg:        cfg,
		venue:      venue,
		executor:   executor,
		normalizer: normalizer,
		store:      store,
		healer:     healer,
		audit:      audit,
		notifier:   notifier,
		logger:     logger.WithField("component", "saga").WithField("symbol", cfg.Symbol),
		tracer:     telemetry.GetTracer("saga"),
		now:        time.Now,
	}
}

// InFlight reports whether a saga is currently executing
func (c *Coordinator) InFlight() bool {
	return c.running.Load()
}

// Execute opens a protected position for intent. On success the trade is
// active in the store with its entry, stop-loss and take-profit linked.
func (c *Coordinator) Execute(ctx context.Context, intent core.TradeIntent) (*core.ActiveTrade, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, apperrors.ErrSagaInFlight
	}
	defer c.running.Store(false)

	if _, ok := c.store.ActiveTrade(); ok {
		return nil, apperrors.ErrSagaInFlight
	}

	ctx, span := c.tracer.Start(ctx, "Execute", trace.WithAttributes(
		attribute.String("symbol", c.cfg.Symbol),
		attribute.String("side", string(intent.Side)),
		attribute.String("signal_id", intent.Signal.ID),
	))
	defer span.End()

	trade, outcome, err := c.execute(ctx, intent)
	telemetry.GetGlobalMetrics().RecordSaga(ctx, c.cfg.Symbol, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error("Trade execution failed", "signal_id", intent.Signal.ID, "outcome", outcome, "error", err)
		c.recordEvent(ctx, core.AuditEvent{
			Action:   core.ActionTradeFailed,
			SignalID: intent.Signal.ID,
			Side:     string(intent.Side),
			Quantity: intent.Quantity,
			Price:    intent.EntryPrice,
			Details:  err.Error(),
		})
		return nil, err
	}
	return trade, nil
}

func (c *Coordinator) execute(ctx context.Context, intent core.TradeIntent) (*core.ActiveTrade, string, error) {
	symbol := c.cfg.Symbol

	qty, okQty := c.normalizer.AdjustQuantity(intent.Quantity)
	price, okPrice := c.normalizer.AdjustPrice(intent.EntryPrice)
	if !okQty || !okPrice {
		return nil, OutcomeNormalization, fmt.Errorf("qty %s price %s: %w",
			intent.Quantity, intent.EntryPrice, apperrors.ErrNormalizationFailed)
	}

	c.logger.Info("Placing entry order", "signal_id", intent.Signal.ID, "side", intent.Side,
		"qty", qty.String(), "price", price.String())
	entry, err := c.executor.PlaceOrder(ctx, &core.PlaceOrderRequest{
		Symbol:   symbol,
		Side:     intent.Side,
		Kind:     core.OrderKindLimit,
		Quantity: qty,
		Price:    price,
	})
	if err != nil {
		c.notifyFailure(ctx, "Entry order failed", err, false)
		return nil, OutcomeEntryFailed, fmt.Errorf("%w: %v", apperrors.ErrEntryFailed, err)
	}
	c.store.TrackOrder(entry)
	c.store.SetLastTradeCandle(intent.CandleStart)

	filled, err := c.awaitFill(ctx, entry)
	if err != nil {
		outcome := OutcomeEntryFailed
		if errors.Is(err, apperrors.ErrEntryTimeout) {
			outcome = OutcomeEntryTimeout
		}
		c.store.UntrackOrder(entry.ID)
		c.notifyFailure(ctx, "Entry order not filled", err, false)
		return nil, outcome, err
	}
	filledQty := filled.ExecutedQty
	if filledQty.Sign() <= 0 {
		filledQty = qty
	}

	pos, err := c.verifyPosition(ctx, intent.Side, filledQty)
	if err != nil {
		c.notifyFailure(ctx, "Position verification failed", err, true)
		return nil, OutcomeVerification, err
	}

	entryPrice := pos.EntryPrice
	if entryPrice.Sign() <= 0 {
		entryPrice = filled.AvgPrice
	}
	if entryPrice.Sign() <= 0 {
		entryPrice = price
	}

	trade := core.ActiveTrade{
		SignalID:     intent.Signal.ID,
		Symbol:       symbol,
		Side:         intent.Side,
		EntryPrice:   entryPrice,
		Quantity:     filledQty,
		EntryOrderID: entry.ID,
		OpenedAt:     c.now(),
		CandleStart:  intent.CandleStart,
	}
	c.store.SetActiveTrade(trade)
	c.store.SetLocalPosition(*pos)
	if c.audit != nil {
		if err := c.audit.RecordPositionOpened(ctx, intent.Signal.ID, entryPrice); err != nil {
			c.logger.Warn("Audit write failed", "error", err)
		}
	}

	long := intent.Side == core.SideBuy
	tpPrice, slPrice := tradingutils.ProtectivePrices(entryPrice, c.cfg.TakeProfitPct, c.cfg.StopLossPct, long)
	if adj, ok := c.normalizer.AdjustPrice(tpPrice); ok {
		tpPrice = adj
	}
	if adj, ok := c.normalizer.AdjustPrice(slPrice); ok {
		slPrice = adj
	}
	closeSide := intent.Side.Opposite()

	sl, err := c.executor.PlaceOrder(ctx, &core.PlaceOrderRequest{
		Symbol:     symbol,
		Side:       closeSide,
		Kind:       core.OrderKindStopMarket,
		Quantity:   filledQty,
		StopPrice:  slPrice,
		ReduceOnly: true,
	})
	if err != nil {
		err = fmt.Errorf("%w: stop-loss: %w: %v", apperrors.ErrProtectionFailed, apperrors.ErrProtectionGap, err)
		c.notifyFailure(ctx, "Stop-loss order failed, position is unprotected", err, true)
		return nil, OutcomeProtection, err
	}

	tp, err := c.executor.PlaceOrder(ctx, &core.PlaceOrderRequest{
		Symbol:     symbol,
		Side:       closeSide,
		Kind:       core.OrderKindTakeProfitMarket,
		Quantity:   filledQty,
		StopPrice:  tpPrice,
		ReduceOnly: true,
	})
	if err != nil {
		// both protective orders or neither
		cancelErr := c.executor.CancelOrder(ctx, symbol, sl.ID)
		err = fmt.Errorf("%w: take-profit: %w: %v", apperrors.ErrProtectionFailed, apperrors.ErrProtectionGap, err)
		if cancelErr != nil {
			err = errors.Join(err, fmt.Errorf("compensating stop-loss cancel: %w", cancelErr))
			// the stop-loss stays live, so the sweep and reconciler must see it
			c.store.TrackOrder(filled)
			c.store.TrackOrder(sl)
			c.store.Link(entry.ID, sl.ID)
			c.store.UpdateActiveTrade(func(t *core.ActiveTrade) {
				t.StopLossID = sl.ID
				t.StopLossPrice = slPrice
			})
		}
		c.notifyFailure(ctx, "Take-profit order failed, position is unprotected", err, true)
		return nil, OutcomeProtection, err
	}

	c.store.TrackOrder(filled)
	c.store.TrackOrder(sl)
	c.store.TrackOrder(tp)
	c.store.LinkGroup(entry.ID, sl.ID, tp.ID)
	c.store.UpdateActiveTrade(func(t *core.ActiveTrade) {
		t.StopLossID = sl.ID
		t.TakeProfitID = tp.ID
		t.StopLossPrice = slPrice
		t.TakeProfitPrice = tpPrice
	})
	trade, _ = c.store.ActiveTrade()

	c.recordEvent(ctx, core.AuditEvent{
		Action:   core.ActionOrdersCreated,
		SignalID: trade.SignalID,
		Side:     string(closeSide),
		Quantity: filledQty,
		Price:    entryPrice,
		Details:  fmt.Sprintf("entry=%d stop_loss=%d@%s take_profit=%d@%s", entry.ID, sl.ID, slPrice, tp.ID, tpPrice),
	})
	if c.notifier != nil {
		c.notifier.Notify(ctx, alert.FormatTradeOpened(alert.TradeOpened{
			Symbol:     symbol,
			Side:       intent.Side,
			Quantity:   filledQty,
			EntryPrice: entryPrice,
			StopLoss:   slPrice,
			TakeProfit: tpPrice,
			Leverage:   c.cfg.Leverage,
			Time:       c.now(),
		}))
	}
	if c.healer != nil {
		c.healer.Schedule(trade, c.cfg.HealerDelay)
	}
	telemetry.GetGlobalMetrics().SetPositionSize(symbol, signedFloat(pos))

	c.logger.Info("Position opened",
		"signal_id", trade.SignalID,
		"entry_price", entryPrice.String(),
		"qty", filledQty.String(),
		"stop_loss", slPrice.String(),
		"take_profit", tpPrice.String())
	return &trade, OutcomeOpened, nil
}

// awaitFill polls the entry until it is filled. An order the venue no longer
// knows is treated as filled and left to verification.
func (c *Coordinator) awaitFill(ctx context.Context, entry *core.Order) (*core.Order, error) {
	last := *entry
	if last.Status == core.OrderStatusFilled {
		return &last, nil
	}

	var failed error
	err := retry.Poll(ctx, c.cfg.FillCheckInterval, c.cfg.FillMaxWait, func(ctx context.Context) (bool, error) {
		o, err := c.venue.GetOrderStatus(ctx, c.cfg.Symbol, entry.ID)
		if errors.Is(err, apperrors.ErrOrderNotFound) {
			c.logger.Warn("Entry order unknown to venue, verifying position", "order_id", entry.ID)
			last.Status = core.OrderStatusFilled
			return true, nil
		}
		if err != nil {
			c.logger.Warn("Entry status check failed", "order_id", entry.ID, "error", err)
			return false, nil
		}
		last = *o
		c.store.TrackOrder(o)
		switch o.Status {
		case core.OrderStatusFilled:
			return true, nil
		case core.OrderStatusCanceled, core.OrderStatusRejected, core.OrderStatusExpired:
			failed = fmt.Errorf("%w: entry %d %s", apperrors.ErrEntryFailed, o.ID, o.Status)
			return true, nil
		}
		return false, nil
	})

	switch {
	case failed != nil:
		c.flatten(ctx, entry.Side, last.ExecutedQty)
		return nil, failed
	case errors.Is(err, retry.ErrPollTimeout):
		c.logger.Warn("Entry not filled in time, canceling", "order_id", entry.ID, "max_wait", c.cfg.FillMaxWait)
		if cerr := c.executor.CancelOrder(ctx, c.cfg.Symbol, entry.ID); cerr != nil {
			c.logger.Error("Failed to cancel unfilled entry", "order_id", entry.ID, "error", cerr)
		}
		executed := last.ExecutedQty
		if o, serr := c.venue.GetOrderStatus(ctx, c.cfg.Symbol, entry.ID); serr == nil {
			executed = o.ExecutedQty
		}
		c.flatten(ctx, entry.Side, executed)
		return nil, fmt.Errorf("%w after %s", apperrors.ErrEntryTimeout, c.cfg.FillMaxWait)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", apperrors.ErrEntryFailed, err)
	}
	return &last, nil
}

// flatten closes a partial entry fill so no unprotected exposure remains
func (c *Coordinator) flatten(ctx context.Context, entrySide core.Side, qty decimal.Decimal) {
	if qty.Sign() <= 0 {
		return
	}
	c.logger.Warn("Flattening partial entry fill", "qty", qty.String())
	if _, err := c.executor.PlaceOrder(ctx, &core.PlaceOrderRequest{
		Symbol:     c.cfg.Symbol,
		Side:       entrySide.Opposite(),
		Kind:       core.OrderKindMarket,
		Quantity:   qty,
		ReduceOnly: true,
	}); err != nil {
		c.notifyFailure(ctx, "Failed to flatten partial entry fill", err, true)
	}
}

// verifyPosition waits verifyDelay then confirms the venue position matches
// the filled entry in side and size.
func (c *Coordinator) verifyPosition(ctx context.Context, side core.Side, qty decimal.Decimal) (*core.Position, error) {
	if c.cfg.VerifyDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", apperrors.ErrVerificationFailed, ctx.Err())
		case <-time.After(c.cfg.VerifyDelay):
		}
	}

	want := side.PositionSide()
	var pos *core.Position
	err := retry.DoAttempt(ctx, retry.Fixed(c.cfg.MaxRetries, c.cfg.RetryDelay), nil, func(attempt int) error {
		p, err := c.venue.GetPosition(ctx, c.cfg.Symbol)
		if err != nil {
			return err
		}
		if p.Side != want || !tradingutils.WithinTolerance(p.Size, qty, c.cfg.PositionTolerance) {
			c.logger.Warn("Position does not match entry yet",
				"attempt", attempt+1, "side", p.Side, "size", p.Size.String(), "expected", qty.String())
			return fmt.Errorf("venue %s %s, expected %s %s", p.Side, p.Size, want, qty)
		}
		pos = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrVerificationFailed, err)
	}
	return pos, nil
}

// Unwind cancels every open order, closes the live position at market and
// clears the local trade state. On error the trade is left in place and the
// caller may call Unwind again.
func (c *Coordinator) Unwind(ctx context.Context, reason string) error {
	symbol := c.cfg.Symbol
	trade, hasTrade := c.store.ActiveTrade()
	c.logger.Warn("Unwinding position", "reason", reason, "signal_id", trade.SignalID)

	if err := c.executor.CancelAll(ctx, symbol); err != nil {
		c.logger.Error("Failed to cancel open orders", "error", err)
		c.notifyFailure(ctx, "Unwind could not cancel open orders", err, true)
	}

	var pos *core.Position
	err := retry.Do(ctx, retry.Fixed(c.cfg.MaxRetries, c.cfg.RetryDelay), apperrors.IsTransient, func() error {
		p, err := c.venue.GetPosition(ctx, symbol)
		if err != nil {
			return err
		}
		pos = p
		return nil
	})
	if err != nil {
		// protective orders are gone and the position may still be open
		err = fmt.Errorf("unwind: get position: %w", err)
		c.notifyFailure(ctx, "Unwind could not read the position, it may be unprotected", err, true)
		return err
	}
	if pos.IsFlat() {
		c.logger.Info("Position already flat, clearing local state")
		c.store.ClearTrade()
		c.store.SetLocalPosition(*core.FlatPosition(symbol))
		return nil
	}

	closeSide := pos.Side.EntrySide().Opposite()
	exit, err := c.executor.PlaceOrder(ctx, &core.PlaceOrderRequest{
		Symbol:     symbol,
		Side:       closeSide,
		Kind:       core.OrderKindMarket,
		Quantity:   pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		c.notifyFailure(ctx, "Failed to close position", err, true)
		return fmt.Errorf("unwind: market exit: %w", err)
	}

	exitPrice := exit.AvgPrice
	if exitPrice.Sign() <= 0 {
		if p, terr := c.venue.GetTicker(ctx, symbol); terr == nil {
			exitPrice = p
		}
	}
	entryPrice := pos.EntryPrice
	if entryPrice.Sign() <= 0 && hasTrade {
		entryPrice = trade.EntryPrice
	}

	long := pos.Side == core.PositionLong
	change := tradingutils.PriceChangePct(entryPrice, exitPrice, long)
	leveraged := tradingutils.LeveragedPnLPct(change, c.cfg.Leverage)
	pnl := tradingutils.PnLQuote(entryPrice, exitPrice, pos.Size, long)

	if hasTrade && c.audit != nil {
		if err := c.audit.RecordPositionCanceled(ctx, trade.SignalID, exitPrice, pnl, leveraged); err != nil {
			c.logger.Warn("Audit write failed", "error", err)
		}
	}
	if c.notifier != nil {
		c.notifier.Notify(ctx, alert.FormatPositionCanceled(alert.PositionResult{
			Symbol:       symbol,
			Side:         pos.Side,
			EntryPrice:   entryPrice,
			ExitPrice:    exitPrice,
			ChangePct:    change,
			LeveragedPct: leveraged,
			PnLQuote:     pnl,
			Reason:       reason,
			Time:         c.now(),
		}))
	}
	metrics := telemetry.GetGlobalMetrics()
	pnlF, _ := pnl.Float64()
	metrics.RecordRealizedPnL(ctx, symbol, pnlF)
	metrics.RecordSaga(ctx, symbol, OutcomeUnwound)
	metrics.SetPositionSize(symbol, 0)

	c.store.ClearTrade()
	c.store.SetLocalPosition(*core.FlatPosition(symbol))
	c.logger.Info("Position unwound",
		"exit_price", exitPrice.String(),
		"pnl", pnl.String(),
		"leveraged_pct", leveraged.StringFixed(2))
	return nil
}

func (c *Coordinator) notifyFailure(ctx context.Context, title string, err error, critical bool) {
	msg := alert.FormatFailure(title, err, critical)
	if critical {
		alert.SendCritical(ctx, c.notifier, msg)
		return
	}
	if c.notifier != nil {
		c.notifier.Notify(ctx, msg)
	}
}

func (c *Coordinator) recordEvent(ctx context.Context, e core.AuditEvent) {
	if c.audit == nil {
		return
	}
	e.Time = c.now()
	e.Symbol = c.cfg.Symbol
	if err := c.audit.RecordEvent(ctx, e); err != nil {
		c.logger.Warn("Audit write failed", "action", e.Action, "error", err)
	}
}

func signedFloat(p *core.Position) float64 {
	size, _ := p.Size.Float64()
	if p.Side == core.PositionShort {
		return -size
	}
	return size
}
