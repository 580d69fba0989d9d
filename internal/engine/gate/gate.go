// Package gate turns raw generator decisions into confirmed trade intents.
//
// A decision moves the gate from idle to pending. Once the confirmation delay
// has elapsed the bars are fetched again; the signal is confirmed only if the
// generator still reports the same side, otherwise it is cancelled. At most
// one trade is opened per candle window.
package gate

import (
	"context"
	"fmt"
	"time"

	"signalbot/internal/core"
	"signalbot/internal/engine/state"
	"signalbot/pkg/telemetry"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Signal outcomes reported to metrics
const (
	OutcomeDetected    = "detected"
	OutcomeConfirmed   = "confirmed"
	OutcomeCancelled   = "cancelled"
	OutcomeDuplicate   = "same_candle"
	OutcomeRevalidated = "revalidated"
	OutcomeReversed    = "reversed"
)

// Config parameterizes the gate for one symbol and strategy variant
type Config struct {
	Symbol               string
	Timeframe            time.Duration
	ConfirmationDelay    time.Duration
	TradeAmount          decimal.Decimal
	RevalidateAfterEntry bool
}

// Gate is driven by the engine tick; it is not safe for concurrent Step calls
type Gate struct {
	cfg       Config
	store     *state.Store
	bars      core.IBarSource
	generator core.ISignalGenerator
	audit     core.IAuditSink
	logger    core.ILogger
	now       func() time.Time

	revalidated string
}

// NewGate creates a gate. audit may be nil.
func NewGate(
	cfg Config,
	store *state.Store,
	bars core.IBarSource,
	generator core.ISignalGenerator,
	audit core.IAuditSink,
	logger core.ILogger,
) *Gate {
	return &Gate{
		cfg:       cfg,
		store:     store,
		bars:      bars,
		generator: generator,
		audit:     audit,
		logger:    logger.WithField("component", "signal_gate").WithField("symbol", cfg.Symbol),
		now:       time.Now,
	}
}

// Step advances the state machine by one tick. It returns an intent when a
// pending signal is confirmed and nil otherwise.
func (g *Gate) Step(ctx context.Context) (*core.TradeIntent, error) {
	if pending, ok := g.store.Pending(); ok {
		return g.resolve(ctx, pending)
	}

	if g.positionOpen() {
		return nil, nil
	}

	bars, err := g.bars.Bars(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch bars: %w", err)
	}
	return nil, g.detect(ctx, bars)
}

func (g *Gate) positionOpen() bool {
	if _, ok := g.store.ActiveTrade(); ok {
		return true
	}
	return !g.store.LocalPosition().IsFlat()
}

// detect moves IDLE to PENDING when the generator signals on bars
func (g *Gate) detect(ctx context.Context, bars []core.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	decision := g.generator.Evaluate(bars)
	side, ok := decision.Side()
	if !ok {
		return nil
	}

	now := g.now()
	candle := CandleStart(now, g.cfg.Timeframe)
	if candle.Equal(g.store.LastTradeCandle()) {
		g.logger.Info("Signal ignored, already traded in this candle", "side", side, "candle", candle)
		telemetry.GetGlobalMetrics().RecordSignal(ctx, g.cfg.Symbol, OutcomeDuplicate)
		return nil
	}

	sig := core.Signal{
		ID:          uuid.NewString(),
		Symbol:      g.cfg.Symbol,
		Side:        side,
		Price:       decisionPrice(decision, bars),
		Indicators:  decision.Indicators,
		DetectedAt:  now,
		CandleStart: candle,
	}
	if !g.store.SetPending(core.PendingSignal{Signal: sig, Deadline: now.Add(g.cfg.ConfirmationDelay)}) {
		return nil
	}
	if g.audit != nil {
		if _, err := g.audit.RecordSignal(ctx, sig); err != nil {
			g.logger.Warn("Audit write failed", "error", err)
		}
	}
	telemetry.GetGlobalMetrics().RecordSignal(ctx, g.cfg.Symbol, OutcomeDetected)
	g.logger.Info("Signal detected, waiting for confirmation",
		"signal_id", sig.ID,
		"side", side,
		"price", sig.Price.String(),
		"delay", g.cfg.ConfirmationDelay)
	return nil
}

// resolve confirms or cancels the pending signal once its deadline passed
func (g *Gate) resolve(ctx context.Context, pending core.PendingSignal) (*core.TradeIntent, error) {
	now := g.now()
	if now.Before(pending.Deadline) {
		return nil, nil
	}
	g.store.TakePending()
	sig := pending.Signal
	waited := now.Sub(sig.DetectedAt)

	bars, err := g.bars.Bars(ctx)
	if err != nil || len(bars) == 0 {
		g.cancel(ctx, sig, sig.Price, waited, "bars unavailable")
		if err != nil {
			return nil, fmt.Errorf("refetch bars: %w", err)
		}
		return nil, nil
	}

	decision := g.generator.Evaluate(bars)
	price := decisionPrice(decision, bars)
	side, ok := decision.Side()
	if !ok || side != sig.Side {
		g.cancel(ctx, sig, price, waited, "signal no longer active")
		return nil, nil
	}

	candle := CandleStart(now, g.cfg.Timeframe)
	if candle.Equal(g.store.LastTradeCandle()) {
		g.cancel(ctx, sig, price, waited, "already traded in this candle")
		telemetry.GetGlobalMetrics().RecordSignal(ctx, g.cfg.Symbol, OutcomeDuplicate)
		return nil, nil
	}
	if g.positionOpen() {
		g.cancel(ctx, sig, price, waited, "position already open")
		return nil, nil
	}

	if g.audit != nil {
		if err := g.audit.RecordSignalConfirmed(ctx, sig.ID, price, waited); err != nil {
			g.logger.Warn("Audit write failed", "error", err)
		}
	}
	telemetry.GetGlobalMetrics().RecordSignal(ctx, g.cfg.Symbol, OutcomeConfirmed)
	g.logger.Info("Signal confirmed", "signal_id", sig.ID, "side", side, "price", price.String(), "waited", waited)

	var qty decimal.Decimal
	if price.Sign() > 0 {
		qty = g.cfg.TradeAmount.Div(price)
	}
	return &core.TradeIntent{
		Signal:      sig,
		Side:        side,
		EntryPrice:  price,
		Quantity:    qty,
		CandleStart: candle,
	}, nil
}

func (g *Gate) cancel(ctx context.Context, sig core.Signal, price decimal.Decimal, waited time.Duration, reason string) {
	if g.audit != nil {
		if err := g.audit.RecordSignalCancelled(ctx, sig.ID, price, waited); err != nil {
			g.logger.Warn("Audit write failed", "error", err)
		}
	}
	telemetry.GetGlobalMetrics().RecordSignal(ctx, g.cfg.Symbol, OutcomeCancelled)
	g.logger.Info("Signal cancelled", "signal_id", sig.ID, "side", sig.Side, "reason", reason, "waited", waited)
}

// DropPending discards a signal still awaiting confirmation
func (g *Gate) DropPending(ctx context.Context, reason string) bool {
	pending, ok := g.store.TakePending()
	if !ok {
		return false
	}
	g.cancel(ctx, pending.Signal, pending.Signal.Price, g.now().Sub(pending.Signal.DetectedAt), reason)
	return true
}

// Revalidate checks an open trade once the candle after its entry has
// started. It reports true when the entry side is no longer signalled and
// the position should be unwound. Each trade is checked at most once.
func (g *Gate) Revalidate(ctx context.Context) (bool, error) {
	if !g.cfg.RevalidateAfterEntry {
		return false, nil
	}
	trade, ok := g.store.ActiveTrade()
	if !ok || trade.SignalID == g.revalidated {
		return false, nil
	}
	if g.now().Before(trade.CandleStart.Add(g.cfg.Timeframe)) {
		return false, nil
	}

	bars, err := g.bars.Bars(ctx)
	if err != nil {
		return false, fmt.Errorf("fetch bars: %w", err)
	}
	if len(bars) == 0 {
		return false, nil
	}
	g.revalidated = trade.SignalID

	side, ok := g.generator.Evaluate(bars).Side()
	if ok && side == trade.Side {
		telemetry.GetGlobalMetrics().RecordSignal(ctx, g.cfg.Symbol, OutcomeRevalidated)
		g.logger.Info("Position re-validated at next candle", "signal_id", trade.SignalID, "side", side)
		return false, nil
	}
	telemetry.GetGlobalMetrics().RecordSignal(ctx, g.cfg.Symbol, OutcomeReversed)
	g.logger.Warn("Entry signal no longer valid at next candle", "signal_id", trade.SignalID, "side", trade.Side)
	return true, nil
}

func decisionPrice(d core.Decision, bars []core.Bar) decimal.Decimal {
	if d.Price > 0 {
		return decimal.NewFromFloat(d.Price)
	}
	return decimal.NewFromFloat(bars[len(bars)-1].Close)
}
