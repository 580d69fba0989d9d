// Package healer recreates protective orders the venue silently dropped
package healer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalbot/internal/core"
	"signalbot/internal/engine/state"
	"signalbot/pkg/concurrency"
	"signalbot/pkg/telemetry"
	"signalbot/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Placer is the shared retrying create primitive
type Placer interface {
	PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error)
}

// Config holds the fallback distances used when a trade carries no explicit price
type Config struct {
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
	TaskTimeout   time.Duration
}

// Healer runs one-shot delayed checks that a position's stop-loss and
// take-profit both exist.
type Healer struct {
	cfg        Config
	venue      core.IVenue
	placer     Placer
	store      *state.Store
	normalizer core.INormalizer
	audit      core.IAuditSink
	pool       *concurrency.WorkerPool
	logger     core.ILogger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu     sync.Mutex
	timers map[*time.Timer]struct{}
}

var _ core.IHealerScheduler = (*Healer)(nil)

// NewHealer creates a healer that executes checks on pool. audit may be nil.
func NewHealer(
	cfg Config,
	venue core.IVenue,
	placer Placer,
	store *state.Store,
	normalizer core.INormalizer,
	audit core.IAuditSink,
	pool *concurrency.WorkerPool,
	logger core.ILogger,
) *Healer {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Healer{
		cfg:        cfg,
		venue:      venue,
		placer:     placer,
		store:      store,
		normalizer: normalizer,
		audit:      audit,
		pool:       pool,
		logger:     logger.WithField("component", "healer"),
		ctx:        ctx,
		cancel:     cancel,
		timers:     make(map[*time.Timer]struct{}),
	}
}

// Schedule checks trade's protection after delay
func (h *Healer) Schedule(trade core.ActiveTrade, delay time.Duration) {
	if h.ctx.Err() != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		delete(h.timers, timer)
		h.mu.Unlock()

		err := h.pool.Submit(func() {
			defer h.wg.Done()
			ctx, cancel := context.WithTimeout(h.ctx, h.cfg.TaskTimeout)
			defer cancel()
			if _, err := h.Heal(ctx, trade); err != nil {
				h.logger.Error("Protective order check failed", "signal_id", trade.SignalID, "error", err)
			}
		})
		if err != nil {
			h.wg.Done()
			h.logger.Warn("Healer task rejected", "signal_id", trade.SignalID, "error", err)
		}
	})
	h.timers[timer] = struct{}{}
	h.logger.Info("Protective order check scheduled", "signal_id", trade.SignalID, "delay", delay)
}

// Stop cancels pending checks and waits for running ones
func (h *Healer) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()

		h.mu.Lock()
		for t := range h.timers {
			if t.Stop() {
				h.wg.Done()
			}
			delete(h.timers, t)
		}
		h.mu.Unlock()

		h.wg.Wait()
		h.pool.Stop()
	})
}

// Heal recreates whichever protective order is missing for trade. It does
// nothing when the venue position is flat. Returns the kinds it created.
func (h *Healer) Heal(ctx context.Context, trade core.ActiveTrade) ([]core.OrderKind, error) {
	symbol := h.store.Symbol()

	pos, err := h.venue.GetPosition(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if pos.IsFlat() {
		h.logger.Info("Position already closed, skipping protective order check", "signal_id", trade.SignalID)
		return nil, nil
	}

	open, err := h.venue.GetOpenOrders(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}

	var slID, tpID int64
	for _, o := range open {
		switch {
		case o.Kind.IsStopLoss():
			slID = o.ID
		case o.Kind.IsTakeProfit():
			tpID = o.ID
		}
	}
	if slID != 0 && tpID != 0 {
		h.logger.Info("Protective orders present", "stop_loss_id", slID, "take_profit_id", tpID)
		return nil, nil
	}

	current, err := h.venue.GetTicker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("get ticker: %w", err)
	}
	long := pos.Side == core.PositionLong
	tpPrice, slPrice := tradingutils.ProtectivePrices(current, h.cfg.TakeProfitPct, h.cfg.StopLossPct, long)
	if !trade.TakeProfitPrice.IsZero() {
		tpPrice = trade.TakeProfitPrice
	}
	if !trade.StopLossPrice.IsZero() {
		slPrice = trade.StopLossPrice
	}

	closeSide := pos.Side.EntrySide().Opposite()
	var healed []core.OrderKind
	var errs []error

	if slID == 0 {
		o, err := h.recreate(ctx, symbol, closeSide, core.OrderKindStopMarket, pos.Size, slPrice, trade, tpID)
		if err != nil {
			errs = append(errs, err)
		} else {
			slID = o.ID
			healed = append(healed, o.Kind)
			h.store.UpdateActiveTrade(func(t *core.ActiveTrade) { t.StopLossID = o.ID })
		}
	}
	if tpID == 0 {
		o, err := h.recreate(ctx, symbol, closeSide, core.OrderKindTakeProfitMarket, pos.Size, tpPrice, trade, slID)
		if err != nil {
			errs = append(errs, err)
		} else {
			healed = append(healed, o.Kind)
			h.store.UpdateActiveTrade(func(t *core.ActiveTrade) { t.TakeProfitID = o.ID })
		}
	}
	return healed, errors.Join(errs...)
}

func (h *Healer) recreate(
	ctx context.Context,
	symbol string,
	side core.Side,
	kind core.OrderKind,
	qty, price decimal.Decimal,
	trade core.ActiveTrade,
	siblingID int64,
) (*core.Order, error) {
	if h.normalizer != nil {
		if adj, ok := h.normalizer.AdjustPrice(price); ok {
			price = adj
		}
	}

	h.logger.Warn("Protective order missing, recreating", "kind", kind, "stop_price", price.String(), "qty", qty.String())
	o, err := h.placer.PlaceOrder(ctx, &core.PlaceOrderRequest{
		Symbol:     symbol,
		Side:       side,
		Kind:       kind,
		Quantity:   qty,
		StopPrice:  price,
		ReduceOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("recreate %s: %w", kind, err)
	}

	h.store.TrackOrder(o)
	h.store.LinkGroup(trade.EntryOrderID, o.ID, siblingID)
	telemetry.GetGlobalMetrics().RecordHeal(ctx, symbol, string(kind))

	if h.audit != nil {
		if err := h.audit.RecordEvent(ctx, core.AuditEvent{
			Time:     time.Now(),
			Action:   core.ActionProtectionHealed,
			Symbol:   symbol,
			SignalID: trade.SignalID,
			Side:     string(side),
			Quantity: qty,
			Price:    price,
			Details:  fmt.Sprintf("%s recreated as %d", kind, o.ID),
		}); err != nil {
			h.logger.Warn("Audit write failed", "error", err)
		}
	}
	return o, nil
}
