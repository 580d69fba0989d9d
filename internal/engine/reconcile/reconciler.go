// Package reconcile keeps the local position and order cache aligned with the venue
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalbot/internal/alert"
	"signalbot/internal/core"
	"signalbot/internal/engine/state"
	apperrors "signalbot/pkg/errors"
	"signalbot/pkg/telemetry"
	"signalbot/pkg/tradingutils"
)

// Canceler cancels venue orders
type Canceler interface {
	CancelAll(ctx context.Context, symbol string) error
}

// Cascader cancels the relatives of a terminal order
type Cascader interface {
	Cascade(ctx context.Context, orderID int64) ([]int64, error)
}

// Drift kinds reported to metrics
const (
	DriftPositionClosed  = "position_closed"
	DriftPositionChanged = "position_changed"
	DriftOrphanOrders    = "orphan_orders"
	DriftOrderTerminal   = "order_terminal"
)

// Result summarises one reconciliation pass
type Result struct {
	Position       core.Position
	Closed         bool
	OrphansCleared bool
	Cascaded       []int64
}

// Reconciler treats the venue as the only source of truth
type Reconciler struct {
	symbol   string
	leverage int
	venue    core.IVenue
	canceler Canceler
	cascader Cascader
	store    *state.Store
	audit    core.IAuditSink
	notifier core.INotifier
	logger   core.ILogger
	now      func() time.Time
}

// NewReconciler creates a reconciler. audit and notifier may be nil.
func NewReconciler(
	symbol string,
	leverage int,
	venue core.IVenue,
	canceler Canceler,
	cascader Cascader,
	store *state.Store,
	audit core.IAuditSink,
	notifier core.INotifier,
	logger core.ILogger,
) *Reconciler {
	return &Reconciler{
		symbol:   symbol,
		leverage: leverage,
		venue:    venue,
		canceler: canceler,
		cascader: cascader,
		store:    store,
		audit:    audit,
		notifier: notifier,
		logger:   logger.WithField("component", "reconciler").WithField("symbol", symbol),
		now:      time.Now,
	}
}

// Reconcile runs one pass: read the venue position, sweep tracked orders,
// then overwrite the local position.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	var res Result
	metrics := telemetry.GetGlobalMetrics()

	venuePos, err := r.venue.GetPosition(ctx, r.symbol)
	if err != nil {
		r.logger.Warn("Venue position unavailable", "error", err)
		res.OrphansCleared = r.clearOrphans(ctx, "position unavailable")
		return res, fmt.Errorf("%w: %v", apperrors.ErrPositionUnavailable, err)
	}

	// cascades run before a close clears the tracked group
	cascaded, sweepErr := r.sweepOrders(ctx)
	res.Cascaded = cascaded

	local := r.store.LocalPosition()
	switch {
	case venuePos.IsFlat() && !local.IsFlat():
		res.Closed = true
		r.positionClosed(ctx, local)
		metrics.RecordDrift(ctx, r.symbol, DriftPositionClosed)
	case !samePosition(local, *venuePos):
		r.logger.Info("Position updated from venue",
			"local_side", local.Side, "local_size", local.Size.String(),
			"venue_side", venuePos.Side, "venue_size", venuePos.Size.String())
		metrics.RecordDrift(ctx, r.symbol, DriftPositionChanged)
	}

	// protective orders left behind by an external close must not fire
	// against the next position
	if venuePos.IsFlat() {
		res.OrphansCleared = r.clearOrphans(ctx, "position flat")
	}

	// venue truth always overwrites the cache
	r.store.SetLocalPosition(*venuePos)
	res.Position = *venuePos
	size, _ := venuePos.Size.Float64()
	if venuePos.Side == core.PositionShort {
		size = -size
	}
	metrics.SetPositionSize(r.symbol, size)
	return res, sweepErr
}

// positionClosed records the venue-side exit of the local position
func (r *Reconciler) positionClosed(ctx context.Context, local core.Position) {
	exit, err := r.venue.GetTicker(ctx, r.symbol)
	if err != nil {
		r.logger.Warn("Ticker unavailable, using last mark price", "error", err)
		exit = local.MarkPrice
	}
	long := local.Side == core.PositionLong
	change := tradingutils.PriceChangePct(local.EntryPrice, exit, long)
	leveraged := tradingutils.LeveragedPnLPct(change, r.leverage)
	pnl := tradingutils.PnLQuote(local.EntryPrice, exit, local.Size, long)

	trade, hasTrade := r.store.ClearTrade()
	r.logger.Info("Position closed on venue",
		"signal_id", trade.SignalID,
		"entry_price", local.EntryPrice.String(),
		"exit_price", exit.String(),
		"pnl", pnl.String(),
		"leveraged_pct", leveraged.StringFixed(2))

	if r.audit != nil {
		if hasTrade {
			if err := r.audit.RecordPositionClosed(ctx, trade.SignalID, exit, pnl, leveraged); err != nil {
				r.logger.Warn("Audit write failed", "error", err)
			}
		} else if err := r.audit.RecordEvent(ctx, core.AuditEvent{
			Time:     r.now(),
			Action:   core.ActionPositionClose,
			Symbol:   r.symbol,
			Side:     string(local.Side),
			Quantity: local.Size,
			Price:    exit,
			Details:  fmt.Sprintf("untracked position closed pnl=%s", pnl.StringFixed(4)),
		}); err != nil {
			r.logger.Warn("Audit write failed", "error", err)
		}
	}
	if r.notifier != nil {
		r.notifier.Notify(ctx, alert.FormatPositionClosed(alert.PositionResult{
			Symbol:       r.symbol,
			Side:         local.Side,
			EntryPrice:   local.EntryPrice,
			ExitPrice:    exit,
			ChangePct:    change,
			LeveragedPct: leveraged,
			PnLQuote:     pnl,
			Time:         r.now(),
		}))
	}
	pnlF, _ := pnl.Float64()
	telemetry.GetGlobalMetrics().RecordRealizedPnL(ctx, r.symbol, pnlF)
}

// clearOrphans cancels every open order when the position is flat or cannot
// be read
func (r *Reconciler) clearOrphans(ctx context.Context, reason string) bool {
	open, err := r.venue.GetOpenOrders(ctx, r.symbol)
	if err != nil || len(open) == 0 {
		return false
	}
	r.logger.Warn("Orphan orders found, canceling", "count", len(open), "reason", reason)
	if err := r.canceler.CancelAll(ctx, r.symbol); err != nil {
		r.logger.Error("Failed to cancel orphan orders", "error", err)
		return false
	}
	for _, o := range open {
		r.store.SetOrderStatus(o.ID, core.OrderStatusCanceled)
	}
	telemetry.GetGlobalMetrics().RecordDrift(ctx, r.symbol, DriftOrphanOrders)
	if r.audit != nil {
		if err := r.audit.RecordEvent(ctx, core.AuditEvent{
			Time:    r.now(),
			Action:  core.ActionOrphanOrdersClear,
			Symbol:  r.symbol,
			Details: fmt.Sprintf("%d open orders canceled, %s", len(open), reason),
		}); err != nil {
			r.logger.Warn("Audit write failed", "error", err)
		}
	}
	return true
}

// sweepOrders refreshes tracked open orders and cascades terminal ones
func (r *Reconciler) sweepOrders(ctx context.Context) ([]int64, error) {
	tracked := r.store.OpenOrders()
	if len(tracked) == 0 {
		return nil, nil
	}

	open, err := r.venue.GetOpenOrders(ctx, r.symbol)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	live := make(map[int64]*core.Order, len(open))
	for _, o := range open {
		live[o.ID] = o
	}

	var terminal []int64
	var errs []error
	for _, o := range tracked {
		if fresh, ok := live[o.ID]; ok {
			r.store.TrackOrder(fresh)
			continue
		}

		status := core.OrderStatusCanceled
		fresh, err := r.venue.GetOrderStatus(ctx, r.symbol, o.ID)
		switch {
		case errors.Is(err, apperrors.ErrOrderNotFound):
			r.logger.Warn("Tracked order unknown to venue", "order_id", o.ID)
		case err != nil:
			errs = append(errs, fmt.Errorf("order %d: %w", o.ID, err))
			continue
		default:
			status = fresh.Status
		}
		if !status.IsTerminal() {
			continue
		}
		r.store.SetOrderStatus(o.ID, status)
		terminal = append(terminal, o.ID)
		telemetry.GetGlobalMetrics().RecordDrift(ctx, r.symbol, DriftOrderTerminal)
		r.logger.Info("Order reached terminal state", "order_id", o.ID, "kind", o.Kind, "status", status)
	}

	var cascaded []int64
	for _, id := range terminal {
		ids, err := r.cascader.Cascade(ctx, id)
		cascaded = append(cascaded, ids...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return cascaded, errors.Join(errs...)
}

func samePosition(a, b core.Position) bool {
	if a.IsFlat() && b.IsFlat() {
		return true
	}
	return a.Side == b.Side && a.Size.Equal(b.Size)
}
