// Package relationship cancels the still-open relatives of an order that has
// reached a terminal state.
package relationship

import (
	"context"
	"errors"
	"fmt"

	"signalbot/internal/core"
	"signalbot/internal/engine/state"
	"signalbot/pkg/telemetry"
)

// Canceler cancels one order; an unknown order must be reported as success
type Canceler interface {
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

// Cascader applies cascade cancellation over the store's relationship graph
type Cascader struct {
	store    *state.Store
	canceler Canceler
	logger   core.ILogger
}

// NewCascader creates a cascader
func NewCascader(store *state.Store, canceler Canceler, logger core.ILogger) *Cascader {
	return &Cascader{
		store:    store,
		canceler: canceler,
		logger:   logger.WithField("component", "cascader"),
	}
}

// Cascade is called when orderID has reached a terminal state. Every linked
// order still open is cancelled, orderID's entry is removed, and the group is
// removed once all its members are terminal. A second call is a no-op.
// Returns the IDs that were cancelled.
func (c *Cascader) Cascade(ctx context.Context, orderID int64) ([]int64, error) {
	if !c.store.InGraph(orderID) {
		return nil, nil
	}
	symbol := c.store.Symbol()

	var cancelled []int64
	var errs []error
	for _, id := range c.store.Linked(orderID) {
		o, tracked := c.store.Order(id)
		if tracked && o.Status.IsTerminal() {
			continue
		}
		if err := c.canceler.CancelOrder(ctx, symbol, id); err != nil {
			c.logger.Error("Cascade cancel failed", "trigger", orderID, "order_id", id, "error", err)
			errs = append(errs, fmt.Errorf("cancel %d: %w", id, err))
			continue
		}
		c.store.SetOrderStatus(id, core.OrderStatusCanceled)
		cancelled = append(cancelled, id)
		telemetry.GetGlobalMetrics().RecordCascade(ctx, symbol)
	}

	removed := c.store.DetachOrder(orderID)
	if len(cancelled) > 0 || len(removed) > 1 {
		c.logger.Info("Cascade applied", "trigger", orderID, "cancelled", cancelled, "removed", removed)
	}
	return cancelled, errors.Join(errs...)
}
