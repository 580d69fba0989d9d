package engine

import (
	"context"

	"signalbot/internal/core"
	"signalbot/internal/engine/reconcile"
)

// Reconciler brings local state in line with the venue
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Result, error)
}

// SignalGate turns generator decisions into confirmed intents
type SignalGate interface {
	Step(ctx context.Context) (*core.TradeIntent, error)
	Revalidate(ctx context.Context) (bool, error)
	DropPending(ctx context.Context, reason string) bool
}

// TradeCoordinator opens and unwinds protected positions
type TradeCoordinator interface {
	Execute(ctx context.Context, intent core.TradeIntent) (*core.ActiveTrade, error)
	Unwind(ctx context.Context, reason string) error
}

// Stopper is a background component that is drained on shutdown
type Stopper interface {
	Stop()
}
