// Package engine runs the per-symbol cooperative trading loop.
//
// Every tick reconciles with the venue first, then re-validates an open
// trade, then advances the signal gate. A confirmed intent is executed
// inline, so at most one saga is in flight per symbol.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signalbot/internal/alert"
	"signalbot/internal/core"
	apperrors "signalbot/pkg/errors"
	"signalbot/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Config describes the bot instance for banners and audit
type Config struct {
	Symbol       string
	Strategy     string
	Timeframe    string
	Leverage     int
	TickInterval time.Duration
}

// Runner drives one symbol
type Runner struct {
	cfg         Config
	reconciler  Reconciler
	gate        SignalGate
	coordinator TradeCoordinator
	background  []Stopper
	audit       core.IAuditSink
	notifier    core.INotifier
	logger      core.ILogger
	tracer      trace.Tracer
	heartbeat   Beater

	pendingUnwind string
}

// Beater is told about every completed tick
type Beater interface {
	Beat()
}

// NewRunner wires the loop. background components are stopped, in order,
// when Run returns. audit and notifier may be nil.
func NewRunner(
	cfg Config,
	reconciler Reconciler,
	gate SignalGate,
	coordinator TradeCoordinator,
	audit core.IAuditSink,
	notifier core.INotifier,
	logger core.ILogger,
	background ...Stopper,
) *Runner {
	return &Runner{
		cfg:         cfg,
		reconciler:  reconciler,
		gate:        gate,
		coordinator: coordinator,
		background:  background,
		audit:       audit,
		notifier:    notifier,
		logger:      logger.WithField("component", "engine").WithField("symbol", cfg.Symbol),
		tracer:      telemetry.GetTracer("engine"),
	}
}

// SetHeartbeat registers a liveness hook called after each tick
func (r *Runner) SetHeartbeat(b Beater) {
	r.heartbeat = b
}

// Run ticks until ctx is cancelled. Stopping is graceful and returns nil.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", r.cfg.TickInterval)
	}

	r.logger.Info("Starting trading loop",
		"strategy", r.cfg.Strategy,
		"timeframe", r.cfg.Timeframe,
		"leverage", r.cfg.Leverage,
		"tick", r.cfg.TickInterval)
	r.record(ctx, core.ActionBotStart, fmt.Sprintf("strategy=%s timeframe=%s leverage=%d", r.cfg.Strategy, r.cfg.Timeframe, r.cfg.Leverage))
	r.notify(ctx, alert.FormatBotStarted(r.cfg.Symbol, r.cfg.Strategy, r.cfg.Timeframe, r.cfg.Leverage))

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	r.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			r.shutdown(context.WithoutCancel(ctx))
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one loop iteration. Errors are logged, never returned.
func (r *Runner) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Tick panicked", "panic", p)
		}
		if r.heartbeat != nil {
			r.heartbeat.Beat()
		}
	}()

	ctx, span := r.tracer.Start(ctx, "engine.tick", trace.WithAttributes(attribute.String("symbol", r.cfg.Symbol)))
	defer span.End()

	if _, err := r.reconciler.Reconcile(ctx); err != nil {
		// without venue truth no new trade may be opened
		if errors.Is(err, apperrors.ErrPositionUnavailable) {
			r.logger.Warn("Skipping tick, position unavailable", "error", err)
		} else {
			r.logger.Error("Reconciliation failed", "error", err)
		}
		return
	}

	if r.pendingUnwind == "" {
		unwind, err := r.gate.Revalidate(ctx)
		if err != nil {
			r.logger.Warn("Re-validation failed", "error", err)
		}
		if unwind {
			r.pendingUnwind = "entry signal reversed"
		}
	}
	// a failed unwind is repeated every tick until it succeeds
	if r.pendingUnwind != "" {
		if err := r.coordinator.Unwind(context.WithoutCancel(ctx), r.pendingUnwind); err != nil {
			r.logger.Error("Unwind failed, retrying next tick", "reason", r.pendingUnwind, "error", err)
			return
		}
		r.pendingUnwind = ""
		return
	}

	intent, err := r.gate.Step(ctx)
	if err != nil {
		r.logger.Warn("Signal evaluation failed", "error", err)
		return
	}
	if intent == nil {
		return
	}

	// the saga runs to a terminal outcome even if a stop arrives meanwhile
	trade, err := r.coordinator.Execute(context.WithoutCancel(ctx), *intent)
	if err != nil {
		r.logger.Error("Trade execution failed", "signal_id", intent.Signal.ID, "error", err)
		return
	}
	r.logger.Info("Trade opened", "signal_id", trade.SignalID, "side", trade.Side, "entry", trade.EntryPrice.String())
}

func (r *Runner) shutdown(ctx context.Context) {
	r.logger.Info("Stopping trading loop")
	r.gate.DropPending(ctx, "bot stopping")
	r.record(ctx, core.ActionBotStop, "")
	r.notify(ctx, alert.FormatBotStopped(r.cfg.Symbol))
	for _, s := range r.background {
		s.Stop()
	}
}

func (r *Runner) record(ctx context.Context, action core.AuditAction, details string) {
	if r.audit == nil {
		return
	}
	err := r.audit.RecordEvent(ctx, core.AuditEvent{
		Time:    time.Now(),
		Action:  action,
		Symbol:  r.cfg.Symbol,
		Details: details,
	})
	if err != nil {
		r.logger.Warn("Audit write failed", "action", action, "error", err)
	}
}

func (r *Runner) notify(ctx context.Context, msg string) {
	if r.notifier != nil {
		r.notifier.Notify(ctx, msg)
	}
}
