package bootstrap

import (
	"context"
	"fmt"

	"signalbot/internal/alert"
	"signalbot/internal/audit"
	"signalbot/internal/core"
	"signalbot/internal/engine"
	"signalbot/internal/engine/gate"
	"signalbot/internal/engine/healer"
	"signalbot/internal/engine/reconcile"
	"signalbot/internal/engine/relationship"
	"signalbot/internal/engine/saga"
	"signalbot/internal/engine/state"
	"signalbot/internal/infrastructure/health"
	"signalbot/internal/infrastructure/metrics"
	"signalbot/internal/mock"
	"signalbot/internal/safety"
	"signalbot/internal/strategy"
	"signalbot/internal/trading/order"
	"signalbot/internal/venue"
	"signalbot/internal/venue/binance"
	"signalbot/pkg/concurrency"

	"github.com/shopspring/decimal"
)

// Bot is the fully wired per-symbol engine plus its background runners
type Bot struct {
	Runners []Runner
	closers []func() error
	logger  core.ILogger
}

// Close releases resources held outside the runners
func (b *Bot) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			b.logger.Warn("Close failed", "error", err)
		}
	}
}

// BuildBot assembles the engine described by the configuration. It talks to
// the venue: clock sync, startup safety check and leverage setup happen here.
func (a *App) BuildBot(ctx context.Context) (*Bot, error) {
	cfg := a.Cfg
	logger := a.Logger.WithField("symbol", cfg.Trading.Symbol)
	bot := &Bot{logger: logger}
	ok := false
	defer func() {
		if !ok {
			bot.Close()
		}
	}()

	variant, err := strategy.Lookup(cfg.Trading.Strategy)
	if err != nil {
		return nil, err
	}
	applyExecutionOverrides(&variant, cfg)

	timeframe, err := gate.ParseTimeframe(cfg.Trading.Timeframe)
	if err != nil {
		return nil, err
	}

	live := binance.NewVenue(binance.Options{
		APIKey:         cfg.Exchange.APIKey.Reveal(),
		SecretKey:      cfg.Exchange.SecretKey.Reveal(),
		BaseURL:        cfg.Exchange.BaseURL,
		RecvWindowMs:   cfg.Exchange.RecvWindowMs,
		RequestTimeout: cfg.Exchange.RequestTimeout,
		RateLimit:      cfg.Exchange.RateLimit,
		RateBurst:      cfg.Exchange.RateBurst,
	}, a.Logger)

	var v core.IVenue
	var bars core.IBarSource
	if cfg.UsesPaperVenue() {
		// public market data, simulated execution
		paper := mock.NewPaperVenue(live)
		v = paper
		bars = venue.NewRESTBars(paper, cfg.Trading.Symbol, cfg.Trading.Timeframe, cfg.Trading.BarLimit)
		logger.Warn("Paper trading: orders are simulated in memory")
	} else {
		guarded := venue.NewClockGuard(live, a.Logger)
		v = guarded
		feed := binance.NewKlineFeed(guarded, cfg.Trading.Symbol, cfg.Trading.Timeframe, cfg.Trading.BarLimit, cfg.Exchange.WSBaseURL, a.Logger)
		bars = feed
		bot.Runners = append(bot.Runners, RunnerFunc(func(ctx context.Context) error {
			if err := feed.Start(ctx); err != nil {
				// the gate falls back to REST on every read
				logger.Warn("Kline stream unavailable", "error", err)
			}
			<-ctx.Done()
			feed.Stop()
			return nil
		}))
	}

	clock := venue.NewClockSync(v, cfg.Clock.SyncInterval, a.Logger)
	clock.SyncOnce(ctx)
	bot.Runners = append(bot.Runners, clock)

	report, err := safety.NewSafetyChecker(a.Logger).CheckStartup(ctx, v, safety.Params{
		Symbol:        cfg.Trading.Symbol,
		Leverage:      cfg.Trading.Leverage,
		TradeAmount:   decimal.NewFromFloat(cfg.Trading.TradeAmount),
		TakeProfitPct: variant.TakeProfitPct,
		StopLossPct:   variant.StopLossPct,
	})
	if err != nil {
		return nil, fmt.Errorf("startup safety check: %w", err)
	}

	store := state.NewStore(cfg.Trading.Symbol)
	if report.Existing != nil {
		store.SetLocalPosition(*report.Existing)
	}

	var sink core.IAuditSink
	if cfg.Audit.Path != "" {
		auditStore, err := audit.NewSQLiteStore(cfg.Audit.Path, variant.Name)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		sink = auditStore
		bot.closers = append(bot.closers, auditStore.Close)
	}

	alertPool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "alerts",
		MaxWorkers:  cfg.Concurrency.AlertPoolSize,
		MaxCapacity: cfg.Concurrency.AlertPoolBuffer,
		NonBlocking: true,
	}, a.Logger)
	alerts := alert.NewAlertManager(alertPool, a.Logger)
	if token := cfg.Notify.TelegramBotToken.Reveal(); token != "" {
		alerts.AddChannel(alert.NewTelegramChannel(cfg.Notify.TelegramBaseURL, token, cfg.Notify.TelegramChatID))
	}
	if hook := cfg.Notify.SlackWebhookURL.Reveal(); hook != "" {
		alerts.AddChannel(alert.NewSlackChannel(hook))
	}
	logger.Info("Notification channels configured", "count", alerts.Channels())

	execOpts := order.DefaultOptions()
	execOpts.MaxRetries = cfg.Execution.MaxRetries
	execOpts.RetryDelay = cfg.Execution.RetryDelay
	execOpts.PriceAdjustment = variant.PriceAdjustment
	executor := order.NewOrderExecutor(v, report.Normalizer, execOpts, a.Logger)
	cascader := relationship.NewCascader(store, executor, a.Logger)

	healerPool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "healer",
		MaxWorkers:  cfg.Concurrency.HealerPoolSize,
		MaxCapacity: cfg.Concurrency.HealerPoolBuffer,
	}, a.Logger)
	heal := healer.NewHealer(healer.Config{
		TakeProfitPct: decimal.NewFromFloat(cfg.Execution.HealerTPPct),
		StopLossPct:   decimal.NewFromFloat(cfg.Execution.HealerSLPct),
	}, v, executor, store, report.Normalizer, sink, healerPool, a.Logger)

	coordinator := saga.NewCoordinator(saga.Config{
		Symbol:            cfg.Trading.Symbol,
		Leverage:          cfg.Trading.Leverage,
		TakeProfitPct:     variant.TakeProfitPct,
		StopLossPct:       variant.StopLossPct,
		MaxRetries:        cfg.Execution.MaxRetries,
		RetryDelay:        cfg.Execution.RetryDelay,
		FillCheckInterval: cfg.Execution.FillCheckInterval,
		FillMaxWait:       cfg.Execution.FillMaxWait,
		VerifyDelay:       cfg.Execution.VerifyDelay,
		PositionTolerance: decimal.NewFromFloat(cfg.Execution.PositionTolerance),
		HealerDelay:       cfg.Execution.HealerDelay,
	}, v, executor, report.Normalizer, store, heal, sink, alerts, a.Logger)

	signalGate := gate.NewGate(gate.Config{
		Symbol:               cfg.Trading.Symbol,
		Timeframe:            timeframe,
		ConfirmationDelay:    variant.ConfirmationDelay,
		TradeAmount:          decimal.NewFromFloat(cfg.Trading.TradeAmount),
		RevalidateAfterEntry: variant.RevalidateAfterEntry,
	}, store, bars, variant.Generator, sink, a.Logger)

	reconciler := reconcile.NewReconciler(cfg.Trading.Symbol, cfg.Trading.Leverage, v, executor, cascader, store, sink, alerts, a.Logger)

	runner := engine.NewRunner(engine.Config{
		Symbol:       cfg.Trading.Symbol,
		Strategy:     variant.Name,
		Timeframe:    cfg.Trading.Timeframe,
		Leverage:     cfg.Trading.Leverage,
		TickInterval: cfg.Trading.TickInterval,
	}, reconciler, signalGate, coordinator, sink, alerts, a.Logger, heal, alerts)
	bot.Runners = append(bot.Runners, runner)

	if cfg.Telemetry.EnableMetrics {
		hm := health.NewHealthManager(a.Logger)
		beat := health.NewHeartbeat(3 * cfg.Trading.TickInterval)
		runner.SetHeartbeat(beat)
		hm.Register("engine", beat.Check)
		hm.Register("alerts", func() error {
			if stats := alertPool.Stats(); stats.Waiting >= uint64(cfg.Concurrency.AlertPoolBuffer) {
				return fmt.Errorf("alert backlog full: %d waiting", stats.Waiting)
			}
			return nil
		})
		bot.Runners = append(bot.Runners, metrics.NewServer(cfg.Telemetry.MetricsPort, hm, a.Logger))
	}

	logger.Info("Engine assembled",
		"strategy", variant.Name,
		"venue", v.GetName(),
		"confirmation_delay", variant.ConfirmationDelay,
		"take_profit_pct", variant.TakeProfitPct.String(),
		"stop_loss_pct", variant.StopLossPct.String(),
		"startup_price", report.Price.String(),
		"order_qty", report.Quantity.String())

	ok = true
	return bot, nil
}

func applyExecutionOverrides(v *strategy.Variant, cfg *Config) {
	e := cfg.Execution
	if e.TakeProfitPct > 0 {
		v.TakeProfitPct = decimal.NewFromFloat(e.TakeProfitPct)
	}
	if e.StopLossPct > 0 {
		v.StopLossPct = decimal.NewFromFloat(e.StopLossPct)
	}
	if e.ConfirmationDelay > 0 {
		v.ConfirmationDelay = e.ConfirmationDelay
	}
	if e.PriceAdjustment > 0 {
		v.PriceAdjustment = decimal.NewFromFloat(e.PriceAdjustment)
	}
}
