// Package order provides order execution functionality with rate limiting and retry logic
package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"signalbot/internal/core"
	apperrors "signalbot/pkg/errors"
	"signalbot/pkg/retry"
	"signalbot/pkg/telemetry"
	"signalbot/pkg/tradingutils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options configures retries and pacing
type Options struct {
	MaxRetries      int
	RetryDelay      time.Duration
	PriceAdjustment decimal.Decimal
	RateLimit       float64
	RateBurst       int
}

// DefaultOptions mirrors the execution defaults: 3 attempts 2s apart, 0.01% escalation
func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		RetryDelay:      2 * time.Second,
		PriceAdjustment: decimal.RequireFromString("0.0001"),
		RateLimit:       25,
		RateBurst:       30,
	}
}

// OrderExecutor is the shared retrying create/cancel primitive used by the
// saga, the healer and unwind.
type OrderExecutor struct {
	venue      core.IVenue
	normalizer core.INormalizer
	logger     core.ILogger
	opts       Options

	mu          sync.RWMutex
	rateLimiter *rate.Limiter

	// Health status
	errorTimestamps []time.Time
	errorIndex      int
	errorCapacity   int
	errorMu         sync.Mutex

	tracer  trace.Tracer
	metrics *telemetry.MetricsHolder
}

// NewOrderExecutor creates a new order executor. normalizer re-rounds escalated
// prices; nil leaves them unrounded.
func NewOrderExecutor(venue core.IVenue, normalizer core.INormalizer, opts Options, logger core.ILogger) *OrderExecutor {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 25
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 30
	}

	return &OrderExecutor{
		venue:           venue,
		normalizer:      normalizer,
		logger:          logger.WithField("component", "order_executor"),
		opts:            opts,
		rateLimiter:     rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		errorCapacity:   1000,
		errorTimestamps: make([]time.Time, 0, 1000),
		tracer:          telemetry.GetTracer("order-executor"),
		metrics:         telemetry.GetGlobalMetrics(),
	}
}

// SetRateLimit updates the rate limit
func (oe *OrderExecutor) SetRateLimit(limit float64, burst int) {
	oe.mu.Lock()
	defer oe.mu.Unlock()
	oe.rateLimiter = rate.NewLimiter(rate.Limit(limit), burst)
}

// SetNormalizer replaces the price normalizer
func (oe *OrderExecutor) SetNormalizer(n core.INormalizer) {
	oe.mu.Lock()
	defer oe.mu.Unlock()
	oe.normalizer = n
}

func (oe *OrderExecutor) wait(ctx context.Context) error {
	oe.mu.RLock()
	limiter := oe.rateLimiter
	oe.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}
	return nil
}

// PlaceOrder submits req, retrying up to MaxRetries attempts RetryDelay apart.
// On attempt k>0 Price and StopPrice are escalated by PriceAdjustment×k and
// re-rounded to tick size. Validation errors are not retried.
//
// Every attempt carries the same client order ID, so an attempt whose
// response was lost cannot leave a second live order behind.
func (oe *OrderExecutor) PlaceOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	ctx, span := oe.tracer.Start(ctx, "PlaceOrder",
		trace.WithAttributes(
			attribute.String("symbol", req.Symbol),
			attribute.String("side", string(req.Side)),
			attribute.String("kind", string(req.Kind)),
		),
	)
	defer span.End()

	base := *req
	if base.ClientOrderID == "" {
		base.ClientOrderID = uuid.NewString()
	}

	var placed *core.Order
	policy := retry.Fixed(oe.opts.MaxRetries, oe.opts.RetryDelay)
	err := retry.DoAttempt(ctx, policy, isRetriable, func(attempt int) error {
		attemptReq := oe.attemptRequest(&base, attempt)
		if attempt > 0 {
			oe.metrics.RecordOrderRetry(ctx, req.Symbol, string(req.Kind))
			oe.logger.Info("Retrying order",
				"symbol", req.Symbol,
				"kind", req.Kind,
				"attempt", attempt+1,
				"price", attemptReq.Price.String(),
				"stop_price", attemptReq.StopPrice.String())
		}

		if err := oe.wait(ctx); err != nil {
			return err
		}

		order, err := oe.venue.CreateOrder(ctx, attemptReq)
		if errors.Is(err, apperrors.ErrDuplicateOrder) && attempt > 0 {
			// an earlier attempt reached the venue after all
			if existing := oe.findByClientID(ctx, req.Symbol, base.ClientOrderID); existing != nil {
				oe.logger.Warn("Earlier attempt was accepted, adopting it",
					"order_id", existing.ID, "client_order_id", base.ClientOrderID)
				placed = existing
				return nil
			}
		}
		if err != nil {
			oe.recordError()
			oe.logger.Warn("Order placement failed",
				"symbol", req.Symbol,
				"side", req.Side,
				"kind", req.Kind,
				"error", err.Error(),
				"attempt", attempt+1)
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("place %s %s: %w", req.Kind, req.Side, err)
	}

	oe.metrics.RecordOrderPlaced(ctx, req.Symbol, string(req.Kind))
	oe.logger.Info("Order placed",
		"symbol", placed.Symbol,
		"order_id", placed.ID,
		"kind", placed.Kind,
		"side", placed.Side,
		"qty", placed.Quantity.String(),
		"status", placed.Status)
	return placed, nil
}

// attemptRequest derives the request for a given attempt
func (oe *OrderExecutor) attemptRequest(req *core.PlaceOrderRequest, attempt int) *core.PlaceOrderRequest {
	r := *req
	if attempt == 0 {
		return &r
	}

	oe.mu.RLock()
	n := oe.normalizer
	oe.mu.RUnlock()

	escalate := func(p decimal.Decimal) decimal.Decimal {
		if p.IsZero() {
			return p
		}
		p = tradingutils.Escalate(p, oe.opts.PriceAdjustment, attempt)
		if n != nil {
			if adj, ok := n.AdjustPrice(p); ok {
				return adj
			}
		}
		return p
	}
	r.Price = escalate(r.Price)
	r.StopPrice = escalate(r.StopPrice)
	return &r
}

func (oe *OrderExecutor) findByClientID(ctx context.Context, symbol, clientID string) *core.Order {
	open, err := oe.venue.GetOpenOrders(ctx, symbol)
	if err != nil {
		oe.logger.Warn("Open orders unavailable for duplicate lookup", "error", err)
		return nil
	}
	for _, o := range open {
		if o.ClientOrderID == clientID {
			return o
		}
	}
	return nil
}

// CancelOrder cancels one order, retrying transient failures. An unknown
// order is treated as already cancelled.
func (oe *OrderExecutor) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	err := retry.Do(ctx, retry.Fixed(oe.opts.MaxRetries, oe.opts.RetryDelay), apperrors.IsTransient, func() error {
		if err := oe.wait(ctx); err != nil {
			return err
		}
		oe.logger.Debug("Canceling order", "symbol", symbol, "order_id", orderID)
		return oe.venue.CancelOrder(ctx, symbol, orderID)
	})
	if err == nil || errors.Is(err, apperrors.ErrOrderNotFound) {
		return nil
	}
	oe.recordError()
	oe.logger.Warn("Order cancellation failed", "symbol", symbol, "order_id", orderID, "error", err.Error())
	return fmt.Errorf("cancel %d: %w", orderID, err)
}

// CancelAll cancels every open order for symbol, retrying transient failures
func (oe *OrderExecutor) CancelAll(ctx context.Context, symbol string) error {
	err := retry.Do(ctx, retry.Fixed(oe.opts.MaxRetries, oe.opts.RetryDelay), apperrors.IsTransient, func() error {
		if err := oe.wait(ctx); err != nil {
			return err
		}
		return oe.venue.CancelAllOpenOrders(ctx, symbol)
	})
	if err != nil {
		oe.recordError()
		return fmt.Errorf("cancel all %s: %w", symbol, err)
	}
	oe.logger.Info("All open orders canceled", "symbol", symbol)
	return nil
}

// CheckHealth returns an error if the order executor is unhealthy
func (oe *OrderExecutor) CheckHealth() error {
	errCount := oe.getRecentErrorCount(5 * time.Minute)
	if errCount > 50 {
		return fmt.Errorf("high error rate: %d errors in last 5 minutes", errCount)
	}
	return nil
}

// isRetriable is false for errors another attempt cannot fix
func isRetriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// ClockGuard already resynced and retried once; a second skew is surfaced
	if errors.Is(err, apperrors.ErrTimestampOutOfBounds) || errors.Is(err, apperrors.ErrDuplicateOrder) {
		return false
	}
	return !apperrors.IsValidation(err) && !errors.Is(err, apperrors.ErrAuthenticationFailed)
}

// recordError adds an error timestamp to track recent errors (Ring Buffer)
func (oe *OrderExecutor) recordError() {
	oe.errorMu.Lock()
	defer oe.errorMu.Unlock()

	if len(oe.errorTimestamps) < oe.errorCapacity {
		oe.errorTimestamps = append(oe.errorTimestamps, time.Now())
	} else {
		oe.errorTimestamps[oe.errorIndex] = time.Now()
		oe.errorIndex = (oe.errorIndex + 1) % oe.errorCapacity
	}
}

// getRecentErrorCount returns number of errors within duration
func (oe *OrderExecutor) getRecentErrorCount(duration time.Duration) int {
	oe.errorMu.Lock()
	defer oe.errorMu.Unlock()

	cutoff := time.Now().Add(-duration)
	count := 0
	for _, t := range oe.errorTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}
