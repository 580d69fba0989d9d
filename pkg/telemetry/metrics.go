package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricSignalsTotal      = "signalbot_signals_total"
	MetricSagasTotal        = "signalbot_sagas_total"
	MetricOrdersPlacedTotal = "signalbot_orders_placed_total"
	MetricOrderRetriesTotal = "signalbot_order_retries_total"
	MetricCascadesTotal     = "signalbot_cascade_cancels_total"
	MetricHealsTotal        = "signalbot_protection_heals_total"
	MetricDriftTotal        = "signalbot_reconciliation_drift_total"
	MetricPnLRealizedTotal  = "signalbot_pnl_realized_total"
	MetricPositionSize      = "signalbot_position_size"
	MetricLatencyVenue      = "signalbot_latency_venue_ms"
	MetricClockOffset       = "signalbot_clock_offset_ms"
)

// MetricsHolder holds initialized instruments.
// All Record helpers are no-ops until InitMetrics has run.
type MetricsHolder struct {
	SignalsTotal      metric.Int64Counter
	SagasTotal        metric.Int64Counter
	OrdersPlacedTotal metric.Int64Counter
	OrderRetriesTotal metric.Int64Counter
	CascadesTotal     metric.Int64Counter
	HealsTotal        metric.Int64Counter
	DriftTotal        metric.Int64Counter
	PnLRealizedTotal  metric.Float64UpDownCounter
	LatencyVenue      metric.Float64Histogram
	PositionSize      metric.Float64ObservableGauge
	ClockOffset       metric.Int64ObservableGauge

	// State for observable gauges
	mu              sync.RWMutex
	positionSizeMap map[string]float64
	clockOffsetMs   int64
	initialized     bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			positionSizeMap: make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	if m.SignalsTotal, err = meter.Int64Counter(MetricSignalsTotal, metric.WithDescription("Signals by gate outcome")); err != nil {
		return err
	}
	if m.SagasTotal, err = meter.Int64Counter(MetricSagasTotal, metric.WithDescription("Execution sagas by outcome")); err != nil {
		return err
	}
	if m.OrdersPlacedTotal, err = meter.Int64Counter(MetricOrdersPlacedTotal, metric.WithDescription("Orders accepted by the venue")); err != nil {
		return err
	}
	if m.OrderRetriesTotal, err = meter.Int64Counter(MetricOrderRetriesTotal, metric.WithDescription("Order placement retries")); err != nil {
		return err
	}
	if m.CascadesTotal, err = meter.Int64Counter(MetricCascadesTotal, metric.WithDescription("Orders cancelled by relationship cascade")); err != nil {
		return err
	}
	if m.HealsTotal, err = meter.Int64Counter(MetricHealsTotal, metric.WithDescription("Protective orders recreated by the healer")); err != nil {
		return err
	}
	if m.DriftTotal, err = meter.Int64Counter(MetricDriftTotal, metric.WithDescription("Local/venue divergences resolved by reconciliation")); err != nil {
		return err
	}
	if m.PnLRealizedTotal, err = meter.Float64UpDownCounter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized profit/loss in quote asset")); err != nil {
		return err
	}
	if m.LatencyVenue, err = meter.Float64Histogram(MetricLatencyVenue, metric.WithDescription("Latency of venue API calls"), metric.WithUnit("ms")); err != nil {
		return err
	}

	m.PositionSize, err = meter.Float64ObservableGauge(MetricPositionSize, metric.WithDescription("Signed venue position size"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.positionSizeMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.ClockOffset, err = meter.Int64ObservableGauge(MetricClockOffset, metric.WithDescription("Venue clock offset applied to signed requests"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.clockOffsetMs)
			return nil
		}))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *MetricsHolder) ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

func (m *MetricsHolder) count(ctx context.Context, c metric.Int64Counter, symbol, key, value string) {
	if !m.ready() {
		return
	}
	attrs := []attribute.KeyValue{attribute.String("symbol", symbol)}
	if key != "" {
		attrs = append(attrs, attribute.String(key, value))
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSignal counts a gate transition (detected, confirmed, cancelled, ignored)
func (m *MetricsHolder) RecordSignal(ctx context.Context, symbol, outcome string) {
	m.count(ctx, m.SignalsTotal, symbol, "outcome", outcome)
}

// RecordSaga counts a finished saga by outcome
func (m *MetricsHolder) RecordSaga(ctx context.Context, symbol, outcome string) {
	m.count(ctx, m.SagasTotal, symbol, "outcome", outcome)
}

// RecordOrderPlaced counts an accepted order by kind
func (m *MetricsHolder) RecordOrderPlaced(ctx context.Context, symbol, kind string) {
	m.count(ctx, m.OrdersPlacedTotal, symbol, "kind", kind)
}

// RecordOrderRetry counts a placement retry by kind
func (m *MetricsHolder) RecordOrderRetry(ctx context.Context, symbol, kind string) {
	m.count(ctx, m.OrderRetriesTotal, symbol, "kind", kind)
}

// RecordCascade counts an order cancelled by cascade
func (m *MetricsHolder) RecordCascade(ctx context.Context, symbol string) {
	m.count(ctx, m.CascadesTotal, symbol, "", "")
}

// RecordHeal counts a recreated protective order
func (m *MetricsHolder) RecordHeal(ctx context.Context, symbol, kind string) {
	m.count(ctx, m.HealsTotal, symbol, "kind", kind)
}

// RecordDrift counts a reconciliation divergence by type
func (m *MetricsHolder) RecordDrift(ctx context.Context, symbol, kind string) {
	m.count(ctx, m.DriftTotal, symbol, "kind", kind)
}

// RecordRealizedPnL adds a realized result
func (m *MetricsHolder) RecordRealizedPnL(ctx context.Context, symbol string, pnl float64) {
	if !m.ready() {
		return
	}
	m.PnLRealizedTotal.Add(ctx, pnl, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordVenueLatency observes one venue call duration
func (m *MetricsHolder) RecordVenueLatency(ctx context.Context, op string, ms float64) {
	if !m.ready() {
		return
	}
	m.LatencyVenue.Record(ctx, ms, metric.WithAttributes(attribute.String("op", op)))
}

func (m *MetricsHolder) SetPositionSize(symbol string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionSizeMap[symbol] = size
}

func (m *MetricsHolder) SetClockOffset(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clockOffsetMs = ms
}

func (m *MetricsHolder) GetPositionSize() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.positionSizeMap {
		res[k] = v
	}
	return res
}
