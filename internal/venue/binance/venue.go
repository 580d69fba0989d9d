// Package binance adapts the Binance USDⓈ-M futures API to core.IVenue
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"signalbot/internal/core"
	apperrors "signalbot/pkg/errors"
	"signalbot/pkg/telemetry"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Options configures the adapter
type Options struct {
	APIKey         string
	SecretKey      string
	BaseURL        string
	RecvWindowMs   int64
	RequestTimeout time.Duration
	RateLimit      float64
	RateBurst      int
}

// Venue implements core.IVenue on top of go-binance futures
type Venue struct {
	client  *futures.Client
	opts    Options
	limiter *rate.Limiter
	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	mu      sync.RWMutex
	filters map[string]*core.SymbolFilters
}

// NewVenue creates a futures adapter
func NewVenue(opts Options, logger core.ILogger) *Venue {
	if opts.RecvWindowMs <= 0 {
		opts.RecvWindowMs = 10000
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 30
	}

	client := futures.NewClient(opts.APIKey, opts.SecretKey)
	if opts.BaseURL != "" {
		client.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	client.HTTPClient = &http.Client{Timeout: opts.RequestTimeout}

	return &Venue{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		logger:  logger.WithField("component", "binance_venue"),
		metrics: telemetry.GetGlobalMetrics(),
		filters: make(map[string]*core.SymbolFilters),
	}
}

func (v *Venue) GetName() string {
	return "binance"
}

// call rate-limits, bounds and times one request, and classifies its error
func (v *Venue) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := v.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, v.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	v.metrics.RecordVenueLatency(ctx, op, float64(time.Since(start).Microseconds())/1000)

	if err != nil {
		return fmt.Errorf("binance %s: %w", op, classify(err))
	}
	return nil
}

func (v *Venue) recvWindow() futures.RequestOption {
	return futures.WithRecvWindow(v.opts.RecvWindowMs)
}

func (v *Venue) CreateOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	orderType, err := toFuturesType(req.Kind)
	if err != nil {
		return nil, err
	}

	svc := v.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(toFuturesSide(req.Side)).
		Type(orderType).
		Quantity(req.Quantity.String())

	switch req.Kind {
	case core.OrderKindLimit:
		svc = svc.TimeInForce(futures.TimeInForceTypeGTC).Price(req.Price.String())
	case core.OrderKindStop, core.OrderKindTakeProfit:
		svc = svc.TimeInForce(futures.TimeInForceTypeGTC).Price(req.Price.String()).StopPrice(req.StopPrice.String())
	case core.OrderKindStopMarket, core.OrderKindTakeProfitMarket:
		svc = svc.StopPrice(req.StopPrice.String()).WorkingType(futures.WorkingTypeMarkPrice)
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}
	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	var resp *futures.CreateOrderResponse
	err = v.call(ctx, "create_order", func(ctx context.Context) error {
		var err error
		resp, err = svc.Do(ctx, v.recvWindow())
		return err
	})
	if err != nil {
		return nil, err
	}

	v.logger.Info("Order accepted",
		"order_id", resp.OrderID, "kind", req.Kind, "side", req.Side,
		"qty", req.Quantity.String(), "price", req.Price.String(), "stop", req.StopPrice.String())
	return fromCreateResponse(resp, req), nil
}

// CancelOrder treats an unknown order as already cancelled
func (v *Venue) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	err := v.call(ctx, "cancel_order", func(ctx context.Context) error {
		_, err := v.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx, v.recvWindow())
		return err
	})
	if errors.Is(err, apperrors.ErrOrderNotFound) {
		v.logger.Debug("Cancel of unknown order treated as done", "order_id", orderID)
		return nil
	}
	return err
}

func (v *Venue) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return v.call(ctx, "cancel_all", func(ctx context.Context) error {
		return v.client.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx, v.recvWindow())
	})
}

func (v *Venue) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*core.Order, error) {
	var o *futures.Order
	err := v.call(ctx, "get_order", func(ctx context.Context) error {
		var err error
		o, err = v.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx, v.recvWindow())
		return err
	})
	if err != nil {
		return nil, err
	}
	return fromFuturesOrder(o), nil
}

func (v *Venue) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	var rows []*futures.Order
	err := v.call(ctx, "open_orders", func(ctx context.Context) error {
		var err error
		rows, err = v.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx, v.recvWindow())
		return err
	})
	if err != nil {
		return nil, err
	}
	orders := make([]*core.Order, 0, len(rows))
	for _, o := range rows {
		orders = append(orders, fromFuturesOrder(o))
	}
	return orders, nil
}

func (v *Venue) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	var rows []*futures.PositionRisk
	err := v.call(ctx, "position", func(ctx context.Context) error {
		var err error
		rows, err = v.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx, v.recvWindow())
		return err
	})
	if err != nil {
		return nil, err
	}
	pos := positionFromRisk(symbol, rows)
	size, _ := pos.Size.Float64()
	if pos.Side == core.PositionShort {
		size = -size
	}
	v.metrics.SetPositionSize(symbol, size)
	return pos, nil
}

// GetSymbolFilters caches filters per symbol after the first successful lookup
func (v *Venue) GetSymbolFilters(ctx context.Context, symbol string) (*core.SymbolFilters, error) {
	v.mu.RLock()
	f, ok := v.filters[symbol]
	v.mu.RUnlock()
	if ok {
		return f, nil
	}

	var info *futures.ExchangeInfo
	err := v.call(ctx, "exchange_info", func(ctx context.Context) error {
		var err error
		info, err = v.client.NewExchangeInfoService().Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		f, err := filtersFromSymbol(s)
		if err != nil {
			return nil, err
		}
		v.mu.Lock()
		v.filters[symbol] = f
		v.mu.Unlock()
		v.logger.Info("Symbol filters loaded",
			"symbol", symbol, "min_qty", f.MinQty.String(), "step", f.StepSize.String(), "tick", f.TickSize.String())
		return f, nil
	}
	return nil, fmt.Errorf("binance exchange_info: symbol %s not listed: %w", symbol, apperrors.ErrInvalidSymbol)
}

func (v *Venue) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var prices []*futures.SymbolPrice
	err := v.call(ctx, "ticker", func(ctx context.Context) error {
		var err error
		prices, err = v.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, p := range prices {
		if p.Symbol == symbol || len(prices) == 1 {
			return dec(p.Price), nil
		}
	}
	return decimal.Zero, fmt.Errorf("binance ticker: no price for %s", symbol)
}

func (v *Venue) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]core.Bar, error) {
	var klines []*futures.Kline
	err := v.call(ctx, "klines", func(ctx context.Context) error {
		var err error
		klines, err = v.client.NewKlinesService().Symbol(symbol).Interval(timeframe).Limit(limit).Do(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	bars := make([]core.Bar, 0, len(klines))
	for _, k := range klines {
		bars = append(bars, barFromKline(k, now))
	}
	return bars, nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return v.call(ctx, "set_leverage", func(ctx context.Context) error {
		_, err := v.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx, v.recvWindow())
		return err
	})
}

func (v *Venue) GetServerTime(ctx context.Context) (time.Time, error) {
	var ms int64
	err := v.call(ctx, "server_time", func(ctx context.Context) error {
		var err error
		ms, err = v.client.NewServerTimeService().Do(ctx)
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}

// SyncTime recomputes the signing offset from the venue clock
func (v *Venue) SyncTime(ctx context.Context) (time.Duration, error) {
	var offset int64
	err := v.call(ctx, "sync_time", func(ctx context.Context) error {
		var err error
		offset, err = v.client.NewSetServerTimeService().Do(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	v.metrics.SetClockOffset(offset)
	return time.Duration(offset) * time.Millisecond, nil
}
