// Package mock provides an in-memory futures venue for tests and paper trading
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"signalbot/internal/core"
	apperrors "signalbot/pkg/errors"

	"github.com/shopspring/decimal"
)

// Operation names used for fault injection and call counting
const (
	OpCreateOrder  = "create_order"
	OpCancelOrder  = "cancel_order"
	OpCancelAll    = "cancel_all"
	OpGetOrder     = "get_order"
	OpOpenOrders   = "open_orders"
	OpGetPosition  = "position"
	OpFilters      = "filters"
	OpTicker       = "ticker"
	OpBars         = "bars"
	OpSetLeverage  = "set_leverage"
	OpServerTime   = "server_time"
	OpSyncTime     = "sync_time"
	createKindOpFn = "create_order:%s"
)

// LimitFill controls what happens to a new LIMIT order
type LimitFill int

const (
	// LimitFillImmediate fills limit orders in full at their price on creation
	LimitFillImmediate LimitFill = iota
	// LimitFillResting leaves limit orders NEW until FillOrder is called
	LimitFillResting
)

// MarketData supplies prices and bars for paper trading
type MarketData interface {
	GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]core.Bar, error)
}

// Venue implements core.IVenue in memory. Stop and take-profit orders trigger
// when SetPrice (or a ticker read through MarketData) crosses their stop price.
type Venue struct {
	mu sync.Mutex

	name         string
	nextID       int64
	orders       map[int64]*core.Order
	clientOrders map[string]int64
	positions    map[string]*core.Position
	prices       map[string]decimal.Decimal
	filters      map[string]*core.SymbolFilters
	bars         map[string][]core.Bar
	leverage     map[string]int
	limitFill    LimitFill
	market       MarketData
	clockOffset  time.Duration

	faults map[string][]error
	calls  map[string]int
}

// NewVenue creates an empty venue that fills limit orders immediately
func NewVenue() *Venue {
	return &Venue{
		name:         "mock",
		nextID:       1000,
		orders:       make(map[int64]*core.Order),
		clientOrders: make(map[string]int64),
		positions:    make(map[string]*core.Position),
		prices:       make(map[string]decimal.Decimal),
		filters:      make(map[string]*core.SymbolFilters),
		bars:         make(map[string][]core.Bar),
		leverage:     make(map[string]int),
		faults:       make(map[string][]error),
		calls:        make(map[string]int),
	}
}

// NewPaperVenue creates a venue that takes prices and bars from market
func NewPaperVenue(market MarketData) *Venue {
	v := NewVenue()
	v.name = "paper"
	v.market = market
	return v
}

// Test and simulation controls

// SetLimitFill selects how limit orders fill
func (v *Venue) SetLimitFill(f LimitFill) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.limitFill = f
}

// InjectError queues errors returned by the next calls of op.
// For creates, op may be narrowed to one kind with CreateOp(kind).
func (v *Venue) InjectError(op string, errs ...error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults[op] = append(v.faults[op], errs...)
}

// CreateOp is the fault-injection key for creates of a single order kind
func CreateOp(kind core.OrderKind) string {
	return fmt.Sprintf(createKindOpFn, kind)
}

// Calls returns how many times op was invoked
func (v *Venue) Calls(op string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[op]
}

// SetFilters overrides the default symbol filters
func (v *Venue) SetFilters(f core.SymbolFilters) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filters[f.Symbol] = &f
}

// SetBars replaces the bar window returned for symbol
func (v *Venue) SetBars(symbol string, bars []core.Bar) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bars[symbol] = append([]core.Bar(nil), bars...)
}

// SetPosition forces the venue position. A zero size is flat.
func (v *Venue) SetPosition(symbol string, side core.PositionSide, size, entry decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if size.IsZero() || side == core.PositionFlat {
		delete(v.positions, symbol)
		return
	}
	v.positions[symbol] = &core.Position{Symbol: symbol, Side: side, Size: size, EntryPrice: entry, MarkPrice: entry}
}

// SetPrice moves the market and triggers any crossed stop/take-profit orders
func (v *Venue) SetPrice(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.setPriceLocked(symbol, price)
}

// FillOrder fills a resting order at price
func (v *Venue) FillOrder(id int64, price decimal.Decimal) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[id]
	if !ok || !o.Status.IsOpen() {
		return fmt.Errorf("order %d not open", id)
	}
	v.fillLocked(o, price)
	return nil
}

// SetOrderStatus forces an order's status without touching the position,
// e.g. to simulate the venue expiring a protective order.
func (v *Venue) SetOrderStatus(id int64, status core.OrderStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if o, ok := v.orders[id]; ok {
		o.Status = status
		o.UpdatedAt = time.Now()
	}
}

// ForgetOrder removes an order entirely so lookups report it unknown
func (v *Venue) ForgetOrder(id int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if o, ok := v.orders[id]; ok && o.ClientOrderID != "" {
		delete(v.clientOrders, o.ClientOrderID)
	}
	delete(v.orders, id)
}

// SetClockOffset sets the offset SyncTime reports
func (v *Venue) SetClockOffset(d time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clockOffset = d
}

// Orders returns copies of every order ever created, by ID
func (v *Venue) Orders() []*core.Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*core.Order, 0, len(v.orders))
	for _, o := range v.orders {
		c := *o
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Leverage returns the leverage last set for symbol
func (v *Venue) Leverage(symbol string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leverage[symbol]
}

// core.IVenue

func (v *Venue) GetName() string {
	return v.name
}

// enter counts the call and pops a queued fault. Caller holds the lock.
func (v *Venue) enter(ops ...string) error {
	v.calls[ops[0]]++
	for _, op := range ops {
		if q := v.faults[op]; len(q) > 0 {
			v.faults[op] = q[1:]
			return q[0]
		}
	}
	return nil
}

func (v *Venue) CreateOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.enter(OpCreateOrder, CreateOp(req.Kind)); err != nil {
		return nil, err
	}
	if req.Quantity.Sign() <= 0 {
		return nil, fmt.Errorf("quantity %s: %w", req.Quantity, apperrors.ErrInvalidOrderParameter)
	}
	// a repeated client order ID returns the original order
	if req.ClientOrderID != "" {
		if id, ok := v.clientOrders[req.ClientOrderID]; ok {
			c := *v.orders[id]
			return &c, nil
		}
	}
	if req.ReduceOnly && v.reduceCapacityLocked(req.Symbol, req.Side).IsZero() {
		return nil, fmt.Errorf("reduce-only %s with no opposing position: %w", req.Side, apperrors.ErrOrderRejected)
	}

	v.nextID++
	o := &core.Order{
		ID:            v.nextID,
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Kind:          req.Kind,
		Quantity:      req.Quantity,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Status:        core.OrderStatusNew,
		ReduceOnly:    req.ReduceOnly,
		UpdatedAt:     time.Now(),
	}
	v.orders[o.ID] = o
	if req.ClientOrderID != "" {
		v.clientOrders[req.ClientOrderID] = o.ID
	}

	switch req.Kind {
	case core.OrderKindMarket:
		price, ok := v.prices[req.Symbol]
		if !ok {
			price = req.Price
		}
		v.fillLocked(o, price)
	case core.OrderKindLimit:
		if v.limitFill == LimitFillImmediate {
			v.fillLocked(o, req.Price)
		}
	}

	c := *o
	return &c, nil
}

func (v *Venue) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpCancelOrder); err != nil {
		return err
	}
	if o, ok := v.orders[orderID]; ok && o.Status.IsOpen() {
		o.Status = core.OrderStatusCanceled
		o.UpdatedAt = time.Now()
	}
	return nil
}

func (v *Venue) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpCancelAll); err != nil {
		return err
	}
	for _, o := range v.orders {
		if o.Symbol == symbol && o.Status.IsOpen() {
			o.Status = core.OrderStatusCanceled
			o.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (v *Venue) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*core.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpGetOrder); err != nil {
		return nil, err
	}
	o, ok := v.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", orderID, apperrors.ErrOrderNotFound)
	}
	c := *o
	return &c, nil
}

func (v *Venue) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpOpenOrders); err != nil {
		return nil, err
	}
	var out []*core.Order
	for _, o := range v.orders {
		if o.Symbol == symbol && o.Status.IsOpen() {
			c := *o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *Venue) GetPosition(ctx context.Context, symbol string) (*core.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpGetPosition); err != nil {
		return nil, err
	}
	p, ok := v.positions[symbol]
	if !ok {
		return core.FlatPosition(symbol), nil
	}
	c := *p
	if price, ok := v.prices[symbol]; ok {
		c.MarkPrice = price
		diff := price.Sub(c.EntryPrice)
		if c.Side == core.PositionShort {
			diff = diff.Neg()
		}
		c.UnrealizedPnL = diff.Mul(c.Size)
	}
	return &c, nil
}

func (v *Venue) GetSymbolFilters(ctx context.Context, symbol string) (*core.SymbolFilters, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpFilters); err != nil {
		return nil, err
	}
	if f, ok := v.filters[symbol]; ok {
		c := *f
		return &c, nil
	}
	return &core.SymbolFilters{
		Symbol:   symbol,
		MinQty:   decimal.RequireFromString("0.001"),
		StepSize: decimal.RequireFromString("0.001"),
		TickSize: decimal.RequireFromString("0.1"),
	}, nil
}

func (v *Venue) GetTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v.mu.Lock()
	if err := v.enter(OpTicker); err != nil {
		v.mu.Unlock()
		return decimal.Zero, err
	}
	market := v.market
	price, ok := v.prices[symbol]
	v.mu.Unlock()

	if market != nil {
		p, err := market.GetTicker(ctx, symbol)
		if err != nil {
			return decimal.Zero, err
		}
		v.SetPrice(symbol, p)
		return p, nil
	}
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s: %w", symbol, apperrors.ErrInvalidSymbol)
	}
	return price, nil
}

func (v *Venue) GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]core.Bar, error) {
	v.mu.Lock()
	if err := v.enter(OpBars); err != nil {
		v.mu.Unlock()
		return nil, err
	}
	market := v.market
	bars := append([]core.Bar(nil), v.bars[symbol]...)
	v.mu.Unlock()

	if market != nil {
		fresh, err := market.GetBars(ctx, symbol, timeframe, limit)
		if err != nil {
			return nil, err
		}
		if n := len(fresh); n > 0 {
			v.SetPrice(symbol, decimal.NewFromFloat(fresh[n-1].Close))
		}
		return fresh, nil
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func (v *Venue) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpSetLeverage); err != nil {
		return err
	}
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("leverage %d: %w", leverage, apperrors.ErrInvalidOrderParameter)
	}
	v.leverage[symbol] = leverage
	return nil
}

func (v *Venue) GetServerTime(ctx context.Context) (time.Time, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpServerTime); err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(v.clockOffset), nil
}

func (v *Venue) SyncTime(ctx context.Context) (time.Duration, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enter(OpSyncTime); err != nil {
		return 0, err
	}
	return v.clockOffset, nil
}

// simulation internals, all called with the lock held

func signedSize(p *core.Position) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	if p.Side == core.PositionShort {
		return p.Size.Neg()
	}
	return p.Size
}

// reduceCapacityLocked is how much a reduce-only order on side may close
func (v *Venue) reduceCapacityLocked(symbol string, side core.Side) decimal.Decimal {
	signed := signedSize(v.positions[symbol])
	if side == core.SideSell && signed.IsPositive() {
		return signed
	}
	if side == core.SideBuy && signed.IsNegative() {
		return signed.Neg()
	}
	return decimal.Zero
}

func (v *Venue) fillLocked(o *core.Order, price decimal.Decimal) {
	qty := o.Quantity
	if o.ReduceOnly {
		capacity := v.reduceCapacityLocked(o.Symbol, o.Side)
		if capacity.IsZero() {
			o.Status = core.OrderStatusExpired
			o.UpdatedAt = time.Now()
			return
		}
		qty = decimal.Min(qty, capacity)
	}

	o.Status = core.OrderStatusFilled
	o.ExecutedQty = qty
	o.AvgPrice = price
	o.UpdatedAt = time.Now()

	v.applyFillLocked(o.Symbol, o.Side, qty, price)
}

func (v *Venue) applyFillLocked(symbol string, side core.Side, qty, price decimal.Decimal) {
	cur := v.positions[symbol]
	signed := signedSize(cur)
	delta := qty
	if side == core.SideSell {
		delta = qty.Neg()
	}
	next := signed.Add(delta)

	if next.IsZero() {
		delete(v.positions, symbol)
		return
	}

	entry := price
	switch {
	case cur != nil && signed.Sign() == delta.Sign():
		// adding to the position: size-weighted entry
		entry = cur.EntryPrice.Mul(signed.Abs()).Add(price.Mul(qty)).Div(next.Abs())
	case cur != nil && signed.Sign() == next.Sign():
		entry = cur.EntryPrice
	}

	pos := &core.Position{Symbol: symbol, Side: core.PositionLong, Size: next.Abs(), EntryPrice: entry, MarkPrice: price}
	if next.IsNegative() {
		pos.Side = core.PositionShort
	}
	v.positions[symbol] = pos
}

func (v *Venue) setPriceLocked(symbol string, price decimal.Decimal) {
	v.prices[symbol] = price

	ids := make([]int64, 0)
	for id, o := range v.orders {
		if o.Symbol == symbol && o.Status.IsOpen() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o := v.orders[id]
		if !o.Status.IsOpen() || !triggered(o, price) {
			continue
		}
		fill := price
		if o.Kind == core.OrderKindLimit {
			fill = o.Price
		}
		v.fillLocked(o, fill)
	}
}

// triggered reports whether price reaches o's trigger
func triggered(o *core.Order, price decimal.Decimal) bool {
	switch {
	case o.Kind == core.OrderKindLimit:
		if o.Side == core.SideBuy {
			return price.LessThanOrEqual(o.Price)
		}
		return price.GreaterThanOrEqual(o.Price)
	case o.Kind.IsStopLoss():
		if o.Side == core.SideSell {
			return price.LessThanOrEqual(o.StopPrice)
		}
		return price.GreaterThanOrEqual(o.StopPrice)
	case o.Kind.IsTakeProfit():
		if o.Side == core.SideSell {
			return price.GreaterThanOrEqual(o.StopPrice)
		}
		return price.LessThanOrEqual(o.StopPrice)
	}
	return false
}
