// Package state owns the engine's mutable per-symbol state behind one mutex.
// No method performs I/O.
package state

import (
	"sort"
	"sync"
	"time"

	"signalbot/internal/core"
)

// Store holds tracked orders, the relationship graph, the pending signal, the
// cached local position, the active trade and the last traded candle.
type Store struct {
	mu sync.RWMutex

	symbol          string
	orders          map[int64]*core.Order
	graph           *Graph
	pending         *core.PendingSignal
	localPosition   core.Position
	activeTrade     *core.ActiveTrade
	lastTradeCandle time.Time
}

// NewStore creates an empty store with a flat local position
func NewStore(symbol string) *Store {
	return &Store{
		symbol:        symbol,
		orders:        make(map[int64]*core.Order),
		graph:         NewGraph(),
		localPosition: *core.FlatPosition(symbol),
	}
}

// Symbol returns the symbol the store tracks
func (s *Store) Symbol() string {
	return s.symbol
}

// Pending signal

// SetPending installs p unless a signal is already pending
func (s *Store) SetPending(p core.PendingSignal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		return false
	}
	s.pending = &p
	return true
}

// Pending returns a copy of the pending signal
func (s *Store) Pending() (core.PendingSignal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return core.PendingSignal{}, false
	}
	return *s.pending, true
}

// TakePending removes and returns the pending signal
func (s *Store) TakePending() (core.PendingSignal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return core.PendingSignal{}, false
	}
	p := *s.pending
	s.pending = nil
	return p, true
}

// Local position

// LocalPosition returns the cached venue position
func (s *Store) LocalPosition() core.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localPosition
}

// SetLocalPosition overwrites the cached position and returns the previous one
func (s *Store) SetLocalPosition(p core.Position) core.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.localPosition
	s.localPosition = p
	return prev
}

// Active trade

// ActiveTrade returns a copy of the open trade, if any
func (s *Store) ActiveTrade() (core.ActiveTrade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeTrade == nil {
		return core.ActiveTrade{}, false
	}
	return *s.activeTrade, true
}

// SetActiveTrade replaces the open trade
func (s *Store) SetActiveTrade(t core.ActiveTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeTrade = &t
}

// UpdateActiveTrade applies fn to the open trade. Returns false if none.
func (s *Store) UpdateActiveTrade(fn func(t *core.ActiveTrade)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTrade == nil {
		return false
	}
	fn(s.activeTrade)
	return true
}

// ClearTrade drops the active trade together with its graph group and
// tracked orders, returning the trade that was cleared.
func (s *Store) ClearTrade() (core.ActiveTrade, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeTrade == nil {
		return core.ActiveTrade{}, false
	}
	t := *s.activeTrade
	s.activeTrade = nil

	ids := t.OrderIDs()
	for _, id := range ids {
		for _, member := range s.graph.Group(id) {
			ids = append(ids, member)
		}
	}
	for _, id := range ids {
		s.graph.Remove(id)
		delete(s.orders, id)
	}
	return t, true
}

// Candle dedup

// LastTradeCandle returns the candle start of the last opened trade
func (s *Store) LastTradeCandle() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTradeCandle
}

// SetLastTradeCandle records the candle a trade was opened in
func (s *Store) SetLastTradeCandle(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTradeCandle = t
}

// Tracked orders

// TrackOrder stores a copy of o keyed by ID, replacing any earlier projection
func (s *Store) TrackOrder(o *core.Order) {
	if o == nil || o.ID == 0 {
		return
	}
	c := *o
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = &c
}

// Order returns a copy of a tracked order
func (s *Store) Order(id int64) (core.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return core.Order{}, false
	}
	return *o, true
}

// SetOrderStatus updates a tracked order's status. Returns false if untracked.
func (s *Store) SetOrderStatus(id int64, status core.OrderStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return true
}

// UntrackOrder forgets an order
func (s *Store) UntrackOrder(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
}

// OpenOrders returns copies of tracked orders still New or PartiallyFilled
func (s *Store) OpenOrders() []core.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if o.Status.IsOpen() {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TrackedCount is the number of tracked orders
func (s *Store) TrackedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Relationship graph

// Link records a mutual relationship between a and b
func (s *Store) Link(a, b int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graph.Link(a, b)
}

// LinkGroup links every pair in ids
func (s *Store) LinkGroup(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			s.graph.Link(ids[i], ids[j])
		}
	}
}

// Linked returns id's direct neighbours
func (s *Store) Linked(id int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Linked(id)
}

// InGraph reports whether id has a relationship entry
func (s *Store) InGraph(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Has(id)
}

// Group returns id's connected group
func (s *Store) Group(id int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Group(id)
}

// GraphSize is the number of orders with a relationship entry
func (s *Store) GraphSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Len()
}

// DetachOrder removes id from the graph. If every remaining member of its
// former group is terminal (or untracked), the whole group is removed too.
// Returns the IDs whose entries were removed.
func (s *Store) DetachOrder(id int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.graph.Has(id) {
		return nil
	}
	rest := s.graph.Group(id)
	s.graph.Remove(id)
	removed := []int64{id}

	allTerminal := true
	for _, m := range rest {
		if m == id {
			continue
		}
		if o, ok := s.orders[m]; ok && !o.Status.IsTerminal() {
			allTerminal = false
			break
		}
	}
	if !allTerminal {
		return removed
	}
	for _, m := range rest {
		if m != id && s.graph.Has(m) {
			s.graph.Remove(m)
			removed = append(removed, m)
		}
	}
	return removed
}
