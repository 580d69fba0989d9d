package state

import (
	"sync"
	"testing"
	"time"

	"signalbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_LinkIsMutual(t *testing.T) {
	g := NewGraph()
	g.Link(1, 2)
	g.Link(1, 3)
	g.Link(2, 3)
	g.Link(4, 4)

	assert.Equal(t, []int64{2, 3}, g.Linked(1))
	assert.Equal(t, []int64{1, 3}, g.Linked(2))
	assert.Equal(t, []int64{1, 2, 3}, g.Group(3))
	assert.False(t, g.Has(4))

	g.Remove(2)
	assert.Equal(t, []int64{3}, g.Linked(1))
	assert.Equal(t, []int64{1}, g.Linked(3))
	assert.Equal(t, 2, g.Len())

	g.Remove(1)
	assert.Equal(t, 0, g.Len())
}

func TestStore_AtMostOnePending(t *testing.T) {
	s := NewStore("BTCUSDT")

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok := s.SetPending(core.PendingSignal{Signal: core.Signal{ID: string(rune('a' + i%26))}})
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)

	_, ok := s.TakePending()
	assert.True(t, ok)
	_, ok = s.Pending()
	assert.False(t, ok)
	assert.True(t, s.SetPending(core.PendingSignal{}))
}

func TestStore_LocalPositionOverwritten(t *testing.T) {
	s := NewStore("BTCUSDT")
	assert.True(t, s.LocalPosition().IsFlat())

	long := core.Position{Symbol: "BTCUSDT", Side: core.PositionLong, Size: decimal.NewFromInt(5), EntryPrice: decimal.NewFromInt(100)}
	prev := s.SetLocalPosition(long)
	assert.True(t, prev.IsFlat())

	prev = s.SetLocalPosition(*core.FlatPosition("BTCUSDT"))
	assert.Equal(t, core.PositionLong, prev.Side)
	got := s.LocalPosition()
	assert.True(t, got.IsFlat())
	assert.True(t, got.EntryPrice.IsZero())
}

func TestStore_DetachOrderCollectsTerminalGroup(t *testing.T) {
	s := NewStore("BTCUSDT")
	s.TrackOrder(&core.Order{ID: 1, Status: core.OrderStatusFilled})
	s.TrackOrder(&core.Order{ID: 2, Status: core.OrderStatusNew})
	s.TrackOrder(&core.Order{ID: 3, Status: core.OrderStatusNew})
	s.LinkGroup(1, 2, 3)

	// TP filled but SL still open: only the TP entry goes
	s.SetOrderStatus(3, core.OrderStatusFilled)
	assert.Equal(t, []int64{3}, s.DetachOrder(3))
	assert.True(t, s.InGraph(2))

	s.SetOrderStatus(2, core.OrderStatusCanceled)
	removed := s.DetachOrder(2)
	assert.Contains(t, removed, int64(2))
	assert.Equal(t, 0, s.GraphSize())

	assert.Nil(t, s.DetachOrder(2))
}

func TestStore_ClearTrade(t *testing.T) {
	s := NewStore("BTCUSDT")
	for _, id := range []int64{10, 11, 12} {
		s.TrackOrder(&core.Order{ID: id, Status: core.OrderStatusNew})
	}
	s.LinkGroup(10, 11, 12)
	s.SetActiveTrade(core.ActiveTrade{SignalID: "sig", EntryOrderID: 10, StopLossID: 11, TakeProfitID: 12})
	s.SetLastTradeCandle(time.Unix(3600, 0))

	tr, ok := s.ClearTrade()
	require.True(t, ok)
	assert.Equal(t, "sig", tr.SignalID)
	assert.Equal(t, 0, s.GraphSize())
	assert.Equal(t, 0, s.TrackedCount())
	_, ok = s.ActiveTrade()
	assert.False(t, ok)

	// the dedup candle survives clearing
	assert.Equal(t, time.Unix(3600, 0), s.LastTradeCandle())
}

func TestStore_OpenOrders(t *testing.T) {
	s := NewStore("BTCUSDT")
	s.TrackOrder(&core.Order{ID: 2, Status: core.OrderStatusNew})
	s.TrackOrder(&core.Order{ID: 1, Status: core.OrderStatusPartiallyFilled})
	s.TrackOrder(&core.Order{ID: 3, Status: core.OrderStatusFilled})
	s.TrackOrder(nil)

	open := s.OpenOrders()
	require.Len(t, open, 2)
	assert.Equal(t, int64(1), open[0].ID)

	assert.False(t, s.SetOrderStatus(99, core.OrderStatusCanceled))
	s.UntrackOrder(2)
	assert.Len(t, s.OpenOrders(), 1)
}
