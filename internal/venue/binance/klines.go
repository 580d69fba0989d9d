package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"signalbot/internal/core"
	"signalbot/pkg/websocket"
)

const defaultStreamBase = "wss://fstream.binance.com/ws"

type barFetcher interface {
	GetBars(ctx context.Context, symbol, timeframe string, limit int) ([]core.Bar, error)
}

type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	K      struct {
		Start    int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		Close    string `json:"c"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

// KlineFeed keeps a bar window fresh: REST klines seed it, the kline stream
// updates the newest bar in place, and REST is used again whenever the stream
// is disconnected or silent for longer than staleAfter.
type KlineFeed struct {
	rest       barFetcher
	symbol     string
	interval   string
	limit      int
	staleAfter time.Duration
	logger     core.ILogger
	ws         *websocket.Client
	now        func() time.Time

	mu         sync.Mutex
	bars       []core.Bar
	lastUpdate time.Time
	reseed     bool
}

// NewKlineFeed creates a feed for symbol/interval. An empty streamBase uses the production stream.
func NewKlineFeed(rest barFetcher, symbol, interval string, limit int, streamBase string, logger core.ILogger) *KlineFeed {
	if streamBase == "" {
		streamBase = defaultStreamBase
	}
	f := &KlineFeed{
		rest:       rest,
		symbol:     symbol,
		interval:   interval,
		limit:      limit,
		staleAfter: 30 * time.Second,
		logger:     logger.WithField("component", "kline_feed").WithField("symbol", symbol),
		now:        time.Now,
		reseed:     true,
	}
	url := fmt.Sprintf("%s/%s@kline_%s", strings.TrimRight(streamBase, "/"), strings.ToLower(symbol), interval)
	f.ws = websocket.NewClient(url, f.handleMessage, logger)
	// bars may have been missed while disconnected
	f.ws.SetOnConnected(func() {
		f.mu.Lock()
		f.reseed = true
		f.mu.Unlock()
	})
	return f
}

// Start seeds the window and opens the stream
func (f *KlineFeed) Start(ctx context.Context) error {
	if err := f.refresh(ctx); err != nil {
		return fmt.Errorf("seed klines: %w", err)
	}
	f.ws.Start()
	return nil
}

// Stop closes the stream
func (f *KlineFeed) Stop() {
	f.ws.Stop()
}

// Bars returns a copy of the current window, refreshing over REST when needed
func (f *KlineFeed) Bars(ctx context.Context) ([]core.Bar, error) {
	f.mu.Lock()
	needRest := f.reseed || len(f.bars) == 0 || !f.ws.Connected() || f.now().Sub(f.lastUpdate) > f.staleAfter
	f.mu.Unlock()

	if needRest {
		if err := f.refresh(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Bar, len(f.bars))
	copy(out, f.bars)
	return out, nil
}

func (f *KlineFeed) refresh(ctx context.Context) error {
	bars, err := f.rest.GetBars(ctx, f.symbol, f.interval, f.limit)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.bars = bars
	f.lastUpdate = f.now()
	f.reseed = false
	f.mu.Unlock()
	return nil
}

func (f *KlineFeed) handleMessage(msg []byte) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		f.logger.Warn("Failed to decode kline event", "error", err)
		return
	}
	if ev.Event != "kline" {
		return
	}
	f.apply(core.Bar{
		OpenTime: time.UnixMilli(ev.K.Start),
		Open:     parseFloat(ev.K.Open),
		High:     parseFloat(ev.K.High),
		Low:      parseFloat(ev.K.Low),
		Close:    parseFloat(ev.K.Close),
		Volume:   parseFloat(ev.K.Volume),
		Closed:   ev.K.Closed,
	})
}

// apply replaces the newest bar or appends a newer one, trimming to limit
func (f *KlineFeed) apply(bar core.Bar) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastUpdate = f.now()
	n := len(f.bars)
	switch {
	case n == 0:
		return
	case bar.OpenTime.Equal(f.bars[n-1].OpenTime):
		f.bars[n-1] = bar
	case bar.OpenTime.After(f.bars[n-1].OpenTime):
		f.bars = append(f.bars, bar)
		if f.limit > 0 && len(f.bars) > f.limit {
			f.bars = f.bars[len(f.bars)-f.limit:]
		}
	}
}
