package venue

import (
	"context"
	"fmt"

	"signalbot/internal/core"
)

// RESTBars pulls the bar window from the venue on every call
type RESTBars struct {
	venue     core.IVenue
	symbol    string
	timeframe string
	limit     int
}

var _ core.IBarSource = (*RESTBars)(nil)

// NewRESTBars creates a bar source for symbol/timeframe
func NewRESTBars(v core.IVenue, symbol, timeframe string, limit int) *RESTBars {
	if limit <= 0 {
		limit = 100
	}
	return &RESTBars{venue: v, symbol: symbol, timeframe: timeframe, limit: limit}
}

func (b *RESTBars) Bars(ctx context.Context) ([]core.Bar, error) {
	bars, err := b.venue.GetBars(ctx, b.symbol, b.timeframe, b.limit)
	if err != nil {
		return nil, fmt.Errorf("bars %s %s: %w", b.symbol, b.timeframe, err)
	}
	return bars, nil
}
