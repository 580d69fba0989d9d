package strategy

import (
	"math"

	"signalbot/internal/core"
)

// ATRParams configures the ATR trailing-stop generator
type ATRParams struct {
	KeyValue         float64
	ATRPeriod        int
	SuperTrendFactor float64
	EMAPeriod        int
}

// DefaultATRParams returns the production parameter set
func DefaultATRParams() ATRParams {
	return ATRParams{KeyValue: 1, ATRPeriod: 10, SuperTrendFactor: 1.5, EMAPeriod: 1}
}

// ATRGenerator signals when a fast EMA crosses the ATR trailing stop with
// the close on the crossing side. The SuperTrend band is reported as an
// indicator only and does not filter signals.
type ATRGenerator struct {
	params ATRParams
}

func NewATRGenerator(params ATRParams) *ATRGenerator {
	return &ATRGenerator{params: params}
}

func (g *ATRGenerator) Name() string { return "atr" }

func (g *ATRGenerator) Evaluate(bars []core.Bar) core.Decision {
	n := len(bars)
	if n < g.params.ATRPeriod+2 {
		return lastClose(bars)
	}

	atr := ATR(bars, g.params.ATRPeriod)
	stop := ATRTrailingStop(bars, atr, g.params.KeyValue)
	band, direction := SuperTrend(bars, atr, g.params.SuperTrendFactor)
	ema := EMA(closes(bars), g.params.EMAPeriod)

	i := n - 1
	c := bars[i].Close
	above := ema[i] > stop[i] && ema[i-1] <= stop[i-1]
	below := stop[i] > ema[i] && stop[i-1] <= ema[i-1]

	return core.Decision{
		Buy:   c > stop[i] && above,
		Sell:  c < stop[i] && below,
		Price: c,
		Indicators: finite(map[string]float64{
			"atr":           atr[i],
			"trailing_stop": stop[i],
			"super_trend":   band[i],
			"trend":         float64(direction[i]),
			"ema":           ema[i],
		}),
	}
}

func lastClose(bars []core.Bar) core.Decision {
	if len(bars) == 0 {
		return core.Decision{}
	}
	return core.Decision{Price: bars[len(bars)-1].Close}
}

// finite zeroes indicators whose lookback is not yet available so the
// audit trail stays JSON-encodable
func finite(indicators map[string]float64) map[string]float64 {
	for k, v := range indicators {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			indicators[k] = 0
		}
	}
	return indicators
}
