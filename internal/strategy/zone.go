package strategy

import (
	"signalbot/internal/core"
)

// ZoneParams configures the ATR zone generator
type ZoneParams struct {
	ZoneLength     int
	ZoneMultiplier float64
	DonchianPeriod int
	PSARStart      float64
	PSARIncrement  float64
	PSARMax        float64
	FastEMA        int
	SlowEMA        int
	HMAPeriod      int
}

func DefaultZoneParams() ZoneParams {
	return ZoneParams{
		ZoneLength:     10,
		ZoneMultiplier: 3,
		DonchianPeriod: 20,
		PSARStart:      0.02,
		PSARIncrement:  0.02,
		PSARMax:        0.2,
		FastEMA:        9,
		SlowEMA:        27,
		HMAPeriod:      200,
	}
}

// ZoneGenerator signals on a flip of the ATR zone decider that agrees with
// the close relative to the Donchian middle line. The remaining indicators
// are reported for the audit trail only.
type ZoneGenerator struct {
	name   string
	params ZoneParams
}

func NewZoneGenerator(name string, params ZoneParams) *ZoneGenerator {
	return &ZoneGenerator{name: name, params: params}
}

func (g *ZoneGenerator) Name() string { return g.name }

func (g *ZoneGenerator) Evaluate(bars []core.Bar) core.Decision {
	n := len(bars)
	if n < g.params.DonchianPeriod || n < g.params.ZoneLength+2 {
		return lastClose(bars)
	}

	decider := ZoneDecider(bars, g.params.ZoneLength, g.params.ZoneMultiplier)
	_, _, middle := Donchian(bars, g.params.DonchianPeriod)
	sar, sarTrend := PSAR(bars, g.params.PSARStart, g.params.PSARIncrement, g.params.PSARMax)
	cl := closes(bars)
	fast := EMA(cl, g.params.FastEMA)
	slow := EMA(cl, g.params.SlowEMA)
	hma := HMA(cl, g.params.HMAPeriod)

	i := n - 1
	c := bars[i].Close
	flippedUp := decider[i-1] == -1 && decider[i] == 1
	flippedDown := decider[i-1] == 1 && decider[i] == -1

	return core.Decision{
		Buy:   flippedUp && c > middle[i],
		Sell:  flippedDown && c < middle[i],
		Price: c,
		Indicators: finite(map[string]float64{
			"zone":            float64(decider[i]),
			"donchian_middle": middle[i],
			"psar":            sar[i],
			"psar_trend":      float64(sarTrend[i]),
			"ema_fast":        fast[i],
			"ema_slow":        slow[i],
			"hma":             hma[i],
		}),
	}
}
