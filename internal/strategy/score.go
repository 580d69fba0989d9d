package strategy

import (
	"signalbot/internal/core"
)

// ScoreParams configures the scored zone generator
type ScoreParams struct {
	ZoneLength     int
	ZoneMultiplier float64
	DonchianPeriod int
	PSARStart      float64
	PSARIncrement  float64
	PSARMax        float64
	FastEMA        int
	SlowEMA        int
	ADXPeriod      int
	RSIPeriod      int
	VolumePeriod   int
	ATRPeriod      int
	ATRMAPeriod    int

	MinScore  int
	ADXMin    float64
	ADXStrong float64
	RSIMin    float64

	ADXWeight    int
	TrendWeight  int
	RSIWeight    int
	VolumeWeight int
}

func DefaultScoreParams() ScoreParams {
	return ScoreParams{
		ZoneLength:     10,
		ZoneMultiplier: 3,
		DonchianPeriod: 20,
		PSARStart:      0.02,
		PSARIncrement:  0.02,
		PSARMax:        0.2,
		FastEMA:        50,
		SlowEMA:        200,
		ADXPeriod:      14,
		RSIPeriod:      14,
		VolumePeriod:   20,
		ATRPeriod:      20,
		ATRMAPeriod:    20,
		MinScore:       71,
		ADXMin:         20,
		ADXStrong:      25,
		RSIMin:         55,
		ADXWeight:      30,
		TrendWeight:    20,
		RSIWeight:      20,
		VolumeWeight:   30,
	}
}

// Score adds the weight of every condition that holds: a strong ADX, a fast
// EMA above the slow one, RSI above its floor and volume above its average.
func (p ScoreParams) Score(adx, emaFast, emaSlow, rsi, volume, volumeMA float64) int {
	score := 0
	if adx > p.ADXStrong {
		score += p.ADXWeight
	}
	if emaFast > emaSlow {
		score += p.TrendWeight
	}
	if rsi > p.RSIMin {
		score += p.RSIWeight
	}
	if volume > volumeMA {
		score += p.VolumeWeight
	}
	return score
}

// ScoreGenerator signals on an ATR zone flip confirmed by the Donchian
// middle line, but only while the fast EMA leads the slow one, ADX shows a
// trend, ATR runs above its average and the score reaches MinScore. The
// trend condition applies to both sides.
type ScoreGenerator struct {
	name   string
	params ScoreParams
}

func NewScoreGenerator(name string, params ScoreParams) *ScoreGenerator {
	return &ScoreGenerator{name: name, params: params}
}

func (g *ScoreGenerator) Name() string { return g.name }

func (g *ScoreGenerator) Evaluate(bars []core.Bar) core.Decision {
	p := g.params
	n := len(bars)
	if n < p.DonchianPeriod || n < p.ZoneLength+2 || n < p.ATRPeriod+p.ATRMAPeriod ||
		n < p.VolumePeriod || n <= p.RSIPeriod {
		return lastClose(bars)
	}

	cl := closes(bars)
	volumes := make([]float64, n)
	for i, b := range bars {
		volumes[i] = b.Volume
	}

	decider := ZoneDecider(bars, p.ZoneLength, p.ZoneMultiplier)
	_, _, middle := Donchian(bars, p.DonchianPeriod)
	sar, sarTrend := PSAR(bars, p.PSARStart, p.PSARIncrement, p.PSARMax)
	fast := EMA(cl, p.FastEMA)
	slow := EMA(cl, p.SlowEMA)
	adx, plusDI, minusDI := ADX(bars, p.ADXPeriod)
	rsi := RSI(cl, p.RSIPeriod)
	volumeMA := SMA(volumes, p.VolumePeriod)
	atr := ATR(bars, p.ATRPeriod)
	atrMA := smaValid(atr, p.ATRMAPeriod)

	i := n - 1
	c := bars[i].Close
	score := p.Score(adx[i], fast[i], slow[i], rsi[i], volumes[i], volumeMA[i])
	filtered := fast[i] > slow[i] && adx[i] > p.ADXMin && atr[i] > atrMA[i] && score >= p.MinScore
	flippedUp := decider[i-1] == -1 && decider[i] == 1
	flippedDown := decider[i-1] == 1 && decider[i] == -1

	return core.Decision{
		Buy:   filtered && flippedUp && c > middle[i],
		Sell:  filtered && flippedDown && c < middle[i],
		Price: c,
		Indicators: finite(map[string]float64{
			"zone":            float64(decider[i]),
			"donchian_middle": middle[i],
			"psar":            sar[i],
			"psar_trend":      float64(sarTrend[i]),
			"ema_fast":        fast[i],
			"ema_slow":        slow[i],
			"adx":             adx[i],
			"plus_di":         plusDI[i],
			"minus_di":        minusDI[i],
			"rsi":             rsi[i],
			"volume_ma":       volumeMA[i],
			"atr":             atr[i],
			"atr_ma":          atrMA[i],
			"score":           float64(score),
		}),
	}
}
