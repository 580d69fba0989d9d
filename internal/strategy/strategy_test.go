package strategy

import (
	"math"
	"testing"

	"signalbot/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(h, l, c float64) core.Bar {
	return core.Bar{Open: c, High: h, Low: l, Close: c, Closed: true}
}

func TestTrueRangeAndSMA(t *testing.T) {
	tr := TrueRange([]core.Bar{bar(10, 8, 9), bar(12, 9, 11), bar(11, 10, 10.5)})
	assert.Equal(t, []float64{2, 3, 1}, tr)

	sma := SMA([]float64{1, 2, 3, 4}, 2)
	assert.True(t, math.IsNaN(sma[0]))
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, sma[1:])
}

func TestMovingAverages(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3}, EMA([]float64{1, 2, 3}, 1))
	assert.Equal(t, []float64{2, 3, 4.5}, EMA([]float64{2, 4, 6}, 3))

	wma := WMA([]float64{1, 2, 3}, 2)
	assert.True(t, math.IsNaN(wma[0]))
	assert.InDelta(t, 5.0/3, wma[1], 1e-9)
	assert.InDelta(t, 8.0/3, wma[2], 1e-9)

	// 2·WMA(1) − WMA(2) on the last value: 2·3 − 8/3
	hma := HMA([]float64{1, 2, 3}, 2)
	assert.InDelta(t, 6-8.0/3, hma[2], 1e-9)
}

func TestDonchian(t *testing.T) {
	bars := []core.Bar{bar(104, 96, 100), bar(96, 92, 93), bar(97, 93, 94)}
	upper, lower, middle := Donchian(bars, 2)
	assert.True(t, math.IsNaN(middle[0]))
	assert.Equal(t, 104.0, upper[1])
	assert.Equal(t, 92.0, lower[1])
	assert.Equal(t, 98.0, middle[1])
	assert.Equal(t, 94.5, middle[2])
}

func TestPSAR(t *testing.T) {
	var bars []core.Bar
	for i := 0; i < 6; i++ {
		lo := 10 + float64(i)
		bars = append(bars, bar(lo+1, lo, lo+0.5))
	}
	sar, trend := PSAR(bars, 0.02, 0.02, 0.2)
	for i := 1; i < len(bars); i++ {
		assert.Equal(t, 1, trend[i], i)
		assert.Less(t, sar[i], bars[i].Low, i)
		assert.Greater(t, sar[i], sar[i-1], i)
	}

	// a collapse below the SAR flips the trend; SAR jumps to the extreme high
	bars = append(bars, bar(12, 5, 6))
	sar, trend = PSAR(bars, 0.02, 0.02, 0.2)
	assert.Equal(t, -1, trend[6])
	assert.Equal(t, 16.0, sar[6])
}

func TestATRTrailingStopFollowsRisingCloses(t *testing.T) {
	var bars []core.Bar
	for i := 0; i < 8; i++ {
		c := 100 + 0.5*float64(i)
		bars = append(bars, bar(c+1, c-1, c))
	}
	atr := ATR(bars, 3)
	stop := ATRTrailingStop(bars, atr, 1)
	assert.Equal(t, 0.0, stop[1])
	for i := 2; i < len(bars); i++ {
		assert.InDelta(t, bars[i].Close-2, stop[i], 1e-9, i)
	}
}

// reversal bars: flat, a drop, then a strong up bar
func reversalUp() []core.Bar {
	return []core.Bar{
		bar(101, 99, 100),
		bar(101, 99, 100),
		bar(101, 99, 100),
		bar(97, 93, 94),
		bar(98, 94, 97),
		bar(103, 97, 102),
	}
}

func reversalDown() []core.Bar {
	return []core.Bar{
		bar(101, 99, 100),
		bar(101, 99, 100),
		bar(101, 99, 100),
		bar(107, 103, 106),
		bar(106, 102, 103),
		bar(103, 97, 98),
	}
}

func smallATRParams() ATRParams {
	return ATRParams{KeyValue: 1, ATRPeriod: 3, SuperTrendFactor: 1.5, EMAPeriod: 1}
}

func TestATRGenerator(t *testing.T) {
	gen := NewATRGenerator(smallATRParams())
	assert.Equal(t, "atr", gen.Name())

	t.Run("buy", func(t *testing.T) {
		d := gen.Evaluate(reversalUp())
		assert.True(t, d.Buy)
		assert.False(t, d.Sell)
		assert.Equal(t, 102.0, d.Price)
		assert.InDelta(t, 17.0/3, d.Indicators["atr"], 1e-9)
		assert.InDelta(t, 102-17.0/3, d.Indicators["trailing_stop"], 1e-9)
		assert.InDelta(t, 91.5, d.Indicators["super_trend"], 1e-9)
	})

	t.Run("sell", func(t *testing.T) {
		d := gen.Evaluate(reversalDown())
		assert.True(t, d.Sell)
		assert.False(t, d.Buy)
		assert.InDelta(t, 98+17.0/3, d.Indicators["trailing_stop"], 1e-9)
		assert.InDelta(t, 108.5, d.Indicators["super_trend"], 1e-9)
	})

	t.Run("close under the super trend band still signals", func(t *testing.T) {
		params := smallATRParams()
		params.SuperTrendFactor = 1
		d := NewATRGenerator(params).Evaluate(reversalUp())
		assert.True(t, d.Buy)
		assert.Less(t, d.Price, d.Indicators["super_trend"])
		assert.InDelta(t, 100+17.0/3, d.Indicators["super_trend"], 1e-9)
	})

	t.Run("no cross on the previous bar", func(t *testing.T) {
		d := gen.Evaluate(reversalUp()[:5])
		assert.False(t, d.Buy)
		assert.False(t, d.Sell)
		assert.Equal(t, 97.0, d.Price)
	})

	t.Run("short window", func(t *testing.T) {
		d := gen.Evaluate(reversalUp()[:3])
		_, ok := d.Side()
		assert.False(t, ok)
		assert.Equal(t, 100.0, d.Price)
		assert.Equal(t, core.Decision{}, gen.Evaluate(nil))
	})
}

func TestZoneDecider(t *testing.T) {
	bars := []core.Bar{
		bar(101, 99, 100),
		bar(101, 99, 100),
		bar(101, 99, 100),
		bar(97, 93, 94),
		bar(96, 92, 93),
		bar(104, 96, 103),
	}
	assert.Equal(t, []int{1, 1, 1, -1, -1, 1}, ZoneDecider(bars, 3, 1))

	params := DefaultZoneParams()
	params.ZoneLength = 3
	params.ZoneMultiplier = 1
	params.DonchianPeriod = 3
	params.HMAPeriod = 4
	gen := NewZoneGenerator("eralp", params)
	assert.Equal(t, "eralp", gen.Name())

	d := gen.Evaluate(bars)
	assert.True(t, d.Buy)
	assert.False(t, d.Sell)
	assert.Equal(t, 98.0, d.Indicators["donchian_middle"])
	assert.Equal(t, 1.0, d.Indicators["zone"])
	for k, v := range d.Indicators {
		assert.False(t, math.IsNaN(v), k)
	}

	// the flip happened one bar earlier, so the bar after it is quiet
	quiet := append(bars, bar(104, 100, 103))
	d = gen.Evaluate(quiet)
	_, ok := d.Side()
	assert.False(t, ok)
}

func TestRSI(t *testing.T) {
	rsi := RSI([]float64{1, 2, 1, 2}, 2)
	assert.True(t, math.IsNaN(rsi[1]))
	assert.InDelta(t, 50, rsi[2], 1e-9)
	// Wilder smoothing: gain (0.5+1)/2, loss 0.5/2
	assert.InDelta(t, 75, rsi[3], 1e-9)

	assert.Equal(t, 100.0, RSI([]float64{1, 2, 3}, 2)[2])
	assert.Equal(t, 50.0, RSI([]float64{5, 5, 5}, 2)[2])
}

func TestADXRisingTrend(t *testing.T) {
	bars := risingBars(12)
	adx, plusDI, minusDI := ADX(bars, 3)
	for i := 1; i < len(bars); i++ {
		assert.Zero(t, minusDI[i], i)
		assert.Greater(t, plusDI[i], 0.0, i)
		assert.Greater(t, adx[i], adx[i-1], i)
	}
	assert.Greater(t, adx[len(adx)-1], 99.0)
}

func vbar(h, l, c, v float64) core.Bar {
	b := bar(h, l, c)
	b.Volume = v
	return b
}

// risingBars climbs two points a bar at steady volume
func risingBars(n int) []core.Bar {
	var bars []core.Bar
	for i := 0; i < n; i++ {
		c := 100 + 2*float64(i)
		bars = append(bars, vbar(c+1, c-1, c, 100))
	}
	return bars
}

func smallScoreParams() ScoreParams {
	p := DefaultScoreParams()
	p.ZoneLength, p.ZoneMultiplier, p.DonchianPeriod = 3, 1, 3
	p.FastEMA, p.SlowEMA = 3, 8
	p.ADXPeriod, p.RSIPeriod, p.VolumePeriod = 3, 3, 3
	p.ATRPeriod, p.ATRMAPeriod = 3, 3
	return p
}

func TestScore(t *testing.T) {
	p := DefaultScoreParams()
	tests := []struct {
		name                                   string
		adx, fast, slow, rsi, volume, volumeMA float64
		want                                   int
	}{
		{"all conditions", 30, 2, 1, 60, 200, 100, 100},
		{"weak adx", 25, 2, 1, 60, 200, 100, 70},
		{"downtrend", 30, 1, 2, 60, 200, 100, 80},
		{"low rsi and volume", 30, 2, 1, 55, 100, 100, 50},
		{"nothing", 0, 1, 1, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Score(tt.adx, tt.fast, tt.slow, tt.rsi, tt.volume, tt.volumeMA))
		})
	}
}

func TestScoreGenerator(t *testing.T) {
	gen := NewScoreGenerator("skorlama", smallScoreParams())
	assert.Equal(t, "skorlama", gen.Name())
	trend := risingBars(10)

	t.Run("buy on zone recovery with volume", func(t *testing.T) {
		bars := append(append([]core.Bar{}, trend...), vbar(119, 111, 112, 100), vbar(125, 112, 124, 300))
		d := gen.Evaluate(bars)
		assert.True(t, d.Buy)
		assert.False(t, d.Sell)
		assert.Equal(t, 124.0, d.Price)
		assert.Equal(t, 100.0, d.Indicators["score"])
		assert.Equal(t, 1.0, d.Indicators["zone"])
		assert.Equal(t, 118.0, d.Indicators["donchian_middle"])
		for k, v := range d.Indicators {
			assert.False(t, math.IsNaN(v), k)
		}
	})

	t.Run("score below minimum", func(t *testing.T) {
		bars := append(append([]core.Bar{}, trend...), vbar(119, 111, 112, 100), vbar(125, 112, 124, 100))
		d := gen.Evaluate(bars)
		assert.False(t, d.Buy)
		assert.Equal(t, 70.0, d.Indicators["score"])
	})

	t.Run("sell on zone break with volume", func(t *testing.T) {
		bars := append(append([]core.Bar{}, trend...), vbar(119, 111, 112, 300))
		d := gen.Evaluate(bars)
		assert.True(t, d.Sell)
		assert.False(t, d.Buy)
		assert.Equal(t, 80.0, d.Indicators["score"])
		assert.Equal(t, -1.0, d.Indicators["zone"])
	})

	t.Run("short window", func(t *testing.T) {
		d := gen.Evaluate(trend[:4])
		_, ok := d.Side()
		assert.False(t, ok)
		assert.Equal(t, 106.0, d.Price)
	})
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"atr", "eralp", "psar_atr", "skorlama"}, Names())

	v, err := Lookup("psar_atr")
	require.NoError(t, err)
	assert.True(t, v.RevalidateAfterEntry)
	assert.Equal(t, "psar_atr", v.Generator.Name())
	assert.Equal(t, "0.015", v.StopLossPct.String())
	assert.Equal(t, "0.005", v.TakeProfitPct.String())

	v, err = Lookup("atr")
	require.NoError(t, err)
	assert.False(t, v.RevalidateAfterEntry)
	assert.Equal(t, "0.02", v.StopLossPct.String())

	v, err = Lookup("skorlama")
	require.NoError(t, err)
	assert.Equal(t, "skorlama", v.Generator.Name())
	assert.Equal(t, "0.005", v.TakeProfitPct.String())
	assert.Equal(t, "0.02", v.StopLossPct.String())

	_, err = Lookup("macd")
	assert.Error(t, err)
}
