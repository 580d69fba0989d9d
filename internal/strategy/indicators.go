package strategy

import (
	"math"

	"signalbot/internal/core"
)

// All series are aligned to the input bars. Values whose lookback is not yet
// available are NaN.

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func closes(bars []core.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// TrueRange is max(high-low, |high-prevClose|, |low-prevClose|); the first
// bar uses high-low.
func TrueRange(bars []core.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		tr := b.High - b.Low
		if i > 0 {
			prev := bars[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(b.High-prev), math.Abs(b.Low-prev)))
		}
		out[i] = tr
	}
	return out
}

// ATR is the simple rolling mean of the true range over period bars
func ATR(bars []core.Bar, period int) []float64 {
	return SMA(TrueRange(bars), period)
}

// SMA is the rolling mean of values over period
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is the exponential moving average with alpha 2/(span+1), seeded with
// the first value.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 || span <= 0 {
		return out
	}
	alpha := 2 / (float64(span) + 1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// WMA is the linearly weighted moving average, newest value heaviest
func WMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	denom := float64(period*(period+1)) / 2
	for i := period - 1; i < len(values); i++ {
		var sum float64
		for w := 1; w <= period; w++ {
			sum += values[i-period+w] * float64(w)
		}
		out[i] = sum / denom
	}
	return out
}

// HMA is 2·WMA(n/2) − WMA(n) as used for the long trend filter
func HMA(values []float64, period int) []float64 {
	fast := WMA(values, period/2)
	slow := WMA(values, period)
	out := make([]float64, len(values))
	for i := range out {
		out[i] = 2*fast[i] - slow[i]
	}
	return out
}

// Donchian returns the rolling high, low and middle channel lines
func Donchian(bars []core.Bar, period int) (upper, lower, middle []float64) {
	n := len(bars)
	upper, lower, middle = nanSeries(n), nanSeries(n), nanSeries(n)
	for i := period - 1; i < n && period > 0; i++ {
		hi, lo := bars[i].High, bars[i].Low
		for j := i - period + 1; j < i; j++ {
			hi = math.Max(hi, bars[j].High)
			lo = math.Min(lo, bars[j].Low)
		}
		upper[i], lower[i], middle[i] = hi, lo, (hi+lo)/2
	}
	return upper, lower, middle
}

// PSAR computes the parabolic SAR and its trend (1 up, -1 down)
func PSAR(bars []core.Bar, start, increment, maximum float64) (sar []float64, trend []int) {
	n := len(bars)
	sar = make([]float64, n)
	trend = make([]int, n)
	if n == 0 {
		return sar, trend
	}
	ep := make([]float64, n)
	acc := make([]float64, n)
	sar[0], trend[0], ep[0], acc[0] = bars[0].Low, 1, bars[0].High, start

	for i := 1; i < n; i++ {
		sar[i] = sar[i-1] + acc[i-1]*(ep[i-1]-sar[i-1])
		if trend[i-1] == 1 {
			if bars[i].Low < sar[i] {
				trend[i], sar[i], acc[i], ep[i] = -1, ep[i-1], start, bars[i].Low
				continue
			}
			trend[i] = 1
			if bars[i].High > ep[i-1] {
				ep[i], acc[i] = bars[i].High, math.Min(acc[i-1]+increment, maximum)
			} else {
				ep[i], acc[i] = ep[i-1], acc[i-1]
			}
			continue
		}
		if bars[i].High > sar[i] {
			trend[i], sar[i], acc[i], ep[i] = 1, ep[i-1], start, bars[i].High
			continue
		}
		trend[i] = -1
		if bars[i].Low < ep[i-1] {
			ep[i], acc[i] = bars[i].Low, math.Min(acc[i-1]+increment, maximum)
		} else {
			ep[i], acc[i] = ep[i-1], acc[i-1]
		}
	}
	return sar, trend
}

// ATRTrailingStop ratchets a stop keyValue·ATR away from the close, flipping
// side when the close crosses it. It stays 0 until the ATR is available.
func ATRTrailingStop(bars []core.Bar, atr []float64, keyValue float64) []float64 {
	stop := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		if math.IsNaN(atr[i]) {
			continue
		}
		loss := keyValue * atr[i]
		cur, prev, prevStop := bars[i].Close, bars[i-1].Close, stop[i-1]
		switch {
		case cur > prevStop && prev > prevStop:
			stop[i] = math.Max(prevStop, cur-loss)
		case cur < prevStop && prev < prevStop:
			stop[i] = math.Min(prevStop, cur+loss)
		case cur > prevStop:
			stop[i] = cur - loss
		default:
			stop[i] = cur + loss
		}
	}
	return stop
}

// SuperTrend returns the band the close is measured against and its
// direction (1 when the close is above the previous band).
func SuperTrend(bars []core.Bar, atr []float64, factor float64) (band []float64, direction []int) {
	band = make([]float64, len(bars))
	direction = make([]int, len(bars))
	for i := 1; i < len(bars); i++ {
		if math.IsNaN(atr[i]) {
			continue
		}
		hl2 := (bars[i].High + bars[i].Low) / 2
		offset := atr[i] * factor
		if bars[i].Close > band[i-1] {
			band[i], direction[i] = hl2+offset, 1
		} else {
			band[i], direction[i] = hl2-offset, -1
		}
	}
	return band, direction
}

// ZoneDecider tracks ATR zones around hl2 and returns 1 while price holds
// above the up zone and -1 once it breaks below, flipping back above the
// down zone.
func ZoneDecider(bars []core.Bar, length int, multiplier float64) []int {
	n := len(bars)
	atr := ATR(bars, length)
	down := make([]float64, n)
	up := make([]float64, n)
	for i, b := range bars {
		hl2 := (b.High + b.Low) / 2
		down[i] = hl2 + atr[i]*multiplier
		up[i] = hl2 - atr[i]*multiplier
	}
	for i := 1; i < n; i++ {
		prevClose := bars[i-1].Close
		if prevClose < down[i-1] {
			down[i] = nanMin(down[i], down[i-1])
		}
		if prevClose > up[i-1] {
			up[i] = nanMax(up[i], up[i-1])
		}
	}

	decider := make([]int, n)
	if n > 0 {
		decider[0] = 1
	}
	for i := 1; i < n; i++ {
		c := bars[i].Close
		switch {
		case decider[i-1] == -1 && c > down[i]:
			decider[i] = 1
		case decider[i-1] == 1 && c < up[i]:
			decider[i] = -1
		default:
			decider[i] = decider[i-1]
		}
	}
	return decider
}

func nanMin(a, b float64) float64 {
	if math.IsNaN(a) {
		return a
	}
	if math.IsNaN(b) {
		return a
	}
	return math.Min(a, b)
}

func nanMax(a, b float64) float64 {
	if math.IsNaN(a) {
		return a
	}
	if math.IsNaN(b) {
		return a
	}
	return math.Max(a, b)
}

// smaValid is SMA over the values after the leading NaN lookback
func smaValid(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	start := 0
	for start < len(values) && math.IsNaN(values[start]) {
		start++
	}
	copy(out[start:], SMA(values[start:], period))
	return out
}

// RSI is Wilder's relative strength index. The first period values are NaN.
func RSI(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	p := float64(period)
	var gain, loss float64
	for i := 1; i <= period; i++ {
		if ch := values[i] - values[i-1]; ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	gain, loss = gain/p, loss/p
	out[period] = rsiValue(gain, loss)
	for i := period + 1; i < len(values); i++ {
		var g, l float64
		if ch := values[i] - values[i-1]; ch > 0 {
			g = ch
		} else {
			l = -ch
		}
		gain = (gain*(p-1) + g) / p
		loss = (loss*(p-1) + l) / p
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// ADX returns the average directional index with its +DI and -DI lines.
// True range, directional movement and DX are all smoothed with EMA(period).
func ADX(bars []core.Bar, period int) (adx, plusDI, minusDI []float64) {
	n := len(bars)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := bars[i].High - bars[i-1].High
		down := bars[i-1].Low - bars[i].Low
		if up > 0 && up > down {
			plusDM[i] = up
		}
		if down > 0 && down > up {
			minusDM[i] = down
		}
	}

	tr := EMA(TrueRange(bars), period)
	pdm := EMA(plusDM, period)
	mdm := EMA(minusDM, period)
	plusDI = make([]float64, n)
	minusDI = make([]float64, n)
	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if tr[i] > 0 {
			plusDI[i] = 100 * pdm[i] / tr[i]
			minusDI[i] = 100 * mdm[i] / tr[i]
		}
		if sum := plusDI[i] + minusDI[i]; sum > 0 {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / sum
		}
	}
	return EMA(dx, period), plusDI, minusDI
}
