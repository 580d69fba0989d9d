package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRoundToStep(t *testing.T) {
	assert.True(t, d("0.012").Equal(RoundToStep(d("0.0129"), d("0.001"))))
	assert.True(t, d("3").Equal(RoundToStep(d("3.7"), d("1"))))
	assert.True(t, d("3.7").Equal(RoundToStep(d("3.7"), decimal.Zero)))
}

func TestRoundToTick(t *testing.T) {
	assert.True(t, d("100.1").Equal(RoundToTick(d("100.06"), d("0.1"))))
	assert.True(t, d("100.0").Equal(RoundToTick(d("100.04"), d("0.1"))))
}

func TestEscalate(t *testing.T) {
	assert.True(t, d("100").Equal(Escalate(d("100"), d("0.0001"), 0)))
	assert.True(t, d("100.01").Equal(Escalate(d("100"), d("0.0001"), 1)))
	assert.True(t, d("100.02").Equal(Escalate(d("100"), d("0.0001"), 2)))
}

func TestProtectivePrices(t *testing.T) {
	tp, sl := ProtectivePrices(d("100"), d("0.005"), d("0.02"), true)
	assert.True(t, d("100.5").Equal(tp))
	assert.True(t, d("98").Equal(sl))

	tp, sl = ProtectivePrices(d("100"), d("0.005"), d("0.02"), false)
	assert.True(t, d("99.5").Equal(tp))
	assert.True(t, d("102").Equal(sl))
}

func TestPnL(t *testing.T) {
	change := PriceChangePct(d("100"), d("101"), true)
	assert.True(t, d("1").Equal(change))
	assert.True(t, d("10").Equal(LeveragedPnLPct(change, 10)))

	assert.True(t, d("-1").Equal(PriceChangePct(d("100"), d("101"), false)))
	assert.True(t, d("-0.02").Equal(PnLQuote(d("100"), d("101"), d("0.02"), false)))
	assert.True(t, decimal.Zero.Equal(PriceChangePct(decimal.Zero, d("1"), true)))
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, WithinTolerance(d("0.01"), d("0.010005"), d("0.00001")))
	assert.False(t, WithinTolerance(d("0.01"), d("0.0102"), d("0.00001")))
}
