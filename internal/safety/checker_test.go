package safety

import (
	"context"
	"testing"

	"signalbot/internal/core"
	"signalbot/internal/mock"
	apperrors "signalbot/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() Params {
	return Params{
		Symbol:        "BTCUSDT",
		Leverage:      10,
		TradeAmount:   decimal.NewFromInt(100),
		TakeProfitPct: decimal.RequireFromString("0.005"),
		StopLossPct:   decimal.RequireFromString("0.02"),
	}
}

func TestSafetyChecker_CheckStartup(t *testing.T) {
	ctx := context.Background()
	checker := NewSafetyChecker(&mockLogger{})

	t.Run("flat account", func(t *testing.T) {
		v := mock.NewVenue()
		v.SetPrice("BTCUSDT", decimal.NewFromInt(45000))

		report, err := checker.CheckStartup(ctx, v, validParams())
		require.NoError(t, err)
		assert.Nil(t, report.Existing)
		assert.True(t, report.Price.Equal(decimal.NewFromInt(45000)))
		// 100 / 45000 = 0.00222 floored to the 0.001 step
		assert.Equal(t, "0.002", report.Quantity.String())
		assert.Equal(t, 10, v.Leverage("BTCUSDT"))
		assert.NotNil(t, report.Normalizer.Filters())
	})

	t.Run("existing position is adopted", func(t *testing.T) {
		v := mock.NewVenue()
		v.SetPrice("BTCUSDT", decimal.NewFromInt(45000))
		v.SetPosition("BTCUSDT", core.PositionShort, decimal.RequireFromString("0.01"), decimal.NewFromInt(46000))

		report, err := checker.CheckStartup(ctx, v, validParams())
		require.NoError(t, err)
		require.NotNil(t, report.Existing)
		assert.Equal(t, core.PositionShort, report.Existing.Side)
	})

	t.Run("amount below min qty", func(t *testing.T) {
		v := mock.NewVenue()
		v.SetPrice("BTCUSDT", decimal.NewFromInt(45000))
		p := validParams()
		p.TradeAmount = decimal.NewFromInt(10)

		_, err := checker.CheckStartup(ctx, v, p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "minimum quantity")
		assert.Equal(t, 0, v.Calls(mock.OpSetLeverage))
	})

	t.Run("no price", func(t *testing.T) {
		_, err := checker.CheckStartup(ctx, mock.NewVenue(), validParams())
		assert.ErrorIs(t, err, apperrors.ErrInvalidSymbol)
	})

	t.Run("incomplete filters", func(t *testing.T) {
		v := mock.NewVenue()
		v.SetPrice("BTCUSDT", decimal.NewFromInt(45000))
		v.SetFilters(core.SymbolFilters{Symbol: "BTCUSDT", MinQty: decimal.RequireFromString("0.001")})

		_, err := checker.CheckStartup(ctx, v, validParams())
		assert.Error(t, err)
	})

	t.Run("leverage rejected", func(t *testing.T) {
		v := mock.NewVenue()
		v.SetPrice("BTCUSDT", decimal.NewFromInt(45000))
		v.InjectError(mock.OpSetLeverage, apperrors.ErrInvalidOrderParameter)

		_, err := checker.CheckStartup(ctx, v, validParams())
		assert.ErrorIs(t, err, apperrors.ErrInvalidOrderParameter)
	})
}

func TestSafetyChecker_ValidateTradingParameters(t *testing.T) {
	checker := NewSafetyChecker(&mockLogger{})

	tests := []struct {
		name        string
		mutate      func(p *Params)
		expectError bool
	}{
		{name: "valid parameters", mutate: func(p *Params) {}},
		{name: "empty symbol", mutate: func(p *Params) { p.Symbol = "" }, expectError: true},
		{name: "zero leverage", mutate: func(p *Params) { p.Leverage = 0 }, expectError: true},
		{name: "zero trade amount", mutate: func(p *Params) { p.TradeAmount = decimal.Zero }, expectError: true},
		{name: "missing take profit", mutate: func(p *Params) { p.TakeProfitPct = decimal.Zero }, expectError: true},
		{
			name: "stop beyond liquidation",
			mutate: func(p *Params) {
				p.Leverage = 50
				p.StopLossPct = decimal.RequireFromString("0.02")
			},
			expectError: true,
		},
		{
			name: "high leverage with tight stop",
			mutate: func(p *Params) {
				p.Leverage = 40
				p.StopLossPct = decimal.RequireFromString("0.01")
			},
			expectError: false, // allowed but warns
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			err := checker.ValidateTradingParameters(p)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// mockLogger implements core.ILogger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, fields ...interface{})               {}
func (m *mockLogger) Info(msg string, fields ...interface{})                {}
func (m *mockLogger) Warn(msg string, fields ...interface{})                {}
func (m *mockLogger) Error(msg string, fields ...interface{})               {}
func (m *mockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *mockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *mockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }
