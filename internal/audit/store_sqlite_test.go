package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"signalbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"), "atr")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSignal() core.Signal {
	return core.Signal{
		Symbol:      "BTCUSDT",
		Side:        core.SideBuy,
		Price:       d("50000"),
		Indicators:  map[string]float64{"atr": 120.5, "ema": 49950},
		DetectedAt:  time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC),
		CandleStart: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSQLiteStore_SignalLifecycle(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.RecordSignal(ctx, testSignal())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, store.RecordSignalConfirmed(ctx, id, d("50010"), 90*time.Second))
	require.NoError(t, store.RecordPositionOpened(ctx, id, d("50012.5")))
	require.NoError(t, store.RecordPositionClosed(ctx, id, d("50262.5"), d("0.5"), d("5")))

	signals, err := store.Signals(ctx)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	rec := signals[0]
	assert.Equal(t, StatusClosed, rec.Status)
	assert.Equal(t, "atr", rec.Strategy)
	assert.True(t, rec.ConfirmPrice.Decimal.Equal(d("50010")))
	assert.Equal(t, 90*time.Second, rec.Waited)
	assert.True(t, rec.EntryPrice.Decimal.Equal(d("50012.5")))
	assert.True(t, rec.PnLUSD.Decimal.Equal(d("0.5")))
	assert.Equal(t, 120.5, rec.Indicators["atr"])

	events, err := store.Events(ctx, id)
	require.NoError(t, err)
	actions := make([]core.AuditAction, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
		assert.Equal(t, "BTCUSDT", e.Symbol)
		assert.Equal(t, "BUY", e.Side)
	}
	assert.Equal(t, []core.AuditAction{
		core.ActionSignalDetected,
		core.ActionSignalConfirmed,
		core.ActionPositionOpen,
		core.ActionPositionClose,
	}, actions)
}

func TestSQLiteStore_UnknownSignal(t *testing.T) {
	store := newStore(t)
	err := store.RecordPositionOpened(context.Background(), "missing", d("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	events, err := store.Events(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSQLiteStore_RecordEvent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordEvent(ctx, core.AuditEvent{
		Action:   core.ActionTradeFailed,
		Symbol:   "ETHUSDT",
		Side:     "SELL",
		Quantity: d("0.5"),
		Details:  "take-profit rejected",
	}))

	events, err := store.Events(ctx, "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, core.ActionTradeFailed, events[0].Action)
	assert.True(t, events[0].Quantity.Equal(d("0.5")))
	assert.False(t, events[0].Time.IsZero())
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewSQLiteStore(path, "atr")
	require.NoError(t, err)
	id, err := store.RecordSignal(context.Background(), testSignal())
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, "atr")
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.RecordSignalCancelled(context.Background(), id, d("49900"), time.Minute))

	signals, err := reopened.Signals(context.Background())
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, StatusCancelled, signals[0].Status)
}

func TestSQLiteStore_ExportCSV(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	id, err := store.RecordSignal(ctx, testSignal())
	require.NoError(t, err)
	require.NoError(t, store.RecordSignalCancelled(ctx, id, d("49990"), 30*time.Second))

	var buf bytes.Buffer
	n, err := store.ExportSignalsCSV(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, append(append([]string{}, signalHeader...), "atr", "ema"), rows[0])
	assert.Equal(t, "CANCELLED", rows[1][6])
	assert.Equal(t, "30", rows[1][8])
	assert.Equal(t, "", rows[1][9])
	assert.Equal(t, "120.5", rows[1][13])

	buf.Reset()
	n, err = store.ExportEventsCSV(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rows, err = csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, eventHeader, rows[0])
	assert.Equal(t, "SIGNAL_DETECTED", rows[1][1])
	assert.Equal(t, "SIGNAL_CANCELLED", rows[2][1])
}
