package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"signalbot/internal/audit"
	"signalbot/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "signalbot dev")
}

func TestRunCmd_RejectsBadFlags(t *testing.T) {
	_, err := execute(t, "run", "--symbol", "BTC-USDT")
	assert.ErrorContains(t, err, "invalid symbol")

	_, err = execute(t, "run", "--timeframe", "1w")
	assert.ErrorContains(t, err, "invalid timeframe")

	_, err = execute(t, "run", "--config", "../../etc/passwd")
	assert.Error(t, err)
}

func TestAuditExport(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	store, err := audit.NewSQLiteStore(dbPath, "atr")
	require.NoError(t, err)
	id, err := store.RecordSignal(ctx, core.Signal{
		Symbol: "BTCUSDT", Side: core.SideBuy, Price: decimal.NewFromInt(50000),
		DetectedAt: time.Now(), CandleStart: time.Now().Truncate(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, store.RecordSignalConfirmed(ctx, id, decimal.NewFromInt(50010), 30*time.Second))
	require.NoError(t, store.Close())

	out, err := execute(t, "audit", "export", "--db", dbPath)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewBufferString(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + detected + confirmed

	outFile := filepath.Join(t.TempDir(), "signals.csv")
	_, err = execute(t, "audit", "export", "--db", dbPath, "--kind", "signals", "--out", outFile)
	require.NoError(t, err)
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "CONFIRMED")

	_, err = execute(t, "audit", "export", "--db", dbPath, "--kind", "trades")
	assert.ErrorContains(t, err, "unknown export kind")

	_, err = execute(t, "audit", "export", "--db", filepath.Join(t.TempDir(), "missing.db"))
	assert.Error(t, err)
}
