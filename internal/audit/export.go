package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var eventHeader = []string{"timestamp", "action", "symbol", "signal_id", "side", "quantity", "price", "details"}

var signalHeader = []string{
	"timestamp", "strategy", "symbol", "signal_id", "side", "price", "status",
	"confirm_price", "wait_seconds", "entry_price", "exit_price", "pnl_usd", "pnl_pct",
}

// ExportEventsCSV writes the whole event trail as CSV
func (s *SQLiteStore) ExportEventsCSV(ctx context.Context, w io.Writer) (int, error) {
	events, err := s.Events(ctx, "")
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(eventHeader); err != nil {
		return 0, err
	}
	for _, e := range events {
		row := []string{
			e.Time.UTC().Format(time.RFC3339),
			string(e.Action),
			e.Symbol,
			e.SignalID,
			e.Side,
			e.Quantity.String(),
			e.Price.String(),
			e.Details,
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("write event row: %w", err)
		}
	}
	cw.Flush()
	return len(events), cw.Error()
}

// ExportSignalsCSV writes one row per signal. Indicator values follow the
// fixed columns, one column per indicator name seen across all signals.
func (s *SQLiteStore) ExportSignalsCSV(ctx context.Context, w io.Writer) (int, error) {
	signals, err := s.Signals(ctx)
	if err != nil {
		return 0, err
	}

	names := map[string]struct{}{}
	for _, r := range signals {
		for k := range r.Indicators {
			names[k] = struct{}{}
		}
	}
	indicators := make([]string, 0, len(names))
	for k := range names {
		indicators = append(indicators, k)
	}
	sort.Strings(indicators)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string{}, signalHeader...), indicators...)); err != nil {
		return 0, err
	}
	for _, r := range signals {
		row := []string{
			r.DetectedAt.UTC().Format(time.RFC3339),
			r.Strategy,
			r.Symbol,
			r.ID,
			r.Side,
			r.Price.String(),
			r.Status,
			nullString(r.ConfirmPrice),
			strconv.FormatFloat(r.Waited.Seconds(), 'f', 0, 64),
			nullString(r.EntryPrice),
			nullString(r.ExitPrice),
			nullString(r.PnLUSD),
			nullString(r.PnLPct),
		}
		for _, name := range indicators {
			v, ok := r.Indicators[name]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', -1, 64))
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("write signal row: %w", err)
		}
	}
	cw.Flush()
	return len(signals), cw.Error()
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
