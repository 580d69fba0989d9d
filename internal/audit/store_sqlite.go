// Package audit persists the trade activity trail to SQLite and exports it as CSV
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"signalbot/internal/core"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Signal lifecycle states stored in signals.status
const (
	StatusDetected  = "DETECTED"
	StatusConfirmed = "CONFIRMED"
	StatusCancelled = "CANCELLED"
	StatusOpened    = "OPENED"
	StatusClosed    = "CLOSED"
	StatusCanceled  = "CANCELED"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id            TEXT PRIMARY KEY,
	strategy      TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	price         TEXT NOT NULL,
	indicators    TEXT NOT NULL,
	detected_at   INTEGER NOT NULL,
	candle_start  INTEGER NOT NULL,
	status        TEXT NOT NULL,
	confirm_price TEXT,
	wait_ms       INTEGER,
	entry_price   TEXT,
	exit_price    TEXT,
	pnl_usd       TEXT,
	pnl_pct       TEXT,
	updated_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS trade_events (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ts        INTEGER NOT NULL,
	action    TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	side      TEXT NOT NULL,
	quantity  TEXT NOT NULL,
	price     TEXT NOT NULL,
	details   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_events_signal ON trade_events(signal_id);
`

// SignalRecord is one row of the signals table
type SignalRecord struct {
	ID           string
	Strategy     string
	Symbol       string
	Side         string
	Price        decimal.Decimal
	Indicators   map[string]float64
	DetectedAt   time.Time
	CandleStart  time.Time
	Status       string
	ConfirmPrice decimal.NullDecimal
	Waited       time.Duration
	EntryPrice   decimal.NullDecimal
	ExitPrice    decimal.NullDecimal
	PnLUSD       decimal.NullDecimal
	PnLPct       decimal.NullDecimal
}

// SQLiteStore implements core.IAuditSink
type SQLiteStore struct {
	db       *sql.DB
	strategy string
	now      func() time.Time
}

var _ core.IAuditSink = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the audit database. strategy
// labels the signals this process records.
func NewSQLiteStore(dbPath, strategy string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db, strategy: strategy, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

// RecordSignal stores a detected signal and returns its ID
func (s *SQLiteStore) RecordSignal(ctx context.Context, sig core.Signal) (string, error) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	indicators, err := json.Marshal(sig.Indicators)
	if err != nil {
		return "", fmt.Errorf("marshal indicators: %w", err)
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO signals
			(id, strategy, symbol, side, price, indicators, detected_at, candle_start, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sig.ID, s.strategy, sig.Symbol, string(sig.Side), sig.Price.String(), string(indicators),
			millis(sig.DetectedAt), millis(sig.CandleStart), StatusDetected, millis(s.now()))
		if err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}
		return insertEvent(ctx, tx, core.AuditEvent{
			Time:     sig.DetectedAt,
			Action:   core.ActionSignalDetected,
			Symbol:   sig.Symbol,
			SignalID: sig.ID,
			Side:     string(sig.Side),
			Price:    sig.Price,
			Details:  fmt.Sprintf("strategy=%s candle=%s", s.strategy, sig.CandleStart.UTC().Format(time.RFC3339)),
		})
	})
	if err != nil {
		return "", err
	}
	return sig.ID, nil
}

func (s *SQLiteStore) RecordSignalConfirmed(ctx context.Context, signalID string, price decimal.Decimal, waited time.Duration) error {
	return s.transition(ctx, signalID, StatusConfirmed, core.ActionSignalConfirmed, price,
		fmt.Sprintf("waited %s", waited.Round(time.Second)),
		`confirm_price = ?, wait_ms = ?`, price.String(), waited.Milliseconds())
}

func (s *SQLiteStore) RecordSignalCancelled(ctx context.Context, signalID string, price decimal.Decimal, waited time.Duration) error {
	return s.transition(ctx, signalID, StatusCancelled, core.ActionSignalCancelled, price,
		fmt.Sprintf("waited %s", waited.Round(time.Second)),
		`confirm_price = ?, wait_ms = ?`, price.String(), waited.Milliseconds())
}

func (s *SQLiteStore) RecordPositionOpened(ctx context.Context, signalID string, price decimal.Decimal) error {
	return s.transition(ctx, signalID, StatusOpened, core.ActionPositionOpen, price,
		"entry filled and verified",
		`entry_price = ?`, price.String())
}

func (s *SQLiteStore) RecordPositionClosed(ctx context.Context, signalID string, exitPrice, pnlUSD, pnlPct decimal.Decimal) error {
	return s.transition(ctx, signalID, StatusClosed, core.ActionPositionClose, exitPrice,
		fmt.Sprintf("pnl=%s pnl_pct=%s%%", pnlUSD.StringFixed(4), pnlPct.StringFixed(2)),
		`exit_price = ?, pnl_usd = ?, pnl_pct = ?`, exitPrice.String(), pnlUSD.String(), pnlPct.String())
}

func (s *SQLiteStore) RecordPositionCanceled(ctx context.Context, signalID string, exitPrice, pnlUSD, pnlPct decimal.Decimal) error {
	return s.transition(ctx, signalID, StatusCanceled, core.ActionPositionCanceled, exitPrice,
		fmt.Sprintf("pnl=%s pnl_pct=%s%%", pnlUSD.StringFixed(4), pnlPct.StringFixed(2)),
		`exit_price = ?, pnl_usd = ?, pnl_pct = ?`, exitPrice.String(), pnlUSD.String(), pnlPct.String())
}

// RecordEvent appends a free-form lifecycle event
func (s *SQLiteStore) RecordEvent(ctx context.Context, event core.AuditEvent) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertEvent(ctx, tx, event)
	})
}

// transition updates a signal row and appends the matching event atomically
func (s *SQLiteStore) transition(
	ctx context.Context,
	signalID, status string,
	action core.AuditAction,
	price decimal.Decimal,
	details, set string,
	args ...interface{},
) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var symbol, side string
		err := tx.QueryRowContext(ctx, `SELECT symbol, side FROM signals WHERE id = ?`, signalID).Scan(&symbol, &side)
		if err == sql.ErrNoRows {
			return fmt.Errorf("signal %s not found", signalID)
		}
		if err != nil {
			return fmt.Errorf("load signal %s: %w", signalID, err)
		}

		params := append(append([]interface{}{status}, args...), millis(s.now()), signalID)
		if _, err := tx.ExecContext(ctx,
			`UPDATE signals SET status = ?, `+set+`, updated_at = ? WHERE id = ?`, params...); err != nil {
			return fmt.Errorf("update signal %s: %w", signalID, err)
		}

		return insertEvent(ctx, tx, core.AuditEvent{
			Time:     s.now(),
			Action:   action,
			Symbol:   symbol,
			SignalID: signalID,
			Side:     side,
			Price:    price,
			Details:  details,
		})
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, e core.AuditEvent) error {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO trade_events
		(ts, action, symbol, signal_id, side, quantity, price, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		millis(e.Time), string(e.Action), e.Symbol, e.SignalID, e.Side,
		e.Quantity.String(), e.Price.String(), e.Details)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", e.Action, err)
	}
	return nil
}

// Events returns every event in insertion order, optionally for one signal
func (s *SQLiteStore) Events(ctx context.Context, signalID string) ([]core.AuditEvent, error) {
	query := `SELECT ts, action, symbol, signal_id, side, quantity, price, details FROM trade_events`
	var args []interface{}
	if signalID != "" {
		query += ` WHERE signal_id = ?`
		args = append(args, signalID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEvent
	for rows.Next() {
		var e core.AuditEvent
		var ts int64
		var action string
		if err := rows.Scan(&ts, &action, &e.Symbol, &e.SignalID, &e.Side, &e.Quantity, &e.Price, &e.Details); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time = time.UnixMilli(ts)
		e.Action = core.AuditAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Signals returns every recorded signal ordered by detection time
func (s *SQLiteStore) Signals(ctx context.Context) ([]SignalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, strategy, symbol, side, price, indicators,
		detected_at, candle_start, status, confirm_price, wait_ms, entry_price, exit_price, pnl_usd, pnl_pct
		FROM signals ORDER BY detected_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var r SignalRecord
		var indicators string
		var detected, candle int64
		var wait sql.NullInt64
		if err := rows.Scan(&r.ID, &r.Strategy, &r.Symbol, &r.Side, &r.Price, &indicators,
			&detected, &candle, &r.Status, &r.ConfirmPrice, &wait,
			&r.EntryPrice, &r.ExitPrice, &r.PnLUSD, &r.PnLPct); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if err := json.Unmarshal([]byte(indicators), &r.Indicators); err != nil {
			return nil, fmt.Errorf("signal %s indicators: %w", r.ID, err)
		}
		r.DetectedAt = time.UnixMilli(detected)
		r.CandleStart = time.UnixMilli(candle)
		r.Waited = time.Duration(wait.Int64) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}
