package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"meridian/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ ResultStore = (*SQLiteStore)(nil)

// SQLiteStore implements ResultStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS backtests (
	id         TEXT PRIMARY KEY,
	strategy   TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	created_at TEXT NOT NULL,
	stats      TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS backtest_trades (
	backtest_id TEXT NOT NULL REFERENCES backtests(id),
	trade_id    INTEGER NOT NULL,
	ticker      TEXT NOT NULL,
	entry_time  TEXT NOT NULL,
	exit_time   TEXT NOT NULL,
	quantity    REAL NOT NULL,
	pnl         REAL NOT NULL,
	fees        REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS backtest_signals (
	backtest_id TEXT NOT NULL REFERENCES backtests(id),
	ts          TEXT NOT NULL,
	trade_id    INTEGER NOT NULL,
	leg_id      INTEGER NOT NULL,
	ticker      TEXT NOT NULL,
	action      TEXT NOT NULL,
	order_type  TEXT NOT NULL,
	weight      REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS backtest_equity (
	backtest_id TEXT NOT NULL REFERENCES backtests(id),
	ts          TEXT NOT NULL,
	value       REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_backtest ON backtest_trades(backtest_id);
CREATE INDEX IF NOT EXISTS idx_signals_backtest ON backtest_signals(backtest_id);
CREATE INDEX IF NOT EXISTS idx_equity_backtest ON backtest_equity(backtest_id);
`

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateBacktest saves the run, its trades, its signal log, and its equity
// curve in one
// transaction.
func (s *SQLiteStore) CreateBacktest(ctx context.Context, run *BacktestRun) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("encoding stats: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO backtests (id, strategy, start_date, end_date, created_at, stats)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy,
		run.StartDate.UTC().Format(time.RFC3339),
		run.EndDate.UTC().Format(time.RFC3339),
		run.CreatedAt.UTC().Format(time.RFC3339Nano),
		string(stats),
	)
	if err != nil {
		return fmt.Errorf("inserting backtest %s: %w", run.ID, err)
	}

	for _, t := range run.Trades {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO backtest_trades (backtest_id, trade_id, ticker, entry_time, exit_time, quantity, pnl, fees)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, t.TradeID, t.Ticker,
			t.EntryTime.UTC().Format(time.RFC3339Nano),
			t.ExitTime.UTC().Format(time.RFC3339Nano),
			t.Quantity, t.Pnl, t.Fees,
		)
		if err != nil {
			return fmt.Errorf("inserting trade %d: %w", t.TradeID, err)
		}
	}

	for _, sig := range run.Signals {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO backtest_signals (backtest_id, ts, trade_id, leg_id, ticker, action, order_type, weight)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, sig.Timestamp.UTC().Format(time.RFC3339Nano),
			sig.TradeID, sig.LegID, sig.Ticker, sig.Action, sig.OrderType, sig.Weight,
		)
		if err != nil {
			return fmt.Errorf("inserting signal %d/%d: %w", sig.TradeID, sig.LegID, err)
		}
	}

	for _, p := range run.Equity {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO backtest_equity (backtest_id, ts, value) VALUES (?, ?, ?)`,
			run.ID, p.Timestamp.UTC().Format(time.RFC3339Nano), p.Value,
		)
		if err != nil {
			return fmt.Errorf("inserting equity point: %w", err)
		}
	}

	return tx.Commit()
}

// GetBacktest loads a run by id with its trades, signals, and equity curve.
func (s *SQLiteStore) GetBacktest(ctx context.Context, id string) (*BacktestRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, strategy, start_date, end_date, created_at, stats FROM backtests WHERE id = ?`, id)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("backtest %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("loading backtest %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT trade_id, ticker, entry_time, exit_time, quantity, pnl, fees
		 FROM backtest_trades WHERE backtest_id = ? ORDER BY trade_id`, id)
	if err != nil {
		return nil, fmt.Errorf("loading trades for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var t TradeSummary
		var entry, exit string
		if err := rows.Scan(&t.TradeID, &t.Ticker, &entry, &exit, &t.Quantity, &t.Pnl, &t.Fees); err != nil {
			return nil, fmt.Errorf("scanning trade: %w", err)
		}
		t.EntryTime, _ = time.Parse(time.RFC3339Nano, entry)
		t.ExitTime, _ = time.Parse(time.RFC3339Nano, exit)
		run.Trades = append(run.Trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trades: %w", err)
	}

	sigRows, err := s.db.QueryContext(ctx,
		`SELECT ts, trade_id, leg_id, ticker, action, order_type, weight
		 FROM backtest_signals WHERE backtest_id = ? ORDER BY ts, trade_id, leg_id`, id)
	if err != nil {
		return nil, fmt.Errorf("loading signals for %s: %w", id, err)
	}
	defer sigRows.Close()
	for sigRows.Next() {
		var sig SignalRecord
		var ts string
		if err := sigRows.Scan(&ts, &sig.TradeID, &sig.LegID, &sig.Ticker, &sig.Action, &sig.OrderType, &sig.Weight); err != nil {
			return nil, fmt.Errorf("scanning signal: %w", err)
		}
		sig.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		run.Signals = append(run.Signals, sig)
	}
	if err := sigRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signals: %w", err)
	}

	eqRows, err := s.db.QueryContext(ctx,
		`SELECT ts, value FROM backtest_equity WHERE backtest_id = ? ORDER BY ts`, id)
	if err != nil {
		return nil, fmt.Errorf("loading equity for %s: %w", id, err)
	}
	defer eqRows.Close()
	for eqRows.Next() {
		var ts string
		var p domain.EquityPoint
		if err := eqRows.Scan(&ts, &p.Value); err != nil {
			return nil, fmt.Errorf("scanning equity point: %w", err)
		}
		p.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		run.Equity = append(run.Equity, p)
	}
	if err := eqRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating equity: %w", err)
	}

	return run, nil
}

// ListBacktests returns run headers most recent first.
func (s *SQLiteStore) ListBacktests(ctx context.Context) ([]BacktestRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, strategy, start_date, end_date, created_at, stats
		 FROM backtests ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing backtests: %w", err)
	}
	defer rows.Close()

	var runs []BacktestRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning backtest: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(r rowScanner) (*BacktestRun, error) {
	var run BacktestRun
	var start, end, created, stats string
	if err := r.Scan(&run.ID, &run.Strategy, &start, &end, &created, &stats); err != nil {
		return nil, err
	}
	run.StartDate, _ = time.Parse(time.RFC3339, start)
	run.EndDate, _ = time.Parse(time.RFC3339, end)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if err := json.Unmarshal([]byte(stats), &run.Stats); err != nil {
		return nil, fmt.Errorf("decoding stats: %w", err)
	}
	return &run, nil
}
