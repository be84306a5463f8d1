package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id       TEXT PRIMARY KEY,
	order_id TEXT NOT NULL,
	symbol   TEXT NOT NULL,
	side     TEXT NOT NULL,
	price    TEXT NOT NULL,
	quantity TEXT NOT NULL,
	fee      TEXT NOT NULL,
	ts       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE TABLE IF NOT EXISTS portfolio (
	id         INTEGER PRIMARY KEY,
	payload    TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);`

// SQLite store on database/sql with the mattn driver.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database file and applies the schema.
func NewSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply sqlite schema")
	}
	return &SQLite{db: db}, nil
}

// Load returns the stored snapshot, false when none has been saved.
func (s *SQLite) Load(ctx context.Context) (domain.Portfolio, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM portfolio WHERE id = ?`, portfolioRowID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Portfolio{}, false, nil
	}
	if err != nil {
		return domain.Portfolio{}, false, errors.Wrap(err, "load portfolio")
	}
	p, err := decodePortfolio([]byte(payload))
	if err != nil {
		return domain.Portfolio{}, false, err
	}
	return p, true, nil
}

// Save replaces the snapshot.
func (s *SQLite) Save(ctx context.Context, p domain.Portfolio) error {
	payload, err := encodePortfolio(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO portfolio (id, payload, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		portfolioRowID, payload, time.Now().UnixMilli())
	return errors.Wrap(err, "save portfolio")
}

// RecordTrade appends the trade unless its ID is already recorded.
func (s *SQLite) RecordTrade(ctx context.Context, t domain.Trade) error {
	r := newTradeRow(t)
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (id, order_id, symbol, side, price, quantity, fee, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrderID, r.Symbol, r.Side, r.Price, r.Quantity, r.Fee, r.Time.UnixNano())
	return errors.Wrapf(err, "record trade %s", t.ID)
}

// Trades ledger in insertion order, all symbols when symbol is empty.
func (s *SQLite) Trades(ctx context.Context, symbol domain.Symbol) ([]domain.Trade, error) {
	query := `SELECT id, order_id, symbol, side, price, quantity, fee, ts FROM trades`
	var args []any
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol.String())
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query trades")
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var (
			r  tradeRow
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Symbol, &r.Side, &r.Price, &r.Quantity, &r.Fee, &ts); err != nil {
			return nil, errors.Wrap(err, "scan trade")
		}
		r.Time = time.Unix(0, ts)
		t, err := r.trade()
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, errors.Wrap(rows.Err(), "iterate trades")
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
