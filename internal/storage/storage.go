// Package storage persists the portfolio snapshot and the append-only trade ledger.
package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

// ErrUnsupportedURL database url scheme has no store.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Store durable portfolio state. RecordTrade ignores a trade ID it has already recorded.
type Store interface {
	Load(ctx context.Context) (domain.Portfolio, bool, error)
	Save(ctx context.Context, p domain.Portfolio) error
	RecordTrade(ctx context.Context, t domain.Trade) error
	Trades(ctx context.Context, symbol domain.Symbol) ([]domain.Trade, error)
	Close() error
}

// Open picks the store by url scheme: sqlite:, postgres://, postgresql://, wal://.
func Open(ctx context.Context, url string, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		s, err := NewPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		logger.Debug("database connected (postgres)")
		return s, nil
	case strings.HasPrefix(url, "sqlite:"):
		path := sqlitePath(url)
		if err := ensureParentDir(path); err != nil {
			return nil, err
		}
		s, err := NewSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		logger.Debug("database connected (sqlite)", zap.String("path", path))
		return s, nil
	case strings.HasPrefix(url, "wal://"):
		dir := strings.TrimPrefix(url, "wal://")
		s, err := NewWAL(dir)
		if err != nil {
			return nil, err
		}
		logger.Debug("database connected (wal)", zap.String("dir", dir))
		return s, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedURL, "%q", url)
	}
}

// sqlitePath strips sqlite:// or sqlite: and any query string.
func sqlitePath(url string) string {
	path := strings.TrimPrefix(url, "sqlite://")
	if path == url {
		path = strings.TrimPrefix(url, "sqlite:")
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

func ensureParentDir(path string) error {
	if path == "" || strings.Contains(path, ":memory:") {
		return nil
	}
	parent := filepath.Dir(path)
	if parent == "." || parent == "" {
		return nil
	}
	return errors.Wrap(os.MkdirAll(parent, 0o755), "create database dir")
}

// tradeRow column layout shared by the SQL stores. Decimals are kept as text.
type tradeRow struct {
	ID       string    `gorm:"primaryKey"`
	OrderID  string    `gorm:"not null"`
	Symbol   string    `gorm:"index;not null"`
	Side     string    `gorm:"not null"`
	Price    string    `gorm:"not null"`
	Quantity string    `gorm:"not null"`
	Fee      string    `gorm:"not null"`
	Time     time.Time `gorm:"column:ts;index;not null"`
}

func (tradeRow) TableName() string { return "trades" }

func newTradeRow(t domain.Trade) tradeRow {
	return tradeRow{
		ID:       t.ID,
		OrderID:  t.OrderID,
		Symbol:   t.Symbol.String(),
		Side:     t.Side.String(),
		Price:    t.Price.String(),
		Quantity: t.Quantity.String(),
		Fee:      t.Fee.String(),
		Time:     t.Time.UTC(),
	}
}

func (r tradeRow) trade() (domain.Trade, error) {
	var side domain.Side
	if err := side.UnmarshalText([]byte(r.Side)); err != nil {
		return domain.Trade{}, errors.Wrapf(err, "trade %s", r.ID)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return domain.Trade{}, errors.Wrapf(err, "trade %s price", r.ID)
	}
	qty, err := decimal.NewFromString(r.Quantity)
	if err != nil {
		return domain.Trade{}, errors.Wrapf(err, "trade %s quantity", r.ID)
	}
	fee, err := decimal.NewFromString(r.Fee)
	if err != nil {
		return domain.Trade{}, errors.Wrapf(err, "trade %s fee", r.ID)
	}
	return domain.Trade{
		ID:       r.ID,
		OrderID:  r.OrderID,
		Symbol:   domain.Symbol(r.Symbol),
		Side:     side,
		Price:    price,
		Quantity: qty,
		Fee:      fee,
		Time:     r.Time.UTC(),
	}, nil
}

// portfolioRow single-row snapshot table.
type portfolioRow struct {
	ID        int    `gorm:"primaryKey;autoIncrement:false"`
	Payload   string `gorm:"not null"`
	UpdatedAt time.Time
}

func (portfolioRow) TableName() string { return "portfolio" }

const portfolioRowID = 1

func encodePortfolio(p domain.Portfolio) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", errors.Wrap(err, "encode portfolio")
	}
	return string(b), nil
}

func decodePortfolio(payload []byte) (domain.Portfolio, error) {
	var p domain.Portfolio
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.Portfolio{}, errors.Wrap(err, "decode portfolio")
	}
	if p.Positions == nil {
		p.Positions = make(map[domain.Symbol]domain.Position)
	}
	return p, nil
}
