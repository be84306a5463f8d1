package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Postgres store on gorm.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres connects and migrates the trades and portfolio tables.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "postgres pool")
	}
	sqlDB.SetMaxOpenConns(5)

	if err := db.WithContext(ctx).AutoMigrate(&tradeRow{}, &portfolioRow{}); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "migrate postgres")
	}
	return &Postgres{db: db}, nil
}

// Load returns the stored snapshot, false when none has been saved.
func (s *Postgres) Load(ctx context.Context) (domain.Portfolio, bool, error) {
	var row portfolioRow
	err := s.db.WithContext(ctx).Where("id = ?", portfolioRowID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Portfolio{}, false, nil
	}
	if err != nil {
		return domain.Portfolio{}, false, errors.Wrap(err, "load portfolio")
	}
	p, err := decodePortfolio([]byte(row.Payload))
	if err != nil {
		return domain.Portfolio{}, false, err
	}
	return p, true, nil
}

// Save replaces the snapshot.
func (s *Postgres) Save(ctx context.Context, p domain.Portfolio) error {
	payload, err := encodePortfolio(p)
	if err != nil {
		return err
	}
	row := portfolioRow{ID: portfolioRowID, Payload: payload, UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	return errors.Wrap(err, "save portfolio")
}

// RecordTrade appends the trade unless its ID is already recorded.
func (s *Postgres) RecordTrade(ctx context.Context, t domain.Trade) error {
	row := newTradeRow(t)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	return errors.Wrapf(err, "record trade %s", t.ID)
}

// Trades ledger ordered by time, all symbols when symbol is empty.
func (s *Postgres) Trades(ctx context.Context, symbol domain.Symbol) ([]domain.Trade, error) {
	q := s.db.WithContext(ctx).Order("ts, id")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol.String())
	}
	var rows []tradeRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "query trades")
	}

	trades := make([]domain.Trade, 0, len(rows))
	for _, r := range rows {
		t, err := r.trade()
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// Close closes the pool.
func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
