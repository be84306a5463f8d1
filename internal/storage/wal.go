package storage

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	walSegmentLimit = 1000
	// ledger segments are never rotated away
	walMaxSegments = 1 << 16

	walTradeKeyPrefix = "trade_"
	walPortfolioKey   = "portfolio"
)

// WAL store on gowal. The ledger and latest snapshot are rebuilt in memory on open.
type WAL struct {
	mu        sync.RWMutex
	wal       *gowal.Wal
	trades    []domain.Trade
	seen      map[string]struct{}
	portfolio *domain.Portfolio
}

// NewWAL opens the log under dir and replays it.
func NewWAL(dir string) (*WAL, error) {
	if dir == "" {
		return nil, errors.New("wal store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create ledger dir")
	}
	w, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: walSegmentLimit,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &WAL{wal: w, seen: make(map[string]struct{})}
	for msg := range w.Iterator() {
		switch {
		case msg.Key == walPortfolioKey:
			p, err := decodePortfolio(msg.Value)
			if err != nil {
				w.Close()
				return nil, err
			}
			s.portfolio = &p
		case strings.HasPrefix(msg.Key, walTradeKeyPrefix):
			var t domain.Trade
			if err := json.Unmarshal(msg.Value, &t); err != nil {
				w.Close()
				return nil, errors.Wrapf(err, "decode trade %s", msg.Key)
			}
			if _, ok := s.seen[t.ID]; ok {
				continue
			}
			s.seen[t.ID] = struct{}{}
			s.trades = append(s.trades, t)
		}
	}
	return s, nil
}

// Load returns the latest snapshot, false when none has been saved.
func (s *WAL) Load(context.Context) (domain.Portfolio, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.portfolio == nil {
		return domain.Portfolio{}, false, nil
	}
	return s.portfolio.Clone(), true, nil
}

// Save appends a snapshot.
func (s *WAL) Save(_ context.Context, p domain.Portfolio) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "encode portfolio")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.wal.Write(s.wal.CurrentIndex()+1, walPortfolioKey, payload); err != nil {
		return errors.Wrap(err, "write portfolio")
	}
	c := p.Clone()
	s.portfolio = &c
	return nil
}

// RecordTrade appends the trade unless its ID is already recorded.
func (s *WAL) RecordTrade(_ context.Context, t domain.Trade) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "encode trade")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[t.ID]; ok {
		return nil
	}
	if err := s.wal.Write(s.wal.CurrentIndex()+1, walTradeKeyPrefix+t.ID, payload); err != nil {
		return errors.Wrapf(err, "write trade %s", t.ID)
	}
	s.seen[t.ID] = struct{}{}
	s.trades = append(s.trades, t)
	return nil
}

// Trades ledger in insertion order, all symbols when symbol is empty.
func (s *WAL) Trades(_ context.Context, symbol domain.Symbol) ([]domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		if symbol == "" || t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

// Close closes the log.
func (s *WAL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wal.Close()
}
