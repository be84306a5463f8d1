// Package technical maintains per-symbol candle windows and derives indicator signals from them.
package technical

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/pkg/indicators"
	"go.uber.org/zap"
)

// ErrInvalidCandle returned when a candle fails validation.
var ErrInvalidCandle = errors.New("invalid candle")

// Config indicator periods and window size.
type Config struct {
	RSIPeriod       int
	EMAShortPeriod  int
	EMALongPeriod   int
	BollingerPeriod int
	// MaxCandles window kept per symbol, oldest evicted first.
	MaxCandles int
}

// DefaultConfig RSI(14), EMA(12/26), Bollinger(20), 500 candles.
func DefaultConfig() Config {
	return Config{
		RSIPeriod:       14,
		EMAShortPeriod:  12,
		EMALongPeriod:   26,
		BollingerPeriod: 20,
		MaxCandles:      500,
	}
}

type series struct {
	// ordered by OpenTime, unique per OpenTime
	candles []domain.Candle
	signals domain.TechnicalSignals
}

// Analyzer technical analyzer keyed by symbol. Safe for concurrent use.
type Analyzer struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	series map[domain.Symbol]*series
}

// NewAnalyzer creates an analyzer. Zero config fields fall back to defaults.
func NewAnalyzer(cfg Config, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = def.RSIPeriod
	}
	if cfg.EMAShortPeriod <= 0 {
		cfg.EMAShortPeriod = def.EMAShortPeriod
	}
	if cfg.EMALongPeriod <= 0 {
		cfg.EMALongPeriod = def.EMALongPeriod
	}
	if cfg.BollingerPeriod <= 0 {
		cfg.BollingerPeriod = def.BollingerPeriod
	}
	if cfg.MaxCandles <= 0 {
		cfg.MaxCandles = def.MaxCandles
	}

	return &Analyzer{
		cfg:    cfg,
		logger: logger,
		series: make(map[domain.Symbol]*series),
	}
}

// Update folds a candle into the symbol's window. A candle with a known open time
// replaces the stored one; an identical candle changes nothing.
func (a *Analyzer) Update(_ context.Context, c domain.Candle) error {
	if err := c.Validate(); err != nil {
		return errors.Wrap(ErrInvalidCandle, err.Error())
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.series[c.Symbol]
	if !ok {
		s = &series{}
		a.series[c.Symbol] = s
	}

	idx := sort.Search(len(s.candles), func(i int) bool {
		return !s.candles[i].OpenTime.Before(c.OpenTime)
	})

	switch {
	case idx < len(s.candles) && s.candles[idx].OpenTime.Equal(c.OpenTime):
		if s.candles[idx].Equal(c) {
			return nil
		}
		s.candles[idx] = c
	case idx == 0 && len(s.candles) >= a.cfg.MaxCandles:
		// older than the whole full window, would be evicted right away
		a.logger.Debug("dropping stale candle",
			zap.String("symbol", c.Symbol.String()),
			zap.Time("open_time", c.OpenTime))
		return nil
	default:
		if idx < len(s.candles) {
			a.logger.Debug("out of order candle",
				zap.String("symbol", c.Symbol.String()),
				zap.Time("open_time", c.OpenTime))
		}
		s.candles = append(s.candles, domain.Candle{})
		copy(s.candles[idx+1:], s.candles[idx:])
		s.candles[idx] = c
		if over := len(s.candles) - a.cfg.MaxCandles; over > 0 {
			s.candles = append(s.candles[:0:0], s.candles[over:]...)
		}
	}

	s.signals = a.compute(s.candles)
	return nil
}

// CurrentSignals returns the cached signals for a symbol. Unknown symbols have no signals yet.
func (a *Analyzer) CurrentSignals(_ context.Context, symbol domain.Symbol) (domain.TechnicalSignals, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[symbol]
	if !ok {
		return domain.TechnicalSignals{}, nil
	}
	return s.signals, nil
}

// Candles returns a copy of the symbol's window.
func (a *Analyzer) Candles(symbol domain.Symbol) []domain.Candle {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.series[symbol]
	if !ok {
		return nil
	}
	out := make([]domain.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func (a *Analyzer) compute(candles []domain.Candle) domain.TechnicalSignals {
	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	var out domain.TechnicalSignals

	if rsi, err := indicators.CalculateRSI(closes, a.cfg.RSIPeriod); err == nil {
		out.RSI = last(rsi)
	}
	if ema, err := indicators.CalculateEMA(closes, a.cfg.EMAShortPeriod); err == nil {
		out.EMAShort = last(ema)
	}
	if ema, err := indicators.CalculateEMA(closes, a.cfg.EMALongPeriod); err == nil {
		out.EMALong = last(ema)
	}
	if bands, err := indicators.CalculateBollinger(closes, a.cfg.BollingerPeriod); err == nil {
		out.BollingerUpper = last(bands.Upper)
		out.BollingerMiddle = last(bands.Middle)
		out.BollingerLower = last(bands.Lower)
	}

	return out
}

func last(series []decimal.Decimal) *decimal.Decimal {
	v, ok := indicators.Last(series)
	if !ok {
		return nil
	}
	return &v
}
