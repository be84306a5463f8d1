package market

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

// Hyperliquid market data from the Hyperliquid public Info API. Streams are polled.
// Hyperliquid quotes are keyed by the base coin only.
type Hyperliquid struct {
	info *hyperliquid.Info
	opts Options
}

// NewHyperliquid creates a Hyperliquid source.
func NewHyperliquid(info *hyperliquid.Info, opts Options) *Hyperliquid {
	return &Hyperliquid{info: info, opts: opts.withDefaults()}
}

// FetchHistoricalCandles fetches up to limit closed candles, oldest first.
func (h *Hyperliquid) FetchHistoricalCandles(ctx context.Context, symbol domain.Symbol, interval string, limit int) ([]domain.Candle, error) {
	if h.info == nil {
		return nil, errors.New("hyperliquid info is nil")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	dur, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	endMs := time.Now().UnixMilli()
	// two extra candles of slack for rounding at both ends
	startMs := endMs - (int64(limit)+2)*dur.Milliseconds()
	coin := strings.ToUpper(symbol.Base())

	raw, err := h.info.CandlesSnapshot(ctx, coin, interval, startMs, endMs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch candles from Hyperliquid for %s", coin)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for i, c := range raw {
		candle, err := parseOHLCV(symbol, dur, time.UnixMilli(c.TimeOpen), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "candle at index %d", i)
		}
		candles = append(candles, candle)
	}

	candles = closedOnly(candles, time.Now())
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

// StreamCandles polls recent candles and emits each newly closed one.
func (h *Hyperliquid) StreamCandles(ctx context.Context, symbol domain.Symbol, interval string) (<-chan domain.Candle, error) {
	if _, err := ParseInterval(interval); err != nil {
		return nil, err
	}

	out := make(chan domain.Candle, streamBuffer)
	logger := h.opts.Logger.With(zap.String("symbol", symbol.String()), zap.String("interval", interval))
	go pollCandles(ctx, logger, h.opts.PollInterval, func(ctx context.Context) ([]domain.Candle, error) {
		return h.FetchHistoricalCandles(ctx, symbol, interval, 3)
	}, out)

	return out, nil
}

// StreamTicks polls the mid price.
func (h *Hyperliquid) StreamTicks(ctx context.Context, symbol domain.Symbol) (<-chan domain.Tick, error) {
	out := make(chan domain.Tick, streamBuffer)
	logger := h.opts.Logger.With(zap.String("symbol", symbol.String()))
	go pollTicks(ctx, logger, symbol, h.opts.PollInterval, func(ctx context.Context) (decimal.Decimal, error) {
		return h.MidPrice(ctx, symbol)
	}, out)

	return out, nil
}

// MidPrice returns the current mid price for the symbol's base coin.
func (h *Hyperliquid) MidPrice(ctx context.Context, symbol domain.Symbol) (decimal.Decimal, error) {
	if h.info == nil {
		return decimal.Zero, errors.New("hyperliquid info client is nil")
	}

	mids, err := h.info.AllMids(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	mid, ok := mids[symbol.Base()]
	if !ok || mid == "" {
		return decimal.Zero, errors.Errorf("hyperliquid API returned empty mid price for %s", symbol.Base())
	}
	return decimal.NewFromString(mid)
}
