package market

import (
	"context"
	"fmt"
	"sort"
	"time"

	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

const bybitMaxPerRequest = 200

// Bybit market data from the Bybit V5 spot REST API. Streams are polled.
type Bybit struct {
	client *bybit.Client
	opts   Options
}

// NewBybit creates a Bybit source.
func NewBybit(client *bybit.Client, opts Options) *Bybit {
	return &Bybit{client: client, opts: opts.withDefaults()}
}

// FetchHistoricalCandles fetches up to limit closed candles, oldest first.
func (b *Bybit) FetchHistoricalCandles(ctx context.Context, symbol domain.Symbol, interval string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	if limit > bybitMaxPerRequest {
		limit = bybitMaxPerRequest
	}

	dur, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	bybitInterval, err := convertIntervalToBybit(interval)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid interval: %s", interval)
	}

	result, err := b.client.V5().Market().GetKline(bybit.V5GetKlineParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   bybit.SymbolV5(symbol.Exchange()),
		Interval: bybit.Interval(bybitInterval),
		Limit:    &limit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Bybit for %s", symbol)
	}
	if result == nil {
		return nil, errors.Errorf("empty result from Bybit API for %s", symbol)
	}

	candles := make([]domain.Candle, 0, len(result.Result.List))
	for i, k := range result.Result.List {
		openTime, err := parseTimestamp(k.StartTime)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse start time at index %d", i)
		}
		c, err := parseOHLCV(symbol, dur, openTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "kline at index %d", i)
		}
		candles = append(candles, c)
	}

	// bybit lists newest first
	sort.Slice(candles, func(i, j int) bool { return candles[i].OpenTime.Before(candles[j].OpenTime) })

	return closedOnly(candles, time.Now()), nil
}

// StreamCandles polls recent klines and emits each newly closed one.
func (b *Bybit) StreamCandles(ctx context.Context, symbol domain.Symbol, interval string) (<-chan domain.Candle, error) {
	if _, err := convertIntervalToBybit(interval); err != nil {
		return nil, err
	}

	out := make(chan domain.Candle, streamBuffer)
	logger := b.opts.Logger.With(zap.String("symbol", symbol.String()), zap.String("interval", interval))
	go pollCandles(ctx, logger, b.opts.PollInterval, func(ctx context.Context) ([]domain.Candle, error) {
		return b.FetchHistoricalCandles(ctx, symbol, interval, 3)
	}, out)

	return out, nil
}

// StreamTicks polls the last traded price.
func (b *Bybit) StreamTicks(ctx context.Context, symbol domain.Symbol) (<-chan domain.Tick, error) {
	out := make(chan domain.Tick, streamBuffer)
	logger := b.opts.Logger.With(zap.String("symbol", symbol.String()))
	go pollTicks(ctx, logger, symbol, b.opts.PollInterval, func(ctx context.Context) (decimal.Decimal, error) {
		return b.LastPrice(ctx, symbol)
	}, out)

	return out, nil
}

// LastPrice returns the last traded spot price.
func (b *Bybit) LastPrice(_ context.Context, symbol domain.Symbol) (decimal.Decimal, error) {
	s := bybit.SymbolV5(symbol.Exchange())

	result, err := b.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: bybit.CategoryV5Spot,
		Symbol:   &s,
	})
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to fetch ticker for %s", symbol)
	}
	if len(result.Result.Spot.List) == 0 {
		return decimal.Zero, errors.Errorf("bybit API returned empty prices for %s", symbol)
	}

	return decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
}

// convertIntervalToBybit converts "1m", "1h", "1d", "1w" into Bybit's "1", "60", "D", "W".
func convertIntervalToBybit(interval string) (string, error) {
	dur, err := ParseInterval(interval)
	if err != nil {
		return "", err
	}

	switch interval[len(interval)-1] {
	case 'm', 'h':
		return fmt.Sprintf("%d", int64(dur/time.Minute)), nil
	case 'd':
		return "D", nil
	case 'w':
		return "W", nil
	default:
		return "", errors.Errorf("unsupported interval: %s", interval)
	}
}

// parseTimestamp converts Bybit timestamp string (milliseconds) to time.Time.
func parseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}

	var msec int64
	if _, err := fmt.Sscanf(ts, "%d", &msec); err != nil {
		return time.Time{}, errors.Wrapf(err, "failed to parse timestamp: %s", ts)
	}

	return time.UnixMilli(msec), nil
}
