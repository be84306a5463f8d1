package market

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

// Binance market data from the Binance spot REST API and websocket streams.
type Binance struct {
	client *binance.Client
	opts   Options
}

// NewBinance creates a Binance source.
func NewBinance(client *binance.Client, opts Options) *Binance {
	return &Binance{client: client, opts: opts.withDefaults()}
}

// FetchHistoricalCandles fetches up to limit closed candles.
func (b *Binance) FetchHistoricalCandles(ctx context.Context, symbol domain.Symbol, interval string, limit int) ([]domain.Candle, error) {
	dur, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	klines, err := b.client.NewKlinesService().
		Symbol(symbol.Exchange()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", symbol)
	}

	result := make([]domain.Candle, 0, len(klines))
	for i, k := range klines {
		c, err := parseOHLCV(symbol, dur, time.UnixMilli(k.OpenTime), k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, errors.Wrapf(err, "kline at index %d", i)
		}
		result = append(result, c)
	}

	// the last kline is usually still open
	return closedOnly(result, time.Now()), nil
}

// StreamCandles streams closed klines over the websocket.
func (b *Binance) StreamCandles(ctx context.Context, symbol domain.Symbol, interval string) (<-chan domain.Candle, error) {
	dur, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	logger := b.opts.Logger.With(zap.String("symbol", symbol.String()), zap.String("interval", interval))
	out := make(chan domain.Candle, streamBuffer)

	handler := func(e *binance.WsKlineEvent) {
		if e == nil || !e.Kline.IsFinal {
			return
		}
		k := e.Kline
		c, err := parseOHLCV(symbol, dur, time.UnixMilli(k.StartTime), k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			logger.Warn("malformed kline event", zap.Error(err))
			return
		}
		send(ctx, out, c)
	}
	errHandler := func(err error) {
		logger.Warn("kline stream error", zap.Error(err))
	}

	go func() {
		defer close(out)
		wsServe(ctx, logger, "kline", func() (chan struct{}, chan struct{}, error) {
			return binance.WsKlineServe(symbol.Exchange(), interval, handler, errHandler)
		})
	}()

	return out, nil
}

// StreamTicks streams aggregated trades over the websocket.
func (b *Binance) StreamTicks(ctx context.Context, symbol domain.Symbol) (<-chan domain.Tick, error) {
	logger := b.opts.Logger.With(zap.String("symbol", symbol.String()))
	out := make(chan domain.Tick, streamBuffer)

	handler := func(e *binance.WsAggTradeEvent) {
		if e == nil {
			return
		}
		price, err := decimal.NewFromString(e.Price)
		if err != nil {
			logger.Warn("malformed trade event", zap.Error(err))
			return
		}
		qty, _ := decimal.NewFromString(e.Quantity)
		tick := domain.Tick{Time: time.UnixMilli(e.TradeTime), Price: price, Volume: qty, Symbol: symbol}
		// drop rather than stall the websocket reader when the consumer is behind
		select {
		case out <- tick:
		default:
		}
	}
	errHandler := func(err error) {
		logger.Warn("trade stream error", zap.Error(err))
	}

	go func() {
		defer close(out)
		wsServe(ctx, logger, "aggTrade", func() (chan struct{}, chan struct{}, error) {
			return binance.WsAggTradeServe(symbol.Exchange(), handler, errHandler)
		})
	}()

	return out, nil
}
