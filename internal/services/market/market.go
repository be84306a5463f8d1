// Package market provides candle and tick sources backed by exchange APIs.
package market

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/pkg/retrier"
	"go.uber.org/zap"
)

const (
	streamBuffer        = 64
	defaultPollInterval = 5 * time.Second
)

// Options shared by every source.
type Options struct {
	// PollInterval how often polled streams query the exchange.
	PollInterval time.Duration
	Logger       *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// ParseInterval converts "1m", "15m", "4h", "1d", "1w" into a duration.
func ParseInterval(interval string) (time.Duration, error) {
	if len(interval) < 2 {
		return 0, errors.Errorf("invalid interval format: %q", interval)
	}
	unit := interval[len(interval)-1]
	n, err := strconv.ParseInt(interval[:len(interval)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.Errorf("invalid interval number: %q", interval)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, errors.Errorf("unsupported interval unit: %c", unit)
	}
}

// parseOHLCV parses exchange string fields into a candle.
func parseOHLCV(symbol domain.Symbol, interval time.Duration, openTime time.Time, open, high, low, closeP, volume string) (domain.Candle, error) {
	fields := []string{open, high, low, closeP, volume}
	values := make([]decimal.Decimal, len(fields))
	names := []string{"open", "high", "low", "close", "volume"}
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			return domain.Candle{}, errors.Wrapf(err, "failed to parse %s %q", names[i], f)
		}
		values[i] = v
	}

	return domain.Candle{
		OpenTime: openTime,
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
		Symbol:   symbol,
		Interval: interval,
	}, nil
}

// closedOnly drops candles whose interval has not finished yet.
func closedOnly(candles []domain.Candle, now time.Time) []domain.Candle {
	out := candles[:0:0]
	for _, c := range candles {
		if !c.CloseTime().After(now) {
			out = append(out, c)
		}
	}
	return out
}

func send[T any](ctx context.Context, out chan<- T, v T) bool {
	select {
	case out <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

// pollCandles emits closed candles newer than the last emitted one until ctx ends.
func pollCandles(ctx context.Context, logger *zap.Logger, every time.Duration, fetch func(ctx context.Context) ([]domain.Candle, error), out chan<- domain.Candle) {
	defer close(out)

	var last time.Time
	poll := func() bool {
		candles, err := fetch(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("candle poll failed", zap.Error(err))
			}
			return true
		}
		for _, c := range closedOnly(candles, time.Now()) {
			if !c.OpenTime.After(last) {
				continue
			}
			if !send(ctx, out, c) {
				return false
			}
			last = c.OpenTime
		}
		return true
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	if !poll() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !poll() {
				return
			}
		}
	}
}

// pollTicks emits a tick per successful price poll until ctx ends.
func pollTicks(ctx context.Context, logger *zap.Logger, symbol domain.Symbol, every time.Duration, price func(ctx context.Context) (decimal.Decimal, error), out chan<- domain.Tick) {
	defer close(out)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		p, err := price(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				logger.Warn("price poll failed", zap.Error(err))
			}
		default:
			if !send(ctx, out, domain.Tick{Time: time.Now(), Price: p, Symbol: symbol}) {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// wsServe keeps a websocket subscription alive until ctx ends, reconnecting with backoff.
// connect must return the SDK's done and stop channels.
func wsServe(ctx context.Context, logger *zap.Logger, name string, connect func() (doneC, stopC chan struct{}, err error)) {
	r := retrier.New(
		retrier.WithMaxRetries(-1),
		retrier.WithMaxInterval(time.Minute),
		retrier.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			logger.Warn("websocket connect failed, retrying",
				zap.String("stream", name),
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	for ctx.Err() == nil {
		var doneC, stopC chan struct{}
		err := r.Do(ctx, func(context.Context) error {
			var err error
			doneC, stopC, err = connect()
			return err
		})
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
			logger.Warn("websocket disconnected, reconnecting", zap.String("stream", name))
		}
	}
}
