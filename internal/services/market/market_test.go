package market

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"1m", time.Minute, false},
		{"15m", 15 * time.Minute, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"", 0, true},
		{"m", 0, true},
		{"0m", 0, true},
		{"5x", 0, true},
		{"abcm", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestConvertIntervalToBybit(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		expected  string
		shouldErr bool
	}{
		{"1 minute", "1m", "1", false},
		{"15 minutes", "15m", "15", false},
		{"1 hour", "1h", "60", false},
		{"4 hours", "4h", "240", false},
		{"1 day", "1d", "D", false},
		{"1 week", "1w", "W", false},
		{"empty", "", "", true},
		{"bad unit", "1y", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertIntervalToBybit(tt.input)
			if tt.shouldErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("1700000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ts.UnixMilli())

	_, err = parseTimestamp("")
	assert.Error(t, err)
}

func candleAt(open time.Time, interval time.Duration) domain.Candle {
	c, _ := parseOHLCV("BTC_USDT", interval, open, "10", "11", "9", "10.5", "1")
	return c
}

func TestClosedOnly(t *testing.T) {
	now := time.Now().Truncate(time.Minute)
	candles := []domain.Candle{
		candleAt(now.Add(-2*time.Minute), time.Minute),
		candleAt(now.Add(-time.Minute), time.Minute),
		candleAt(now, time.Minute),
	}

	closed := closedOnly(candles, now)
	assert.Len(t, closed, 2)
	assert.Len(t, candles, 3)
}

func TestPollCandles_EmitsEachClosedCandleOnce(t *testing.T) {
	base := time.Now().Add(-time.Hour).Truncate(time.Minute)

	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]domain.Candle, error) {
		n := calls.Add(1)
		if n == 2 {
			return nil, errors.New("exchange unavailable")
		}
		// every poll returns an overlapping window that grows by one candle
		var out []domain.Candle
		for i := int32(0); i < n+1; i++ {
			out = append(out, candleAt(base.Add(time.Duration(i)*time.Minute), time.Minute))
		}
		return out, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan domain.Candle, 16)
	go pollCandles(ctx, zap.NewNop(), time.Millisecond, fetch, out)

	var got []time.Time
	for len(got) < 5 {
		select {
		case c := <-out:
			got = append(got, c.OpenTime)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for candles")
		}
	}
	cancel()

	for i, ts := range got {
		assert.True(t, ts.Equal(base.Add(time.Duration(i)*time.Minute)), "candle %d at %s", i, ts)
	}

	// channel is closed after cancellation
	for range out {
	}
}

func TestPollTicks_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan domain.Tick, 4)

	go pollTicks(ctx, zap.NewNop(), "BTC_USDT", time.Millisecond, func(context.Context) (decimal.Decimal, error) {
		return decimal.NewFromInt(100), nil
	}, out)

	tick := <-out
	assert.True(t, tick.Price.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, domain.Symbol("BTC_USDT"), tick.Symbol)

	cancel()
	for range out {
	}
}
