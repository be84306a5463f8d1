package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandle_Validate(t *testing.T) {
	base := Candle{
		OpenTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:     d("10"),
		High:     d("12"),
		Low:      d("9"),
		Close:    d("11"),
		Volume:   d("100"),
		Symbol:   "BTC_USDT",
		Interval: time.Minute,
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Candle)
	}{
		{"zero time", func(c *Candle) { c.OpenTime = time.Time{} }},
		{"no symbol", func(c *Candle) { c.Symbol = "" }},
		{"negative low", func(c *Candle) { c.Low = d("-1") }},
		{"high below low", func(c *Candle) { c.High = d("8") }},
		{"close above high", func(c *Candle) { c.Close = d("13") }},
		{"negative volume", func(c *Candle) { c.Volume = d("-1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			assert.ErrorIs(t, c.Validate(), ErrMalformedData)
		})
	}

	assert.Equal(t, base.OpenTime.Add(time.Minute), base.CloseTime())
}

func TestParseSymbol(t *testing.T) {
	s, err := ParseSymbol(" btc_usdt ")
	require.NoError(t, err)
	assert.Equal(t, Symbol("BTC_USDT"), s)
	assert.Equal(t, "BTC", s.Base())
	assert.Equal(t, "USDT", s.Quote())
	assert.Equal(t, "BTCUSDT", s.Exchange())

	for _, bad := range []string{"", "BTCUSDT", "BTC_", "_USDT", "A_B_C"} {
		_, err := ParseSymbol(bad)
		assert.Error(t, err, bad)
	}
}

func TestSentimentClamp(t *testing.T) {
	assert.Equal(t, 1.0, NewSentimentSignals(3).Score)
	assert.Equal(t, -1.0, NewSentimentSignals(-7).Score)
	assert.Equal(t, 0.25, NewSentimentSignals(0.25).Score)
}
