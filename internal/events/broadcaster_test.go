package events

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster[int](2)
	a := b.Subscribe()
	c := b.Subscribe()

	b.Publish(1)
	b.Publish(2)
	// buffer full: dropped for both
	b.Publish(3)

	assert.Equal(t, 1, <-a)
	assert.Equal(t, 2, <-a)
	assert.Equal(t, 1, <-c)

	b.Unsubscribe(a)
	_, open := <-a
	assert.False(t, open)
	// second unsubscribe is a no-op
	b.Unsubscribe(a)

	b.Publish(4)
	assert.Equal(t, 2, <-c)
	assert.Equal(t, 4, <-c)
}

func TestNewCommitEvent(t *testing.T) {
	sym := domain.Symbol("BTC_USDT")
	trade := domain.Trade{ID: "t1", Symbol: sym, Side: domain.SideBuy,
		Price: decimal.NewFromInt(1000), Quantity: decimal.RequireFromString("0.5"), Fee: decimal.NewFromInt(1)}
	next := domain.NewPortfolio(decimal.NewFromInt(499))
	next.Positions[sym] = domain.Position{Symbol: sym, Quantity: decimal.RequireFromString("0.5"), AvgPrice: decimal.NewFromInt(1000)}

	ev := NewCommitEvent(trade, next, true)
	require.Equal(t, "t1", ev.TradeID)
	assert.Equal(t, "buy", ev.Side)
	assert.Equal(t, "499", ev.Cash)
	assert.Equal(t, "0.5", ev.Position)
	assert.True(t, ev.Persisted)
}
