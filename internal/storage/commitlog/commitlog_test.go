package commitlog

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

func trade(id string) domain.Trade {
	return domain.Trade{
		ID: id, Symbol: "BTC_USDT", Side: domain.SideBuy,
		Price: decimal.NewFromInt(1000), Quantity: decimal.RequireFromString("0.5"), Fee: decimal.NewFromInt(1),
		Time: time.Now().UTC(),
	}
}

func TestJournal(t *testing.T) {
	dir := t.TempDir()

	j, err := Open(dir)
	require.NoError(t, err)
	assert.Empty(t, j.Pending())

	p1 := domain.NewPortfolio(decimal.NewFromInt(499))
	p2 := domain.NewPortfolio(decimal.NewFromInt(300))
	require.NoError(t, j.Prepare(trade("a"), p1))
	require.NoError(t, j.Prepare(trade("b"), p2))
	require.NoError(t, j.Prepare(trade("c"), p2))
	require.NoError(t, j.Resolve("b"))
	// resolving twice is a no-op
	require.NoError(t, j.Resolve("b"))

	pending := j.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].TradeID)
	assert.Equal(t, "c", pending[1].TradeID)
	require.NoError(t, j.Close())

	t.Run("replay keeps unresolved entries in order", func(t *testing.T) {
		j, err := Open(dir)
		require.NoError(t, err)
		defer j.Close()

		pending := j.Pending()
		require.Len(t, pending, 2)
		assert.Equal(t, "a", pending[0].TradeID)
		assert.True(t, pending[0].Next.Cash.Equal(decimal.NewFromInt(499)))
		assert.True(t, pending[0].Trade.Quantity.Equal(decimal.RequireFromString("0.5")))
		assert.Equal(t, "c", pending[1].TradeID)

		require.NoError(t, j.Resolve("a"))
		require.NoError(t, j.Resolve("c"))
		assert.Empty(t, j.Pending())
	})

	t.Run("all resolved after second replay", func(t *testing.T) {
		j, err := Open(dir)
		require.NoError(t, err)
		defer j.Close()
		assert.Empty(t, j.Pending())
	})
}
