package decisions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

func TestWALStore(t *testing.T) {
	dir := t.TempDir()
	store, err := NewWALStore(dir)
	require.NoError(t, err)

	assert.Error(t, store.Save(domain.DecisionEvent{}), "symbol is required")

	for i, sym := range []domain.Symbol{"BTC_USDT", "ETH_USDT", "BTC_USDT"} {
		require.NoError(t, store.Save(domain.DecisionEvent{
			CycleID:   string(rune('a' + i)),
			Timestamp: time.Now().UTC(),
			Symbol:    sym,
			Proposed:  "hold",
			Outcome:   domain.OutcomeHold,
		}))
	}
	assert.Equal(t, uint64(3), store.CurrentIndex())

	all, err := store.EventsAfter(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(1), all[0].Index)
	assert.Equal(t, domain.Symbol("ETH_USDT"), all[1].Event.Symbol)

	tail, err := store.EventsAfter(2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "c", tail[0].Event.CycleID)

	none, err := store.EventsAfter(3)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, store.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, uint64(3), reopened.CurrentIndex())
}
