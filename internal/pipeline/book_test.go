package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/events"
	"github.com/vadiminshakov/aitrader/internal/storage/commitlog"
	"github.com/vadiminshakov/aitrader/pkg/retrier"
)

func fastRetry(retries int) []retrier.Option {
	return []retrier.Option{
		retrier.WithInitialInterval(time.Millisecond),
		retrier.WithMaxInterval(time.Millisecond),
		retrier.WithMaxRetries(retries),
	}
}

func buyTrade(id string, sym domain.Symbol, qty, price, fee string) domain.Trade {
	return domain.Trade{
		ID: id, OrderID: "order-" + id, Symbol: sym, Side: domain.SideBuy,
		Price: dec(price), Quantity: dec(qty), Fee: dec(fee), Time: time.Now().UTC(),
	}
}

func TestBook_CommitBuyScenario(t *testing.T) {
	store := newMemStore()
	commits := events.NewBroadcaster[events.CommitEvent](4)
	sub := commits.Subscribe()
	book := NewBook(domain.NewPortfolio(dec("1000")), store, BookOptions{Commits: commits})

	res, err := book.Commit(context.Background(), buyTrade("t1", btc, "0.5", "1000", "1"))
	require.NoError(t, err)
	assert.True(t, res.Persisted)

	snap := book.Snapshot()
	assert.True(t, snap.Cash.Equal(dec("499")), snap.Cash.String())
	pos := snap.Position(btc)
	assert.True(t, pos.Quantity.Equal(dec("0.5")))
	assert.True(t, pos.AvgPrice.Equal(dec("1000")))

	trades, _ := store.Trades(context.Background(), "")
	require.Len(t, trades, 1)
	saved, ok := store.saved()
	require.True(t, ok)
	assert.True(t, saved.Equal(snap))

	ev := <-sub
	assert.Equal(t, "t1", ev.TradeID)
	assert.Equal(t, "499", ev.Cash)
	assert.True(t, ev.Persisted)
}

func TestBook_CommitRejected(t *testing.T) {
	store := newMemStore()
	book := NewBook(domain.NewPortfolio(dec("100")), store, BookOptions{})

	tests := []struct {
		name  string
		trade domain.Trade
		err   error
	}{
		{"buy beyond cash", buyTrade("t1", btc, "1", "100", "0.01"), domain.ErrInsufficientCash},
		{
			"sell without position",
			domain.Trade{ID: "t2", Symbol: btc, Side: domain.SideSell, Price: dec("10"), Quantity: dec("1")},
			domain.ErrInsufficientPosition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := book.Commit(context.Background(), tt.trade)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, book.Snapshot().Equal(domain.NewPortfolio(dec("100"))))
			records, saves := store.calls()
			assert.Zero(t, records)
			assert.Zero(t, saves)
		})
	}
}

func TestBook_ConcurrentCommitsNeverOverdraw(t *testing.T) {
	store := newMemStore()
	book := NewBook(domain.NewPortfolio(dec("1000")), store, BookOptions{})

	var (
		wg        sync.WaitGroup
		committed atomic.Int32
		negative  atomic.Bool
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sym := btc
			if i%2 == 1 {
				sym = eth
			}
			if _, err := book.Commit(context.Background(), buyTrade(fmt.Sprintf("t%d", i), sym, "3", "100", "0")); err == nil {
				committed.Add(1)
			}
			if book.Snapshot().Cash.IsNegative() {
				negative.Store(true)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), committed.Load())
	assert.False(t, negative.Load())
	assert.True(t, book.Snapshot().Cash.Equal(dec("100")))

	trades, _ := store.Trades(context.Background(), "")
	assert.Len(t, trades, 3)
}

func TestBook_PersistenceRetries(t *testing.T) {
	tests := []struct {
		name        string
		failRecords int
		failSaves   int
	}{
		{"record fails once", 1, 0},
		{"save fails once after record", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			store.failRecords = tt.failRecords
			store.failSaves = tt.failSaves
			book := NewBook(domain.NewPortfolio(dec("1000")), store, BookOptions{Retry: fastRetry(3)})

			res, err := book.Commit(context.Background(), buyTrade("t1", btc, "0.5", "1000", "1"))
			require.NoError(t, err)
			assert.True(t, res.Persisted)

			trades, _ := store.Trades(context.Background(), "")
			assert.Len(t, trades, 1, "exactly one trade record")
			assert.Empty(t, book.Pending())
			saved, ok := store.saved()
			require.True(t, ok)
			assert.True(t, saved.Cash.Equal(dec("499")))
		})
	}
}

func TestBook_EscalationAndReconcile(t *testing.T) {
	store := newMemStore()
	store.failRecords = 1000

	var alerted atomic.Int32
	book := NewBook(domain.NewPortfolio(dec("1000")), store, BookOptions{
		Retry: fastRetry(1),
		Alert: func(context.Context, domain.Trade, error) { alerted.Add(1) },
	})

	res, err := book.Commit(context.Background(), buyTrade("t1", btc, "0.5", "1000", "1"))
	require.NoError(t, err, "the fill is real and must be applied")
	assert.False(t, res.Persisted)
	assert.Equal(t, int32(1), alerted.Load())
	assert.True(t, book.Snapshot().Cash.Equal(dec("499")))
	require.Len(t, book.Pending(), 1)

	// still failing: reconcile keeps the entry
	assert.Error(t, book.Reconcile(context.Background()))
	require.Len(t, book.Pending(), 1)

	store.mu.Lock()
	store.failRecords = 0
	store.mu.Unlock()

	require.NoError(t, book.Reconcile(context.Background()))
	assert.Empty(t, book.Pending())
	trades, _ := store.Trades(context.Background(), "")
	assert.Len(t, trades, 1)
	saved, ok := store.saved()
	require.True(t, ok)
	assert.True(t, saved.Equal(book.Snapshot()))
}

// failingJournal rejects every write, so nothing ever becomes pending.
type failingJournal struct{}

func (failingJournal) Prepare(domain.Trade, domain.Portfolio) error { return errors.New("disk full") }
func (failingJournal) Resolve(string) error { return nil }
func (failingJournal) Pending() []commitlog.Entry { return nil }

func TestBook_UnjournaledCommitReconciled(t *testing.T) {
	store := newMemStore()
	store.failRecords = 1000
	book := NewBook(domain.NewPortfolio(dec("1000")), store, BookOptions{
		Journal: failingJournal{},
		Retry:   fastRetry(1),
	})

	res, err := book.Commit(context.Background(), buyTrade("t1", btc, "0.5", "1000", "1"))
	require.NoError(t, err)
	require.False(t, res.Persisted)
	assert.True(t, book.Snapshot().Cash.Equal(dec("499")))

	store.mu.Lock()
	store.failRecords = 0
	store.mu.Unlock()

	require.NoError(t, book.Reconcile(context.Background()))
	trades, _ := store.Trades(context.Background(), "")
	require.Len(t, trades, 1)
	assert.Equal(t, "t1", trades[0].ID)
	saved, ok := store.saved()
	require.True(t, ok)
	assert.True(t, saved.Equal(book.Snapshot()))

	// flushed once, nothing left to reconcile
	records, _ := store.calls()
	require.NoError(t, book.Reconcile(context.Background()))
	again, _ := store.calls()
	assert.Equal(t, records, again)
}

func TestBook_UnjournaledCommitFlushedByLaterCommit(t *testing.T) {
	store := newMemStore()
	store.failRecords = 2
	book := NewBook(domain.NewPortfolio(dec("1000")), store, BookOptions{
		Journal: failingJournal{},
		Retry:   fastRetry(1),
	})

	res, err := book.Commit(context.Background(), buyTrade("t1", btc, "0.1", "1000", "0"))
	require.NoError(t, err)
	require.False(t, res.Persisted)

	res, err = book.Commit(context.Background(), buyTrade("t2", eth, "1", "100", "0"))
	require.NoError(t, err)
	require.True(t, res.Persisted)

	trades, _ := store.Trades(context.Background(), "")
	require.Len(t, trades, 2)
	assert.Equal(t, "t1", trades[0].ID)
	assert.Equal(t, "t2", trades[1].ID)
}

func TestBook_LaterCommitFlushesPending(t *testing.T) {
	store := newMemStore()
	store.failRecords = 2
	book := NewBook(domain.NewPortfolio(dec("1000")), store, BookOptions{Retry: fastRetry(1)})

	res, err := book.Commit(context.Background(), buyTrade("t1", btc, "0.1", "1000", "0"))
	require.NoError(t, err)
	require.False(t, res.Persisted)

	res, err = book.Commit(context.Background(), buyTrade("t2", eth, "1", "100", "0"))
	require.NoError(t, err)
	require.True(t, res.Persisted)

	trades, _ := store.Trades(context.Background(), "")
	require.Len(t, trades, 2)
	assert.Equal(t, "t1", trades[0].ID)
	assert.Equal(t, "t2", trades[1].ID)
	assert.Empty(t, book.Pending())
	saved, _ := store.saved()
	assert.True(t, saved.Cash.Equal(dec("800")))
}

func TestBook_RecoverReplaysJournal(t *testing.T) {
	dir := t.TempDir()
	journal, err := commitlog.Open(dir)
	require.NoError(t, err)

	broken := newMemStore()
	broken.failRecords = 1000
	book := NewBook(domain.NewPortfolio(dec("1000")), broken, BookOptions{Journal: journal, Retry: fastRetry(0)})
	res, err := book.Commit(context.Background(), buyTrade("t1", btc, "0.5", "1000", "1"))
	require.NoError(t, err)
	require.False(t, res.Persisted)
	require.NoError(t, journal.Close())

	// restart with a healthy store holding the pre-crash snapshot
	journal, err = commitlog.Open(dir)
	require.NoError(t, err)
	defer journal.Close()
	store := newMemStore()
	require.NoError(t, store.Save(context.Background(), domain.NewPortfolio(dec("1000"))))

	restarted := NewBook(domain.NewPortfolio(dec("1")), store, BookOptions{Journal: journal})
	require.NoError(t, restarted.Recover(context.Background()))

	snap := restarted.Snapshot()
	assert.True(t, snap.Cash.Equal(dec("499")), snap.Cash.String())
	assert.True(t, snap.Position(btc).Quantity.Equal(dec("0.5")))
	trades, _ := store.Trades(context.Background(), "")
	assert.Len(t, trades, 1)
	assert.Empty(t, journal.Pending())
}

func TestBook_RecoverLoadsStore(t *testing.T) {
	store := newMemStore()
	book := NewBook(domain.NewPortfolio(dec("1000")), store, BookOptions{})
	require.NoError(t, book.Recover(context.Background()))
	assert.True(t, book.Snapshot().Cash.Equal(dec("1000")), "initial portfolio when nothing stored")
	_, saves := store.calls()
	assert.Zero(t, saves)

	require.NoError(t, store.Save(context.Background(), domain.NewPortfolio(dec("42"))))
	require.NoError(t, book.Recover(context.Background()))
	assert.True(t, book.Snapshot().Cash.Equal(dec("42")))
}

func TestBook_Reservations(t *testing.T) {
	book := NewBook(domain.NewPortfolio(dec("1000")), newMemStore(), BookOptions{})

	require.NoError(t, book.Reserve("a", dec("800")))
	assert.ErrorIs(t, book.Reserve("b", dec("300")), ErrReservation)
	assert.ErrorIs(t, book.Reserve("a", dec("1")), ErrReservation, "duplicate order id")
	assert.ErrorIs(t, book.Reserve("c", dec("0")), ErrReservation)
	assert.True(t, book.Available().Equal(dec("200")))

	book.Release("a")
	book.Release("unknown")
	require.NoError(t, book.Reserve("b", dec("300")))

	// committing the reserved order frees its earmark
	_, err := book.Commit(context.Background(), domain.Trade{
		ID: "t", OrderID: "b", Symbol: btc, Side: domain.SideBuy,
		Price: dec("100"), Quantity: dec("3"), Fee: dec("0"),
	})
	require.NoError(t, err)
	assert.True(t, book.Available().Equal(dec("700")))
}

func TestBook_SnapshotIsDeepCopy(t *testing.T) {
	book := NewBook(domain.NewPortfolio(dec("1000")), newMemStore(), BookOptions{})
	_, err := book.Commit(context.Background(), buyTrade("t1", btc, "1", "100", "0"))
	require.NoError(t, err)

	snap := book.Snapshot()
	delete(snap.Positions, btc)
	snap.Cash = dec("0")

	again := book.Snapshot()
	assert.True(t, again.Cash.Equal(dec("900")))
	assert.False(t, again.Position(btc).IsFlat())
}
