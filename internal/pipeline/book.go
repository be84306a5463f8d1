package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/events"
	"github.com/vadiminshakov/aitrader/internal/storage/commitlog"
	"github.com/vadiminshakov/aitrader/pkg/retrier"
	"go.uber.org/zap"
)

// ErrReservation cash for a buy could not be earmarked.
var ErrReservation = errors.New("reservation rejected")

// AlertFunc called when a commit could not be persisted after all retries.
type AlertFunc func(ctx context.Context, trade domain.Trade, err error)

// BookOptions optional collaborators of the Book. Zero values get working defaults.
type BookOptions struct {
	Journal CommitJournal
	// Retry overrides the store write backoff policy.
	Retry   []retrier.Option
	Metrics *Metrics
	Commits *events.Broadcaster[events.CommitEvent]
	Alert   AlertFunc
	Logger  *zap.Logger
}

// CommitResult portfolio after the commit and whether the store confirmed it.
type CommitResult struct {
	Portfolio domain.Portfolio
	Persisted bool
}

// Book the single writer of the portfolio. Writers serialize on mu; readers load the
// published snapshot and never wait for a commit in flight.
type Book struct {
	mu       sync.Mutex
	current  domain.Portfolio
	reserved map[string]decimal.Decimal
	// unjournaled fills whose journal write failed and the store has not confirmed
	unjournaled []domain.Trade

	snapshot atomic.Pointer[domain.Portfolio]

	store   PortfolioStore
	journal CommitJournal
	retry   *retrier.Retrier
	metrics *Metrics
	commits *events.Broadcaster[events.CommitEvent]
	alert   AlertFunc
	logger  *zap.Logger
}

// NewBook creates a book holding initial until Recover loads the stored state.
func NewBook(initial domain.Portfolio, store PortfolioStore, opts BookOptions) *Book {
	b := &Book{
		current:  initial.Clone(),
		reserved: make(map[string]decimal.Decimal),
		store:    store,
		journal:  opts.Journal,
		metrics:  opts.Metrics,
		commits:  opts.Commits,
		alert:    opts.Alert,
		logger:   opts.Logger,
	}
	if b.journal == nil {
		b.journal = newMemoryJournal()
	}
	if b.metrics == nil {
		b.metrics = NewMetrics()
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	retryOpts := []retrier.Option{
		retrier.WithInitialInterval(200 * time.Millisecond),
		retrier.WithMaxInterval(5 * time.Second),
		retrier.WithMaxRetries(5),
	}
	retryOpts = append(retryOpts, opts.Retry...)
	retryOpts = append(retryOpts, retrier.WithOnRetry(func(attempt int, wait time.Duration, err error) {
		b.metrics.PersistenceRetries.Inc()
		b.logger.Warn("retrying store write",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}))
	b.retry = retrier.New(retryOpts...)
	b.publish(b.current)
	return b
}

// Snapshot deep copy of the latest published portfolio.
func (b *Book) Snapshot() domain.Portfolio {
	return b.snapshot.Load().Clone()
}

// Recover loads the stored portfolio and replays journaled commits the store never confirmed.
func (b *Book) Recover(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok, err := b.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load portfolio")
	}
	if ok {
		b.current = stored
	}

	pending := b.journal.Pending()
	if len(pending) == 0 {
		b.publish(b.current)
		return nil
	}

	// the newest pending entry carries the portfolio after every journaled fill
	latest := pending[len(pending)-1].Next.Clone()
	b.logger.Warn("replaying unconfirmed commits",
		zap.Int("pending", len(pending)),
		zap.String("cash", latest.Cash.String()))

	if err := b.persistPending(ctx, latest); err != nil {
		return errors.Wrap(err, "replay pending commits")
	}
	b.current = latest
	b.publish(latest)
	return nil
}

// Reserve earmarks amount of cash for orderID. Fails with ErrReservation when cash not
// already earmarked by other in-flight buys is insufficient.
func (b *Book) Reserve(orderID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.Wrapf(ErrReservation, "amount %s", amount.String())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.reserved[orderID]; ok {
		return errors.Wrapf(ErrReservation, "order %s already reserved", orderID)
	}
	available := b.availableLocked()
	if available.LessThan(amount) {
		return errors.Wrapf(ErrReservation, "need %s, available %s", amount.String(), available.String())
	}
	b.reserved[orderID] = amount
	return nil
}

// Release drops the reservation. Releasing an unknown order is a no-op.
func (b *Book) Release(orderID string) {
	b.mu.Lock()
	delete(b.reserved, orderID)
	b.mu.Unlock()
}

// Available cash not earmarked by reservations.
func (b *Book) Available() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked()
}

func (b *Book) availableLocked() decimal.Decimal {
	available := b.current.Cash
	for _, v := range b.reserved {
		available = available.Sub(v)
	}
	return available
}

// Commit re-validates the trade against the current portfolio, applies it, persists it and
// publishes the result. The trade's reservation is released either way.
// An error means the trade was rejected and the portfolio is unchanged. A persistence
// failure is not an error: the fill is real, so the result is published with Persisted
// false and the commit stays journaled until the reconciler stores it.
func (b *Book) Commit(ctx context.Context, trade domain.Trade) (CommitResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.reserved, trade.OrderID)

	next, err := b.current.Apply(trade)
	if err != nil {
		b.metrics.RejectedCommits.WithLabelValues(trade.Symbol.String()).Inc()
		return CommitResult{Portfolio: b.current.Clone()}, errors.Wrapf(err, "commit trade %s", trade.ID)
	}

	if err := b.journal.Prepare(trade, next); err != nil {
		b.logger.Error("failed to journal commit, keeping it in memory until stored",
			zap.String("trade_id", trade.ID), zap.Error(err))
		b.unjournaled = append(b.unjournaled, trade)
	}

	// a commit that started is never abandoned on shutdown
	persistCtx := context.WithoutCancel(ctx)
	err = b.retry.Do(persistCtx, func(ctx context.Context) error {
		return b.persistPending(ctx, next, trade)
	})
	persisted := err == nil
	if !persisted {
		b.escalate(persistCtx, trade, err)
	}

	b.current = next
	b.publish(next)
	b.metrics.Commits.WithLabelValues(trade.Symbol.String(), trade.Side.String()).Inc()
	if b.commits != nil {
		b.commits.Publish(events.NewCommitEvent(trade, next, persisted))
	}

	b.logger.Info("trade committed",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol.String()),
		zap.String("side", trade.Side.String()),
		zap.String("quantity", trade.Quantity.String()),
		zap.String("price", trade.Price.String()),
		zap.String("fee", trade.Fee.String()),
		zap.String("cash", next.Cash.String()),
		zap.Bool("persisted", persisted))

	return CommitResult{Portfolio: next.Clone(), Persisted: persisted}, nil
}

// Reconcile makes one attempt to store every pending commit.
func (b *Book) Reconcile(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.journal.Pending()) == 0 && len(b.unjournaled) == 0 {
		return nil
	}
	if err := b.persistPending(ctx, b.current); err != nil {
		return err
	}
	b.logger.Info("pending commits reconciled")
	return nil
}

// RunReconciler calls Reconcile every interval until ctx is done.
func (b *Book) RunReconciler(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Reconcile(ctx); err != nil {
				b.logger.Warn("reconcile pending commits", zap.Error(err))
			}
		}
	}
}

// Pending journaled commits the store has not confirmed.
func (b *Book) Pending() []commitlog.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.journal.Pending()
}

// persistPending records every pending trade oldest first, plus unjournaled and extra trades
// that never made it into the journal, then saves latest and resolves the entries.
// Must be called with mu held.
func (b *Book) persistPending(ctx context.Context, latest domain.Portfolio, extra ...domain.Trade) error {
	pending := b.journal.Pending()
	trades := make([]domain.Trade, 0, len(pending)+len(b.unjournaled)+len(extra))
	seen := make(map[string]struct{}, cap(trades))
	add := func(t domain.Trade) {
		if _, ok := seen[t.ID]; ok {
			return
		}
		seen[t.ID] = struct{}{}
		trades = append(trades, t)
	}
	for _, e := range pending {
		add(e.Trade)
	}
	for _, t := range b.unjournaled {
		add(t)
	}
	for _, t := range extra {
		add(t)
	}
	defer func() {
		b.metrics.PendingCommits.Set(float64(len(b.journal.Pending()) + len(b.unjournaled)))
	}()

	for _, t := range trades {
		if err := b.store.RecordTrade(ctx, t); err != nil {
			return errors.Wrapf(err, "record trade %s", t.ID)
		}
	}
	if err := b.store.Save(ctx, latest); err != nil {
		return errors.Wrap(err, "save portfolio")
	}

	b.unjournaled = nil
	for _, e := range pending {
		if err := b.journal.Resolve(e.TradeID); err != nil {
			// replay is harmless: RecordTrade is idempotent
			b.logger.Warn("failed to resolve journal entry", zap.String("trade_id", e.TradeID), zap.Error(err))
		}
	}
	return nil
}

func (b *Book) escalate(ctx context.Context, trade domain.Trade, err error) {
	b.metrics.PersistenceEscalations.Inc()
	b.logger.Error("trade applied but not persisted, left pending for reconciliation",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol.String()),
		zap.Error(err))
	if b.alert != nil {
		b.alert(ctx, trade, err)
	}
}

func (b *Book) publish(p domain.Portfolio) {
	c := p.Clone()
	b.snapshot.Store(&c)
	cash, _ := p.Cash.Float64()
	b.metrics.Cash.Set(cash)
}

// memoryJournal process-lifetime journal used when no durable one is configured.
type memoryJournal struct {
	mu      sync.Mutex
	entries []commitlog.Entry
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{}
}

func (j *memoryJournal) Prepare(trade domain.Trade, next domain.Portfolio) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, commitlog.Entry{
		TradeID: trade.ID,
		Status:  commitlog.StatusPending,
		Trade:   trade,
		Next:    next.Clone(),
		Time:    time.Now().UTC(),
	})
	return nil
}

func (j *memoryJournal) Resolve(tradeID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.entries {
		if e.TradeID == tradeID {
			j.entries = append(j.entries[:i], j.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (j *memoryJournal) Pending() []commitlog.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]commitlog.Entry(nil), j.entries...)
}
