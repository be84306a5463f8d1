// Package pipeline runs the per-symbol decision loops and owns the shared portfolio.
package pipeline

import (
	"context"

	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/storage/commitlog"
)

// Capabilities receive a ctx bounded by the call timeout and should honour it. A call that
// ignores it is abandoned at the deadline and its result discarded, except for the Executor.

// MarketDataSource historical and live market data. Streams close when ctx is cancelled.
type MarketDataSource interface {
	FetchHistoricalCandles(ctx context.Context, symbol domain.Symbol, interval string, limit int) ([]domain.Candle, error)
	// StreamCandles emits closed candles only.
	StreamCandles(ctx context.Context, symbol domain.Symbol, interval string) (<-chan domain.Candle, error)
	StreamTicks(ctx context.Context, symbol domain.Symbol) (<-chan domain.Tick, error)
}

// NewsSource live headlines. The channel closes when ctx is cancelled.
type NewsSource interface {
	PollHeadlines(ctx context.Context) (<-chan domain.Headline, error)
}

// SentimentAnalyzer scores text in [-1, 1].
type SentimentAnalyzer interface {
	Score(ctx context.Context, text string) (float64, error)
}

// TechnicalAnalyzer per-symbol indicator state.
type TechnicalAnalyzer interface {
	Update(ctx context.Context, c domain.Candle) error
	CurrentSignals(ctx context.Context, symbol domain.Symbol) (domain.TechnicalSignals, error)
}

// DecisionEngine proposes a decision.
type DecisionEngine interface {
	Decide(ctx context.Context, in domain.DecisionInput) (domain.Decision, error)
}

// RiskManager reviews a proposal. It must never increase exposure.
type RiskManager interface {
	Review(ctx context.Context, d domain.Decision, p domain.Portfolio) (domain.Decision, error)
}

// Executor attempts an order. A nil trade with nil error means unfilled. An answer that
// arrives after the call timeout is still committed, so Execute must return eventually.
type Executor interface {
	Execute(ctx context.Context, req domain.OrderRequest) (*domain.Trade, error)
}

// PortfolioStore durable portfolio state. RecordTrade must ignore an already recorded trade ID.
type PortfolioStore interface {
	Load(ctx context.Context) (domain.Portfolio, bool, error)
	Save(ctx context.Context, p domain.Portfolio) error
	RecordTrade(ctx context.Context, t domain.Trade) error
	Trades(ctx context.Context, symbol domain.Symbol) ([]domain.Trade, error)
	Close() error
}

// CommitJournal write-ahead record of commits not yet confirmed by the store.
type CommitJournal interface {
	Prepare(trade domain.Trade, next domain.Portfolio) error
	Resolve(tradeID string) error
	Pending() []commitlog.Entry
}

// DecisionLog records every cycle outcome.
type DecisionLog interface {
	Save(event domain.DecisionEvent) error
}
