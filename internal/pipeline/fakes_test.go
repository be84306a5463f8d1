package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

const (
	btc domain.Symbol = "BTC_USDT"
	eth domain.Symbol = "ETH_USDT"
)

var errStoreDown = errors.New("store unavailable")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// memStore in-memory PortfolioStore that fails the next N calls on demand.
type memStore struct {
	mu          sync.Mutex
	trades      []domain.Trade
	ids         map[string]struct{}
	portfolio   *domain.Portfolio
	failRecords int
	failSaves   int
	recordCalls int
	saveCalls   int
}

func newMemStore() *memStore {
	return &memStore{ids: make(map[string]struct{})}
}

func (s *memStore) Load(context.Context) (domain.Portfolio, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.portfolio == nil {
		return domain.Portfolio{}, false, nil
	}
	return s.portfolio.Clone(), true, nil
}

func (s *memStore) Save(_ context.Context, p domain.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.failSaves > 0 {
		s.failSaves--
		return errStoreDown
	}
	c := p.Clone()
	s.portfolio = &c
	return nil
}

func (s *memStore) RecordTrade(_ context.Context, t domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordCalls++
	if s.failRecords > 0 {
		s.failRecords--
		return errStoreDown
	}
	if _, ok := s.ids[t.ID]; ok {
		return nil
	}
	s.ids[t.ID] = struct{}{}
	s.trades = append(s.trades, t)
	return nil
}

func (s *memStore) Trades(_ context.Context, symbol domain.Symbol) ([]domain.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Trade
	for _, t := range s.trades {
		if symbol == "" || t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) calls() (records, saves int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordCalls, s.saveCalls
}

func (s *memStore) saved() (domain.Portfolio, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.portfolio == nil {
		return domain.Portfolio{}, false
	}
	return s.portfolio.Clone(), true
}

// fakeMarket replays fixed candles per symbol, then closes the streams.
type fakeMarket struct {
	history map[domain.Symbol][]domain.Candle
	live    map[domain.Symbol][]domain.Candle
}

func (m *fakeMarket) FetchHistoricalCandles(_ context.Context, symbol domain.Symbol, _ string, limit int) ([]domain.Candle, error) {
	h := m.history[symbol]
	if len(h) > limit {
		h = h[len(h)-limit:]
	}
	return h, nil
}

func (m *fakeMarket) StreamCandles(ctx context.Context, symbol domain.Symbol, _ string) (<-chan domain.Candle, error) {
	out := make(chan domain.Candle)
	go func() {
		defer close(out)
		for _, c := range m.live[symbol] {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (m *fakeMarket) StreamTicks(context.Context, domain.Symbol) (<-chan domain.Tick, error) {
	out := make(chan domain.Tick)
	close(out)
	return out, nil
}

func candle(sym domain.Symbol, i int, price string) domain.Candle {
	p := dec(price)
	return domain.Candle{
		OpenTime: time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC),
		Open:     p, High: p, Low: p, Close: p,
		Volume:   decimal.NewFromInt(1),
		Symbol:   sym,
		Interval: time.Minute,
	}
}

// engineFunc adapts a function to DecisionEngine.
type engineFunc func(ctx context.Context, in domain.DecisionInput) (domain.Decision, error)

func (f engineFunc) Decide(ctx context.Context, in domain.DecisionInput) (domain.Decision, error) {
	return f(ctx, in)
}

// riskFunc adapts a function to RiskManager.
type riskFunc func(ctx context.Context, d domain.Decision, p domain.Portfolio) (domain.Decision, error)

func (f riskFunc) Review(ctx context.Context, d domain.Decision, p domain.Portfolio) (domain.Decision, error) {
	return f(ctx, d, p)
}

func passRisk() RiskManager {
	return riskFunc(func(_ context.Context, d domain.Decision, _ domain.Portfolio) (domain.Decision, error) {
		return d, nil
	})
}

// fillExecutor fills at the reference price with a fixed fee and records requests.
type fillExecutor struct {
	mu       sync.Mutex
	fee      decimal.Decimal
	requests []domain.OrderRequest
	fill     func(req domain.OrderRequest) (*domain.Trade, error)
}

func (e *fillExecutor) Execute(_ context.Context, req domain.OrderRequest) (*domain.Trade, error) {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.mu.Unlock()
	if e.fill != nil {
		return e.fill(req)
	}

	qty := req.Quantity
	return &domain.Trade{
		ID:       "trade-" + req.ID,
		OrderID:  req.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    req.ReferencePrice,
		Quantity: qty,
		Fee:      e.fee,
		Time:     time.Now().UTC(),
	}, nil
}

func (e *fillExecutor) calls() []domain.OrderRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.OrderRequest(nil), e.requests...)
}

// memDecisions captures decision events.
type memDecisions struct {
	mu     sync.Mutex
	events []domain.DecisionEvent
}

func (d *memDecisions) Save(ev domain.DecisionEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *memDecisions) outcomes() map[domain.Outcome]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[domain.Outcome]int)
	for _, ev := range d.events {
		out[ev.Outcome]++
	}
	return out
}

func (d *memDecisions) all() []domain.DecisionEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]domain.DecisionEvent(nil), d.events...)
}
