package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/aitrader/internal/domain"
)

// capability stages used as metric labels.
const (
	stageHistory   = "history"
	stageAnalyze   = "analyze"
	stageDecide    = "decide"
	stageRisk      = "risk"
	stageExecute   = "execute"
	stageNews      = "news"
	stageSentiment = "sentiment"
)

// loopState per-symbol state owned by one loop goroutine.
type loopState struct {
	symbol      domain.Symbol
	logger      *zap.Logger
	price       decimal.Decimal
	priceAt     time.Time
	lastCandle  time.Time
	lastTrigger time.Time
}

func (s *loopState) observePrice(price decimal.Decimal, at time.Time) {
	if at.Before(s.priceAt) {
		return
	}
	s.price = price
	s.priceAt = at
}

// runSymbol Idle loop of one symbol. It ends when ctx is cancelled or both streams closed.
func (o *Orchestrator) runSymbol(ctx context.Context, symbol domain.Symbol) error {
	st := &loopState{
		symbol: symbol,
		logger: o.logger.With(zap.String("symbol", symbol.String())),
	}

	o.warmUp(ctx, st)

	candles, err := o.market.StreamCandles(ctx, symbol, o.cfg.Interval)
	if err != nil {
		o.metrics.CapabilityErrors.WithLabelValues(stageHistory).Inc()
		st.logger.Error("failed to open candle stream, stopping loop", zap.Error(err))
		return nil
	}
	ticks, err := o.market.StreamTicks(ctx, symbol)
	if err != nil {
		st.logger.Warn("failed to open tick stream, continuing on candles", zap.Error(err))
		ticks = nil
	}

	var timer <-chan time.Time
	if o.cfg.CycleInterval > 0 {
		ticker := time.NewTicker(o.cfg.CycleInterval)
		defer ticker.Stop()
		timer = ticker.C
	}

	st.logger.Info("decision loop started", zap.String("interval", o.cfg.Interval))
	defer st.logger.Info("decision loop stopped")

	for candles != nil || ticks != nil {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-candles:
			if !ok {
				candles = nil
				continue
			}
			if o.onCandle(ctx, st, c) {
				o.runCycle(ctx, st)
			}
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			if err := t.Validate(); err != nil {
				st.logger.Debug("dropping invalid tick", zap.Error(err))
				continue
			}
			st.observePrice(t.Price, t.Time)
			if o.cfg.TriggerOnTick && time.Since(st.lastTrigger) >= o.cfg.TickCooldown {
				o.runCycle(ctx, st)
			}
		case <-timer:
			if st.price.IsPositive() {
				o.runCycle(ctx, st)
			}
		}
	}
	return nil
}

func (o *Orchestrator) warmUp(ctx context.Context, st *loopState) {
	if o.cfg.HistoryLimit <= 0 {
		return
	}
	history, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(ctx context.Context) ([]domain.Candle, error) {
		return o.market.FetchHistoricalCandles(ctx, st.symbol, o.cfg.Interval, o.cfg.HistoryLimit)
	})
	if err != nil {
		o.metrics.CapabilityErrors.WithLabelValues(stageHistory).Inc()
		st.logger.Warn("warm-up failed, starting cold", zap.Error(err))
		return
	}

	loaded := 0
	for _, c := range history {
		if err := o.analyzer.Update(ctx, c); err != nil {
			st.logger.Debug("skipping historical candle", zap.Error(err))
			continue
		}
		loaded++
		st.observePrice(c.Close, c.CloseTime())
		if c.OpenTime.After(st.lastCandle) {
			st.lastCandle = c.OpenTime
		}
	}
	st.logger.Info("warm-up complete", zap.Int("candles", loaded))
}

// onCandle feeds the analyzer and reports whether the candle should trigger a cycle.
func (o *Orchestrator) onCandle(ctx context.Context, st *loopState, c domain.Candle) bool {
	// a received candle is always applied, even during shutdown
	_, err := callWithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.analyzer.Update(ctx, c)
	})
	if err != nil {
		o.metrics.CapabilityErrors.WithLabelValues(stageAnalyze).Inc()
		st.logger.Warn("candle rejected", zap.Time("open_time", c.OpenTime), zap.Error(err))
		o.record(domain.DecisionEvent{
			CycleID:   ulid.Make().String(),
			Timestamp: time.Now().UTC(),
			Symbol:    st.symbol,
			Engine:    o.cfg.EngineName,
			Outcome:   domain.OutcomeHold,
			Error:     err.Error(),
		}, time.Now())
		return false
	}

	st.observePrice(c.Close, c.CloseTime())
	// revisions of older candles update indicators without starting a cycle
	if c.OpenTime.Before(st.lastCandle) {
		return false
	}
	st.lastCandle = c.OpenTime
	return true
}

// runCycle Analyzing → Deciding → RiskChecking → Executing → Committing for one symbol.
// Calls inside a started cycle are detached from shutdown but still bounded by CallTimeout.
func (o *Orchestrator) runCycle(parent context.Context, st *loopState) {
	start := time.Now()
	st.lastTrigger = start
	ctx := context.WithoutCancel(parent)

	ev := domain.DecisionEvent{
		CycleID:   ulid.Make().String(),
		Timestamp: start.UTC(),
		Symbol:    st.symbol,
		Engine:    o.cfg.EngineName,
		Price:     st.price.String(),
		Outcome:   domain.OutcomeHold,
	}
	logger := st.logger.With(zap.String("cycle_id", ev.CycleID))
	defer func() { o.record(ev, start) }()

	fail := func(stage string, err error) {
		o.metrics.CapabilityErrors.WithLabelValues(stage).Inc()
		logger.Warn("cycle aborted", zap.String("stage", stage), zap.Error(err))
		ev.Outcome = domain.OutcomeFailed
		ev.Error = fmt.Sprintf("%s: %v", stage, err)
	}

	if !st.price.IsPositive() {
		ev.Error = "no price observed yet"
		return
	}
	price := st.price

	// Analyzing
	signals, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(ctx context.Context) (domain.TechnicalSignals, error) {
		return o.analyzer.CurrentSignals(ctx, st.symbol)
	})
	if err != nil {
		fail(stageAnalyze, err)
		return
	}
	ev.Signals = signals

	// Deciding
	snapshot := o.book.Snapshot()
	sentiment := o.tracker.Current(st.symbol)
	ev.Sentiment = sentiment.Score
	proposed, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(ctx context.Context) (domain.Decision, error) {
		return o.engine.Decide(ctx, domain.DecisionInput{
			Symbol:    st.symbol,
			Price:     price,
			Technical: signals,
			Sentiment: sentiment,
			Portfolio: snapshot.Clone(),
		})
	})
	if err == nil {
		err = domain.ValidateDecision(proposed)
	}
	if err != nil {
		fail(stageDecide, err)
		return
	}
	ev.Proposed = proposed.String()

	// RiskChecking
	reviewed, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(ctx context.Context) (domain.Decision, error) {
		return o.risk.Review(ctx, proposed, snapshot.Clone())
	})
	if err != nil {
		fail(stageRisk, err)
		return
	}
	final := domain.Clamp(proposed, reviewed)
	if final != reviewed {
		logger.Warn("risk review would increase exposure, clamped",
			zap.String("proposed", proposed.String()),
			zap.String("reviewed", fmt.Sprint(reviewed)),
			zap.String("final", final.String()))
	}
	ev.Reviewed = final.String()

	// Executing
	req, ok := sizeOrder(final, st.symbol, price, snapshot)
	if !ok {
		logger.Debug("holding", zap.String("decision", final.String()))
		return
	}
	awaitingFill := false
	if req.Side == domain.SideBuy {
		if err := o.book.Reserve(req.ID, req.QuoteAmount); err != nil {
			o.metrics.ReservationRejects.WithLabelValues(st.symbol.String()).Inc()
			logger.Info("buy dropped, cash reserved by another order", zap.Error(err))
			ev.Error = err.Error()
			return
		}
		defer func() {
			if !awaitingFill {
				o.book.Release(req.ID)
			}
		}()
	}

	fills := startCall(ctx, o.cfg.CallTimeout, func(ctx context.Context) (*domain.Trade, error) {
		return o.executor.Execute(ctx, req)
	})
	res, ok := awaitCall(ctx, fills, o.cfg.CallTimeout)
	if !ok {
		// the order may still fill, its reservation stays until the executor answers
		awaitingFill = true
		fail(stageExecute, errCallTimeout)
		ev.Error += ", awaiting late fill"
		o.late.Add(1)
		go o.commitLateFill(ctx, ev, req, fills, logger)
		return
	}
	o.settle(ctx, &ev, req, res, logger)
}

// settle commits the executor's answer and sets the cycle outcome.
func (o *Orchestrator) settle(ctx context.Context, ev *domain.DecisionEvent, req domain.OrderRequest, res callResult[*domain.Trade], logger *zap.Logger) {
	if res.err != nil {
		o.metrics.CapabilityErrors.WithLabelValues(stageExecute).Inc()
		logger.Warn("cycle aborted", zap.String("stage", stageExecute), zap.Error(res.err))
		ev.Outcome = domain.OutcomeFailed
		ev.Error = fmt.Sprintf("%s: %v", stageExecute, res.err)
		return
	}
	trade := res.value
	if trade == nil {
		logger.Info("order not filled", zap.String("order", req.String()))
		ev.Outcome = domain.OutcomeUnfilled
		return
	}
	ev.TradeID = trade.ID

	// Committing
	if _, err := o.book.Commit(ctx, *trade); err != nil {
		logger.Error("filled trade rejected by portfolio re-validation",
			zap.String("trade", trade.String()),
			zap.Error(err))
		ev.Outcome = domain.OutcomeRejected
		ev.Error = err.Error()
		return
	}
	ev.Outcome = domain.OutcomeCommitted
}

// commitLateFill waits for an executor that outlived CallTimeout and commits its fill.
// The outcome is recorded as a second event under the same cycle ID.
func (o *Orchestrator) commitLateFill(ctx context.Context, ev domain.DecisionEvent, req domain.OrderRequest,
	fills <-chan callResult[*domain.Trade], logger *zap.Logger) {
	defer o.late.Done()
	defer o.book.Release(req.ID)

	start := time.Now()
	res := <-fills
	ev.Timestamp = time.Now().UTC()
	ev.Error = ""
	o.settle(ctx, &ev, req, res, logger)
	logger.Warn("late executor answer settled",
		zap.String("order", req.String()),
		zap.String("outcome", string(ev.Outcome)))
	o.record(ev, start)
}

// sizeOrder turns a decision into an order against the snapshot. False means Hold.
func sizeOrder(d domain.Decision, symbol domain.Symbol, price decimal.Decimal, snapshot domain.Portfolio) (domain.OrderRequest, bool) {
	req := domain.OrderRequest{
		ID:             uuid.New().String(),
		Symbol:         symbol,
		Type:           domain.OrderTypeMarket,
		ReferencePrice: price,
		Decision:       d,
	}

	switch v := d.(type) {
	case domain.Buy:
		if v.Symbol != symbol {
			return domain.OrderRequest{}, false
		}
		quote := snapshot.Cash.Mul(v.FractionOfCash).RoundFloor(8)
		if !quote.IsPositive() {
			return domain.OrderRequest{}, false
		}
		req.Side = domain.SideBuy
		req.QuoteAmount = quote
		req.Quantity = quote.Div(price).RoundFloor(8)
		return req, true
	case domain.SellAll:
		if v.Symbol != symbol {
			return domain.OrderRequest{}, false
		}
		qty := snapshot.Position(symbol).Quantity
		if !qty.IsPositive() {
			return domain.OrderRequest{}, false
		}
		req.Side = domain.SideSell
		req.Quantity = qty
		return req, true
	default:
		return domain.OrderRequest{}, false
	}
}

func (o *Orchestrator) record(ev domain.DecisionEvent, start time.Time) {
	o.metrics.Cycles.WithLabelValues(ev.Symbol.String(), string(ev.Outcome)).Inc()
	o.metrics.CycleDuration.WithLabelValues(ev.Symbol.String()).Observe(time.Since(start).Seconds())
	if o.decisions == nil {
		return
	}
	if err := o.decisions.Save(ev); err != nil {
		o.logger.Warn("failed to record decision event", zap.String("cycle_id", ev.CycleID), zap.Error(err))
	}
}

var errCallTimeout = errors.Wrap(context.DeadlineExceeded, "call exceeded timeout")

type callResult[T any] struct {
	value T
	err   error
}

// startCall runs fn in its own goroutine under a ctx bounded by timeout. The result is
// buffered, so the goroutine never blocks on a caller that stopped waiting.
func startCall[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) <-chan callResult[T] {
	done := make(chan callResult[T], 1)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	go func() {
		defer cancel()
		v, err := fn(callCtx)
		done <- callResult[T]{value: v, err: err}
	}()
	return done
}

// awaitCall waits up to timeout for the result. False means the call is still running.
func awaitCall[T any](ctx context.Context, done <-chan callResult[T], timeout time.Duration) (callResult[T], bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res, true
	case <-timer.C:
	case <-ctx.Done():
	}
	return callResult[T]{}, false
}

// callWithTimeout returns within timeout even when fn ignores its ctx.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	res, ok := awaitCall(ctx, startCall(ctx, timeout, fn), timeout)
	if !ok {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, errCallTimeout
	}
	return res.value, res.err
}
