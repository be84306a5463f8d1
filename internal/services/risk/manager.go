// Package risk reviews proposed decisions against portfolio limits.
package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

// Limits portfolio constraints. Zero values disable a limit.
type Limits struct {
	// MaxFractionPerTrade caps a single buy's fraction of cash.
	MaxFractionPerTrade decimal.Decimal
	// MinCashReserve fraction of cash that must remain after a buy.
	MinCashReserve decimal.Decimal
	// MaxPositionFraction caps one symbol's value as a fraction of equity.
	MaxPositionFraction decimal.Decimal
	// MaxOpenPositions caps the number of held symbols.
	MaxOpenPositions int
	// MinNotional smallest quote amount worth trading.
	MinNotional decimal.Decimal
}

// DefaultLimits 25% per trade, 10% reserve, 50% per symbol, 5 positions, 10 quote units minimum.
func DefaultLimits() Limits {
	return Limits{
		MaxFractionPerTrade: decimal.NewFromFloat(0.25),
		MinCashReserve:      decimal.NewFromFloat(0.1),
		MaxPositionFraction: decimal.NewFromFloat(0.5),
		MaxOpenPositions:    5,
		MinNotional:         decimal.NewFromInt(10),
	}
}

// Manager limits-based reviewer. Pure: the result depends only on its inputs.
// It only ever shrinks a buy or turns a decision into Hold.
type Manager struct {
	limits Limits
}

// NewManager creates a risk manager.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits}
}

var one = decimal.NewFromInt(1)

// Review clamps the decision against the portfolio.
func (m *Manager) Review(_ context.Context, d domain.Decision, p domain.Portfolio) (domain.Decision, error) {
	switch v := d.(type) {
	case domain.Hold:
		return v, nil
	case domain.SellAll:
		if p.Position(v.Symbol).IsFlat() {
			return domain.Hold{Reason: "nothing to sell"}, nil
		}
		return v, nil
	case domain.Buy:
		return m.reviewBuy(v, p), nil
	default:
		return domain.Hold{Reason: fmt.Sprintf("unknown decision %T", d)}, nil
	}
}

func (m *Manager) reviewBuy(b domain.Buy, p domain.Portfolio) domain.Decision {
	if err := b.Validate(); err != nil {
		return domain.Hold{Reason: err.Error()}
	}
	if !p.Cash.IsPositive() {
		return domain.Hold{Reason: "no cash"}
	}

	held := !p.Position(b.Symbol).IsFlat()
	if m.limits.MaxOpenPositions > 0 && !held && p.OpenPositions() >= m.limits.MaxOpenPositions {
		return domain.Hold{Reason: "max open positions reached"}
	}

	fraction := b.FractionOfCash
	if m.limits.MaxFractionPerTrade.IsPositive() && fraction.GreaterThan(m.limits.MaxFractionPerTrade) {
		fraction = m.limits.MaxFractionPerTrade
	}
	if m.limits.MinCashReserve.IsPositive() {
		spendable := one.Sub(m.limits.MinCashReserve)
		if !spendable.IsPositive() {
			return domain.Hold{Reason: "cash reserve leaves nothing to spend"}
		}
		if fraction.GreaterThan(spendable) {
			fraction = spendable
		}
	}

	if m.limits.MaxPositionFraction.IsPositive() {
		// valued at entry: the manager sees no live prices
		equity := p.Equity(nil)
		current := p.Position(b.Symbol).Value(p.Position(b.Symbol).AvgPrice)
		room := equity.Mul(m.limits.MaxPositionFraction).Sub(current)
		if !room.IsPositive() {
			return domain.Hold{Reason: "position limit reached"}
		}
		if maxFraction := room.Div(p.Cash); fraction.GreaterThan(maxFraction) {
			fraction = maxFraction
		}
	}

	fraction = fraction.Truncate(8)
	if !fraction.IsPositive() {
		return domain.Hold{Reason: "size clamped to zero"}
	}
	if m.limits.MinNotional.IsPositive() && p.Cash.Mul(fraction).LessThan(m.limits.MinNotional) {
		return domain.Hold{Reason: "below minimum notional"}
	}

	// never return more than was proposed
	if fraction.GreaterThan(b.FractionOfCash) {
		fraction = b.FractionOfCash
	}
	return domain.Buy{Symbol: b.Symbol, FractionOfCash: fraction}
}
