package domain

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientCash trade costs more than available cash.
	ErrInsufficientCash = errors.New("insufficient cash")
	// ErrInsufficientPosition trade sells more than held.
	ErrInsufficientPosition = errors.New("insufficient position")
)

// Position holding in one symbol. AvgPrice is meaningless when Quantity is zero.
type Position struct {
	Symbol   Symbol          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// IsFlat reports whether nothing is held.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// Value market value at the given price.
func (p Position) Value(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// Portfolio cash plus at most one position per symbol.
type Portfolio struct {
	Cash      decimal.Decimal     `json:"cash"`
	Positions map[Symbol]Position `json:"positions"`
}

// NewPortfolio creates an empty portfolio holding only cash.
func NewPortfolio(cash decimal.Decimal) Portfolio {
	return Portfolio{Cash: cash, Positions: map[Symbol]Position{}}
}

// Clone returns a deep copy.
func (p Portfolio) Clone() Portfolio {
	out := Portfolio{Cash: p.Cash, Positions: make(map[Symbol]Position, len(p.Positions))}
	for s, pos := range p.Positions {
		out.Positions[s] = pos
	}
	return out
}

// Position returns the position for a symbol, flat when absent.
func (p Portfolio) Position(symbol Symbol) Position {
	if pos, ok := p.Positions[symbol]; ok {
		return pos
	}
	return Position{Symbol: symbol}
}

// OpenPositions number of non-flat positions.
func (p Portfolio) OpenPositions() int {
	n := 0
	for _, pos := range p.Positions {
		if !pos.IsFlat() {
			n++
		}
	}
	return n
}

// Symbols returns held symbols in stable order.
func (p Portfolio) Symbols() []Symbol {
	out := make([]Symbol, 0, len(p.Positions))
	for s := range p.Positions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equity cash plus positions valued at the given prices.
// Positions without a price are valued at their average entry price.
func (p Portfolio) Equity(prices map[Symbol]decimal.Decimal) decimal.Decimal {
	total := p.Cash
	for s, pos := range p.Positions {
		price, ok := prices[s]
		if !ok {
			price = pos.AvgPrice
		}
		total = total.Add(pos.Value(price))
	}
	return total
}

// Equal compares cash and every position.
func (p Portfolio) Equal(o Portfolio) bool {
	if !p.Cash.Equal(o.Cash) {
		return false
	}
	for s, pos := range p.Positions {
		other := o.Position(s)
		if !pos.Quantity.Equal(other.Quantity) || (!pos.IsFlat() && !pos.AvgPrice.Equal(other.AvgPrice)) {
			return false
		}
	}
	for s, pos := range o.Positions {
		if _, ok := p.Positions[s]; !ok && !pos.IsFlat() {
			return false
		}
	}
	return true
}

// Validate checks the trade can be applied: enough cash for a buy, enough quantity for a sell.
func (p Portfolio) Validate(t Trade) error {
	if !t.Quantity.IsPositive() || !t.Price.IsPositive() || t.Fee.IsNegative() {
		return errors.Errorf("trade %s has invalid price, quantity or fee", t.ID)
	}
	switch t.Side {
	case SideBuy:
		cost := t.CashDelta().Neg()
		if p.Cash.LessThan(cost) {
			return errors.Wrapf(ErrInsufficientCash, "need %s, have %s", cost.String(), p.Cash.String())
		}
	case SideSell:
		held := p.Position(t.Symbol).Quantity
		if held.LessThan(t.Quantity) {
			return errors.Wrapf(ErrInsufficientPosition, "sell %s, hold %s", t.Quantity.String(), held.String())
		}
		if p.Cash.Add(t.CashDelta()).IsNegative() {
			return errors.Wrap(ErrInsufficientCash, "fee exceeds cash and proceeds")
		}
	default:
		return errors.Errorf("trade %s has unknown side", t.ID)
	}
	return nil
}

// Apply returns a new portfolio with the trade applied. The receiver is not modified.
func (p Portfolio) Apply(t Trade) (Portfolio, error) {
	if err := p.Validate(t); err != nil {
		return Portfolio{}, err
	}

	next := p.Clone()
	next.Cash = p.Cash.Add(t.CashDelta())

	pos := p.Position(t.Symbol)
	switch t.Side {
	case SideBuy:
		// weighted average entry price, fee excluded
		total := pos.Quantity.Add(t.Quantity)
		if pos.IsFlat() {
			pos.AvgPrice = t.Price
		} else {
			pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(t.Notional()).Div(total)
		}
		pos.Quantity = total
	case SideSell:
		pos.Quantity = pos.Quantity.Sub(t.Quantity)
		if pos.IsFlat() {
			pos.AvgPrice = decimal.Zero
		}
	}

	if pos.IsFlat() {
		delete(next.Positions, t.Symbol)
	} else {
		next.Positions[t.Symbol] = pos
	}
	return next, nil
}
