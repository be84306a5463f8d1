package domain

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrInvalidDecision is returned for decisions that violate their variant's contract.
var ErrInvalidDecision = errors.New("invalid decision")

// action string constants shared by logs, events and LLM payloads
const (
	ActionBuy     = "buy"
	ActionSellAll = "sell_all"
	ActionHold    = "hold"
)

// Decision trade decision. Exactly one of Buy, SellAll or Hold.
type Decision interface {
	// Action returns the variant name.
	Action() string
	// String returns a human-readable representation.
	String() string

	isDecision()
}

// Buy spends a fraction of available cash on a symbol.
type Buy struct {
	Symbol         Symbol
	FractionOfCash decimal.Decimal
}

// SellAll closes the whole position in a symbol.
type SellAll struct {
	Symbol Symbol
}

// Hold does nothing.
type Hold struct {
	Reason string
}

func (Buy) isDecision()     {}
func (SellAll) isDecision() {}
func (Hold) isDecision()    {}

func (Buy) Action() string     { return ActionBuy }
func (SellAll) Action() string { return ActionSellAll }
func (Hold) Action() string    { return ActionHold }

func (b Buy) String() string {
	return fmt.Sprintf("buy %s fraction %s", b.Symbol, b.FractionOfCash.String())
}

func (s SellAll) String() string {
	return fmt.Sprintf("sell_all %s", s.Symbol)
}

func (h Hold) String() string {
	if h.Reason == "" {
		return "hold"
	}
	return "hold: " + h.Reason
}

// NewBuy builds a validated Buy.
func NewBuy(symbol Symbol, fraction decimal.Decimal) (Buy, error) {
	b := Buy{Symbol: symbol, FractionOfCash: fraction}
	if err := b.Validate(); err != nil {
		return Buy{}, err
	}
	return b, nil
}

// Validate checks fraction is within (0, 1].
func (b Buy) Validate() error {
	if b.Symbol == "" {
		return errors.Wrap(ErrInvalidDecision, "buy without symbol")
	}
	if !b.FractionOfCash.IsPositive() || b.FractionOfCash.GreaterThan(decimal.NewFromInt(1)) {
		return errors.Wrapf(ErrInvalidDecision, "buy fraction %s outside (0,1]", b.FractionOfCash.String())
	}
	return nil
}

// ValidateDecision checks any variant. A nil decision is invalid.
func ValidateDecision(d Decision) error {
	switch v := d.(type) {
	case Buy:
		return v.Validate()
	case SellAll:
		if v.Symbol == "" {
			return errors.Wrap(ErrInvalidDecision, "sell_all without symbol")
		}
		return nil
	case Hold:
		return nil
	default:
		return errors.Wrapf(ErrInvalidDecision, "unknown decision %T", d)
	}
}

// CashExposure fraction of cash a decision would spend.
func CashExposure(d Decision) decimal.Decimal {
	if b, ok := d.(Buy); ok {
		return b.FractionOfCash
	}
	return decimal.Zero
}

// Clamp enforces that a reviewed decision never takes more risk than the proposal.
// Allowed outcomes: the same variant for the same symbol with equal or smaller size, or Hold.
func Clamp(proposed, reviewed Decision) Decision {
	switch p := proposed.(type) {
	case Hold:
		return p
	case Buy:
		switch r := reviewed.(type) {
		case Buy:
			if r.Symbol != p.Symbol {
				return Hold{Reason: "risk review changed symbol"}
			}
			if r.FractionOfCash.GreaterThan(p.FractionOfCash) {
				return p
			}
			if r.Validate() != nil {
				return Hold{Reason: "risk review produced invalid buy"}
			}
			return r
		case Hold:
			return r
		default:
			return Hold{Reason: fmt.Sprintf("risk review escalated buy to %T", reviewed)}
		}
	case SellAll:
		switch r := reviewed.(type) {
		case SellAll:
			if r.Symbol != p.Symbol {
				return Hold{Reason: "risk review changed symbol"}
			}
			return r
		case Hold:
			return r
		default:
			return Hold{Reason: "risk review escalated sell_all"}
		}
	default:
		return Hold{Reason: "unknown proposed decision"}
	}
}
