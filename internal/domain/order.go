package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side order direction.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

// String returns the string representation of the side.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "buy":
		*s = SideBuy
	case "sell":
		*s = SideSell
	default:
		return fmt.Errorf("unknown side %q", string(b))
	}
	return nil
}

// OrderType execution style.
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
)

// String returns the string representation of the order type.
func (t OrderType) String() string {
	if t == OrderTypeLimit {
		return "limit"
	}
	return "market"
}

// OrderRequest intent sent to an executor.
type OrderRequest struct {
	// ID client order id, stable across retries of the same intent.
	ID     string
	Symbol Symbol
	Side   Side
	Type   OrderType
	// Quantity base amount. For buys this is an estimate derived from QuoteAmount.
	Quantity decimal.Decimal
	// QuoteAmount cash to spend, buys only.
	QuoteAmount decimal.Decimal
	// ReferencePrice last observed price the order was sized against.
	ReferencePrice decimal.Decimal
	// LimitPrice set only for limit orders.
	LimitPrice decimal.Decimal
	Decision   Decision
}

// String returns a human-readable string representation.
func (o OrderRequest) String() string {
	return fmt.Sprintf("%s %s qty %s quote %s ref %s", o.Symbol, o.Side, o.Quantity.String(), o.QuoteAmount.String(), o.ReferencePrice.String())
}

// Trade immutable record of a filled order. Fee is in quote currency.
type Trade struct {
	ID       string          `json:"id"`
	OrderID  string          `json:"order_id"`
	Symbol   Symbol          `json:"symbol"`
	Side     Side            `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Fee      decimal.Decimal `json:"fee"`
	Time     time.Time       `json:"ts"`
}

// Notional price times quantity.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(t.Quantity)
}

// CashDelta signed change in cash the trade causes.
func (t Trade) CashDelta() decimal.Decimal {
	if t.Side == SideBuy {
		return t.Cost().Neg()
	}
	return t.Proceeds()
}

// String returns a human-readable string representation.
func (t Trade) String() string {
	return fmt.Sprintf("%s %s %s @ %s fee %s", t.Symbol, t.Side, t.Quantity.String(), t.Price.String(), t.Fee.String())
}

// Cost cash spent by a buy, fee included.
func (t Trade) Cost() decimal.Decimal {
	return t.Notional().Add(t.Fee)
}

// Proceeds cash received from a sell, net of fee.
func (t Trade) Proceeds() decimal.Decimal {
	return t.Notional().Sub(t.Fee)
}
