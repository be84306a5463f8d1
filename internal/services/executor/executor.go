// Package executor turns order requests into fills, either simulated or on an exchange.
package executor

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

// ErrInvalidOrder returned for requests that cannot be sent.
var ErrInvalidOrder = errors.New("invalid order")

func validate(req domain.OrderRequest) error {
	if req.Symbol == "" {
		return errors.Wrap(ErrInvalidOrder, "empty symbol")
	}
	if !req.ReferencePrice.IsPositive() {
		return errors.Wrapf(ErrInvalidOrder, "reference price %s", req.ReferencePrice)
	}
	switch req.Side {
	case domain.SideBuy:
		if !req.QuoteAmount.IsPositive() {
			return errors.Wrapf(ErrInvalidOrder, "buy quote amount %s", req.QuoteAmount)
		}
	case domain.SideSell:
		if !req.Quantity.IsPositive() {
			return errors.Wrapf(ErrInvalidOrder, "sell quantity %s", req.Quantity)
		}
	default:
		return errors.Wrapf(ErrInvalidOrder, "side %s", req.Side)
	}
	return nil
}

// buyQuantity base amount a quote budget buys at price once the fee is paid on top.
func buyQuantity(quote, price, feeRate decimal.Decimal) decimal.Decimal {
	notional := quote.Div(decimal.NewFromInt(1).Add(feeRate))
	return notional.Div(price).RoundFloor(8)
}
