package executor

import (
	"context"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

// Bybit places V5 spot market orders. Spot market buys are quoted in the quote coin.
// The create-order response carries no fill details, so the trade is recorded at
// the reference price with the configured fee rate.
type Bybit struct {
	client  *bybit.Client
	feeRate decimal.Decimal
	logger  *zap.Logger
}

// NewBybit creates a Bybit executor.
func NewBybit(client *bybit.Client, feeRate decimal.Decimal, logger *zap.Logger) *Bybit {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bybit{client: client, feeRate: feeRate, logger: logger}
}

// Execute sends a market order.
func (b *Bybit) Execute(ctx context.Context, req domain.OrderRequest) (*domain.Trade, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	linkID := req.ID
	param := bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(req.Symbol.Exchange()),
		OrderType:   bybit.OrderTypeMarket,
		OrderLinkID: &linkID,
	}
	var qty decimal.Decimal
	if req.Side == domain.SideBuy {
		param.Side = bybit.SideBuy
		param.Qty = req.QuoteAmount.RoundFloor(2).String()
		qty = buyQuantity(req.QuoteAmount, req.ReferencePrice, b.feeRate)
	} else {
		param.Side = bybit.SideSell
		qty = req.Quantity.RoundFloor(6)
		param.Qty = qty.String()
	}

	resp, err := b.client.V5().Order().CreateOrder(param)
	if err != nil {
		return nil, errors.Wrapf(err, "bybit %s order %s", req.Side, req.ID)
	}
	if !qty.IsPositive() {
		return nil, nil
	}

	b.logger.Info("bybit order placed",
		zap.String("id", req.ID),
		zap.String("order_id", resp.Result.OrderID),
		zap.String("qty", param.Qty))

	return &domain.Trade{
		ID:       "bybit-" + resp.Result.OrderID,
		OrderID:  req.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    req.ReferencePrice,
		Quantity: qty,
		Fee:      req.ReferencePrice.Mul(qty).Mul(b.feeRate).Truncate(8),
		Time:     time.Now().UTC(),
	}, nil
}
