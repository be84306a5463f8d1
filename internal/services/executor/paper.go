package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

// PaperConfig simulated fill parameters. Rates are fractions, 0.001 = 0.1%.
type PaperConfig struct {
	FeeRate  decimal.Decimal
	Slippage decimal.Decimal
}

// DefaultPaperConfig 0.1% fee, no slippage.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{FeeRate: decimal.NewFromFloat(0.001)}
}

// Paper fills every valid order immediately at the reference price moved by slippage.
// Buys are sized so that notional plus fee stays within QuoteAmount.
type Paper struct {
	cfg    PaperConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewPaper creates a paper executor.
func NewPaper(cfg PaperConfig, logger *zap.Logger) *Paper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paper{cfg: cfg, logger: logger, now: time.Now}
}

// Execute simulates a market order.
func (p *Paper) Execute(ctx context.Context, req domain.OrderRequest) (*domain.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validate(req); err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	var price, qty decimal.Decimal
	if req.Side == domain.SideBuy {
		price = req.ReferencePrice.Mul(one.Add(p.cfg.Slippage))
		qty = buyQuantity(req.QuoteAmount, price, p.cfg.FeeRate)
	} else {
		price = req.ReferencePrice.Mul(one.Sub(p.cfg.Slippage))
		qty = req.Quantity
	}
	if !qty.IsPositive() {
		p.logger.Info("simulated order too small to fill", zap.String("order", req.String()))
		return nil, nil
	}

	trade := &domain.Trade{
		ID:       uuid.New().String(),
		OrderID:  req.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    price,
		Quantity: qty,
		Fee:      price.Mul(qty).Mul(p.cfg.FeeRate).Truncate(8),
		Time:     p.now().UTC(),
	}

	p.logger.Info("simulated order filled",
		zap.String("id", req.ID),
		zap.String("symbol", req.Symbol.String()),
		zap.String("side", req.Side.String()),
		zap.String("amount", qty.String()),
		zap.String("price", price.String()),
		zap.String("fee", trade.Fee.String()))
	return trade, nil
}
