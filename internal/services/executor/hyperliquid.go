package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

// hyperliquidSlippage IOC limit distance from mid used to emulate a market order.
const hyperliquidSlippage = 0.005

// Hyperliquid emulates market orders with IOC limit orders at a slippage-adjusted price.
type Hyperliquid struct {
	ex          *hyperliquid.Exchange
	info        *hyperliquid.Info
	accountAddr string
	feeRate     decimal.Decimal
	logger      *zap.Logger
}

// NewHyperliquid creates a Hyperliquid executor.
func NewHyperliquid(ex *hyperliquid.Exchange, accountAddr string, feeRate decimal.Decimal, logger *zap.Logger) (*Hyperliquid, error) {
	if ex == nil {
		return nil, errors.New("hyperliquid exchange is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hyperliquid{
		ex:          ex,
		info:        ex.Info(),
		accountAddr: accountAddr,
		feeRate:     feeRate,
		logger:      logger,
	}, nil
}

// cloidFromID maps a client order id onto a valid cloid (0x + 32 hex chars).
func cloidFromID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return "0x" + hex.EncodeToString(sum[:16])
}

// Execute places the IOC order and looks up its status by cloid.
func (h *Hyperliquid) Execute(ctx context.Context, req domain.OrderRequest) (*domain.Trade, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	coin := req.Symbol.Base()
	isBuy := req.Side == domain.SideBuy
	px, err := h.ex.SlippagePrice(ctx, coin, isBuy, hyperliquidSlippage, nil)
	if err != nil {
		return nil, errors.Wrap(err, "slippage price")
	}
	limit := decimal.NewFromFloat(px)

	qty := req.Quantity
	if isBuy {
		// sized against the worst acceptable price
		qty = buyQuantity(req.QuoteAmount, limit, h.feeRate)
	}
	size, _ := qty.Round(8).Float64()
	if size <= 0 {
		return nil, nil
	}

	cloid := cloidFromID(req.ID)
	order := hyperliquid.CreateOrderRequest{
		Coin:          coin,
		IsBuy:         isBuy,
		Price:         px,
		Size:          size,
		ClientOrderID: &cloid,
		OrderType: hyperliquid.OrderType{
			Limit: &hyperliquid.LimitOrderType{Tif: hyperliquid.TifIoc},
		},
	}
	if _, err := h.ex.Order(ctx, order, nil); err != nil {
		return nil, errors.Wrapf(err, "hyperliquid %s order %s", req.Side, req.ID)
	}

	res, err := h.info.QueryOrderByCloid(ctx, h.accountAddr, cloid)
	if err != nil {
		return nil, errors.Wrap(err, "query order by cloid")
	}
	if res == nil || res.Status != hyperliquid.OrderQueryStatusSuccess ||
		res.Order.Status != hyperliquid.OrderStatusValueFilled {
		h.logger.Warn("hyperliquid order not filled", zap.String("id", req.ID), zap.String("cloid", cloid))
		return nil, nil
	}
	if res.Order.Order.OrigSz != "" {
		if filled, err := decimal.NewFromString(res.Order.Order.OrigSz); err == nil && filled.IsPositive() {
			qty = filled
		}
	}

	// IOC fills no worse than the limit; the reference price is the best estimate without fills
	price := req.ReferencePrice
	return &domain.Trade{
		ID:       "hyperliquid-" + cloid,
		OrderID:  req.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    price,
		Quantity: qty,
		Fee:      price.Mul(qty).Mul(h.feeRate).Truncate(8),
		Time:     time.Now().UTC(),
	}, nil
}
