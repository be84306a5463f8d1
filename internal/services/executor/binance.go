package executor

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

// Binance places spot market orders. Buys spend QuoteAmount via quoteOrderQty.
type Binance struct {
	client *binance.Client
	logger *zap.Logger
}

// NewBinance creates a Binance executor.
func NewBinance(client *binance.Client, logger *zap.Logger) *Binance {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binance{client: client, logger: logger}
}

// Execute sends a market order and converts the FULL response into a trade.
func (b *Binance) Execute(ctx context.Context, req domain.OrderRequest) (*domain.Trade, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol.Exchange()).
		Type(binance.OrderTypeMarket).
		NewClientOrderID(req.ID).
		NewOrderRespType(binance.NewOrderRespTypeFULL)
	if req.Side == domain.SideBuy {
		svc = svc.Side(binance.SideTypeBuy).QuoteOrderQty(req.QuoteAmount.RoundFloor(2).String())
	} else {
		svc = svc.Side(binance.SideTypeSell).Quantity(req.Quantity.RoundFloor(6).String())
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "binance %s order %s", req.Side, req.ID)
	}

	trade, foreign, err := binanceFill(req, resp)
	if err != nil {
		return nil, err
	}
	for asset, amount := range foreign {
		b.logger.Warn("commission paid in another asset is not part of the recorded fee",
			zap.String("id", req.ID),
			zap.String("asset", asset),
			zap.String("commission", amount.String()))
	}
	if trade == nil {
		b.logger.Warn("binance order not filled",
			zap.String("id", req.ID),
			zap.String("status", string(resp.Status)))
	}
	return trade, nil
}

// binanceFill nil when nothing executed. Commission paid in the quote asset becomes the
// fee; commission paid in the base asset reduces the received quantity. Commission in any
// other asset (BNB discounts) cannot be priced here and is returned per asset.
func binanceFill(req domain.OrderRequest, resp *binance.CreateOrderResponse) (*domain.Trade, map[string]decimal.Decimal, error) {
	if resp == nil {
		return nil, nil, nil
	}
	qty, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parse executed quantity %q", resp.ExecutedQuantity)
	}
	if !qty.IsPositive() {
		return nil, nil, nil
	}
	quote, err := decimal.NewFromString(resp.CummulativeQuoteQuantity)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parse quote quantity %q", resp.CummulativeQuoteQuantity)
	}
	price := quote.Div(qty)

	fee := decimal.Zero
	var foreign map[string]decimal.Decimal
	for _, f := range resp.Fills {
		if f == nil || f.Commission == "" {
			continue
		}
		c, err := decimal.NewFromString(f.Commission)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "parse commission %q", f.Commission)
		}
		switch f.CommissionAsset {
		case req.Symbol.Quote():
			fee = fee.Add(c)
		case req.Symbol.Base():
			if req.Side == domain.SideBuy {
				qty = qty.Sub(c)
			} else {
				fee = fee.Add(c.Mul(price))
			}
		default:
			if foreign == nil {
				foreign = make(map[string]decimal.Decimal)
			}
			foreign[f.CommissionAsset] = foreign[f.CommissionAsset].Add(c)
		}
	}

	ts := time.Now().UTC()
	if resp.TransactTime > 0 {
		ts = time.UnixMilli(resp.TransactTime).UTC()
	}

	trade := &domain.Trade{
		ID:       "binance-" + strconv.FormatInt(resp.OrderID, 10),
		OrderID:  req.ID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Price:    price,
		Quantity: qty,
		Fee:      fee,
		Time:     ts,
	}
	return trade, foreign, nil
}
