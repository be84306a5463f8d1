package app

import (
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/aitrader/config"
	"github.com/vadiminshakov/aitrader/internal/clients"
	"github.com/vadiminshakov/aitrader/internal/pipeline"
	"github.com/vadiminshakov/aitrader/internal/services/executor"
	"github.com/vadiminshakov/aitrader/internal/services/market"
)

// venue exchange-specific market data and live order routing.
type venue interface {
	Market(opts market.Options) pipeline.MarketDataSource
	Executor(logger *zap.Logger) (pipeline.Executor, error)
}

// newVenue builds the exchange client. Without live trading only public endpoints are used,
// so credentials are optional.
func newVenue(cfg config.ExchangeConfig, live bool) (venue, error) {
	switch cfg.Name {
	case config.ExchangeBinance:
		return newVenueFromClient(clients.NewBinanceClient(cfg.APIKey, cfg.APISecret), cfg.FeeRate)
	case config.ExchangeBybit:
		return newVenueFromClient(clients.NewBybitClient(cfg.APIKey, cfg.APISecret), cfg.FeeRate)
	case config.ExchangeHyperliquid:
		var (
			c   *clients.HyperliquidClient
			err error
		)
		if live || cfg.PrivateKey != "" {
			c, err = clients.NewHyperliquidClient(cfg.PrivateKey, cfg.BaseURL)
		} else {
			c, err = clients.NewHyperliquidReadOnlyClient(cfg.BaseURL)
		}
		if err != nil {
			return nil, err
		}
		return newVenueFromClient(c, cfg.FeeRate)
	default:
		return nil, errors.Wrapf(config.ErrInvalidConfig, "unknown exchange %q", cfg.Name)
	}
}

// newVenueFromClient single point of dispatch on the client type.
func newVenueFromClient(client any, feeRate decimal.Decimal) (venue, error) {
	switch c := client.(type) {
	case *binance.Client:
		return &binanceVenue{client: c}, nil
	case *bybit.Client:
		return &bybitVenue{client: c, feeRate: feeRate}, nil
	case *clients.HyperliquidClient:
		return &hyperliquidVenue{client: c, feeRate: feeRate}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

type binanceVenue struct {
	client *binance.Client
}

func (v *binanceVenue) Market(opts market.Options) pipeline.MarketDataSource {
	return market.NewBinance(v.client, opts)
}

func (v *binanceVenue) Executor(logger *zap.Logger) (pipeline.Executor, error) {
	return executor.NewBinance(v.client, logger), nil
}

type bybitVenue struct {
	client  *bybit.Client
	feeRate decimal.Decimal
}

func (v *bybitVenue) Market(opts market.Options) pipeline.MarketDataSource {
	return market.NewBybit(v.client, opts)
}

func (v *bybitVenue) Executor(logger *zap.Logger) (pipeline.Executor, error) {
	return executor.NewBybit(v.client, v.feeRate, logger), nil
}

type hyperliquidVenue struct {
	client  *clients.HyperliquidClient
	feeRate decimal.Decimal
}

func (v *hyperliquidVenue) Market(opts market.Options) pipeline.MarketDataSource {
	return market.NewHyperliquid(v.client.Info(), opts)
}

func (v *hyperliquidVenue) Executor(logger *zap.Logger) (pipeline.Executor, error) {
	return executor.NewHyperliquid(v.client.Exchange(), v.client.AccountAddress(), v.feeRate, logger)
}
