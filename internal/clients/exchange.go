// Package clients builds exchange SDK clients and the OpenAI-compatible chat client.
package clients

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"
)

// NewBinanceClient creates a Binance client. Empty credentials give a public-data client.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}

// NewBybitClient creates a Bybit client, authenticated when credentials are set.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	client := bybit.NewClient()
	if apiKey != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}
	return client
}

// HyperliquidClient exchange handle plus the account derived from the signing key.
type HyperliquidClient struct {
	exchange    *hyperliquid.Exchange
	accountAddr string
}

// NewHyperliquidClient derives the account address from a hex private key and builds the exchange.
func NewHyperliquidClient(privateKeyHex string, baseURL string) (*HyperliquidClient, error) {
	key := strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, errors.Wrap(err, "parse hyperliquid private key")
	}
	return newHyperliquidClient(privateKey, baseURL)
}

// NewHyperliquidReadOnlyClient signs with a throwaway key. Good for public market data only.
func NewHyperliquidReadOnlyClient(baseURL string) (*HyperliquidClient, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate hyperliquid key")
	}
	return newHyperliquidClient(privateKey, baseURL)
}

func newHyperliquidClient(privateKey *ecdsa.PrivateKey, baseURL string) (*HyperliquidClient, error) {
	pubECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("error casting public key to ECDSA")
	}
	accountAddr := crypto.PubkeyToAddress(*pubECDSA).Hex()

	// Info and SpotMeta are fetched lazily by the SDK
	ex := hyperliquid.NewExchange(
		context.Background(),
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)

	return &HyperliquidClient{exchange: ex, accountAddr: accountAddr}, nil
}

// Exchange returns the SDK exchange.
func (c *HyperliquidClient) Exchange() *hyperliquid.Exchange { return c.exchange }

// Info returns the SDK info endpoint client.
func (c *HyperliquidClient) Info() *hyperliquid.Info { return c.exchange.Info() }

// AccountAddress returns the account address derived from the key.
func (c *HyperliquidClient) AccountAddress() string { return c.accountAddr }
