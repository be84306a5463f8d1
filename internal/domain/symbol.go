// Package domain defines the value types shared by every stage of the trading pipeline.
package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Symbol traded instrument written as BASE_QUOTE, e.g. BTC_USDT.
type Symbol string

// ParseSymbol validates and normalizes a symbol string.
func ParseSymbol(s string) (Symbol, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	parts := strings.Split(s, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", errors.Errorf("invalid symbol %q, expected BASE_QUOTE", s)
	}
	return Symbol(s), nil
}

// Base returns the base asset.
func (s Symbol) Base() string {
	base, _, _ := strings.Cut(string(s), "_")
	return base
}

// Quote returns the quote asset.
func (s Symbol) Quote() string {
	_, quote, _ := strings.Cut(string(s), "_")
	return quote
}

// Exchange returns the concatenated exchange representation (BTCUSDT).
func (s Symbol) Exchange() string {
	return s.Base() + s.Quote()
}

// String returns the string representation.
func (s Symbol) String() string {
	return string(s)
}
