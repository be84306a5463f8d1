package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrMalformedData is returned for market data that fails validation.
var ErrMalformedData = errors.New("malformed market data")

// Candle aggregated OHLCV over one interval.
type Candle struct {
	// OpenTime start of the interval, the candle's identity within a stream.
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
	Symbol   Symbol
	Interval time.Duration
}

// CloseTime returns the end of the candle's interval.
func (c Candle) CloseTime() time.Time {
	return c.OpenTime.Add(c.Interval)
}

// Equal reports whether two candles carry the same values.
func (c Candle) Equal(o Candle) bool {
	return c.OpenTime.Equal(o.OpenTime) &&
		c.Symbol == o.Symbol &&
		c.Interval == o.Interval &&
		c.Open.Equal(o.Open) &&
		c.High.Equal(o.High) &&
		c.Low.Equal(o.Low) &&
		c.Close.Equal(o.Close) &&
		c.Volume.Equal(o.Volume)
}

// Validate checks price and volume sanity.
func (c Candle) Validate() error {
	if c.OpenTime.IsZero() {
		return errors.Wrap(ErrMalformedData, "candle has no open time")
	}
	if c.Symbol == "" {
		return errors.Wrap(ErrMalformedData, "candle has no symbol")
	}
	for _, p := range []decimal.Decimal{c.Open, c.High, c.Low, c.Close} {
		if !p.IsPositive() {
			return errors.Wrapf(ErrMalformedData, "candle %s has non-positive price", c.OpenTime.Format(time.RFC3339))
		}
	}
	if c.High.LessThan(c.Low) {
		return errors.Wrapf(ErrMalformedData, "candle %s high below low", c.OpenTime.Format(time.RFC3339))
	}
	if c.Open.GreaterThan(c.High) || c.Open.LessThan(c.Low) || c.Close.GreaterThan(c.High) || c.Close.LessThan(c.Low) {
		return errors.Wrapf(ErrMalformedData, "candle %s open/close outside range", c.OpenTime.Format(time.RFC3339))
	}
	if c.Volume.IsNegative() {
		return errors.Wrapf(ErrMalformedData, "candle %s has negative volume", c.OpenTime.Format(time.RFC3339))
	}
	return nil
}

// Tick single trade at a point in time.
type Tick struct {
	Time   time.Time
	Price  decimal.Decimal
	Volume decimal.Decimal
	Symbol Symbol
}

// Validate checks the tick price.
func (t Tick) Validate() error {
	if t.Time.IsZero() || !t.Price.IsPositive() {
		return errors.Wrap(ErrMalformedData, "tick has no time or non-positive price")
	}
	return nil
}
