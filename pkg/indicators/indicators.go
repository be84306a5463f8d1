// Package indicators wraps cinar/indicator for decimal price series (EMA, RSI, Bollinger bands).
package indicators

import (
	"math"
	"sync"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrNotEnoughData returned while an indicator is still warming up.
var ErrNotEnoughData = errors.New("not enough data points")

// Bands Bollinger band series, aligned by index.
type Bands struct {
	Upper  []decimal.Decimal
	Middle []decimal.Decimal
	Lower  []decimal.Decimal
}

// CalculateEMA calculates the Exponential Moving Average for the given period.
func CalculateEMA(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if period < 1 || len(closes) < period {
		return nil, errors.Wrapf(ErrNotEnoughData, "EMA(%d): got %d", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(decimalsToFloat64(closes))))

	return float64ToDecimals(out), nil
}

// CalculateRSI calculates the Relative Strength Index for the given period.
func CalculateRSI(closes []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if period < 1 || len(closes) < period+1 {
		return nil, errors.Wrapf(ErrNotEnoughData, "RSI(%d): need %d, got %d", period, period+1, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(decimalsToFloat64(closes))))
	for i, v := range out {
		// no gains and no losses over the window
		if math.IsNaN(v) {
			out[i] = 50
		}
	}

	return float64ToDecimals(out), nil
}

// CalculateBollinger calculates Bollinger bands (2 standard deviations) for the given period.
func CalculateBollinger(closes []decimal.Decimal, period int) (Bands, error) {
	if period < 2 || len(closes) < period {
		return Bands{}, errors.Wrapf(ErrNotEnoughData, "Bollinger(%d): got %d", period, len(closes))
	}

	bb := volatility.NewBollingerBands[float64]()
	bb.Period = period
	upperChan, middleChan, lowerChan := bb.Compute(helper.SliceToChan(decimalsToFloat64(closes)))

	// the three outputs share one upstream, drain them together
	var upper, middle, lower []float64
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); upper = helper.ChanToSlice(upperChan) }()
	go func() { defer wg.Done(); middle = helper.ChanToSlice(middleChan) }()
	go func() { defer wg.Done(); lower = helper.ChanToSlice(lowerChan) }()
	wg.Wait()

	return Bands{
		Upper:  float64ToDecimals(upper),
		Middle: float64ToDecimals(middle),
		Lower:  float64ToDecimals(lower),
	}, nil
}

// Last returns the most recent value of a series, false when the series is empty.
func Last(series []decimal.Decimal) (decimal.Decimal, bool) {
	if len(series) == 0 {
		return decimal.Zero, false
	}
	return series[len(series)-1], true
}

// decimalsToFloat64 converts decimal slice to float64 slice.
func decimalsToFloat64(decimals []decimal.Decimal) []float64 {
	floats := make([]float64, len(decimals))
	for i, d := range decimals {
		floats[i], _ = d.Float64()
	}
	return floats
}

// float64ToDecimals converts float64 slice to decimal slice.
func float64ToDecimals(floats []float64) []decimal.Decimal {
	decimals := make([]decimal.Decimal, len(floats))
	for i, f := range floats {
		decimals[i] = decimal.NewFromFloat(f)
	}
	return decimals
}
