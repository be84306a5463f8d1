package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// TechnicalSignals indicator values for a symbol.
// A nil field means the indicator is still warming up.
type TechnicalSignals struct {
	RSI             *decimal.Decimal `json:"rsi,omitempty"`
	EMAShort        *decimal.Decimal `json:"ema_short,omitempty"`
	EMALong         *decimal.Decimal `json:"ema_long,omitempty"`
	BollingerUpper  *decimal.Decimal `json:"bollinger_upper,omitempty"`
	BollingerMiddle *decimal.Decimal `json:"bollinger_middle,omitempty"`
	BollingerLower  *decimal.Decimal `json:"bollinger_lower,omitempty"`
}

// Ready reports whether every indicator is available.
func (s TechnicalSignals) Ready() bool {
	return s.RSI != nil && s.EMAShort != nil && s.EMALong != nil &&
		s.BollingerUpper != nil && s.BollingerMiddle != nil && s.BollingerLower != nil
}

// Equal compares two signal sets field by field.
func (s TechnicalSignals) Equal(o TechnicalSignals) bool {
	return optEqual(s.RSI, o.RSI) &&
		optEqual(s.EMAShort, o.EMAShort) &&
		optEqual(s.EMALong, o.EMALong) &&
		optEqual(s.BollingerUpper, o.BollingerUpper) &&
		optEqual(s.BollingerMiddle, o.BollingerMiddle) &&
		optEqual(s.BollingerLower, o.BollingerLower)
}

func optEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// SentimentSignals bounded sentiment score in [-1, 1].
type SentimentSignals struct {
	Score float64 `json:"score"`
}

// NewSentimentSignals clamps the score into [-1, 1]. NaN becomes neutral.
func NewSentimentSignals(score float64) SentimentSignals {
	return SentimentSignals{Score: ClampScore(score)}
}

// ClampScore bounds a raw sentiment value to [-1, 1].
func ClampScore(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(-1, math.Min(1, score))
}

// DecisionInput everything a decision engine sees for one cycle.
type DecisionInput struct {
	Symbol    Symbol
	Price     decimal.Decimal
	Technical TechnicalSignals
	Sentiment SentimentSignals
	// Portfolio read-only snapshot, may be stale by commit time.
	Portfolio Portfolio
}
