// Package decision provides decision engines: an indicator rule set and an LLM-backed engine.
package decision

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

// RulesConfig thresholds for the rules engine.
type RulesConfig struct {
	Oversold   decimal.Decimal
	Overbought decimal.Decimal
	// BaseFraction cash fraction for a full-conviction entry.
	BaseFraction decimal.Decimal
	// MinSentiment required to enter.
	MinSentiment float64
	// ExitSentiment below which a held position is closed.
	ExitSentiment float64
}

// DefaultRulesConfig RSI 30/70, 20% entries, no sentiment filter on entry, exit below -0.5.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		Oversold:      decimal.NewFromInt(30),
		Overbought:    decimal.NewFromInt(70),
		BaseFraction:  decimal.NewFromFloat(0.2),
		MinSentiment:  -0.2,
		ExitSentiment: -0.5,
	}
}

// Rules mean-reversion entries confirmed by trend, exits on overbought, trend break or bad news.
// Pure and safe for concurrent use.
type Rules struct {
	cfg RulesConfig
}

// NewRules creates a rules engine.
func NewRules(cfg RulesConfig) *Rules {
	return &Rules{cfg: cfg}
}

// Decide proposes a decision from indicators, sentiment and the position in the symbol.
func (r *Rules) Decide(_ context.Context, in domain.DecisionInput) (domain.Decision, error) {
	if !in.Technical.Ready() {
		return domain.Hold{Reason: "indicators warming up"}, nil
	}
	if !in.Price.IsPositive() {
		return domain.Hold{Reason: "no price"}, nil
	}

	sig := in.Technical
	held := !in.Portfolio.Position(in.Symbol).IsFlat()
	sentiment := in.Sentiment.Score

	if held {
		switch {
		case sig.RSI.GreaterThan(r.cfg.Overbought):
			return domain.SellAll{Symbol: in.Symbol}, nil
		case in.Price.GreaterThanOrEqual(*sig.BollingerUpper):
			return domain.SellAll{Symbol: in.Symbol}, nil
		case sig.EMAShort.LessThan(*sig.EMALong) && in.Price.LessThan(*sig.BollingerMiddle):
			return domain.SellAll{Symbol: in.Symbol}, nil
		case sentiment < r.cfg.ExitSentiment:
			return domain.SellAll{Symbol: in.Symbol}, nil
		}
		return domain.Hold{Reason: "holding position"}, nil
	}

	oversold := sig.RSI.LessThan(r.cfg.Oversold) || in.Price.LessThanOrEqual(*sig.BollingerLower)
	uptrend := sig.EMAShort.GreaterThanOrEqual(*sig.EMALong)
	if !oversold || !uptrend {
		return domain.Hold{Reason: "no entry signal"}, nil
	}
	if sentiment < r.cfg.MinSentiment {
		return domain.Hold{Reason: fmt.Sprintf("sentiment %.2f below entry threshold", sentiment)}, nil
	}

	// scale by conviction: neutral news halves the size, full bullish news keeps it
	conviction := decimal.NewFromFloat((1 + sentiment) / 2)
	fraction := r.cfg.BaseFraction.Mul(conviction).Round(4)
	if !fraction.IsPositive() {
		return domain.Hold{Reason: "zero size"}, nil
	}
	if fraction.GreaterThan(decimal.NewFromInt(1)) {
		fraction = decimal.NewFromInt(1)
	}

	return domain.NewBuy(in.Symbol, fraction)
}
