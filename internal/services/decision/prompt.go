package decision

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

// SystemPrompt global instructions for the trading LLM.
const SystemPrompt = `You are a cryptocurrency spot trading system. Your objective is to make profitable trading decisions by analyzing market data.

## TRADING CONSTRAINTS
1. Spot only: you can buy with available cash or sell the whole position. No shorts, no leverage.
2. A buy spends a fraction of available cash, between 0 and 1.
3. A separate risk manager may shrink or reject your decision.

## AVAILABLE DATA FIELDS
- Current Price: latest traded price
- RSI14: relative strength index, range 0-100
- EMA_short, EMA_long: exponential moving averages (12 and 26 periods)
- Bollinger upper/middle/lower: 20-period bands, 2 standard deviations
- Sentiment: news sentiment in [-1, 1], -1 very bearish, 1 very bullish
- Cash: available quote currency
- Position: held quantity and average entry price, if any

Indicators marked "n/a" are still warming up.

## DECISION OUTPUT FORMAT

Respond with ONLY valid JSON. No markdown, no code blocks, no additional text.

{
  "action": "buy|sell_all|hold",
  "fraction": 0.0,
  "reasoning": "explain your analysis and decision"
}

- "buy": fraction of cash to spend, greater than 0 and at most 1.
- "sell_all": close the whole position. Only valid when a position is held.
- "hold": do nothing. Use fraction 0.

Do not force trades. "hold" is a valid decision when conditions are unclear.`

// BuildUserPrompt formats one cycle's input.
func BuildUserPrompt(in domain.DecisionInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Market Analysis for %s\n\n", in.Symbol)
	fmt.Fprintf(&sb, "Current Price: %s\n\n", in.Price.String())

	sb.WriteString("## Indicators\n")
	fmt.Fprintf(&sb, "RSI14: %s\n", opt(in.Technical.RSI))
	fmt.Fprintf(&sb, "EMA_short: %s\n", opt(in.Technical.EMAShort))
	fmt.Fprintf(&sb, "EMA_long: %s\n", opt(in.Technical.EMALong))
	fmt.Fprintf(&sb, "Bollinger upper/middle/lower: %s / %s / %s\n\n",
		opt(in.Technical.BollingerUpper), opt(in.Technical.BollingerMiddle), opt(in.Technical.BollingerLower))

	fmt.Fprintf(&sb, "## Sentiment\n%.3f\n\n", in.Sentiment.Score)

	sb.WriteString("## Account\n")
	fmt.Fprintf(&sb, "Cash: %s %s\n", in.Portfolio.Cash.StringFixed(2), in.Symbol.Quote())
	pos := in.Portfolio.Position(in.Symbol)
	if pos.IsFlat() {
		sb.WriteString("Position: none\n")
	} else {
		pnl := in.Price.Sub(pos.AvgPrice).Mul(pos.Quantity)
		fmt.Fprintf(&sb, "Position: %s %s @ %s, unrealized P&L %s\n",
			pos.Quantity.String(), in.Symbol.Base(), pos.AvgPrice.String(), pnl.StringFixed(2))
	}

	return sb.String()
}

func opt(v *decimal.Decimal) string {
	if v == nil {
		return "n/a"
	}
	return v.StringFixed(4)
}
