package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/aitrader/internal/clients"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

// llmDecision reply format of the trading LLM.
type llmDecision struct {
	Action    string          `json:"action"`
	Fraction  decimal.Decimal `json:"fraction"`
	Reasoning string          `json:"reasoning"`
}

// LLM asks a chat model for the decision. Replies that cannot be parsed or
// validated resolve to Hold; transport failures are returned as errors.
type LLM struct {
	client clients.LLMClient
	logger *zap.Logger
}

// NewLLM creates an LLM engine.
func NewLLM(client clients.LLMClient, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{client: client, logger: logger}
}

// Decide sends the prompt and parses the reply.
func (l *LLM) Decide(ctx context.Context, in domain.DecisionInput) (domain.Decision, error) {
	reply, err := l.client.Complete(ctx, SystemPrompt, BuildUserPrompt(in))
	if err != nil {
		return nil, errors.Wrap(err, "LLM request")
	}

	d := ParseDecision(in.Symbol, reply)
	if h, ok := d.(domain.Hold); ok && h.Reason != "" {
		l.logger.Debug("LLM decision resolved to hold",
			zap.String("symbol", in.Symbol.String()),
			zap.String("reason", h.Reason))
	}
	return d, nil
}

// ParseDecision converts an LLM reply into a decision, defaulting to Hold for safety.
func ParseDecision(symbol domain.Symbol, raw string) domain.Decision {
	response := sanitizePayload(raw)

	if !json.Valid([]byte(response)) {
		return defaultHold("invalid JSON structure")
	}

	var reply llmDecision
	if err := json.Unmarshal([]byte(response), &reply); err != nil {
		return defaultHold(fmt.Sprintf("JSON unmarshal error: %v", err))
	}

	switch strings.ToLower(strings.TrimSpace(reply.Action)) {
	case domain.ActionBuy:
		b, err := domain.NewBuy(symbol, reply.Fraction)
		if err != nil {
			return defaultHold(err.Error())
		}
		return b
	case domain.ActionSellAll, "sell", "close":
		return domain.SellAll{Symbol: symbol}
	case domain.ActionHold:
		return domain.Hold{Reason: reply.Reasoning}
	default:
		return defaultHold(fmt.Sprintf("invalid action: %q", reply.Action))
	}
}

func defaultHold(reason string) domain.Hold {
	return domain.Hold{Reason: fmt.Sprintf("validation failed: %s, defaulting to hold", reason)}
}

func sanitizePayload(raw string) string {
	response := strings.TrimSpace(raw)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	return strings.TrimSpace(response)
}
