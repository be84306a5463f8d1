package sentiment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/aitrader/internal/clients"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

const systemPrompt = `You rate the market sentiment of crypto news headlines.
Reply with JSON only: {"score": <number between -1 and 1>}.
-1 is very bearish, 0 is neutral, 1 is very bullish.`

// LLM scorer backed by a chat model.
type LLM struct {
	client clients.LLMClient
}

// NewLLM creates an LLM scorer.
func NewLLM(client clients.LLMClient) *LLM {
	return &LLM{client: client}
}

// Score asks the model for a score. Out-of-range replies are clamped.
func (l *LLM) Score(ctx context.Context, text string) (float64, error) {
	reply, err := l.client.Complete(ctx, systemPrompt, "Headline: "+text)
	if err != nil {
		return 0, errors.Wrap(err, "sentiment request")
	}

	payload := stripFences(reply)
	var out struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return 0, errors.Wrap(err, "decode sentiment reply")
	}
	if out.Score == nil {
		return 0, errors.New("sentiment reply has no score")
	}

	return domain.ClampScore(*out.Score), nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
