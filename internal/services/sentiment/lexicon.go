// Package sentiment scores headline text into [-1, 1].
package sentiment

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/vadiminshakov/aitrader/internal/domain"
)

var defaultLexicon = map[string]float64{
	"surge": 1, "surges": 1, "soar": 1, "soars": 1, "rally": 1, "rallies": 1,
	"gain": 0.6, "gains": 0.6, "rise": 0.5, "rises": 0.5, "bull": 0.8, "bullish": 1,
	"record": 0.5, "approve": 0.8, "approved": 0.8, "approval": 0.8, "adopt": 0.6,
	"adoption": 0.6, "upgrade": 0.6, "partnership": 0.5, "breakout": 0.7, "inflows": 0.6,
	"crash": -1, "crashes": -1, "plunge": -1, "plunges": -1, "dump": -0.8, "dumps": -0.8,
	"fall": -0.5, "falls": -0.5, "drop": -0.5, "drops": -0.5, "bear": -0.8, "bearish": -1,
	"hack": -1, "hacked": -1, "exploit": -0.9, "ban": -0.9, "bans": -0.9, "banned": -0.9,
	"lawsuit": -0.7, "sues": -0.7, "fraud": -1, "liquidation": -0.7, "outflows": -0.6,
	"reject": -0.7, "rejected": -0.7, "delay": -0.4, "delays": -0.4, "selloff": -0.8,
}

var negations = map[string]struct{}{
	"not": {}, "no": {}, "never": {}, "without": {}, "denies": {}, "denied": {},
}

// Lexicon word-list scorer. A negation flips the next scored word.
// The score is the mean of matched weights squashed with tanh.
type Lexicon struct {
	weights map[string]float64
}

// NewLexicon creates a scorer; extra entries override the built-in word list.
func NewLexicon(extra map[string]float64) *Lexicon {
	weights := make(map[string]float64, len(defaultLexicon)+len(extra))
	for w, v := range defaultLexicon {
		weights[w] = v
	}
	for w, v := range extra {
		weights[strings.ToLower(w)] = v
	}
	return &Lexicon{weights: weights}
}

// Score scores text. Text with no known words is neutral.
func (l *Lexicon) Score(_ context.Context, text string) (float64, error) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var sum float64
	matched := 0
	negate := false
	for _, w := range words {
		if _, ok := negations[w]; ok {
			negate = true
			continue
		}
		v, ok := l.weights[w]
		if !ok {
			continue
		}
		if negate {
			v = -v
			negate = false
		}
		sum += v
		matched++
	}
	if matched == 0 {
		return 0, nil
	}

	return domain.ClampScore(math.Tanh(sum / math.Sqrt(float64(matched)))), nil
}
