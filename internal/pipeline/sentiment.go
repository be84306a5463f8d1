package pipeline

import (
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/vadiminshakov/aitrader/internal/domain"
)

const globalSentimentScope = "global"

// SentimentTracker decaying moving averages of headline scores, one process-wide and one
// per symbol that received attributed news.
type SentimentTracker struct {
	mu        sync.RWMutex
	alpha     float64
	halfLife  time.Duration
	symbols   []domain.Symbol
	global    *sentimentValue
	perSymbol map[domain.Symbol]*sentimentValue
	now       func() time.Time
}

type sentimentValue struct {
	score float64
	at    time.Time
}

// decayed score halved every halfLife since the last update.
func (v *sentimentValue) decayed(now time.Time, halfLife time.Duration) float64 {
	if v == nil {
		return 0
	}
	if halfLife <= 0 || !now.After(v.at) {
		return v.score
	}
	return v.score * math.Pow(0.5, float64(now.Sub(v.at))/float64(halfLife))
}

// NewSentimentTracker alpha is the weight of a new score in (0, 1]; halfLife 0 disables decay.
func NewSentimentTracker(symbols []domain.Symbol, alpha float64, halfLife time.Duration) *SentimentTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &SentimentTracker{
		alpha:     alpha,
		halfLife:  halfLife,
		symbols:   append([]domain.Symbol(nil), symbols...),
		perSymbol: make(map[domain.Symbol]*sentimentValue),
		now:       time.Now,
	}
}

// Observe folds a scored headline in and returns the symbols it was attributed to.
func (t *SentimentTracker) Observe(h domain.Headline, score float64) []domain.Symbol {
	score = domain.ClampScore(score)
	attributed := t.attribute(h)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.global = t.update(t.global, score, now)
	for _, s := range attributed {
		t.perSymbol[s] = t.update(t.perSymbol[s], score, now)
	}
	return attributed
}

func (t *SentimentTracker) update(v *sentimentValue, score float64, now time.Time) *sentimentValue {
	if v == nil {
		return &sentimentValue{score: score, at: now}
	}
	prev := v.decayed(now, t.halfLife)
	return &sentimentValue{score: domain.ClampScore(prev + t.alpha*(score-prev)), at: now}
}

// Current the symbol's value when it has attributed news, otherwise the process-wide value.
func (t *SentimentTracker) Current(symbol domain.Symbol) domain.SentimentSignals {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	if v, ok := t.perSymbol[symbol]; ok {
		return domain.NewSentimentSignals(v.decayed(now, t.halfLife))
	}
	return domain.NewSentimentSignals(t.global.decayed(now, t.halfLife))
}

// Global the process-wide value.
func (t *SentimentTracker) Global() domain.SentimentSignals {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.NewSentimentSignals(t.global.decayed(t.now(), t.halfLife))
}

// attribute explicit tracked symbols first, otherwise tracked symbols whose base asset
// appears as a word in the text.
func (t *SentimentTracker) attribute(h domain.Headline) []domain.Symbol {
	var out []domain.Symbol
	if len(h.Symbols) > 0 {
		for _, s := range h.Symbols {
			if t.tracked(s) {
				out = append(out, s)
			}
		}
		return out
	}

	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(h.Text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[strings.ToUpper(w)] = struct{}{}
	}
	for _, s := range t.symbols {
		if _, ok := words[s.Base()]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (t *SentimentTracker) tracked(s domain.Symbol) bool {
	for _, v := range t.symbols {
		if v == s {
			return true
		}
	}
	return false
}
