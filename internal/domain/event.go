package domain

import (
	"strings"
	"time"
)

// Mode operating mode.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Headline news item.
type Headline struct {
	Text        string    `json:"text"`
	Source      string    `json:"source,omitempty"`
	Symbols     []Symbol  `json:"symbols,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Outcome how a decision cycle ended.
type Outcome string

const (
	OutcomeHold      Outcome = "hold"
	OutcomeUnfilled  Outcome = "unfilled"
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

// DecisionEvent record of one decision cycle.
type DecisionEvent struct {
	CycleID   string           `json:"cycle_id"`
	Timestamp time.Time        `json:"ts"`
	Symbol    Symbol           `json:"symbol"`
	Engine    string           `json:"engine,omitempty"`
	Price     string           `json:"price,omitempty"`
	Signals   TechnicalSignals `json:"signals"`
	Sentiment float64          `json:"sentiment"`
	Proposed  string           `json:"proposed,omitempty"`
	Reviewed  string           `json:"reviewed,omitempty"`
	Outcome   Outcome          `json:"outcome"`
	TradeID   string           `json:"trade_id,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// DecisionEventRecord bundles a decision event with its log index.
type DecisionEventRecord struct {
	Index uint64
	Event DecisionEvent
}

// NormalizeModelName strips the gpt://folder_id/ prefix some providers put in model names,
// e.g. "gpt://b1g8t5pmnjifaov0paff/yandexgpt/rc" becomes "yandexgpt".
func NormalizeModelName(model string) string {
	idx := strings.Index(model, "gpt://")
	if idx < 0 {
		return model
	}
	remainder := model[idx+len("gpt://"):]
	_, rest, ok := strings.Cut(remainder, "/")
	if !ok {
		return model
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}
