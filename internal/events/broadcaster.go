// Package events fans out portfolio commit events to in-process subscribers.
package events

import (
	"sync"
	"time"

	"github.com/vadiminshakov/aitrader/internal/domain"
)

// CommitEvent published after the Book applied a trade.
// Uses string fields to avoid float precision issues when consumed by web clients.
type CommitEvent struct {
	Timestamp time.Time `json:"ts"`
	TradeID   string    `json:"trade_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Price     string    `json:"price"`
	Quantity  string    `json:"quantity"`
	Fee       string    `json:"fee"`
	Cash      string    `json:"cash"`
	Position  string    `json:"position"`
	// Persisted false when the store write was escalated and is still pending.
	Persisted bool `json:"persisted"`
}

// NewCommitEvent builds the event for a trade and the portfolio it produced.
func NewCommitEvent(t domain.Trade, next domain.Portfolio, persisted bool) CommitEvent {
	return CommitEvent{
		Timestamp: time.Now().UTC(),
		TradeID:   t.ID,
		Symbol:    t.Symbol.String(),
		Side:      t.Side.String(),
		Price:     t.Price.String(),
		Quantity:  t.Quantity.String(),
		Fee:       t.Fee.String(),
		Cash:      next.Cash.String(),
		Position:  next.Position(t.Symbol).Quantity.String(),
		Persisted: persisted,
	}
}

// Broadcaster fans out values to all subscribers via buffered channels.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
	}
}

// Publish sends v to all subscribers, dropping if a reader is slow.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives values until Unsubscribe is called.
func (b *Broadcaster[T]) Subscribe() chan T {
	ch := make(chan T, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
