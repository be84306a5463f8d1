// Package news provides headline sources: a polled HTTP JSON feed and a websocket feed.
package news

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

const (
	streamBuffer = 64
	seenCapacity = 4096
)

// item wire format shared by the HTTP and websocket feeds.
// Either title or text carries the headline.
type item struct {
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	Source      string    `json:"source"`
	Symbols     []string  `json:"symbols"`
	PublishedAt time.Time `json:"published_at"`
}

func (i item) headline(fallbackSource string) (domain.Headline, bool) {
	text := strings.TrimSpace(i.Title)
	if text == "" {
		text = strings.TrimSpace(i.Text)
	}
	if text == "" {
		return domain.Headline{}, false
	}

	h := domain.Headline{
		Text:        text,
		Source:      i.Source,
		PublishedAt: i.PublishedAt,
	}
	if h.Source == "" {
		h.Source = fallbackSource
	}
	if h.PublishedAt.IsZero() {
		h.PublishedAt = time.Now()
	}
	for _, s := range i.Symbols {
		if sym, err := domain.ParseSymbol(s); err == nil {
			h.Symbols = append(h.Symbols, sym)
		}
	}
	return h, true
}

// decodeItems accepts a JSON array of items, an object with a "headlines" array, or a single item.
func decodeItems(payload []byte) ([]item, error) {
	payload = []byte(strings.TrimSpace(string(payload)))
	if len(payload) == 0 {
		return nil, nil
	}

	if payload[0] == '[' {
		var items []item
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, errors.Wrap(err, "decode headline list")
		}
		return items, nil
	}

	var envelope struct {
		Headlines []item `json:"headlines"`
		item
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, errors.Wrap(err, "decode headline object")
	}
	if len(envelope.Headlines) > 0 {
		return envelope.Headlines, nil
	}
	return []item{envelope.item}, nil
}

// seenSet bounded set of headline hashes, oldest forgotten first.
type seenSet struct {
	mu    sync.Mutex
	order [][32]byte
	set   map[[32]byte]struct{}
	cap   int
}

func newSeenSet(capacity int) *seenSet {
	return &seenSet{set: make(map[[32]byte]struct{}, capacity), cap: capacity}
}

// add returns false when the headline was already seen.
func (s *seenSet) add(h domain.Headline) bool {
	key := sha256.Sum256([]byte(h.Source + "\x00" + h.Text))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.set[key]; ok {
		return false
	}
	s.set[key] = struct{}{}
	s.order = append(s.order, key)
	if len(s.order) > s.cap {
		delete(s.set, s.order[0])
		s.order = s.order[1:]
	}
	return true
}

// Source headline producer.
type Source interface {
	PollHeadlines(ctx context.Context) (<-chan domain.Headline, error)
}

// Merge fans several sources into one stream, deduplicating across them.
// The merged channel closes once every source has closed.
type Merge struct {
	sources []Source
	logger  *zap.Logger
}

// NewMerge creates a merged source.
func NewMerge(logger *zap.Logger, sources ...Source) *Merge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Merge{sources: sources, logger: logger}
}

// PollHeadlines starts every source. A source that fails to start is logged and skipped.
func (m *Merge) PollHeadlines(ctx context.Context) (<-chan domain.Headline, error) {
	out := make(chan domain.Headline, streamBuffer)
	seen := newSeenSet(seenCapacity)

	var wg sync.WaitGroup
	started := 0
	for _, src := range m.sources {
		ch, err := src.PollHeadlines(ctx)
		if err != nil {
			m.logger.Warn("news source failed to start", zap.Error(err))
			continue
		}
		started++
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range ch {
				if !seen.add(h) {
					continue
				}
				select {
				case out <- h:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if started == 0 && len(m.sources) > 0 {
		close(out)
		return nil, errors.New("no news source could be started")
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, nil
}
