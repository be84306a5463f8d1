package news

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

const defaultHTTPTimeout = 15 * time.Second

// HTTPFeed polls a JSON headline endpoint.
type HTTPFeed struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPFeed creates a polled feed.
func NewHTTPFeed(url string, interval time.Duration, logger *zap.Logger) *HTTPFeed {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPFeed{
		url:        url,
		interval:   interval,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     logger.With(zap.String("feed", url)),
	}
}

// PollHeadlines polls until ctx ends, emitting headlines not seen before.
func (f *HTTPFeed) PollHeadlines(ctx context.Context) (<-chan domain.Headline, error) {
	if f.url == "" {
		return nil, errors.New("news feed url is empty")
	}

	out := make(chan domain.Headline, streamBuffer)
	seen := newSeenSet(seenCapacity)

	go func() {
		defer close(out)

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		for {
			items, err := f.fetch(ctx)
			if err != nil && ctx.Err() == nil {
				f.logger.Warn("headline poll failed", zap.Error(err))
			}
			for _, it := range items {
				h, ok := it.headline(f.url)
				if !ok || !seen.add(h) {
					continue
				}
				select {
				case out <- h:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out, nil
}

func (f *HTTPFeed) fetch(ctx context.Context) ([]item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create HTTP request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed returned status %d", resp.StatusCode)
	}

	return decodeItems(body)
}
