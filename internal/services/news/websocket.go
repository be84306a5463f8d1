package news

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/pkg/retrier"
	"go.uber.org/zap"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 20 * time.Second
)

// WebsocketFeed headline feed pushed over a websocket.
type WebsocketFeed struct {
	url       string
	subscribe any
	logger    *zap.Logger
}

// NewWebsocketFeed creates a websocket feed. When subscribe is non-nil it is sent
// as JSON after every (re)connect.
func NewWebsocketFeed(url string, subscribe any, logger *zap.Logger) *WebsocketFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebsocketFeed{url: url, subscribe: subscribe, logger: logger.With(zap.String("feed", url))}
}

// PollHeadlines connects and streams until ctx ends, reconnecting with backoff.
func (f *WebsocketFeed) PollHeadlines(ctx context.Context) (<-chan domain.Headline, error) {
	if f.url == "" {
		return nil, errors.New("news websocket url is empty")
	}

	out := make(chan domain.Headline, streamBuffer)
	seen := newSeenSet(seenCapacity)

	r := retrier.New(
		retrier.WithMaxRetries(-1),
		retrier.WithMaxInterval(time.Minute),
		retrier.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			f.logger.Warn("news websocket disconnected, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)

	go func() {
		defer close(out)
		_ = r.Do(ctx, func(ctx context.Context) error {
			err := f.consume(ctx, seen, out)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == nil {
				err = errors.New("connection closed")
			}
			return err
		})
	}()

	return out, nil
}

func (f *WebsocketFeed) consume(ctx context.Context, seen *seenSet, out chan<- domain.Headline) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	if f.subscribe != nil {
		if err := conn.WriteJSON(f.subscribe); err != nil {
			return errors.Wrap(err, "subscribe")
		}
	}
	f.logger.Info("connected news feed")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-connCtx.Done():
				// unblock ReadMessage
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		items, err := decodeItems(message)
		if err != nil {
			f.logger.Debug("skipping undecodable message", zap.Error(err))
			continue
		}
		for _, it := range items {
			h, ok := it.headline(f.url)
			if !ok || !seen.add(h) {
				continue
			}
			select {
			case out <- h:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
