package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"go.uber.org/zap"
)

func collect(t *testing.T, ch <-chan domain.Headline, n int) []domain.Headline {
	t.Helper()
	var out []domain.Headline
	for len(out) < n {
		select {
		case h, ok := <-ch:
			require.True(t, ok, "stream closed early")
			out = append(out, h)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d headlines", len(out))
		}
	}
	return out
}

func TestDecodeItems(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		count   int
	}{
		{"array", `[{"title":"a"},{"text":"b"}]`, 2},
		{"envelope", `{"headlines":[{"title":"a"}]}`, 1},
		{"single", `{"title":"solo","symbols":["btc_usdt"]}`, 1},
		{"empty", ``, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := decodeItems([]byte(tt.payload))
			require.NoError(t, err)
			assert.Len(t, items, tt.count)
		})
	}

	_, err := decodeItems([]byte(`{not json`))
	assert.Error(t, err)
}

func TestItemHeadline(t *testing.T) {
	h, ok := item{Title: "  ETF approved  ", Symbols: []string{"btc_usdt", "bogus"}}.headline("feed")
	require.True(t, ok)
	assert.Equal(t, "ETF approved", h.Text)
	assert.Equal(t, "feed", h.Source)
	assert.Equal(t, []domain.Symbol{"BTC_USDT"}, h.Symbols)
	assert.False(t, h.PublishedAt.IsZero())

	_, ok = item{}.headline("feed")
	assert.False(t, ok)
}

func TestHTTPFeed_PollsAndDeduplicates(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "application/json")
		if hits == 1 {
			_, _ = w.Write([]byte(`[{"title":"first"},{"title":"second"}]`))
			return
		}
		_, _ = w.Write([]byte(`[{"title":"second"},{"title":"third"}]`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewHTTPFeed(srv.URL, 10*time.Millisecond, zap.NewNop()).PollHeadlines(ctx)
	require.NoError(t, err)

	got := collect(t, ch, 3)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
	assert.Equal(t, "third", got[2].Text)

	cancel()
	for range ch {
	}
}

func TestHTTPFeed_EmptyURL(t *testing.T) {
	_, err := NewHTTPFeed("", time.Second, nil).PollHeadlines(context.Background())
	assert.Error(t, err)
}

func TestWebsocketFeed_SubscribesAndStreams(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan map[string]any, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub map[string]any
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"title":"BTC rallies","symbols":["BTC_USDT"]}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`garbage`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"headlines":[{"title":"BTC rallies"},{"title":"ETH dips"}]}`))

		// hold the connection until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	feed := NewWebsocketFeed(url, map[string]any{"op": "subscribe", "channel": "news"}, zap.NewNop())
	ch, err := feed.PollHeadlines(ctx)
	require.NoError(t, err)

	got := collect(t, ch, 2)
	assert.Equal(t, "BTC rallies", got[0].Text)
	assert.Equal(t, []domain.Symbol{"BTC_USDT"}, got[0].Symbols)
	assert.Equal(t, "ETH dips", got[1].Text)

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub["op"])
	default:
		t.Fatal("no subscription received")
	}

	cancel()
	for range ch {
	}
}

type staticSource []domain.Headline

func (s staticSource) PollHeadlines(ctx context.Context) (<-chan domain.Headline, error) {
	ch := make(chan domain.Headline, len(s))
	for _, h := range s {
		ch <- h
	}
	close(ch)
	return ch, nil
}

func TestMerge_DeduplicatesAcrossSources(t *testing.T) {
	a := staticSource{{Text: "x", Source: "s"}, {Text: "y", Source: "s"}}
	b := staticSource{{Text: "x", Source: "s"}, {Text: "z", Source: "s"}}

	ch, err := NewMerge(zap.NewNop(), a, b).PollHeadlines(context.Background())
	require.NoError(t, err)

	texts := map[string]int{}
	for h := range ch {
		texts[h.Text]++
	}
	assert.Equal(t, map[string]int{"x": 1, "y": 1, "z": 1}, texts)
}
