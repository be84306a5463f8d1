package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/events"
)

type fixedPortfolio domain.Portfolio

func (p fixedPortfolio) Snapshot() domain.Portfolio { return domain.Portfolio(p).Clone() }

type decisionList struct {
	records []domain.DecisionEventRecord
	err     error
}

func (d decisionList) EventsAfter(index uint64) ([]domain.DecisionEventRecord, error) {
	if d.err != nil {
		return nil, d.err
	}
	var out []domain.DecisionEventRecord
	for _, r := range d.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestServer_Portfolio(t *testing.T) {
	p := domain.Portfolio{
		Cash: decimal.RequireFromString("499"),
		Positions: map[domain.Symbol]domain.Position{
			"ETH_USDT": {Symbol: "ETH_USDT", Quantity: decimal.RequireFromString("2"), AvgPrice: decimal.RequireFromString("100")},
			"BTC_USDT": {Symbol: "BTC_USDT", Quantity: decimal.RequireFromString("0.5"), AvgPrice: decimal.RequireFromString("1000")},
		},
	}
	srv := NewServer(":0", fixedPortfolio(p), nil, nil, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/portfolio", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got portfolioView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Cash.Equal(decimal.RequireFromString("499")))
	require.Len(t, got.Positions, 2)
	assert.Equal(t, "BTC_USDT", got.Positions[0].Symbol)
	assert.Equal(t, "ETH_USDT", got.Positions[1].Symbol)
}

func TestServer_UnavailableSources(t *testing.T) {
	h := NewServer(":0", nil, nil, nil, nil, nil).Handler()
	for _, path := range []string{"/portfolio", "/commits/stream", "/decisions/stream"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "commits_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	rec := httptest.NewRecorder()
	NewServer(":0", nil, nil, nil, reg, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "commits_total 1")
}

func TestServer_DecisionStream(t *testing.T) {
	log := decisionList{records: []domain.DecisionEventRecord{
		{Index: 1, Event: domain.DecisionEvent{CycleID: "a", Symbol: "BTC_USDT", Outcome: domain.OutcomeHold}},
		{Index: 2, Event: domain.DecisionEvent{CycleID: "b", Symbol: "ETH_USDT", Outcome: domain.OutcomeCommitted}},
		{Index: 3, Event: domain.DecisionEvent{CycleID: "c", Symbol: "BTC_USDT", Outcome: domain.OutcomeFailed}},
	}}
	srv := NewServer(":0", nil, log, nil, nil, nil)

	tests := []struct {
		name    string
		target  string
		header  string
		want    []string
		notWant []string
	}{
		{"all", "/decisions/stream", "", []string{`"cycle_id":"a"`, `"cycle_id":"b"`, `"cycle_id":"c"`, "id: 3"}, nil},
		{"resume from header", "/decisions/stream", "1", []string{`"cycle_id":"b"`}, []string{`"cycle_id":"a"`}},
		{"resume from query", "/decisions/stream?last_event_id=2", "", []string{`"cycle_id":"c"`}, []string{`"cycle_id":"b"`}},
		{"symbol filter", "/decisions/stream?symbol=eth_usdt", "", []string{`"cycle_id":"b"`}, []string{`"cycle_id":"a"`, `"cycle_id":"c"`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil).WithContext(ctx)
			if tt.header != "" {
				req.Header.Set("Last-Event-ID", tt.header)
			}
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)

			assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
			body := rec.Body.String()
			for _, w := range tt.want {
				assert.Contains(t, body, w)
			}
			for _, w := range tt.notWant {
				assert.NotContains(t, body, w)
			}
		})
	}
}

func TestServer_DecisionStreamLoadError(t *testing.T) {
	srv := NewServer(":0", nil, decisionList{err: errors.New("wal closed")}, nil, nil, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/decisions/stream", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_CommitStream(t *testing.T) {
	commits := events.NewBroadcaster[events.CommitEvent](8)
	ts := httptest.NewServer(NewServer(":0", nil, nil, commits, nil, nil).Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/commits/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line, "subscribed before the first event")

	commits.Publish(events.CommitEvent{TradeID: "t1", Symbol: "BTC_USDT", Cash: "499", Persisted: true})

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(strings.TrimSpace(line), "data: ")
		}
	}

	var ev events.CommitEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "t1", ev.TradeID)
	assert.Equal(t, "499", ev.Cash)
	assert.True(t, ev.Persisted)
}

func TestParseLastEventID(t *testing.T) {
	tests := []struct {
		header, query string
		want          uint64
	}{
		{"", "", 0},
		{"7", "", 7},
		{"", "9", 9},
		{"3", "9", 3},
		{"abc", "", 0},
		{" 12 ", "", 12},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLastEventID(tt.header, tt.query), "%q/%q", tt.header, tt.query)
	}
}
