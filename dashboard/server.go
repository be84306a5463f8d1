// Package dashboard serves the portfolio, commit and decision feeds over HTTP.
package dashboard

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/events"
)

const decisionPollInterval = 3 * time.Second

type portfolioReader interface {
	Snapshot() domain.Portfolio
}

type decisionReader interface {
	EventsAfter(index uint64) ([]domain.DecisionEventRecord, error)
}

// Server exposes the read-only dashboard endpoints.
type Server struct {
	Addr      string
	Portfolio portfolioReader
	Decisions decisionReader
	Commits   *events.Broadcaster[events.CommitEvent]
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger

	pollInterval time.Duration
	heartbeat    time.Duration
}

// NewServer creates a dashboard server. Nil sources disable their endpoints.
func NewServer(addr string, portfolio portfolioReader, decisions decisionReader,
	commits *events.Broadcaster[events.CommitEvent], gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:         addr,
		Portfolio:    portfolio,
		Decisions:    decisions,
		Commits:      commits,
		Gatherer:     gatherer,
		Logger:       logger,
		pollInterval: decisionPollInterval,
		heartbeat:    20 * time.Second,
	}
}

// Handler routes of the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/portfolio", s.handlePortfolio)
	mux.HandleFunc("/commits/stream", s.handleCommitStream)
	mux.HandleFunc("/decisions/stream", s.handleDecisionStream)
	if s.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.Logger.Info("dashboard listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic TLS certificates via ACME.
// It also starts an HTTP server on port 80 to handle ACME HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("acme server", zap.Error(err))
		}
	}()

	s.Logger.Info("dashboard listening with auto TLS", zap.String("addr", s.Addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type positionView struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

type portfolioView struct {
	Cash      decimal.Decimal `json:"cash"`
	Positions []positionView  `json:"positions"`
}

func newPortfolioView(p domain.Portfolio) portfolioView {
	v := portfolioView{Cash: p.Cash, Positions: make([]positionView, 0, len(p.Positions))}
	for _, s := range p.Symbols() {
		pos := p.Positions[s]
		v.Positions = append(v.Positions, positionView{Symbol: s.String(), Quantity: pos.Quantity, AvgPrice: pos.AvgPrice})
	}
	return v
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	if s.Portfolio == nil {
		http.Error(w, "portfolio not available", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(newPortfolioView(s.Portfolio.Snapshot())); err != nil {
		s.Logger.Warn("encode portfolio", zap.Error(err))
	}
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func (s *Server) handleCommitStream(w http.ResponseWriter, r *http.Request) {
	if s.Commits == nil {
		http.Error(w, "commit feed not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.Commits.Subscribe()
	defer s.Commits.Unsubscribe(sub)

	sseHeaders(w)
	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case ev, ok := <-sub:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.Logger.Warn("encode commit event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: commit\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func (s *Server) handleDecisionStream(w http.ResponseWriter, r *http.Request) {
	if s.Decisions == nil {
		http.Error(w, "decision log not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	lastIndex := parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	symbol := r.URL.Query().Get("symbol")
	sendDecisions := func() error {
		records, err := s.Decisions.EventsAfter(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			lastIndex = record.Index
			if symbol != "" && !strings.EqualFold(record.Event.Symbol.String(), symbol) {
				continue
			}
			payload, err := json.Marshal(record.Event)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: decision\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		flusher.Flush()
		return nil
	}

	sseHeaders(w)
	if err := sendDecisions(); err != nil {
		http.Error(w, "failed to load decisions", http.StatusInternalServerError)
		s.Logger.Error("decision stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendDecisions(); err != nil {
				s.Logger.Warn("decision stream poll", zap.Error(err))
			}
		}
	}
}

// parseLastEventID extracts an SSE event ID from either the Last-Event-ID header or a query parameter.
// The header is preferred; the query parameter allows manual reconnects to resume from a known index.
func parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>aitrader</title>
  <style>
    body { font-family: 'Space Mono', monospace; margin: 2rem; color: #111; }
    h1 { font-size: 1rem; letter-spacing: .2em; text-transform: uppercase; }
    pre { background: #f6f6f6; border: 2px solid #111; padding: 1rem; }
    li { font-size: .8rem; margin: .2rem 0; }
  </style>
</head>
<body>
  <h1>portfolio</h1>
  <pre id="portfolio">loading</pre>
  <h1>commits</h1>
  <ul id="commits"></ul>
  <h1>decisions</h1>
  <ul id="decisions"></ul>
  <script>
    const refresh = () => fetch('/portfolio').then(r => r.json()).then(p => {
      document.getElementById('portfolio').textContent = JSON.stringify(p, null, 2);
    });
    const prepend = (id, text) => {
      const li = document.createElement('li');
      li.textContent = text;
      const list = document.getElementById(id);
      list.insertBefore(li, list.firstChild);
    };
    new EventSource('/commits/stream').addEventListener('commit', e => {
      const c = JSON.parse(e.data);
      prepend('commits', c.ts + ' ' + c.side + ' ' + c.quantity + ' ' + c.symbol + ' @ ' + c.price + (c.persisted ? '' : ' (pending)'));
      refresh();
    });
    new EventSource('/decisions/stream').addEventListener('decision', e => {
      const d = JSON.parse(e.data);
      prepend('decisions', d.ts + ' ' + d.symbol + ' ' + d.outcome + ' ' + (d.reviewed || d.proposed || '') + (d.error ? ' ' + d.error : ''));
    });
    refresh();
  </script>
</body>
</html>
`
