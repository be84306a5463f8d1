package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/aitrader/internal/domain"
)

// Config orchestrator settings.
type Config struct {
	Symbols  []domain.Symbol
	Interval string
	// HistoryLimit candles fetched for warm-up, 0 skips warm-up.
	HistoryLimit int
	// CycleInterval extra timer-driven cycles, 0 disables.
	CycleInterval time.Duration
	// TriggerOnTick lets ticks start cycles, at most one per TickCooldown.
	TriggerOnTick bool
	TickCooldown  time.Duration
	// CallTimeout bounds each capability call.
	CallTimeout time.Duration
	// ReconcileInterval period of pending commit retries, 0 disables the reconciler.
	ReconcileInterval time.Duration
	// EngineName recorded in decision events.
	EngineName string
}

func (c Config) withDefaults() Config {
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.TickCooldown <= 0 {
		c.TickCooldown = 30 * time.Second
	}
	return c
}

// Deps capabilities the orchestrator drives. News and Sentiment are optional together.
type Deps struct {
	Market    MarketDataSource
	News      NewsSource
	Sentiment SentimentAnalyzer
	Tracker   *SentimentTracker
	Analyzer  TechnicalAnalyzer
	Engine    DecisionEngine
	Risk      RiskManager
	Executor  Executor
	Book      *Book
	Decisions DecisionLog
	Metrics   *Metrics
	Logger    *zap.Logger
}

// Orchestrator runs one decision loop per symbol plus the sentiment task and reconciler.
type Orchestrator struct {
	cfg       Config
	market    MarketDataSource
	news      NewsSource
	sentiment SentimentAnalyzer
	tracker   *SentimentTracker
	analyzer  TechnicalAnalyzer
	engine    DecisionEngine
	risk      RiskManager
	executor  Executor
	book      *Book
	decisions DecisionLog
	metrics   *Metrics
	logger    *zap.Logger

	// executor calls that outlived CallTimeout and still owe a commit
	late sync.WaitGroup
}

// New validates the dependencies and creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case len(cfg.Symbols) == 0:
		return nil, errors.New("at least one symbol is required")
	case deps.Market == nil:
		return nil, errors.New("market data source is required")
	case deps.Analyzer == nil:
		return nil, errors.New("technical analyzer is required")
	case deps.Engine == nil:
		return nil, errors.New("decision engine is required")
	case deps.Risk == nil:
		return nil, errors.New("risk manager is required")
	case deps.Executor == nil:
		return nil, errors.New("executor is required")
	case deps.Book == nil:
		return nil, errors.New("portfolio book is required")
	}

	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		market:    deps.Market,
		news:      deps.News,
		sentiment: deps.Sentiment,
		tracker:   deps.Tracker,
		analyzer:  deps.Analyzer,
		engine:    deps.Engine,
		risk:      deps.Risk,
		executor:  deps.Executor,
		book:      deps.Book,
		decisions: deps.Decisions,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
	}
	if o.tracker == nil {
		o.tracker = NewSentimentTracker(cfg.Symbols, 0, 0)
	}
	if o.metrics == nil {
		o.metrics = o.book.metrics
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o, nil
}

// Run blocks until every symbol loop has ended, either because ctx was cancelled or
// because its market streams were exhausted. Background tasks stop with the loops; late
// executor answers are committed before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	background, bgCtx := errgroup.WithContext(bgCtx)
	if o.news != nil && o.sentiment != nil {
		background.Go(func() error {
			o.runSentiment(bgCtx)
			return nil
		})
	}
	if o.cfg.ReconcileInterval > 0 {
		background.Go(func() error {
			o.book.RunReconciler(bgCtx, o.cfg.ReconcileInterval)
			return nil
		})
	}

	loops, loopCtx := errgroup.WithContext(ctx)
	for _, symbol := range o.cfg.Symbols {
		loops.Go(func() error {
			return o.runSymbol(loopCtx, symbol)
		})
	}

	err := loops.Wait()
	o.late.Wait()
	stopBackground()
	if bgErr := background.Wait(); err == nil {
		err = bgErr
	}
	return err
}

// runSentiment scores headlines until the news stream closes. Never blocks a decision cycle:
// loops only read the tracker.
func (o *Orchestrator) runSentiment(ctx context.Context) {
	headlines, err := o.news.PollHeadlines(ctx)
	if err != nil {
		o.metrics.CapabilityErrors.WithLabelValues(stageNews).Inc()
		o.logger.Error("failed to open news stream", zap.Error(err))
		return
	}

	for h := range headlines {
		score, err := callWithTimeout(ctx, o.cfg.CallTimeout, func(ctx context.Context) (float64, error) {
			return o.sentiment.Score(ctx, h.Text)
		})
		if err != nil {
			o.metrics.CapabilityErrors.WithLabelValues(stageSentiment).Inc()
			o.logger.Warn("failed to score headline", zap.String("source", h.Source), zap.Error(err))
			continue
		}

		symbols := o.tracker.Observe(h, score)
		global := o.tracker.Global().Score
		o.metrics.Sentiment.WithLabelValues(globalSentimentScope).Set(global)
		for _, s := range symbols {
			o.metrics.Sentiment.WithLabelValues(s.String()).Set(o.tracker.Current(s).Score)
		}
		o.logger.Debug("headline scored",
			zap.String("source", h.Source),
			zap.Float64("score", score),
			zap.Float64("global", global),
			zap.Int("symbols", len(symbols)))
	}
}
