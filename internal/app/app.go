// Package app wires configuration into a running trading pipeline.
package app

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/aitrader/config"
	"github.com/vadiminshakov/aitrader/dashboard"
	"github.com/vadiminshakov/aitrader/internal/clients"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/events"
	"github.com/vadiminshakov/aitrader/internal/pipeline"
	"github.com/vadiminshakov/aitrader/internal/services/decision"
	"github.com/vadiminshakov/aitrader/internal/services/executor"
	"github.com/vadiminshakov/aitrader/internal/services/market"
	"github.com/vadiminshakov/aitrader/internal/services/news"
	"github.com/vadiminshakov/aitrader/internal/services/risk"
	"github.com/vadiminshakov/aitrader/internal/services/sentiment"
	"github.com/vadiminshakov/aitrader/internal/services/technical"
	"github.com/vadiminshakov/aitrader/internal/storage"
	"github.com/vadiminshakov/aitrader/internal/storage/commitlog"
	"github.com/vadiminshakov/aitrader/internal/storage/decisions"
)

const commitBuffer = 64

// App a wired pipeline plus its optional dashboard.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store     storage.Store
	journal   *commitlog.Journal
	decisions *decisions.WALStore

	book         *pipeline.Book
	orchestrator *pipeline.Orchestrator
	dashboard    *dashboard.Server
}

// New opens storage, recovers the portfolio and builds every capability from cfg.
// On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.store, err = storage.Open(ctx, cfg.DatabaseURL, logger); err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	if a.journal, err = commitlog.Open(cfg.Storage.JournalDir); err != nil {
		return nil, errors.Wrap(err, "open commit journal")
	}
	if a.decisions, err = decisions.NewWALStore(cfg.Storage.DecisionsDir); err != nil {
		return nil, errors.Wrap(err, "open decision log")
	}

	metrics := pipeline.NewMetrics()
	commits := events.NewBroadcaster[events.CommitEvent](commitBuffer)
	a.book = pipeline.NewBook(domain.NewPortfolio(cfg.InitialCash), a.store, pipeline.BookOptions{
		Journal: a.journal,
		Metrics: metrics,
		Commits: commits,
		Alert:   a.alert,
		Logger:  logger.Named("book"),
	})
	if err = a.book.Recover(ctx); err != nil {
		return nil, errors.Wrap(err, "recover portfolio")
	}

	live := cfg.Mode == domain.ModeLive
	v, err := newVenue(cfg.Exchange, live)
	if err != nil {
		return nil, errors.Wrap(err, "create exchange client")
	}
	exec, err := newExecutor(cfg, v, logger.Named("executor"))
	if err != nil {
		return nil, errors.Wrap(err, "create executor")
	}

	engine, engineName, err := newEngine(cfg, logger.Named("engine"))
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Market:    v.Market(market.Options{PollInterval: cfg.Pipeline.PollInterval, Logger: logger.Named("market")}),
		Tracker:   pipeline.NewSentimentTracker(cfg.Symbols, cfg.Sentiment.Alpha, cfg.Sentiment.HalfLife),
		Analyzer:  technical.NewAnalyzer(technical.Config{MaxCandles: cfg.Pipeline.MaxCandles}, logger.Named("technical")),
		Engine:    engine,
		Risk:      risk.NewManager(riskLimits(cfg.Risk)),
		Executor:  exec,
		Book:      a.book,
		Decisions: a.decisions,
		Metrics:   metrics,
		Logger:    logger.Named("pipeline"),
	}
	if src := newNewsSource(cfg.News, logger.Named("news")); src != nil {
		deps.News = src
		deps.Sentiment = newSentimentAnalyzer(cfg)
	}

	a.orchestrator, err = pipeline.New(pipeline.Config{
		Symbols:           cfg.Symbols,
		Interval:          cfg.Interval,
		HistoryLimit:      cfg.Pipeline.HistoryLimit,
		CycleInterval:     cfg.Pipeline.CycleInterval,
		TriggerOnTick:     cfg.Pipeline.TriggerOnTick,
		TickCooldown:      cfg.Pipeline.TickCooldown,
		CallTimeout:       cfg.Pipeline.CallTimeout,
		ReconcileInterval: cfg.Pipeline.ReconcileInterval,
		EngineName:        engineName,
	}, deps)
	if err != nil {
		return nil, errors.Wrap(err, "create orchestrator")
	}

	if cfg.Dashboard.Addr != "" {
		a.dashboard = dashboard.NewServer(cfg.Dashboard.Addr, a.book, a.decisions, commits, metrics.Registry(), logger.Named("dashboard"))
	}

	logger.Info("pipeline ready",
		zap.String("mode", string(cfg.Mode)),
		zap.String("exchange", cfg.Exchange.Name),
		zap.Any("symbols", cfg.Symbols),
		zap.String("engine", engineName),
		zap.String("cash", a.book.Snapshot().Cash.String()))
	return a, nil
}

// Run blocks until ctx is cancelled or the pipeline stops. The dashboard is stopped
// together with the pipeline.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return a.orchestrator.Run(gctx)
	})
	if a.dashboard != nil {
		g.Go(func() error {
			if len(a.cfg.Dashboard.Domains) > 0 {
				return a.dashboard.StartWithAutoTLS(gctx, a.cfg.Dashboard.Domains, a.cfg.Dashboard.CertCache)
			}
			return a.dashboard.Start(gctx)
		})
	}
	return g.Wait()
}

// Book the shared portfolio.
func (a *App) Book() *pipeline.Book { return a.book }

// Close releases storage. Safe to call on a partially built App.
func (a *App) Close() error {
	var errs []error
	if a.decisions != nil {
		errs = append(errs, a.decisions.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *App) alert(_ context.Context, trade domain.Trade, err error) {
	a.logger.Error("portfolio store unavailable, commit kept in journal for reconciliation",
		zap.String("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol.String()),
		zap.String("side", trade.Side.String()),
		zap.String("quantity", trade.Quantity.String()),
		zap.String("price", trade.Price.String()),
		zap.Error(err))
}

func newExecutor(cfg *config.Config, v venue, logger *zap.Logger) (pipeline.Executor, error) {
	if cfg.Mode != domain.ModeLive {
		return executor.NewPaper(executor.PaperConfig{
			FeeRate:  cfg.Paper.FeeRate,
			Slippage: cfg.Paper.Slippage,
		}, logger), nil
	}
	return v.Executor(logger)
}

func newLLMClient(cfg config.LLMConfig) *clients.OpenAICompatibleClient {
	opts := []clients.LLMOption{clients.WithMaxRetries(cfg.MaxRetries)}
	if cfg.MaxTokens > 0 {
		opts = append(opts, clients.WithMaxTokens(cfg.MaxTokens))
	}
	return clients.NewOpenAICompatibleClient(cfg.URL, cfg.APIKey, cfg.Model, opts...)
}

// newEngine returns the engine and the name recorded in decision events.
func newEngine(cfg *config.Config, logger *zap.Logger) (pipeline.DecisionEngine, string, error) {
	switch cfg.Engine.Kind {
	case "rules":
		return decision.NewRules(decision.RulesConfig{
			Oversold:      cfg.Engine.Oversold,
			Overbought:    cfg.Engine.Overbought,
			BaseFraction:  cfg.Engine.BaseFraction,
			MinSentiment:  cfg.Engine.MinSentiment,
			ExitSentiment: cfg.Engine.ExitSentiment,
		}), "rules", nil
	case "llm":
		return decision.NewLLM(newLLMClient(cfg.LLM), logger), domain.NormalizeModelName(cfg.LLM.Model), nil
	default:
		return nil, "", errors.Wrapf(config.ErrInvalidConfig, "unknown engine %q", cfg.Engine.Kind)
	}
}

func newSentimentAnalyzer(cfg *config.Config) pipeline.SentimentAnalyzer {
	if cfg.Sentiment.Analyzer == "llm" {
		return sentiment.NewLLM(newLLMClient(cfg.LLM))
	}
	return sentiment.NewLexicon(nil)
}

// newNewsSource nil when no feed is configured.
func newNewsSource(cfg config.NewsConfig, logger *zap.Logger) pipeline.NewsSource {
	var sources []news.Source
	for _, url := range cfg.Feeds {
		sources = append(sources, news.NewHTTPFeed(url, cfg.PollInterval, logger))
	}
	for _, url := range cfg.Websockets {
		sources = append(sources, news.NewWebsocketFeed(url, nil, logger))
	}
	if len(sources) == 0 {
		return nil
	}
	return news.NewMerge(logger, sources...)
}

func riskLimits(cfg config.RiskConfig) risk.Limits {
	return risk.Limits{
		MaxFractionPerTrade: cfg.MaxFractionPerTrade,
		MinCashReserve:      cfg.MinCashReserve,
		MaxPositionFraction: cfg.MaxPositionFraction,
		MaxOpenPositions:    cfg.MaxOpenPositions,
		MinNotional:         cfg.MinNotional,
	}
}
