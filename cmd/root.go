package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vadiminshakov/aitrader/config"
	"github.com/vadiminshakov/aitrader/internal/app"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/setup"
	"github.com/vadiminshakov/aitrader/internal/storage"
)

// version set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	verbosity  int
	configDir  string
	configFile string
	envFile    string
}

func (o *rootOptions) load(overrides map[string]any) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		Dir:       o.configDir,
		File:      o.configFile,
		EnvFile:   o.envFile,
		Overrides: overrides,
	})
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "aitrader",
		Short:        "Automated trading agent: market data, sentiment and an LLM or rules engine behind risk limits",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.CountVarP(&opts.verbosity, "verbose", "v", "debug logging, repeat for console output")
	flags.StringVar(&opts.configDir, "config-dir", "config", "directory with default.yaml and local.yaml")
	flags.StringVarP(&opts.configFile, "config", "f", "", "explicit config file, overrides the config dir")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with TRADER_* variables")

	root.AddCommand(
		newRunCmd(opts),
		newPortfolioCmd(opts),
		newSetupCmd(),
		newVersionCmd(),
	)
	return root
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		mode      string
		exchange  string
		symbols   []string
		dashboard string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the decision loops and the dashboard",
		Example: `  aitrader run
  aitrader run --mode live --exchange bybit --symbols BTC_USDT,ETH_USDT
  TRADER_ENGINE_KIND=llm aitrader run -v`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := map[string]any{}
			if cmd.Flags().Changed("mode") {
				overrides["mode"] = mode
			}
			if cmd.Flags().Changed("exchange") {
				overrides["exchange.name"] = exchange
			}
			if cmd.Flags().Changed("symbols") {
				overrides["symbols"] = symbols
			}
			if cmd.Flags().Changed("dashboard") {
				overrides["dashboard.addr"] = dashboard
			}

			cfg, err := opts.load(overrides)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel, opts.verbosity)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "paper or live")
	cmd.Flags().StringVar(&exchange, "exchange", "", "binance, bybit or hyperliquid")
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "comma separated symbols, e.g. BTC_USDT,ETH_USDT")
	cmd.Flags().StringVar(&dashboard, "dashboard", "", "dashboard listen address, empty disables it")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", zap.Error(err))
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close storage", zap.Error(err))
		}
	}()

	if cfg.Mode == domain.ModeLive {
		logger.Warn("live trading enabled, orders are sent to the exchange", zap.String("exchange", cfg.Exchange.Name))
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("pipeline stopped with error", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete", zap.String("cash", a.Book().Snapshot().Cash.String()))
	return nil
}

func newPortfolioCmd(opts *rootOptions) *cobra.Command {
	var symbol string
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Print the stored portfolio and trade ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(nil)
			if err != nil {
				return err
			}
			filter := domain.Symbol("")
			if symbol != "" {
				if filter, err = domain.ParseSymbol(symbol); err != nil {
					return err
				}
			}

			store, err := storage.Open(cmd.Context(), cfg.DatabaseURL, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			p, ok, err := store.Load(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "load portfolio")
			}
			if !ok {
				p = domain.NewPortfolio(cfg.InitialCash)
			}
			trades, err := store.Trades(cmd.Context(), filter)
			if err != nil {
				return errors.Wrap(err, "load trades")
			}
			return printPortfolio(cmd, p, trades, ok)
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "only trades of this symbol")
	return cmd
}

func printPortfolio(cmd *cobra.Command, p domain.Portfolio, trades []domain.Trade, stored bool) error {
	out := cmd.OutOrStdout()
	if !stored {
		fmt.Fprintln(out, "no stored portfolio, showing initial cash")
	}
	fmt.Fprintf(out, "cash: %s\n\n", p.Cash.String())

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tQUANTITY\tAVG PRICE")
	for _, s := range p.Symbols() {
		pos := p.Position(s)
		fmt.Fprintf(w, "%s\t%s\t%s\n", s, pos.Quantity.String(), pos.AvgPrice.String())
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\ntrades: %d\n", len(trades))
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tID\tSYMBOL\tSIDE\tQUANTITY\tPRICE\tFEE")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Time.UTC().Format("2006-01-02 15:04:05"), t.ID, t.Symbol, t.Side,
			t.Quantity.String(), t.Price.String(), t.Fee.String())
	}
	return w.Flush()
}

func newSetupCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive wizard that writes a local config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := setup.RunTUI(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "out", "o", setup.DefaultPath, "where to write the config")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "aitrader %s\n", version)
		},
	}
}
