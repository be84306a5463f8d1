// Package setup is the interactive wizard that writes a run configuration file.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/aitrader/config"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/services/market"
)

// DefaultPath file written when no path is given.
const DefaultPath = "config/local.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers wizard input, all as typed by the user.
type Answers struct {
	Mode        string
	Exchange    string
	Symbols     string
	Interval    string
	InitialCash string
	DatabaseURL string
	Engine      string
	Sentiment   string
	LLMURL      string
	LLMAPIKey   string
	LLMModel    string
	APIKey      string
	APISecret   string
	PrivateKey  string
}

// DefaultAnswers prefilled values.
func DefaultAnswers() Answers {
	d := config.Default()
	return Answers{
		Mode:        string(d.Mode),
		Exchange:    d.Exchange.Name,
		Symbols:     "BTC_USDT",
		Interval:    d.Interval,
		InitialCash: d.InitialCash.String(),
		DatabaseURL: d.DatabaseURL,
		Engine:      d.Engine.Kind,
		Sentiment:   d.Sentiment.Analyzer,
		LLMURL:      "https://openrouter.ai/api/v1/chat/completions",
		LLMModel:    "deepseek/deepseek-v3.2-exp",
	}
}

func (a Answers) usesLLM() bool {
	return a.Engine == "llm" || a.Sentiment == "llm"
}

// Config applies the answers on top of the defaults and validates the result.
func (a Answers) Config() (*config.Config, error) {
	cfg := config.Default()
	cfg.Mode = domain.Mode(a.Mode)
	cfg.Exchange.Name = a.Exchange
	cfg.Interval = strings.TrimSpace(a.Interval)
	cfg.DatabaseURL = strings.TrimSpace(a.DatabaseURL)
	cfg.Engine.Kind = a.Engine
	cfg.Sentiment.Analyzer = a.Sentiment

	cfg.Symbols = nil
	for _, s := range strings.Split(a.Symbols, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Symbols = append(cfg.Symbols, domain.Symbol(s))
		}
	}

	cash, err := decimal.NewFromString(strings.TrimSpace(a.InitialCash))
	if err != nil {
		return nil, errors.Wrap(config.ErrInvalidConfig, "initial cash must be a number")
	}
	cfg.InitialCash = cash

	if a.usesLLM() {
		cfg.LLM.URL = a.LLMURL
		cfg.LLM.APIKey = a.LLMAPIKey
		cfg.LLM.Model = a.LLMModel
	}
	if cfg.Mode == domain.ModeLive {
		cfg.Exchange.APIKey = a.APIKey
		cfg.Exchange.APISecret = a.APISecret
		cfg.Exchange.PrivateKey = a.PrivateKey
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Render the subset of settings the wizard controls as YAML.
func Render(cfg *config.Config) ([]byte, error) {
	doc := map[string]any{
		"mode":         string(cfg.Mode),
		"symbols":      cfg.Symbols,
		"interval":     cfg.Interval,
		"database_url": cfg.DatabaseURL,
		"initial_cash": cfg.InitialCash.String(),
		"exchange":     cfg.Exchange,
		"engine":       map[string]any{"kind": cfg.Engine.Kind},
		"sentiment":    map[string]any{"analyzer": cfg.Sentiment.Analyzer},
	}
	if cfg.LLM.URL != "" {
		doc["llm"] = cfg.LLM
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "generate yaml")
	}
	return data, nil
}

// Write renders cfg to path, readable only by the owner since it may hold credentials.
func Write(path string, cfg *config.Config) error {
	data, err := Render(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(err, "save config file")
	}
	return nil
}

func screen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("AITRADER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal wizard and writes the result to path.
func RunTUI(path string) error {
	if path == "" {
		path = DefaultPath
	}
	a := DefaultAnswers()
	var confirm bool

	screen("STEP 1: MODE")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Paper mode simulates fills against live prices.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Operating mode").
				Options(
					huh.NewOption("Paper", string(domain.ModePaper)),
					huh.NewOption("Live", string(domain.ModeLive)),
				).
				Value(&a.Mode),
			huh.NewSelect[string]().
				Title("Exchange").
				Options(
					huh.NewOption("Binance", config.ExchangeBinance),
					huh.NewOption("Bybit", config.ExchangeBybit),
					huh.NewOption("Hyperliquid", config.ExchangeHyperliquid),
				).
				Value(&a.Exchange),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 2: MARKETS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Symbols").
				Description("Comma separated, BASE_QUOTE (e.g. BTC_USDT,ETH_USDT)").
				Value(&a.Symbols).
				Validate(validateSymbols),
			huh.NewInput().
				Title("Candle interval").
				Description("e.g. 1m, 15m, 1h").
				Value(&a.Interval).
				Validate(func(s string) error {
					_, err := market.ParseInterval(s)
					return err
				}),
			huh.NewInput().
				Title("Initial cash").
				Description("Used when the store holds no portfolio yet").
				Value(&a.InitialCash).
				Validate(validateCash),
			huh.NewInput().
				Title("Database URL").
				Description("sqlite://path, postgres://..., wal://dir").
				Value(&a.DatabaseURL),
		),
	).Run()
	if err != nil {
		return err
	}

	screen("STEP 3: DECISIONS")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Decision engine").
				Options(
					huh.NewOption("Indicator rules", "rules"),
					huh.NewOption("LLM", "llm"),
				).
				Value(&a.Engine),
			huh.NewSelect[string]().
				Title("Headline sentiment").
				Options(
					huh.NewOption("Lexicon", "lexicon"),
					huh.NewOption("LLM", "llm"),
				).
				Value(&a.Sentiment),
		),
	).Run()
	if err != nil {
		return err
	}

	if a.usesLLM() {
		screen("STEP 4: LLM")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().Title("LLM API URL").Value(&a.LLMURL),
				huh.NewInput().Title("LLM API Key").Value(&a.LLMAPIKey).EchoMode(huh.EchoModePassword),
				huh.NewInput().Title("Model Name").Value(&a.LLMModel),
			),
		).Run()
		if err != nil {
			return err
		}
	}

	if a.Mode == string(domain.ModeLive) {
		screen("STEP 5: CREDENTIALS")
		var fields []huh.Field
		if a.Exchange == config.ExchangeHyperliquid {
			fields = append(fields, huh.NewInput().Title("Private key").Value(&a.PrivateKey).EchoMode(huh.EchoModePassword))
		} else {
			fields = append(fields,
				huh.NewInput().Title("API key").Value(&a.APIKey),
				huh.NewInput().Title("API secret").Value(&a.APISecret).EchoMode(huh.EchoModePassword),
			)
		}
		if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
			return err
		}
	}

	cfg, err := a.Config()
	if err != nil {
		return err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Mode: %s\nExchange: %s\nSymbols: %s\nInterval: %s\nEngine: %s\nStore: %s\n",
		cfg.Mode, cfg.Exchange.Name, a.Symbols, cfg.Interval, cfg.Engine.Kind, cfg.DatabaseURL,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}
	if !confirm {
		return errors.New("setup cancelled by user")
	}

	if err := Write(path, cfg); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	time.Sleep(500 * time.Millisecond)
	return nil
}

func validateSymbols(s string) error {
	n := 0
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		if _, err := domain.ParseSymbol(part); err != nil {
			return fmt.Errorf("invalid format: must be BASE_QUOTE (e.g. BTC_USDT)")
		}
		n++
	}
	if n == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	return nil
}

func validateCash(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
}
