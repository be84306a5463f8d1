// Package config loads layered settings: defaults, config/default.yaml, config/local.yaml,
// an explicit file and TRADER_* environment variables, in increasing priority.
package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/vadiminshakov/aitrader/internal/domain"
)

// ErrInvalidConfig returned for settings that fail validation.
var ErrInvalidConfig = errors.New("invalid config")

const envPrefix = "TRADER"

// Exchange names.
const (
	ExchangeBinance     = "binance"
	ExchangeBybit       = "bybit"
	ExchangeHyperliquid = "hyperliquid"
)

// Config process settings.
type Config struct {
	Mode        domain.Mode     `mapstructure:"mode" yaml:"mode"`
	Symbols     []domain.Symbol `mapstructure:"symbols" yaml:"symbols"`
	Interval    string          `mapstructure:"interval" yaml:"interval"`
	DatabaseURL string          `mapstructure:"database_url" yaml:"database_url"`
	InitialCash decimal.Decimal `mapstructure:"initial_cash" yaml:"initial_cash"`
	LogLevel    string          `mapstructure:"log_level" yaml:"log_level"`

	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Exchange  ExchangeConfig  `mapstructure:"exchange" yaml:"exchange"`
	Paper     PaperConfig     `mapstructure:"paper" yaml:"paper"`
	Risk      RiskConfig      `mapstructure:"risk" yaml:"risk"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Sentiment SentimentConfig `mapstructure:"sentiment" yaml:"sentiment"`
	News      NewsConfig      `mapstructure:"news" yaml:"news"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Dashboard DashboardConfig `mapstructure:"dashboard" yaml:"dashboard"`
}

// PipelineConfig decision loop timing.
type PipelineConfig struct {
	HistoryLimit      int           `mapstructure:"history_limit" yaml:"history_limit"`
	CycleInterval     time.Duration `mapstructure:"cycle_interval" yaml:"cycle_interval"`
	TriggerOnTick     bool          `mapstructure:"trigger_on_tick" yaml:"trigger_on_tick"`
	TickCooldown      time.Duration `mapstructure:"tick_cooldown" yaml:"tick_cooldown"`
	CallTimeout       time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval" yaml:"reconcile_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxCandles        int           `mapstructure:"max_candles" yaml:"max_candles"`
}

// ExchangeConfig venue and credentials. Market data is read from the venue in both modes.
type ExchangeConfig struct {
	Name       string          `mapstructure:"name" yaml:"name"`
	APIKey     string          `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APISecret  string          `mapstructure:"api_secret" yaml:"api_secret,omitempty"`
	PrivateKey string          `mapstructure:"private_key" yaml:"private_key,omitempty"`
	BaseURL    string          `mapstructure:"base_url" yaml:"base_url,omitempty"`
	FeeRate    decimal.Decimal `mapstructure:"fee_rate" yaml:"fee_rate"`
}

// PaperConfig simulated fills.
type PaperConfig struct {
	FeeRate  decimal.Decimal `mapstructure:"fee_rate" yaml:"fee_rate"`
	Slippage decimal.Decimal `mapstructure:"slippage" yaml:"slippage"`
}

// RiskConfig limits of the risk manager. Zero disables a limit.
type RiskConfig struct {
	MaxFractionPerTrade decimal.Decimal `mapstructure:"max_fraction_per_trade" yaml:"max_fraction_per_trade"`
	MinCashReserve      decimal.Decimal `mapstructure:"min_cash_reserve" yaml:"min_cash_reserve"`
	MaxPositionFraction decimal.Decimal `mapstructure:"max_position_fraction" yaml:"max_position_fraction"`
	MaxOpenPositions    int             `mapstructure:"max_open_positions" yaml:"max_open_positions"`
	MinNotional         decimal.Decimal `mapstructure:"min_notional" yaml:"min_notional"`
}

// EngineConfig decision engine selection; the thresholds apply to the rules engine.
type EngineConfig struct {
	Kind          string          `mapstructure:"kind" yaml:"kind"`
	Oversold      decimal.Decimal `mapstructure:"oversold" yaml:"oversold"`
	Overbought    decimal.Decimal `mapstructure:"overbought" yaml:"overbought"`
	BaseFraction  decimal.Decimal `mapstructure:"base_fraction" yaml:"base_fraction"`
	MinSentiment  float64         `mapstructure:"min_sentiment" yaml:"min_sentiment"`
	ExitSentiment float64         `mapstructure:"exit_sentiment" yaml:"exit_sentiment"`
}

// LLMConfig OpenAI-compatible endpoint shared by the LLM engine and scorer.
type LLMConfig struct {
	URL        string `mapstructure:"url" yaml:"url,omitempty"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model      string `mapstructure:"model" yaml:"model,omitempty"`
	MaxTokens  int    `mapstructure:"max_tokens" yaml:"max_tokens,omitempty"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
}

// SentimentConfig scorer and smoothing.
type SentimentConfig struct {
	Analyzer string        `mapstructure:"analyzer" yaml:"analyzer"`
	Alpha    float64       `mapstructure:"alpha" yaml:"alpha"`
	HalfLife time.Duration `mapstructure:"half_life" yaml:"half_life"`
}

// NewsConfig headline feeds. No feeds disables the sentiment task.
type NewsConfig struct {
	Feeds        []string      `mapstructure:"feeds" yaml:"feeds,omitempty"`
	Websockets   []string      `mapstructure:"websockets" yaml:"websockets,omitempty"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// StorageConfig local WAL directories.
type StorageConfig struct {
	JournalDir   string `mapstructure:"journal_dir" yaml:"journal_dir"`
	DecisionsDir string `mapstructure:"decisions_dir" yaml:"decisions_dir"`
}

// DashboardConfig status server. Empty Addr disables it.
type DashboardConfig struct {
	Addr      string   `mapstructure:"addr" yaml:"addr"`
	Domains   []string `mapstructure:"domains" yaml:"domains,omitempty"`
	CertCache string   `mapstructure:"cert_cache" yaml:"cert_cache,omitempty"`
}

// LoadOptions where to look for settings.
type LoadOptions struct {
	// Dir holding default.yaml and local.yaml, both optional. Defaults to "config".
	Dir string
	// File explicit config file, must exist when set.
	File string
	// EnvFile dotenv file, ignored when missing. Defaults to ".env".
	EnvFile string
	// Overrides applied last, keyed like the yaml ("mode", "pipeline.history_limit").
	Overrides map[string]any
}

var defaults = map[string]any{
	"mode":         string(domain.ModePaper),
	"symbols":      []string{"BTC_USDT"},
	"interval":     "1m",
	"database_url": "sqlite://ai_trader.db",
	"initial_cash": "10000",
	"log_level":    "info",

	"pipeline.history_limit":      200,
	"pipeline.cycle_interval":     time.Duration(0),
	"pipeline.trigger_on_tick":    false,
	"pipeline.tick_cooldown":      30 * time.Second,
	"pipeline.call_timeout":       30 * time.Second,
	"pipeline.reconcile_interval": 30 * time.Second,
	"pipeline.poll_interval":      5 * time.Second,
	"pipeline.max_candles":        500,

	"exchange.name":        ExchangeBinance,
	"exchange.api_key":     "",
	"exchange.api_secret":  "",
	"exchange.private_key": "",
	"exchange.base_url":    "",
	"exchange.fee_rate":    "0.001",

	"paper.fee_rate": "0.001",
	"paper.slippage": "0",

	"risk.max_fraction_per_trade": "0.25",
	"risk.min_cash_reserve":       "0.1",
	"risk.max_position_fraction":  "0.5",
	"risk.max_open_positions":     5,
	"risk.min_notional":           "10",

	"engine.kind":           "rules",
	"engine.oversold":       "30",
	"engine.overbought":     "70",
	"engine.base_fraction":  "0.2",
	"engine.min_sentiment":  -0.2,
	"engine.exit_sentiment": -0.5,

	"llm.url":         "",
	"llm.api_key":     "",
	"llm.model":       "",
	"llm.max_tokens":  0,
	"llm.max_retries": 2,

	"sentiment.analyzer":  "lexicon",
	"sentiment.alpha":     0.3,
	"sentiment.half_life": 6 * time.Hour,

	"news.feeds":         []string{},
	"news.websockets":    []string{},
	"news.poll_interval": time.Minute,

	"storage.journal_dir":   "./wal/commits",
	"storage.decisions_dir": "./wal/decisions",

	"dashboard.addr":       ":8080",
	"dashboard.domains":    []string{},
	"dashboard.cert_cache": "cert-cache",
}

// Default returns the built-in settings.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads settings in priority order and validates them.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "load %s", envFile)
	}

	v := newViper()

	dir := opts.Dir
	if dir == "" {
		dir = "config"
	}
	for _, name := range []string{"default.yaml", "local.yaml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := merge(v, path); err != nil {
			return nil, err
		}
	}
	if opts.File != "" {
		if err := merge(v, opts.File); err != nil {
			return nil, err
		}
	}
	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func merge(v *viper.Viper, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()
	if err := v.MergeConfig(f); err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToDecimalHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}
	return &cfg, nil
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

func stringToDecimalHook(from, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		return decimal.NewFromFloat(v), nil
	case float32:
		return decimal.NewFromFloat32(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	}
	return nil, errors.Errorf("cannot use %s as decimal", from)
}

// Validate checks the settings are usable.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}
	one := decimal.NewFromInt(1)
	inUnit := func(d decimal.Decimal) bool { return !d.IsNegative() && d.LessThanOrEqual(one) }

	switch c.Mode {
	case domain.ModePaper, domain.ModeLive:
	default:
		return invalid("mode %q, want paper or live", c.Mode)
	}

	if len(c.Symbols) == 0 {
		return invalid("no symbols")
	}
	seen := make(map[domain.Symbol]struct{}, len(c.Symbols))
	for i, s := range c.Symbols {
		sym, err := domain.ParseSymbol(string(s))
		if err != nil {
			return invalid("symbol %q: %v", s, err)
		}
		if _, dup := seen[sym]; dup {
			return invalid("duplicate symbol %s", sym)
		}
		seen[sym] = struct{}{}
		c.Symbols[i] = sym
	}

	if c.Interval == "" {
		return invalid("empty interval")
	}
	if c.DatabaseURL == "" {
		return invalid("empty database_url")
	}
	if c.InitialCash.IsNegative() {
		return invalid("negative initial_cash")
	}

	switch c.Exchange.Name {
	case ExchangeBinance, ExchangeBybit:
		if c.Mode == domain.ModeLive && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
			return invalid("live trading on %s requires exchange.api_key and exchange.api_secret", c.Exchange.Name)
		}
	case ExchangeHyperliquid:
		if c.Mode == domain.ModeLive && c.Exchange.PrivateKey == "" {
			return invalid("live trading on hyperliquid requires exchange.private_key")
		}
	default:
		return invalid("unknown exchange %q", c.Exchange.Name)
	}

	for name, d := range map[string]decimal.Decimal{
		"exchange.fee_rate":           c.Exchange.FeeRate,
		"paper.fee_rate":              c.Paper.FeeRate,
		"paper.slippage":              c.Paper.Slippage,
		"risk.max_fraction_per_trade": c.Risk.MaxFractionPerTrade,
		"risk.min_cash_reserve":       c.Risk.MinCashReserve,
		"risk.max_position_fraction":  c.Risk.MaxPositionFraction,
		"engine.base_fraction":        c.Engine.BaseFraction,
	} {
		if !inUnit(d) {
			return invalid("%s %s outside [0,1]", name, d.String())
		}
	}
	if c.Exchange.FeeRate.Equal(one) || c.Paper.FeeRate.Equal(one) {
		return invalid("fee rate must be below 1")
	}
	if c.Risk.MinNotional.IsNegative() || c.Risk.MaxOpenPositions < 0 {
		return invalid("negative risk limit")
	}

	switch c.Engine.Kind {
	case "rules":
		if !c.Engine.BaseFraction.IsPositive() {
			return invalid("engine.base_fraction must be positive")
		}
	case "llm":
		if c.LLM.URL == "" || c.LLM.Model == "" {
			return invalid("llm engine requires llm.url and llm.model")
		}
	default:
		return invalid("unknown engine %q", c.Engine.Kind)
	}

	switch c.Sentiment.Analyzer {
	case "lexicon":
	case "llm":
		if c.LLM.URL == "" || c.LLM.Model == "" {
			return invalid("llm sentiment requires llm.url and llm.model")
		}
	default:
		return invalid("unknown sentiment analyzer %q", c.Sentiment.Analyzer)
	}
	if c.Sentiment.Alpha <= 0 || c.Sentiment.Alpha > 1 {
		return invalid("sentiment.alpha %v outside (0,1]", c.Sentiment.Alpha)
	}

	if c.Pipeline.HistoryLimit < 0 || c.Pipeline.MaxCandles < 0 {
		return invalid("negative pipeline limit")
	}
	if c.Pipeline.CallTimeout <= 0 {
		return invalid("pipeline.call_timeout must be positive")
	}
	return nil
}
