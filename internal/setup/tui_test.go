package setup

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/aitrader/config"
	"github.com/vadiminshakov/aitrader/internal/domain"
)

func TestAnswers_Config(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(a *Answers)
		wantErr bool
	}{
		{"defaults", func(*Answers) {}, false},
		{"several symbols", func(a *Answers) { a.Symbols = "btc_usdt, ETH_USDT ," }, false},
		{"bad cash", func(a *Answers) { a.InitialCash = "lots" }, true},
		{"no symbols", func(a *Answers) { a.Symbols = " , " }, true},
		{"live without credentials", func(a *Answers) { a.Mode = "live" }, true},
		{"live with credentials", func(a *Answers) {
			a.Mode = "live"
			a.APIKey = "k"
			a.APISecret = "s"
		}, false},
		{"llm engine without model", func(a *Answers) {
			a.Engine = "llm"
			a.LLMModel = ""
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultAnswers()
			tt.mutate(&a)
			_, err := a.Config()
			if tt.wantErr {
				assert.ErrorIs(t, err, config.ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWrite_RoundTripsThroughLoad(t *testing.T) {
	a := DefaultAnswers()
	a.Symbols = "BTC_USDT,ETH_USDT"
	a.InitialCash = "2500"
	a.Interval = "15m"
	a.Engine = "llm"
	a.LLMAPIKey = "secret"
	a.DatabaseURL = "wal://./wal/store"

	cfg, err := a.Config()
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "run.yaml")
	require.NoError(t, Write(path, cfg))

	loaded, err := config.Load(config.LoadOptions{
		Dir:     dir,
		File:    path,
		EnvFile: filepath.Join(dir, "missing.env"),
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.Symbol{"BTC_USDT", "ETH_USDT"}, loaded.Symbols)
	assert.True(t, loaded.InitialCash.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, "15m", loaded.Interval)
	assert.Equal(t, "llm", loaded.Engine.Kind)
	assert.Equal(t, "secret", loaded.LLM.APIKey)
	assert.Equal(t, "wal://./wal/store", loaded.DatabaseURL)
	assert.True(t, loaded.Exchange.FeeRate.Equal(cfg.Exchange.FeeRate))
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateSymbols("BTC_USDT, ETH_USDT"))
	assert.Error(t, validateSymbols("BTCUSDT"))
	assert.Error(t, validateSymbols(""))
	assert.NoError(t, validateCash("0"))
	assert.Error(t, validateCash("-1"))
	assert.Error(t, validateCash("x"))
}
