package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/aitrader/internal/storage"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "aitrader dev\n", out)
}

func TestRootCmd_PrintsHelp(t *testing.T) {
	out, err := execute(t)
	require.NoError(t, err)
	for _, sub := range []string{"run", "portfolio", "setup", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestPortfolioCmd(t *testing.T) {
	dir := t.TempDir()
	dbURL := "wal://" + filepath.Join(dir, "ledger")
	cfgPath := filepath.Join(dir, "trader.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database_url: "+dbURL+"\ninitial_cash: 1000\n"), 0o600))

	t.Run("empty store", func(t *testing.T) {
		out, err := execute(t, "portfolio", "--config-dir", dir, "-f", cfgPath, "--env-file", filepath.Join(dir, "missing.env"))
		require.NoError(t, err)
		assert.Contains(t, out, "no stored portfolio")
		assert.Contains(t, out, "cash: 1000")
		assert.Contains(t, out, "trades: 0")
	})

	store, err := storage.Open(context.Background(), dbURL, nil)
	require.NoError(t, err)
	trade := domain.Trade{
		ID: "t1", OrderID: "o1", Symbol: "BTC_USDT", Side: domain.SideBuy,
		Quantity: decimal.RequireFromString("0.5"), Price: decimal.NewFromInt(1000), Fee: decimal.NewFromInt(1),
	}
	p, err := domain.NewPortfolio(decimal.NewFromInt(1000)).Apply(trade)
	require.NoError(t, err)
	require.NoError(t, store.RecordTrade(context.Background(), trade))
	require.NoError(t, store.Save(context.Background(), p))
	require.NoError(t, store.Close())

	t.Run("stored portfolio", func(t *testing.T) {
		out, err := execute(t, "portfolio", "--config-dir", dir, "-f", cfgPath, "--env-file", filepath.Join(dir, "missing.env"))
		require.NoError(t, err)
		assert.NotContains(t, out, "no stored portfolio")
		assert.Contains(t, out, "cash: 499")
		assert.Contains(t, out, "BTC_USDT")
		assert.Contains(t, out, "trades: 1")
	})

	t.Run("symbol filter", func(t *testing.T) {
		out, err := execute(t, "portfolio", "--config-dir", dir, "-f", cfgPath, "--env-file", filepath.Join(dir, "missing.env"), "--symbol", "eth_usdt")
		require.NoError(t, err)
		assert.Contains(t, out, "trades: 0")
	})
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		verbosity int
		want      zapcore.Level
		wantErr   bool
	}{
		{"default info", "", 0, zapcore.InfoLevel, false},
		{"configured warn", "warn", 0, zapcore.WarnLevel, false},
		{"verbose forces debug", "error", 1, zapcore.DebugLevel, false},
		{"development encoder", "", 2, zapcore.DebugLevel, false},
		{"unknown level", "loud", 0, zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.level, tt.verbosity)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, logger.Core().Enabled(tt.want))
			assert.False(t, logger.Core().Enabled(tt.want-1))
		})
	}
}
