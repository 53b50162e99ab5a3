package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
symbol: BTCUSDT
grid_levels: 10
grid_spacing_pct: 0.005
base_order_quantity: 0.001
total_capital: 10000
max_consecutive_losses: 3
max_drawdown_pct: 10
daily_loss_limit_pct: 5
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.ATRLookback)
	assert.InDelta(t, 0.3, cfg.RegimeChangeThreshold, 1e-9)
	assert.Equal(t, "1m", cfg.KlineInterval)
	assert.Equal(t, 30, cfg.PollIntervalSec)
	assert.Equal(t, 1, cfg.SellsPerTick(), "omitted sell cap defaults to 1")
}

func TestExplicitZeroSellCapMeansUnlimited(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML+"max_sells_per_tick: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.SellsPerTick(), "explicit 0 must survive loading")

	cfg, err = LoadConfig(writeConfig(t, validYAML+"max_sells_per_tick: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.SellsPerTick())
}

func TestLoadConfigRejectsNegativeSellCap(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, validYAML+"max_sells_per_tick: -1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_sells_per_tick")
}

func TestLoadConfigRejectsOddGridLevels(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
symbol: BTCUSDT
grid_levels: 11
grid_spacing_pct: 0.005
base_order_quantity: 0.001
total_capital: 10000
max_consecutive_losses: 3
max_drawdown_pct: 10
daily_loss_limit_pct: 5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid_levels must be even")
}

func TestLoadConfigRejectsMissingSymbol(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `
grid_levels: 10
grid_spacing_pct: 0.005
base_order_quantity: 0.001
total_capital: 10000
max_consecutive_losses: 3
max_drawdown_pct: 10
daily_loss_limit_pct: 5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol")
}
