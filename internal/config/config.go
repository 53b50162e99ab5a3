package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"grid-strategy-go/internal/models"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads the strategy configuration from a YAML or JSON file
// (chosen by extension), fills in defaults and validates it. A validation
// error here is fatal: the caller must not start trading with a bad config.
func LoadConfig(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse yaml config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse json config %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.ATRLookback <= 0 {
		cfg.ATRLookback = 14
	}
	if cfg.RegimeChangeThreshold == 0 {
		cfg.RegimeChangeThreshold = 0.3
	}
	if cfg.PollIntervalSec <= 0 {
		cfg.PollIntervalSec = 30
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1m"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.WebSocketPingIntervalSec <= 0 {
		cfg.WebSocketPingIntervalSec = 30
	}
	if cfg.WebSocketPongTimeoutSec <= 0 {
		cfg.WebSocketPongTimeoutSec = 75
	}
	if cfg.StateDBPath == "" {
		cfg.StateDBPath = "state_db"
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = "history.db"
	}
}

// Validate checks the parameter domains the strategy depends on.
func Validate(cfg *models.Config) error {
	if cfg.Symbol == "" {
		return fmt.Errorf("config: symbol is required")
	}
	if cfg.GridLevels <= 0 {
		return fmt.Errorf("config: grid_levels must be positive, got %d", cfg.GridLevels)
	}
	if cfg.GridLevels%2 != 0 {
		return fmt.Errorf("config: grid_levels must be even, got %d", cfg.GridLevels)
	}
	if cfg.GridSpacingPct <= 0 {
		return fmt.Errorf("config: grid_spacing_pct must be positive, got %f", cfg.GridSpacingPct)
	}
	if cfg.BaseOrderQuantity <= 0 {
		return fmt.Errorf("config: base_order_quantity must be positive, got %f", cfg.BaseOrderQuantity)
	}
	if cfg.RegimeChangeThreshold <= 0 || cfg.RegimeChangeThreshold > 1 {
		return fmt.Errorf("config: regime_change_threshold must be in (0,1], got %f", cfg.RegimeChangeThreshold)
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("config: max_consecutive_losses must be positive, got %d", cfg.MaxConsecutiveLosses)
	}
	if cfg.MaxDrawdownPct <= 0 || cfg.MaxDrawdownPct > 100 {
		return fmt.Errorf("config: max_drawdown_pct must be in (0,100], got %f", cfg.MaxDrawdownPct)
	}
	if cfg.DailyLossLimitPct <= 0 || cfg.DailyLossLimitPct > 100 {
		return fmt.Errorf("config: daily_loss_limit_pct must be in (0,100], got %f", cfg.DailyLossLimitPct)
	}
	if cfg.TotalCapital <= 0 {
		return fmt.Errorf("config: total_capital must be positive, got %f", cfg.TotalCapital)
	}
	if cfg.MakerFeePct < 0 || cfg.TakerFeePct < 0 {
		return fmt.Errorf("config: fee rates must not be negative")
	}
	if cfg.SellsPerTick() < 0 {
		return fmt.Errorf("config: max_sells_per_tick must not be negative, got %d", cfg.SellsPerTick())
	}
	return nil
}
