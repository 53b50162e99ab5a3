package models

import (
	"fmt"
	"time"
)

// Config holds every tunable of the strategy. It is decoded from a YAML or
// JSON file at startup and validated before trading begins.
type Config struct {
	Symbol    string `yaml:"symbol" json:"symbol"`
	IsTestnet bool   `yaml:"is_testnet" json:"is_testnet"`

	LiveAPIURL    string `yaml:"live_api_url" json:"live_api_url"`
	LiveWSURL     string `yaml:"live_ws_url" json:"live_ws_url"`
	TestnetAPIURL string `yaml:"testnet_api_url" json:"testnet_api_url"`
	TestnetWSURL  string `yaml:"testnet_ws_url" json:"testnet_ws_url"`

	// Grid parameters.
	GridLevels        int     `yaml:"grid_levels" json:"grid_levels"`                 // total level count, must be even
	GridSpacingPct    float64 `yaml:"grid_spacing_pct" json:"grid_spacing_pct"`       // base spacing as a decimal fraction
	BaseOrderQuantity float64 `yaml:"base_order_quantity" json:"base_order_quantity"` // base asset quantity per level
	TotalCapital      float64 `yaml:"total_capital" json:"total_capital"`             // quote capital, used for risk limits

	// Volatility classification.
	ATRLookback int `yaml:"atr_lookback" json:"atr_lookback"` // bars for ATR, default 14

	// Regeneration policy.
	RegimeChangeThreshold float64 `yaml:"regime_change_threshold" json:"regime_change_threshold"` // strength drift trigger, default 0.3

	// Risk limits.
	MaxConsecutiveLosses int     `yaml:"max_consecutive_losses" json:"max_consecutive_losses"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct" json:"max_drawdown_pct"`         // percent of total capital
	DailyLossLimitPct    float64 `yaml:"daily_loss_limit_pct" json:"daily_loss_limit_pct"` // percent of total capital

	// Execution. The sell cap is a pointer so an explicit 0 (unlimited) in
	// the file stays distinguishable from an omitted key (defaults to 1).
	MaxSellsPerTick *int    `yaml:"max_sells_per_tick" json:"max_sells_per_tick"`
	MakerFeePct     float64 `yaml:"maker_fee_pct" json:"maker_fee_pct"`
	TakerFeePct     float64 `yaml:"taker_fee_pct" json:"taker_fee_pct"`

	// Polling loop.
	PollIntervalSec int    `yaml:"poll_interval_sec" json:"poll_interval_sec"`
	KlineInterval   string `yaml:"kline_interval" json:"kline_interval"` // e.g. "1m"

	// Persistence.
	StateDBPath   string `yaml:"state_db_path" json:"state_db_path"`     // BadgerDB directory
	HistoryDBPath string `yaml:"history_db_path" json:"history_db_path"` // sqlite file for fills and cycles

	// Backtest engine.
	InitialBalance float64 `yaml:"initial_balance" json:"initial_balance"` // starting quote balance
	SlippagePct    float64 `yaml:"slippage_pct" json:"slippage_pct"`

	// Live connectivity.
	RequestsPerSecond        float64 `yaml:"requests_per_second" json:"requests_per_second"`
	WebSocketPingIntervalSec int     `yaml:"websocket_ping_interval_sec" json:"websocket_ping_interval_sec"`
	WebSocketPongTimeoutSec  int     `yaml:"websocket_pong_timeout_sec" json:"websocket_pong_timeout_sec"`

	LogConfig LogConfig `yaml:"log" json:"log"`

	// Resolved at startup from the testnet flag; not read from the file.
	BaseURL   string `yaml:"-" json:"-"`
	WSBaseURL string `yaml:"-" json:"-"`
}

// SellsPerTick is the per-tick sell cap: 1 when the config omits the key,
// 0 means unlimited.
func (c *Config) SellsPerTick() int {
	if c.MaxSellsPerTick == nil {
		return 1
	}
	return *c.MaxSellsPerTick
}

// LogConfig controls the zap/lumberjack logging setup.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`             // "debug", "info", "warn", "error"
	Output     string `yaml:"output" json:"output"`           // "console", "file", "both"
	File       string `yaml:"file" json:"file"`               // log file path
	MaxSize    int    `yaml:"max_size" json:"max_size"`       // MB per file
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // rotated files kept
	MaxAge     int    `yaml:"max_age" json:"max_age"`         // days
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Side is the direction of an order or grid level.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Grid level statuses.
const (
	LevelPending = "PENDING" // waiting for price to reach it
	LevelFilled  = "FILLED"  // buy executed, awaiting the paired sell
)

// GridLevel is one rung of the ladder. Index is signed: negative indices sit
// below the center (buy side), positive above (sell side). Everything except
// Status is immutable once the ladder is generated.
type GridLevel struct {
	Index    int     `json:"index"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
	Status   string  `json:"status"`
}

// SoldPair records one matched-and-closed sell: the buy level it closed and
// the price the sell filled at. A pair is never matched twice.
type SoldPair struct {
	LevelID int     `json:"level_id"`
	Price   float64 `json:"price"`
}

// OrderFill is one executed order, as recorded by the cycle tracker and the
// history store.
type OrderFill struct {
	OrderID  string    `json:"order_id"`
	CycleID  string    `json:"cycle_id"`
	Symbol   string    `json:"symbol"`
	Side     Side      `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	Fee      float64   `json:"fee"`
	Time     time.Time `json:"time"`
}

// CompletedCycle is one finished buy/sell round trip.
type CompletedCycle struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	BuyVolume   float64   `json:"buy_volume"`  // sum of buy fill values (quote)
	SellVolume  float64   `json:"sell_volume"` // sum of sell fill values (quote)
	GrossProfit float64   `json:"gross_profit"`
	Fees        float64   `json:"fees"`
	NetProfit   float64   `json:"net_profit"`
	ProfitPct   float64   `json:"profit_pct"`
	FillCount   int       `json:"fill_count"`
}

// VolatilityReading is one classifier output, kept in a bounded history.
type VolatilityReading struct {
	Time               time.Time `json:"time"`
	Ratio              float64   `json:"ratio"`
	Regime             string    `json:"regime"`
	SpacingMultiplier  float64   `json:"spacing_multiplier"`
	PositionMultiplier float64   `json:"position_multiplier"`
}

// Kline is a single OHLCV bar.
type Kline struct {
	OpenTime int64   `json:"open_time"` // milliseconds
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Order is the venue's view of an order (spot endpoints return decimal
// fields as strings).
type Order struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	TransactTime  int64  `json:"transactTime"`
	Fills         []Fill `json:"fills,omitempty"`
}

// Fill is one trade inside an order response.
type Fill struct {
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
}

// Balance is a single asset balance in a spot account.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

// AccountInfo is the spot account response.
type AccountInfo struct {
	Balances []Balance `json:"balances"`
}

// ExchangeInfo holds the exchange information response.
type ExchangeInfo struct {
	Symbols []SymbolInfo `json:"symbols"`
}

// SymbolInfo holds the trading rules for a single symbol.
type SymbolInfo struct {
	Symbol  string   `json:"symbol"`
	Filters []Filter `json:"filters"`
}

// Filter holds filter data; PRICE_FILTER, LOT_SIZE and NOTIONAL matter here.
type Filter struct {
	FilterType  string `json:"filterType"`
	TickSize    string `json:"tickSize,omitempty"`
	StepSize    string `json:"stepSize,omitempty"`
	MinQty      string `json:"minQty,omitempty"`
	MaxQty      string `json:"maxQty,omitempty"`
	MinNotional string `json:"minNotional,omitempty"`
}

// TradeEvent is a trade pushed by the market stream.
type TradeEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"a"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
	IsMaker   bool   `json:"m"`
}

// Error is the error payload returned by the exchange API.
type Error struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.Code, e.Msg)
}
