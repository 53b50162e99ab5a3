package models

import "time"

// StrategyState is everything that must survive a restart: the live ladder,
// the execution bookkeeping, risk counters and regime tracking. It is saved
// as a single snapshot after every state-changing event.
type StrategyState struct {
	Symbol         string         `json:"symbol"`
	Version        int            `json:"version"` // state model version, for future migrations
	CenterPrice    float64        `json:"center_price"`
	Ladder         []GridLevel    `json:"ladder"`
	OpenBuys       []OpenPosition `json:"open_buys"` // filled buy levels awaiting their sell
	SoldPairs      []SoldPair     `json:"sold_pairs"`
	Legacy         []OpenPosition `json:"legacy"` // open buys carried across regenerations
	Position       float64        `json:"position"`
	Regime         RegimeState    `json:"regime"`
	Risk           RiskState      `json:"risk"`
	LastUpdateTime time.Time      `json:"last_update_time"`
}

// OpenPosition is one filled buy that still awaits its closing sell. While
// its ladder is live it is keyed by the level index; after a regeneration it
// moves to the legacy list and keeps only its entry economics.
type OpenPosition struct {
	LevelID  int     `json:"level_id"`
	Price    float64 `json:"price"` // entry fill price
	Quantity float64 `json:"quantity"`
	Fee      float64 `json:"fee"` // entry-leg fee, charged against the closing sell's P&L
}

// RegimeState tracks the market regime between ticks.
type RegimeState struct {
	Current         string    `json:"current"` // "bullish", "bearish", "sideways"
	StrengthHistory []float64 `json:"strength_history"`
	GridGenerated   bool      `json:"grid_generated"`
}

// RiskState holds the risk gate counters. EmergencyStop is monotonic: once
// true it stays true for the rest of the process lifetime.
type RiskState struct {
	ConsecutiveLosses int                `json:"consecutive_losses"`
	DailyPnL          map[string]float64 `json:"daily_pnl"` // date (2006-01-02) -> realized P&L
	CurrentDrawdown   float64            `json:"current_drawdown"`
	MaxDrawdownSeen   float64            `json:"max_drawdown_seen"`
	EmergencyStop     bool               `json:"emergency_stop"`
}
