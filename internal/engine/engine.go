package engine

import (
	"math"
	"sort"
	"strconv"

	"grid-strategy-go/internal/exchange"
	"grid-strategy-go/internal/models"

	"go.uber.org/zap"
)

// Execution is one confirmed fill produced by the engine in a tick.
type Execution struct {
	OrderID  string
	LevelID  int
	Side     models.Side
	Price    float64
	Quantity float64
	Fee      float64
	PnL      float64 // realized, sells only: (sell - entry) * qty minus both leg fees
	Entry    float64 // entry price of the closed buy, sells only
	Legacy   bool    // sell closed a position carried from an old ladder
}

// Options tune the engine's execution policy.
type Options struct {
	TakerFeePct     float64 // percent, applied to fill value
	MaxSellsPerTick int     // 0 = unlimited
}

// Engine owns the live ladder and its execution state: which levels hold an
// open buy, which (level, price) pairs are already matched and closed, and
// the net position. All order placement goes through the venue; per-level
// failures are logged and skipped so one bad level never aborts a tick.
type Engine struct {
	venue  exchange.Exchange
	symbol string
	opts   Options
	logger *zap.SugaredLogger

	ladder   []models.GridLevel
	bought   map[int]models.OpenPosition // level index -> open buy
	sold     map[models.SoldPair]bool
	legacy   []models.OpenPosition
	position float64
}

// NewEngine creates an execution engine for one symbol.
func NewEngine(venue exchange.Exchange, symbol string, opts Options, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		venue:  venue,
		symbol: symbol,
		opts:   opts,
		logger: logger,
		bought: make(map[int]models.OpenPosition),
		sold:   make(map[models.SoldPair]bool),
	}
}

// ReplaceLadder installs a freshly generated ladder. Open buys from the old
// ladder are carried forward as legacy positions: they keep their entry
// economics and are closed against the new ladder's sell levels, never
// force-closed. The matched-pair set resets with the ladder that defined it.
func (e *Engine) ReplaceLadder(ladder []models.GridLevel) {
	for _, open := range e.bought {
		e.legacy = append(e.legacy, open)
	}
	if len(e.bought) > 0 && e.logger != nil {
		e.logger.Infow("carrying open buys across regeneration", "count", len(e.bought))
	}

	e.ladder = ladder
	e.bought = make(map[int]models.OpenPosition)
	e.sold = make(map[models.SoldPair]bool)
}

// Ladder returns the live ladder.
func (e *Engine) Ladder() []models.GridLevel {
	return e.ladder
}

// Position returns the net base-asset quantity held.
func (e *Engine) Position() float64 {
	return e.position
}

// Evaluate returns the levels eligible to fire at the given price. A BUY
// level is a candidate iff price is at or below it and it holds no open
// buy; a SELL level is a candidate iff price is at or above it and its
// (level, price) pair has not already been matched. Evaluate has no side
// effects: calling it twice without an intervening fill yields the same
// candidates.
func (e *Engine) Evaluate(currentPrice float64) (buys, sells []models.GridLevel) {
	for _, lvl := range e.ladder {
		switch lvl.Side {
		case models.Buy:
			if currentPrice <= lvl.Price && !e.hasOpenBuy(lvl.Index) {
				buys = append(buys, lvl)
			}
		case models.Sell:
			if currentPrice >= lvl.Price && !e.sold[models.SoldPair{LevelID: lvl.Index, Price: lvl.Price}] {
				sells = append(sells, lvl)
			}
		}
	}
	return buys, sells
}

func (e *Engine) hasOpenBuy(levelID int) bool {
	_, ok := e.bought[levelID]
	return ok
}

// ExecuteBuys fires one buy order per eligible level, in ascending price
// order. Confirmed fills mark the level bought and grow the position; a
// rejected or failed order skips only its own level.
func (e *Engine) ExecuteBuys(candidates []models.GridLevel, currentPrice float64) []Execution {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Price < candidates[j].Price })

	var executed []Execution
	for _, lvl := range candidates {
		if e.hasOpenBuy(lvl.Index) {
			continue
		}

		order, err := e.venue.PlaceOrder(e.symbol, models.Buy, "MARKET", lvl.Quantity, currentPrice)
		if err != nil {
			if e.logger != nil {
				e.logger.Warnw("buy order failed, skipping level",
					"level", lvl.Index, "price", lvl.Price, "error", err)
			}
			continue
		}
		if order.Status != "FILLED" {
			if e.logger != nil {
				e.logger.Warnw("buy order not filled, skipping level",
					"level", lvl.Index, "status", order.Status)
			}
			continue
		}

		fillPrice := fillPriceOf(order, currentPrice)
		fee := fillPrice * lvl.Quantity * e.opts.TakerFeePct / 100

		e.bought[lvl.Index] = models.OpenPosition{
			LevelID:  lvl.Index,
			Price:    fillPrice,
			Quantity: lvl.Quantity,
			Fee:      fee,
		}
		e.position += lvl.Quantity
		e.setLevelStatus(lvl.Index, models.LevelFilled)

		executed = append(executed, Execution{
			OrderID:  strconv.FormatInt(order.OrderID, 10),
			LevelID:  lvl.Index,
			Side:     models.Buy,
			Price:    fillPrice,
			Quantity: lvl.Quantity,
			Fee:      fee,
		})
		if e.logger != nil {
			e.logger.Infow("buy executed",
				"level", lvl.Index, "price", fillPrice, "quantity", lvl.Quantity)
		}
	}
	return executed
}

// ExecuteSells closes open buys against eligible sell levels, up to the
// per-tick cap. Pairing is by price adjacency, re-evaluated every tick: the
// lowest eligible sell level closes the lowest-entry open buy priced below
// it. Insufficient position skips the level and continues.
func (e *Engine) ExecuteSells(candidates []models.GridLevel, currentPrice float64) []Execution {
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Price < candidates[j].Price })

	var executed []Execution
	for _, lvl := range candidates {
		if e.opts.MaxSellsPerTick > 0 && len(executed) >= e.opts.MaxSellsPerTick {
			break
		}

		open, legacy, ok := e.matchOpenBuy(lvl.Price)
		if !ok {
			continue // nothing bought below this level
		}
		if e.position < open.Quantity {
			if e.logger != nil {
				e.logger.Warnw("insufficient position for sell, skipping level",
					"level", lvl.Index, "need", open.Quantity, "have", e.position)
			}
			continue
		}

		order, err := e.venue.PlaceOrder(e.symbol, models.Sell, "MARKET", open.Quantity, currentPrice)
		if err != nil {
			if e.logger != nil {
				e.logger.Warnw("sell order failed, skipping level",
					"level", lvl.Index, "price", lvl.Price, "error", err)
			}
			continue
		}
		if order.Status != "FILLED" {
			if e.logger != nil {
				e.logger.Warnw("sell order not filled, skipping level",
					"level", lvl.Index, "status", order.Status)
			}
			continue
		}

		fillPrice := fillPriceOf(order, currentPrice)
		fee := fillPrice * open.Quantity * e.opts.TakerFeePct / 100
		pnl := (fillPrice-open.Price)*open.Quantity - fee - open.Fee

		e.closeOpenBuy(open, legacy)
		e.sold[models.SoldPair{LevelID: lvl.Index, Price: lvl.Price}] = true
		e.position -= open.Quantity

		executed = append(executed, Execution{
			OrderID:  strconv.FormatInt(order.OrderID, 10),
			LevelID:  lvl.Index,
			Side:     models.Sell,
			Price:    fillPrice,
			Quantity: open.Quantity,
			Fee:      fee,
			PnL:      pnl,
			Entry:    open.Price,
			Legacy:   legacy,
		})
		if e.logger != nil {
			e.logger.Infow("sell executed",
				"level", lvl.Index, "price", fillPrice, "entry", open.Price,
				"quantity", open.Quantity, "pnl", pnl, "legacy", legacy)
		}
	}
	return executed
}

// matchOpenBuy picks the open buy a sell at sellPrice should close: the
// lowest-entry open position bought below that price. Live ladder buys take
// priority over legacy carries at the same entry.
func (e *Engine) matchOpenBuy(sellPrice float64) (models.OpenPosition, bool, bool) {
	best := models.OpenPosition{Price: math.Inf(1)}
	found := false
	legacy := false

	for _, open := range e.bought {
		if open.Price < sellPrice && open.Price < best.Price {
			best = open
			found = true
			legacy = false
		}
	}
	for _, open := range e.legacy {
		if open.Price < sellPrice && open.Price < best.Price {
			best = open
			found = true
			legacy = true
		}
	}
	return best, legacy, found
}

func (e *Engine) closeOpenBuy(open models.OpenPosition, legacy bool) {
	if !legacy {
		delete(e.bought, open.LevelID)
		e.setLevelStatus(open.LevelID, models.LevelPending)
		return
	}
	for i, l := range e.legacy {
		if l.LevelID == open.LevelID && l.Price == open.Price {
			e.legacy = append(e.legacy[:i], e.legacy[i+1:]...)
			return
		}
	}
}

func (e *Engine) setLevelStatus(levelID int, status string) {
	for i := range e.ladder {
		if e.ladder[i].Index == levelID {
			e.ladder[i].Status = status
			return
		}
	}
}

// fillPriceOf extracts the fill price from an order response, falling back
// to the tick price for venues that return market fills without a price.
func fillPriceOf(order *models.Order, fallback float64) float64 {
	if p, err := strconv.ParseFloat(order.Price, 64); err == nil && p > 0 {
		return p
	}
	if len(order.Fills) > 0 {
		if p, err := strconv.ParseFloat(order.Fills[0].Price, 64); err == nil && p > 0 {
			return p
		}
	}
	return fallback
}

// BoughtSet returns the level indices holding an open buy, for rendering.
func (e *Engine) BoughtSet() map[int]bool {
	out := make(map[int]bool, len(e.bought))
	for id := range e.bought {
		out[id] = true
	}
	return out
}

// SoldSet returns the level indices already matched and closed.
func (e *Engine) SoldSet() map[int]bool {
	out := make(map[int]bool, len(e.sold))
	for pair := range e.sold {
		out[pair.LevelID] = true
	}
	return out
}

// LegacyPositions returns the open buys carried from previous ladders.
func (e *Engine) LegacyPositions() []models.OpenPosition {
	return e.legacy
}

// SnapshotInto writes the execution state into a strategy snapshot.
func (e *Engine) SnapshotInto(state *models.StrategyState) {
	state.Ladder = append([]models.GridLevel(nil), e.ladder...)
	state.OpenBuys = state.OpenBuys[:0]
	for _, open := range e.bought {
		state.OpenBuys = append(state.OpenBuys, open)
	}
	sort.Slice(state.OpenBuys, func(i, j int) bool {
		return state.OpenBuys[i].LevelID < state.OpenBuys[j].LevelID
	})
	state.SoldPairs = state.SoldPairs[:0]
	for pair := range e.sold {
		state.SoldPairs = append(state.SoldPairs, pair)
	}
	sort.Slice(state.SoldPairs, func(i, j int) bool {
		if state.SoldPairs[i].LevelID != state.SoldPairs[j].LevelID {
			return state.SoldPairs[i].LevelID < state.SoldPairs[j].LevelID
		}
		return state.SoldPairs[i].Price < state.SoldPairs[j].Price
	})
	state.Legacy = append([]models.OpenPosition(nil), e.legacy...)
	state.Position = e.position
}

// RestoreFrom rebuilds the execution state from a persisted snapshot.
func (e *Engine) RestoreFrom(state *models.StrategyState) {
	e.ladder = append([]models.GridLevel(nil), state.Ladder...)
	e.bought = make(map[int]models.OpenPosition, len(state.OpenBuys))
	for _, open := range state.OpenBuys {
		e.bought[open.LevelID] = open
	}
	e.sold = make(map[models.SoldPair]bool, len(state.SoldPairs))
	for _, pair := range state.SoldPairs {
		e.sold[pair] = true
	}
	e.legacy = append([]models.OpenPosition(nil), state.Legacy...)
	e.position = state.Position
}

// RoundToStep truncates a quantity to the venue's lot step. A zero step
// returns the value unchanged.
func RoundToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	return math.Floor(value/step) * step
}
