package cycle

import (
	"math"
	"time"

	"grid-strategy-go/internal/models"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// Archiver persists completed cycles and hands out cycle sequence numbers.
// The sqlite store implements it; a nil archiver keeps everything in memory
// (backtests, tests).
type Archiver interface {
	NextCycleID() (int64, error)
	SaveCycle(c models.CompletedCycle) error
	SaveFill(f models.OrderFill) error
}

// DailyStat aggregates one day of completed cycles.
type DailyStat struct {
	Cycles int
	NetPnL float64
}

// Summary is the tracker's performance report.
type Summary struct {
	TotalCycles          int
	WinningCycles        int
	LosingCycles         int
	WinRate              float64 // percent
	TotalNetProfit       float64
	TotalFees            float64
	ProfitFactor         float64 // +Inf when there are no losing cycles
	MaxConsecutiveLosses int
	LargestLoss          float64 // most negative net profit, 0 if none
	CurrentDrawdown      float64
	MaxDrawdown          float64
}

// activeCycle accumulates fills until the round trip closes.
type activeCycle struct {
	id         string
	startTime  time.Time
	startPrice float64
	fills      []models.OrderFill
	buyVolume  float64 // quote value of buys
	sellVolume float64 // quote value of sells
	fees       float64
	buys       int
	sells      int
}

// Tracker aggregates matched buy/sell fills into cycles and keeps win/loss
// and drawdown statistics over the completed history.
type Tracker struct {
	symbol  string
	archive Archiver
	logger  *zap.SugaredLogger

	active  *activeCycle
	history []models.CompletedCycle
	daily   map[string]DailyStat

	totalProfit     float64 // sum of winning nets
	totalLoss       float64 // sum of |losing nets|
	totalFees       float64
	currentDrawdown float64
	maxDrawdown     float64
}

// NewTracker creates a tracker for one symbol.
func NewTracker(symbol string, archive Archiver, logger *zap.SugaredLogger) *Tracker {
	return &Tracker{
		symbol:  symbol,
		archive: archive,
		logger:  logger,
		daily:   make(map[string]DailyStat),
	}
}

// ActiveCycleID returns the open cycle's ID, or "" when none is active.
func (t *Tracker) ActiveCycleID() string {
	if t.active == nil {
		return ""
	}
	return t.active.id
}

// StartNewCycle opens a cycle record. It is a no-op while a cycle is active.
func (t *Tracker) StartNewCycle(initialPrice float64, now time.Time) string {
	if t.active != nil {
		return t.active.id
	}

	t.active = &activeCycle{
		id:         t.nextID(now),
		startTime:  now,
		startPrice: initialPrice,
	}
	if t.logger != nil {
		t.logger.Infow("cycle started", "cycle_id", t.active.id, "price", initialPrice)
	}
	return t.active.id
}

// nextID draws from the archive's sequence when available, falling back to
// the timestamp. Either way the ID is base62-encoded to stay short in logs
// and client order IDs.
func (t *Tracker) nextID(now time.Time) string {
	var n int64
	if t.archive != nil {
		if seq, err := t.archive.NextCycleID(); err == nil {
			n = seq
		}
	}
	if n == 0 {
		n = now.UnixMilli()
	}
	return "c" + string(base62.FormatInt(n))
}

// RecordOrderFill appends a fill to the active cycle, opening one first if a
// buy arrives with no cycle active.
func (t *Tracker) RecordOrderFill(orderID string, side models.Side, price, qty, fee float64, now time.Time) {
	if t.active == nil {
		if side != models.Buy {
			// A sell with no active cycle closes a legacy position; there
			// is no round trip to book it against.
			return
		}
		t.StartNewCycle(price, now)
	}

	fill := models.OrderFill{
		OrderID:  orderID,
		CycleID:  t.active.id,
		Symbol:   t.symbol,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Fee:      fee,
		Time:     now,
	}
	t.active.fills = append(t.active.fills, fill)
	t.active.fees += fee

	if side == models.Buy {
		t.active.buys++
		t.active.buyVolume += price * qty
	} else {
		t.active.sells++
		t.active.sellVolume += price * qty
	}

	if t.archive != nil {
		if err := t.archive.SaveFill(fill); err != nil && t.logger != nil {
			t.logger.Warnw("failed to archive fill", "order_id", orderID, "error", err)
		}
	}
}

// CheckCycleCompletion closes the active cycle once it holds at least one
// buy and one sell fill. The completed record is returned and archived; a
// new cycle may start on the next buy.
func (t *Tracker) CheckCycleCompletion(now time.Time) (*models.CompletedCycle, bool) {
	if t.active == nil || t.active.buys == 0 || t.active.sells == 0 {
		return nil, false
	}

	a := t.active
	gross := a.sellVolume - a.buyVolume
	net := gross - a.fees
	profitPct := 0.0
	if a.buyVolume > 0 {
		profitPct = net / a.buyVolume * 100
	}

	done := models.CompletedCycle{
		ID:          a.id,
		Symbol:      t.symbol,
		StartTime:   a.startTime,
		EndTime:     now,
		BuyVolume:   a.buyVolume,
		SellVolume:  a.sellVolume,
		GrossProfit: gross,
		Fees:        a.fees,
		NetProfit:   net,
		ProfitPct:   profitPct,
		FillCount:   len(a.fills),
	}
	t.active = nil
	t.history = append(t.history, done)
	t.totalFees += a.fees

	if net > 0 {
		t.totalProfit += net
		t.currentDrawdown = 0
	} else {
		t.totalLoss += -net
		t.currentDrawdown += -net
		if t.currentDrawdown > t.maxDrawdown {
			t.maxDrawdown = t.currentDrawdown
		}
	}

	day := now.Format("2006-01-02")
	stat := t.daily[day]
	stat.Cycles++
	stat.NetPnL += net
	t.daily[day] = stat

	if t.archive != nil {
		if err := t.archive.SaveCycle(done); err != nil && t.logger != nil {
			t.logger.Warnw("failed to archive cycle", "cycle_id", done.ID, "error", err)
		}
	}
	if t.logger != nil {
		t.logger.Infow("cycle completed",
			"cycle_id", done.ID, "gross", gross, "net", net, "profit_pct", profitPct)
	}
	return &done, true
}

// History returns the completed cycles in completion order.
func (t *Tracker) History() []models.CompletedCycle {
	return t.history
}

// DailyStats returns the per-day aggregates.
func (t *Tracker) DailyStats() map[string]DailyStat {
	return t.daily
}

// PerformanceSummary reports over the completed history.
func (t *Tracker) PerformanceSummary() Summary {
	s := Summary{
		TotalCycles:     len(t.history),
		TotalFees:       t.totalFees,
		CurrentDrawdown: t.currentDrawdown,
		MaxDrawdown:     t.maxDrawdown,
	}

	streak := 0
	for _, c := range t.history {
		if c.NetProfit > 0 {
			s.WinningCycles++
			streak = 0
		} else {
			s.LosingCycles++
			streak++
			if streak > s.MaxConsecutiveLosses {
				s.MaxConsecutiveLosses = streak
			}
			if c.NetProfit < s.LargestLoss {
				s.LargestLoss = c.NetProfit
			}
		}
		s.TotalNetProfit += c.NetProfit
	}

	if s.TotalCycles > 0 {
		s.WinRate = float64(s.WinningCycles) / float64(s.TotalCycles) * 100
	}
	switch {
	case t.totalLoss > 0:
		s.ProfitFactor = t.totalProfit / t.totalLoss
	case t.totalProfit > 0:
		s.ProfitFactor = math.Inf(1)
	}
	return s
}
