package risk

import (
	"time"

	"grid-strategy-go/internal/models"

	"go.uber.org/zap"
)

// earlyWarningFraction blocks new trades before the hard daily limit is hit.
const earlyWarningFraction = 0.8

// Limits are the absolute risk boundaries, derived from the configured
// percentages of total capital.
type Limits struct {
	MaxConsecutiveLosses int
	DailyLossLimit       float64 // quote currency
	MaxDrawdown          float64 // quote currency
}

// LimitsFromConfig converts the configured percentages into quote amounts.
func LimitsFromConfig(cfg *models.Config) Limits {
	return Limits{
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		DailyLossLimit:       cfg.TotalCapital * cfg.DailyLossLimitPct / 100,
		MaxDrawdown:          cfg.TotalCapital * cfg.MaxDrawdownPct / 100,
	}
}

// Status is a point-in-time report of the gate's counters.
type Status struct {
	ConsecutiveLosses int
	DailyPnL          float64
	CurrentDrawdown   float64
	MaxDrawdownSeen   float64
	EmergencyStop     bool
	TradingAllowed    bool
	BlockReason       string
}

// Gate is the admission control in front of the execution engine. It tracks
// per-trade results and blocks new trades on limit breaches. A daily-loss or
// drawdown breach flips the sticky emergency stop; a consecutive-loss breach
// only blocks until a win resets the counter.
type Gate struct {
	limits Limits
	state  *models.RiskState
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewGate wraps the given risk state. The state may come from a restored
// snapshot; the emergency flag is honored as-is (it never resets within a
// process and a restart is the only way to clear it deliberately).
func NewGate(limits Limits, state *models.RiskState, logger *zap.SugaredLogger) *Gate {
	if state.DailyPnL == nil {
		state.DailyPnL = make(map[string]float64)
	}
	return &Gate{limits: limits, state: state, logger: logger, now: time.Now}
}

func (g *Gate) today() string {
	return g.now().Format("2006-01-02")
}

// RecordTradeResult books one realized trade P&L and re-checks the hard
// limits. Losses grow the consecutive counter and the drawdown; wins reset
// the counter and pay the drawdown down to zero.
func (g *Gate) RecordTradeResult(pnl float64, tradeID string) {
	g.state.DailyPnL[g.today()] += pnl

	if pnl < 0 {
		g.state.ConsecutiveLosses++
		g.state.CurrentDrawdown += -pnl
		if g.state.CurrentDrawdown > g.state.MaxDrawdownSeen {
			g.state.MaxDrawdownSeen = g.state.CurrentDrawdown
		}
	} else {
		g.state.ConsecutiveLosses = 0
		g.state.CurrentDrawdown -= pnl
		if g.state.CurrentDrawdown < 0 {
			g.state.CurrentDrawdown = 0
		}
	}

	if g.logger != nil {
		g.logger.Infow("trade result recorded",
			"trade_id", tradeID, "pnl", pnl,
			"consecutive_losses", g.state.ConsecutiveLosses,
			"daily_pnl", g.state.DailyPnL[g.today()],
			"drawdown", g.state.CurrentDrawdown)
	}

	g.checkHardLimits()
}

// checkHardLimits trips the emergency stop on a daily-loss or drawdown
// breach. Consecutive losses alone never trip it.
func (g *Gate) checkHardLimits() {
	if g.state.EmergencyStop {
		return
	}

	dailyLoss := -g.state.DailyPnL[g.today()]
	if g.limits.DailyLossLimit > 0 && dailyLoss >= g.limits.DailyLossLimit {
		g.trip("daily loss limit breached", dailyLoss, g.limits.DailyLossLimit)
		return
	}
	if g.limits.MaxDrawdown > 0 && g.state.CurrentDrawdown >= g.limits.MaxDrawdown {
		g.trip("max drawdown breached", g.state.CurrentDrawdown, g.limits.MaxDrawdown)
	}
}

func (g *Gate) trip(reason string, value, limit float64) {
	g.state.EmergencyStop = true
	if g.logger != nil {
		g.logger.Errorw("EMERGENCY STOP: "+reason,
			"value", value, "limit", limit)
	}
}

// CheckTradeAllowed reports whether a new trade may be attempted, with the
// blocking reason when it may not.
func (g *Gate) CheckTradeAllowed() (bool, string) {
	if g.state.EmergencyStop {
		return false, "emergency_stop"
	}
	if g.state.ConsecutiveLosses >= g.limits.MaxConsecutiveLosses {
		return false, "max_consecutive_losses"
	}

	dailyLoss := -g.state.DailyPnL[g.today()]
	if g.limits.DailyLossLimit > 0 && dailyLoss >= earlyWarningFraction*g.limits.DailyLossLimit {
		return false, "daily_loss_warning"
	}

	return true, ""
}

// EmergencyStopped reports the sticky terminal flag. The polling loop checks
// it to stop placing entries while still observing the market.
func (g *Gate) EmergencyStopped() bool {
	return g.state.EmergencyStop
}

// Status reports the current counters for logging and the reporter.
func (g *Gate) Status() Status {
	allowed, reason := g.CheckTradeAllowed()
	return Status{
		ConsecutiveLosses: g.state.ConsecutiveLosses,
		DailyPnL:          g.state.DailyPnL[g.today()],
		CurrentDrawdown:   g.state.CurrentDrawdown,
		MaxDrawdownSeen:   g.state.MaxDrawdownSeen,
		EmergencyStop:     g.state.EmergencyStop,
		TradingAllowed:    allowed,
		BlockReason:       reason,
	}
}
