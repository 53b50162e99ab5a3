package risk

import (
	"testing"
	"time"

	"grid-strategy-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(limits Limits) (*Gate, *models.RiskState) {
	state := &models.RiskState{}
	g := NewGate(limits, state, nil)
	return g, state
}

func TestConsecutiveLossesBlockAndRecover(t *testing.T) {
	g, state := newTestGate(Limits{
		MaxConsecutiveLosses: 3,
		DailyLossLimit:       1000,
		MaxDrawdown:          1000,
	})

	for i := 0; i < 3; i++ {
		allowed, _ := g.CheckTradeAllowed()
		require.True(t, allowed)
		g.RecordTradeResult(-10, "loss")
	}

	allowed, reason := g.CheckTradeAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "max_consecutive_losses", reason)
	assert.False(t, g.EmergencyStopped(), "consecutive losses alone must not emergency-stop")

	// A single win resets the counter and reopens the gate.
	g.RecordTradeResult(5, "win")
	assert.Equal(t, 0, state.ConsecutiveLosses)
	allowed, _ = g.CheckTradeAllowed()
	assert.True(t, allowed)
}

func TestDrawdownBookkeeping(t *testing.T) {
	g, state := newTestGate(Limits{MaxConsecutiveLosses: 10, DailyLossLimit: 1000, MaxDrawdown: 1000})

	g.RecordTradeResult(-30, "l1")
	g.RecordTradeResult(-20, "l2")
	assert.Equal(t, 50.0, state.CurrentDrawdown)
	assert.Equal(t, 50.0, state.MaxDrawdownSeen)

	// Wins pay the drawdown down, floored at zero; the high-water mark stays.
	g.RecordTradeResult(40, "w1")
	assert.Equal(t, 10.0, state.CurrentDrawdown)
	g.RecordTradeResult(40, "w2")
	assert.Equal(t, 0.0, state.CurrentDrawdown)
	assert.Equal(t, 50.0, state.MaxDrawdownSeen)
}

func TestDailyLossEarlyWarning(t *testing.T) {
	g, _ := newTestGate(Limits{MaxConsecutiveLosses: 100, DailyLossLimit: 100, MaxDrawdown: 10000})

	g.RecordTradeResult(-50, "l1")
	allowed, _ := g.CheckTradeAllowed()
	assert.True(t, allowed)

	// 80% of the daily limit blocks new trades before the hard stop.
	g.RecordTradeResult(-30, "l2")
	allowed, reason := g.CheckTradeAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "daily_loss_warning", reason)
	assert.False(t, g.EmergencyStopped())
}

func TestEmergencyStopOnDailyLossIsSticky(t *testing.T) {
	g, _ := newTestGate(Limits{MaxConsecutiveLosses: 100, DailyLossLimit: 100, MaxDrawdown: 10000})

	g.RecordTradeResult(-100, "big-loss")
	assert.True(t, g.EmergencyStopped())

	allowed, reason := g.CheckTradeAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "emergency_stop", reason)

	// Recovered P&L does not clear the flag.
	g.RecordTradeResult(500, "recovery")
	assert.True(t, g.EmergencyStopped())
	allowed, reason = g.CheckTradeAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "emergency_stop", reason)
}

func TestEmergencyStopOnDrawdown(t *testing.T) {
	g, _ := newTestGate(Limits{MaxConsecutiveLosses: 100, DailyLossLimit: 10000, MaxDrawdown: 50})

	g.RecordTradeResult(-30, "l1")
	assert.False(t, g.EmergencyStopped())
	g.RecordTradeResult(-25, "l2")
	assert.True(t, g.EmergencyStopped())
}

func TestDayRolloverKeepsConsecutiveLosses(t *testing.T) {
	g, state := newTestGate(Limits{MaxConsecutiveLosses: 5, DailyLossLimit: 100, MaxDrawdown: 10000})

	day := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return day }

	g.RecordTradeResult(-79, "l1")
	allowed, _ := g.CheckTradeAllowed()
	assert.True(t, allowed)
	g.RecordTradeResult(-1, "l2")
	allowed, _ = g.CheckTradeAllowed()
	assert.False(t, allowed)

	// Next day: daily P&L starts fresh, the loss streak does not.
	day = day.Add(24 * time.Hour)
	allowed, _ = g.CheckTradeAllowed()
	assert.True(t, allowed)
	assert.Equal(t, 2, state.ConsecutiveLosses)
	assert.Equal(t, -80.0, state.DailyPnL["2026-08-28"])
	assert.Equal(t, 0.0, state.DailyPnL["2026-08-29"])
}

func TestLimitsFromConfig(t *testing.T) {
	cfg := &models.Config{
		TotalCapital:         10000,
		DailyLossLimitPct:    2,
		MaxDrawdownPct:       10,
		MaxConsecutiveLosses: 5,
	}
	l := LimitsFromConfig(cfg)
	assert.Equal(t, 200.0, l.DailyLossLimit)
	assert.Equal(t, 1000.0, l.MaxDrawdown)
	assert.Equal(t, 5, l.MaxConsecutiveLosses)
}

func TestRestoredStateHonorsEmergencyFlag(t *testing.T) {
	state := &models.RiskState{EmergencyStop: true}
	g := NewGate(Limits{MaxConsecutiveLosses: 5, DailyLossLimit: 100, MaxDrawdown: 100}, state, nil)
	allowed, reason := g.CheckTradeAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "emergency_stop", reason)
}
