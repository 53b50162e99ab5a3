package regime

import (
	"math"

	"grid-strategy-go/internal/models"

	"go.uber.org/zap"
)

// strengthHistoryLimit bounds the tracked strength readings.
const strengthHistoryLimit = 10

// driftWindow is how many recent readings the drift check averages over.
const driftWindow = 5

// Policy decides whether the ladder must be regenerated. The decision is
// driven by discrete regime flips and by strength drifting away from its
// recent average; plain price movement through a stable ladder never
// triggers a rebuild.
type Policy struct {
	threshold float64 // strength drift that forces a rebuild
	force     bool    // manual override, consumed by the next decision
	logger    *zap.SugaredLogger
}

// NewPolicy creates a regeneration policy with the given drift threshold.
func NewPolicy(threshold float64, logger *zap.SugaredLogger) *Policy {
	if threshold <= 0 {
		threshold = 0.3
	}
	return &Policy{threshold: threshold, logger: logger}
}

// Force makes the next ShouldRegenerate call return true once.
func (p *Policy) Force() {
	p.force = true
	if p.logger != nil {
		p.logger.Info("grid regeneration forced for next poll")
	}
}

// ShouldRegenerate reports whether the ladder must be rebuilt, with the
// reason that triggered it.
func (p *Policy) ShouldRegenerate(state *models.RegimeState, newRegime TrendRegime, strength float64) (bool, string) {
	if p.force {
		p.force = false
		return true, "manual_trigger"
	}

	if !state.GridGenerated {
		return true, "cold_start"
	}

	if state.Current != "" && state.Current != string(newRegime) {
		if p.logger != nil {
			p.logger.Infow("regime change detected", "from", state.Current, "to", newRegime)
		}
		return true, "regime_change"
	}

	if len(state.StrengthHistory) >= driftWindow {
		recent := state.StrengthHistory[len(state.StrengthHistory)-driftWindow:]
		sum := 0.0
		for _, s := range recent {
			sum += s
		}
		avg := sum / float64(driftWindow)
		if math.Abs(strength-avg) > p.threshold {
			if p.logger != nil {
				p.logger.Infow("regime strength drift detected", "avg", avg, "current", strength)
			}
			return true, "strength_drift"
		}
	}

	return false, ""
}

// UpdateTracking records the latest reading into the regime state, keeping
// the strength history bounded.
func UpdateTracking(state *models.RegimeState, newRegime TrendRegime, strength float64) {
	state.Current = string(newRegime)
	state.StrengthHistory = append(state.StrengthHistory, strength)
	if len(state.StrengthHistory) > strengthHistoryLimit {
		state.StrengthHistory = state.StrengthHistory[1:]
	}
}
