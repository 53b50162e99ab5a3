package volatility

import (
	"math"
	"time"

	"grid-strategy-go/internal/models"

	"go.uber.org/zap"
)

// Regime is a discrete volatility band.
type Regime string

const (
	VeryLow  Regime = "very_low"
	Low      Regime = "low"
	Normal   Regime = "normal"
	High     Regime = "high"
	VeryHigh Regime = "very_high"
)

// Band entry thresholds for the volatility ratio, checked highest first.
const (
	thresholdLow      = 0.025
	thresholdNormal   = 0.040
	thresholdHigh     = 0.060
	thresholdVeryHigh = 0.080
)

// Circuit breaker limits: beyond these no new fills are allowed at all.
const (
	pauseRatioLimit   = 0.12 // 12% daily volatility
	pauseBarMoveLimit = 0.05 // 5% single-bar move
)

var spacingMultipliers = map[Regime]float64{
	VeryLow:  0.7, // tighter spacing in calm markets
	Low:      0.85,
	Normal:   1.0,
	High:     1.3, // wider spacing in volatile markets
	VeryHigh: 1.6,
}

var positionMultipliers = map[Regime]float64{
	VeryLow:  1.1, // slightly larger positions when calm
	Low:      1.0,
	Normal:   1.0,
	High:     0.8,
	VeryHigh: 0.6, // much smaller positions in chaos
}

const historyLimit = 100

// Assessment is one classifier output for a bar series.
type Assessment struct {
	Ratio              float64
	Regime             Regime
	SpacingMultiplier  float64
	PositionMultiplier float64
}

// Summary aggregates the most recent readings.
type Summary struct {
	CurrentRegime      Regime
	AvgRatio           float64
	RegimeStability    int // distinct regimes among recent readings; lower is more stable
	ReadingsCount      int
	SpacingMultiplier  float64
	PositionMultiplier float64
}

// Classifier maps ATR-based volatility to a regime with spacing and
// position-size multipliers. It keeps a bounded history of its readings.
type Classifier struct {
	lookback int
	history  []models.VolatilityReading
	logger   *zap.SugaredLogger
}

// NewClassifier creates a classifier with the given ATR lookback (14 is the
// conventional default).
func NewClassifier(lookback int, logger *zap.SugaredLogger) *Classifier {
	if lookback <= 0 {
		lookback = 14
	}
	return &Classifier{lookback: lookback, logger: logger}
}

// ATR is the simple moving average of the True Range over the lookback
// window. It needs lookback+1 bars (True Range references the previous
// close); with fewer it returns 0.
func (c *Classifier) ATR(klines []models.Kline) float64 {
	if len(klines) < c.lookback+1 {
		return 0
	}

	sum := 0.0
	for i := len(klines) - c.lookback; i < len(klines); i++ {
		k := klines[i]
		prevClose := klines[i-1].Close
		tr := math.Max(k.High-k.Low,
			math.Max(math.Abs(k.High-prevClose), math.Abs(k.Low-prevClose)))
		sum += tr
	}
	return sum / float64(c.lookback)
}

// Ratio is ATR divided by the most recent close. Zero when there is not
// enough history; Assess substitutes the normal regime in that case.
func (c *Classifier) Ratio(klines []models.Kline) float64 {
	if len(klines) == 0 {
		return 0
	}
	currentPrice := klines[len(klines)-1].Close
	if currentPrice <= 0 {
		return 0
	}
	return c.ATR(klines) / currentPrice
}

// Classify maps a volatility ratio to its band. The highest matching
// threshold wins, so the mapping is monotonic in the ratio.
func Classify(ratio float64) Regime {
	switch {
	case ratio >= thresholdVeryHigh:
		return VeryHigh
	case ratio >= thresholdHigh:
		return High
	case ratio >= thresholdNormal:
		return Normal
	case ratio >= thresholdLow:
		return Low
	default:
		return VeryLow
	}
}

// SpacingMultiplier returns the grid spacing scale for a regime.
func SpacingMultiplier(r Regime) float64 {
	if m, ok := spacingMultipliers[r]; ok {
		return m
	}
	return 1.0
}

// PositionMultiplier returns the position-size scale for a regime.
func PositionMultiplier(r Regime) float64 {
	if m, ok := positionMultipliers[r]; ok {
		return m
	}
	return 1.0
}

// Assess classifies the current bar series and records the reading. With
// fewer than lookback+1 bars the ratio is unmeasurable; a zero ratio would
// read as very_low and tighten the grid, so the regime stays normal until
// the ATR warms up.
func (c *Classifier) Assess(klines []models.Kline, now time.Time) Assessment {
	ratio := c.Ratio(klines)
	regime := Classify(ratio)
	if len(klines) < c.lookback+1 {
		regime = Normal
	}
	a := Assessment{
		Ratio:              ratio,
		Regime:             regime,
		SpacingMultiplier:  SpacingMultiplier(regime),
		PositionMultiplier: PositionMultiplier(regime),
	}

	c.history = append(c.history, models.VolatilityReading{
		Time:               now,
		Ratio:              ratio,
		Regime:             string(regime),
		SpacingMultiplier:  a.SpacingMultiplier,
		PositionMultiplier: a.PositionMultiplier,
	})
	if len(c.history) > historyLimit {
		c.history = c.history[1:]
	}

	if c.logger != nil {
		c.logger.Debugw("volatility assessment",
			"ratio", ratio, "regime", regime,
			"spacing_multiplier", a.SpacingMultiplier,
			"position_multiplier", a.PositionMultiplier)
	}
	return a
}

// ShouldPause reports whether conditions are extreme enough to stop all new
// fills: ratio above the black-swan limit or a single-bar move beyond 5%.
// Open levels are untouched; only new order placement pauses.
func (c *Classifier) ShouldPause(klines []models.Kline) (bool, string) {
	if len(klines) == 0 {
		return false, ""
	}

	ratio := c.Ratio(klines)
	if ratio > pauseRatioLimit {
		return true, "extreme_volatility"
	}

	if len(klines) >= 2 {
		current := klines[len(klines)-1].Close
		prev := klines[len(klines)-2].Close
		if prev > 0 && math.Abs(current-prev)/prev > pauseBarMoveLimit {
			return true, "rapid_price_move"
		}
	}
	return false, ""
}

// Summary reports over the last 10 readings.
func (c *Classifier) Summary() Summary {
	if len(c.history) == 0 {
		return Summary{}
	}

	recent := c.history
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	var sum float64
	regimes := make(map[string]struct{})
	for _, r := range recent {
		sum += r.Ratio
		regimes[r.Regime] = struct{}{}
	}

	last := recent[len(recent)-1]
	return Summary{
		CurrentRegime:      Regime(last.Regime),
		AvgRatio:           sum / float64(len(recent)),
		RegimeStability:    len(regimes),
		ReadingsCount:      len(recent),
		SpacingMultiplier:  last.SpacingMultiplier,
		PositionMultiplier: last.PositionMultiplier,
	}
}
