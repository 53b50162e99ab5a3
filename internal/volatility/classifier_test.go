package volatility

import (
	"testing"
	"time"

	"grid-strategy-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flatKlines builds n bars around a constant price with a fixed intra-bar
// range, which makes the expected ATR easy to reason about.
func flatKlines(n int, price, barRange float64) []models.Kline {
	klines := make([]models.Kline, n)
	for i := range klines {
		klines[i] = models.Kline{
			OpenTime: int64(i) * 60_000,
			Open:     price,
			High:     price + barRange/2,
			Low:      price - barRange/2,
			Close:    price,
		}
	}
	return klines
}

func TestATRRequiresLookbackPlusOneBars(t *testing.T) {
	c := NewClassifier(14, nil)

	// 14 bars is one short: True Range needs the previous close.
	assert.Zero(t, c.ATR(flatKlines(14, 100, 2)))
	assert.Zero(t, c.Ratio(flatKlines(14, 100, 2)))

	atr := c.ATR(flatKlines(15, 100, 2))
	assert.InDelta(t, 2.0, atr, 1e-9)
	assert.InDelta(t, 0.02, c.Ratio(flatKlines(15, 100, 2)), 1e-9)
}

func TestClassifyBands(t *testing.T) {
	cases := []struct {
		ratio float64
		want  Regime
	}{
		{0.0, VeryLow},
		{0.024, VeryLow},
		{0.025, Low},
		{0.039, Low},
		{0.040, Normal},
		{0.059, Normal},
		{0.060, High},
		{0.079, High}, // the 6-8% band stays "high"
		{0.080, VeryHigh},
		{0.50, VeryHigh},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.ratio), "ratio %f", tc.ratio)
	}
}

func TestSpacingMultiplierMonotonic(t *testing.T) {
	prev := 0.0
	for ratio := 0.0; ratio <= 0.15; ratio += 0.001 {
		m := SpacingMultiplier(Classify(ratio))
		require.GreaterOrEqual(t, m, prev, "spacing multiplier decreased at ratio %f", ratio)
		prev = m
	}
}

func TestMultiplierTables(t *testing.T) {
	assert.Equal(t, 0.7, SpacingMultiplier(VeryLow))
	assert.Equal(t, 1.6, SpacingMultiplier(VeryHigh))
	assert.Equal(t, 1.1, PositionMultiplier(VeryLow))
	assert.Equal(t, 0.6, PositionMultiplier(VeryHigh))
	// Unknown regimes fall back to neutral.
	assert.Equal(t, 1.0, SpacingMultiplier(Regime("unknown")))
	assert.Equal(t, 1.0, PositionMultiplier(Regime("unknown")))
}

func TestShouldPauseOnRapidMove(t *testing.T) {
	c := NewClassifier(14, nil)

	klines := flatKlines(20, 100, 1)
	pause, _ := c.ShouldPause(klines)
	assert.False(t, pause)

	// A 6% single-bar drop trips the breaker even with a calm ATR.
	klines[len(klines)-1].Close = 94
	pause, reason := c.ShouldPause(klines)
	assert.True(t, pause)
	assert.Equal(t, "rapid_price_move", reason)
}

func TestShouldPauseOnExtremeVolatility(t *testing.T) {
	c := NewClassifier(14, nil)

	// 13-point bar ranges on a 100 price give a ratio of ~13%.
	klines := flatKlines(20, 100, 13)
	pause, reason := c.ShouldPause(klines)
	assert.True(t, pause)
	assert.Equal(t, "extreme_volatility", reason)
}

func TestAssessRecordsHistoryAndSummary(t *testing.T) {
	c := NewClassifier(14, nil)

	now := time.Now()
	for i := 0; i < 12; i++ {
		c.Assess(flatKlines(20, 100, 2), now.Add(time.Duration(i)*time.Minute))
	}

	s := c.Summary()
	assert.Equal(t, VeryLow, s.CurrentRegime)
	assert.Equal(t, 10, s.ReadingsCount) // summary window is the last 10
	assert.Equal(t, 1, s.RegimeStability)
	assert.InDelta(t, 0.02, s.AvgRatio, 1e-9)
	assert.Equal(t, 0.7, s.SpacingMultiplier)
}

func TestAssessShortHistoryStaysNeutral(t *testing.T) {
	c := NewClassifier(14, nil)

	// Too few bars to seed the ATR: zero ratio, but normal regime and
	// neutral multipliers, not the tight very_low grid.
	for _, klines := range [][]models.Kline{nil, flatKlines(14, 100, 2)} {
		a := c.Assess(klines, time.Now())
		assert.Zero(t, a.Ratio)
		assert.Equal(t, Normal, a.Regime)
		assert.Equal(t, 1.0, a.SpacingMultiplier)
		assert.Equal(t, 1.0, a.PositionMultiplier)
	}

	// One more bar and the measured ratio takes over.
	a := c.Assess(flatKlines(15, 100, 2), time.Now())
	assert.InDelta(t, 0.02, a.Ratio, 1e-9)
	assert.Equal(t, VeryLow, a.Regime)
}
