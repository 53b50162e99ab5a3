package strategy

import (
	"strconv"
	"testing"
	"time"

	"grid-strategy-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeVenue serves a fixed kline window and a settable price, and fills
// market orders at the submitted price. Keeping the klines constant pins the
// regime detector to one reading, so ladder regeneration only happens on the
// cold start.
type fakeVenue struct {
	klines []models.Kline
	price  float64
	now    time.Time
	orders int64
	placed []fakeOrder
}

type fakeOrder struct {
	side     models.Side
	price    float64
	quantity float64
}

// steadyUptrend builds bars alternating +5/-1 so the detector scores every
// bullish check without pushing RSI into the overbought extreme.
func steadyUptrend(n int) []models.Kline {
	klines := make([]models.Kline, n)
	price := 99000.0
	base := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	for i := range klines {
		if i%2 == 0 {
			price += 5
		} else {
			price -= 1
		}
		klines[i] = models.Kline{
			OpenTime: base.Add(time.Duration(i) * time.Minute).UnixMilli(),
			Open:     price, High: price, Low: price, Close: price,
			Volume: 1,
		}
	}
	return klines
}

func (f *fakeVenue) GetPrice(string) (float64, error) { return f.price, nil }

func (f *fakeVenue) GetKlines(string, string, int) ([]models.Kline, error) {
	return f.klines, nil
}

func (f *fakeVenue) PlaceOrder(symbol string, side models.Side, orderType string, quantity, price float64) (*models.Order, error) {
	f.orders++
	f.placed = append(f.placed, fakeOrder{side: side, price: price, quantity: quantity})
	return &models.Order{
		OrderID:     f.orders,
		Symbol:      symbol,
		Side:        string(side),
		Price:       strconv.FormatFloat(price, 'f', -1, 64),
		ExecutedQty: strconv.FormatFloat(quantity, 'f', -1, 64),
		Status:      "FILLED",
	}, nil
}

func (f *fakeVenue) GetOrderStatus(string, int64) (*models.Order, error) { return nil, nil }
func (f *fakeVenue) CancelOrder(string, int64) error                     { return nil }
func (f *fakeVenue) GetAccountInfo() (*models.AccountInfo, error)        { return nil, nil }
func (f *fakeVenue) GetSymbolInfo(symbol string) (*models.SymbolInfo, error) {
	return &models.SymbolInfo{
		Symbol:  symbol,
		Filters: []models.Filter{{FilterType: "LOT_SIZE", StepSize: "0.00001"}},
	}, nil
}
func (f *fakeVenue) GetServerTime() (int64, error) { return f.now.UnixMilli(), nil }
func (f *fakeVenue) CurrentTime() time.Time        { return f.now }

func testConfig() *models.Config {
	return &models.Config{
		Symbol:                "BTCUSDT",
		GridLevels:            10,
		GridSpacingPct:        0.005,
		BaseOrderQuantity:     0.001,
		TotalCapital:          10000,
		ATRLookback:           14,
		RegimeChangeThreshold: 0.3,
		MaxConsecutiveLosses:  3,
		MaxDrawdownPct:        10,
		DailyLossLimitPct:     5,
		TakerFeePct:           0.1,
		PollIntervalSec:       30,
		KlineInterval:         "1m",
	}
}

func newTestStrategy(t *testing.T, venue *fakeVenue) *Strategy {
	t.Helper()
	s, err := New(testConfig(), venue, nil, nil, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestColdStartGeneratesTiltedLadder(t *testing.T) {
	venue := &fakeVenue{klines: steadyUptrend(210), price: 100000, now: time.Now()}
	s := newTestStrategy(t, venue)

	require.NoError(t, s.ProcessTick())

	// The uptrend reads bullish and calm: center shifts 2% down, the base
	// spacing is scaled by 0.7 (very low volatility) and 1.2 (bullish), and
	// the buy side gets int(5*1.5)=7 levels against int(5*0.7)=3 sells.
	ladder := s.engine.Ladder()
	require.Len(t, ladder, 10)

	center := 100000 * 0.98
	spacing := 0.005 * 0.7 * 1.2
	buys, sells := 0, 0
	for _, lvl := range ladder {
		if lvl.Side == models.Buy {
			buys++
			expect := center * (1 - spacing*float64(-lvl.Index))
			assert.InDelta(t, expect, lvl.Price, 1e-6)
		} else {
			sells++
			expect := center * (1 + spacing*float64(lvl.Index))
			assert.InDelta(t, expect, lvl.Price, 1e-6)
		}
		// Quantity carries the calm-market 1.1 position multiplier.
		assert.InDelta(t, 0.0011, lvl.Quantity, 1e-9)
	}
	assert.Equal(t, 7, buys)
	assert.Equal(t, 3, sells)

	// Price sits above the whole ladder's buy side; nothing fires.
	assert.Empty(t, venue.placed)
	assert.InDelta(t, 0.0, s.engine.Position(), 1e-12)
}

func TestShortHistoryBuildsNeutralLadder(t *testing.T) {
	venue := &fakeVenue{klines: steadyUptrend(10), price: 100000, now: time.Now()}
	s := newTestStrategy(t, venue)

	require.NoError(t, s.ProcessTick())

	// Ten bars cannot seed the ATR, so spacing and quantity keep the neutral
	// 1.0 multipliers instead of the calm-market 0.7/1.1. The short series
	// also reads as sideways, which applies the 0.8 spacing tilt only.
	ladder := s.engine.Ladder()
	require.Len(t, ladder, 10)

	spacing := 0.005 * 1.0 * 0.8
	for _, lvl := range ladder {
		if lvl.Index == -1 {
			assert.InDelta(t, 100000*(1-spacing), lvl.Price, 1e-6)
		}
		assert.InDelta(t, 0.001, lvl.Quantity, 1e-9)
	}
}

func TestRoundTripCompletesCycle(t *testing.T) {
	venue := &fakeVenue{klines: steadyUptrend(210), price: 100000, now: time.Now()}
	s := newTestStrategy(t, venue)

	require.NoError(t, s.ProcessTick()) // cold start, ladder only

	center := 100000 * 0.98
	spacing := 0.005 * 0.7 * 1.2
	topBuy := center * (1 - spacing)    // level -1
	firstSell := center * (1 + spacing) // level +1

	// Price dips just under the top buy level: exactly one buy fires.
	venue.price = topBuy - 50
	require.NoError(t, s.ProcessTick())
	require.Len(t, venue.placed, 1)
	assert.Equal(t, models.Buy, venue.placed[0].side)
	assert.InDelta(t, 0.0011, s.engine.Position(), 1e-9)

	// Identical klines mean no regime change, so the ladder (and the open
	// buy) must have survived the second tick untouched.
	require.Len(t, s.engine.Ladder(), 10)
	assert.Len(t, s.engine.BoughtSet(), 1)

	// Price recovers through the first sell level: the buy is closed and
	// the round trip books as one completed cycle.
	venue.price = firstSell + 50
	require.NoError(t, s.ProcessTick())
	require.Len(t, venue.placed, 2)
	assert.Equal(t, models.Sell, venue.placed[1].side)
	assert.InDelta(t, 0.0, s.engine.Position(), 1e-9)

	history := s.Tracker().History()
	require.Len(t, history, 1)
	wantGross := (firstSell + 50 - (topBuy - 50)) * 0.0011
	assert.InDelta(t, wantGross, history[0].GrossProfit, 1e-6)
	assert.Greater(t, history[0].NetProfit, 0.0)
	assert.Equal(t, 2, history[0].FillCount)

	// A profitable cycle leaves the gate wide open.
	status := s.RiskStatus()
	assert.True(t, status.TradingAllowed)
	assert.False(t, s.IsHalted())
}

func TestForceRegenerationRebuildsAroundCurrentPrice(t *testing.T) {
	venue := &fakeVenue{klines: steadyUptrend(210), price: 100000, now: time.Now()}
	s := newTestStrategy(t, venue)

	require.NoError(t, s.ProcessTick())
	before := s.engine.Ladder()[0].Price

	venue.price = 105000
	require.NoError(t, s.ProcessTick())
	assert.InDelta(t, before, s.engine.Ladder()[0].Price, 1e-9,
		"stable regime must not rebuild the ladder")

	s.ForceRegeneration()
	require.NoError(t, s.ProcessTick())
	assert.Greater(t, s.engine.Ladder()[0].Price, before,
		"forced rebuild recenters on the higher price")
}

type stubRepo struct {
	state *models.StrategyState
}

func (r *stubRepo) SaveState(*models.StrategyState) error     { return nil }
func (r *stubRepo) LoadState() (*models.StrategyState, error) { return r.state, nil }
func (r *stubRepo) Close() error                              { return nil }

func TestRestoreHonorsEmergencyStop(t *testing.T) {
	venue := &fakeVenue{klines: steadyUptrend(210), price: 100000, now: time.Now()}
	repo := &stubRepo{state: &models.StrategyState{
		Symbol: "BTCUSDT",
		Risk:   models.RiskState{EmergencyStop: true},
	}}

	s, err := New(testConfig(), venue, repo, nil, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, s.IsHalted())

	// The halted strategy still observes the market but places nothing.
	require.NoError(t, s.ProcessTick())
	assert.Empty(t, venue.placed)
}

func TestRestoreRejectsForeignSymbol(t *testing.T) {
	venue := &fakeVenue{klines: steadyUptrend(210), price: 100000, now: time.Now()}
	repo := &stubRepo{state: &models.StrategyState{Symbol: "ETHUSDT"}}

	_, err := New(testConfig(), venue, repo, nil, zap.NewNop())
	require.Error(t, err)
}
