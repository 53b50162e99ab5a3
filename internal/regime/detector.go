package regime

import (
	"grid-strategy-go/internal/models"
)

// TrendRegime is the directional market state, as opposed to the volatility
// bands: it drives the buy/sell tilt of the ladder.
type TrendRegime string

const (
	Bullish  TrendRegime = "bullish"
	Bearish  TrendRegime = "bearish"
	Sideways TrendRegime = "sideways"
)

// RSI extreme labels.
const (
	Overbought = "overbought"
	Oversold   = "oversold"
)

// minBars is the shortest series the detector will score; anything shorter
// is reported as sideways with neutral strength.
const minBars = 24

// Assessment is one detector reading.
type Assessment struct {
	Regime     TrendRegime
	Strength   float64 // fraction of bullish checks passed, in [0,1]
	RSIExtreme string  // "", "overbought" or "oversold"
}

// Detect scores the bar series against ten bullish indicator checks (price
// vs SMA 20/50/200, SMA ordering, MACD vs signal and momentum, SMA slopes,
// RSI above 50). Seven or more passing checks is bullish, three or fewer is
// bearish, anything in between is sideways.
func Detect(klines []models.Kline) Assessment {
	if len(klines) < minBars {
		return Assessment{Regime: Sideways, Strength: 0.5}
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	last := len(closes) - 1
	price := closes[last]

	sma20 := smaAt(closes, last, 20)
	sma50 := smaAt(closes, last, 50)
	sma200 := smaAt(closes, last, 200)
	rsi := rsiAt(closes, 14)
	macd, signal := macdAt(closes)
	macdPrev, _ := macdAt(closes[:len(closes)-4]) // momentum vs 4 bars back

	wnd := 10
	if last < wnd {
		wnd = last
	}
	slope20 := (sma20 - smaAt(closes, last-wnd+1, 20)) / float64(wnd)
	slope50 := (sma50 - smaAt(closes, last-wnd+1, 50)) / float64(wnd)

	checks := []bool{
		price > sma20,
		price > sma50,
		price > sma200,
		sma20 > sma50,
		sma50 > sma200,
		macd > signal,
		macd > macdPrev,
		slope20 > 0,
		slope50 > 0,
		rsi > 50,
	}

	passed := 0
	for _, ok := range checks {
		if ok {
			passed++
		}
	}

	regime := Sideways
	switch {
	case passed >= 7:
		regime = Bullish
	case passed <= 3:
		regime = Bearish
	}

	extreme := ""
	if rsi > 90 {
		extreme = Overbought
	} else if rsi < 10 {
		extreme = Oversold
	}

	return Assessment{
		Regime:     regime,
		Strength:   float64(passed) / float64(len(checks)),
		RSIExtreme: extreme,
	}
}

// smaAt is the simple moving average of the window ending at index end. A
// window longer than the available prefix shrinks to fit, so short series
// still produce a usable value.
func smaAt(closes []float64, end, period int) float64 {
	if end < 0 || len(closes) == 0 {
		return 0
	}
	start := end - period + 1
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for i := start; i <= end; i++ {
		sum += closes[i]
	}
	return sum / float64(end-start+1)
}

// rsiAt is the standard Wilder RSI over the last period bars.
func rsiAt(closes []float64, period int) float64 {
	if len(closes) < period+1 {
		return 50
	}
	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}
	if losses == 0 {
		if gains == 0 {
			return 50
		}
		return 100
	}
	rs := gains / losses
	return 100 - 100/(1+rs)
}

// macdAt is MACD(12,26) with a 9-period signal line over the close series.
func macdAt(closes []float64) (macd, signal float64) {
	if len(closes) == 0 {
		return 0, 0
	}

	ema12 := emaSeries(closes, 12)
	ema26 := emaSeries(closes, 26)
	macdSeries := make([]float64, len(closes))
	for i := range closes {
		macdSeries[i] = ema12[i] - ema26[i]
	}
	signalSeries := emaSeries(macdSeries, 9)

	last := len(closes) - 1
	return macdSeries[last], signalSeries[last]
}

func emaSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}
