package reporter

import (
	"fmt"
	"math"
	"time"

	"grid-strategy-go/internal/cycle"
	"grid-strategy-go/internal/exchange"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Metrics holds the computed backtest performance figures.
type Metrics struct {
	InitialBalance   float64
	FinalBalance     float64
	TotalProfit      float64
	ProfitPercentage float64
	TotalCycles      int
	WinningCycles    int
	LosingCycles     int
	WinRate          float64
	ProfitFactor     float64
	TotalFees        float64
	MaxDrawdown      float64 // percent of peak equity
	EndingCash       float64
	EndingAssetValue float64
	TotalAssetQty    float64
	StartTime        time.Time
	EndTime          time.Time
}

// GenerateReport computes and prints the backtest performance report.
func GenerateReport(venue *exchange.BacktestExchange, tracker *cycle.Tracker, symbol, dataPath string, initialBalance float64, startTime, endTime time.Time) {
	m := calculateMetrics(venue, tracker, initialBalance)
	m.StartTime = startTime
	m.EndTime = endTime

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Backtest Report: %s", symbol))
	t.AppendRows([]table.Row{
		{"Data file", dataPath},
		{"Period", fmt.Sprintf("%s to %s",
			m.StartTime.Format("2006-01-02 15:04"), m.EndTime.Format("2006-01-02 15:04"))},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Initial balance", fmt.Sprintf("%.2f USDT", m.InitialBalance)},
		{"Final balance", fmt.Sprintf("%.2f USDT", m.FinalBalance)},
		{"Total profit", fmt.Sprintf("%.2f USDT", m.TotalProfit)},
		{"Return", fmt.Sprintf("%.2f%%", m.ProfitPercentage)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Completed cycles", m.TotalCycles},
		{"Winning cycles", m.WinningCycles},
		{"Losing cycles", m.LosingCycles},
		{"Win rate", fmt.Sprintf("%.2f%%", m.WinRate)},
		{"Profit factor", formatProfitFactor(m.ProfitFactor)},
		{"Total fees", fmt.Sprintf("%.2f USDT", m.TotalFees)},
		{"Max drawdown", fmt.Sprintf("%.2f%%", m.MaxDrawdown)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Ending cash", fmt.Sprintf("%.2f USDT", m.EndingCash)},
		{"Ending position", fmt.Sprintf("%.2f USDT (%.5f units)", m.EndingAssetValue, m.TotalAssetQty)},
	})
	fmt.Println(t.Render())
}

func formatProfitFactor(pf float64) string {
	if math.IsInf(pf, 1) {
		return "inf (no losing cycles)"
	}
	return fmt.Sprintf("%.2f", pf)
}

func calculateMetrics(venue *exchange.BacktestExchange, tracker *cycle.Tracker, initialBalance float64) *Metrics {
	m := &Metrics{InitialBalance: initialBalance}

	summary := tracker.PerformanceSummary()
	m.TotalCycles = summary.TotalCycles
	m.WinningCycles = summary.WinningCycles
	m.LosingCycles = summary.LosingCycles
	m.WinRate = summary.WinRate
	m.ProfitFactor = summary.ProfitFactor
	m.TotalFees = venue.TotalFees()

	m.EndingCash = venue.QuoteBalance()
	m.TotalAssetQty = venue.BaseBalance()
	if price, err := venue.GetPrice(""); err == nil {
		m.EndingAssetValue = m.TotalAssetQty * price
	}
	m.FinalBalance = m.EndingCash + m.EndingAssetValue

	m.TotalProfit = m.FinalBalance - m.InitialBalance
	if m.InitialBalance != 0 {
		m.ProfitPercentage = m.TotalProfit / m.InitialBalance * 100
	}

	m.MaxDrawdown = calculateMaxDrawdown(venue.EquityCurve()) * 100

	return m
}

func calculateMaxDrawdown(equityCurve []float64) float64 {
	if len(equityCurve) < 2 {
		return 0.0
	}
	peak := equityCurve[0]
	maxDrawdown := 0.0

	for _, equity := range equityCurve {
		if equity > peak {
			peak = equity
		}
		drawdown := (peak - equity) / peak
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
		}
	}
	return maxDrawdown
}
