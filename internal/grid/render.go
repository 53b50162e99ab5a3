package grid

import (
	"fmt"

	"grid-strategy-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderTable formats the ladder as a text table for the operator, marking
// each level's execution status. bought holds the level indices with an open
// buy; sold holds the level indices already matched and closed.
func RenderTable(symbol string, ladder []models.GridLevel, currentPrice, position float64, bought map[int]bool, sold map[int]bool) string {
	if len(ladder) == 0 {
		return "no grid levels generated yet"
	}

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("GRID LAYERS - %s | price %.6f | position %.6f", symbol, currentPrice, position))
	t.AppendHeader(table.Row{"Layer", "Side", "Price", "Quantity", "Status"})

	// Ladder is sorted ascending; print top-down so higher prices are first.
	for i := len(ladder) - 1; i >= 0; i-- {
		lvl := ladder[i]
		t.AppendRow(table.Row{
			i + 1,
			lvl.Side,
			fmt.Sprintf("%.6f", lvl.Price),
			fmt.Sprintf("%.6f", lvl.Quantity),
			levelStatus(lvl, currentPrice, bought, sold),
		})
	}

	return t.Render()
}

func levelStatus(lvl models.GridLevel, currentPrice float64, bought, sold map[int]bool) string {
	switch {
	case sold[lvl.Index]:
		return "SOLD"
	case bought[lvl.Index]:
		return "HOLDING"
	case lvl.Side == models.Buy && currentPrice > 0 && currentPrice <= lvl.Price:
		return "BUY READY"
	case lvl.Side == models.Sell && currentPrice > 0 && currentPrice >= lvl.Price:
		return "SELL READY"
	default:
		return "WAITING"
	}
}
