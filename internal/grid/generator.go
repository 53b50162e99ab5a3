package grid

import (
	"errors"
	"fmt"
	"sort"

	"grid-strategy-go/internal/models"
	"grid-strategy-go/internal/regime"
)

// ErrInvalidParams is returned when ladder parameters are out of domain.
var ErrInvalidParams = errors.New("invalid grid parameters")

// Params describes one ladder to generate. BuyLevels and SellLevels are the
// counts below and above the center; a plain symmetric ladder has both equal
// to half the configured level count.
type Params struct {
	CenterPrice float64
	SpacingPct  float64 // decimal fraction per step
	BuyLevels   int
	SellLevels  int
	Quantity    float64 // base asset quantity per level
}

// GenerateLadder produces a symmetric ladder: levelCount/2 buy levels below
// the center and levelCount/2 sell levels above it, at center*(1 +- pct*i).
// An odd levelCount is floored to the next even number. The spacing
// multiplier must already be folded into spacingPct by the caller; the
// classifier-derived multiplier is authoritative (one legacy code path
// hard-coded 0.7x here, which this implementation does not reproduce).
func GenerateLadder(centerPrice, spacingPct float64, levelCount int, quantity float64) ([]models.GridLevel, error) {
	half := levelCount / 2
	return Generate(Params{
		CenterPrice: centerPrice,
		SpacingPct:  spacingPct,
		BuyLevels:   half,
		SellLevels:  half,
		Quantity:    quantity,
	})
}

// Generate produces a ladder from explicit per-side level counts, sorted
// ascending by price. Level indices are signed: -i below center, +i above.
func Generate(p Params) ([]models.GridLevel, error) {
	if p.CenterPrice <= 0 {
		return nil, fmt.Errorf("%w: center price %f", ErrInvalidParams, p.CenterPrice)
	}
	if p.SpacingPct <= 0 {
		return nil, fmt.Errorf("%w: spacing %f", ErrInvalidParams, p.SpacingPct)
	}
	if p.BuyLevels < 0 || p.SellLevels < 0 || p.BuyLevels+p.SellLevels == 0 {
		return nil, fmt.Errorf("%w: level counts %d/%d", ErrInvalidParams, p.BuyLevels, p.SellLevels)
	}
	if p.SpacingPct*float64(p.BuyLevels) >= 1 {
		return nil, fmt.Errorf("%w: spacing %f puts buy level %d at or below zero", ErrInvalidParams, p.SpacingPct, p.BuyLevels)
	}

	ladder := make([]models.GridLevel, 0, p.BuyLevels+p.SellLevels)
	for i := 1; i <= p.BuyLevels; i++ {
		ladder = append(ladder, models.GridLevel{
			Index:    -i,
			Side:     models.Buy,
			Price:    p.CenterPrice * (1 - p.SpacingPct*float64(i)),
			Quantity: p.Quantity,
			Status:   models.LevelPending,
		})
	}
	for i := 1; i <= p.SellLevels; i++ {
		ladder = append(ladder, models.GridLevel{
			Index:    i,
			Side:     models.Sell,
			Price:    p.CenterPrice * (1 + p.SpacingPct*float64(i)),
			Quantity: p.Quantity,
			Status:   models.LevelPending,
		})
	}

	sort.Slice(ladder, func(i, j int) bool { return ladder[i].Price < ladder[j].Price })
	return ladder, nil
}

/// Tilt skews ladder parameters by the directional regime: bullish ladders
// shift the center down 2%, widen the step 20% and put more levels on the
// buy side; bearish mirrors that; sideways tightens the step and stays
// symmetric. RSI extremes trim the crowded side by 20%.
func Tilt(centerPrice, spacingPct float64, levelCount int, a regime.Assessment, quantity float64) Params {
	half := levelCount / 2
	p := Params{
		CenterPrice: centerPrice,
		SpacingPct:  spacingPct,
		BuyLevels:   half,
		SellLevels:  half,
		Quantity:    quantity,
	}

	switch a.Regime {
	case regime.Bullish:
		p.CenterPrice = centerPrice * 0.98
		p.SpacingPct = spacingPct * 1.2
		p.BuyLevels = int(float64(half) * 1.5)
		p.SellLevels = int(float64(half) * 0.7)
	case regime.Bearish:
		p.CenterPrice = centerPrice * 1.02
		p.SpacingPct = spacingPct * 1.2
		p.BuyLevels = int(float64(half) * 0.7)
		p.SellLevels = int(float64(half) * 1.5)
	default:
		p.SpacingPct = spacingPct * 0.8
	}

	if a.RSIExtreme == regime.Overbought {
		p.SellLevels = int(float64(p.SellLevels) * 0.8)
	}
	if a.RSIExtreme == regime.Oversold {
		p.BuyLevels = int(float64(p.BuyLevels) * 0.8)
	}

	return p
}
