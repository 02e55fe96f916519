package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/pkg/money"
)

// Strategy selects how the target price engine reacts to the filtered
// competitor set. UndercutLowest is the only strategy currently
// implemented; it is modeled as a type so a future strategy can be
// added without changing TargetPriceEngine's signature.
type Strategy int

const (
	StrategyUndercutLowest Strategy = iota
)

// DefaultUndercutDelta is the default undercut-by amount when a
// PricingParameters record leaves PriceStep unset.
var DefaultUndercutDelta = decimal.NewFromFloat(0.01)

// TargetInputs are the inputs TargetPriceEngine needs.
type TargetInputs struct {
	Competitors []domain.CompetitorPricePoint
	Floor       decimal.Decimal
	Strategy    Strategy
	Delta       decimal.Decimal // zero means DefaultUndercutDelta
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
}

// TargetResult is TargetPriceEngine's output.
type TargetResult struct {
	TargetPrice        decimal.Decimal
	FloorUsed          decimal.Decimal
	ConstrainedByFloor bool
}

// TargetPriceEngine picks a target price from the filtered competitor
// set, clamped so it never falls below the floor.
type TargetPriceEngine struct{}

// NewTargetPriceEngine constructs a TargetPriceEngine.
func NewTargetPriceEngine() *TargetPriceEngine {
	return &TargetPriceEngine{}
}

// Compute picks a target price. With no competitors it holds at the
// floor (conservative hold); otherwise it undercuts the lowest
// competitor by delta, then clamps up to the floor and any manual
// min_price, and down to any manual max_price.
func (TargetPriceEngine) Compute(in TargetInputs) TargetResult {
	delta := in.Delta
	if delta.IsZero() {
		delta = DefaultUndercutDelta
	}

	if len(in.Competitors) == 0 {
		held := money.RoundCent(in.Floor)
		return TargetResult{TargetPrice: held, FloorUsed: in.Floor, ConstrainedByFloor: true}
	}

	lowest, _ := lowestPrice(in.Competitors)
	raw := lowest.Sub(delta)

	clamped := money.Max(raw, in.Floor)
	constrainedByFloor := clamped.Equal(in.Floor) && !in.Floor.Equal(raw)

	if in.MinPrice != nil {
		clamped = money.Max(clamped, *in.MinPrice)
	}
	if in.MaxPrice != nil {
		clamped = money.Min(clamped, *in.MaxPrice)
	}

	// round_to_cent must not reintroduce sub-cent drift (e.g. 10.03 -
	// 0.01 == 10.02 exactly); money.RoundCent on a decimal.Decimal never
	// drifts the way repeated float64 subtraction would.
	target := money.RoundCent(clamped)

	return TargetResult{
		TargetPrice:        target,
		FloorUsed:          in.Floor,
		ConstrainedByFloor: constrainedByFloor,
	}
}
