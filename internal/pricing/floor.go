package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/backmarket-repricer/internal/errs"
	"github.com/aristath/backmarket-repricer/pkg/money"
)

// FloorInputs are the cost and market-rate inputs FloorCalculator
// needs.
type FloorInputs struct {
	AcquisitionCost  decimal.Decimal
	RefurbCost       decimal.Decimal
	OperationalCost  decimal.Decimal
	WarrantyRiskCost decimal.Decimal
	PlatformFeeRate  decimal.Decimal
	TargetMarginRate decimal.Decimal
}

// FloorCalculator derives the absolute price floor below which a sale
// can no longer clear the configured platform fee and target margin.
type FloorCalculator struct{}

// NewFloorCalculator constructs a FloorCalculator. It is stateless; the
// type exists for symmetry with OutlierFilter/TargetPriceEngine and as
// an extension point.
func NewFloorCalculator() *FloorCalculator {
	return &FloorCalculator{}
}

// Compute derives the floor. Returns *errs.ConfigError when
// platform_fee_rate + target_margin_rate >= 1, since the revenue share
// left for costs would be zero or negative.
func (FloorCalculator) Compute(in FloorInputs) (decimal.Decimal, error) {
	totalCost := in.AcquisitionCost.Add(in.RefurbCost).Add(in.OperationalCost).Add(in.WarrantyRiskCost)

	revenueShare := decimal.NewFromInt(1).Sub(in.PlatformFeeRate).Sub(in.TargetMarginRate)
	if revenueShare.LessThanOrEqual(decimal.Zero) {
		return decimal.Decimal{}, errs.NewConfigError(
			"platform_fee_rate (%s) + target_margin_rate (%s) >= 1: revenue share is non-positive",
			in.PlatformFeeRate.String(), in.TargetMarginRate.String(),
		)
	}

	floor := totalCost.Div(revenueShare)
	return money.CeilCent(floor), nil
}
