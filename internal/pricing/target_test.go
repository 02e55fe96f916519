package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

func competitorAt(price float64) domain.CompetitorPricePoint {
	return domain.CompetitorPricePoint{Price: decimal.NewFromFloat(price), ObservedAt: time.Now()}
}

func TestTargetPriceEngine_UndercutsLowestCompetitor(t *testing.T) {
	eng := NewTargetPriceEngine()

	result := eng.Compute(TargetInputs{
		Competitors: []domain.CompetitorPricePoint{competitorAt(100), competitorAt(95), competitorAt(110)},
		Floor:       decimal.NewFromFloat(50),
		Delta:       decimal.NewFromFloat(1),
	})

	assert.True(t, result.TargetPrice.Equal(decimal.NewFromFloat(94)), "got %s", result.TargetPrice)
	assert.False(t, result.ConstrainedByFloor)
}

func TestTargetPriceEngine_HoldsAtFloorWithNoCompetitors(t *testing.T) {
	eng := NewTargetPriceEngine()

	result := eng.Compute(TargetInputs{
		Competitors: nil,
		Floor:       decimal.NewFromFloat(75),
	})

	assert.True(t, result.TargetPrice.Equal(decimal.NewFromFloat(75)))
	assert.True(t, result.ConstrainedByFloor)
}

func TestTargetPriceEngine_MarketCrashClampsToFloor(t *testing.T) {
	eng := NewTargetPriceEngine()

	result := eng.Compute(TargetInputs{
		Competitors: []domain.CompetitorPricePoint{competitorAt(1)},
		Floor:       decimal.NewFromFloat(80),
		Delta:       decimal.NewFromFloat(1),
	})

	assert.True(t, result.TargetPrice.Equal(decimal.NewFromFloat(80)))
	assert.True(t, result.ConstrainedByFloor, "undercutting a crashed competitor must be clamped up to the floor")
}

func TestTargetPriceEngine_ClampsToManualMinPrice(t *testing.T) {
	eng := NewTargetPriceEngine()
	min := decimal.NewFromFloat(60)

	result := eng.Compute(TargetInputs{
		Competitors: []domain.CompetitorPricePoint{competitorAt(55)},
		Floor:       decimal.NewFromFloat(40),
		Delta:       decimal.NewFromFloat(1),
		MinPrice:    &min,
	})

	assert.True(t, result.TargetPrice.Equal(decimal.NewFromFloat(60)))
}

func TestTargetPriceEngine_ClampsToManualMaxPrice(t *testing.T) {
	eng := NewTargetPriceEngine()
	max := decimal.NewFromFloat(90)

	result := eng.Compute(TargetInputs{
		Competitors: []domain.CompetitorPricePoint{competitorAt(150)},
		Floor:       decimal.NewFromFloat(40),
		Delta:       decimal.NewFromFloat(1),
		MaxPrice:    &max,
	})

	assert.True(t, result.TargetPrice.Equal(decimal.NewFromFloat(90)))
}

func TestTargetPriceEngine_DefaultDeltaAppliedWhenUnset(t *testing.T) {
	eng := NewTargetPriceEngine()

	result := eng.Compute(TargetInputs{
		Competitors: []domain.CompetitorPricePoint{competitorAt(50)},
		Floor:       decimal.NewFromFloat(10),
	})

	assert.True(t, result.TargetPrice.Equal(decimal.NewFromFloat(49.99)), "got %s", result.TargetPrice)
}

func TestTargetPriceEngine_NoSubCentDrift(t *testing.T) {
	eng := NewTargetPriceEngine()

	result := eng.Compute(TargetInputs{
		Competitors: []domain.CompetitorPricePoint{competitorAt(10.03)},
		Floor:       decimal.NewFromFloat(5),
		Delta:       decimal.NewFromFloat(0.01),
	})

	assert.True(t, result.TargetPrice.Equal(decimal.NewFromFloat(10.02)), "got %s", result.TargetPrice)
}
