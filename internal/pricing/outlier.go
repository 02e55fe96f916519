// Package pricing implements the per-listing pricing computation: MAD-
// based outlier filtering of competitor prices, profitability floor
// derivation, and target price selection.
package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
)

// DefaultMaxAgeHours is the staleness cutoff applied before outlier
// filtering runs.
const DefaultMaxAgeHours = 6

// OutlierFilter drops stale competitor price points and, given enough
// remaining samples, statistically anomalous ones using a Median
// Absolute Deviation (MAD) threshold. MAD is used — rather than a
// Gaussian standard-deviation filter — because it stays robust against
// the very poisoning (a single competitor pricing at EUR 1) this
// filter exists to survive.
type OutlierFilter struct {
	clock       clock.Clock
	maxAgeHours float64
}

// NewOutlierFilter constructs a filter with the given staleness cutoff.
// A maxAgeHours of 0 uses DefaultMaxAgeHours.
func NewOutlierFilter(clk clock.Clock, maxAgeHours float64) *OutlierFilter {
	if maxAgeHours <= 0 {
		maxAgeHours = DefaultMaxAgeHours
	}
	return &OutlierFilter{clock: clk, maxAgeHours: maxAgeHours}
}

// Filter applies the staleness filter then, if more than two points
// remain, the MAD outlier filter.
func (f *OutlierFilter) Filter(points []domain.CompetitorPricePoint) []domain.CompetitorPricePoint {
	fresh := f.filterStale(points)
	if len(fresh) <= 2 {
		return fresh
	}
	return f.filterOutliers(fresh)
}

func (f *OutlierFilter) filterStale(points []domain.CompetitorPricePoint) []domain.CompetitorPricePoint {
	now := f.clock.Now()
	cutoff := time.Duration(f.maxAgeHours * float64(time.Hour))

	fresh := make([]domain.CompetitorPricePoint, 0, len(points))
	for _, p := range points {
		if now.Sub(p.ObservedAt) <= cutoff {
			fresh = append(fresh, p)
		}
	}
	return fresh
}

// filterOutliers keeps only points within [median - 3*effectiveMAD,
// median + 3*effectiveMAD]. Plain float64 is used here, not decimal,
// since only relative thresholds matter for this statistic.
func (f *OutlierFilter) filterOutliers(points []domain.CompetitorPricePoint) []domain.CompetitorPricePoint {
	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i], _ = p.Price.Float64()
	}

	m := median(prices)

	deviations := make([]float64, len(prices))
	for i, v := range prices {
		deviations[i] = abs(v - m)
	}
	mad := median(deviations)

	effectiveMAD := mad
	if floor := 0.05 * m; floor > effectiveMAD {
		effectiveMAD = floor
	}
	if effectiveMAD == 0 {
		// A perfectly flat cluster around zero: nothing to filter.
		return points
	}

	threshold := 3 * effectiveMAD
	lo, hi := m-threshold, m+threshold

	kept := make([]domain.CompetitorPricePoint, 0, len(points))
	for i, p := range points {
		if prices[i] >= lo && prices[i] <= hi {
			kept = append(kept, p)
		}
	}
	return kept
}

// median computes the median of a float64 slice: the middle element
// for odd-length input, and the mean of the two middle elements for
// even-length input. stat.Quantile is not used here: at p=0.5 neither
// its Empirical nor its LinInterp estimator averages the two middle
// values (both return 102 for [100, 102, 104, 106]).
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return stat.Mean(sorted[n/2-1:n/2+1], nil)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// lowestPrice returns the minimum decimal price among points. Used by
// the target price engine; kept here so both files share one
// dependency-free helper.
func lowestPrice(points []domain.CompetitorPricePoint) (decimal.Decimal, bool) {
	if len(points) == 0 {
		return decimal.Zero, false
	}
	min := points[0].Price
	for _, p := range points[1:] {
		if p.Price.LessThan(min) {
			min = p.Price
		}
	}
	return min, true
}
