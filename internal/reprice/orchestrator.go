// Package reprice binds the pricing pipeline (outlier filtering, floor,
// target price) to one listing at a time, deriving the dispatch
// priority from how much headroom the computed price leaves.
package reprice

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/events"
	"github.com/aristath/backmarket-repricer/internal/marketplace"
	"github.com/aristath/backmarket-repricer/internal/pricing"
	"github.com/aristath/backmarket-repricer/pkg/logger"
)

// marginHighCutoff, velocityHighCutoff and marginLowCutoff are the
// priority-derivation thresholds.
var (
	marginHighCutoff   = decimal.NewFromFloat(0.20)
	marginLowCutoff    = decimal.NewFromFloat(0.05)
	velocityHighCutoff = 10
)

// ParametersStore is the read-only source of per-(sku,grade,country)
// pricing parameters and per-sku acquisition cost. Implemented by the
// local store.
type ParametersStore interface {
	PricingParameters(ctx context.Context, sku string, grade int, countryCode string) (*domain.PricingParameters, error)
	AcquisitionCost(ctx context.Context, sku string) (*domain.AcquisitionCost, error)
	RecentSalesVelocity(ctx context.Context, sku string) (int, error)
	RecordPriceHistory(ctx context.Context, listingID, countryCode string, price decimal.Decimal, floor decimal.Decimal, constrainedByFloor bool) error
}

// Orchestrator pulls fresh competitor prices, runs the pricing
// pipeline, and pushes the resulting price back to the marketplace for
// every country a listing is published in.
type Orchestrator struct {
	market         *marketplace.Client
	store          ParametersStore
	outlier        *pricing.OutlierFilter
	floor          *pricing.FloorCalculator
	target         *pricing.TargetPriceEngine
	clock          clock.Clock
	log            zerolog.Logger
	events         *events.Manager
	defaultCountry string

	// inflight collapses concurrent Reprice calls for the same listing
	// ID — the fleet sweep and a manual admin trigger can race for the
	// same listing, and there is no reason to pay the traffic-controller
	// budget twice for one computation.
	inflight singleflight.Group
}

// New constructs an Orchestrator. em may be nil, in which case events
// go to a Manager that logs them through log. defaultCountry is the country Reprice falls back
// to when a listing carries no published country codes of its own.
func New(market *marketplace.Client, store ParametersStore, clk clock.Clock, em *events.Manager, defaultCountry string, log zerolog.Logger) *Orchestrator {
	if em == nil {
		em = events.NewManager(log)
	}
	return &Orchestrator{
		market:         market,
		store:          store,
		outlier:        pricing.NewOutlierFilter(clk, pricing.DefaultMaxAgeHours),
		floor:          pricing.NewFloorCalculator(),
		target:         pricing.NewTargetPriceEngine(),
		clock:          clk,
		log:            logger.Component(log, "reprice_orchestrator"),
		events:         em,
		defaultCountry: defaultCountry,
	}
}

// CountryResult is the outcome of repricing one (listing, country)
// pair.
type CountryResult struct {
	CountryCode string
	Price       decimal.Decimal
	Priority    domain.Priority
	Err         error
}

// Result is the outcome of a full Reprice call: one CountryResult per
// published country, isolated from one another — one country's
// failure never blocks the rest.
type Result struct {
	ListingID string
	Countries []CountryResult
}

// Reprice recomputes and pushes a fresh price for every country a
// listing is published in. Acquisition cost and sales velocity are
// constant across countries and fetched once; competitors are fetched
// fresh per country at HIGH priority. Concurrent calls for the same
// listing ID collapse into one computation via singleflight; all
// callers observe the same Result.
func (o *Orchestrator) Reprice(ctx context.Context, listing domain.Listing, countryCodes []string) Result {
	if len(countryCodes) == 0 {
		if o.defaultCountry == "" {
			return Result{ListingID: listing.ListingID, Countries: []CountryResult{{Err: ErrNoCountries}}}
		}
		o.log.Warn().Str("listing_id", listing.ListingID).Str("default_country", o.defaultCountry).
			Msg("listing has no published country codes, falling back to default country")
		countryCodes = []string{o.defaultCountry}
	}

	v, _, _ := o.inflight.Do(listing.ListingID, func() (any, error) {
		return o.reprice(ctx, listing, countryCodes), nil
	})
	return v.(Result)
}

func (o *Orchestrator) reprice(ctx context.Context, listing domain.Listing, countryCodes []string) Result {
	result := Result{ListingID: listing.ListingID, Countries: make([]CountryResult, 0, len(countryCodes))}

	acquisition, err := o.store.AcquisitionCost(ctx, listing.SKU)
	if err != nil {
		for _, cc := range countryCodes {
			result.Countries = append(result.Countries, CountryResult{CountryCode: cc, Err: err})
		}
		return result
	}

	velocity, err := o.store.RecentSalesVelocity(ctx, listing.SKU)
	if err != nil {
		velocity = 0
	}

	for _, cc := range countryCodes {
		cr := o.repriceOneCountry(ctx, listing, cc, acquisition.UnitCost, velocity)
		result.Countries = append(result.Countries, cr)
	}
	return result
}

func (o *Orchestrator) repriceOneCountry(ctx context.Context, listing domain.Listing, countryCode string, acquisitionCost decimal.Decimal, velocity int) CountryResult {
	competitors, err := o.market.GetCompetitors(ctx, listing.ListingID, countryCode, domain.PriorityHigh)
	if err != nil {
		o.log.Error().Err(err).Str("listing_id", listing.ListingID).Str("country", countryCode).Msg("fetching competitors failed")
		return CountryResult{CountryCode: countryCode, Err: err}
	}
	// Snapshot rows that carry no observation timestamp were observed
	// by this fetch; without a stamp the staleness filter would drop
	// them all.
	now := o.clock.Now()
	for i := range competitors {
		if competitors[i].ObservedAt.IsZero() {
			competitors[i].ObservedAt = now
		}
	}
	filtered := o.outlier.Filter(competitors)

	params, err := o.store.PricingParameters(ctx, listing.SKU, listing.Grade, countryCode)
	if err != nil {
		return CountryResult{CountryCode: countryCode, Err: err}
	}

	floorPrice, err := o.floor.Compute(pricing.FloorInputs{
		AcquisitionCost:  acquisitionCost,
		RefurbCost:       params.RefurbCost,
		OperationalCost:  params.OperationalCost,
		WarrantyRiskCost: params.WarrantyRiskCost,
		PlatformFeeRate:  params.PlatformFeeRate,
		TargetMarginRate: params.TargetMarginRate,
	})
	if err != nil {
		return CountryResult{CountryCode: countryCode, Err: err}
	}

	targetResult := o.target.Compute(pricing.TargetInputs{
		Competitors: filtered,
		Floor:       floorPrice,
		Delta:       params.PriceStep,
		MinPrice:    params.MinPrice,
		MaxPrice:    params.MaxPrice,
	})

	priority := derivePriority(targetResult, velocity)

	if err := o.market.UpdatePrice(ctx, listing.ListingID, countryCode, targetResult.TargetPrice, priority, nil); err != nil {
		o.events.EmitError("reprice_orchestrator", err, map[string]any{"listing_id": listing.ListingID, "country": countryCode})
		return CountryResult{CountryCode: countryCode, Price: targetResult.TargetPrice, Priority: priority, Err: err}
	}

	if err := o.store.RecordPriceHistory(ctx, listing.ListingID, countryCode, targetResult.TargetPrice, floorPrice, targetResult.ConstrainedByFloor); err != nil {
		o.log.Warn().Err(err).Str("listing_id", listing.ListingID).Str("country", countryCode).Msg("recording price history failed")
	}

	eventType := events.RepriceApplied
	if targetResult.ConstrainedByFloor {
		eventType = events.RepriceConstrained
	}
	o.events.Emit(eventType, "reprice_orchestrator", map[string]any{
		"listing_id": listing.ListingID,
		"country":    countryCode,
		"price":      targetResult.TargetPrice.String(),
		"floor":      floorPrice.String(),
		"priority":   priority.String(),
	})

	return CountryResult{CountryCode: countryCode, Price: targetResult.TargetPrice, Priority: priority}
}

// derivePriority computes a margin-and-velocity-derived dispatch
// priority: margin = (target - floor) / target.
func derivePriority(tr pricing.TargetResult, velocity int) domain.Priority {
	if tr.TargetPrice.IsZero() {
		return domain.PriorityNormal
	}
	margin := tr.TargetPrice.Sub(tr.FloorUsed).Div(tr.TargetPrice)

	switch {
	case margin.LessThan(marginLowCutoff) || velocity == 0:
		return domain.PriorityLow
	case margin.GreaterThan(marginHighCutoff) && velocity > velocityHighCutoff:
		return domain.PriorityHigh
	default:
		return domain.PriorityNormal
	}
}

// ErrNoCountries is returned when a listing has no published country
// prices to reprice.
var ErrNoCountries = fmt.Errorf("listing has no published country prices")
