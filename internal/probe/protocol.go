// Package probe implements the Dip/Peek/Peak probe protocol: a
// deliberate, budget-reserved price drop used to observe how
// competitors' own repricers react.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/marketplace"
	"github.com/aristath/backmarket-repricer/internal/ratelimit"
	"github.com/aristath/backmarket-repricer/pkg/logger"
)

// State is the probe's state machine position.
type State int

const (
	StateIdle State = iota
	StateDipScheduled
	StateSettling
	StatePeeking
	StatePeakScheduled
)

func (s State) String() string {
	switch s {
	case StateDipScheduled:
		return "DIP_SCHEDULED"
	case StateSettling:
		return "SETTLING"
	case StatePeeking:
		return "PEEKING"
	case StatePeakScheduled:
		return "PEAK_SCHEDULED"
	default:
		return "IDLE"
	}
}

// SettleInterval is the fixed pause between Dip and Peek, long enough
// for a competitor's own repricer to react.
const SettleInterval = 3 * time.Second

// undercutPct is the fraction the Peak phase undercuts the lowest
// observed competitor by.
var undercutPct = decimal.NewFromFloat(0.01)

// floorFraction is the minimum fraction of fallback_price the Peak
// phase's computed price is clamped to.
var floorFraction = decimal.NewFromFloat(0.5)

// Result records how one probe run completed.
type Result struct {
	ProbeID      string
	ListingID    string
	FinalState   State
	RestoredTo   decimal.Decimal
	UsedFallback bool
	PeekErr      error
}

// ProbeRecorder persists when a listing's probe last completed.
// Implemented by the local store; may be nil, in which case nothing is
// recorded.
type ProbeRecorder interface {
	SetLastProbeAt(ctx context.Context, listingID string, at time.Time) error
}

// Protocol runs Dip/Peek/Peak cycles for listings. Dip and Peak are
// scheduled as one token-budget envelope up front, so a fully-drained
// bucket cannot delay the recovery once the Dip has been dispatched.
// The Peak price may be below fallback_price (down to half of it, see
// computePeakPrice); if the Peak update fails, the listing stays at the
// Dip price.
type Protocol struct {
	market      *marketplace.Client
	clock       clock.Clock
	log         zerolog.Logger
	minPrice    decimal.Decimal
	countryCode string
	recorder    ProbeRecorder
}

// New constructs a Protocol. minPrice is the minimum permissible price
// used for the Dip (e.g. EUR 1.00); countryCode selects which country
// price to probe.
func New(market *marketplace.Client, clk clock.Clock, minPrice decimal.Decimal, countryCode string, recorder ProbeRecorder, log zerolog.Logger) *Protocol {
	return &Protocol{
		market:      market,
		clock:       clk,
		log:         logger.Component(log, "probe_protocol"),
		minPrice:    minPrice,
		countryCode: countryCode,
		recorder:    recorder,
	}
}

// Run executes one full Dip/Peek/Peak cycle for a listing.
// fallbackPrice is the price to fall back to (and the basis for the
// Peak clamp) if the Peek fails.
func (p *Protocol) Run(ctx context.Context, listingID string, fallbackPrice decimal.Decimal) Result {
	probeID := uuid.NewString()
	log := p.log.With().Str("probe_id", probeID).Logger()

	if fallbackPrice.IsZero() || fallbackPrice.IsNegative() {
		return Result{ProbeID: probeID, ListingID: listingID, FinalState: StateIdle, PeekErr: ErrNoFallback}
	}

	state := StateDipScheduled
	log.Info().Str("listing_id", listingID).Str("state", state.String()).Msg("probe dip scheduled")

	dipReservation, err := p.dip(ctx, listingID)
	if err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Msg("dip failed, aborting probe")
		return Result{ProbeID: probeID, ListingID: listingID, FinalState: StateIdle, PeekErr: err}
	}

	state = StateSettling
	p.clock.Sleep(SettleInterval)

	state = StatePeeking
	competitors, peekErr := p.market.GetCompetitors(ctx, listingID, p.countryCode, domain.PriorityHigh)

	var newPrice decimal.Decimal
	usedFallback := false
	if peekErr != nil || len(competitors) == 0 {
		// Failures in PEEKING transition directly to PEAK_SCHEDULED with
		// fallback_price.
		newPrice = fallbackPrice
		usedFallback = true
	} else {
		newPrice = computePeakPrice(competitors, fallbackPrice)
	}

	state = StatePeakScheduled
	log.Info().Str("listing_id", listingID).Str("state", state.String()).Str("price", newPrice.String()).Msg("probe peak scheduled")

	if err := p.market.UpdatePrice(ctx, listingID, p.countryCode, newPrice, domain.PriorityHigh, dipReservation); err != nil {
		log.Error().Err(err).Str("listing_id", listingID).Msg("peak restoration failed")
		p.market.ReleaseReservation(dipReservation)
		return Result{ProbeID: probeID, ListingID: listingID, FinalState: StatePeakScheduled, PeekErr: err, UsedFallback: usedFallback}
	}

	if p.recorder != nil {
		if err := p.recorder.SetLastProbeAt(ctx, listingID, p.clock.Now()); err != nil {
			log.Warn().Err(err).Str("listing_id", listingID).Msg("recording last_probe_at failed")
		}
	}

	return Result{
		ProbeID:      probeID,
		ListingID:    listingID,
		FinalState:   StateIdle,
		RestoredTo:   newPrice,
		UsedFallback: usedFallback,
		PeekErr:      peekErr,
	}
}

// dip schedules the price drop to minPrice, spending one token for the
// call itself and reserving a second for the eventual Peak.
func (p *Protocol) dip(ctx context.Context, listingID string) (*ratelimit.DualReservation, error) {
	return p.market.UpdatePriceDip(ctx, listingID, p.countryCode, p.minPrice)
}

// computePeakPrice undercuts the lowest peeked competitor price by 1%,
// clamped so it never drops below half of fallbackPrice.
func computePeakPrice(competitors []domain.CompetitorPricePoint, fallbackPrice decimal.Decimal) decimal.Decimal {
	lowest := competitors[0].Price
	for _, c := range competitors[1:] {
		if c.Price.LessThan(lowest) {
			lowest = c.Price
		}
	}

	raw := lowest.Mul(decimal.NewFromInt(1).Sub(undercutPct))
	floor := fallbackPrice.Mul(floorFraction)
	if raw.LessThan(floor) {
		return floor
	}
	return raw
}

// ErrNoFallback signals a probe was asked to run without a usable
// fallback price.
var ErrNoFallback = fmt.Errorf("probe requires a non-zero fallback price")
