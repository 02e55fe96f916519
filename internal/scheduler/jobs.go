package scheduler

import (
	"context"
	"fmt"

	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/marketplace"
	"github.com/aristath/backmarket-repricer/internal/reprice"
	"github.com/aristath/backmarket-repricer/internal/sync"
)

// ListingSource supplies the active listings a fleet reprice sweeps
// over.
type ListingSource interface {
	ListPublishedListings(ctx context.Context) ([]domain.Listing, error)
	CountryCodesFor(ctx context.Context, listingID string) ([]string, error)
}

// syncOrdersJob runs SyncDriver's incremental order sync, every 15
// minutes, capped pages.
type syncOrdersJob struct {
	driver *sync.Driver
}

// NewSyncOrdersJob constructs the "Sync Orders" standing task.
func NewSyncOrdersJob(driver *sync.Driver) Job { return &syncOrdersJob{driver: driver} }

func (j *syncOrdersJob) Name() string { return "sync_orders" }

func (j *syncOrdersJob) Run() error {
	result := j.driver.SyncOrders(context.Background(), false)
	return result.Err
}

// syncListingsJob runs SyncDriver's full listings sync, every 60
// minutes.
type syncListingsJob struct {
	driver *sync.Driver
}

// NewSyncListingsJob constructs the "Sync Listings" standing task.
func NewSyncListingsJob(driver *sync.Driver) Job { return &syncListingsJob{driver: driver} }

func (j *syncListingsJob) Name() string { return "sync_listings" }

func (j *syncListingsJob) Run() error {
	result := j.driver.SyncListings(context.Background())
	return result.Err
}

// repriceFleetJob enumerates all active listings and reprices each
// sequentially — the TrafficController already provides pacing and
// concurrency control, so a second parallel layer here would only add
// contention.
type repriceFleetJob struct {
	source       ListingSource
	orchestrator *reprice.Orchestrator
}

// NewRepriceFleetJob constructs the "Reprice Fleet" standing task.
func NewRepriceFleetJob(source ListingSource, orchestrator *reprice.Orchestrator) Job {
	return &repriceFleetJob{source: source, orchestrator: orchestrator}
}

func (j *repriceFleetJob) Name() string { return "reprice_fleet" }

func (j *repriceFleetJob) Run() error {
	ctx := context.Background()
	listings, err := j.source.ListPublishedListings(ctx)
	if err != nil {
		return fmt.Errorf("enumerating active listings: %w", err)
	}

	var firstErr error
	for _, listing := range listings {
		countries, err := j.source.CountryCodesFor(ctx, listing.ListingID)
		if err != nil {
			continue
		}
		// An empty country list is not skipped here: Reprice falls back
		// to the configured default country itself.
		result := j.orchestrator.Reprice(ctx, listing, countries)
		for _, cr := range result.Countries {
			if cr.Err != nil && firstErr == nil {
				firstErr = fmt.Errorf("listing %s/%s: %w", listing.ListingID, cr.CountryCode, cr.Err)
			}
		}
	}
	// A per-country failure never aborts the fleet sweep; the first
	// error is surfaced only so last_error reflects that the cycle was
	// not entirely clean.
	return firstErr
}

// recomputeBuybackPricesJob triggers the buyback-side repricing task
// body via the marketplace bulk endpoint.
type recomputeBuybackPricesJob struct {
	market  *marketplace.Client
	payload func() ([]byte, error)
}

// NewRecomputeBuybackPricesJob constructs the "Recompute Buyback
// Prices" standing task. payload builds the CSV-in-envelope body the
// bulk endpoint expects, deferred so it reflects the latest buyback
// price computation at run time.
func NewRecomputeBuybackPricesJob(market *marketplace.Client, payload func() ([]byte, error)) Job {
	return &recomputeBuybackPricesJob{market: market, payload: payload}
}

func (j *recomputeBuybackPricesJob) Name() string { return "recompute_buyback_prices" }

func (j *recomputeBuybackPricesJob) Run() error {
	ctx := context.Background()
	body, err := j.payload()
	if err != nil {
		return fmt.Errorf("building buyback recompute payload: %w", err)
	}
	taskID, err := j.market.RecomputeBuybackPrices(ctx, body, domain.PriorityNormal)
	if err != nil {
		return err
	}
	state, err := j.market.PollTask(ctx, taskID, domain.PriorityNormal)
	if err != nil {
		return err
	}
	if state.Status == marketplace.TaskStatusFailed {
		return fmt.Errorf("buyback recompute task %s failed: %s", taskID, state.Detail)
	}
	return nil
}
