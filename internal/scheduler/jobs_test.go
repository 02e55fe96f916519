package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/marketplace"
	"github.com/aristath/backmarket-repricer/internal/ratelimit"
	"github.com/aristath/backmarket-repricer/internal/reprice"
	"github.com/aristath/backmarket-repricer/internal/sync"
)

type fakeSyncStore struct{}

func (fakeSyncStore) UpsertListing(ctx context.Context, l domain.Listing) error { return nil }
func (fakeSyncStore) UpsertOrder(ctx context.Context, o domain.Order) error     { return nil }

func newTestSyncDriver(market *marketplace.Client) *sync.Driver {
	return sync.New(market, fakeSyncStore{}, nil, clock.Real{}, nil, zerolog.Nop())
}

func newTestMarket(t *testing.T, handler http.HandlerFunc) *marketplace.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	spec := domain.BucketSpec{MaxRequests: 100, IntervalMS: 60_000}
	controller := ratelimit.New(ratelimit.Config{
		Clock:      clock.Real{},
		RateLimits: domain.RateLimitConfig{Global: spec, Catalog: spec, Competitor: spec, Care: spec},
		Backoff:    5 * time.Millisecond,
		Log:        zerolog.Nop(),
	})
	t.Cleanup(func() {
		controller.Shutdown(time.Second)
		srv.Close()
	})
	return marketplace.NewClient(controller, srv.URL, "token", zerolog.Nop())
}

type fakeListingSource struct {
	listings  []domain.Listing
	countries map[string][]string
}

func (f *fakeListingSource) ListPublishedListings(ctx context.Context) ([]domain.Listing, error) {
	return f.listings, nil
}

func (f *fakeListingSource) CountryCodesFor(ctx context.Context, listingID string) ([]string, error) {
	return f.countries[listingID], nil
}

type fakeParametersStore struct{}

func (fakeParametersStore) PricingParameters(ctx context.Context, sku string, grade int, countryCode string) (*domain.PricingParameters, error) {
	return &domain.PricingParameters{
		PlatformFeeRate:  decimal.NewFromFloat(0.10),
		TargetMarginRate: decimal.NewFromFloat(0.10),
	}, nil
}

func (fakeParametersStore) AcquisitionCost(ctx context.Context, sku string) (*domain.AcquisitionCost, error) {
	return &domain.AcquisitionCost{SKU: sku, UnitCost: decimal.NewFromFloat(50)}, nil
}

func (fakeParametersStore) RecentSalesVelocity(ctx context.Context, sku string) (int, error) {
	return 2, nil
}

func (fakeParametersStore) RecordPriceHistory(ctx context.Context, listingID, countryCode string, price, floor decimal.Decimal, constrainedByFloor bool) error {
	return nil
}

func TestRepriceFleetJob_RepricesEveryListingAcrossItsCountries(t *testing.T) {
	market := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[{"competitor_id":"c1","price":"100.00"}]`))
		case http.MethodPost:
			w.Write([]byte(`{}`))
		}
	})
	orch := reprice.New(market, fakeParametersStore{}, clock.Real{}, nil, "FR", zerolog.Nop())

	source := &fakeListingSource{
		listings: []domain.Listing{
			{ListingID: "l1", SKU: "SKU1", Grade: 1},
			{ListingID: "l2", SKU: "SKU2", Grade: 1},
		},
		countries: map[string][]string{
			"l1": {"FR"},
			"l2": {"FR", "DE"},
		},
	}

	job := NewRepriceFleetJob(source, orch)
	require.NoError(t, job.Run())
	assert.Equal(t, "reprice_fleet", job.Name())
}

func TestRepriceFleetJob_FallsBackToDefaultCountryForOrphanListings(t *testing.T) {
	var sawUpdate bool
	market := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`[{"competitor_id":"c1","price":"100.00"}]`))
		case http.MethodPost:
			sawUpdate = true
			w.Write([]byte(`{}`))
		}
	})
	orch := reprice.New(market, fakeParametersStore{}, clock.Real{}, nil, "FR", zerolog.Nop())

	source := &fakeListingSource{
		listings:  []domain.Listing{{ListingID: "orphan", SKU: "SKU1", Grade: 1}},
		countries: map[string][]string{},
	}

	job := NewRepriceFleetJob(source, orch)
	require.NoError(t, job.Run())
	assert.True(t, sawUpdate, "a listing with no published countries must fall back to the default country instead of being skipped")
}

func TestSyncOrdersJob_PropagatesDriverError(t *testing.T) {
	market := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	driver := newTestSyncDriver(market)

	job := NewSyncOrdersJob(driver)
	assert.Equal(t, "sync_orders", job.Name())
	assert.Error(t, job.Run())
}

func TestRecomputeBuybackPricesJob_SucceedsOnDoneStatus(t *testing.T) {
	market := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"task_id":"task-1"}`))
		default:
			w.Write([]byte(`{"status":9,"detail":"ok"}`))
		}
	})

	job := NewRecomputeBuybackPricesJob(market, func() ([]byte, error) {
		return []byte("sku,price\n"), nil
	})
	assert.Equal(t, "recompute_buyback_prices", job.Name())
	assert.NoError(t, job.Run())
}

func TestRecomputeBuybackPricesJob_FailsOnFailedTaskStatus(t *testing.T) {
	market := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.Write([]byte(`{"task_id":"task-1"}`))
		default:
			w.Write([]byte(`{"status":8,"detail":"bad csv"}`))
		}
	})

	job := NewRecomputeBuybackPricesJob(market, func() ([]byte, error) {
		return []byte("sku,price\n"), nil
	})
	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad csv")
}

func TestRecomputeBuybackPricesJob_PropagatesPayloadError(t *testing.T) {
	market := newTestMarket(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no marketplace call should happen when building the payload fails")
	})

	job := NewRecomputeBuybackPricesJob(market, func() ([]byte, error) {
		return nil, errors.New("no purchase batches on file")
	})
	assert.Error(t, job.Run())
}
