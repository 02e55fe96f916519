package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repricer.db")
	s, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_UpsertAndGetListing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	listing := domain.Listing{
		ListingID:        "listing-1",
		SKU:              "SKU1",
		Grade:            2,
		Price:            decimal.NewFromFloat(99.99),
		Currency:         domain.Currency("EUR"),
		Quantity:         3,
		PublicationState: domain.PublicationStatePublished,
		SyncedAt:         time.Now().Truncate(time.Second),
	}
	require.NoError(t, s.UpsertListing(ctx, listing))

	got, err := s.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.Equal(t, listing.SKU, got.SKU)
	assert.True(t, got.Price.Equal(listing.Price))
	assert.Equal(t, listing.PublicationState, got.PublicationState)
}

func TestStore_UpsertListingIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := domain.Listing{ListingID: "listing-1", SKU: "SKU1", Grade: 1, Price: decimal.NewFromFloat(10), PublicationState: domain.PublicationStateDraft, SyncedAt: time.Now()}
	require.NoError(t, s.UpsertListing(ctx, base))

	updated := base
	updated.Price = decimal.NewFromFloat(20)
	updated.PublicationState = domain.PublicationStatePublished
	require.NoError(t, s.UpsertListing(ctx, updated))

	got, err := s.GetListing(ctx, "listing-1")
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.NewFromFloat(20)))
	assert.Equal(t, domain.PublicationStatePublished, got.PublicationState)
}

func TestStore_GetListingNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetListing(context.Background(), "missing")
	assert.Error(t, err)
}

func TestStore_ListPublishedListingsFiltersState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertListing(ctx, domain.Listing{ListingID: "l1", SKU: "S1", PublicationState: domain.PublicationStatePublished, Price: decimal.Zero, SyncedAt: time.Now()}))
	require.NoError(t, s.UpsertListing(ctx, domain.Listing{ListingID: "l2", SKU: "S2", PublicationState: domain.PublicationStateDraft, Price: decimal.Zero, SyncedAt: time.Now()}))

	published, err := s.ListPublishedListings(ctx)
	require.NoError(t, err)
	require.Len(t, published, 1)
	assert.Equal(t, "l1", published[0].ListingID)
}

func TestStore_CountryCodesForAndUpsertCountryPrice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertCountryPrice(ctx, domain.ListingCountryPrice{ListingID: "l1", CountryCode: "FR", Price: decimal.NewFromFloat(50), UpdatedAt: time.Now()}))
	require.NoError(t, s.UpsertCountryPrice(ctx, domain.ListingCountryPrice{ListingID: "l1", CountryCode: "DE", Price: decimal.NewFromFloat(55), UpdatedAt: time.Now()}))

	codes, err := s.CountryCodesFor(ctx, "l1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"FR", "DE"}, codes)
}

func TestStore_UpsertOrderAndGetOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	order := domain.Order{OrderID: "order-1", State: "shipped", Total: decimal.NewFromFloat(199.5), Currency: domain.Currency("EUR"), SyncedAt: time.Now()}
	require.NoError(t, s.UpsertOrder(ctx, order))

	got, err := s.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, "shipped", got.State)
	assert.True(t, got.Total.Equal(decimal.NewFromFloat(199.5)))
}

func TestStore_ListOrdersOrdersBySyncedAtDescending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	require.NoError(t, s.UpsertOrder(ctx, domain.Order{OrderID: "o1", State: "new", Total: decimal.Zero, SyncedAt: older}))
	require.NoError(t, s.UpsertOrder(ctx, domain.Order{OrderID: "o2", State: "new", Total: decimal.Zero, SyncedAt: newer}))

	orders, err := s.ListOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "o2", orders[0].OrderID)
}

func TestStore_PricingParametersRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	minP := decimal.NewFromFloat(10)
	params := domain.PricingParameters{
		SKU: "SKU1", Grade: 1, CountryCode: "FR",
		RefurbCost: decimal.NewFromFloat(5), OperationalCost: decimal.NewFromFloat(2), WarrantyRiskCost: decimal.NewFromFloat(1),
		PlatformFeeRate: decimal.NewFromFloat(0.1), TargetMarginRate: decimal.NewFromFloat(0.15),
		PriceStep: decimal.NewFromFloat(0.01), MinPrice: &minP,
	}
	require.NoError(t, s.UpsertPricingParameters(ctx, params))

	got, err := s.PricingParameters(ctx, "SKU1", 1, "FR")
	require.NoError(t, err)
	assert.True(t, got.RefurbCost.Equal(decimal.NewFromFloat(5)))
	require.NotNil(t, got.MinPrice)
	assert.True(t, got.MinPrice.Equal(minP))
	assert.Nil(t, got.MaxPrice)
}

func TestStore_PricingParametersNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.PricingParameters(context.Background(), "MISSING", 1, "FR")
	assert.Error(t, err)
}

func TestStore_AcquisitionCostWeightedAverage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Conn().ExecContext(ctx, `INSERT INTO purchase_batches (sku, received_at, received_qty, unit_cost) VALUES (?, ?, ?, ?)`,
		"SKU1", time.Now(), 10, "100")
	require.NoError(t, err)
	_, err = s.Conn().ExecContext(ctx, `INSERT INTO purchase_batches (sku, received_at, received_qty, unit_cost) VALUES (?, ?, ?, ?)`,
		"SKU1", time.Now(), 5, "130")
	require.NoError(t, err)

	cost, err := s.AcquisitionCost(ctx, "SKU1")
	require.NoError(t, err)
	// (10*100 + 5*130) / 15 = 110
	assert.True(t, cost.UnitCost.Equal(decimal.NewFromFloat(110)), "got %s", cost.UnitCost)
}

func TestStore_AcquisitionCostNoBatchesErrors(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AcquisitionCost(context.Background(), "UNKNOWN")
	assert.Error(t, err)
}

func TestStore_RecordSaleAndRecentSalesVelocity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSale(ctx, "SKU1", time.Now()))
	require.NoError(t, s.RecordSale(ctx, "SKU1", time.Now().Add(-40*24*time.Hour))) // outside the 30-day window

	velocity, err := s.RecentSalesVelocity(ctx, "SKU1")
	require.NoError(t, err)
	assert.Equal(t, 1, velocity)
}

func TestStore_RecordPriceHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordPriceHistory(ctx, "listing-1", "FR", decimal.NewFromFloat(89.99), decimal.NewFromFloat(80), true))

	var count int
	require.NoError(t, s.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM price_history WHERE listing_id = ?`, "listing-1").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStore_BuildBuybackCatalogPayloadAppliesMargin(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Conn().ExecContext(ctx, `INSERT INTO purchase_batches (sku, received_at, received_qty, unit_cost) VALUES (?, ?, ?, ?)`,
		"SKU1", time.Now(), 10, "100")
	require.NoError(t, err)

	payload, err := s.BuildBuybackCatalogPayload(ctx, decimal.NewFromFloat(0.2))
	require.NoError(t, err)
	assert.Contains(t, string(payload), "SKU1,80")
	assert.Contains(t, string(payload), `"delimiter":","`)
}

func TestStore_RateLimitConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetRateLimitConfig(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "no config has been saved yet")

	cfg := domain.RateLimitConfig{
		Global:     domain.BucketSpec{MaxRequests: 50, IntervalMS: 60_000},
		Catalog:    domain.BucketSpec{MaxRequests: 20, IntervalMS: 60_000},
		Competitor: domain.BucketSpec{MaxRequests: 10, IntervalMS: 60_000},
		Care:       domain.BucketSpec{MaxRequests: 5, IntervalMS: 60_000},
	}
	require.NoError(t, s.SaveRateLimitConfig(ctx, cfg))

	got, ok, err := s.GetRateLimitConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cfg, *got)
}

func TestStore_SaveRateLimitConfigOverwritesPriorSave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	spec := domain.BucketSpec{MaxRequests: 1, IntervalMS: 1000}
	require.NoError(t, s.SaveRateLimitConfig(ctx, domain.RateLimitConfig{Global: spec, Catalog: spec, Competitor: spec, Care: spec}))

	updated := domain.BucketSpec{MaxRequests: 99, IntervalMS: 2000}
	require.NoError(t, s.SaveRateLimitConfig(ctx, domain.RateLimitConfig{Global: updated, Catalog: updated, Competitor: updated, Care: updated}))

	got, ok, err := s.GetRateLimitConfig(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99, got.Global.MaxRequests)
}
