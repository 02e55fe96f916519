package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

// velocityWindow is how far back RecentSalesVelocity looks for sale
// events, the velocity input to priority derivation.
const velocityWindow = 30 * 24 * time.Hour

// PricingParameters fetches the parameters for one (sku, grade,
// country) triple. Satisfies reprice.ParametersStore.
func (s *Store) PricingParameters(ctx context.Context, sku string, grade int, countryCode string) (*domain.PricingParameters, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT sku, grade, country_code, refurb_cost, operational_cost, warranty_risk_cost,
		       platform_fee_rate, target_margin_rate, price_step, min_price, max_price
		FROM pricing_parameters WHERE sku = ? AND grade = ? AND country_code = ?
	`, sku, grade, countryCode)

	var p domain.PricingParameters
	var refurb, operational, warranty, feeRate, marginRate, step string
	var minPrice, maxPrice sql.NullString
	err := row.Scan(&p.SKU, &p.Grade, &p.CountryCode, &refurb, &operational, &warranty, &feeRate, &marginRate, &step, &minPrice, &maxPrice)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no pricing parameters for sku=%s grade=%d country=%s", sku, grade, countryCode)
		}
		return nil, fmt.Errorf("fetching pricing parameters: %w", err)
	}

	if p.RefurbCost, err = decimal.NewFromString(refurb); err != nil {
		return nil, fmt.Errorf("parsing refurb_cost: %w", err)
	}
	if p.OperationalCost, err = decimal.NewFromString(operational); err != nil {
		return nil, fmt.Errorf("parsing operational_cost: %w", err)
	}
	if p.WarrantyRiskCost, err = decimal.NewFromString(warranty); err != nil {
		return nil, fmt.Errorf("parsing warranty_risk_cost: %w", err)
	}
	if p.PlatformFeeRate, err = decimal.NewFromString(feeRate); err != nil {
		return nil, fmt.Errorf("parsing platform_fee_rate: %w", err)
	}
	if p.TargetMarginRate, err = decimal.NewFromString(marginRate); err != nil {
		return nil, fmt.Errorf("parsing target_margin_rate: %w", err)
	}
	if p.PriceStep, err = decimal.NewFromString(step); err != nil {
		return nil, fmt.Errorf("parsing price_step: %w", err)
	}
	if minPrice.Valid {
		v, err := decimal.NewFromString(minPrice.String)
		if err != nil {
			return nil, fmt.Errorf("parsing min_price: %w", err)
		}
		p.MinPrice = &v
	}
	if maxPrice.Valid {
		v, err := decimal.NewFromString(maxPrice.String)
		if err != nil {
			return nil, fmt.Errorf("parsing max_price: %w", err)
		}
		p.MaxPrice = &v
	}
	return &p, nil
}

// UpsertPricingParameters creates or replaces one parameter row.
func (s *Store) UpsertPricingParameters(ctx context.Context, p domain.PricingParameters) error {
	var minPrice, maxPrice any
	if p.MinPrice != nil {
		minPrice = p.MinPrice.String()
	}
	if p.MaxPrice != nil {
		maxPrice = p.MaxPrice.String()
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO pricing_parameters (sku, grade, country_code, refurb_cost, operational_cost, warranty_risk_cost,
			platform_fee_rate, target_margin_rate, price_step, min_price, max_price)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sku, grade, country_code) DO UPDATE SET
			refurb_cost = excluded.refurb_cost,
			operational_cost = excluded.operational_cost,
			warranty_risk_cost = excluded.warranty_risk_cost,
			platform_fee_rate = excluded.platform_fee_rate,
			target_margin_rate = excluded.target_margin_rate,
			price_step = excluded.price_step,
			min_price = excluded.min_price,
			max_price = excluded.max_price
	`, p.SKU, p.Grade, p.CountryCode, p.RefurbCost.String(), p.OperationalCost.String(), p.WarrantyRiskCost.String(),
		p.PlatformFeeRate.String(), p.TargetMarginRate.String(), p.PriceStep.String(), minPrice, maxPrice)
	if err != nil {
		return fmt.Errorf("upserting pricing parameters for %s: %w", p.SKU, err)
	}
	return nil
}

// AcquisitionCost derives the weighted-average unit cost across
// received purchase batches for a SKU.
func (s *Store) AcquisitionCost(ctx context.Context, sku string) (*domain.AcquisitionCost, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT received_qty, unit_cost, received_at FROM purchase_batches WHERE sku = ?
	`, sku)
	if err != nil {
		return nil, fmt.Errorf("fetching purchase batches for %s: %w", sku, err)
	}
	defer rows.Close()

	totalQty := 0
	weightedSum := decimal.Zero
	var latest time.Time
	for rows.Next() {
		var qty int
		var unitCostStr string
		var receivedAt time.Time
		if err := rows.Scan(&qty, &unitCostStr, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning purchase batch: %w", err)
		}
		unitCost, err := decimal.NewFromString(unitCostStr)
		if err != nil {
			return nil, fmt.Errorf("parsing unit_cost: %w", err)
		}
		weightedSum = weightedSum.Add(unitCost.Mul(decimal.NewFromInt(int64(qty))))
		totalQty += qty
		if receivedAt.After(latest) {
			latest = receivedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if totalQty == 0 {
		return nil, fmt.Errorf("no purchase batches recorded for sku %s", sku)
	}

	return &domain.AcquisitionCost{
		SKU:      sku,
		UnitCost: weightedSum.Div(decimal.NewFromInt(int64(totalQty))),
		AsOf:     latest,
	}, nil
}

// RecordSale appends a sale event, used to derive RecentSalesVelocity.
func (s *Store) RecordSale(ctx context.Context, sku string, soldAt time.Time) error {
	_, err := s.conn.ExecContext(ctx, `INSERT INTO sale_events (sku, sold_at) VALUES (?, ?)`, sku, soldAt)
	if err != nil {
		return fmt.Errorf("recording sale for %s: %w", sku, err)
	}
	return nil
}

// RecentSalesVelocity counts sale events for a SKU within the trailing
// velocityWindow, the velocity input to priority derivation.
func (s *Store) RecentSalesVelocity(ctx context.Context, sku string) (int, error) {
	var count int
	cutoff := time.Now().Add(-velocityWindow)
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sale_events WHERE sku = ? AND sold_at >= ?`, sku, cutoff).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting recent sales for %s: %w", sku, err)
	}
	return count, nil
}

// RecordPriceHistory appends one repricing decision for audit and
// analysis.
func (s *Store) RecordPriceHistory(ctx context.Context, listingID, countryCode string, price, floor decimal.Decimal, constrainedByFloor bool) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO price_history (listing_id, country_code, price, floor_price, constrained_by_floor, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, listingID, countryCode, price.String(), floor.String(), constrainedByFloor, time.Now())
	if err != nil {
		return fmt.Errorf("recording price history for %s: %w", listingID, err)
	}
	return nil
}

// buybackCatalogEnvelope mirrors the bulk-upload body shape the
// marketplace API expects: `{ catalog, delimiter, encoding }` wrapping
// a CSV body.
type buybackCatalogEnvelope struct {
	Catalog   string `json:"catalog"`
	Delimiter string `json:"delimiter"`
	Encoding  string `json:"encoding"`
}

// BuildBuybackCatalogPayload derives a per-SKU buyback offer price
// from each SKU's weighted-average acquisition cost minus a
// configurable buy-margin, independent of the competitor-facing price.
// The result is a CSV catalog wrapped in the bulk-upload envelope
// ready for marketplace.Client.BulkUploadCatalog / RecomputeBuybackPrices.
func (s *Store) BuildBuybackCatalogPayload(ctx context.Context, buyMarginRate decimal.Decimal) ([]byte, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT sku, SUM(received_qty * CAST(unit_cost AS REAL)) AS weighted, SUM(received_qty) AS qty
		FROM purchase_batches GROUP BY sku HAVING qty > 0
	`)
	if err != nil {
		return nil, fmt.Errorf("aggregating acquisition cost by sku: %w", err)
	}
	defer rows.Close()

	var buf bytes.Buffer
	buf.WriteString("sku,buyback_price\n")
	for rows.Next() {
		var sku string
		var weighted float64
		var qty int
		if err := rows.Scan(&sku, &weighted, &qty); err != nil {
			return nil, fmt.Errorf("scanning buyback aggregate row: %w", err)
		}
		unitCost := decimal.NewFromFloat(weighted / float64(qty))
		buybackPrice := unitCost.Mul(decimal.NewFromInt(1).Sub(buyMarginRate)).Round(2)
		buf.WriteString(fmt.Sprintf("%s,%s\n", sku, buybackPrice.String()))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	envelope := buybackCatalogEnvelope{
		Catalog:   buf.String(),
		Delimiter: ",",
		Encoding:  "utf-8",
	}
	return json.Marshal(envelope)
}
