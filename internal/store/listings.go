package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

// UpsertListing inserts or replaces a listing mirrored from a sync
// cycle. The core never deletes a listing, only upserts.
func (s *Store) UpsertListing(ctx context.Context, l domain.Listing) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO listings (listing_id, sku, grade, price, currency, quantity, publication_state, last_probe_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			sku = excluded.sku,
			grade = excluded.grade,
			price = excluded.price,
			currency = excluded.currency,
			quantity = excluded.quantity,
			publication_state = excluded.publication_state,
			synced_at = excluded.synced_at
	`, l.ListingID, l.SKU, l.Grade, l.Price.String(), string(l.Currency), l.Quantity, string(l.PublicationState), l.LastProbeAt, l.SyncedAt)
	if err != nil {
		return fmt.Errorf("upserting listing %s: %w", l.ListingID, err)
	}
	return nil
}

// GetListing fetches one listing by ID.
func (s *Store) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT listing_id, sku, grade, price, currency, quantity, publication_state, last_probe_at, synced_at
		FROM listings WHERE listing_id = ?
	`, listingID)

	var l domain.Listing
	var price string
	var lastProbeAt sql.NullTime
	if err := row.Scan(&l.ListingID, &l.SKU, &l.Grade, &price, &l.Currency, &l.Quantity, &l.PublicationState, &lastProbeAt, &l.SyncedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("listing %s not found", listingID)
		}
		return nil, fmt.Errorf("fetching listing %s: %w", listingID, err)
	}
	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parsing stored price for listing %s: %w", listingID, err)
	}
	l.Price = parsed
	if lastProbeAt.Valid {
		l.LastProbeAt = &lastProbeAt.Time
	}
	return &l, nil
}

// ListPublishedListings returns every listing in the published state,
// used by the scheduler's standing repricing sweep.
func (s *Store) ListPublishedListings(ctx context.Context) ([]domain.Listing, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT listing_id, sku, grade, price, currency, quantity, publication_state, last_probe_at, synced_at
		FROM listings WHERE publication_state = ?
	`, string(domain.PublicationStatePublished))
	if err != nil {
		return nil, fmt.Errorf("listing published listings: %w", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		var l domain.Listing
		var price string
		var lastProbeAt sql.NullTime
		if err := rows.Scan(&l.ListingID, &l.SKU, &l.Grade, &price, &l.Currency, &l.Quantity, &l.PublicationState, &lastProbeAt, &l.SyncedAt); err != nil {
			return nil, fmt.Errorf("scanning listing row: %w", err)
		}
		parsed, err := decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("parsing stored price: %w", err)
		}
		l.Price = parsed
		if lastProbeAt.Valid {
			l.LastProbeAt = &lastProbeAt.Time
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetLastProbeAt records when a listing's probe last ran.
func (s *Store) SetLastProbeAt(ctx context.Context, listingID string, at time.Time) error {
	_, err := s.conn.ExecContext(ctx, `UPDATE listings SET last_probe_at = ? WHERE listing_id = ?`, at, listingID)
	if err != nil {
		return fmt.Errorf("recording last_probe_at for %s: %w", listingID, err)
	}
	return nil
}

// CountryCodesFor returns the countries a listing has an active price
// record in.
func (s *Store) CountryCodesFor(ctx context.Context, listingID string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT country_code FROM listing_country_prices WHERE listing_id = ?`, listingID)
	if err != nil {
		return nil, fmt.Errorf("listing country codes for %s: %w", listingID, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var cc string
		if err := rows.Scan(&cc); err != nil {
			return nil, fmt.Errorf("scanning country code: %w", err)
		}
		codes = append(codes, cc)
	}
	return codes, rows.Err()
}

// UpsertCountryPrice records the active price for one (listing,
// country) pair, mirroring a confirmed price update.
func (s *Store) UpsertCountryPrice(ctx context.Context, p domain.ListingCountryPrice) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO listing_country_prices (listing_id, country_code, price, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(listing_id, country_code) DO UPDATE SET
			price = excluded.price, updated_at = excluded.updated_at
	`, p.ListingID, p.CountryCode, p.Price.String(), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting country price for %s/%s: %w", p.ListingID, p.CountryCode, err)
	}
	return nil
}
