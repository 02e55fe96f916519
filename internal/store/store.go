// Package store is the local persistence layer: a single SQLite
// database file mirroring listings and orders, holding pricing
// parameters, acquisition cost, price history, and the persisted rate
// limit configuration (one row, one column per bucket setting).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo toolchain required

	"github.com/rs/zerolog"

	"github.com/aristath/backmarket-repricer/pkg/logger"
)

// Store wraps the local database connection.
type Store struct {
	conn *sql.DB
	log  zerolog.Logger
}

// New opens (and, if necessary, creates) the local SQLite database at
// path, with WAL mode enabled for concurrent readers alongside the
// scheduler's writers.
func New(path string, log zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("pinging local store: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)

	return &Store{conn: conn, log: logger.Component(log, "store")}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn exposes the raw connection for ad-hoc diagnostics routes.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

const schema = `
CREATE TABLE IF NOT EXISTS listings (
	listing_id        TEXT PRIMARY KEY,
	sku               TEXT NOT NULL,
	grade             INTEGER NOT NULL,
	price             TEXT NOT NULL,
	currency          TEXT NOT NULL,
	quantity          INTEGER NOT NULL,
	publication_state TEXT NOT NULL,
	last_probe_at     DATETIME,
	synced_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS listing_country_prices (
	listing_id   TEXT NOT NULL,
	country_code TEXT NOT NULL,
	price        TEXT NOT NULL,
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (listing_id, country_code)
);

CREATE TABLE IF NOT EXISTS orders (
	order_id  TEXT PRIMARY KEY,
	state     TEXT NOT NULL,
	total     TEXT NOT NULL,
	currency  TEXT NOT NULL,
	payload   BLOB,
	synced_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pricing_parameters (
	sku                 TEXT NOT NULL,
	grade               INTEGER NOT NULL,
	country_code        TEXT NOT NULL,
	refurb_cost         TEXT NOT NULL,
	operational_cost    TEXT NOT NULL,
	warranty_risk_cost  TEXT NOT NULL,
	platform_fee_rate   TEXT NOT NULL,
	target_margin_rate  TEXT NOT NULL,
	price_step          TEXT NOT NULL,
	min_price           TEXT,
	max_price           TEXT,
	PRIMARY KEY (sku, grade, country_code)
);

CREATE TABLE IF NOT EXISTS purchase_batches (
	sku          TEXT NOT NULL,
	received_at  DATETIME NOT NULL,
	received_qty INTEGER NOT NULL,
	unit_cost    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS price_history (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	listing_id           TEXT NOT NULL,
	country_code         TEXT NOT NULL,
	price                TEXT NOT NULL,
	floor_price          TEXT NOT NULL,
	constrained_by_floor BOOLEAN NOT NULL,
	recorded_at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_listing ON price_history (listing_id, recorded_at);

CREATE TABLE IF NOT EXISTS sale_events (
	sku    TEXT NOT NULL,
	sold_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sale_events_sku ON sale_events (sku, sold_at);

CREATE TABLE IF NOT EXISTS rate_limit_config (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	global_ms   INTEGER NOT NULL,
	global_max  INTEGER NOT NULL,
	catalog_ms  INTEGER NOT NULL,
	catalog_max INTEGER NOT NULL,
	competitor_ms  INTEGER NOT NULL,
	competitor_max INTEGER NOT NULL,
	care_ms     INTEGER NOT NULL,
	care_max    INTEGER NOT NULL
);
`

// Migrate creates the schema if it does not already exist. There is no
// migration history table yet; the schema is additive-only so this is
// safe to run on every startup.
func (s *Store) Migrate() error {
	_, err := s.conn.Exec(schema)
	if err != nil {
		return fmt.Errorf("running local store migration: %w", err)
	}
	return nil
}
