package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/backmarket-repricer/internal/domain"
)

// GetRateLimitConfig loads the persisted rate limit configuration, if
// any admin override has ever been saved.
func (s *Store) GetRateLimitConfig(ctx context.Context) (*domain.RateLimitConfig, bool, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT global_ms, global_max, catalog_ms, catalog_max, competitor_ms, competitor_max, care_ms, care_max
		FROM rate_limit_config WHERE id = 1
	`)

	var cfg domain.RateLimitConfig
	err := row.Scan(
		&cfg.Global.IntervalMS, &cfg.Global.MaxRequests,
		&cfg.Catalog.IntervalMS, &cfg.Catalog.MaxRequests,
		&cfg.Competitor.IntervalMS, &cfg.Competitor.MaxRequests,
		&cfg.Care.IntervalMS, &cfg.Care.MaxRequests,
	)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("loading rate limit config: %w", err)
	}
	return &cfg, true, nil
}

// SaveRateLimitConfig persists an admin-supplied rate limit override,
// making Controller.UpdateConfig durable across restarts.
func (s *Store) SaveRateLimitConfig(ctx context.Context, cfg domain.RateLimitConfig) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO rate_limit_config (id, global_ms, global_max, catalog_ms, catalog_max, competitor_ms, competitor_max, care_ms, care_max)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			global_ms = excluded.global_ms, global_max = excluded.global_max,
			catalog_ms = excluded.catalog_ms, catalog_max = excluded.catalog_max,
			competitor_ms = excluded.competitor_ms, competitor_max = excluded.competitor_max,
			care_ms = excluded.care_ms, care_max = excluded.care_max
	`, cfg.Global.IntervalMS, cfg.Global.MaxRequests,
		cfg.Catalog.IntervalMS, cfg.Catalog.MaxRequests,
		cfg.Competitor.IntervalMS, cfg.Competitor.MaxRequests,
		cfg.Care.IntervalMS, cfg.Care.MaxRequests,
	)
	if err != nil {
		return fmt.Errorf("saving rate limit config: %w", err)
	}
	return nil
}
