package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriority_StringsEachLevel(t *testing.T) {
	assert.Equal(t, "LOW", PriorityLow.String())
	assert.Equal(t, "NORMAL", PriorityNormal.String())
	assert.Equal(t, "HIGH", PriorityHigh.String())
	assert.Equal(t, "CRITICAL", PriorityCritical.String())
	assert.Equal(t, "UNKNOWN", Priority(99).String())
}

func TestBucketClass_StringsEachClass(t *testing.T) {
	assert.Equal(t, "global", BucketGlobal.String())
	assert.Equal(t, "catalog", BucketCatalog.String())
	assert.Equal(t, "competitor", BucketCompetitor.String())
	assert.Equal(t, "care", BucketCare.String())
	assert.Equal(t, "unknown", BucketClass(99).String())
}

func TestRateLimitConfig_SpecForRoutesToMatchingBucket(t *testing.T) {
	cfg := RateLimitConfig{
		Global:     BucketSpec{MaxRequests: 150, IntervalMS: 10_000},
		Catalog:    BucketSpec{MaxRequests: 15, IntervalMS: 10_000},
		Competitor: BucketSpec{MaxRequests: 2, IntervalMS: 1_000},
		Care:       BucketSpec{MaxRequests: 300, IntervalMS: 60_000},
	}

	assert.Equal(t, cfg.Catalog, cfg.SpecFor(BucketCatalog))
	assert.Equal(t, cfg.Competitor, cfg.SpecFor(BucketCompetitor))
	assert.Equal(t, cfg.Care, cfg.SpecFor(BucketCare))
	assert.Equal(t, cfg.Global, cfg.SpecFor(BucketGlobal))
}

func TestRateLimitConfig_SpecForDefaultsToGlobalForUnknownClass(t *testing.T) {
	cfg := RateLimitConfig{Global: BucketSpec{MaxRequests: 150, IntervalMS: 10_000}}
	assert.Equal(t, cfg.Global, cfg.SpecFor(BucketClass(99)))
}
