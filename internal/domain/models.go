// Package domain holds the core entities mirrored and computed on by
// the traffic & repricing core.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is an ISO-4217-ish currency code, kept as a string because
// the marketplace API returns whatever the listing's country uses.
type Currency string

// PublicationState mirrors the marketplace's listing lifecycle state.
type PublicationState string

const (
	PublicationStateDraft     PublicationState = "draft"
	PublicationStatePublished PublicationState = "published"
	PublicationStateSuspended PublicationState = "suspended"
)

// Listing is a seller listing mirrored from the marketplace. It is
// created/mutated exclusively by SyncDriver upserts and by
// price-update confirmations; the core never deletes a Listing.
type Listing struct {
	ListingID        string           `json:"listing_id"`
	SKU              string           `json:"sku"`
	Grade            int              `json:"grade"`
	Price            decimal.Decimal  `json:"price"`
	Currency         Currency         `json:"currency"`
	Quantity         int              `json:"quantity"`
	PublicationState PublicationState `json:"publication_state"`
	LastProbeAt      *time.Time       `json:"last_probe_at,omitempty"`
	SyncedAt         time.Time        `json:"synced_at"`
}

// ListingCountryPrice is the active price for one (listing, country)
// pair. A listing may be published in several country markets, each
// with its own price, independently repriced.
type ListingCountryPrice struct {
	ListingID   string          `json:"listing_id"`
	CountryCode string          `json:"country_code"`
	Price       decimal.Decimal `json:"price"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CompetitorPricePoint is a single observed competitor price. It is
// transient: fetched per repricing cycle and never persisted beyond
// it.
type CompetitorPricePoint struct {
	CompetitorID  string          `json:"competitor_id"`
	Price         decimal.Decimal `json:"price"`
	ObservedAt    time.Time       `json:"observed_at"`
	FeedbackCount int             `json:"feedback_count"`
}

// PricingParameters is keyed by (sku, grade, country_code) and is
// read-only from the core's perspective; it is created/updated by an
// out-of-core configuration surface.
type PricingParameters struct {
	SKU         string
	Grade       int
	CountryCode string

	RefurbCost       decimal.Decimal
	OperationalCost  decimal.Decimal
	WarrantyRiskCost decimal.Decimal

	PlatformFeeRate  decimal.Decimal // in [0,1)
	TargetMarginRate decimal.Decimal // in [0,1)

	PriceStep decimal.Decimal // default undercut delta
	MinPrice  *decimal.Decimal
	MaxPrice  *decimal.Decimal
}

// AcquisitionCost is the weighted-average unit cost of a SKU's stock,
// derived FIFO across received purchase batches weighted by received
// quantity. Always non-negative.
type AcquisitionCost struct {
	SKU      string
	UnitCost decimal.Decimal
	AsOf     time.Time
}

// PurchaseBatch is one received batch of stock for a SKU, the raw
// input AcquisitionCost is derived from.
type PurchaseBatch struct {
	SKU         string
	ReceivedAt  time.Time
	ReceivedQty int
	UnitCost    decimal.Decimal
}

// Priority is the four-level FIFO-within-priority scheduling class
// used by both the PriorityQueue and the pricing pipeline's dispatch
// decision.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// BucketClass is the tagged variant a request is routed to. GLOBAL is
// both a classification and a meta-limit applied to every request
// regardless of class.
type BucketClass int

const (
	BucketGlobal BucketClass = iota
	BucketCatalog
	BucketCompetitor
	BucketCare
)

func (b BucketClass) String() string {
	switch b {
	case BucketGlobal:
		return "global"
	case BucketCatalog:
		return "catalog"
	case BucketCompetitor:
		return "competitor"
	case BucketCare:
		return "care"
	default:
		return "unknown"
	}
}

// BucketSpec is one bucket's shape: refill interval and capacity.
type BucketSpec struct {
	IntervalMS  int64
	MaxRequests int
}

// RateLimitConfig holds the four bucket specs.
type RateLimitConfig struct {
	Global     BucketSpec
	Catalog    BucketSpec
	Competitor BucketSpec
	Care       BucketSpec
}

// SpecFor returns the bucket spec for a class.
func (c RateLimitConfig) SpecFor(class BucketClass) BucketSpec {
	switch class {
	case BucketCatalog:
		return c.Catalog
	case BucketCompetitor:
		return c.Competitor
	case BucketCare:
		return c.Care
	default:
		return c.Global
	}
}

// DispatchOutcome is the terminal state a dispatch attempt logs.
type DispatchOutcome string

const (
	OutcomeExecuted DispatchOutcome = "EXECUTED"
	Outcome429Hit   DispatchOutcome = "429_HIT"
	OutcomeError    DispatchOutcome = "ERROR"
)

// DispatchLogEntry is what the traffic controller hands its log_sink
// after each dispatch attempt.
type DispatchLogEntry struct {
	URL            string
	Priority       Priority
	Outcome        DispatchOutcome
	ResponseStatus int
	DurationMS     int64
	Timestamp      time.Time
}

// TaskStatus is the per-scheduled-task bookkeeping record the
// Scheduler exclusively owns.
type TaskStatus struct {
	Name      string     `json:"name"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	IsRunning bool       `json:"is_running"`
}

// Order is a remote order mirrored locally by SyncDriver.
type Order struct {
	OrderID  string          `json:"order_id"`
	State    string          `json:"state"`
	Total    decimal.Decimal `json:"total"`
	Currency Currency        `json:"currency"`
	Payload  []byte          `json:"-"` // raw upstream payload, replaced wholesale on each sync
	SyncedAt time.Time       `json:"synced_at"`
}
