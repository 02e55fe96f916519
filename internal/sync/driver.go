// Package sync implements SyncDriver: paginated catalog and order
// mirroring from the marketplace API, plus webhook-driven incremental
// updates.
package sync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/errs"
	"github.com/aristath/backmarket-repricer/internal/events"
	"github.com/aristath/backmarket-repricer/internal/marketplace"
	"github.com/aristath/backmarket-repricer/pkg/logger"
)

// maxIncrementalPages caps an incremental (non-full) order sync at 5
// pages.
const maxIncrementalPages = 5

// LocalStore is the persistence surface SyncDriver upserts into.
type LocalStore interface {
	UpsertListing(ctx context.Context, l domain.Listing) error
	UpsertOrder(ctx context.Context, o domain.Order) error
}

// Driver runs the orders and listings sync pipelines and handles
// marketplace webhooks.
type Driver struct {
	market        *marketplace.Client
	store         LocalStore
	webhookSecret []byte
	clock         clock.Clock
	log           zerolog.Logger
	events        *events.Manager
}

// New constructs a Driver. webhookSecret may be nil/empty, in which
// case incoming webhooks are accepted unverified — signature
// verification is conditional on whether signing is configured. em may
// be nil, in which case events go to a Manager that logs them through
// log.
func New(market *marketplace.Client, store LocalStore, webhookSecret []byte, clk clock.Clock, em *events.Manager, log zerolog.Logger) *Driver {
	if clk == nil {
		clk = clock.Real{}
	}
	if em == nil {
		em = events.NewManager(log)
	}
	return &Driver{
		market:        market,
		store:         store,
		webhookSecret: webhookSecret,
		clock:         clk,
		log:           logger.Component(log, "sync_driver"),
		events:        em,
	}
}

// SyncResult reports how many records a sync pipeline processed before
// it stopped.
type SyncResult struct {
	Pages       int
	RecordCount int
	Err         error
}

// SyncListings runs the full paginated listings pipeline. Listings
// syncs are always full, uncapped.
func (d *Driver) SyncListings(ctx context.Context) SyncResult {
	d.events.Emit(events.SyncStarted, "sync_driver", map[string]any{"feed": "listings"})
	result := d.syncListings(ctx)
	if result.Err != nil {
		d.events.EmitError("sync_driver", result.Err, map[string]any{"feed": "listings"})
	} else {
		d.events.Emit(events.SyncCompleted, "sync_driver", map[string]any{"feed": "listings", "pages": result.Pages, "records": result.RecordCount})
	}
	return result
}

func (d *Driver) syncListings(ctx context.Context) SyncResult {
	result := SyncResult{}
	for page := 1; ; page++ {
		resp, err := d.market.GetListingsPage(ctx, page, domain.PriorityNormal)
		if err != nil {
			d.log.Error().Err(err).Int("page", page).Msg("listings sync aborted")
			result.Err = err
			return result
		}
		result.Pages++

		for _, l := range resp.Results {
			l.SyncedAt = d.clock.Now()
			if err := d.store.UpsertListing(ctx, l); err != nil {
				d.log.Error().Err(err).Str("listing_id", l.ListingID).Msg("upserting synced listing failed")
				continue
			}
			result.RecordCount++
		}

		if resp.Next == "" {
			return result
		}
	}
}

// SyncOrders runs the paginated orders pipeline. When full is false,
// the sync is capped at maxIncrementalPages pages.
func (d *Driver) SyncOrders(ctx context.Context, full bool) SyncResult {
	d.events.Emit(events.SyncStarted, "sync_driver", map[string]any{"feed": "orders", "full": full})
	result := d.syncOrders(ctx, full)
	if result.Err != nil {
		d.events.EmitError("sync_driver", result.Err, map[string]any{"feed": "orders"})
	} else {
		d.events.Emit(events.SyncCompleted, "sync_driver", map[string]any{"feed": "orders", "pages": result.Pages, "records": result.RecordCount})
	}
	return result
}

func (d *Driver) syncOrders(ctx context.Context, full bool) SyncResult {
	result := SyncResult{}
	for page := 1; ; page++ {
		resp, err := d.market.GetOrdersPage(ctx, page, domain.PriorityNormal)
		if err != nil {
			d.log.Error().Err(err).Int("page", page).Msg("orders sync aborted")
			result.Err = err
			return result
		}
		result.Pages++

		for _, o := range resp.Results {
			o.SyncedAt = d.clock.Now()
			if err := d.store.UpsertOrder(ctx, o); err != nil {
				d.log.Error().Err(err).Str("order_id", o.OrderID).Msg("upserting synced order failed")
				continue
			}
			result.RecordCount++
		}

		if resp.Next == "" {
			return result
		}
		if !full && result.Pages >= maxIncrementalPages {
			return result
		}
	}
}

// WebhookEvent is the decoded body of an inbound marketplace webhook.
type WebhookEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type orderRef struct {
	OrderID string `json:"order_id"`
}

type listingRef struct {
	ListingID string `json:"listing_id"`
}

// HandleWebhook verifies the signature (if configured), decodes the
// event, and fetches+upserts the referenced record at HIGH priority.
func (d *Driver) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if len(d.webhookSecret) > 0 {
		if !verifySignature(d.webhookSecret, rawBody, signature) {
			return &errs.DataError{Msg: "webhook signature verification failed"}
		}
	}

	var event WebhookEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return &errs.DataError{Msg: fmt.Sprintf("decoding webhook payload: %v", err)}
	}

	switch event.Type {
	case "order.created", "order.updated":
		var ref orderRef
		if err := json.Unmarshal(event.Payload, &ref); err != nil {
			return &errs.DataError{Msg: fmt.Sprintf("decoding order webhook payload: %v", err)}
		}
		return d.refreshOrder(ctx, ref.OrderID)

	case "listing.updated":
		var ref listingRef
		if err := json.Unmarshal(event.Payload, &ref); err != nil {
			return &errs.DataError{Msg: fmt.Sprintf("decoding listing webhook payload: %v", err)}
		}
		return d.refreshListing(ctx, ref.ListingID)

	default:
		d.log.Warn().Str("event_type", event.Type).Msg("ignoring unknown webhook event type")
		return nil
	}
}

func (d *Driver) refreshOrder(ctx context.Context, orderID string) error {
	order, err := d.market.GetOrder(ctx, orderID, domain.PriorityHigh)
	if err != nil {
		return err
	}
	order.SyncedAt = d.clock.Now()
	return d.store.UpsertOrder(ctx, *order)
}

func (d *Driver) refreshListing(ctx context.Context, listingID string) error {
	listing, err := d.market.GetListing(ctx, listingID, domain.PriorityHigh)
	if err != nil {
		return err
	}
	listing.SyncedAt = d.clock.Now()
	return d.store.UpsertListing(ctx, *listing)
}

// verifySignature checks an HMAC-SHA256 hex digest over the raw
// webhook body. Plain crypto/hmac is the correct tool here — no pack
// library wraps webhook signature verification more idiomatically than
// the standard library already does.
func verifySignature(secret, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
