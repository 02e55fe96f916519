// Package marketplace is the outbound client for the refurbished-goods
// marketplace API. Every call is routed through the traffic controller
// so dispatch obeys the shared token buckets; this package never calls
// http.Client directly.
package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/errs"
	"github.com/aristath/backmarket-repricer/internal/ratelimit"
	"github.com/aristath/backmarket-repricer/pkg/logger"
)

// pageSize is the page size requested from the paginated feeds.
const pageSize = 50

// errorBodyLimit bounds how much of a failed response body is carried
// into the surfaced error.
const errorBodyLimit = 4096

// Client talks to the marketplace API through a ratelimit.Controller.
type Client struct {
	controller *ratelimit.Controller
	baseURL    string
	authToken  string
	log        zerolog.Logger
}

// NewClient constructs a Client bound to a running traffic controller.
func NewClient(controller *ratelimit.Controller, baseURL, authToken string, log zerolog.Logger) *Client {
	return &Client{
		controller: controller,
		baseURL:    baseURL,
		authToken:  authToken,
		log:        logger.Component(log, "marketplace_client"),
	}
}

// do schedules a request through the controller, waits for it, and
// decodes the JSON response body into out (if non-nil). Remote errors
// surfaced by the controller are enriched with a bounded slice of the
// response body before being returned.
func (c *Client) do(ctx context.Context, req ratelimit.Request, out any) error {
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	req.Headers.Set("Authorization", "Bearer "+c.authToken)
	req.Headers.Set("Content-Type", "application/json")
	if req.Cost == 0 && req.SpendReservation == nil {
		req.Cost = 1
	}

	future, err := c.controller.Schedule(ctx, req)
	if err != nil {
		return err
	}
	return c.await(ctx, req.URL, future, out)
}

// doReserving is do's sibling for calls that additionally reserve
// tokens for a later reserved dispatch (the probe protocol's Dip).
func (c *Client) doReserving(ctx context.Context, req ratelimit.Request) (*ratelimit.DualReservation, error) {
	if req.Headers == nil {
		req.Headers = http.Header{}
	}
	req.Headers.Set("Authorization", "Bearer "+c.authToken)
	req.Headers.Set("Content-Type", "application/json")

	future, err := c.controller.Schedule(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.await(ctx, req.URL, future, nil); err != nil {
		// The dip itself failed; give its reserved peak token back.
		c.controller.Release(future.Reservation())
		return nil, err
	}
	return future.Reservation(), nil
}

// ReleaseReservation returns reserved tokens to their buckets when a
// multi-step flow aborts before its reserved dispatch.
func (c *Client) ReleaseReservation(res *ratelimit.DualReservation) {
	c.controller.Release(res)
}

func (c *Client) await(ctx context.Context, url string, future *ratelimit.Future, out any) error {
	resp, err := future.Wait(ctx)
	if resp != nil {
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
	}
	if err != nil {
		return c.enrichRemoteError(err, resp)
	}
	// A 429 that exhausted the controller's retries comes back as a
	// plain response; surface it as the transient error it is instead
	// of tripping over its body.
	if resp.StatusCode == http.StatusTooManyRequests {
		return &errs.TransientRemoteError{StatusCode: resp.StatusCode, Body: readBounded(resp.Body)}
	}
	if out != nil {
		if decErr := json.NewDecoder(resp.Body).Decode(out); decErr != nil {
			return &errs.DataError{Msg: fmt.Sprintf("decoding response from %s: %v", url, decErr)}
		}
	}
	return nil
}

// enrichRemoteError attaches the (bounded) response body to remote
// error kinds so callers see what the marketplace actually said.
func (c *Client) enrichRemoteError(err error, resp *http.Response) error {
	if resp == nil {
		return err
	}
	var perm *errs.PermanentRemoteError
	if errors.As(err, &perm) {
		perm.Body = readBounded(resp.Body)
		return err
	}
	var transient *errs.TransientRemoteError
	if errors.As(err, &transient) {
		transient.Body = readBounded(resp.Body)
		return err
	}
	return err
}

func readBounded(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	return string(b)
}

// GetCompetitors fetches the raw competitor price observations for a
// listing in one country market, before outlier filtering.
func (c *Client) GetCompetitors(ctx context.Context, listingID, countryCode string, priority domain.Priority) ([]domain.CompetitorPricePoint, error) {
	var points []domain.CompetitorPricePoint
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/backbox/v1/competitors/%s?country=%s", c.baseURL, listingID, countryCode),
		Method:   http.MethodGet,
		Priority: priority,
		Cost:     1,
	}
	if err := c.do(ctx, req, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// GetListing fetches one listing by ID.
func (c *Client) GetListing(ctx context.Context, listingID string, priority domain.Priority) (*domain.Listing, error) {
	var listing domain.Listing
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/listings/%s", c.baseURL, listingID),
		Method:   http.MethodGet,
		Priority: priority,
		Cost:     1,
	}
	if err := c.do(ctx, req, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// ListingsPage is one page of the paginated listings feed.
type ListingsPage struct {
	Results []domain.Listing `json:"results"`
	Next    string           `json:"next,omitempty"`
}

// GetListingsPage fetches one page of the paginated listings feed for
// SyncDriver's catalog sync.
func (c *Client) GetListingsPage(ctx context.Context, page int, priority domain.Priority) (*ListingsPage, error) {
	var out ListingsPage
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/listings?page=%d&limit=%d", c.baseURL, page, pageSize),
		Method:   http.MethodGet,
		Priority: priority,
		Cost:     1,
	}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OrdersPage is one page of the paginated orders feed.
type OrdersPage struct {
	Results []domain.Order `json:"results"`
	Next    string         `json:"next,omitempty"`
}

// GetOrdersPage fetches one page of the paginated orders feed.
func (c *Client) GetOrdersPage(ctx context.Context, page int, priority domain.Priority) (*OrdersPage, error) {
	var out OrdersPage
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/buyback/v1/orders?page=%d&limit=%d", c.baseURL, page, pageSize),
		Method:   http.MethodGet,
		Priority: priority,
		Cost:     1,
	}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder fetches a single order by ID, used by the webhook handler
// to refresh one order without paging through the whole feed.
func (c *Client) GetOrder(ctx context.Context, orderID string, priority domain.Priority) (*domain.Order, error) {
	var order domain.Order
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/buyback/v1/orders/%s", c.baseURL, orderID),
		Method:   http.MethodGet,
		Priority: priority,
		Cost:     1,
	}
	if err := c.do(ctx, req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// OrderMessage is one entry in a buyback order's message thread.
type OrderMessage struct {
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// GetOrderMessages fetches a buyback order's message thread. The
// /messages path classifies to the CARE bucket.
func (c *Client) GetOrderMessages(ctx context.Context, orderID string, priority domain.Priority) ([]OrderMessage, error) {
	var messages []OrderMessage
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/buyback/v1/orders/%s/messages", c.baseURL, orderID),
		Method:   http.MethodGet,
		Priority: priority,
		Cost:     1,
	}
	if err := c.do(ctx, req, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// PostOrderMessage appends a message to a buyback order's thread.
func (c *Client) PostOrderMessage(ctx context.Context, orderID, text string, priority domain.Priority) error {
	body, err := json.Marshal(map[string]string{"body": text})
	if err != nil {
		return &errs.DataError{Msg: err.Error()}
	}
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/buyback/v1/orders/%s/messages", c.baseURL, orderID),
		Method:   http.MethodPost,
		Priority: priority,
		Body:     body,
		Cost:     1,
	}
	return c.do(ctx, req, nil)
}

// SuspendOrder suspends a buyback order.
func (c *Client) SuspendOrder(ctx context.Context, orderID string, priority domain.Priority) error {
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/buyback/v1/orders/%s/suspend", c.baseURL, orderID),
		Method:   http.MethodPut,
		Priority: priority,
		Cost:     1,
	}
	return c.do(ctx, req, nil)
}

// priceUpdateBody is the request body for UpdatePrice.
type priceUpdateBody struct {
	Price       decimal.Decimal `json:"price"`
	CountryCode string          `json:"country_code,omitempty"`
}

// UpdatePrice pushes a new price for one (listing, country) pair. When
// res is non-nil the call is a reserved dispatch (the probe protocol's
// Peak phase); otherwise it is a normal spend of cost tokens. Each
// dispatch carries a freshly minted idempotency key so a retried
// request after a dropped response never double-applies the update.
func (c *Client) UpdatePrice(ctx context.Context, listingID, countryCode string, price decimal.Decimal, priority domain.Priority, res *ratelimit.DualReservation) error {
	body, err := json.Marshal(priceUpdateBody{Price: price, CountryCode: countryCode})
	if err != nil {
		return &errs.DataError{Msg: err.Error()}
	}

	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/listings/%s", c.baseURL, listingID),
		Method:   http.MethodPost,
		Priority: priority,
		Body:     body,
		Headers:  http.Header{"Idempotency-Key": []string{uuid.NewString()}},
	}
	if res != nil {
		req.SpendReservation = res
	} else {
		req.Cost = 1
	}
	return c.do(ctx, req, nil)
}

// UpdatePriceDip performs the probe protocol's Dip call: it spends one
// token for the dip itself and reserves one more for the later Peak,
// returning the reservation handle. Like UpdatePrice, it carries its
// own idempotency key.
func (c *Client) UpdatePriceDip(ctx context.Context, listingID, countryCode string, price decimal.Decimal) (*ratelimit.DualReservation, error) {
	body, err := json.Marshal(priceUpdateBody{Price: price, CountryCode: countryCode})
	if err != nil {
		return nil, &errs.DataError{Msg: err.Error()}
	}

	req := ratelimit.Request{
		URL:          fmt.Sprintf("%s/listings/%s", c.baseURL, listingID),
		Method:       http.MethodPost,
		Priority:     domain.PriorityNormal,
		Body:         body,
		Cost:         1,
		ReserveAfter: 1,
		Headers:      http.Header{"Idempotency-Key": []string{uuid.NewString()}},
	}
	return c.doReserving(ctx, req)
}

// bulkUploadResponse is what the bulk catalog upload endpoint returns:
// an async task handle to poll.
type bulkUploadResponse struct {
	TaskID string `json:"task_id"`
}

// BulkUploadCatalog submits a bulk catalog batch (a CSV body wrapped in
// the `{catalog, delimiter, encoding}` envelope) and returns the task
// ID to poll via PollTask.
func (c *Client) BulkUploadCatalog(ctx context.Context, payload []byte, priority domain.Priority) (string, error) {
	var out bulkUploadResponse
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/listings", c.baseURL),
		Method:   http.MethodPost,
		Priority: priority,
		Body:     payload,
		Cost:     1,
	}
	if err := c.do(ctx, req, &out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

// Task status codes the bulk catalog upload endpoint reports while
// polling; the marketplace API uses these exact integers.
const (
	TaskStatusDone   = 9
	TaskStatusFailed = 8
)

// TaskState is one poll result for an async bulk upload task.
type TaskState struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

// PollTask checks the status of a bulk catalog upload task.
func (c *Client) PollTask(ctx context.Context, taskID string, priority domain.Priority) (*TaskState, error) {
	var state TaskState
	req := ratelimit.Request{
		URL:      fmt.Sprintf("%s/tasks/%s", c.baseURL, taskID),
		Method:   http.MethodGet,
		Priority: priority,
		Cost:     1,
	}
	if err := c.do(ctx, req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// RecomputeBuybackPrices triggers the buyback-side repricing task body:
// it sends the same request as BulkUploadCatalog, with no tag or other
// marker that sets it apart from a plain bulk upload.
func (c *Client) RecomputeBuybackPrices(ctx context.Context, payload []byte, priority domain.Priority) (string, error) {
	return c.BulkUploadCatalog(ctx, payload, priority)
}
