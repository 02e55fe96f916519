// Package ratelimit implements the Traffic Controller core: a
// multi-bucket, priority-aware, cost-reserving token-bucket scheduler
// that serialises every outbound request to the marketplace API.
package ratelimit

import (
	"bytes"
	"context"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
	"github.com/aristath/backmarket-repricer/internal/errs"
	"github.com/aristath/backmarket-repricer/pkg/logger"
)

const (
	defaultBackoff  = 100 * time.Millisecond
	defaultDeadline = 30 * time.Second
	maxRetries      = 3
)

// DualReservation pairs the global-bucket and class-bucket handles a
// multi-step flow (the probe protocol) reserved on a prior call and
// will consume on a later cost=0 call.
type DualReservation struct {
	Global Reservation
	Class  Reservation

	class domain.BucketClass
}

// Request describes one outbound call to schedule.
type Request struct {
	URL     string
	Method  string
	Headers http.Header
	Body    []byte

	Priority domain.Priority
	// Cost is the number of tokens this call spends from both the
	// global and class buckets on dispatch.
	Cost int
	// ReserveAfter, if > 0, additionally reserves this many tokens on
	// both buckets at dispatch time; the resulting handle is available
	// from the returned Future once it resolves the dispatch step (see
	// Future.Reservation). Mutually exclusive with SpendReservation.
	ReserveAfter int
	// SpendReservation, if set, makes this call a reserved dispatch:
	// Cost is ignored, no token-availability gating is applied, and the
	// dispatcher instead calls SpendReserved on both buckets using the
	// supplied handles.
	SpendReservation *DualReservation

	// Deadline overrides the default 30s enqueue-to-response budget.
	Deadline time.Duration
}

// Future is the handle returned by Schedule; it resolves with the
// eventual HTTP response or an error.
type Future struct {
	done        chan struct{}
	resp        *http.Response
	err         error
	reservation *DualReservation
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(resp *http.Response, err error) {
	f.resp = resp
	f.err = err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, &errs.CancelledError{Reason: ctx.Err().Error()}
	}
}

// Reservation returns the handle produced by a ReserveAfter request,
// valid only once the Future has resolved the dispatch step.
func (f *Future) Reservation() *DualReservation {
	return f.reservation
}

type pendingRequest struct {
	req        Request
	class      domain.BucketClass
	enqueuedAt time.Time
	deadline   time.Time
	retries    int
	future     *Future
	ctx        context.Context
}

// Config configures a Controller.
type Config struct {
	HTTPClient *http.Client
	Clock      clock.Clock
	RateLimits domain.RateLimitConfig
	// LogSink receives one entry per dispatch attempt. It is a plain
	// function, not an interface, so the controller stays purely
	// downstream of anything that wants to log — it never imports
	// caller packages.
	LogSink         func(domain.DispatchLogEntry)
	Backoff         time.Duration
	DefaultDeadline time.Duration
	Log             zerolog.Logger
}

// Controller is the Traffic Controller. It owns one
// TokenBucket and one PriorityQueue per bucket class and dispatches
// requests only when both the GLOBAL and class buckets have budget.
type Controller struct {
	mu         sync.Mutex
	buckets    map[domain.BucketClass]*TokenBucket
	queues     map[domain.BucketClass]*PriorityQueue[*pendingRequest]
	processing map[domain.BucketClass]bool
	closed     bool

	httpClient      *http.Client
	clock           clock.Clock
	logSink         func(domain.DispatchLogEntry)
	backoff         time.Duration
	defaultDeadline time.Duration
	log             zerolog.Logger

	wg sync.WaitGroup
}

// New constructs a Controller with one bucket/queue pair per class.
func New(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultDeadline}
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.DefaultDeadline <= 0 {
		cfg.DefaultDeadline = defaultDeadline
	}
	if cfg.LogSink == nil {
		cfg.LogSink = func(domain.DispatchLogEntry) {}
	}

	c := &Controller{
		buckets:         make(map[domain.BucketClass]*TokenBucket, 4),
		queues:          make(map[domain.BucketClass]*PriorityQueue[*pendingRequest], 4),
		processing:      make(map[domain.BucketClass]bool, 4),
		httpClient:      cfg.HTTPClient,
		clock:           cfg.Clock,
		logSink:         cfg.LogSink,
		backoff:         cfg.Backoff,
		defaultDeadline: cfg.DefaultDeadline,
		log:             logger.Component(cfg.Log, "traffic_controller"),
	}

	for _, class := range []domain.BucketClass{domain.BucketGlobal, domain.BucketCatalog, domain.BucketCompetitor, domain.BucketCare} {
		c.buckets[class] = NewTokenBucket(cfg.RateLimits.SpecFor(class), cfg.Clock)
		c.queues[class] = NewPriorityQueue[*pendingRequest]()
	}

	return c
}

// UpdateConfig atomically reconfigures every bucket.
func (c *Controller) UpdateConfig(cfg domain.RateLimitConfig) {
	for _, class := range []domain.BucketClass{domain.BucketGlobal, domain.BucketCatalog, domain.BucketCompetitor, domain.BucketCare} {
		c.buckets[class].Reconfigure(cfg.SpecFor(class))
	}
}

// Bucket exposes the named class's bucket for diagnostics/admin APIs.
func (c *Controller) Bucket(class domain.BucketClass) *TokenBucket {
	return c.buckets[class]
}

// Release returns a dual reservation's un-spent tokens to their
// buckets, for multi-step flows that abort before their reserved step.
func (c *Controller) Release(res *DualReservation) {
	if res == nil {
		return
	}
	global := c.buckets[domain.BucketGlobal]
	global.ReleaseReservation(res.Global)
	if classBucket := c.buckets[res.class]; classBucket != global {
		classBucket.ReleaseReservation(res.Class)
	}
}

// Schedule enqueues a request and ensures its class dispatcher loop is
// running. It returns immediately with a Future.
func (c *Controller) Schedule(ctx context.Context, req Request) (*Future, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &errs.CancelledError{Reason: "traffic controller shut down"}
	}
	c.mu.Unlock()

	class := ClassifyURL(req.URL)
	deadline := req.Deadline
	if deadline <= 0 {
		deadline = c.defaultDeadline
	}

	future := newFuture()
	item := &pendingRequest{
		req:        req,
		class:      class,
		enqueuedAt: c.clock.Now(),
		deadline:   c.clock.Now().Add(deadline),
		future:     future,
		ctx:        ctx,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, &errs.CancelledError{Reason: "traffic controller shut down"}
	}
	c.queues[class].Enqueue(item, req.Priority)
	c.ensureDispatcherLocked(class)
	c.mu.Unlock()

	return future, nil
}

// ensureDispatcherLocked starts the class's single dispatcher loop if
// it is not already running. Must be called with c.mu held.
func (c *Controller) ensureDispatcherLocked(class domain.BucketClass) {
	if c.processing[class] {
		return
	}
	c.processing[class] = true
	c.wg.Add(1)
	go c.runDispatcher(class)
}

// runDispatcher is the single per-class dispatch loop. It peeks the
// head item, waits for both global and class budget, then
// dequeues, spends, and dispatches asynchronously so in-flight HTTP
// calls never block the loop.
func (c *Controller) runDispatcher(class domain.BucketClass) {
	defer c.wg.Done()
	queue := c.queues[class]
	global := c.buckets[domain.BucketGlobal]
	classBucket := c.buckets[class]

	for {
		c.mu.Lock()
		if c.closed {
			c.processing[class] = false
			c.mu.Unlock()
			c.rejectAll(queue)
			return
		}
		if queue.Len() == 0 {
			c.processing[class] = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		item, ok := queue.Peek()
		if !ok {
			continue
		}

		if now := c.clock.Now(); now.After(item.deadline) {
			if dequeued, ok := queue.Dequeue(); ok {
				dequeued.future.resolve(nil, &errs.CancelledError{Reason: "deadline exceeded while queued"})
			}
			continue
		}
		if item.ctx.Err() != nil {
			if dequeued, ok := queue.Dequeue(); ok {
				dequeued.future.resolve(nil, &errs.CancelledError{Reason: item.ctx.Err().Error()})
			}
			continue
		}

		// For GLOBAL-class requests the class bucket IS the global
		// bucket; charging it twice would halve its effective capacity.
		sameBucket := classBucket == global

		reserved := item.req.SpendReservation != nil
		cost := item.req.Cost
		if !reserved {
			if !global.CanSpend(cost) || (!sameBucket && !classBucket.CanSpend(cost)) {
				c.clock.Sleep(c.backoff)
				continue
			}
		}

		dequeued, ok := queue.Dequeue()
		if !ok {
			continue
		}

		if reserved {
			global.SpendReserved(dequeued.req.SpendReservation.Global)
			if !sameBucket {
				classBucket.SpendReserved(dequeued.req.SpendReservation.Class)
			}
		} else {
			global.Spend(cost)
			if !sameBucket {
				classBucket.Spend(cost)
			}
			if dequeued.req.ReserveAfter > 0 {
				g, _ := global.Reserve(dequeued.req.ReserveAfter)
				res := &DualReservation{Global: g, class: class}
				if !sameBucket {
					res.Class, _ = classBucket.Reserve(dequeued.req.ReserveAfter)
				}
				dequeued.future.reservation = res
			}
		}

		c.wg.Add(1)
		go c.dispatchHTTP(dequeued, queue)
	}
}

// dispatchHTTP performs the HTTP call for one dequeued item and
// resolves (or, on 429 with retries remaining, requeues) it.
func (c *Controller) dispatchHTTP(item *pendingRequest, queue *PriorityQueue[*pendingRequest]) {
	defer c.wg.Done()

	start := c.clock.Now()
	httpReq, err := http.NewRequestWithContext(item.ctx, item.req.Method, item.req.URL, bytes.NewReader(item.req.Body))
	if err != nil {
		c.emitLog(item, domain.OutcomeError, 0, start)
		item.future.resolve(nil, &errs.NetworkError{Cause: err})
		return
	}
	for k, vs := range item.req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.emitLog(item, domain.OutcomeError, 0, start)
		item.future.resolve(nil, &errs.NetworkError{Cause: err})
		return
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.emitLog(item, domain.Outcome429Hit, resp.StatusCode, start)
		drainAndClose(resp)

		item.retries++
		if item.retries <= maxRetries {
			delay := time.Duration(1000*math.Pow(2, float64(item.retries))) * time.Millisecond
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				c.clock.Sleep(delay)
				c.mu.Lock()
				closed := c.closed
				if !closed {
					queue.Enqueue(item, item.req.Priority)
					c.ensureDispatcherLocked(item.class)
				}
				c.mu.Unlock()
				if closed {
					item.future.resolve(nil, &errs.CancelledError{Reason: "traffic controller shut down"})
				}
			}()
			return
		}
		item.future.resolve(resp, nil)
		return
	}

	if resp.StatusCode >= 500 {
		c.emitLog(item, domain.OutcomeError, resp.StatusCode, start)
		item.future.resolve(resp, &errs.TransientRemoteError{StatusCode: resp.StatusCode})
		return
	}
	if resp.StatusCode >= 400 {
		c.emitLog(item, domain.OutcomeError, resp.StatusCode, start)
		item.future.resolve(resp, &errs.PermanentRemoteError{StatusCode: resp.StatusCode})
		return
	}

	c.emitLog(item, domain.OutcomeExecuted, resp.StatusCode, start)
	item.future.resolve(resp, nil)
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (c *Controller) emitLog(item *pendingRequest, outcome domain.DispatchOutcome, status int, start time.Time) {
	c.logSink(domain.DispatchLogEntry{
		URL:            item.req.URL,
		Priority:       item.req.Priority,
		Outcome:        outcome,
		ResponseStatus: status,
		DurationMS:     c.clock.Now().Sub(start).Milliseconds(),
		Timestamp:      c.clock.Now(),
	})
}

func (c *Controller) rejectAll(queue *PriorityQueue[*pendingRequest]) {
	for _, item := range queue.DrainAll() {
		item.future.resolve(nil, &errs.CancelledError{Reason: "traffic controller shut down"})
	}
}

// Shutdown stops accepting new schedules, drains every queue rejecting
// queued requests with CancelledError, and waits (up to timeout) for
// in-flight dispatches to finish.
func (c *Controller) Shutdown(timeout time.Duration) {
	c.mu.Lock()
	c.closed = true
	for _, q := range c.queues {
		c.rejectAll(q)
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		c.log.Warn().Msg("shutdown timed out waiting for in-flight requests")
	}
}
