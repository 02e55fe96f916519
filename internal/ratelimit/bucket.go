package ratelimit

import (
	"sync"
	"time"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
)

// Reservation is a first-class handle for tokens pre-allocated by
// Reserve and later consumed by SpendReserved or returned by
// ReleaseReservation. Handles (rather than bare integers) are used
// across the async boundary between a probe's Dip and its Peak so the
// bucket never has to trust a caller-supplied count (spec Design
// Notes §9).
type Reservation struct {
	id     uint64
	amount int
}

// Amount returns the number of tokens this reservation holds.
func (r Reservation) Amount() int { return r.amount }

// TokenBucket is a renewable budget of integer tokens, refilled to
// full once per interval (an interval-window bucket, not a leaky
// bucket). All operations are serialised by an internal mutex (spec
// §4.1).
type TokenBucket struct {
	mu sync.Mutex

	clock clock.Clock

	capacity   int
	intervalMS int64

	spent    int // consumed from the unreserved pool
	reserved int // pre-allocated, invisible to available()

	// outstanding maps reservation handle IDs to their amounts, so
	// spending or releasing a handle twice is a no-op instead of
	// corrupting another flow's reservation.
	outstanding map[uint64]int

	lastRefill time.Time
	nextResID  uint64
}

// NewTokenBucket constructs a bucket with the given spec, with its
// refill clock starting now.
func NewTokenBucket(spec domain.BucketSpec, clk clock.Clock) *TokenBucket {
	return &TokenBucket{
		clock:       clk,
		capacity:    spec.MaxRequests,
		intervalMS:  spec.IntervalMS,
		outstanding: make(map[uint64]int),
		lastRefill:  clk.Now(),
	}
}

// refillLocked advances lastRefill by as many whole intervals as have
// elapsed and, if at least one elapsed, resets the unreserved pool to
// capacity-reserved. Must be called with mu held.
func (b *TokenBucket) refillLocked() {
	if b.intervalMS <= 0 {
		return
	}
	now := b.clock.Now()
	elapsed := now.Sub(b.lastRefill)
	interval := time.Duration(b.intervalMS) * time.Millisecond
	if elapsed < interval {
		return
	}
	periods := elapsed / interval
	b.lastRefill = b.lastRefill.Add(periods * interval)
	b.spent = 0
}

func (b *TokenBucket) availableLocked() int {
	b.refillLocked()
	avail := b.capacity - b.spent - b.reserved
	if avail < 0 {
		return 0
	}
	return avail
}

// Available returns capacity - spent - reserved after applying any
// pending refill.
func (b *TokenBucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked()
}

// CanSpend reports whether n unreserved tokens are currently available.
func (b *TokenBucket) CanSpend(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked() >= n
}

// Spend atomically decrements the unreserved pool by n. Fails if
// available() < n.
func (b *TokenBucket) Spend(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.availableLocked() < n {
		return false
	}
	b.spent += n
	return true
}

// Reserve moves n tokens from the unreserved pool into the reserved
// pool and returns a handle for later consumption. Fails if
// available() < n.
func (b *TokenBucket) Reserve(n int) (Reservation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.availableLocked() < n {
		return Reservation{}, false
	}
	b.reserved += n
	b.nextResID++
	b.outstanding[b.nextResID] = n
	return Reservation{id: b.nextResID, amount: n}, true
}

// SpendReserved consumes the tokens held by a reservation handle: they
// move from the reserved pool to the spent pool and stay unavailable
// until the next refill. Returns false for a handle this bucket never
// issued, or one already spent or released.
func (b *TokenBucket) SpendReserved(r Reservation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	amount, ok := b.outstanding[r.id]
	if !ok {
		return false
	}
	delete(b.outstanding, r.id)
	b.reserved -= amount
	b.spent += amount
	return true
}

// ReleaseReservation returns a reservation's tokens to the unreserved
// pool without spending them, e.g. when a multi-step flow aborts
// before reaching its reserved step. A handle already spent or
// released is a no-op.
func (b *TokenBucket) ReleaseReservation(r Reservation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	amount, ok := b.outstanding[r.id]
	if !ok {
		return
	}
	delete(b.outstanding, r.id)
	b.reserved -= amount
}

// Reconfigure atomically changes the bucket's shape. In-flight
// reservations survive; the next refill uses the new capacity.
func (b *TokenBucket) Reconfigure(spec domain.BucketSpec) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = spec.MaxRequests
	b.intervalMS = spec.IntervalMS
}

// Snapshot returns the current (available, spent, reserved, capacity)
// tuple for diagnostics and tests.
func (b *TokenBucket) Snapshot() (available, spent, reserved, capacity int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.availableLocked(), b.spent, b.reserved, b.capacity
}
