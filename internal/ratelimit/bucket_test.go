package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backmarket-repricer/internal/clock"
	"github.com/aristath/backmarket-repricer/internal/domain"
)

func newTestBucket(t *testing.T, fk *clock.Fake, max int, intervalMS int64) *TokenBucket {
	t.Helper()
	return NewTokenBucket(domain.BucketSpec{MaxRequests: max, IntervalMS: intervalMS}, fk)
}

func TestTokenBucket_SpendWithinCapacity(t *testing.T) {
	fk := clock.NewFake(time.Unix(0, 0))
	b := newTestBucket(t, fk, 2, 1000)

	assert.True(t, b.Spend(1))
	assert.True(t, b.Spend(1))
	assert.False(t, b.Spend(1), "third spend should exceed capacity")

	avail, spent, reserved, capacity := b.Snapshot()
	assert.Equal(t, 0, avail)
	assert.Equal(t, 2, spent)
	assert.Equal(t, 0, reserved)
	assert.Equal(t, 2, capacity)
}

func TestTokenBucket_RefillExactlyAtIntervalBoundary(t *testing.T) {
	fk := clock.NewFake(time.Unix(0, 0))
	b := newTestBucket(t, fk, 1, 1000)

	require.True(t, b.Spend(1))
	require.False(t, b.CanSpend(1))

	fk.Advance(999 * time.Millisecond)
	assert.False(t, b.CanSpend(1), "bucket must not refill before a full interval elapses")

	fk.Advance(1 * time.Millisecond)
	assert.True(t, b.CanSpend(1), "bucket must refill exactly at the interval boundary")
}

func TestTokenBucket_RefillAdvancesByWholePeriods(t *testing.T) {
	fk := clock.NewFake(time.Unix(0, 0))
	b := newTestBucket(t, fk, 3, 1000)

	require.True(t, b.Spend(3))
	fk.Advance(3500 * time.Millisecond)

	avail, spent, _, _ := b.Snapshot()
	assert.Equal(t, 3, avail)
	assert.Equal(t, 0, spent)
}

func TestTokenBucket_ReserveThenSpendReserved(t *testing.T) {
	fk := clock.NewFake(time.Unix(0, 0))
	b := newTestBucket(t, fk, 2, 1000)

	res, ok := b.Reserve(1)
	require.True(t, ok)
	assert.Equal(t, 1, res.Amount())

	avail, _, reserved, _ := b.Snapshot()
	assert.Equal(t, 1, avail, "reserved tokens are invisible to Available")
	assert.Equal(t, 1, reserved)

	assert.True(t, b.Spend(1), "the one remaining unreserved token is still spendable")
	assert.False(t, b.Spend(1), "no unreserved tokens left")

	assert.True(t, b.SpendReserved(res))
	_, _, reservedAfter, _ := b.Snapshot()
	assert.Equal(t, 0, reservedAfter)
}

func TestTokenBucket_ReservedTokensDoNotReturnOnRefill(t *testing.T) {
	fk := clock.NewFake(time.Unix(0, 0))
	b := newTestBucket(t, fk, 2, 1000)

	res, ok := b.Reserve(1)
	require.True(t, ok)

	fk.Advance(2 * time.Second)

	avail, spent, reserved, _ := b.Snapshot()
	assert.Equal(t, 1, avail, "reservation survives refill")
	assert.Equal(t, 0, spent)
	assert.Equal(t, 1, reserved)

	assert.True(t, b.SpendReserved(res))
}

func TestTokenBucket_ReleaseReservationReturnsToPool(t *testing.T) {
	fk := clock.NewFake(time.Unix(0, 0))
	b := newTestBucket(t, fk, 1, 1000)

	res, ok := b.Reserve(1)
	require.True(t, ok)
	assert.False(t, b.Spend(1))

	b.ReleaseReservation(res)
	assert.True(t, b.Spend(1), "released tokens become spendable again")
}

func TestTokenBucket_ReserveFailsWhenInsufficientBudget(t *testing.T) {
	fk := clock.NewFake(time.Unix(0, 0))
	b := newTestBucket(t, fk, 1, 1000)

	require.True(t, b.Spend(1))
	_, ok := b.Reserve(1)
	assert.False(t, ok)
}

func TestTokenBucket_Reconfigure(t *testing.T) {
	fk := clock.NewFake(time.Unix(0, 0))
	b := newTestBucket(t, fk, 1, 1000)

	require.True(t, b.Spend(1))
	b.Reconfigure(domain.BucketSpec{MaxRequests: 5, IntervalMS: 1000})

	fk.Advance(1 * time.Second)
	avail, _, _, capacity := b.Snapshot()
	assert.Equal(t, 5, capacity)
	assert.Equal(t, 5, avail)
}
