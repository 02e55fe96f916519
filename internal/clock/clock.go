// Package clock provides an injectable time source so the traffic and
// pricing packages can be driven deterministically in tests.
package clock

import "time"

// Clock abstracts time.Now and time.Sleep so bucket refills, staleness
// filters, and backoff delays can be tested without real waits.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// Real is the production Clock backed by the time package.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) Sleep(d time.Duration)                  { time.Sleep(d) }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

var _ Clock = Real{}
