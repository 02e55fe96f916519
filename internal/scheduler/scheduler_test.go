package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backmarket-repricer/internal/clock"
)

// newTestScheduler uses a Fake clock so AddStandingTask's jittered
// startup goroutine blocks on Sleep forever (Advance is never called),
// which keeps Trigger-driven run counts in these tests deterministic.
func newTestScheduler() *Scheduler {
	return New(clock.NewFake(time.Now()), nil, zerolog.Nop())
}

type fakeJob struct {
	name  string
	runs  int32
	block chan struct{}
	err   error
}

func (f *fakeJob) Name() string { return f.name }

func (f *fakeJob) Run() error {
	atomic.AddInt32(&f.runs, 1)
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func TestScheduler_TriggerRunsRegisteredTask(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "sync_orders"}
	require.NoError(t, s.AddStandingTask(job, time.Hour))

	ran, err := s.Trigger("sync_orders")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(1), atomic.LoadInt32(&job.runs))
}

func TestScheduler_TriggerUnknownTaskErrors(t *testing.T) {
	s := newTestScheduler()
	_, err := s.Trigger("does_not_exist")
	assert.Error(t, err)
}

func TestScheduler_SingleFlightDropsOverlappingTrigger(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "reprice_fleet", block: make(chan struct{})}
	require.NoError(t, s.AddStandingTask(job, time.Hour))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Trigger("reprice_fleet")
	}()

	// give the first trigger time to mark the task running
	time.Sleep(20 * time.Millisecond)

	ran, err := s.Trigger("reprice_fleet")
	require.NoError(t, err)
	assert.False(t, ran, "an overlapping trigger must be dropped, not queued")

	close(job.block)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&job.runs), "the dropped trigger must never have called Run")
}

func TestScheduler_TriggerAllSkipsRunningTasks(t *testing.T) {
	s := newTestScheduler()
	busy := &fakeJob{name: "busy", block: make(chan struct{})}
	idle := &fakeJob{name: "idle"}
	require.NoError(t, s.AddStandingTask(busy, time.Hour))
	require.NoError(t, s.AddStandingTask(idle, time.Hour))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Trigger("busy")
	}()
	time.Sleep(20 * time.Millisecond)

	s.TriggerAll()

	close(busy.block)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&busy.runs), "the busy task must not have been re-triggered")
	assert.Equal(t, int32(1), atomic.LoadInt32(&idle.runs))
}

func TestScheduler_StatusReflectsLastRunAndError(t *testing.T) {
	s := newTestScheduler()
	job := &fakeJob{name: "recompute_buyback", err: assertError("boom")}
	require.NoError(t, s.AddStandingTask(job, time.Hour))

	s.Trigger("recompute_buyback")

	statuses := s.Status()
	require.Len(t, statuses, 1)
	assert.Equal(t, "recompute_buyback", statuses[0].Name)
	assert.Equal(t, "boom", statuses[0].LastError)
	assert.NotNil(t, statuses[0].LastRun)
	assert.False(t, statuses[0].IsRunning)
}

type assertError string

func (e assertError) Error() string { return string(e) }
