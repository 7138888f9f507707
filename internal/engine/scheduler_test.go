package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingUnit struct {
	counter *atomic.Int32
	delay   time.Duration
}

func (c countingUnit) run(ctx context.Context) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.counter.Add(1)
}

func TestSchedulerRunsAllSubmittedUnits(t *testing.T) {
	s := NewScheduler(2)
	defer s.Shutdown()

	var counter atomic.Int32
	for i := 0; i < 20; i++ {
		s.Submit(countingUnit{counter: &counter})
	}
	require.True(t, s.Wait(5*time.Second))
	assert.Equal(t, int32(20), counter.Load())
}

func TestSchedulerSetRoadsRefusesWhenBusy(t *testing.T) {
	s := NewScheduler(1)
	defer s.Shutdown()

	var counter atomic.Int32
	s.Submit(countingUnit{counter: &counter, delay: 50 * time.Millisecond})
	s.Submit(countingUnit{counter: &counter, delay: 50 * time.Millisecond})

	err := s.SetRoads(3)
	assert.ErrorIs(t, err, ErrSchedulerBusy)

	require.True(t, s.Wait(5*time.Second))
}

func TestSchedulerSetRoadsGrowsAndShrinks(t *testing.T) {
	s := NewScheduler(2)
	defer s.Shutdown()

	require.NoError(t, s.SetRoads(4))
	assert.Equal(t, 4, s.Roads())

	require.NoError(t, s.SetRoads(1))
	assert.Equal(t, 1, s.Roads())

	var counter atomic.Int32
	for i := 0; i < 5; i++ {
		s.Submit(countingUnit{counter: &counter})
	}
	require.True(t, s.Wait(5*time.Second))
	assert.Equal(t, int32(5), counter.Load())
}

func TestSchedulerCancelPropagatesToUnits(t *testing.T) {
	s := NewScheduler(1)
	defer s.Shutdown()

	started := make(chan struct{})
	canceled := make(chan struct{})
	s.Submit(runnableFunc(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	}))

	<-started
	s.Cancel()
	select {
	case <-canceled:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler cancel did not propagate to the running unit's context")
	}
}

type runnableFunc func(ctx context.Context)

func (f runnableFunc) run(ctx context.Context) { f(ctx) }

func TestFifoQueueOrdersFIFO(t *testing.T) {
	q := newFIFOQueue()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		q.push(runnableFunc(func(ctx context.Context) { order = append(order, i) }))
	}
	for i := 0; i < 5; i++ {
		r, ok := q.pop(context.Background())
		require.True(t, ok)
		r.run(context.Background())
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestFifoQueuePopUnblocksOnContextCancel(t *testing.T) {
	q := newFIFOQueue()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop(ctx)
		done <- ok
	}()

	cancel()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not unblock after context cancellation")
	}
}

func TestFifoQueueCloseUnblocksPop(t *testing.T) {
	q := newFIFOQueue()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.pop(context.Background())
		done <- ok
	}()
	q.close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("pop did not unblock after queue close")
	}
}
