package correlation

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterResolve(t *testing.T) {
	e := New(DefaultConfig(), nil)
	var got interface{}
	err := e.Register("r1", time.Second, func(r interface{}) { got = r }, func(error) {})
	require.NoError(t, err)
	require.NoError(t, e.Resolve("r1", "ok"))
	assert.Equal(t, "ok", got)
	assert.False(t, e.IsPending("r1"))
}

func TestResolveUnknownID(t *testing.T) {
	e := New(DefaultConfig(), nil)
	assert.ErrorIs(t, e.Resolve("missing", nil), ErrUnknownID)
}

func TestAtMostOnceSettlement(t *testing.T) {
	e := New(DefaultConfig(), nil)
	var resolveCount, rejectCount int32
	require.NoError(t, e.Register("r1", time.Second,
		func(interface{}) { atomic.AddInt32(&resolveCount, 1) },
		func(error) { atomic.AddInt32(&rejectCount, 1) }))

	var wg sync.WaitGroup
	successes := int32(0)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if e.Resolve("r1", nil) == nil {
				atomic.AddInt32(&successes, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), successes)
	assert.Equal(t, int32(1), atomic.LoadInt32(&resolveCount))
}

func TestRegisterFullCapacity(t *testing.T) {
	e := New(Config{Capacity: 1, CleanupInterval: time.Hour}, nil)
	require.NoError(t, e.Register("a", time.Second, func(interface{}) {}, func(error) {}))
	err := e.Register("b", time.Second, func(interface{}) {}, func(error) {})
	assert.ErrorIs(t, err, ErrFull)
}

func TestCleanupSweepRejectsExpired(t *testing.T) {
	e := New(Config{Capacity: 10, CleanupInterval: 20 * time.Millisecond}, nil)
	e.Start()
	defer e.Stop()

	var rejectedWith error
	done := make(chan struct{})
	require.NoError(t, e.Register("timeout-me", 10*time.Millisecond, func(interface{}) {}, func(err error) {
		rejectedWith = err
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("cleanup sweep did not reject expired entry in time")
	}
	assert.ErrorIs(t, rejectedWith, ErrTimeout)

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.TotalTimeout)
}

func TestCancelAndCancelAll(t *testing.T) {
	e := New(DefaultConfig(), nil)
	var got error
	require.NoError(t, e.Register("r1", time.Second, func(interface{}) {}, func(err error) { got = err }))
	require.NoError(t, e.Cancel("r1"))
	assert.ErrorIs(t, got, ErrCancelled)

	require.NoError(t, e.Register("r2", time.Second, func(interface{}) {}, func(error) {}))
	require.NoError(t, e.Register("r3", time.Second, func(interface{}) {}, func(error) {}))
	assert.Equal(t, 2, e.CancelAll())
}

func TestStopIsIdempotentAndRejectsPending(t *testing.T) {
	e := New(DefaultConfig(), nil)
	var got error
	require.NoError(t, e.Register("r1", time.Second, func(interface{}) {}, func(err error) { got = err }))
	e.Stop()
	e.Stop()
	assert.ErrorIs(t, got, ErrCancelled)

	err := e.Register("r2", time.Second, func(interface{}) {}, func(error) {})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestBilateralTimeoutsRegisterAndCancelBoth(t *testing.T) {
	e := New(DefaultConfig(), nil)
	bt := NewBilateralTimeouts(e)

	require.NoError(t, bt.Register("req-1", time.Second, time.Second, func(error) {}, func(error) {}))
	assert.True(t, e.IsPending("req-1-request"))
	assert.True(t, e.IsPending("req-1-response"))

	bt.CancelBoth("req-1")
	assert.False(t, e.IsPending("req-1-request"))
	assert.False(t, e.IsPending("req-1-response"))
}

func TestBilateralExtendPreservesOriginalRegistration(t *testing.T) {
	e := New(DefaultConfig(), nil)
	bt := NewBilateralTimeouts(e)
	require.NoError(t, bt.Register("req-2", time.Second, 50*time.Millisecond, func(error) {}, func(error) {}))

	require.NoError(t, bt.ExtendResponse("req-2", 200*time.Millisecond, func(error) {}))

	e.mu.Lock()
	pr := e.registry["req-2-response"]
	e.mu.Unlock()
	require.NotNil(t, pr)
	assert.Equal(t, 250*time.Millisecond, pr.timeout)
}

func TestStatsSnapshotIsReadable(t *testing.T) {
	e := New(DefaultConfig(), nil)
	require.NoError(t, e.Register("r1", time.Second, func(interface{}) {}, func(error) {}))
	require.NoError(t, e.Resolve("r1", nil))
	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.TotalRegistered)
	assert.Equal(t, uint64(1), stats.TotalResolved)
	assert.Equal(t, 0, stats.CurrentPending)
}
