package sweep_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/jobstore/job"
	"github.com/xraph/jobstore/store/memory"
	"github.com/xraph/jobstore/sweep"
)

// stubReclaimer counts passes and returns canned results.
type stubReclaimer struct {
	expiredCalls atomic.Int64
	stalledCalls atomic.Int64
	expired      int64
	stalled      int64
	expiredErr   error
	stalledErr   error
}

func (r *stubReclaimer) ReclaimExpired(_ context.Context) (int64, error) {
	r.expiredCalls.Add(1)
	return r.expired, r.expiredErr
}

func (r *stubReclaimer) ReclaimStalled(_ context.Context) (int64, error) {
	r.stalledCalls.Add(1)
	return r.stalled, r.stalledErr
}

func TestSweepRunsBothPasses(t *testing.T) {
	r := &stubReclaimer{expired: 2, stalled: 3}
	res, err := sweep.New(r).Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, sweep.Result{Expired: 2, Stalled: 3}, res)
	assert.Equal(t, int64(5), res.Total())
}

func TestSweepFailureDoesNotSkipOtherPass(t *testing.T) {
	boom := errors.New("boom")
	r := &stubReclaimer{stalled: 1, expiredErr: boom}

	res, err := sweep.New(r).Sweep(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), r.stalledCalls.Load())
	assert.Equal(t, int64(1), res.Stalled)
}

func TestSweepJoinsErrors(t *testing.T) {
	e1, e2 := errors.New("expired down"), errors.New("stalled down")
	r := &stubReclaimer{expiredErr: e1, stalledErr: e2}

	_, err := sweep.New(r).Sweep(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, e1)
	assert.ErrorIs(t, err, e2)
	assert.Contains(t, err.Error(), "sweep: expired: expired down")
	assert.Contains(t, err.Error(), "sweep: stalled: stalled down")
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s := sweep.New(&stubReclaimer{}, sweep.WithSchedule("every now and then"))
	assert.Error(t, s.Start(context.Background()))
	assert.NoError(t, s.Stop(context.Background()))
}

func TestStartTwice(t *testing.T) {
	s := sweep.New(&stubReclaimer{}, sweep.WithSchedule("@every 1h"))
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	assert.ErrorIs(t, s.Start(context.Background()), sweep.ErrAlreadyRunning)
}

func TestScheduledSweep(t *testing.T) {
	r := &stubReclaimer{}
	s := sweep.New(r, sweep.WithSchedule("@every 1s"))
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool {
		return r.expiredCalls.Load() > 0 && r.stalledCalls.Load() > 0
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	calls := r.expiredCalls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, calls, r.expiredCalls.Load(), "no sweeps after Stop")
}

func TestSweepAgainstMemoryStore(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := memory.New(memory.WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, &job.Job{ID: "job_1", ExpireMs: 1000}))
	require.NoError(t, store.Add(ctx, &job.Job{ID: "job_2", StallMs: 1000}))
	_, err := store.Reserve(ctx, "w1")
	require.NoError(t, err)
	_, err = store.Reserve(ctx, "w2")
	require.NoError(t, err)

	clock = func() time.Time { return now.Add(5 * time.Second) }

	res, err := sweep.New(store).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweep.Result{Expired: 1, Stalled: 1}, res)

	ready, err := store.Get(ctx, job.Filter{job.FieldStatus: job.StatusReady})
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}
