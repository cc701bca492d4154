package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/percyio/percy-core/internal/percy"
)

func TestQueueRunsJobAndReturnsResult(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	h, err := q.Push(ctx, func(ctx context.Context) ([]percy.Resource, error) {
		return []percy.Resource{{URL: "https://example.com"}}, nil
	})
	require.NoError(t, err)

	res, err := h.Wait(ctx)
	require.NoError(t, err)
	require.Len(t, res, 1)
}

func TestQueueBoundsConcurrency(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	var active int32
	var maxActive int32
	release := make(chan struct{})

	job := func(ctx context.Context) ([]percy.Resource, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			cur := atomic.LoadInt32(&maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&active, -1)
		return nil, nil
	}

	handles := make([]*Handle, 0, 5)
	for i := 0; i < 5; i++ {
		h, err := q.Push(ctx, job)
		require.NoError(t, err)
		handles = append(handles, h)
	}

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxActive), int32(2))

	close(release)
	for _, h := range handles {
		_, err := h.Wait(ctx)
		require.NoError(t, err)
	}
}

func TestQueueIdleResolvesWhenEmpty(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	require.NoError(t, q.Idle(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := q.Push(ctx, func(ctx context.Context) ([]percy.Resource, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	idleCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = q.Idle(idleCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, q.Idle(ctx))
}

func TestQueueStopRejectsNewPushes(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	require.NoError(t, q.Stop(ctx, true))

	_, err := q.Push(ctx, func(ctx context.Context) ([]percy.Resource, error) { return nil, nil })
	require.ErrorIs(t, err, percy.ErrNotRunning)
}

func TestQueueStopWithoutDrainCancelsQueuedJobs(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := q.Push(ctx, func(ctx context.Context) ([]percy.Resource, error) {
		close(started)
		<-release
		return nil, nil
	})
	require.NoError(t, err)
	<-started

	queuedHandle, err := q.Push(ctx, func(ctx context.Context) ([]percy.Resource, error) {
		return nil, nil
	})
	require.NoError(t, err)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	go q.Stop(stopCtx, false)

	_, err = queuedHandle.Wait(ctx)
	require.Error(t, err)

	close(release)
}
