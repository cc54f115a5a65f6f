package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := New(3, 10)

	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(func(context.Context) { n.Add(1) }))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(10), n.Load())
}

func TestPool_SubmitNeverBlocksWhenFull(t *testing.T) {
	p := New(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.Submit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.Submit(func(context.Context) {}))

	done := make(chan error, 1)
	go func() { done <- p.Submit(func(context.Context) {}) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
	assert.Equal(t, 1, p.Queued())

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	p := New(1, 1)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, p.Submit(func(context.Context) {}), ErrPoolClosed)
	// Shutdown is idempotent.
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	p := New(1, 5)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func(context.Context) {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPool_ShutdownDeadlineCancelsTasks(t *testing.T) {
	p := New(1, 1)
	cancelled := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}

func TestPool_RecoversFromPanics(t *testing.T) {
	p := New(1, 2)
	var ran atomic.Bool
	require.NoError(t, p.Submit(func(context.Context) { panic("boom") }))
	require.NoError(t, p.Submit(func(context.Context) { ran.Store(true) }))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, ran.Load())
}
