package commandqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandQueue_BasicEnqueue(t *testing.T) {
	cq := New()
	defer cq.Close()

	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return "result", nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "result", result)
}

func TestCommandQueue_TaskError(t *testing.T) {
	cq := New()
	defer cq.Close()

	expectedErr := errors.New("task failed")
	result, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return nil, expectedErr
	})

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
}

func TestCommandQueue_PanicIsReported(t *testing.T) {
	cq := New()
	defer cq.Close()

	_, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// The lane keeps working.
	v, err := cq.Enqueue(context.Background(), "test", func(ctx context.Context) (interface{}, error) {
		return 1, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCommandQueue_SerialExecution(t *testing.T) {
	cq := New()
	defer cq.Close()

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return nil, nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestCommandQueue_FIFO(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-release
			return nil, nil
		})
	}()
	<-started

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}(i)
		require.Eventually(t, func() bool { return cq.QueueSize("chat:1") == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestCommandQueue_ConcurrentLanes(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return cq.IsBusy("chat:1") }, time.Second, time.Millisecond)

	v, err := cq.Enqueue(context.Background(), "chat:2", func(ctx context.Context) (interface{}, error) {
		return "other lane", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "other lane", v)
	close(release)
}

func TestCommandQueue_CancelWhileQueued(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return cq.IsBusy("chat:1") }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(ctx, "chat:1", func(ctx context.Context) (interface{}, error) {
			ran.Store(true)
			return nil, nil
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return cq.QueueSize("chat:1") == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	close(release)

	require.Eventually(t, func() bool { return len(cq.Stats()) == 0 }, time.Second, time.Millisecond)
	assert.False(t, ran.Load())
}

func TestCommandQueue_ClearLane(t *testing.T) {
	cq := New()
	defer cq.Close()

	release := make(chan struct{})
	go func() {
		_, _ = cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	require.Eventually(t, func() bool { return cq.IsBusy("chat:1") }, time.Second, time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return cq.QueueSize("chat:1") == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, 1, cq.ClearLane("chat:1"))
	assert.ErrorIs(t, <-errCh, ErrLaneCleared)
	close(release)
}

func TestCommandQueue_Close(t *testing.T) {
	cq := New()

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		_, err := cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		})
		errCh <- err
	}()
	<-started

	require.NoError(t, cq.Close())
	assert.ErrorIs(t, <-errCh, context.Canceled)

	_, err := cq.Enqueue(context.Background(), "chat:1", func(ctx context.Context) (interface{}, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.True(t, cq.WaitForActive(10*time.Millisecond))
}
