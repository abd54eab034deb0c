package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Tinywan/redis-stream-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runConsumer(ctx context.Context, c *Consumer) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func TestConsumer_ProcessesUntilStopped(t *testing.T) {
	q, _ := newTestQueue(t, testOptions("loop"))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := q.Enqueue(ctx, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
	}

	var (
		mu       sync.Mutex
		received []string
	)
	c := q.NewConsumer(HandlerFunc(func(_ context.Context, m *domain.Message) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, m.Payload)
		return nil
	}), ConsumerOptions{})

	done := runConsumer(ctx, c)
	require.Eventually(t, func() bool { return c.Processed() == 10 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Running())

	c.Stop()
	require.NoError(t, waitDone(t, done))
	assert.False(t, c.Running())

	mu.Lock()
	assert.Len(t, received, 10)
	assert.Equal(t, "m0", received[0])
	mu.Unlock()

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Pending)
}

func TestConsumer_PicksUpLateMessages(t *testing.T) {
	q, _ := newTestQueue(t, testOptions("late"))
	ctx := context.Background()

	c := q.NewConsumer(HandlerFunc(func(context.Context, *domain.Message) error { return nil }), ConsumerOptions{})
	done := runConsumer(ctx, c)

	// Let the loop idle a few rounds first
	time.Sleep(50 * time.Millisecond)
	_, err := q.Enqueue(ctx, "late", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return c.Processed() == 1 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()
	require.NoError(t, waitDone(t, done))
}

func TestConsumer_NackOnFailureAppliesRetryBudget(t *testing.T) {
	opts := testOptions("failing")
	opts.RetryAttempts = 2
	q, _ := newTestQueue(t, opts)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "poison", nil)
	require.NoError(t, err)

	var (
		mu       sync.Mutex
		attempts []int
	)
	c := q.NewConsumer(HandlerFunc(func(_ context.Context, m *domain.Message) error {
		mu.Lock()
		attempts = append(attempts, m.Attempts)
		mu.Unlock()
		return errors.New("always fails")
	}), ConsumerOptions{NackOnFailure: true})

	done := runConsumer(ctx, c)
	require.Eventually(t, func() bool {
		stats, err := q.Stats(ctx)
		return err == nil && stats.Dead == 1
	}, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	require.NoError(t, waitDone(t, done))

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
	mu.Unlock()
	assert.Equal(t, int64(3), c.Failed())
}

func TestConsumer_FailureWithoutNackStaysPending(t *testing.T) {
	q, _ := newTestQueue(t, testOptions("claimed"))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "x", nil)
	require.NoError(t, err)

	c := q.NewConsumer(HandlerFunc(func(context.Context, *domain.Message) error {
		return errors.New("nope")
	}), ConsumerOptions{})

	done := runConsumer(ctx, c)
	require.Eventually(t, func() bool { return c.Failed() == 1 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()
	require.NoError(t, waitDone(t, done))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

func TestConsumer_StopsOnContextCancel(t *testing.T) {
	q, _ := newTestQueue(t, testOptions("ctx"))
	ctx, cancel := context.WithCancel(context.Background())

	c := q.NewConsumer(HandlerFunc(func(context.Context, *domain.Message) error { return nil }), ConsumerOptions{})
	done := runConsumer(ctx, c)

	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, waitDone(t, done))
}

func TestConsumer_MemoryLimit(t *testing.T) {
	original := readMemory
	readMemory = func() uint64 { return 1 << 30 }
	t.Cleanup(func() { readMemory = original })

	opts := testOptions("memory")
	opts.MemoryLimit = 1 << 20
	q, _ := newTestQueue(t, opts)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, i, nil)
		require.NoError(t, err)
	}

	c := q.NewConsumer(HandlerFunc(func(context.Context, *domain.Message) error { return nil }), ConsumerOptions{})
	err := waitDone(t, runConsumer(ctx, c))
	assert.ErrorIs(t, err, ErrMemoryLimit)

	// The ceiling is checked after each processed message
	assert.Equal(t, int64(1), c.Processed())
}

func TestConsumer_StoreErrorsBackOff(t *testing.T) {
	q, mr := newTestQueue(t, testOptions("outage"))
	ctx := context.Background()

	c := q.NewConsumer(HandlerFunc(func(context.Context, *domain.Message) error { return nil }), ConsumerOptions{})

	mr.Close()
	done := runConsumer(ctx, c)

	// Errors are logged and retried; the loop keeps running
	time.Sleep(50 * time.Millisecond)
	assert.True(t, c.Running())

	c.Stop()
	require.NoError(t, waitDone(t, done))
}
