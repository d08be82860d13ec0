package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaneMapping(t *testing.T) {
	assert.Equal(t, LaneLow, PriorityLow.Lane())
	assert.Equal(t, LaneDefault, PriorityNormal.Lane())
	assert.Equal(t, LaneHigh, PriorityHigh.Lane())
	assert.Equal(t, LaneCritical, PriorityCritical.Lane())
}

func TestPopDrainsHigherLanesFirst(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	q := New(b)

	lowID, err := q.Enqueue(ctx, &QueuedMessage{Priority: PriorityLow, ClientMsgID: "c1"})
	require.NoError(t, err)
	highID, err := q.Enqueue(ctx, &QueuedMessage{Priority: PriorityHigh, ClientMsgID: "c2"})
	require.NoError(t, err)

	id, _, ok, err := b.Pop(ctx, DrainOrder, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, highID, id, "high lane drains before low")

	id, _, ok, err = b.Pop(ctx, DrainOrder, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lowID, id)

	_, _, ok, err = b.Pop(ctx, DrainOrder, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteBeforeDequeue(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	q := New(b)

	jobID, err := q.Enqueue(ctx, &QueuedMessage{Priority: PriorityNormal, ClientMsgID: "c1"})
	require.NoError(t, err)

	st, ok, err := q.Status(ctx, jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateQueued, st.State)

	removed, err := q.Delete(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, removed)

	_, _, ok, err = b.Pop(ctx, DrainOrder, 0)
	require.NoError(t, err)
	assert.False(t, ok, "cancelled job must not be handed to a worker")

	removed, err = q.Delete(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, removed, "second delete is a no-op")
}

func TestDelayedPromotion(t *testing.T) {
	ctx := context.Background()
	b := NewMemBackend()
	now := time.Now()
	q := NewWithClock(b, func() time.Time { return now })

	_, err := q.EnqueueDelayed(ctx, &QueuedMessage{Priority: PriorityNormal, ClientMsgID: "c1"}, 30*time.Second)
	require.NoError(t, err)

	_, _, ok, _ := b.Pop(ctx, DrainOrder, 0)
	assert.False(t, ok, "delayed job is not yet visible")

	n, err := b.PromoteDelayed(ctx, now.Add(10*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = b.PromoteDelayed(ctx, now.Add(31*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, ok, err = b.Pop(ctx, DrainOrder, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWorkerRetriesThenFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewMemBackend()
	q := New(b)

	var mu sync.Mutex
	attempts := 0
	var finalErr error
	done := make(chan struct{})

	runner := func(_ context.Context, _ *QueuedMessage) error {
		mu.Lock()
		attempts++
		mu.Unlock()
		return errors.New("store down")
	}
	onDone := func(_ *QueuedMessage, err error) {
		finalErr = err
		close(done)
	}

	pool := NewPool(PoolConfig{
		Workers:      1,
		RatePerSec:   1000,
		MaxAttempts:  3,
		Backoff:      []time.Duration{time.Millisecond, time.Millisecond},
		PollInterval: 5 * time.Millisecond,
	}, b, runner, onDone)
	pool.Start(ctx)

	jobID, err := q.Enqueue(ctx, &QueuedMessage{Priority: PriorityHigh, ClientMsgID: "c9"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("job never reached terminal state")
	}

	require.Error(t, finalErr)
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()

	st, ok, err := q.Status(ctx, jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, "store down")
}

func TestWorkerSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := NewMemBackend()
	q := New(b)

	done := make(chan *QueuedMessage, 1)
	runner := func(_ context.Context, _ *QueuedMessage) error { return nil }
	onDone := func(msg *QueuedMessage, err error) {
		if err == nil {
			done <- msg
		}
	}

	pool := NewPool(PoolConfig{Workers: 2, RatePerSec: 1000, PollInterval: 5 * time.Millisecond}, b, runner, onDone)
	pool.Start(ctx)

	jobID, err := q.Enqueue(ctx, &QueuedMessage{Priority: PriorityNormal, ClientMsgID: "c1"})
	require.NoError(t, err)

	select {
	case msg := <-done:
		assert.Equal(t, "c1", msg.ClientMsgID)
	case <-time.After(10 * time.Second):
		t.Fatal("job never completed")
	}

	st, ok, err := q.Status(ctx, jobID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateSent, st.State)
}
