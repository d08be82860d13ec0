package unread

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDurable records writes and serves canned cold reads.
type memDurable struct {
	mu       sync.Mutex
	counts   map[Key]int64
	pointers map[Key]int64

	lastReadWrites int
	unreadWrites   int
}

func newMemDurable() *memDurable {
	return &memDurable{counts: make(map[Key]int64), pointers: make(map[Key]int64)}
}

func (d *memDurable) ComputeUnread(_ context.Context, k Key) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[k], nil
}

func (d *memDurable) LastRead(_ context.Context, k Key) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pointers[k], nil
}

func (d *memDurable) BulkUpsertLastRead(_ context.Context, entries []LastReadEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastReadWrites++
	for _, e := range entries {
		if e.MessageID > d.pointers[e.Key] {
			d.pointers[e.Key] = e.MessageID
		}
	}
	return nil
}

func (d *memDurable) BulkUpsertUnread(_ context.Context, entries []UnreadEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unreadWrites++
	for _, e := range entries {
		d.counts[e.Key] = e.Count
	}
	return nil
}

var testKey = Key{UserID: "u1", TargetID: "g1", ChatType: "classgroup"}

func TestCounterClampLaw(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(NewMemStore(), newMemDurable())

	// 3 increments, 5 decrements, in mixed order: clamped at 0
	_, _ = e.Increment(ctx, testKey)
	_, _ = e.Decrement(ctx, testKey)
	_, _ = e.Decrement(ctx, testKey)
	_, _ = e.Increment(ctx, testKey)
	_, _ = e.Increment(ctx, testKey)
	_, _ = e.Decrement(ctx, testKey)
	_, _ = e.Decrement(ctx, testKey)
	n, _ := e.Decrement(ctx, testKey)
	assert.EqualValues(t, 0, n)

	// two more increments land on the clamped value
	_, _ = e.Increment(ctx, testKey)
	n, _ = e.Increment(ctx, testKey)
	assert.EqualValues(t, 2, n)
}

func TestLastReadMonotonicMax(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(NewMemStore(), newMemDurable())

	got, err := e.SetLastRead(ctx, testKey, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 100, got)

	// stale acknowledgement must not move the pointer back
	got, err = e.SetLastRead(ctx, testKey, 40)
	require.NoError(t, err)
	assert.EqualValues(t, 100, got)
	assert.EqualValues(t, 100, e.GetLastRead(ctx, testKey))
}

func TestColdReadFallsBackAndBackfills(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	durable := newMemDurable()
	durable.counts[testKey] = 7
	e := NewEngine(store, durable)

	assert.EqualValues(t, 7, e.GetCount(ctx, testKey))

	// backfilled: the fast store now carries the derived value
	n, ok, err := store.GetUnread(ctx, testKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 7, n)
}

func TestLastReadColdFallback(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	durable := newMemDurable()
	durable.pointers[testKey] = 55
	e := NewEngine(store, durable)

	assert.EqualValues(t, 55, e.GetLastRead(ctx, testKey))

	id, ok, err := store.GetLastRead(ctx, testKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 55, id)
}

func TestSeenRegistryIndependentOfCounter(t *testing.T) {
	ctx := context.Background()
	e := NewEngine(NewMemStore(), newMemDurable())

	require.NoError(t, e.MarkSeen(ctx, "u1", "msg_9", testKey))
	require.NoError(t, e.MarkSeen(ctx, "u2", "msg_9", testKey))
	require.NoError(t, e.MarkSeen(ctx, "u2", "msg_9", testKey)) // idempotent
	assert.EqualValues(t, 2, e.SeenCount(ctx, "msg_9"))
	assert.EqualValues(t, 0, e.SeenCount(ctx, "msg_other"))
}

func TestReconcilerFlushAndPrune(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	durable := newMemDurable()
	e := NewEngine(store, durable)
	r := NewReconciler(store, durable, 0)

	_, _ = e.Increment(ctx, testKey)
	_, _ = e.Increment(ctx, testKey)
	_, _ = e.SetLastRead(ctx, testKey, 42)

	n, err := r.FlushUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.FlushLastRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.EqualValues(t, 2, durable.counts[testKey])
	assert.EqualValues(t, 42, durable.pointers[testKey])

	// flushed fast-store keys are pruned
	_, ok, _ := store.GetUnread(ctx, testKey)
	assert.False(t, ok)
	_, ok, _ = store.GetLastRead(ctx, testKey)
	assert.False(t, ok)

	// the cold read now re-derives the reconciled value
	assert.EqualValues(t, 2, e.GetCount(ctx, testKey))
}

// racingDurable lets a test mutate the fast store inside the window
// between the pending snapshot and the prune.
type racingDurable struct {
	*memDurable
	onUnread   func()
	onLastRead func()
}

func (d *racingDurable) BulkUpsertUnread(ctx context.Context, entries []UnreadEntry) error {
	if d.onUnread != nil {
		d.onUnread()
	}
	return d.memDurable.BulkUpsertUnread(ctx, entries)
}

func (d *racingDurable) BulkUpsertLastRead(ctx context.Context, entries []LastReadEntry) error {
	if d.onLastRead != nil {
		d.onLastRead()
	}
	return d.memDurable.BulkUpsertLastRead(ctx, entries)
}

func TestReconcilerKeepsMidFlushIncrement(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	durable := &racingDurable{memDurable: newMemDurable()}
	e := NewEngine(store, durable)
	r := NewReconciler(store, durable, 0)

	_, _ = e.Increment(ctx, testKey)
	durable.onUnread = func() {
		durable.onUnread = nil
		_, _ = e.Increment(ctx, testKey)
	}

	n, err := r.FlushUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the counter mutated mid-flush survives the prune and stays dirty
	assert.EqualValues(t, 2, e.GetCount(ctx, testKey))
	pending, err := store.PendingUnread(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.EqualValues(t, 2, pending[0].Count)

	// the next run carries the newer value down and prunes for real
	n, err = r.FlushUnread(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 2, durable.counts[testKey])
	_, ok, _ := store.GetUnread(ctx, testKey)
	assert.False(t, ok)
}

func TestReconcilerKeepsMidFlushPointerAdvance(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	durable := &racingDurable{memDurable: newMemDurable()}
	e := NewEngine(store, durable)
	r := NewReconciler(store, durable, 0)

	_, _ = e.SetLastRead(ctx, testKey, 5)
	durable.onLastRead = func() {
		durable.onLastRead = nil
		_, _ = e.SetLastRead(ctx, testKey, 9)
	}

	n, err := r.FlushLastRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 9, e.GetLastRead(ctx, testKey))

	n, err = r.FlushLastRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.EqualValues(t, 9, durable.pointers[testKey])
	_, ok, _ := store.GetLastRead(ctx, testKey)
	assert.False(t, ok)
}

func TestReconcilerEmptyRunIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	durable := newMemDurable()
	r := NewReconciler(store, durable, 0)

	n, err := r.FlushUnread(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = r.FlushLastRead(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Zero(t, durable.unreadWrites, "no durable writes on an empty run")
	assert.Zero(t, durable.lastReadWrites)
}
