package unread

import (
	"context"

	"PRelay/logger"
)

// Key addresses one (user, chat) counter or pointer.
type Key struct {
	UserID   string
	TargetID string
	ChatType string
}

type LastReadEntry struct {
	Key
	MessageID int64
}

type UnreadEntry struct {
	Key
	Count int64
}

// Store is the fast working-set store. All mutations are single-key atomic
// operations (atomic increment, conditional max-set) so no cross-process
// locking is ever required; both front-end processes share one store.
type Store interface {
	IncrUnread(ctx context.Context, k Key) (int64, error)
	// DecrUnread clamps at 0.
	DecrUnread(ctx context.Context, k Key) (int64, error)
	SetUnread(ctx context.Context, k Key, n int64) error
	ResetUnread(ctx context.Context, k Key) error
	// GetUnread reports ok=false when the key was never written.
	GetUnread(ctx context.Context, k Key) (int64, bool, error)

	// SetLastReadMax only moves the pointer forward.
	SetLastReadMax(ctx context.Context, k Key, messageID int64) (int64, error)
	GetLastRead(ctx context.Context, k Key) (int64, bool, error)

	MarkSeen(ctx context.Context, messageID, userID string) error
	SeenCount(ctx context.Context, messageID string) (int64, error)

	// Pending* enumerate dirty state for reconciliation; Clear* drop the
	// flushed fast-store keys. Clear must only be called with entries the
	// durable store confirmed written.
	PendingLastRead(ctx context.Context) ([]LastReadEntry, error)
	PendingUnread(ctx context.Context) ([]UnreadEntry, error)
	ClearLastRead(ctx context.Context, entries []LastReadEntry) error
	ClearUnread(ctx context.Context, entries []UnreadEntry) error
}

// Durable is the eventual source of truth, written by the reconciliation
// workers and read on cold-start fallback.
type Durable interface {
	ComputeUnread(ctx context.Context, k Key) (int64, error)
	LastRead(ctx context.Context, k Key) (int64, error)
	BulkUpsertLastRead(ctx context.Context, entries []LastReadEntry) error
	BulkUpsertUnread(ctx context.Context, entries []UnreadEntry) error
}

// Engine trades the fast store against the durable store. A zero read from
// the fast store is ambiguous with "never computed", so it always re-derives
// from the durable store and backfills; the cost is a one-time recomputation,
// never data loss.
type Engine struct {
	store   Store
	durable Durable
}

func NewEngine(store Store, durable Durable) *Engine {
	return &Engine{store: store, durable: durable}
}

func (e *Engine) Store() Store { return e.store }

func (e *Engine) Increment(ctx context.Context, k Key) (int64, error) {
	return e.store.IncrUnread(ctx, k)
}

func (e *Engine) Decrement(ctx context.Context, k Key) (int64, error) {
	return e.store.DecrUnread(ctx, k)
}

func (e *Engine) Reset(ctx context.Context, k Key) error {
	return e.store.ResetUnread(ctx, k)
}

// GetCount returns the unread count, falling back to the durable store when
// the fast store reads zero or misses. Durable failures degrade to the fast
// value and are logged, never surfaced to the end user.
func (e *Engine) GetCount(ctx context.Context, k Key) int64 {
	n, ok, err := e.store.GetUnread(ctx, k)
	if err != nil {
		logger.Warnf("[unread] fast store read failed user=%s target=%s: %v", k.UserID, k.TargetID, err)
		return 0
	}
	if ok && n > 0 {
		return n
	}

	derived, err := e.durable.ComputeUnread(ctx, k)
	if err != nil {
		logger.Warnf("[unread] durable fallback failed user=%s target=%s: %v", k.UserID, k.TargetID, err)
		return n
	}
	if err := e.store.SetUnread(ctx, k, derived); err != nil {
		logger.Warnf("[unread] backfill failed user=%s target=%s: %v", k.UserID, k.TargetID, err)
	}
	return derived
}

func (e *Engine) SetLastRead(ctx context.Context, k Key, messageID int64) (int64, error) {
	return e.store.SetLastReadMax(ctx, k, messageID)
}

func (e *Engine) GetLastRead(ctx context.Context, k Key) int64 {
	id, ok, err := e.store.GetLastRead(ctx, k)
	if err != nil {
		logger.Warnf("[unread] lastread read failed user=%s target=%s: %v", k.UserID, k.TargetID, err)
		return 0
	}
	if ok {
		return id
	}
	durableID, err := e.durable.LastRead(ctx, k)
	if err != nil {
		logger.Warnf("[unread] lastread durable fallback failed user=%s target=%s: %v", k.UserID, k.TargetID, err)
		return 0
	}
	if durableID > 0 {
		if _, err := e.store.SetLastReadMax(ctx, k, durableID); err != nil {
			logger.Warnf("[unread] lastread backfill failed user=%s target=%s: %v", k.UserID, k.TargetID, err)
		}
	}
	return durableID
}

func (e *Engine) MarkSeen(ctx context.Context, userID, messageID string, k Key) error {
	return e.store.MarkSeen(ctx, messageID, userID)
}

func (e *Engine) SeenCount(ctx context.Context, messageID string) int64 {
	n, err := e.store.SeenCount(ctx, messageID)
	if err != nil {
		logger.Warnf("[unread] seen count failed msg=%s: %v", messageID, err)
		return 0
	}
	return n
}
