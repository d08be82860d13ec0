package unread

import (
	"context"
	"time"

	"PRelay/logger"
	"PRelay/tools/safe"
)

// Reconciler periodically moves dirty fast-store state into the durable
// store, then prunes the flushed keys. It only ever moves state in that
// direction, and deletions only target entries the bulk upsert confirmed,
// so it is safe to run concurrently with live traffic and with a second
// reconciler on the companion process.
type Reconciler struct {
	store    Store
	durable  Durable
	interval time.Duration
}

func NewReconciler(store Store, durable Durable, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reconciler{store: store, durable: durable, interval: interval}
}

// Start launches both sweep loops; they stop when ctx is done.
func (r *Reconciler) Start(ctx context.Context) {
	safe.Go(func() { r.loop(ctx, r.FlushLastRead) })
	safe.Go(func() { r.loop(ctx, r.FlushUnread) })
}

func (r *Reconciler) loop(ctx context.Context, flush func(context.Context) (int, error)) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := flush(ctx); err != nil {
				logger.Errorf("[reconcile] flush failed: %v", err)
			} else if n > 0 {
				logger.Infof("[reconcile] flushed %d entries", n)
			}
		}
	}
}

// FlushLastRead bulk-upserts pending last-read pointers and deletes the
// flushed fast-store keys. A run with nothing pending is a no-op.
func (r *Reconciler) FlushLastRead(ctx context.Context) (int, error) {
	pending, err := r.store.PendingLastRead(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := r.durable.BulkUpsertLastRead(ctx, pending); err != nil {
		return 0, err
	}
	if err := r.store.ClearLastRead(ctx, pending); err != nil {
		return 0, err
	}
	return len(pending), nil
}

// FlushUnread is the same sweep for unread-count state.
func (r *Reconciler) FlushUnread(ctx context.Context) (int, error) {
	pending, err := r.store.PendingUnread(ctx)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := r.durable.BulkUpsertUnread(ctx, pending); err != nil {
		return 0, err
	}
	if err := r.store.ClearUnread(ctx, pending); err != nil {
		return 0, err
	}
	return len(pending), nil
}
