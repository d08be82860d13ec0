package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Backend is the durable lane storage. The Redis implementation is used in
// production; MemBackend backs tests and single-node runs.
type Backend interface {
	// Push appends a job to its lane and records its status.
	Push(ctx context.Context, lane, jobID string, raw []byte, nowMS int64) error
	// Pop takes the next job, checking lanes in the given order. Empty
	// lanes return ok=false after at most the poll timeout.
	Pop(ctx context.Context, lanes []string, timeout time.Duration) (jobID string, raw []byte, ok bool, err error)
	// PushDelayed parks a job until readyAt, then PromoteDelayed moves it
	// back into its lane.
	PushDelayed(ctx context.Context, lane, jobID string, raw []byte, readyAt time.Time, nowMS int64) error
	PromoteDelayed(ctx context.Context, now time.Time) (int, error)

	SetState(ctx context.Context, jobID, state, errMsg string) error
	GetStatus(ctx context.Context, jobID string) (*JobStatus, bool, error)
	// Remove cancels a job that has not been dequeued yet.
	Remove(ctx context.Context, jobID string) (bool, error)
	Depth(ctx context.Context, lane string) (int64, error)
}

type memJob struct {
	id      string
	raw     []byte
	lane    string
	readyAt time.Time
}

// MemBackend keeps lanes in process memory.
type MemBackend struct {
	mu      sync.Mutex
	lanes   map[string][]memJob
	delayed []memJob
	status  map[string]*JobStatus
}

func NewMemBackend() *MemBackend {
	return &MemBackend{
		lanes:  make(map[string][]memJob),
		status: make(map[string]*JobStatus),
	}
}

func (b *MemBackend) Push(_ context.Context, lane, jobID string, raw []byte, nowMS int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lanes[lane] = append(b.lanes[lane], memJob{id: jobID, raw: raw, lane: lane})
	b.status[jobID] = &JobStatus{State: StateQueued, Lane: lane, CreatedAtMS: nowMS}
	return nil
}

func (b *MemBackend) Pop(ctx context.Context, lanes []string, timeout time.Duration) (string, []byte, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		for _, lane := range lanes {
			q := b.lanes[lane]
			if len(q) == 0 {
				continue
			}
			j := q[0]
			b.lanes[lane] = q[1:]
			if st := b.status[j.id]; st != nil {
				st.State = StateActive
			}
			b.mu.Unlock()
			return j.id, j.raw, true, nil
		}
		b.mu.Unlock()

		if timeout <= 0 || !time.Now().Before(deadline) {
			return "", nil, false, nil
		}
		select {
		case <-ctx.Done():
			return "", nil, false, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (b *MemBackend) PushDelayed(_ context.Context, lane, jobID string, raw []byte, readyAt time.Time, nowMS int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.delayed = append(b.delayed, memJob{id: jobID, raw: raw, lane: lane, readyAt: readyAt})
	sort.Slice(b.delayed, func(i, j int) bool { return b.delayed[i].readyAt.Before(b.delayed[j].readyAt) })
	if st := b.status[jobID]; st != nil {
		st.State = StateDelayed
	} else {
		b.status[jobID] = &JobStatus{State: StateDelayed, Lane: lane, CreatedAtMS: nowMS}
	}
	return nil
}

func (b *MemBackend) PromoteDelayed(_ context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	promoted := 0
	remaining := b.delayed[:0]
	for _, j := range b.delayed {
		if j.readyAt.After(now) {
			remaining = append(remaining, j)
			continue
		}
		b.lanes[j.lane] = append(b.lanes[j.lane], memJob{id: j.id, raw: j.raw, lane: j.lane})
		if st := b.status[j.id]; st != nil {
			st.State = StateQueued
		}
		promoted++
	}
	b.delayed = remaining
	return promoted, nil
}

func (b *MemBackend) SetState(_ context.Context, jobID, state, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.status[jobID]
	if st == nil {
		st = &JobStatus{}
		b.status[jobID] = st
	}
	st.State = state
	st.Error = errMsg
	return nil
}

func (b *MemBackend) GetStatus(_ context.Context, jobID string) (*JobStatus, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.status[jobID]
	if !ok {
		return nil, false, nil
	}
	cp := *st
	return &cp, true, nil
}

func (b *MemBackend) Remove(_ context.Context, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := false
	for lane, q := range b.lanes {
		for i, j := range q {
			if j.id == jobID {
				b.lanes[lane] = append(q[:i], q[i+1:]...)
				removed = true
				break
			}
		}
	}
	for i, j := range b.delayed {
		if j.id == jobID {
			b.delayed = append(b.delayed[:i], b.delayed[i+1:]...)
			removed = true
			break
		}
	}
	if removed {
		delete(b.status, jobID)
	}
	return removed, nil
}

func (b *MemBackend) Depth(_ context.Context, lane string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.lanes[lane])), nil
}

var _ Backend = (*MemBackend)(nil)
