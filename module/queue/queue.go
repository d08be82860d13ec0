package queue

import (
	"context"
	"time"

	"PRelay/tools/ids"
)

// Queue is the multi-lane durable queue in front of the worker pool.
type Queue struct {
	backend Backend
	clock   func() time.Time
}

func New(backend Backend) *Queue {
	return &Queue{backend: backend, clock: time.Now}
}

func NewWithClock(backend Backend, clock func() time.Time) *Queue {
	return &Queue{backend: backend, clock: clock}
}

// Enqueue assigns a job id and places the message in its priority lane.
func (q *Queue) Enqueue(ctx context.Context, msg *QueuedMessage) (string, error) {
	q.prepare(msg)
	if err := q.backend.Push(ctx, msg.Priority.Lane(), msg.JobID, msg.Marshal(), msg.QueuedAt); err != nil {
		return "", err
	}
	return msg.JobID, nil
}

// EnqueueDelayed parks the message until the delay lapses.
func (q *Queue) EnqueueDelayed(ctx context.Context, msg *QueuedMessage, delay time.Duration) (string, error) {
	q.prepare(msg)
	readyAt := q.clock().Add(delay)
	if err := q.backend.PushDelayed(ctx, msg.Priority.Lane(), msg.JobID, msg.Marshal(), readyAt, msg.QueuedAt); err != nil {
		return "", err
	}
	return msg.JobID, nil
}

func (q *Queue) prepare(msg *QueuedMessage) {
	if msg.JobID == "" {
		msg.JobID = ids.GenerateString()
	}
	if msg.QueuedAt == 0 {
		msg.QueuedAt = q.clock().UnixMilli()
	}
}

// Delete cancels a job before a worker picked it up. Once the send pipeline
// has begun there is no cancellation; partial fan-out is never rolled back.
func (q *Queue) Delete(ctx context.Context, jobID string) (bool, error) {
	return q.backend.Remove(ctx, jobID)
}

func (q *Queue) Status(ctx context.Context, jobID string) (*JobStatus, bool, error) {
	return q.backend.GetStatus(ctx, jobID)
}

// Depths reports per-lane queue depth for the admin surface.
func (q *Queue) Depths(ctx context.Context) map[string]int64 {
	out := make(map[string]int64, len(DrainOrder))
	for _, lane := range DrainOrder {
		n, err := q.backend.Depth(ctx, lane)
		if err != nil {
			continue
		}
		out[lane] = n
	}
	return out
}

// ETA estimates when a just-enqueued job will run, from the depth of its
// lane and every lane above it.
func (q *Queue) ETA(ctx context.Context, p Priority, ratePerSec float64) time.Duration {
	if ratePerSec <= 0 {
		return 0
	}
	var ahead int64
	for _, lane := range DrainOrder {
		n, err := q.backend.Depth(ctx, lane)
		if err == nil {
			ahead += n
		}
		if lane == p.Lane() {
			break
		}
	}
	return time.Duration(float64(ahead) / ratePerSec * float64(time.Second))
}
