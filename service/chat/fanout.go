package chat

import (
	"context"

	"PRelay/tools/safe"
)

type fanoutTask struct {
	client  *Client
	payload []byte
}

// Fanout spreads one payload across many connections on a fixed worker
// pool so a slow socket never stalls the dispatch path.
type Fanout struct {
	tasks   chan fanoutTask
	workers int
}

func NewFanout(workers, depth int) *Fanout {
	if workers <= 0 {
		workers = 16
	}
	if depth <= 0 {
		depth = 4096
	}
	return &Fanout{tasks: make(chan fanoutTask, depth), workers: workers}
}

func (f *Fanout) Start(ctx context.Context) {
	for i := 0; i < f.workers; i++ {
		safe.Go(func() {
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-f.tasks:
					t.client.Enqueue(t.payload)
				}
			}
		})
	}
}

// Broadcast queues the payload for every connection. Falls back to an
// inline enqueue when the task buffer is saturated.
func (f *Fanout) Broadcast(conns []*Client, payload []byte) {
	for _, c := range conns {
		select {
		case f.tasks <- fanoutTask{client: c, payload: payload}:
		default:
			c.Enqueue(payload)
		}
	}
}
