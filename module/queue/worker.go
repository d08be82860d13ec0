package queue

import (
	"context"
	"sync"
	"time"

	"PRelay/logger"
	"PRelay/tools/safe"

	"golang.org/x/time/rate"
)

// Runner executes the send pipeline for one dequeued job. It is the same
// pipeline the immediate path uses; priority only affects when work
// happens, never what happens.
type Runner func(ctx context.Context, msg *QueuedMessage) error

// ResultFn is called once per job on terminal state: err == nil after a
// successful send, err != nil after retries are exhausted.
type ResultFn func(msg *QueuedMessage, err error)

type PoolConfig struct {
	Workers      int
	RatePerSec   float64
	MaxAttempts  int
	Backoff      []time.Duration // delay before attempt 2, 3, ...
	PollInterval time.Duration
	Clock        func() time.Time
}

func (c *PoolConfig) norm() {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 200
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if len(c.Backoff) == 0 {
		c.Backoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Pool drains the lanes with a fixed set of workers, highest lane first.
type Pool struct {
	conf    PoolConfig
	backend Backend
	runner  Runner
	onDone  ResultFn
	limiter *rate.Limiter
	wg      sync.WaitGroup
}

func NewPool(conf PoolConfig, backend Backend, runner Runner, onDone ResultFn) *Pool {
	conf.norm()
	return &Pool{
		conf:    conf,
		backend: backend,
		runner:  runner,
		onDone:  onDone,
		limiter: rate.NewLimiter(rate.Limit(conf.RatePerSec), int(conf.RatePerSec)),
	}
}

// Start launches the workers and the delayed-job promoter.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.conf.Workers; i++ {
		p.wg.Add(1)
		safe.Go(func() {
			defer p.wg.Done()
			p.workerLoop(ctx)
		})
	}
	safe.Go(func() { p.promoteLoop(ctx) })
}

// Wait blocks until all workers exit after ctx cancellation.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		jobID, raw, ok, err := p.backend.Pop(ctx, DrainOrder, p.conf.PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Errorf("[queue] pop failed: %v", err)
			continue
		}
		if !ok {
			continue
		}

		msg, uerr := UnmarshalJob(raw)
		if uerr != nil {
			logger.Errorf("[queue] job %s undecodable, dropping: %v", jobID, uerr)
			_ = p.backend.SetState(ctx, jobID, StateFailed, "undecodable payload")
			continue
		}
		msg.JobID = jobID
		p.execute(ctx, msg)
	}
}

func (p *Pool) execute(ctx context.Context, msg *QueuedMessage) {
	err := p.runner(ctx, msg)
	if err == nil {
		_ = p.backend.SetState(ctx, msg.JobID, StateSent, "")
		if p.onDone != nil {
			p.onDone(msg, nil)
		}
		return
	}

	msg.Attempts++
	if msg.Attempts < p.conf.MaxAttempts {
		delay := p.backoffFor(msg.Attempts)
		logger.Warnf("[queue] job %s attempt %d failed, retrying in %s: %v",
			msg.JobID, msg.Attempts, delay, err)
		readyAt := p.conf.Clock().Add(delay)
		if perr := p.backend.PushDelayed(ctx, msg.Priority.Lane(), msg.JobID, msg.Marshal(), readyAt, msg.QueuedAt); perr != nil {
			logger.Errorf("[queue] job %s re-park failed: %v", msg.JobID, perr)
		}
		_ = p.backend.SetState(ctx, msg.JobID, StateDelayed, err.Error())
		return
	}

	// never silently dropped: terminal failure goes back to the sender
	logger.Errorf("[queue] job %s failed after %d attempts: %v", msg.JobID, msg.Attempts, err)
	_ = p.backend.SetState(ctx, msg.JobID, StateFailed, err.Error())
	if p.onDone != nil {
		p.onDone(msg, err)
	}
}

func (p *Pool) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(p.conf.Backoff) {
		idx = len(p.conf.Backoff) - 1
	}
	return p.conf.Backoff[idx]
}

func (p *Pool) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.backend.PromoteDelayed(ctx, p.conf.Clock()); err != nil {
				logger.Errorf("[queue] promote failed: %v", err)
			}
		}
	}
}
