// Package queue is an in-process background job queue with the delivery
// contract the pipeline is written against: at-least-once execution, one
// redelivery after a delay on handler error, soft/hard per-job timeouts, and
// results that are durably recorded before a job's state turns terminal.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediascribe/internal/logger"
	"mediascribe/internal/types"
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateRetry     State = "retry"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Terminal reports whether a job in this state will never change again.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Handler executes one job. The context carries the soft timeout; a handler
// that keeps running past it is cut off at the hard limit and the job fails.
type Handler func(ctx context.Context, payload any) (any, error)

// Snapshot is an immutable view of a job. Result is only set once State is
// terminal, so a poller never sees a value that is still being written.
type Snapshot struct {
	ID          string
	State       State
	Result      any
	Err         string
	Attempts    int
	CreatedAt   time.Time
	CompletedAt time.Time
}

type job struct {
	id        string
	payload   any
	state     State
	result    any
	err       string
	attempts  int
	createdAt time.Time
	doneAt    time.Time
}

// Options tune a queue. Zero values fall back to workable defaults.
type Options struct {
	Workers     int
	Size        int
	SoftTimeout time.Duration
	HardTimeout time.Duration
	RetryDelay  time.Duration
	MaxRetries  int
	// How long a terminal job stays visible to pollers before the janitor
	// drops it.
	Retention time.Duration
}

func (o *Options) fill() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Size <= 0 {
		o.Size = 256
	}
	if o.SoftTimeout <= 0 {
		o.SoftTimeout = 4 * time.Minute
	}
	if o.HardTimeout <= o.SoftTimeout {
		o.HardTimeout = o.SoftTimeout + time.Minute
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
}

// Queue runs one kind of job on a bounded worker pool.
type Queue struct {
	name    string
	handler Handler
	opts    Options
	log     *logger.Logger

	ch   chan string
	stop chan struct{}
	wg   sync.WaitGroup

	mu     sync.RWMutex
	jobs   map[string]*job
	closed bool
}

func New(name string, handler Handler, opts Options, log *logger.Logger) *Queue {
	opts.fill()
	q := &Queue{
		name:    name,
		handler: handler,
		opts:    opts,
		log:     log,
		ch:      make(chan string, opts.Size),
		stop:    make(chan struct{}),
		jobs:    make(map[string]*job),
	}
	for i := 0; i < opts.Workers; i++ {
		q.wg.Add(1)
		go q.worker(i + 1)
	}
	go q.janitor()
	return q
}

// Dispatch enqueues a payload and returns the handle clients poll with.
func (q *Queue) Dispatch(payload any) (types.JobHandle, error) {
	j := &job{
		id:        uuid.New().String(),
		payload:   payload,
		state:     StatePending,
		createdAt: time.Now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return types.JobHandle{}, fmt.Errorf("queue %s is shut down", q.name)
	}
	q.jobs[j.id] = j

	select {
	case q.ch <- j.id:
	default:
		q.log.WithField("queue", q.name).WithField("job_id", j.id).Warn("queue full, applying backpressure")
		q.ch <- j.id
	}
	return types.JobHandle{JobID: j.id, CreatedAt: j.createdAt}, nil
}

// Snapshot returns the current view of a job, or ok=false for an unknown id.
func (q *Queue) Snapshot(id string) (Snapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	s := Snapshot{
		ID:        j.id,
		State:     j.state,
		Err:       j.err,
		Attempts:  j.attempts,
		CreatedAt: j.createdAt,
	}
	if j.state.Terminal() {
		s.Result = j.result
		s.CompletedAt = j.doneAt
	}
	return s, true
}

// Shutdown stops intake and waits for in-flight jobs, bounded by ctx.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	close(q.stop)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.log.WithField("queue", q.name).Warn("shutdown interrupted by context")
	case <-done:
		q.log.WithField("queue", q.name).Info("queue drained, shutdown complete")
	}
}

// janitor drops terminal jobs past the retention window, bounding the job
// table for the process lifetime.
func (q *Queue) janitor() {
	interval := q.opts.Retention
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.sweep(time.Now().UTC())
		}
	}
}

func (q *Queue) sweep(now time.Time) {
	cutoff := now.Add(-q.opts.Retention)
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, j := range q.jobs {
		if j.state.Terminal() && !j.doneAt.IsZero() && j.doneAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()
	log := q.log.WithField("queue", q.name).WithField("worker_id", workerID)
	log.Debug("worker started")

	for id := range q.ch {
		q.run(id)
	}
	log.Debug("worker stopped")
}

func (q *Queue) run(id string) {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok || j.state.Terminal() {
		q.mu.Unlock()
		return
	}
	j.state = StateRunning
	j.attempts++
	attempt := j.attempts
	payload := j.payload
	q.mu.Unlock()

	log := q.log.WithField("queue", q.name).WithField("job_id", id).WithField("attempt", attempt)

	ctx, cancel := context.WithTimeout(context.Background(), q.opts.SoftTimeout)

	type outcome struct {
		result any
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := q.handler(ctx, payload)
		ch <- outcome{res, err}
	}()

	var out outcome
	select {
	case out = <-ch:
	case <-time.After(q.opts.HardTimeout):
		// The handler ignored the soft deadline; abandon it.
		out = outcome{nil, fmt.Errorf("job exceeded hard timeout of %s", q.opts.HardTimeout)}
	}
	cancel()

	if out.err == nil {
		q.finish(id, StateCompleted, out.result, "")
		log.Info("job completed")
		return
	}

	if attempt <= q.opts.MaxRetries {
		log.WithField("error", out.err.Error()).Warn("job failed, scheduling redelivery")
		q.mu.Lock()
		j.state = StateRetry
		q.mu.Unlock()
		time.AfterFunc(q.opts.RetryDelay, func() { q.redeliver(id) })
		return
	}

	q.finish(id, StateFailed, nil, out.err.Error())
	log.WithField("error", out.err.Error()).Error("job failed permanently")
}

func (q *Queue) redeliver(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		// Queue is gone; record the truncated retry as failure.
		if j, ok := q.jobs[id]; ok && !j.state.Terminal() {
			j.state = StateFailed
			j.err = "queue shut down before redelivery"
			j.doneAt = time.Now().UTC()
		}
		return
	}
	q.ch <- id
}

// finish records result and error before the state flip, all under one lock,
// so Snapshot can never observe a terminal state with a half-written result.
func (q *Queue) finish(id string, state State, result any, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok || j.state.Terminal() {
		return
	}
	j.result = result
	j.err = errMsg
	j.doneAt = time.Now().UTC()
	j.state = state
}
