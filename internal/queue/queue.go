// Package queue is a bounded-concurrency, in-memory job runner with
// retry-and-backoff. All state lives in process memory; a crash loses queued
// and in-flight jobs, which is an accepted scope limit of the intake service.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mgebhardt/docintake/internal/common"
)

// Status is the lifecycle state of one tracked job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one unit of queued work.
type Job[P, R any] struct {
	ID          string
	Payload     P
	Status      Status
	Result      R
	Err         string
	Retries     int
	MaxRetries  int
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Processor is the strategy the queue drives. It is injected at construction
// so there is no register-before-first-job ordering hazard.
type Processor[P, R any] interface {
	Process(ctx context.Context, job *Job[P, R]) (R, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc[P, R any] func(ctx context.Context, job *Job[P, R]) (R, error)

func (f ProcessorFunc[P, R]) Process(ctx context.Context, job *Job[P, R]) (R, error) {
	return f(ctx, job)
}

// Stats are live counts over all tracked jobs.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Summary is the externally visible view of one job.
type Summary struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Retries     int       `json:"retries"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Queue schedules jobs FIFO under a fixed concurrency ceiling. Completion
// order is not guaranteed.
type Queue[P, R any] struct {
	proc        Processor[P, R]
	log         *slog.Logger
	concurrency int
	maxRetries  int
	retryDelay  time.Duration
	timeout     time.Duration
	schedule    func(d time.Duration, f func()) func()
	notifier    func(Summary)

	mu         sync.Mutex
	pending    []*Job[P, R]
	inFlight   int          // counter, not a map: duplicate ids must each hold a slot
	jobs       []*Job[P, R] // every tracked entry, duplicates allowed
	byID       map[string]*Job[P, R]
	onComplete map[string]func(*Job[P, R])
	closed     bool
	wg         sync.WaitGroup
}

type Option[P, R any] func(*Queue[P, R])

func WithConcurrency[P, R any](n int) Option[P, R] {
	return func(q *Queue[P, R]) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

func WithMaxRetries[P, R any](n int) Option[P, R] {
	return func(q *Queue[P, R]) {
		if n > 0 {
			q.maxRetries = n
		}
	}
}

func WithRetryDelay[P, R any](d time.Duration) Option[P, R] {
	return func(q *Queue[P, R]) {
		if d >= 0 {
			q.retryDelay = d
		}
	}
}

func WithJobTimeout[P, R any](d time.Duration) Option[P, R] {
	return func(q *Queue[P, R]) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithNotifier registers a callback fired on every job state change, used to
// feed the websocket broadcast.
func WithNotifier[P, R any](fn func(Summary)) Option[P, R] {
	return func(q *Queue[P, R]) { q.notifier = fn }
}

// WithScheduler overrides the requeue timer, for tests.
func WithScheduler[P, R any](schedule func(d time.Duration, f func()) func()) Option[P, R] {
	return func(q *Queue[P, R]) { q.schedule = schedule }
}

func New[P, R any](proc Processor[P, R], logger *slog.Logger, opts ...Option[P, R]) *Queue[P, R] {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue[P, R]{
		proc:        proc,
		log:         logger,
		concurrency: 5,
		maxRetries:  3,
		retryDelay:  2 * time.Second,
		timeout:     5 * time.Minute,
		byID:        make(map[string]*Job[P, R]),
		onComplete:  make(map[string]func(*Job[P, R])),
	}
	q.schedule = func(d time.Duration, f func()) func() {
		t := time.AfterFunc(d, f)
		return func() { t.Stop() }
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Add tracks a new pending job and triggers a scheduling tick. Adding an id
// that is already tracked produces a second entry; dedup is the caller's
// responsibility.
func (q *Queue[P, R]) Add(id string, payload P) *Job[P, R] {
	job := &Job[P, R]{
		ID:         id,
		Payload:    payload,
		Status:     StatusPending,
		MaxRetries: q.maxRetries,
		CreatedAt:  time.Now(),
	}

	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.jobs = append(q.jobs, job)
	q.byID[id] = job
	q.dispatchLocked()
	q.mu.Unlock()

	q.log.Info("queue.job.added", "job_id", id)
	q.notify(job)
	return job
}

// OnComplete registers at most one callback per job id, fired once when the
// job reaches a terminal state, then discarded.
func (q *Queue[P, R]) OnComplete(id string, fn func(*Job[P, R])) {
	q.mu.Lock()
	q.onComplete[id] = fn
	q.mu.Unlock()
}

// Get returns the most recently added job with the given id.
func (q *Queue[P, R]) Get(id string) (*Job[P, R], bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.byID[id]
	return job, ok
}

// Stats scans all tracked jobs.
func (q *Queue[P, R]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	var s Stats
	for _, job := range q.jobs {
		switch job.Status {
		case StatusPending:
			s.Pending++
		case StatusProcessing:
			s.Processing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	s.Total = len(q.jobs)
	return s
}

// Recent returns summaries of the n most recently added jobs, newest first.
func (q *Queue[P, R]) Recent(n int) []Summary {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n > len(q.jobs) {
		n = len(q.jobs)
	}
	out := make([]Summary, 0, n)
	for i := len(q.jobs) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, summarize(q.jobs[i]))
	}
	return out
}

// Clear drops all jobs in terminal states from tracking. Pending and
// processing jobs are untouched. Returns the number of dropped entries.
func (q *Queue[P, R]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]
	dropped := 0
	for _, job := range q.jobs {
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			dropped++
			if q.byID[job.ID] == job {
				delete(q.byID, job.ID)
			}
			continue
		}
		kept = append(kept, job)
	}
	q.jobs = kept
	return dropped
}

// Shutdown stops admission and waits for in-flight jobs, bounded by ctx.
func (q *Queue[P, R]) Shutdown(ctx context.Context) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.log.Warn("queue.shutdown_interrupted")
	case <-done:
		q.log.Info("queue.drained")
	}
}

// dispatchLocked backfills free concurrency slots from the head of the
// pending list. Callers hold q.mu.
func (q *Queue[P, R]) dispatchLocked() {
	for !q.closed && len(q.pending) > 0 && q.inFlight < q.concurrency {
		job := q.pending[0]
		q.pending = q.pending[1:]
		job.Status = StatusProcessing
		job.StartedAt = time.Now()
		q.inFlight++
		q.wg.Add(1)
		go q.run(job)
	}
}

func (q *Queue[P, R]) run(job *Job[P, R]) {
	defer q.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	result, err := q.proc.Process(ctx, job)
	cancel()

	q.mu.Lock()
	q.inFlight--

	switch {
	case err == nil:
		job.Result = result
		job.Status = StatusCompleted
		job.CompletedAt = time.Now()
		q.log.Info("queue.job.completed", "job_id", job.ID, "retries", job.Retries)
		q.fireCompleteLocked(job)

	case common.IsPermanent(err):
		// the processor already decided this cannot succeed; spending the
		// retry budget on it would only repeat the failure
		job.Err = err.Error()
		job.Status = StatusFailed
		job.CompletedAt = time.Now()
		q.log.Warn("queue.job.failed_permanent", "job_id", job.ID, "error", err)
		q.fireCompleteLocked(job)

	default:
		job.Retries++
		if job.Retries < job.MaxRetries {
			delay := q.retryDelay * time.Duration(job.Retries)
			job.Status = StatusPending
			q.log.Warn("queue.job.retrying",
				"job_id", job.ID, "retries", job.Retries, "delay_ms", delay.Milliseconds(), "error", err)
			q.schedule(delay, func() { q.requeue(job) })
		} else {
			job.Err = err.Error()
			job.Status = StatusFailed
			job.CompletedAt = time.Now()
			q.log.Error("queue.job.failed", "job_id", job.ID, "retries", job.Retries, "error", err)
			q.fireCompleteLocked(job)
		}
	}

	q.dispatchLocked()
	q.mu.Unlock()
	q.notify(job)
}

func (q *Queue[P, R]) requeue(job *Job[P, R]) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, job)
	q.dispatchLocked()
	q.mu.Unlock()
	q.notify(job)
}

// fireCompleteLocked pops and schedules the one-shot completion callback.
// Callers hold q.mu; the callback itself runs without the lock.
func (q *Queue[P, R]) fireCompleteLocked(job *Job[P, R]) {
	fn, ok := q.onComplete[job.ID]
	if !ok {
		return
	}
	delete(q.onComplete, job.ID)
	go fn(job)
}

func (q *Queue[P, R]) notify(job *Job[P, R]) {
	if q.notifier == nil {
		return
	}
	q.mu.Lock()
	s := summarize(job)
	q.mu.Unlock()
	q.notifier(s)
}

func summarize[P, R any](job *Job[P, R]) Summary {
	return Summary{
		ID:          job.ID,
		Status:      job.Status,
		Retries:     job.Retries,
		Error:       job.Err,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}
}
