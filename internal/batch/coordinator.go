// Package batch fans bulk submissions out over the processing queue and
// decides the accounting mode: past the threshold the discounted batch rate
// applies, and small submissions are waited on synchronously.
package batch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/entity"
	"github.com/mgebhardt/docintake/internal/extract"
	"github.com/mgebhardt/docintake/internal/queue"
	"github.com/mgebhardt/docintake/internal/repository"
	"github.com/mgebhardt/docintake/internal/webhook"
)

// Config holds the coordinator thresholds.
type Config struct {
	// BatchAPIThreshold is the document count above which the discounted
	// batch accounting mode kicks in. Strictly greater than.
	BatchAPIThreshold int
	// SyncWaitLimit is the largest submission the caller waits on inline.
	SyncWaitLimit int
	PollInterval  time.Duration
	MaxWait       time.Duration
}

// DocumentOutcome is the terminal queue state of one document in a batch.
type DocumentOutcome struct {
	DocumentID uuid.UUID       `json:"document_id"`
	Status     queue.Status    `json:"status"`
	Error      string          `json:"error,omitempty"`
	Result     *extract.Result `json:"result,omitempty"`
}

// SubmitResult is what a submission returns. Results is populated only when
// the submission was small enough to wait on.
type SubmitResult struct {
	BatchID       uuid.UUID         `json:"batch_id"`
	DocumentCount int               `json:"document_count"`
	UseBatchAPI   bool              `json:"use_batch_api"`
	Waited        bool              `json:"waited"`
	TimedOut      bool              `json:"timed_out,omitempty"`
	Results       []DocumentOutcome `json:"results,omitempty"`
}

// Coordinator owns the bulk-submission policy on top of the shared queue.
type Coordinator struct {
	cfg      Config
	batches  repository.BatchJobRepository
	docs     repository.DocumentRepository
	q        *queue.Queue[extract.JobPayload, *extract.Result]
	notifier *webhook.Notifier
	log      *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Coordinator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSleep overrides the wait-poll sleeper, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

func NewCoordinator(
	cfg Config,
	batches repository.BatchJobRepository,
	docs repository.DocumentRepository,
	q *queue.Queue[extract.JobPayload, *extract.Result],
	notifier *webhook.Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchAPIThreshold <= 0 {
		cfg.BatchAPIThreshold = 100
	}
	if cfg.SyncWaitLimit <= 0 {
		cfg.SyncWaitLimit = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Minute
	}
	c := &Coordinator{
		cfg:      cfg,
		batches:  batches,
		docs:     docs,
		q:        q,
		notifier: notifier,
		log:      logger,
		now:      time.Now,
	}
	c.sleep = func(ctx context.Context, d time.Duration) error {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// UseBatchAPI is the accounting-mode decision for a submission of n documents.
func (c *Coordinator) UseBatchAPI(n int) bool {
	return n > c.cfg.BatchAPIThreshold
}

// Submit records a batch, transitions every document to its queued state, and
// enqueues the extraction jobs. Submissions at or under SyncWaitLimit block
// until all documents reach a terminal state or MaxWait elapses; larger ones
// return immediately and are tracked asynchronously.
func (c *Coordinator) Submit(ctx context.Context, ids []uuid.UUID, opts extract.Options) (*SubmitResult, error) {
	ids = dedup(ids)
	if len(ids) == 0 {
		return nil, common.NewAppError("EMPTY_BATCH", "submission contains no documents", common.ErrInvalidInput)
	}

	useBatch := c.UseBatchAPI(len(ids))
	opts.UseBatchAPI = useBatch

	job := &entity.BatchJob{
		ID:            uuid.New(),
		Status:        constants.BatchStatusProcessing,
		DocumentCount: len(ids),
		UseBatchAPI:   useBatch,
		SubmittedAt:   c.now(),
	}
	if err := c.batches.Create(ctx, job); err != nil {
		return nil, err
	}

	queuedStatus := constants.DocStatusPending
	if useBatch {
		queuedStatus = constants.DocStatusQueuedForBatch
	}

	outcomes := make(chan DocumentOutcome, len(ids))
	for _, id := range ids {
		if err := c.docs.SetStatus(ctx, id, queuedStatus); err != nil {
			// unknown documents still get a job; extraction fails them
			// permanently with a recorded reason
			c.log.Warn("batch.document_status_failed", "batch_id", job.ID, "document_id", id, "error", err)
		}
		docID := id
		// the queue keeps one callback per id, so a document must not sit in
		// two live batches at once; resubmitting before the first batch
		// settles would orphan its tracker
		c.q.OnComplete(docID.String(), func(j *queue.Job[extract.JobPayload, *extract.Result]) {
			outcomes <- DocumentOutcome{
				DocumentID: docID,
				Status:     j.Status,
				Error:      j.Err,
				Result:     j.Result,
			}
		})
		c.q.Add(docID.String(), extract.JobPayload{DocumentID: docID, Options: opts})
	}
	c.log.Info("batch.submitted",
		"batch_id", job.ID,
		"documents", len(ids),
		"batch_api", useBatch,
		"queued_status", string(queuedStatus),
	)
	c.notifier.Notify("batch.submitted", map[string]any{
		"batch_id":       job.ID.String(),
		"document_count": len(ids),
		"use_batch_api":  useBatch,
	})

	done := make(chan []DocumentOutcome, 1)
	go c.track(job.ID, len(ids), outcomes, done)

	result := &SubmitResult{
		BatchID:       job.ID,
		DocumentCount: len(ids),
		UseBatchAPI:   useBatch,
	}
	if len(ids) > c.cfg.SyncWaitLimit {
		return result, nil
	}

	result.Waited = true
	deadline := c.now().Add(c.cfg.MaxWait)
	for {
		select {
		case collected := <-done:
			result.Results = collected
			return result, nil
		default:
		}
		if !c.now().Before(deadline) {
			c.log.Warn("batch.wait_timeout", "batch_id", job.ID, "waited", c.cfg.MaxWait)
			result.TimedOut = true
			return result, nil
		}
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return result, err
		}
	}
}

// track collects terminal outcomes and closes out the batch record once every
// document has one. It runs detached so large submissions finish their
// bookkeeping after Submit has returned.
func (c *Coordinator) track(batchID uuid.UUID, total int, outcomes <-chan DocumentOutcome, done chan<- []DocumentOutcome) {
	collected := make([]DocumentOutcome, 0, total)
	for o := range outcomes {
		collected = append(collected, o)
		if len(collected) == total {
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.batches.Complete(ctx, batchID, c.now()); err != nil {
		c.log.Error("batch.complete_failed", "batch_id", batchID, "error", err)
	}

	failed := 0
	for _, o := range collected {
		if o.Status == queue.StatusFailed {
			failed++
		}
	}
	c.log.Info("batch.completed", "batch_id", batchID, "documents", total, "failed", failed)
	c.notifier.Notify("batch.completed", map[string]any{
		"batch_id":  batchID.String(),
		"documents": total,
		"failed":    failed,
	})
	done <- collected
}

// Status reports the stored batch record alongside live queue counts.
func (c *Coordinator) Status(ctx context.Context, id uuid.UUID) (*entity.BatchJob, queue.Stats, error) {
	job, err := c.batches.GetByID(ctx, id)
	if err != nil {
		return nil, queue.Stats{}, err
	}
	return job, c.q.Stats(), nil
}

func dedup(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
