package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/entity"
)

// BatchJobRepository stores the aggregate record per bulk submission.
type BatchJobRepository interface {
	Create(ctx context.Context, job *entity.BatchJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.BatchJob, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
}

type batchJobRepo struct {
	db  *DB
	log *slog.Logger
}

func NewBatchJobRepository(db *DB, log *slog.Logger) BatchJobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &batchJobRepo{db: db, log: log}
}

func (r *batchJobRepo) Create(ctx context.Context, job *entity.BatchJob) error {
	q := r.db.Rebind(`INSERT INTO batch_jobs (id, status, document_count, use_batch_api, submitted_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q,
		job.ID.String(), string(job.Status), job.DocumentCount, job.UseBatchAPI, job.SubmittedAt, job.CompletedAt)
	if err != nil {
		r.log.Error("batch_job create failed", "batch_id", job.ID, "error", err)
		return common.WrapError(err, "create batch job")
	}
	r.log.Info("batch_job created", "batch_id", job.ID, "documents", job.DocumentCount, "batch_api", job.UseBatchAPI)
	return nil
}

func (r *batchJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.BatchJob, error) {
	q := r.db.Rebind(`SELECT id, status, document_count, use_batch_api, submitted_at, completed_at
		FROM batch_jobs WHERE id = ?`)

	var (
		job    entity.BatchJob
		idStr  string
		status string
		doneAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, id.String()).Scan(
		&idStr, &status, &job.DocumentCount, &job.UseBatchAPI, &job.SubmittedAt, &doneAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "scan batch job")
	}
	job.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, common.WrapError(err, "parse batch id")
	}
	job.Status = constants.BatchStatus(status)
	if doneAt.Valid {
		job.CompletedAt = &doneAt.Time
	}
	return &job, nil
}

func (r *batchJobRepo) Complete(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := r.db.Rebind(`UPDATE batch_jobs SET status = ?, completed_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, string(constants.BatchStatusCompleted), at, id.String())
	if err != nil {
		r.log.Error("batch_job complete failed", "batch_id", id, "error", err)
		return common.WrapError(err, "complete batch job")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}
