package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/entity"
)

// DocumentRepository is the persistence collaborator for documents. The
// extraction service is the only writer after creation.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	FindByContentHash(ctx context.Context, hash []byte) (*entity.Document, error)
	SetStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus) error
	SetProcessingStarted(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, at time.Time) error
	SetClassification(ctx context.Context, id uuid.UUID, c constants.Classification, confidence float64) error
	SetModelUsed(ctx context.Context, id uuid.UUID, tier constants.ModelTier) error
	FinishSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	FinishFailure(ctx context.Context, id uuid.UUID, message string, at time.Time) error
}

type documentRepo struct {
	db  *DB
	log *slog.Logger
}

func NewDocumentRepository(db *DB, log *slog.Logger) DocumentRepository {
	if log == nil {
		log = slog.Default()
	}
	return &documentRepo{db: db, log: log}
}

const documentColumns = `id, stored_filename, original_filename, file_size, content_hash, page_count,
	status, classification, classification_confidence, model_used,
	created_at, processing_started_at, processing_completed_at, error_message`

func (r *documentRepo) Create(ctx context.Context, doc *entity.Document) error {
	q := r.db.Rebind(`INSERT INTO documents (` + documentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	var cls, tier *string
	if doc.Classification != nil {
		s := string(*doc.Classification)
		cls = &s
	}
	if doc.ModelUsed != nil {
		s := string(*doc.ModelUsed)
		tier = &s
	}
	_, err := r.db.ExecContext(ctx, q,
		doc.ID.String(), doc.StoredFilename, doc.OriginalFilename, doc.FileSize,
		hex.EncodeToString(doc.ContentHash), doc.PageCount, string(doc.Status),
		cls, doc.ClassificationConfidence, tier,
		doc.CreatedAt, doc.ProcessingStartedAt, doc.ProcessingCompletedAt, doc.ErrorMessage,
	)
	if err != nil {
		r.log.Error("document create failed", "document_id", doc.ID, "error", err)
		return common.WrapError(err, "create document")
	}
	r.log.Info("document created", "document_id", doc.ID, "filename", doc.OriginalFilename, "pages", doc.PageCount)
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	q := r.db.Rebind(`SELECT ` + documentColumns + ` FROM documents WHERE id = ?`)
	return r.scanOne(r.db.QueryRowContext(ctx, q, id.String()))
}

func (r *documentRepo) FindByContentHash(ctx context.Context, hash []byte) (*entity.Document, error) {
	q := r.db.Rebind(`SELECT ` + documentColumns + ` FROM documents WHERE content_hash = ? LIMIT 1`)
	return r.scanOne(r.db.QueryRowContext(ctx, q, hex.EncodeToString(hash)))
}

func (r *documentRepo) scanOne(row *sql.Row) (*entity.Document, error) {
	var (
		doc        entity.Document
		idStr      string
		hashHex    string
		status     string
		cls, tier  sql.NullString
		confidence sql.NullFloat64
		startedAt  sql.NullTime
		doneAt     sql.NullTime
		errMsg     sql.NullString
	)
	err := row.Scan(&idStr, &doc.StoredFilename, &doc.OriginalFilename, &doc.FileSize,
		&hashHex, &doc.PageCount, &status, &cls, &confidence, &tier,
		&doc.CreatedAt, &startedAt, &doneAt, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "scan document")
	}

	doc.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse document id %q: %w", idStr, err)
	}
	doc.ContentHash, _ = hex.DecodeString(hashHex)
	doc.Status = constants.DocumentStatus(status)
	if cls.Valid {
		c := constants.Classification(cls.String)
		doc.Classification = &c
	}
	if confidence.Valid {
		doc.ClassificationConfidence = &confidence.Float64
	}
	if tier.Valid {
		t := constants.ModelTier(tier.String)
		doc.ModelUsed = &t
	}
	if startedAt.Valid {
		doc.ProcessingStartedAt = &startedAt.Time
	}
	if doneAt.Valid {
		doc.ProcessingCompletedAt = &doneAt.Time
	}
	if errMsg.Valid {
		doc.ErrorMessage = &errMsg.String
	}
	return &doc, nil
}

func (r *documentRepo) SetStatus(ctx context.Context, id uuid.UUID, status constants.DocumentStatus) error {
	q := r.db.Rebind(`UPDATE documents SET status = ? WHERE id = ?`)
	return r.exec(ctx, id, q, string(status), id.String())
}

func (r *documentRepo) SetProcessingStarted(ctx context.Context, id uuid.UUID, status constants.DocumentStatus, at time.Time) error {
	q := r.db.Rebind(`UPDATE documents SET status = ?, processing_started_at = ?, processing_completed_at = NULL, error_message = NULL WHERE id = ?`)
	return r.exec(ctx, id, q, string(status), at, id.String())
}

func (r *documentRepo) SetClassification(ctx context.Context, id uuid.UUID, c constants.Classification, confidence float64) error {
	q := r.db.Rebind(`UPDATE documents SET classification = ?, classification_confidence = ? WHERE id = ?`)
	return r.exec(ctx, id, q, string(c), confidence, id.String())
}

func (r *documentRepo) SetModelUsed(ctx context.Context, id uuid.UUID, tier constants.ModelTier) error {
	q := r.db.Rebind(`UPDATE documents SET model_used = ? WHERE id = ?`)
	return r.exec(ctx, id, q, string(tier), id.String())
}

func (r *documentRepo) FinishSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	q := r.db.Rebind(`UPDATE documents SET status = ?, processing_completed_at = ?, error_message = NULL WHERE id = ?`)
	return r.exec(ctx, id, q, string(constants.DocStatusCompleted), at, id.String())
}

func (r *documentRepo) FinishFailure(ctx context.Context, id uuid.UUID, message string, at time.Time) error {
	q := r.db.Rebind(`UPDATE documents SET status = ?, processing_completed_at = ?, error_message = ? WHERE id = ?`)
	if err := r.exec(ctx, id, q, string(constants.DocStatusFailed), at, message, id.String()); err != nil {
		return err
	}
	r.log.Warn("document failed", "document_id", id, "error", message)
	return nil
}

func (r *documentRepo) exec(ctx context.Context, id uuid.UUID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Error("document update failed", "document_id", id, "error", err)
		return common.WrapError(err, "update document")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrNotFound
	}
	return nil
}
