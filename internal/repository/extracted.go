package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/entity"
	"github.com/mgebhardt/docintake/internal/llm"
)

// ExtractedDataRepository stores the one-to-one extraction result rows.
// Upsert keeps re-extraction replace-not-append semantics.
type ExtractedDataRepository interface {
	Upsert(ctx context.Context, data *entity.ExtractedData) error
	GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.ExtractedData, error)
}

type extractedDataRepo struct {
	db  *DB
	log *slog.Logger
}

func NewExtractedDataRepository(db *DB, log *slog.Logger) ExtractedDataRepository {
	if log == nil {
		log = slog.Default()
	}
	return &extractedDataRepo{db: db, log: log}
}

func (r *extractedDataRepo) Upsert(ctx context.Context, data *entity.ExtractedData) error {
	fields, err := json.Marshal(data.Fields)
	if err != nil {
		return common.WrapError(err, "marshal fields")
	}
	scores, err := json.Marshal(data.ConfidenceScores)
	if err != nil {
		return common.WrapError(err, "marshal confidence scores")
	}

	q := r.db.Rebind(`INSERT INTO extracted_data
		(document_id, fields_json, raw_response, confidence_scores, overall_confidence, needs_review, review_notes, parse_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			fields_json = excluded.fields_json,
			raw_response = excluded.raw_response,
			confidence_scores = excluded.confidence_scores,
			overall_confidence = excluded.overall_confidence,
			needs_review = excluded.needs_review,
			review_notes = excluded.review_notes,
			parse_error = excluded.parse_error,
			created_at = excluded.created_at`)

	_, err = r.db.ExecContext(ctx, q,
		data.DocumentID.String(), string(fields), nullableString(data.RawResponse),
		string(scores), data.OverallConfidence, data.NeedsReview,
		data.ReviewNotes, data.ParseError, data.CreatedAt,
	)
	if err != nil {
		r.log.Error("extracted_data upsert failed", "document_id", data.DocumentID, "error", err)
		return common.WrapError(err, "upsert extracted data")
	}
	r.log.Info("extracted_data stored",
		"document_id", data.DocumentID,
		"needs_review", data.NeedsReview,
		"overall_confidence", data.OverallConfidence,
	)
	return nil
}

func (r *extractedDataRepo) GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.ExtractedData, error) {
	q := r.db.Rebind(`SELECT document_id, fields_json, raw_response, confidence_scores,
		overall_confidence, needs_review, review_notes, parse_error, created_at
		FROM extracted_data WHERE document_id = ?`)

	var (
		data     entity.ExtractedData
		idStr    string
		fieldsJS string
		rawResp  sql.NullString
		scoresJS string
		notes    sql.NullString
	)
	err := r.db.QueryRowContext(ctx, q, documentID.String()).Scan(
		&idStr, &fieldsJS, &rawResp, &scoresJS,
		&data.OverallConfidence, &data.NeedsReview, &notes, &data.ParseError, &data.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "scan extracted data")
	}

	data.DocumentID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, common.WrapError(err, "parse document id")
	}
	var fields llm.DocumentFields
	if err := json.Unmarshal([]byte(fieldsJS), &fields); err != nil {
		return nil, common.WrapError(err, "unmarshal fields")
	}
	data.Fields = fields
	if err := json.Unmarshal([]byte(scoresJS), &data.ConfidenceScores); err != nil {
		return nil, common.WrapError(err, "unmarshal confidence scores")
	}
	if rawResp.Valid {
		data.RawResponse = json.RawMessage(rawResp.String)
	}
	if notes.Valid {
		data.ReviewNotes = &notes.String
	}
	return &data, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
