package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/costs"
	"github.com/mgebhardt/docintake/internal/entity"
)

// CostMetricsRepository stores per-document cost rows, keyed by document.
type CostMetricsRepository interface {
	Upsert(ctx context.Context, m *entity.CostMetrics) error
	GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.CostMetrics, error)
	ListAll(ctx context.Context) ([]costs.Record, error)
}

type costMetricsRepo struct {
	db  *DB
	log *slog.Logger
}

func NewCostMetricsRepository(db *DB, log *slog.Logger) CostMetricsRepository {
	if log == nil {
		log = slog.Default()
	}
	return &costMetricsRepo{db: db, log: log}
}

func (r *costMetricsRepo) Upsert(ctx context.Context, m *entity.CostMetrics) error {
	q := r.db.Rebind(`INSERT INTO cost_metrics
		(document_id, input_tokens, output_tokens, model, estimated_cost, used_batch_api, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			input_tokens = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			model = excluded.model,
			estimated_cost = excluded.estimated_cost,
			used_batch_api = excluded.used_batch_api,
			updated_at = excluded.updated_at`)

	_, err := r.db.ExecContext(ctx, q,
		m.DocumentID.String(), m.InputTokens, m.OutputTokens,
		string(m.Model), m.EstimatedCost, m.UsedBatchAPI, m.UpdatedAt,
	)
	if err != nil {
		r.log.Error("cost_metrics upsert failed", "document_id", m.DocumentID, "error", err)
		return common.WrapError(err, "upsert cost metrics")
	}
	r.log.Info("cost_metrics stored",
		"document_id", m.DocumentID,
		"model", string(m.Model),
		"estimated_cost", m.EstimatedCost,
		"batch_api", m.UsedBatchAPI,
	)
	return nil
}

func (r *costMetricsRepo) GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.CostMetrics, error) {
	q := r.db.Rebind(`SELECT document_id, input_tokens, output_tokens, model, estimated_cost, used_batch_api, updated_at
		FROM cost_metrics WHERE document_id = ?`)

	var (
		m     entity.CostMetrics
		idStr string
		model string
	)
	err := r.db.QueryRowContext(ctx, q, documentID.String()).Scan(
		&idStr, &m.InputTokens, &m.OutputTokens, &model, &m.EstimatedCost, &m.UsedBatchAPI, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, common.WrapError(err, "scan cost metrics")
	}
	m.DocumentID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, common.WrapError(err, "parse document id")
	}
	m.Model = constants.ModelTier(model)
	return &m, nil
}

func (r *costMetricsRepo) ListAll(ctx context.Context) ([]costs.Record, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document_id, input_tokens, output_tokens, model, estimated_cost, used_batch_api FROM cost_metrics`)
	if err != nil {
		return nil, common.WrapError(err, "list cost metrics")
	}
	defer rows.Close()

	var out []costs.Record
	for rows.Next() {
		var (
			rec   costs.Record
			model string
		)
		if err := rows.Scan(&rec.DocumentID, &rec.InputTokens, &rec.OutputTokens, &model, &rec.EstimatedCost, &rec.UsedBatchAPI); err != nil {
			return nil, common.WrapError(err, "scan cost record")
		}
		rec.Model = constants.ModelTier(model)
		out = append(out, rec)
	}
	return out, rows.Err()
}
