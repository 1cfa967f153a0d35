package server

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/costs"
	"github.com/mgebhardt/docintake/internal/entity"
	"github.com/mgebhardt/docintake/internal/extract"
	"github.com/mgebhardt/docintake/internal/ratelimit"
)

// documentView is the JSON shape of a document record.
type documentView struct {
	ID                       uuid.UUID  `json:"id"`
	OriginalFilename         string     `json:"original_filename"`
	FileSize                 int64      `json:"file_size"`
	PageCount                int        `json:"page_count"`
	Status                   string     `json:"status"`
	Classification           *string    `json:"classification,omitempty"`
	ClassificationConfidence *float64   `json:"classification_confidence,omitempty"`
	ModelUsed                *string    `json:"model_used,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	ProcessingStartedAt      *time.Time `json:"processing_started_at,omitempty"`
	ProcessingCompletedAt    *time.Time `json:"processing_completed_at,omitempty"`
	ErrorMessage             *string    `json:"error_message,omitempty"`
}

func viewOf(doc *entity.Document) documentView {
	v := documentView{
		ID:                       doc.ID,
		OriginalFilename:         doc.OriginalFilename,
		FileSize:                 doc.FileSize,
		PageCount:                doc.PageCount,
		Status:                   string(doc.Status),
		ClassificationConfidence: doc.ClassificationConfidence,
		CreatedAt:                doc.CreatedAt,
		ProcessingStartedAt:      doc.ProcessingStartedAt,
		ProcessingCompletedAt:    doc.ProcessingCompletedAt,
		ErrorMessage:             doc.ErrorMessage,
	}
	if doc.Classification != nil {
		s := string(*doc.Classification)
		v.Classification = &s
	}
	if doc.ModelUsed != nil {
		s := string(*doc.ModelUsed)
		v.ModelUsed = &s
	}
	return v
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, common.NewAppError("BAD_UPLOAD", "multipart field \"file\" is required", common.ErrInvalidInput))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, common.WrapError(err, "read upload"))
		return
	}

	sum := sha256.Sum256(data)
	if existing, err := s.docs.FindByContentHash(r.Context(), sum[:]); err == nil {
		s.log.Info("upload.duplicate", "document_id", existing.ID, "filename", header.Filename)
		s.respond(w, http.StatusOK, map[string]any{
			"duplicate": true,
			"document":  viewOf(existing),
		})
		return
	} else if !errors.Is(err, common.ErrNotFound) {
		s.respondError(w, err)
		return
	}

	stored, err := s.store.Save(r.Context(), header.Filename, data)
	if err != nil {
		s.respondError(w, err)
		return
	}

	doc := &entity.Document{
		ID:               uuid.New(),
		StoredFilename:   stored.StoredFilename,
		OriginalFilename: header.Filename,
		FileSize:         stored.Size,
		ContentHash:      stored.ContentHash,
		PageCount:        stored.PageCount,
		Status:           constants.DocStatusPending,
		CreatedAt:        time.Now(),
	}
	if err := s.docs.Create(r.Context(), doc); err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, map[string]any{
		"duplicate": false,
		"document":  viewOf(doc),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, common.NewAppError("BAD_ID", "invalid document id", common.ErrInvalidInput))
		return
	}

	doc, err := s.docs.GetByID(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	body := map[string]any{"document": viewOf(doc)}
	if data, err := s.extracted.GetByDocumentID(r.Context(), id); err == nil {
		body["extraction"] = map[string]any{
			"fields":             data.Fields,
			"confidence_scores":  data.ConfidenceScores,
			"overall_confidence": data.OverallConfidence,
			"needs_review":       data.NeedsReview,
			"review_notes":       data.ReviewNotes,
			"parse_error":        data.ParseError,
		}
	}
	if m, err := s.metrics.GetByDocumentID(r.Context(), id); err == nil {
		body["cost"] = map[string]any{
			"input_tokens":   m.InputTokens,
			"output_tokens":  m.OutputTokens,
			"model":          string(m.Model),
			"estimated_cost": m.EstimatedCost,
			"used_batch_api": m.UsedBatchAPI,
		}
	}
	s.respond(w, http.StatusOK, body)
}

type extractRequest struct {
	ForceModel         string `json:"force_model,omitempty"`
	SkipClassification bool   `json:"skip_classification,omitempty"`
	// Wait runs the extraction inline instead of queueing it.
	Wait bool `json:"wait,omitempty"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, common.NewAppError("BAD_ID", "invalid document id", common.ErrInvalidInput))
		return
	}

	var req extractRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, common.NewAppError("BAD_BODY", "invalid JSON body", common.ErrInvalidInput))
			return
		}
	}
	tier, err := parseTier(req.ForceModel)
	if err != nil {
		s.respondError(w, err)
		return
	}
	opts := extract.Options{ForceModel: tier, SkipClassification: req.SkipClassification}

	if req.Wait {
		result, err := s.svc.Extract(r.Context(), id, opts)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respond(w, http.StatusOK, result)
		return
	}

	job := s.q.Add(id.String(), extract.JobPayload{DocumentID: id, Options: opts})
	s.respond(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

type batchRequest struct {
	DocumentIDs        []string `json:"document_ids"`
	ForceModel         string   `json:"force_model,omitempty"`
	SkipClassification bool     `json:"skip_classification,omitempty"`
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, common.NewAppError("BAD_BODY", "invalid JSON body", common.ErrInvalidInput))
		return
	}
	tier, err := parseTier(req.ForceModel)
	if err != nil {
		s.respondError(w, err)
		return
	}

	ids := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.respondError(w, common.NewAppError("BAD_ID", fmt.Sprintf("invalid document id %q", raw), common.ErrInvalidInput))
			return
		}
		ids = append(ids, id)
	}

	result, err := s.coordinator.Submit(r.Context(), ids, extract.Options{
		ForceModel:         tier,
		SkipClassification: req.SkipClassification,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	status := http.StatusOK
	if !result.Waited {
		status = http.StatusAccepted
	}
	s.respond(w, status, result)
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.respondError(w, common.NewAppError("BAD_ID", "invalid batch id", common.ErrInvalidInput))
		return
	}
	job, stats, err := s.coordinator.Status(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"batch": map[string]any{
			"id":             job.ID,
			"status":         string(job.Status),
			"document_count": job.DocumentCount,
			"use_batch_api":  job.UseBatchAPI,
			"submitted_at":   job.SubmittedAt,
			"completed_at":   job.CompletedAt,
		},
		"queue": stats,
	})
}

type estimateRequest struct {
	DocumentCount   int    `json:"document_count"`
	AvgTokensPerDoc int    `json:"avg_tokens_per_doc,omitempty"`
	Tier            string `json:"tier,omitempty"`
}

func (s *Server) handleBatchEstimate(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, common.NewAppError("BAD_BODY", "invalid JSON body", common.ErrInvalidInput))
		return
	}
	if req.DocumentCount <= 0 {
		s.respondError(w, common.NewAppError("BAD_COUNT", "document_count must be positive", common.ErrInvalidInput))
		return
	}
	if req.AvgTokensPerDoc <= 0 {
		req.AvgTokensPerDoc = 2000
	}
	tier, err := parseTier(req.Tier)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if tier == "" {
		tier = constants.TierHigh
	}

	useBatch := s.coordinator.UseBatchAPI(req.DocumentCount)
	e := costs.EstimateBatch(req.DocumentCount, req.AvgTokensPerDoc, tier, useBatch)
	s.respond(w, http.StatusOK, map[string]any{
		"document_count":  e.DocumentCount,
		"use_batch_api":   useBatch,
		"standard_cost":   e.StandardCost,
		"discounted_cost": e.DiscountedCost,
		"savings":         e.Savings,
		"projected_cost":  e.ProjectedCost,
	})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"stats":      s.q.Stats(),
		"recent":     s.q.Recent(20),
		"rate_limit": rateLimitView(s.limiter.Status()),
	})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	cleared := s.q.Clear()
	s.log.Info("queue.cleared", "jobs", cleared)
	s.respond(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (s *Server) handleCostSummary(w http.ResponseWriter, r *http.Request) {
	records, err := s.metrics.ListAll(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	summary := costs.Summarize(records)
	byModel := make(map[string]float64, len(summary.CostByModel))
	for tier, cost := range summary.CostByModel {
		byModel[string(tier)] = cost
	}
	s.respond(w, http.StatusOK, map[string]any{
		"total_cost":                summary.TotalCost,
		"cost_by_model":             byModel,
		"batch_savings":             summary.BatchSavings,
		"average_cost_per_document": summary.AverageCostPerDocument,
		"document_count":            summary.DocumentCount,
	})
}

func (s *Server) handleCostExport(w http.ResponseWriter, r *http.Request) {
	records, err := s.metrics.ListAll(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	data, err := costs.WriteReportXLSX(records, s.log)
	if err != nil {
		s.respondError(w, err)
		return
	}
	name := fmt.Sprintf("costs-%s.xlsx", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"queue":      s.q.Stats(),
		"rate_limit": rateLimitView(s.limiter.Status()),
	})
}

func parseTier(raw string) (constants.ModelTier, error) {
	switch constants.ModelTier(raw) {
	case "", constants.TierHigh, constants.TierLow:
		return constants.ModelTier(raw), nil
	default:
		return "", common.NewAppError("BAD_MODEL", fmt.Sprintf("unknown model tier %q", raw), common.ErrInvalidInput)
	}
}

func rateLimitView(status ratelimit.Status) map[string]any {
	return map[string]any{
		"limited":        status.Limited,
		"remaining":      status.Remaining,
		"retry_after_ms": status.RetryAfter.Milliseconds(),
		"message":        status.Message,
	}
}
