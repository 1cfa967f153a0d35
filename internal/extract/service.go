// Package extract drives one document through the intake pipeline:
// PENDING -> PREPROCESSING -> CLASSIFYING -> EXTRACTING -> COMPLETED, with
// FAILED absorbing any fatal step. Degraded-but-usable outcomes (bad parse,
// failed classification) complete with review flags instead of failing.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/classify"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/costs"
	"github.com/mgebhardt/docintake/internal/entity"
	"github.com/mgebhardt/docintake/internal/llm"
	"github.com/mgebhardt/docintake/internal/queue"
	"github.com/mgebhardt/docintake/internal/ratelimit"
	"github.com/mgebhardt/docintake/internal/repository"
	"github.com/mgebhardt/docintake/internal/storage"
	"github.com/mgebhardt/docintake/internal/webhook"
)

// DocumentClassifier is the routing collaborator. classify.Classifier
// satisfies it; tests substitute fixed answers.
type DocumentClassifier interface {
	Classify(ctx context.Context, sample []byte, filename string) classify.Result
}

// Options tune a single extraction run.
type Options struct {
	// ForceModel pins the tier and bypasses routing. It also overrides the
	// completed-document short-circuit, forcing a re-extraction.
	ForceModel constants.ModelTier `json:"force_model,omitempty"`
	// SkipClassification extracts without the routing call, on ForceModel or
	// the accurate tier when no model is forced.
	SkipClassification bool `json:"skip_classification,omitempty"`
	// UseBatchAPI switches cost accounting to the discounted batch rate.
	UseBatchAPI bool `json:"use_batch_api,omitempty"`
}

// Result is the per-document outcome returned to callers and batch waiters.
type Result struct {
	DocumentID        uuid.UUID           `json:"document_id"`
	PDFFileName       string              `json:"pdf_file_name"`
	Status            string              `json:"status"` // "success" or "partial"
	Fields            llm.DocumentFields  `json:"fields"`
	ConfidenceScores  map[string]float64  `json:"confidence_scores"`
	OverallConfidence float64             `json:"overall_confidence"`
	NeedsReview       bool                `json:"needs_review"`
	ReviewNotes       []string            `json:"review_notes,omitempty"`
	ModelUsed         constants.ModelTier `json:"model_used,omitempty"`
	ParseError        bool                `json:"parse_error,omitempty"`
}

// Service is the extraction state machine. One instance serves all documents;
// per-document state lives in the database rows it updates.
type Service struct {
	docs       repository.DocumentRepository
	extracted  repository.ExtractedDataRepository
	metrics    repository.CostMetricsRepository
	files      storage.FileStore
	classifier DocumentClassifier
	provider   llm.Client
	limiter    *ratelimit.Limiter
	notifier   *webhook.Notifier
	log        *slog.Logger
	now        func() time.Time
}

type ServiceOption func(*Service)

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

func NewService(
	docs repository.DocumentRepository,
	extracted repository.ExtractedDataRepository,
	metrics repository.CostMetricsRepository,
	files storage.FileStore,
	classifier DocumentClassifier,
	provider llm.Client,
	limiter *ratelimit.Limiter,
	notifier *webhook.Notifier,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		docs:       docs,
		extracted:  extracted,
		metrics:    metrics,
		files:      files,
		classifier: classifier,
		provider:   provider,
		limiter:    limiter,
		notifier:   notifier,
		log:        logger,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Extract runs the full pipeline for one stored document. A document already
// COMPLETED returns its stored result without touching the provider, unless
// ForceModel demands a re-run. Fatal errors mark the document FAILED and come
// back wrapped so the queue knows whether a retry can help.
func (s *Service) Extract(ctx context.Context, documentID uuid.UUID, opts Options) (*Result, error) {
	doc, err := s.docs.GetByID(ctx, documentID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.Permanent(fmt.Errorf("document %s: %w", documentID, common.ErrNotFound))
	}
	if err != nil {
		return nil, err
	}

	if doc.Status == constants.DocStatusCompleted && opts.ForceModel == "" {
		if result, ok, err := s.replay(ctx, doc); err != nil {
			return nil, err
		} else if ok {
			s.log.Info("extract.replayed", "document_id", documentID)
			return result, nil
		}
		// completed without a stored result row, run the pipeline again
		s.log.Warn("extract.completed_without_data", "document_id", documentID)
	}

	if err := s.docs.SetProcessingStarted(ctx, documentID, constants.DocStatusPreprocessing, s.now()); err != nil {
		return nil, err
	}
	s.log.Info("extract.start", "document_id", documentID, "filename", doc.OriginalFilename, "pages", doc.PageCount)
	s.notifier.Notify("document.processing", map[string]any{
		"document_id": documentID.String(),
		"status":      string(constants.DocStatusPreprocessing),
	})

	payload, err := s.files.ReadDocument(ctx, doc.StoredFilename)
	if err != nil {
		// the payload will not appear on a retry
		return nil, s.fail(ctx, documentID, common.Permanent(common.WrapError(err, "read document payload")))
	}

	classification, tier := s.route(ctx, doc, payload, opts)

	if err := s.docs.SetStatus(ctx, documentID, constants.DocStatusExtracting); err != nil {
		return nil, err
	}
	if err := s.docs.SetModelUsed(ctx, documentID, tier); err != nil {
		return nil, err
	}

	handwritten := classification == constants.Handwritten || classification == constants.Mixed
	prompt := llm.SelectPrompt(handwritten, doc.PageCount > 1) + "\n\n" + llm.BuildUserContext(doc.OriginalFilename, doc.PageCount)

	var resp *llm.CallResponse
	callErr := s.limiter.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.provider.Call(ctx, llm.CallRequest{
			Prompt:   prompt,
			Document: payload,
			Filename: doc.OriginalFilename,
			Tier:     tier,
		})
		return err
	})
	if callErr != nil {
		if errors.Is(callErr, ratelimit.ErrMaxRetries) {
			// the limiter already spent its own retry budget
			callErr = common.Permanent(callErr)
		}
		return nil, s.fail(ctx, documentID, callErr)
	}

	parsed := llm.ParseExtraction(resp.Text, s.log)
	issues := ValidateFields(parsed.Fields)
	if !parsed.OK {
		issues = append(issues, "provider response could not be parsed")
	}

	scores := parsed.Confidences
	if scores == nil {
		scores = map[string]float64{}
	}
	overall := OverallConfidence(scores)
	needsReview := NeedsReview(issues, scores)

	var notes *string
	if len(issues) > 0 {
		joined := strings.Join(issues, "; ")
		notes = &joined
	}

	record := &entity.ExtractedData{
		DocumentID:        documentID,
		Fields:            parsed.Fields,
		RawResponse:       parsed.Raw,
		ConfidenceScores:  scores,
		OverallConfidence: overall,
		NeedsReview:       needsReview,
		ReviewNotes:       notes,
		ParseError:        !parsed.OK,
		CreatedAt:         s.now(),
	}
	if err := s.extracted.Upsert(ctx, record); err != nil {
		return nil, s.fail(ctx, documentID, err)
	}

	if resp.Usage != nil {
		metric := &entity.CostMetrics{
			DocumentID:    documentID,
			InputTokens:   resp.Usage.InputTokens,
			OutputTokens:  resp.Usage.OutputTokens,
			Model:         tier,
			EstimatedCost: costs.Price(resp.Usage.InputTokens, resp.Usage.OutputTokens, tier, opts.UseBatchAPI),
			UsedBatchAPI:  opts.UseBatchAPI,
			UpdatedAt:     s.now(),
		}
		if err := s.metrics.Upsert(ctx, metric); err != nil {
			// lost accounting must not fail a finished extraction
			s.log.Error("extract.cost_upsert_failed", "document_id", documentID, "error", err)
		}
	}

	if err := s.docs.FinishSuccess(ctx, documentID, s.now()); err != nil {
		return nil, err
	}

	status := "success"
	if needsReview {
		status = "partial"
	}
	s.log.Info("extract.done",
		"document_id", documentID,
		"status", status,
		"model", string(tier),
		"overall_confidence", overall,
		"needs_review", needsReview,
	)
	s.notifier.Notify("document.completed", map[string]any{
		"document_id":  documentID.String(),
		"status":       status,
		"needs_review": needsReview,
	})

	return &Result{
		DocumentID:        documentID,
		PDFFileName:       doc.OriginalFilename,
		Status:            status,
		Fields:            parsed.Fields,
		ConfidenceScores:  scores,
		OverallConfidence: overall,
		NeedsReview:       needsReview,
		ReviewNotes:       issues,
		ModelUsed:         tier,
		ParseError:        !parsed.OK,
	}, nil
}

// route decides the model tier and persists the classification. It never
// aborts the pipeline: a missing classifier falls back to TYPED so extraction
// can still proceed on the fast tier.
func (s *Service) route(ctx context.Context, doc *entity.Document, payload []byte, opts Options) (constants.Classification, constants.ModelTier) {
	if opts.ForceModel != "" || opts.SkipClassification {
		tier := opts.ForceModel
		if tier == "" {
			tier = constants.TierHigh
		}
		s.log.Info("extract.routing_skipped", "document_id", doc.ID, "model", string(tier))
		return "", tier
	}

	if err := s.docs.SetStatus(ctx, doc.ID, constants.DocStatusClassifying); err != nil {
		s.log.Warn("extract.status_update_failed", "document_id", doc.ID, "error", err)
	}

	if s.classifier == nil {
		s.log.Warn("extract.classifier_unavailable", "document_id", doc.ID)
		return constants.Typed, classify.RouteModel(constants.Typed)
	}

	res := s.classifier.Classify(ctx, payload, doc.OriginalFilename)
	if err := s.docs.SetClassification(ctx, doc.ID, res.Type, res.Confidence); err != nil {
		s.log.Warn("extract.classification_persist_failed", "document_id", doc.ID, "error", err)
	}
	return res.Type, res.RecommendedModel
}

// replay rebuilds a Result from the stored extraction row. ok=false means the
// row is missing and the caller should re-run the pipeline.
func (s *Service) replay(ctx context.Context, doc *entity.Document) (*Result, bool, error) {
	data, err := s.extracted.GetByDocumentID(ctx, doc.ID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	status := "success"
	if data.NeedsReview {
		status = "partial"
	}
	result := &Result{
		DocumentID:        doc.ID,
		PDFFileName:       doc.OriginalFilename,
		Status:            status,
		Fields:            data.Fields,
		ConfidenceScores:  data.ConfidenceScores,
		OverallConfidence: data.OverallConfidence,
		NeedsReview:       data.NeedsReview,
		ParseError:        data.ParseError,
	}
	if data.ReviewNotes != nil {
		result.ReviewNotes = strings.Split(*data.ReviewNotes, "; ")
	}
	if doc.ModelUsed != nil {
		result.ModelUsed = *doc.ModelUsed
	}
	return result, true, nil
}

// fail transitions the document to FAILED and hands the cause back for the
// queue to classify as retryable or not.
func (s *Service) fail(ctx context.Context, id uuid.UUID, cause error) error {
	if err := s.docs.FinishFailure(ctx, id, cause.Error(), s.now()); err != nil {
		s.log.Error("extract.mark_failed", "document_id", id, "error", err)
	}
	s.notifier.Notify("document.failed", map[string]any{
		"document_id": id.String(),
		"error":       cause.Error(),
	})
	return cause
}

// JobPayload is what the processing queue carries per document.
type JobPayload struct {
	DocumentID uuid.UUID `json:"document_id"`
	Options    Options   `json:"options"`
}

// Processor adapts the service for the queue.
func (s *Service) Processor() queue.Processor[JobPayload, *Result] {
	return queue.ProcessorFunc[JobPayload, *Result](func(ctx context.Context, job *queue.Job[JobPayload, *Result]) (*Result, error) {
		return s.Extract(ctx, job.Payload.DocumentID, job.Payload.Options)
	})
}
