package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/batch"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/costs"
	"github.com/mgebhardt/docintake/internal/entity"
	"github.com/mgebhardt/docintake/internal/extract"
	"github.com/mgebhardt/docintake/internal/queue"
	"github.com/mgebhardt/docintake/internal/ratelimit"
	"github.com/mgebhardt/docintake/internal/storage"
	"github.com/mgebhardt/docintake/internal/webhook"
)

type memDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*entity.Document
}

func newMemDocs() *memDocs {
	return &memDocs{docs: make(map[uuid.UUID]*entity.Document)}
}

func (m *memDocs) Create(_ context.Context, doc *entity.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memDocs) GetByID(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return doc, nil
}

func (m *memDocs) FindByContentHash(_ context.Context, hash []byte) (*entity.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, doc := range m.docs {
		if bytes.Equal(doc.ContentHash, hash) {
			return doc, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memDocs) SetStatus(context.Context, uuid.UUID, constants.DocumentStatus) error { return nil }
func (m *memDocs) SetProcessingStarted(context.Context, uuid.UUID, constants.DocumentStatus, time.Time) error {
	return nil
}
func (m *memDocs) SetClassification(context.Context, uuid.UUID, constants.Classification, float64) error {
	return nil
}
func (m *memDocs) SetModelUsed(context.Context, uuid.UUID, constants.ModelTier) error { return nil }
func (m *memDocs) FinishSuccess(context.Context, uuid.UUID, time.Time) error          { return nil }
func (m *memDocs) FinishFailure(context.Context, uuid.UUID, string, time.Time) error  { return nil }

type memExtracted struct{}

func (memExtracted) Upsert(context.Context, *entity.ExtractedData) error { return nil }
func (memExtracted) GetByDocumentID(context.Context, uuid.UUID) (*entity.ExtractedData, error) {
	return nil, common.ErrNotFound
}

type memMetrics struct{ records []costs.Record }

func (m *memMetrics) Upsert(context.Context, *entity.CostMetrics) error { return nil }
func (m *memMetrics) GetByDocumentID(context.Context, uuid.UUID) (*entity.CostMetrics, error) {
	return nil, common.ErrNotFound
}
func (m *memMetrics) ListAll(context.Context) ([]costs.Record, error) { return m.records, nil }

func newTestServer(t *testing.T) (*Server, *memDocs) {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	docs := newMemDocs()
	limiter := ratelimit.New(ratelimit.Config{}, nil)
	notifier := webhook.NewNotifier("", 0, nil)

	proc := queue.ProcessorFunc[extract.JobPayload, *extract.Result](
		func(_ context.Context, job *queue.Job[extract.JobPayload, *extract.Result]) (*extract.Result, error) {
			return &extract.Result{DocumentID: job.Payload.DocumentID, Status: "success"}, nil
		})
	q := queue.New(proc, nil)
	coordinator := batch.NewCoordinator(batch.Config{}, nil, docs, q, notifier, nil)

	cfg := common.ServerConfig{
		Addr:                  ":0",
		MaxConcurrentRequests: 8,
		MaxUploadBytes:        1 << 20,
		IPRateLimitEvery:      time.Millisecond,
		IPRateLimitBurst:      100,
	}
	srv := New(cfg, store, docs, memExtracted{}, &memMetrics{}, nil, q, coordinator, limiter, NewWSManager(nil), nil)
	return srv, docs
}

func multipartBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("form write: %v", err)
	}
	_ = w.Close()
	return &buf, w.FormDataContentType()
}

func TestUploadCreatesDocument(t *testing.T) {
	srv, docs := newTestServer(t)
	h := srv.Handler()

	body, contentType := multipartBody(t, "letter.pdf", []byte("%PDF-1.4 content"))
	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Duplicate bool `json:"duplicate"`
		Document  struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		} `json:"document"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Duplicate {
		t.Error("fresh upload marked duplicate")
	}
	if resp.Document.Status != string(constants.DocStatusPending) {
		t.Errorf("status = %s, want PENDING", resp.Document.Status)
	}
	if _, err := docs.GetByID(context.Background(), resp.Document.ID); err != nil {
		t.Errorf("document not persisted: %v", err)
	}
}

func TestUploadDeduplicatesByContent(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	content := []byte("%PDF-1.4 same bytes")
	for i, wantStatus := range []int{http.StatusCreated, http.StatusOK} {
		body, contentType := multipartBody(t, "letter.pdf", content)
		req := httptest.NewRequest(http.MethodPost, "/documents", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != wantStatus {
			t.Fatalf("upload %d: status = %d, want %d", i, rec.Code, wantStatus)
		}
	}
}

func TestUploadWithoutFileIsRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader("not multipart"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetDocument(t *testing.T) {
	srv, docs := newTestServer(t)
	h := srv.Handler()

	id := uuid.New()
	_ = docs.Create(context.Background(), &entity.Document{
		ID:               id,
		OriginalFilename: "letter.pdf",
		Status:           constants.DocStatusPending,
		CreatedAt:        time.Now(),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+id.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing document status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d, want 400", rec.Code)
	}
}

func TestQueueStatusAndHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	for _, path := range []string{"/queue/status", "/health"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", path, rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", path, err)
		}
		if _, ok := body["rate_limit"]; !ok {
			t.Errorf("%s: missing rate_limit section", path)
		}
	}
}

func TestQueueClear(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/queue/clear", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["cleared"] != 0 {
		t.Errorf("cleared = %d on an empty queue", body["cleared"])
	}
}

func TestCostSummaryEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/costs/summary", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["document_count"] != float64(0) {
		t.Errorf("document_count = %v", body["document_count"])
	}
}

func TestBatchEstimateEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	payload := `{"document_count": 150, "avg_tokens_per_doc": 1000, "tier": "high"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batch/estimate", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		UseBatchAPI   bool    `json:"use_batch_api"`
		StandardCost  float64 `json:"standard_cost"`
		ProjectedCost float64 `json:"projected_cost"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.UseBatchAPI {
		t.Error("150 documents must use the batch mode")
	}
	if body.ProjectedCost*2 != body.StandardCost {
		t.Errorf("projected %v is not half of standard %v", body.ProjectedCost, body.StandardCost)
	}
}
