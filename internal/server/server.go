// Package server exposes the intake pipeline over HTTP plus a websocket
// event stream.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mgebhardt/docintake/internal/batch"
	"github.com/mgebhardt/docintake/internal/common"
	"github.com/mgebhardt/docintake/internal/extract"
	"github.com/mgebhardt/docintake/internal/queue"
	"github.com/mgebhardt/docintake/internal/ratelimit"
	"github.com/mgebhardt/docintake/internal/repository"
	"github.com/mgebhardt/docintake/internal/storage"
)

// Server wires the HTTP surface to the pipeline collaborators.
type Server struct {
	cfg         common.ServerConfig
	store       *storage.LocalStore
	docs        repository.DocumentRepository
	extracted   repository.ExtractedDataRepository
	metrics     repository.CostMetricsRepository
	svc         *extract.Service
	q           *queue.Queue[extract.JobPayload, *extract.Result]
	coordinator *batch.Coordinator
	limiter     *ratelimit.Limiter
	ws          *WSManager
	log         *slog.Logger
}

func New(
	cfg common.ServerConfig,
	store *storage.LocalStore,
	docs repository.DocumentRepository,
	extracted repository.ExtractedDataRepository,
	metrics repository.CostMetricsRepository,
	svc *extract.Service,
	q *queue.Queue[extract.JobPayload, *extract.Result],
	coordinator *batch.Coordinator,
	limiter *ratelimit.Limiter,
	ws *WSManager,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		store:       store,
		docs:        docs,
		extracted:   extracted,
		metrics:     metrics,
		svc:         svc,
		q:           q,
		coordinator: coordinator,
		limiter:     limiter,
		ws:          ws,
		log:         logger,
	}
}

// Handler builds the routed, middleware-wrapped root handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /documents", s.handleUpload)
	mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	mux.HandleFunc("POST /documents/{id}/extract", s.handleExtract)
	mux.HandleFunc("POST /batch", s.handleSubmitBatch)
	mux.HandleFunc("GET /batch/{id}", s.handleBatchStatus)
	mux.HandleFunc("POST /batch/estimate", s.handleBatchEstimate)
	mux.HandleFunc("GET /queue/status", s.handleQueueStatus)
	mux.HandleFunc("POST /queue/clear", s.handleQueueClear)
	mux.HandleFunc("GET /costs/summary", s.handleCostSummary)
	mux.HandleFunc("GET /costs/export", s.handleCostExport)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.ws.HandleWS)

	return Chain(mux,
		Recovery(s.log),
		RequestLog(s.log),
		CORS(),
		PerClientRateLimit(s.cfg.IPRateLimitEvery, s.cfg.IPRateLimitBurst, s.log),
		ConcurrencyLimit(s.cfg.MaxConcurrentRequests),
	)
}

// ListenAndServe blocks until ctx is cancelled, then drains gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http.listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("http.encode_failed", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := common.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Error("http.internal_error", "error", err)
	}
	s.respond(w, status, map[string]string{"error": err.Error()})
}
