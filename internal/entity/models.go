// Package entity holds the persisted domain records.
package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mgebhardt/docintake/constants"
	"github.com/mgebhardt/docintake/internal/llm"
)

// Document is one uploaded PDF moving through the intake pipeline.
type Document struct {
	ID                       uuid.UUID
	StoredFilename           string
	OriginalFilename         string
	FileSize                 int64
	ContentHash              []byte // SHA-256, for dedup
	PageCount                int
	Status                   constants.DocumentStatus
	Classification           *constants.Classification
	ClassificationConfidence *float64
	ModelUsed                *constants.ModelTier
	CreatedAt                time.Time
	ProcessingStartedAt      *time.Time
	ProcessingCompletedAt    *time.Time
	ErrorMessage             *string
}

// ExtractedData is the one-to-one extraction result for a document.
// Created once per successful parse; a forced re-extraction replaces it.
type ExtractedData struct {
	DocumentID        uuid.UUID
	Fields            llm.DocumentFields
	RawResponse       json.RawMessage
	ConfidenceScores  map[string]float64
	OverallConfidence float64
	NeedsReview       bool
	ReviewNotes       *string
	ParseError        bool
	CreatedAt         time.Time
}

// CostMetrics is the one-to-one monetary accounting row for a document,
// upserted on re-extraction.
type CostMetrics struct {
	DocumentID    uuid.UUID
	InputTokens   int
	OutputTokens  int
	Model         constants.ModelTier
	EstimatedCost float64 // currency units, 6-decimal display precision
	UsedBatchAPI  bool
	UpdatedAt     time.Time
}

// BatchJob is the aggregate record for one bulk submission.
type BatchJob struct {
	ID            uuid.UUID
	Status        constants.BatchStatus
	DocumentCount int
	UseBatchAPI   bool
	SubmittedAt   time.Time
	CompletedAt   *time.Time
}
