package constants

// DocumentStatus is the canonical status for rows in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	DocStatusPending        DocumentStatus = "PENDING"          // uploaded, not yet picked up
	DocStatusQueuedForBatch DocumentStatus = "QUEUED_FOR_BATCH" // waiting on the discounted batch path
	DocStatusPreprocessing  DocumentStatus = "PREPROCESSING"    // payload being resolved
	DocStatusClassifying    DocumentStatus = "CLASSIFYING"      // visual-complexity classification in flight
	DocStatusExtracting     DocumentStatus = "EXTRACTING"       // extraction model call in flight
	DocStatusCompleted      DocumentStatus = "COMPLETED"        // extracted data persisted
	DocStatusFailed         DocumentStatus = "FAILED"           // terminal failure
)

// Terminal reports whether a document in this status will not move again
// without an explicit re-extraction.
func (s DocumentStatus) Terminal() bool {
	return s == DocStatusCompleted || s == DocStatusFailed
}

// BatchStatus is the status of an aggregate batch submission.
type BatchStatus string

const (
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
)
