package models

import (
	"encoding/json"
	"time"
)

// Document lifecycle states persisted in Postgres.
const (
	DocStatusUploaded   = "uploaded"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// Job lifecycle states. Completed and failed are absorbing.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Clause risk levels.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// FailureSentinel is the reserved progress value that signals a failed job
// on the streaming endpoint.
const FailureSentinel = -1

// Document is an uploaded contract and its extracted text.
type Document struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	FilePath      string    `json:"file_path"`
	FileSizeBytes int64     `json:"file_size_bytes"`
	PageCount     *int      `json:"page_count,omitempty"`
	RawText       string    `json:"-"`
	DocType       *string   `json:"doc_type,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Job is one execution of the processing pipeline for a single document.
// A new upload or reprocess always mints a new job id; jobs are never
// resumed or retried in place.
type Job struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"total_steps"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProgressEvent is published on the progress channel after each pipeline
// transition and forwarded verbatim to SSE subscribers.
type ProgressEvent struct {
	Step       int    `json:"step"`
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message"`
	Progress   int    `json:"progress"`
}

// Terminal reports whether the event closes the job's stream.
func (e ProgressEvent) Terminal() bool {
	return e.Progress == 100 || e.Progress == FailureSentinel
}

// Status derives the job status implied by the event.
func (e ProgressEvent) Status() string {
	switch {
	case e.Progress == FailureSentinel:
		return JobStatusFailed
	case e.Progress == 100:
		return JobStatusCompleted
	default:
		return JobStatusRunning
	}
}

// ExtractedField is a single extracted value with the model's confidence.
// A nil Value means the field was present in the document type's vocabulary
// but the model found nothing; confidence is opaque and passed through.
type ExtractedField struct {
	Value      *string `json:"value"`
	Confidence float64 `json:"confidence"`
}

// FieldMap is a document's extraction result keyed by field name.
type FieldMap map[string]ExtractedField

// Extraction is one stored extraction run for a document.
type Extraction struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	Data         FieldMap  `json:"extracted_data"`
	ModelUsed    string    `json:"model_used,omitempty"`
	ProcessingMS int       `json:"processing_ms,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clause is a flagged contract passage with its risk analysis.
type Clause struct {
	ID           string    `json:"id,omitempty"`
	DocumentID   string    `json:"document_id,omitempty"`
	ClauseType   string    `json:"clause_type"`
	OriginalText string    `json:"original_text"`
	PlainSummary *string   `json:"plain_summary"`
	RiskLevel    *string   `json:"risk_level"`
	RiskReason   *string   `json:"risk_reason"`
	Confidence   *float64  `json:"confidence"`
	PageNumber   *int      `json:"page_number"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Comparison is the persisted diff of two completed documents. Immutable
// once written; deleting it does not touch the source documents.
type Comparison struct {
	ID           string          `json:"id"`
	DocAID       string          `json:"doc_a_id"`
	DocBID       string          `json:"doc_b_id"`
	DocAFilename string          `json:"doc_a_filename"`
	DocBFilename string          `json:"doc_b_filename"`
	DiffResult   json.RawMessage `json:"diff_result"`
	CreatedAt    time.Time       `json:"created_at"`
}
