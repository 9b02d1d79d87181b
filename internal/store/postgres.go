// Package store persists documents, pipeline jobs, stage outputs, and
// comparison results in Postgres via pgxpool.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MLaitarovsky/docpilot/internal/common"
	"github.com/MLaitarovsky/docpilot/internal/models"
)

// Store wraps pgxpool for Postgres persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ── Documents ──────────────────────────────────────────────

// CreateDocumentParams collects inputs required to insert a document row.
type CreateDocumentParams struct {
	Filename      string
	FilePath      string
	FileSizeBytes int64
	RawText       string
	PageCount     *int
}

// CreateDocument inserts a document in the uploaded state.
func (s *Store) CreateDocument(ctx context.Context, p CreateDocumentParams) (models.Document, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, file_path, file_size_bytes, page_count, raw_text, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, id, p.Filename, p.FilePath, p.FileSizeBytes, p.PageCount, p.RawText, models.DocStatusUploaded, now)
	if err != nil {
		return models.Document{}, fmt.Errorf("insert document: %w", err)
	}
	return models.Document{
		ID:            id,
		Filename:      p.Filename,
		FilePath:      p.FilePath,
		FileSizeBytes: p.FileSizeBytes,
		PageCount:     p.PageCount,
		RawText:       p.RawText,
		Status:        models.DocStatusUploaded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetDocument fetches a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (models.Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, filename, file_path, file_size_bytes, page_count, COALESCE(raw_text, ''), doc_type, status, created_at, updated_at
		FROM documents WHERE id = $1
	`, id)
	return scanDocument(row)
}

// ListDocumentsParams filters and paginates the document list.
type ListDocumentsParams struct {
	Limit   int
	Offset  int
	Status  string
	DocType string
}

// ListDocuments returns a page of documents (newest first) and the total
// count of rows matching the filters.
func (s *Store) ListDocuments(ctx context.Context, p ListDocumentsParams) ([]models.Document, int, error) {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	where := "WHERE ($1 = '' OR status = $1) AND ($2 = '' OR doc_type = $2)"

	var total int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM documents "+where, p.Status, p.DocType,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, filename, file_path, file_size_bytes, page_count, '', doc_type, status, created_at, updated_at
		FROM documents `+where+`
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, p.Status, p.DocType, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// UpdateDocumentStatus sets the document status.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// SetDocumentType records the resolved type variant after classification.
func (s *Store) SetDocumentType(ctx context.Context, id, docType string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE documents SET doc_type = $2, updated_at = NOW() WHERE id = $1
	`, id, docType)
	return err
}

// DeleteDocument removes a document; extractions and clauses cascade.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// ── Jobs ───────────────────────────────────────────────────

// CreateJob inserts a fresh queued job for a document.
func (s *Store) CreateJob(ctx context.Context, documentID string, totalSteps int) (models.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, document_id, step, total_steps, status, message, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $4, '', $5, $5)
	`, id, documentID, totalSteps, models.JobStatusQueued, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return models.Job{
		ID:         id,
		DocumentID: documentID,
		TotalSteps: totalSteps,
		Status:     models.JobStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	var job models.Job
	err := s.pool.QueryRow(ctx, `
		SELECT id, document_id, step, total_steps, status, message, created_at, updated_at
		FROM jobs WHERE id = $1
	`, id).Scan(&job.ID, &job.DocumentID, &job.Step, &job.TotalSteps, &job.Status, &job.Message, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// MarkJobRunning transitions queued -> running.
func (s *Store) MarkJobRunning(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.JobStatusRunning, models.JobStatusQueued)
	return err
}

// UpdateJobStep advances the step counter and message while running.
func (s *Store) UpdateJobStep(ctx context.Context, id string, step int, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET step = $2, message = $3, updated_at = NOW() WHERE id = $1
	`, id, step, message)
	return err
}

// MarkJobCompleted transitions to the terminal completed state. Terminal
// states are absorbing, so a job already completed/failed is left alone.
func (s *Store) MarkJobCompleted(ctx context.Context, id, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, message = $3, step = total_steps, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($4, $5)
	`, id, models.JobStatusCompleted, message, models.JobStatusCompleted, models.JobStatusFailed)
	return err
}

// MarkJobFailed transitions to the terminal failed state.
func (s *Store) MarkJobFailed(ctx context.Context, id, message string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, message = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ($4, $5)
	`, id, models.JobStatusFailed, message, models.JobStatusCompleted, models.JobStatusFailed)
	return err
}

// ── Stage outputs ──────────────────────────────────────────

// SaveExtraction stores one extraction run's field map.
func (s *Store) SaveExtraction(ctx context.Context, documentID string, data models.FieldMap, modelUsed string, processingMS int) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal extraction: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO extractions (id, document_id, extracted_data, model_used, processing_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), documentID, payload, modelUsed, processingMS)
	if err != nil {
		return fmt.Errorf("insert extraction: %w", err)
	}
	return nil
}

// GetExtraction returns the most recent extraction for a document.
func (s *Store) GetExtraction(ctx context.Context, documentID string) (models.Extraction, bool, error) {
	var ex models.Extraction
	var payload []byte
	var modelUsed pgtype.Text
	var processingMS pgtype.Int4
	err := s.pool.QueryRow(ctx, `
		SELECT id, document_id, extracted_data, model_used, processing_ms, created_at
		FROM extractions WHERE document_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, documentID).Scan(&ex.ID, &ex.DocumentID, &payload, &modelUsed, &processingMS, &ex.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Extraction{}, false, nil
	}
	if err != nil {
		return models.Extraction{}, false, fmt.Errorf("scan extraction: %w", err)
	}
	if err := json.Unmarshal(payload, &ex.Data); err != nil {
		return models.Extraction{}, false, fmt.Errorf("unmarshal extraction: %w", err)
	}
	ex.ModelUsed = modelUsed.String
	ex.ProcessingMS = int(processingMS.Int32)
	return ex, true, nil
}

// SaveClauses stores the clause set produced by the analyze stage.
func (s *Store) SaveClauses(ctx context.Context, documentID string, clauses []models.Clause) error {
	batch := &pgx.Batch{}
	for _, c := range clauses {
		batch.Queue(`
			INSERT INTO clauses (id, document_id, clause_type, original_text, plain_summary, risk_level, risk_reason, confidence, page_number, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		`, uuid.New().String(), documentID, c.ClauseType, c.OriginalText, c.PlainSummary, c.RiskLevel, c.RiskReason, c.Confidence, c.PageNumber)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range clauses {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert clause: %w", err)
		}
	}
	return nil
}

// ListClauses returns a document's clauses in insertion order.
func (s *Store) ListClauses(ctx context.Context, documentID string) ([]models.Clause, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, document_id, clause_type, original_text, plain_summary, risk_level, risk_reason, confidence, page_number, created_at
		FROM clauses WHERE document_id = $1
		ORDER BY created_at, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query clauses: %w", err)
	}
	defer rows.Close()

	var clauses []models.Clause
	for rows.Next() {
		var c models.Clause
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ClauseType, &c.OriginalText, &c.PlainSummary, &c.RiskLevel, &c.RiskReason, &c.Confidence, &c.PageNumber, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan clause: %w", err)
		}
		clauses = append(clauses, c)
	}
	return clauses, rows.Err()
}

// ClearOutputs deletes a document's stored extraction and clause rows.
// Called by reprocess before a fresh job is enqueued.
func (s *Store) ClearOutputs(ctx context.Context, documentID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `DELETE FROM extractions WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear extractions: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM clauses WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear clauses: %w", err)
	}
	return tx.Commit(ctx)
}

// ── Comparisons ────────────────────────────────────────────

// CreateComparison persists a diff result for two documents.
func (s *Store) CreateComparison(ctx context.Context, docAID, docBID string, diff json.RawMessage) (models.Comparison, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO comparisons (id, doc_a_id, doc_b_id, diff_result, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, docAID, docBID, []byte(diff), now)
	if err != nil {
		return models.Comparison{}, fmt.Errorf("insert comparison: %w", err)
	}
	return models.Comparison{
		ID:         id,
		DocAID:     docAID,
		DocBID:     docBID,
		DiffResult: diff,
		CreatedAt:  now,
	}, nil
}

// GetComparison fetches a comparison with the source documents' filenames.
func (s *Store) GetComparison(ctx context.Context, id string) (models.Comparison, error) {
	c, err := scanComparison(s.pool.QueryRow(ctx, comparisonSelect+` WHERE c.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Comparison{}, fmt.Errorf("comparison %s: %w", id, common.ErrNotFound)
	}
	return c, err
}

// ListComparisons returns a page of comparisons, newest first, plus the
// total count.
func (s *Store) ListComparisons(ctx context.Context, limit, offset int) ([]models.Comparison, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM comparisons`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count comparisons: %w", err)
	}

	rows, err := s.pool.Query(ctx, comparisonSelect+`
		ORDER BY c.created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query comparisons: %w", err)
	}
	defer rows.Close()

	var out []models.Comparison
	for rows.Next() {
		c, err := scanComparison(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// DeleteComparison removes a stored comparison. The source documents are
// untouched.
func (s *Store) DeleteComparison(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM comparisons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete comparison: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("comparison %s: %w", id, common.ErrNotFound)
	}
	return nil
}

const comparisonSelect = `
	SELECT c.id, COALESCE(c.doc_a_id::text, ''), COALESCE(c.doc_b_id::text, ''),
		COALESCE(da.filename, 'Deleted'), COALESCE(db.filename, 'Deleted'),
		c.diff_result, c.created_at
	FROM comparisons c
	LEFT JOIN documents da ON da.id = c.doc_a_id
	LEFT JOIN documents db ON db.id = c.doc_b_id`

func scanComparison(row pgx.Row) (models.Comparison, error) {
	var c models.Comparison
	var diff []byte
	if err := row.Scan(&c.ID, &c.DocAID, &c.DocBID, &c.DocAFilename, &c.DocBFilename, &diff, &c.CreatedAt); err != nil {
		return models.Comparison{}, err
	}
	c.DiffResult = json.RawMessage(diff)
	return c, nil
}

func scanDocument(row pgx.Row) (models.Document, error) {
	var doc models.Document
	var pageCount pgtype.Int4
	var docType pgtype.Text
	err := row.Scan(&doc.ID, &doc.Filename, &doc.FilePath, &doc.FileSizeBytes, &pageCount, &doc.RawText, &docType, &doc.Status, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, fmt.Errorf("document: %w", common.ErrNotFound)
	}
	if err != nil {
		return models.Document{}, fmt.Errorf("scan document: %w", err)
	}
	if pageCount.Valid {
		v := int(pageCount.Int32)
		doc.PageCount = &v
	}
	if docType.Valid {
		doc.DocType = &docType.String
	}
	return doc, nil
}
