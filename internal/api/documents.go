package api

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MLaitarovsky/docpilot/internal/models"
	"github.com/MLaitarovsky/docpilot/internal/storage"
	"github.com/MLaitarovsky/docpilot/internal/store"
	"github.com/MLaitarovsky/docpilot/internal/telemetry"
)

type uploadResponse struct {
	Document models.Document `json:"document"`
	JobID    string          `json:"job_id"`
}

// handleUpload accepts a multipart upload, persists the file and its text,
// and starts a processing job. The response carries both the document and
// the job id so clients can attach to the progress stream immediately.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r) {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxBytes)
	if err := r.ParseMultipartForm(s.cfg.UploadMaxBytes); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "file exceeds size limit or form is malformed")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "file field is required")
		return
	}
	defer file.Close()

	body, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "could not read upload")
		return
	}

	filename := filepath.Base(header.Filename)
	if filename == "" || filename == "." {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "filename is required")
		return
	}

	text, pageCount, err := s.extractor.Extract(filename, body)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}

	key := storage.SanitizeKey(fmt.Sprintf("%s%s", uuid.New().String(), strings.ToLower(filepath.Ext(filename))))
	if _, err := s.uploader.Upload(r.Context(), key, body, header.Header.Get("Content-Type")); err != nil {
		s.writeFromErr(w, err)
		return
	}

	doc, err := s.store.CreateDocument(r.Context(), store.CreateDocumentParams{
		Filename:      filename,
		FilePath:      key,
		FileSizeBytes: int64(len(body)),
		RawText:       text,
		PageCount:     pageCount,
	})
	if err != nil {
		s.writeFromErr(w, err)
		return
	}

	job, err := s.pipeline.Start(r.Context(), doc.ID)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}

	telemetry.DocumentsUploaded.Inc()
	doc.Status = models.DocStatusProcessing
	writeData(w, http.StatusCreated, uploadResponse{Document: doc, JobID: job.ID})
}

type documentList struct {
	Documents []models.Document `json:"documents"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 20)
	offset := intQuery(r, "offset", 0)
	docs, total, err := s.store.ListDocuments(r.Context(), store.ListDocumentsParams{
		Limit:   limit,
		Offset:  offset,
		Status:  r.URL.Query().Get("status"),
		DocType: r.URL.Query().Get("doc_type"),
	})
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeData(w, http.StatusOK, documentList{Documents: docs, Total: total, Limit: limit, Offset: offset})
}

type documentDetail struct {
	Document   models.Document    `json:"document"`
	Extraction *models.Extraction `json:"extraction"`
	Clauses    []models.Clause    `json:"clauses"`
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}

	detail := documentDetail{Document: doc, Clauses: []models.Clause{}}
	if ext, found, err := s.store.GetExtraction(r.Context(), id); err != nil {
		s.writeFromErr(w, err)
		return
	} else if found {
		detail.Extraction = &ext
	}
	clauses, err := s.store.ListClauses(r.Context(), id)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	if clauses != nil {
		detail.Clauses = clauses
	}
	writeData(w, http.StatusOK, detail)
}

// handleReprocess clears prior outputs and runs the pipeline again under a
// fresh job id. A document already being processed is rejected.
func (s *Server) handleReprocess(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r) {
		return
	}
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	if doc.Status == models.DocStatusProcessing {
		writeError(w, http.StatusConflict, "DOC_ALREADY_PROCESSING", "document is already being processed")
		return
	}

	job, err := s.pipeline.Reprocess(r.Context(), id)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	writeData(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		s.writeFromErr(w, err)
		return
	}
	if err := s.uploader.Remove(r.Context(), doc.FilePath); err != nil {
		// Row is gone; an orphaned file is logged, not surfaced.
		s.log.Warn("api.file_remove_failed", "document_id", id, "error", err)
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
