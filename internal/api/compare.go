package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MLaitarovsky/docpilot/internal/compare"
	"github.com/MLaitarovsky/docpilot/internal/models"
)

type compareRequest struct {
	DocAID string `json:"doc_a_id"`
	DocBID string `json:"doc_b_id"`
}

// handleCreateComparison diffs two completed documents and persists the
// result. Both documents must exist, be fully processed, and have an
// extraction; the diff is computed from the current snapshot and never
// recomputed afterwards.
func (s *Server) handleCreateComparison(w http.ResponseWriter, r *http.Request) {
	if !s.allowed(w, r) {
		return
	}

	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid json body")
		return
	}
	if req.DocAID == "" || req.DocBID == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "doc_a_id and doc_b_id are required")
		return
	}
	if req.DocAID == req.DocBID {
		writeError(w, http.StatusBadRequest, "COMPARE_SAME_DOC", "cannot compare a document with itself")
		return
	}

	fieldsA, clausesA, ok := s.comparisonInputs(w, r, req.DocAID)
	if !ok {
		return
	}
	fieldsB, clausesB, ok := s.comparisonInputs(w, r, req.DocBID)
	if !ok {
		return
	}

	result := compare.Documents(fieldsA, fieldsB, clausesA, clausesB)
	diff, err := json.Marshal(result)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}

	comparison, err := s.store.CreateComparison(r.Context(), req.DocAID, req.DocBID, diff)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	writeData(w, http.StatusCreated, comparison)
}

// comparisonInputs loads one side of a comparison, writing the rejection
// itself when the document is missing, unfinished, or has no extraction.
func (s *Server) comparisonInputs(w http.ResponseWriter, r *http.Request, docID string) (models.FieldMap, []models.Clause, bool) {
	doc, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		writeError(w, http.StatusNotFound, "DOC_NOT_FOUND", "document "+docID+" not found")
		return nil, nil, false
	}
	if doc.Status != models.DocStatusCompleted {
		writeError(w, http.StatusBadRequest, "DOC_NOT_COMPLETED", "document "+docID+" has not finished processing")
		return nil, nil, false
	}
	ext, found, err := s.store.GetExtraction(r.Context(), docID)
	if err != nil {
		s.writeFromErr(w, err)
		return nil, nil, false
	}
	if !found {
		writeError(w, http.StatusBadRequest, "DOC_NO_EXTRACTION", "document "+docID+" has no extraction")
		return nil, nil, false
	}
	clauses, err := s.store.ListClauses(r.Context(), docID)
	if err != nil {
		s.writeFromErr(w, err)
		return nil, nil, false
	}
	return ext.Data, clauses, true
}

type comparisonList struct {
	Comparisons []models.Comparison `json:"comparisons"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

func (s *Server) handleListComparisons(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 20)
	offset := intQuery(r, "offset", 0)
	comparisons, total, err := s.store.ListComparisons(r.Context(), limit, offset)
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	if comparisons == nil {
		comparisons = []models.Comparison{}
	}
	writeData(w, http.StatusOK, comparisonList{Comparisons: comparisons, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleGetComparison(w http.ResponseWriter, r *http.Request) {
	comparison, err := s.store.GetComparison(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, comparison)
}

func (s *Server) handleDeleteComparison(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteComparison(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeFromErr(w, err)
		return
	}
	writeData(w, http.StatusOK, map[string]string{"status": "deleted"})
}
