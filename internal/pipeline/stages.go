package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MLaitarovsky/docpilot/internal/chunker"
	"github.com/MLaitarovsky/docpilot/internal/common"
	"github.com/MLaitarovsky/docpilot/internal/doctype"
	"github.com/MLaitarovsky/docpilot/internal/llm"
	"github.com/MLaitarovsky/docpilot/internal/models"
)

// Stage context keeps only the opening chunks for classification and caps
// the combined text handed to extraction/analysis prompts.
const (
	classifySampleChunks = 3
	promptMaxChars       = 12000
)

// StageContext accumulates the state a job builds up as its stages run.
type StageContext struct {
	Document models.Document
	Chunks   []chunker.Chunk
	Variant  doctype.Variant

	Fields    models.FieldMap
	ModelUsed string
	ExtractMS int
	Clauses   []models.Clause
}

// Stage is one ordered step of the pipeline. Run produces the stage's
// output into the context; Persist stores it. The orchestrator only calls
// Persist after Run succeeds, so a failed stage never leaves partial
// output behind.
type Stage interface {
	Name() string
	Message(sc *StageContext) string
	Run(ctx context.Context, sc *StageContext) error
	Persist(ctx context.Context, st Store, sc *StageContext) error
}

// defaultStages builds the fixed stage sequence.
func defaultStages(completer llm.Completer, model string) []Stage {
	return []Stage{
		&classifyStage{completer: completer},
		&extractStage{completer: completer, model: model},
		&analyzeClausesStage{completer: completer},
	}
}

// ── Stage 1: classify ──────────────────────────────────────

const classifySystemPrompt = `You are a legal document classifier. Given the first few pages of a contract, determine the document type.

Respond with a JSON object:
{
  "doc_type": "<one of: nda, service_agreement, employment_contract, lease, saas_terms, other>",
  "confidence": <float 0.0-1.0>,
  "reasoning": "<one sentence explaining your classification>"
}

Rules:
- nda: Non-Disclosure Agreement, Confidentiality Agreement
- service_agreement: Master Service Agreement, Statement of Work, Consulting Agreement
- employment_contract: Offer Letter, Employment Agreement, Independent Contractor Agreement
- lease: Commercial Lease, Residential Lease, Sublease
- saas_terms: Software-as-a-Service Terms, Subscription Agreement, EULA
- other: Anything that does not clearly fit the above categories

Only return valid JSON. No extra text.`

type classifyStage struct {
	completer llm.Completer
}

func (s *classifyStage) Name() string { return "classify" }

func (s *classifyStage) Message(*StageContext) string {
	return "Classifying document type..."
}

func (s *classifyStage) Run(ctx context.Context, sc *StageContext) error {
	sample := chunker.Sample(sc.Chunks, classifySampleChunks)
	raw, err := s.completer.Complete(ctx, classifySystemPrompt, "Classify this document:\n\n"+sample)
	if err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}
	if err := llm.ValidateAgainstSchema(llm.ClassifySchema(), raw); err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}

	var result struct {
		DocType    string  `json:"doc_type"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}
	// Unknown answers fall back to the generic variant rather than failing.
	sc.Variant = doctype.Resolve(result.DocType)
	return nil
}

func (s *classifyStage) Persist(ctx context.Context, st Store, sc *StageContext) error {
	return st.SetDocumentType(ctx, sc.Document.ID, sc.Variant.String())
}

// ── Stage 2: extract fields ────────────────────────────────

type extractStage struct {
	completer llm.Completer
	model     string
}

func (s *extractStage) Name() string { return "extract" }

func (s *extractStage) Message(sc *StageContext) string {
	return fmt.Sprintf("Extracting fields (%s)...", sc.Variant)
}

func (s *extractStage) Run(ctx context.Context, sc *StageContext) error {
	vocab := sc.Variant.Vocabulary()
	combined := chunker.Combined(sc.Chunks, promptMaxChars)

	start := time.Now()
	raw, err := s.completer.Complete(ctx, vocab.SystemPrompt, "Extract fields from this document:\n\n"+combined)
	if err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}
	if err := llm.ValidateAgainstSchema(llm.ExtractionSchema(vocab.Fields), raw); err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}

	var fields models.FieldMap
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}
	sc.Fields = fields
	sc.ModelUsed = s.model
	sc.ExtractMS = int(time.Since(start).Milliseconds())
	return nil
}

func (s *extractStage) Persist(ctx context.Context, st Store, sc *StageContext) error {
	return st.SaveExtraction(ctx, sc.Document.ID, sc.Fields, sc.ModelUsed, sc.ExtractMS)
}

// ── Stage 3: analyze clauses ───────────────────────────────

const clausesSystemPrompt = `You are a legal risk analyst. Identify the most important clauses in the contract text, quote the exact text, provide a plain-English summary, and flag any risks.

Respond with a JSON object:
{
  "clauses": [
    {
      "clause_type": "e.g. indemnification, limitation_of_liability, termination, non_compete, confidentiality, ip_assignment, governing_law, payment, auto_renewal, data_protection",
      "original_text": "exact quote from the document (keep under 500 chars)",
      "plain_summary": "one-sentence plain-English explanation",
      "risk_level": "low | medium | high",
      "risk_reason": "why this clause may be risky (or null if low risk)",
      "confidence": 0.85,
      "page_number": 1
    }
  ]
}

Rules:
- Identify 5-15 of the most important clauses.
- risk_level must be exactly one of: low, medium, high.
- Quote the actual clause text - do not paraphrase in original_text.
- page_number should be your best estimate based on position in the document. If unsure, set to null.
- Only return valid JSON. No extra text.`

type analyzeClausesStage struct {
	completer llm.Completer
}

func (s *analyzeClausesStage) Name() string { return "analyze_clauses" }

func (s *analyzeClausesStage) Message(*StageContext) string {
	return "Analyzing clauses for risks..."
}

func (s *analyzeClausesStage) Run(ctx context.Context, sc *StageContext) error {
	combined := chunker.Combined(sc.Chunks, promptMaxChars)
	user := fmt.Sprintf("Document type: %s\n\nAnalyze the clauses in this document:\n\n%s", sc.Variant, combined)

	raw, err := s.completer.Complete(ctx, clausesSystemPrompt, user)
	if err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}
	if err := llm.ValidateAgainstSchema(llm.ClausesSchema(), raw); err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}

	var result struct {
		Clauses []models.Clause `json:"clauses"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return &common.StageError{Stage: s.Name(), Err: err}
	}
	for i := range result.Clauses {
		result.Clauses[i].DocumentID = sc.Document.ID
		if result.Clauses[i].ClauseType == "" {
			result.Clauses[i].ClauseType = "unknown"
		}
	}
	sc.Clauses = result.Clauses
	return nil
}

func (s *analyzeClausesStage) Persist(ctx context.Context, st Store, sc *StageContext) error {
	return st.SaveClauses(ctx, sc.Document.ID, sc.Clauses)
}
