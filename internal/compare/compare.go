// Package compare computes a field- and clause-level diff of two processed
// documents. The engine is a pure function of its inputs: identical
// snapshots always produce a structurally identical diff.
//
// Field values are compared by exact string equality. No whitespace, case,
// or format normalization is applied, so semantically equal values such as
// "12 months" and "12 Months" report as different. Known limitation.
package compare

import (
	"sort"

	"github.com/MLaitarovsky/docpilot/internal/models"
)

// Field diff statuses.
const (
	StatusMatch     = "match"
	StatusDifferent = "different"
	StatusOnlyInA   = "only_in_a"
	StatusOnlyInB   = "only_in_b"
)

// FieldDiff is one field's comparison outcome. Value is set for matches;
// DocA/DocB carry each side's value otherwise.
type FieldDiff struct {
	Status string  `json:"status"`
	Value  *string `json:"value,omitempty"`
	DocA   *string `json:"doc_a,omitempty"`
	DocB   *string `json:"doc_b,omitempty"`
}

// SharedClause is a clause type present in both documents, with each side's
// risk level and summary (either may be null).
type SharedClause struct {
	ClauseType string  `json:"clause_type"`
	RiskA      *string `json:"risk_a"`
	RiskB      *string `json:"risk_b"`
	SummaryA   *string `json:"summary_a"`
	SummaryB   *string `json:"summary_b"`
}

// ClauseDiff groups clause types by which document(s) they appear in.
type ClauseDiff struct {
	Shared  []SharedClause `json:"shared"`
	OnlyInA []string       `json:"only_in_a"`
	OnlyInB []string       `json:"only_in_b"`
}

// Summary aggregates the field diff.
type Summary struct {
	TotalFields int `json:"total_fields"`
	Matching    int `json:"matching"`
	Different   int `json:"different"`
	OnlyInA     int `json:"only_in_a"`
	OnlyInB     int `json:"only_in_b"`
}

// Result is the full diff of two documents.
type Result struct {
	FieldDiff  map[string]FieldDiff `json:"field_diff"`
	ClauseDiff ClauseDiff           `json:"clause_diff"`
	Summary    Summary              `json:"summary"`
}

// Documents diffs two documents' extracted field maps and clause sets.
func Documents(fieldsA, fieldsB models.FieldMap, clausesA, clausesB []models.Clause) Result {
	fieldDiff, summary := Fields(fieldsA, fieldsB)
	return Result{
		FieldDiff:  fieldDiff,
		ClauseDiff: Clauses(clausesA, clausesB),
		Summary:    summary,
	}
}

// Fields diffs two field maps over the union of their keys. A key mapped to
// a null value counts as present with a null value, not absent.
func Fields(a, b models.FieldMap) (map[string]FieldDiff, Summary) {
	diff := make(map[string]FieldDiff, len(a)+len(b))
	var summary Summary

	for _, key := range unionKeys(a, b) {
		fa, inA := a[key]
		fb, inB := b[key]

		switch {
		case inA && inB:
			if valuesEqual(fa.Value, fb.Value) {
				diff[key] = FieldDiff{Status: StatusMatch, Value: fa.Value}
				summary.Matching++
			} else {
				diff[key] = FieldDiff{Status: StatusDifferent, DocA: fa.Value, DocB: fb.Value}
				summary.Different++
			}
		case inA:
			diff[key] = FieldDiff{Status: StatusOnlyInA, DocA: fa.Value}
			summary.OnlyInA++
		default:
			diff[key] = FieldDiff{Status: StatusOnlyInB, DocB: fb.Value}
			summary.OnlyInB++
		}
	}

	summary.TotalFields = len(diff)
	return diff, summary
}

// Clauses diffs two clause sets grouped by clause type. When a document
// records a clause type more than once, the last occurrence wins.
func Clauses(a, b []models.Clause) ClauseDiff {
	mapA := byType(a)
	mapB := byType(b)

	types := make(map[string]struct{}, len(mapA)+len(mapB))
	for t := range mapA {
		types[t] = struct{}{}
	}
	for t := range mapB {
		types[t] = struct{}{}
	}
	sorted := make([]string, 0, len(types))
	for t := range types {
		sorted = append(sorted, t)
	}
	sort.Strings(sorted)

	diff := ClauseDiff{
		Shared:  []SharedClause{},
		OnlyInA: []string{},
		OnlyInB: []string{},
	}
	for _, t := range sorted {
		ca, inA := mapA[t]
		cb, inB := mapB[t]
		switch {
		case inA && inB:
			diff.Shared = append(diff.Shared, SharedClause{
				ClauseType: t,
				RiskA:      ca.RiskLevel,
				RiskB:      cb.RiskLevel,
				SummaryA:   ca.PlainSummary,
				SummaryB:   cb.PlainSummary,
			})
		case inA:
			diff.OnlyInA = append(diff.OnlyInA, t)
		default:
			diff.OnlyInB = append(diff.OnlyInB, t)
		}
	}
	return diff
}

func byType(clauses []models.Clause) map[string]models.Clause {
	m := make(map[string]models.Clause, len(clauses))
	for _, c := range clauses {
		t := c.ClauseType
		if t == "" {
			t = "unknown"
		}
		m[t] = c
	}
	return m
}

func unionKeys(a, b models.FieldMap) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valuesEqual(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
