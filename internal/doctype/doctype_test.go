package doctype

import (
	"strings"
	"testing"
)

func TestResolveKnownVariants(t *testing.T) {
	for _, v := range All {
		if got := Resolve(string(v)); got != v {
			t.Fatalf("Resolve(%q) = %q", v, got)
		}
	}
}

func TestResolveUnknownFallsBack(t *testing.T) {
	for _, raw := range []string{"", "purchase_order", "NDA", "nda "} {
		if got := Resolve(raw); got != Other {
			t.Fatalf("Resolve(%q) = %q, want other", raw, got)
		}
	}
}

func TestVocabularyCoverage(t *testing.T) {
	for _, v := range All {
		voc := v.Vocabulary()
		if len(voc.Fields) == 0 {
			t.Fatalf("variant %q has no fields", v)
		}
		if voc.SystemPrompt == "" {
			t.Fatalf("variant %q has no system prompt", v)
		}
		for _, f := range voc.Fields {
			if !strings.Contains(voc.SystemPrompt, f) {
				t.Fatalf("variant %q prompt does not mention field %q", v, f)
			}
		}
	}
}

func TestVocabularyVariantFields(t *testing.T) {
	nda := NDA.Vocabulary()
	if !containsField(nda.Fields, "disclosing_party") || !containsField(nda.Fields, "receiving_party") {
		t.Fatalf("nda fields missing parties: %v", nda.Fields)
	}
	emp := EmploymentContract.Vocabulary()
	if !containsField(emp.Fields, "non_compete") {
		t.Fatalf("employment fields missing non_compete: %v", emp.Fields)
	}
	generic := Other.Vocabulary()
	if !containsField(generic.Fields, "parties") {
		t.Fatalf("generic fields missing parties: %v", generic.Fields)
	}
}

func containsField(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}
