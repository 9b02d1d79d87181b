// Package doctype models the document-type variants the pipeline can
// resolve, each carrying its own extraction vocabulary. Dispatch is by
// variant with an explicit Other fallback, so an unrecognized classifier
// answer degrades to the generic vocabulary instead of failing the job.
package doctype

// Variant is the document category resolved by the classify stage.
type Variant string

const (
	NDA                Variant = "nda"
	ServiceAgreement   Variant = "service_agreement"
	EmploymentContract Variant = "employment_contract"
	Lease              Variant = "lease"
	SaaSTerms          Variant = "saas_terms"
	Other              Variant = "other"
)

// All lists every recognized variant, Other last.
var All = []Variant{NDA, ServiceAgreement, EmploymentContract, Lease, SaaSTerms, Other}

// Resolve maps a raw classifier answer onto a known variant. Anything
// unknown or empty becomes Other.
func Resolve(raw string) Variant {
	v := Variant(raw)
	for _, known := range All {
		if v == known {
			return known
		}
	}
	return Other
}

func (v Variant) String() string { return string(v) }

// Vocabulary is the set of fields expected for a variant plus the system
// prompt that asks the model to fill them.
type Vocabulary struct {
	Fields       []string
	SystemPrompt string
}

// Vocabulary returns the extraction vocabulary for the variant. Variants
// without a dedicated vocabulary share the generic one.
func (v Variant) Vocabulary() Vocabulary {
	if voc, ok := vocabularies[v]; ok {
		return voc
	}
	return vocabularies[Other]
}
