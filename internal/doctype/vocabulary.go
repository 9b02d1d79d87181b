package doctype

// Per-variant extraction vocabularies. Each system prompt asks for a JSON
// object where every field carries {"value", "confidence"}; absent fields
// come back with a null value and confidence 0.0.

const promptRules = `

Rules:
- If a field is not found, set value to null and confidence to 0.0.
- Dates should be in YYYY-MM-DD format when possible.
- Keep value strings concise (under 200 characters).
- Only return valid JSON. No extra text.`

var vocabularies = map[Variant]Vocabulary{
	NDA: {
		Fields: []string{
			"disclosing_party", "receiving_party", "effective_date",
			"expiration_date", "confidentiality_period", "permitted_disclosures",
			"governing_law", "non_solicitation", "return_of_materials",
		},
		SystemPrompt: `You are a legal document analyst specializing in Non-Disclosure Agreements. Extract the following fields from the NDA text provided.

Respond with a JSON object where each field has "value" and "confidence" (0.0-1.0):
{
  "disclosing_party": {"value": "...", "confidence": 0.95},
  "receiving_party": {"value": "...", "confidence": 0.95},
  "effective_date": {"value": "YYYY-MM-DD or descriptive", "confidence": 0.9},
  "expiration_date": {"value": "YYYY-MM-DD or descriptive or null", "confidence": 0.8},
  "confidentiality_period": {"value": "e.g. 2 years after termination", "confidence": 0.85},
  "permitted_disclosures": {"value": "summary of exceptions", "confidence": 0.8},
  "governing_law": {"value": "jurisdiction", "confidence": 0.9},
  "non_solicitation": {"value": "true/false or clause summary", "confidence": 0.7},
  "return_of_materials": {"value": "summary of obligations", "confidence": 0.7}
}` + promptRules,
	},

	ServiceAgreement: {
		Fields: []string{
			"client", "vendor", "effective_date", "termination_date",
			"payment_terms", "payment_amount", "auto_renewal", "sla_terms",
			"governing_law", "liability_cap", "indemnification",
		},
		SystemPrompt: `You are a legal document analyst specializing in Service Agreements. Extract the following fields from the contract text provided.

Respond with a JSON object where each field has "value" and "confidence" (0.0-1.0):
{
  "client": {"value": "...", "confidence": 0.95},
  "vendor": {"value": "...", "confidence": 0.95},
  "effective_date": {"value": "YYYY-MM-DD or descriptive", "confidence": 0.9},
  "termination_date": {"value": "YYYY-MM-DD or descriptive or null", "confidence": 0.8},
  "payment_terms": {"value": "e.g. Net 30", "confidence": 0.85},
  "payment_amount": {"value": "e.g. $5,000/month", "confidence": 0.8},
  "auto_renewal": {"value": "true/false or clause summary", "confidence": 0.7},
  "sla_terms": {"value": "summary of SLA commitments or null", "confidence": 0.7},
  "governing_law": {"value": "jurisdiction", "confidence": 0.9},
  "liability_cap": {"value": "e.g. total fees paid in prior 12 months", "confidence": 0.7},
  "indemnification": {"value": "summary of indemnification terms", "confidence": 0.7}
}` + promptRules,
	},

	EmploymentContract: {
		Fields: []string{
			"employer", "employee", "job_title", "start_date", "compensation",
			"benefits", "termination_clause", "non_compete", "non_solicitation",
			"intellectual_property", "governing_law",
		},
		SystemPrompt: `You are a legal document analyst specializing in Employment Contracts. Extract the following fields from the employment agreement text provided.

Respond with a JSON object where each field has "value" and "confidence" (0.0-1.0):
{
  "employer": {"value": "...", "confidence": 0.95},
  "employee": {"value": "...", "confidence": 0.95},
  "job_title": {"value": "...", "confidence": 0.9},
  "start_date": {"value": "YYYY-MM-DD or descriptive", "confidence": 0.9},
  "compensation": {"value": "e.g. $120,000/year", "confidence": 0.85},
  "benefits": {"value": "summary of benefits", "confidence": 0.7},
  "termination_clause": {"value": "summary of termination conditions", "confidence": 0.8},
  "non_compete": {"value": "summary or null", "confidence": 0.7},
  "non_solicitation": {"value": "summary or null", "confidence": 0.7},
  "intellectual_property": {"value": "summary of IP assignment clause", "confidence": 0.7},
  "governing_law": {"value": "jurisdiction", "confidence": 0.9}
}` + promptRules,
	},

	// Lease and SaaS terms have no dedicated vocabulary yet; they share the
	// generic one below via the Other fallback.

	Other: {
		Fields: []string{
			"parties", "effective_date", "expiration_date", "governing_law",
			"key_terms", "payment_terms", "termination_clause",
		},
		SystemPrompt: `You are a legal document analyst. Extract key fields from the contract text provided.

Respond with a JSON object where each field has "value" and "confidence" (0.0-1.0):
{
  "parties": {"value": "list of parties involved", "confidence": 0.9},
  "effective_date": {"value": "YYYY-MM-DD or descriptive", "confidence": 0.8},
  "expiration_date": {"value": "YYYY-MM-DD or descriptive or null", "confidence": 0.7},
  "governing_law": {"value": "jurisdiction", "confidence": 0.8},
  "key_terms": {"value": "brief summary of the most important terms", "confidence": 0.7},
  "payment_terms": {"value": "summary or null", "confidence": 0.6},
  "termination_clause": {"value": "summary or null", "confidence": 0.6}
}` + promptRules,
	},
}
