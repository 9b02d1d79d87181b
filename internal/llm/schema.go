package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSON Schemas (draft 2020-12 subset) for the three stage responses. Each
// model answer is validated locally before any of it is persisted.

// ClassifySchema describes the classification stage response.
func ClassifySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"doc_type":   map[string]any{"type": "string", "minLength": 1},
			"confidence": confidenceProp(),
			"reasoning":  map[string]any{"type": "string"},
		},
		"required": []string{"doc_type"},
	}
}

// ExtractionSchema describes the field-extraction response for a given
// vocabulary. Extra fields the model volunteers are allowed but must have
// the same {value, confidence} shape.
func ExtractionSchema(fields []string) map[string]any {
	props := map[string]any{}
	for _, f := range fields {
		props[f] = fieldProp()
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": fieldProp(),
	}
}

// ClausesSchema describes the clause-analysis response.
func ClausesSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"clauses": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"clause_type":   map[string]any{"type": "string", "minLength": 1},
						"original_text": map[string]any{"type": "string"},
						"plain_summary": nullable("string"),
						"risk_level": map[string]any{
							"type": []string{"string", "null"},
							"enum": []any{"low", "medium", "high", nil},
						},
						"risk_reason": nullable("string"),
						"confidence":  map[string]any{"type": []string{"number", "null"}},
						"page_number": map[string]any{"type": []string{"integer", "null"}},
					},
					"required": []string{"clause_type", "original_text"},
				},
			},
		},
		"required": []string{"clauses"},
	}
}

func fieldProp() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"value":      nullable("string"),
			"confidence": confidenceProp(),
		},
		"required": []string{"value"},
	}
}

func confidenceProp() map[string]any {
	return map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0}
}

func nullable(t string) map[string]any {
	return map[string]any{"type": []string{t, "null"}}
}

// ValidateAgainstSchema validates data against the generic schema map.
func ValidateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
