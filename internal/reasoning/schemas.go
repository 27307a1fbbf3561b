package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/argusstack/argus/internal/models"
)

// JSON Schemas for the stage outputs that come back from the reasoning
// backend. Only reasoning stages have schemas; data-collection stages never
// touch the backend.
const (
	hypothesizeSchema = `{
		"type": "object",
		"required": ["hypotheses"],
		"properties": {
			"hypotheses": {
				"type": "array",
				"minItems": 1,
				"maxItems": 5,
				"items": {
					"type": "object",
					"required": ["rank", "title", "description", "confidence_score"],
					"properties": {
						"rank": {"type": "integer", "minimum": 1},
						"title": {"type": "string", "minLength": 1},
						"description": {"type": "string"},
						"confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
						"supporting_signals": {"type": "array", "items": {"type": "string"}},
						"evidence_needed": {"type": "array", "items": {"type": "string"}},
						"similar_past_incident_id": {"type": ["string", "null"]}
					}
				}
			}
		}
	}`

	confirmSchema = `{
		"type": "object",
		"required": ["confirmed_hypothesis_title", "confidence_score", "evidence_chain"],
		"properties": {
			"confirmed_hypothesis_title": {"type": "string", "minLength": 1},
			"confidence_score": {"type": "number", "minimum": 0, "maximum": 1},
			"evidence_chain": {"type": "array", "minItems": 1, "items": {"type": "string"}},
			"affected_code_location": {"type": "string"},
			"affected_code_snippet": {"type": "string"}
		}
	}`

	fixSchema = `{
		"type": "object",
		"required": ["pr_title", "pr_description", "fixed_code", "file_path", "risk_level"],
		"properties": {
			"pr_title": {"type": "string", "minLength": 1},
			"pr_description": {"type": "string"},
			"original_code": {"type": "string"},
			"fixed_code": {"type": "string", "minLength": 1},
			"file_path": {"type": "string", "minLength": 1},
			"risk_level": {"type": "string", "enum": ["low", "medium", "high"]},
			"side_effects": {"type": "array", "items": {"type": "string"}}
		}
	}`
)

var stageSchemas = map[string]*gojsonschema.Schema{}

func init() {
	for stage, raw := range map[string]string{
		models.StageHypothesize: hypothesizeSchema,
		models.StageConfirm:     confirmSchema,
		models.StageFix:         fixSchema,
	} {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			panic(fmt.Sprintf("invalid %s schema: %v", stage, err))
		}
		stageSchemas[stage] = schema
	}
}

func validateStageOutput(stage string, doc json.RawMessage) error {
	schema, ok := stageSchemas[stage]
	if !ok {
		return fmt.Errorf("no schema registered for stage %q", stage)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validate %s output: %w", stage, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%s output rejected: %s", stage, strings.Join(msgs, "; "))
	}
	return nil
}
