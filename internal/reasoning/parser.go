package reasoning

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Reasoning backends wrap JSON in markdown fences, preamble text, or both.
// ExtractJSON recovers the JSON document from such output:
//
//  1. the trimmed response parses as-is, or
//  2. the content of a ``` / ```json fence parses, or
//  3. the outermost {...} block parses.
//
// Anything else is malformed.
var fencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON returns the JSON document embedded in raw backend text.
func ExtractJSON(raw string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(raw)
	if json.Valid([]byte(trimmed)) && len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return json.RawMessage(trimmed), nil
	}

	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		candidate := strings.TrimSpace(m[1])
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		candidate := raw[start : end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}

	return nil, errors.New("no parseable JSON in response")
}

// Decode extracts, schema-validates, and unmarshals a stage response into v.
// Every reasoning response passes through here: the output originates from
// free-form external text and is untrusted until validated.
func Decode(stage string, raw string, v any) error {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return &Failure{Stage: stage, Reason: ReasonMalformed, Err: err}
	}

	if err := validateStageOutput(stage, doc); err != nil {
		return &Failure{Stage: stage, Reason: ReasonSchema, Err: err}
	}

	if err := json.Unmarshal(doc, v); err != nil {
		return &Failure{Stage: stage, Reason: ReasonMalformed, Err: fmt.Errorf("unmarshal %s output: %w", stage, err)}
	}
	return nil
}
