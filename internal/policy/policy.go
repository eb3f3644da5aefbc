// Package policy loads course-level problem setting overrides from a JSON
// file. Operators use it to tighten deadlines or attempt limits across a
// course without editing each problem. Files are schema-validated before
// any override is applied.
package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

func bytesReader(b []byte) io.Reader  { return bytes.NewReader(b) }
func stringReader(s string) io.Reader { return strings.NewReader(s) }

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "overrides": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "display_name": {"type": "string"},
          "max_attempts": {"type": "integer", "minimum": 0},
          "due": {"type": "string"},
          "graceperiod": {"type": "string"},
          "showanswer": {"enum": ["always", "answered", "attempted", "closed",
                                   "finished", "correct_or_past_due", "past_due", "never"]},
          "force_save_button": {"type": "boolean"},
          "show_reset_button": {"type": "boolean"},
          "rerandomize": {"type": "string"},
          "submission_wait_seconds": {"type": "integer", "minimum": 0},
          "weight": {"type": "number", "minimum": 0}
        },
        "additionalProperties": false
      }
    }
  },
  "required": ["overrides"],
  "additionalProperties": false
}`

// CoursePolicy maps problem ids to raw setting overrides.
type CoursePolicy struct {
	Overrides map[string]json.RawMessage `json:"overrides"`
}

// Load reads and validates a policy file.
func Load(path string) (*CoursePolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse validates policy JSON against the schema and decodes it.
func Parse(raw []byte) (*CoursePolicy, error) {
	doc, err := jsonschema.UnmarshalJSON(bytesReader(raw))
	if err != nil {
		return nil, fmt.Errorf("policy: invalid JSON: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	schemaDoc, err := jsonschema.UnmarshalJSON(stringReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("policy: bad schema: %w", err)
	}
	if err := compiler.AddResource("policy-schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("policy: bad schema: %w", err)
	}
	schema, err := compiler.Compile("policy-schema.json")
	if err != nil {
		return nil, fmt.Errorf("policy: bad schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("policy: validation failed: %w", err)
	}
	var p CoursePolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	return &p, nil
}

// Merge overlays the override for problemID onto its stored settings
// JSON. Override keys win; unknown problems pass through unchanged.
func (p *CoursePolicy) Merge(problemID string, settings []byte) ([]byte, error) {
	ov, ok := p.Overrides[problemID]
	if !ok {
		return settings, nil
	}
	base := map[string]any{}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &base); err != nil {
			return nil, fmt.Errorf("policy: bad stored settings for %s: %w", problemID, err)
		}
	}
	over := map[string]any{}
	if err := json.Unmarshal(ov, &over); err != nil {
		return nil, fmt.Errorf("policy: bad override for %s: %w", problemID, err)
	}
	for k, v := range over {
		base[k] = v
	}
	return json.Marshal(base)
}
