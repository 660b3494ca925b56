package extractor

import (
	"encoding/json"
	"fmt"
)

// Field describes one declared field in a request contract. Catalog schemas
// use either "key" or "name" for the field identifier; both are accepted.
// Object fields may carry nested fields, which are passed to the oracle but
// not re-validated on output (top-level enforcement only).
type Field struct {
	Key         string  `json:"key,omitempty"`
	Name        string  `json:"name,omitempty"`
	Type        string  `json:"type,omitempty"`
	Description string  `json:"description,omitempty"`
	Required    bool    `json:"required,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Properties  []Field `json:"properties,omitempty"`
}

// Identifier returns the field's declared key.
func (f Field) Identifier() string {
	if f.Key != "" {
		return f.Key
	}
	return f.Name
}

// Schema is a declarative description of the fields a structured object may
// contain. It is the contract the extractor must never violate.
type Schema []Field

// Keys returns the set of declared top-level keys.
func (s Schema) Keys() map[string]struct{} {
	keys := make(map[string]struct{}, len(s))
	for _, f := range s {
		if id := f.Identifier(); id != "" {
			keys[id] = struct{}{}
		}
	}
	return keys
}

// Empty reports whether the schema declares no fields.
func (s Schema) Empty() bool {
	return len(s) == 0
}

// ParseSchema decodes a schema stored as JSON. Catalog documents store
// schemas as lists of field objects; an empty or null payload is an empty
// schema rather than an error.
func ParseSchema(raw json.RawMessage) (Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	trimmed := string(raw)
	if trimmed == "null" || trimmed == `""` || trimmed == "{}" || trimmed == "[]" {
		return nil, nil
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse field schema: %w", err)
	}
	return s, nil
}
