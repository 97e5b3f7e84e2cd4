// Package schema implements the structural schema used to describe data
// types and the validator that checks produced values against it.
//
// A Schema is plain data: a kind tag under "type", an optional "items"
// sub-schema for arrays and an optional "properties" map for objects. Any
// other keys ("format", "description", ...) are carried along untouched so a
// schema survives persistence byte-for-byte in meaning.
package schema

import (
	"encoding/json"
	"sort"
)

// Kind tags understood by the validator. Unknown tags are accepted as-is.
const (
	KindArray   = "array"
	KindObject  = "object"
	KindString  = "string"
	KindInteger = "integer"
	KindNumber  = "number"
	KindBoolean = "boolean"
	KindNull    = "null"
)

// Schema is a recursive structural description.
type Schema map[string]any

// Kind returns the "type" tag, or "" when absent.
func (s Schema) Kind() string {
	k, _ := s["type"].(string)
	return k
}

// Items returns the array item sub-schema.
func (s Schema) Items() (Schema, bool) {
	return asSchema(s["items"])
}

// Properties returns the declared object property sub-schemas.
func (s Schema) Properties() map[string]Schema {
	raw, ok := s["properties"]
	if !ok {
		return nil
	}
	var props map[string]any
	switch p := raw.(type) {
	case map[string]any:
		props = p
	case Schema:
		props = p
	case map[string]Schema:
		return p
	default:
		return nil
	}
	out := make(map[string]Schema, len(props))
	for name, sub := range props {
		if ss, ok := asSchema(sub); ok {
			out[name] = ss
		}
	}
	return out
}

// PropertyNames returns the declared property names in sorted order.
func (s Schema) PropertyNames() []string {
	props := s.Properties()
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Parse decodes a JSON schema document.
func Parse(data []byte) (Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s == nil {
		s = Schema{}
	}
	return s, nil
}

// Normalize returns s in the shape a JSON decode would produce: nested maps
// become map[string]any and every number becomes float64. Schemas that cannot
// be encoded are returned unchanged.
func Normalize(s Schema) Schema {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return s
	}
	var out Schema
	if err := json.Unmarshal(data, &out); err != nil {
		return s
	}
	return out
}

// JSON renders the schema with two-space indentation, as embedded in prompts.
func (s Schema) JSON() string {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func asSchema(v any) (Schema, bool) {
	switch s := v.(type) {
	case Schema:
		return s, true
	case map[string]any:
		return Schema(s), true
	default:
		return nil, false
	}
}
