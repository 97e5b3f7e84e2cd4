package schema

import "fmt"

// TripleTypeName is the data type name that always receives the triple overlay.
const TripleTypeName = "KGTriples"

// TripleFields are the fields every element of a triple collection must carry.
var TripleFields = []string{"subject", "predicate", "object"}

// IsTripleCollection reports whether a type denotes a collection of
// subject/predicate/object triples: either by its well-known name or because
// its schema is an array whose items declare all three properties.
func IsTripleCollection(name string, s Schema) bool {
	if name == TripleTypeName {
		return true
	}
	if s.Kind() != KindArray {
		return false
	}
	items, ok := s.Items()
	if !ok {
		return false
	}
	props := items.Properties()
	for _, f := range TripleFields {
		if _, ok := props[f]; !ok {
			return false
		}
	}
	return true
}

// ValidateType runs Validate and, for triple collections, additionally
// requires a non-empty collection whose every element has all three fields.
func ValidateType(name string, s Schema, v any) error {
	err := Validate(s, v)
	if !IsTripleCollection(name, s) {
		return err
	}

	var violations []Violation
	if ve, ok := err.(*ValidationError); ok {
		violations = append(violations, ve.Violations...)
	}
	if _, isSeq := sequence(v); isSeq || len(violations) == 0 {
		violations = append(violations, tripleViolations(v)...)
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func tripleViolations(v any) []Violation {
	elems, ok := sequence(v)
	if !ok {
		return []Violation{{"$", "knowledge graph must be a list of triples"}}
	}
	if len(elems) == 0 {
		return []Violation{{"$", "knowledge graph should not be empty"}}
	}
	var out []Violation
	for i, elem := range elems {
		fields, ok := mapping(elem)
		path := fmt.Sprintf("$[%d]", i)
		if !ok {
			out = append(out, Violation{path, "triple must be an object"})
			continue
		}
		for _, f := range TripleFields {
			if _, present := fields[f]; !present {
				out = append(out, Violation{path, fmt.Sprintf("triple is missing %q", f)})
			}
		}
	}
	return out
}
