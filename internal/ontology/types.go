// Package ontology implements the capability graph: the registry of known
// data types (nodes) and known transformations between them (edges), and the
// path, reachability and gap queries the synthesis loop plans with.
package ontology

import (
	"ontogen/internal/schema"
)

// DataType is a named, schema-described shape of data.
type DataType struct {
	Name   string        `json:"name"`
	Schema schema.Schema `json:"schema"`
}

// Tool is a transformation edge between two data types. Code holds the
// last-known-good source for the edge and may be empty.
type Tool struct {
	Name        string   `json:"name"`
	InputType   string   `json:"input_type"`
	OutputType  string   `json:"output_type"`
	Constraints []string `json:"constraints"`
	Code        string   `json:"code"`
}

// Gap is the result of a gap query between two types. ForwardReachable and
// BackwardRequired are only populated when Gap is true; they are exposed for
// multi-hop planning and are not consumed by the synthesis loop.
type Gap struct {
	Gap              bool     `json:"gap"`
	Source           string   `json:"source,omitempty"`
	Target           string   `json:"target,omitempty"`
	ForwardReachable []string `json:"forward_reachable,omitempty"`
	BackwardRequired []string `json:"backward_required,omitempty"`
}
