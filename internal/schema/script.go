package schema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"text/template"
)

//go:embed templates/validate.py.tmpl
var validateScriptSource string

var validateScript = template.Must(template.New("validate.py").Parse(validateScriptSource))

// ValidationScript renders a standalone Python routine that applies the same
// rules as ValidateType to a value stored in result.json next to it. The
// routine exits 0 on success and 1 with the failure on stderr otherwise.
func ValidationScript(typeName string, s Schema) (string, error) {
	if s == nil {
		s = Schema{}
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode schema for %s: %w", typeName, err)
	}
	// A JSON string literal is also a valid Python string literal.
	schemaLit, _ := json.Marshal(string(doc))
	nameLit, _ := json.Marshal(typeName)

	var buf bytes.Buffer
	err = validateScript.Execute(&buf, struct {
		TypeName      string
		SchemaLiteral string
		Triples       bool
	}{
		TypeName:      string(nameLit),
		SchemaLiteral: string(schemaLit),
		Triples:       IsTripleCollection(typeName, s),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render validation script: %w", err)
	}
	return buf.String(), nil
}
