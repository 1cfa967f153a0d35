package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// The schemas are static for the life of the process, so they are compiled
// once here instead of per response.
var (
	documentSchema       = mustCompileSchema("document.json", BuildDocumentJSONSchema())
	classificationSchema = mustCompileSchema("classification.json", BuildClassificationJSONSchema())
)

func mustCompileSchema(name string, schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("llm: marshal %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("llm: add %s: %v", name, err))
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("llm: compile %s: %v", name, err))
	}
	return schema
}

// ValidateDocumentJSON checks a candidate extraction payload against the
// document schema.
func ValidateDocumentJSON(data []byte) error {
	return validateAgainst(documentSchema, data)
}

// ValidateClassificationJSON checks a classification payload.
func ValidateClassificationJSON(data []byte) error {
	return validateAgainst(classificationSchema, data)
}

func validateAgainst(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
