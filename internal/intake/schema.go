package intake

import (
	"bytes"
	"encoding/json"
	"fmt"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed attributes_schema.json
var attributesSchemaJSON []byte

func compileAttributesSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("attributes.json", bytes.NewReader(attributesSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add attributes schema: %w", err)
	}
	schema, err := compiler.Compile("attributes.json")
	if err != nil {
		return nil, fmt.Errorf("compile attributes schema: %w", err)
	}
	return schema, nil
}

// validateAttributes checks the submission attributes against the embedded
// JSON Schema. The attributes are round-tripped through JSON so numeric
// types normalize the way schema validation expects.
func validateAttributes(schema *jsonschema.Schema, attrs map[string]any) error {
	if attrs == nil {
		attrs = map[string]any{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	var normalized any
	if err := json.Unmarshal(encoded, &normalized); err != nil {
		return fmt.Errorf("unmarshal attributes: %w", err)
	}
	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("attributes do not match schema: %w", err)
	}
	return nil
}
