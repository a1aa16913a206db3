package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// gatewaySchema is the advisory shape of the gateway config document. It
// constrains types, not presence: the panel must not reject documents for
// fields it does not know about, so additional properties stay open.
const gatewaySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "providers": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "api_key": {"type": "string"},
          "base_url": {"type": "string"},
          "model": {"type": "string"}
        }
      }
    },
    "channels": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "enabled": {"type": "boolean"},
          "token": {"type": "string"}
        }
      }
    },
    "tools": {
      "type": "object",
      "additionalProperties": {"type": ["boolean", "object"]}
    },
    "mcp_servers": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "command": {"type": "string"},
          "args": {"type": "array", "items": {"type": "string"}},
          "env": {"type": "object", "additionalProperties": {"type": "string"}},
          "enabled": {"type": "boolean"}
        }
      }
    }
  }
}`

// ValidationError reports a document rejected by the schema.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config document rejected: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DocumentValidator checks gateway config documents against the schema.
type DocumentValidator struct {
	schema *jsonschema.Schema
}

// NewDocumentValidator compiles the built-in gateway schema.
func NewDocumentValidator() (*DocumentValidator, error) {
	// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(gatewaySchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("gateway.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("gateway.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &DocumentValidator{schema: schema}, nil
}

// Validate returns a ValidationError when the document violates the schema.
// The document round-trips through JSON first so TOML-decoded values get the
// number representation the validator expects.
func (v *DocumentValidator) Validate(doc map[string]interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return &ValidationError{Err: err}
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return &ValidationError{Err: err}
	}
	if err := v.schema.Validate(parsed); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}
