package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/shipyard/pkg/schema"
)

const (
	documentSchemaURL = "https://shipyard.dev/schemas/document.json"
	workflowSchemaURL = "https://shipyard.dev/schemas/workflow.json"
)

// documentSchemaJSON is the JSON Schema for compiled documents.
// Embedded as a constant to avoid filesystem dependencies.
const documentSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://shipyard.dev/schemas/document.json",
  "type": "object",
  "required": ["name", "component"],
  "properties": {
    "name": { "type": "string" },
    "alias": { "type": "string" },
    "version": { "type": "string" },
    "project": { "type": "string" },
    "description": { "type": "string" },
    "component": {
      "type": "array",
      "items": { "$ref": "#/$defs/component" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "stringMap": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "command": {
      "type": "array",
      "items": { "type": "string" }
    },
    "stringList": {
      "type": ["array", "null"],
      "items": { "type": "string" }
    },
    "component": {
      "type": "object",
      "required": ["name", "type", "replicas", "properties"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "type": { "type": "string", "enum": ["webservice", "store", "config", "secret"] },
        "replicas": { "type": "integer", "minimum": 0 },
        "image": { "type": "string" },
        "properties": {
          "type": "object",
          "properties": {
            "ports": {
              "type": "array",
              "items": {
                "type": "object",
                "required": ["port"],
                "properties": { "port": { "type": "integer", "minimum": 0, "maximum": 65535 } },
                "additionalProperties": false
              }
            },
            "env": { "$ref": "#/$defs/stringMap" },
            "conf": { "$ref": "#/$defs/stringMap" },
            "secret": { "$ref": "#/$defs/stringMap" },
            "command": { "$ref": "#/$defs/command" }
          },
          "additionalProperties": false
        },
        "traits": { "$ref": "#/$defs/traits" }
      },
      "additionalProperties": false
    },
    "traits": {
      "type": "object",
      "properties": {
        "envs": { "type": "array", "items": { "$ref": "#/$defs/env" } },
        "probes": { "type": "array", "items": { "$ref": "#/$defs/probe" } },
        "storage": { "type": "array", "items": { "$ref": "#/$defs/storage" } },
        "sidecar": { "type": "array", "items": { "$ref": "#/$defs/sidecar" } },
        "init": { "type": "array", "items": { "$ref": "#/$defs/init" } },
        "rbac": { "type": "array", "items": { "$ref": "#/$defs/rbac" } },
        "resource": {
          "type": "object",
          "properties": {
            "cpu": { "type": "string" },
            "memory": { "type": "string" },
            "gpu": { "type": "string" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "nestedTraits": {
      "type": "object",
      "properties": {
        "envs": { "type": "array", "items": { "$ref": "#/$defs/env" } },
        "storage": { "type": "array", "items": { "$ref": "#/$defs/storage" } }
      },
      "additionalProperties": false
    },
    "env": {
      "type": "object",
      "required": ["name", "valueFrom"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "valueFrom": {
          "type": "object",
          "properties": {
            "secret": {
              "type": "object",
              "required": ["name", "key"],
              "properties": {
                "name": { "type": "string" },
                "key": { "type": "string" }
              }
            },
            "field": { "type": "string" }
          }
        }
      }
    },
    "probe": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "enum": ["liveness", "readiness"] },
        "exec": {
          "type": "object",
          "required": ["command"],
          "properties": { "command": { "$ref": "#/$defs/command" } }
        },
        "initialDelaySeconds": { "type": "integer", "minimum": 0 },
        "periodSeconds": { "type": "integer", "minimum": 0 },
        "timeoutSeconds": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "storage": {
      "type": "object",
      "required": ["type", "name", "mountPath"],
      "properties": {
        "type": { "type": "string", "enum": ["persistent", "ephemeral", "config"] },
        "name": { "type": "string", "minLength": 1 },
        "mountPath": { "type": "string", "minLength": 1 },
        "subPath": { "type": "string" },
        "size": { "type": "string" },
        "sourceName": { "type": "string" }
      },
      "additionalProperties": false
    },
    "sidecar": {
      "type": "object",
      "required": ["name", "image"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "image": { "type": "string" },
        "command": { "$ref": "#/$defs/command" },
        "traits": { "$ref": "#/$defs/nestedTraits" }
      },
      "additionalProperties": false
    },
    "init": {
      "type": "object",
      "required": ["name", "properties"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "properties": {
          "type": "object",
          "properties": {
            "image": { "type": "string" },
            "env": { "$ref": "#/$defs/stringMap" },
            "command": { "$ref": "#/$defs/command" }
          },
          "additionalProperties": false
        },
        "traits": { "$ref": "#/$defs/nestedTraits" }
      },
      "additionalProperties": false
    },
    "rbac": {
      "type": "object",
      "required": ["serviceAccount", "rules"],
      "properties": {
        "serviceAccount": { "type": "string" },
        "roleName": { "type": "string" },
        "bindingName": { "type": "string" },
        "rules": {
          "type": ["array", "null"],
          "items": {
            "type": "object",
            "properties": {
              "apiGroups": { "$ref": "#/$defs/stringList" },
              "resources": { "$ref": "#/$defs/stringList" },
              "verbs": { "$ref": "#/$defs/stringList" }
            }
          }
        },
        "roleLabels": { "$ref": "#/$defs/stringMap" }
      },
      "additionalProperties": false
    }
  }
}`

// workflowSchemaJSON is the JSON Schema for workflow definitions fetched from
// the backend.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://shipyard.dev/schemas/workflow.json",
  "type": "object",
  "required": ["id", "steps"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "alias": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "mode", "components"],
        "properties": {
          "id": { "type": "string" },
          "name": { "type": "string" },
          "alias": { "type": "string" },
          "mode": { "type": "string", "enum": ["StepByStep", "DAG"] },
          "components": {
            "type": ["array", "null"],
            "items": { "type": "string" }
          }
        }
      }
    }
  }
}`

// JSONSchemaValidator implements the Validator interface using JSON Schema Draft 2020-12.
// It is safe for concurrent use.
type JSONSchemaValidator struct {
	documentSchema *jsonschema.Schema
	workflowSchema *jsonschema.Schema
}

var _ Validator = (*JSONSchemaValidator)(nil)

// NewJSONSchemaValidator creates a new JSONSchemaValidator with both schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, raw := range map[string]string{
		documentSchemaURL: documentSchemaJSON,
		workflowSchemaURL: workflowSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	docSchema, err := c.Compile(documentSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile document schema: %w", err)
	}
	wfSchema, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		documentSchema: docSchema,
		workflowSchema: wfSchema,
	}, nil
}

// ValidateDocument validates a compiled document against the document JSON Schema.
func (v *JSONSchemaValidator) ValidateDocument(doc *schema.Document) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "document is nil")
	}
	return validateAgainst(v.documentSchema, doc, "document")
}

// ValidateWorkflow validates a workflow definition against the workflow JSON Schema.
func (v *JSONSchemaValidator) ValidateWorkflow(wf *schema.Workflow) error {
	if wf == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	return validateAgainst(v.workflowSchema, wf, "workflow")
}

func validateAgainst(s *jsonschema.Schema, v any, what string) error {
	inst, err := toJSONValue(v)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "failed to serialize %s", what).WithCause(err)
	}
	if err := s.Validate(inst); err != nil {
		return toShipyardError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toShipyardError converts a jsonschema.ValidationError into a ShipyardError
// listing every leaf violation.
func toShipyardError(err error) *schema.ShipyardError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
