package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"sirsi-hub/internal/domain"
)

var stringMap = `{"type": "object", "additionalProperties": {"type": "string"}}`

var decideSchema = `{
	"type": "object",
	"required": ["context", "options"],
	"properties": {
		"context": {
			"type": "object",
			"required": ["preferences"],
			"properties": {
				"preferences": {
					"type": "object",
					"properties": {
						"cost_priority": {"type": "number", "minimum": 0, "maximum": 1},
						"performance_priority": {"type": "number", "minimum": 0, "maximum": 1},
						"security_priority": {"type": "number", "minimum": 0, "maximum": 1},
						"risk_tolerance": {"type": "number", "minimum": 0, "maximum": 1}
					}
				}
			}
		},
		"options": {
			"type": "array",
			"minItems": 1,
			"items": {"type": "object", "required": ["id"], "properties": {"id": {"type": "string", "minLength": 1}}}
		},
		"threshold": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

// methodSchemas holds the request schema per RPC method. Methods without
// an entry accept any payload.
var methodSchemas = map[string]string{
	"session.create": `{
		"type": "object",
		"required": ["user_id"],
		"properties": {
			"user_id": {"type": "string", "minLength": 1},
			"context": ` + stringMap + `
		}
	}`,
	"agent.create": `{
		"type": "object",
		"required": ["session_id", "agent_type"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"agent_type": {"type": "string", "minLength": 1},
			"config": ` + stringMap + `,
			"context": ` + stringMap + `
		}
	}`,
	"message.send": `{
		"type": "object",
		"required": ["session_id", "content"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"agent_id": {"type": "string"},
			"content": {"type": "string", "minLength": 1},
			"metadata": ` + stringMap + `
		}
	}`,
	"agent.status": `{
		"type": "object",
		"required": ["session_id", "agent_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"agent_id": {"type": "string", "minLength": 1}
		}
	}`,
	"suggestions.get": `{
		"type": "object",
		"required": ["session_id"],
		"properties": {
			"session_id": {"type": "string", "minLength": 1},
			"agent_id": {"type": "string"},
			"context": ` + stringMap + `
		}
	}`,
	"consensus.request": `{
		"type": "object",
		"required": ["title", "options"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"options": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["option_id"],
					"properties": {
						"option_id": {"type": "string", "minLength": 1},
						"risk_level": {"enum": ["low", "medium", "high", "critical"]}
					}
				}
			},
			"required_agents": {"type": "array", "items": {"type": "string"}},
			"consensus_threshold": {"type": "number", "minimum": 0, "maximum": 1},
			"timeout": {"type": "integer", "minimum": 0}
		}
	}`,
	"consensus.vote": `{
		"type": "object",
		"required": ["agent_id", "decision_id", "selected_option"],
		"properties": {
			"agent_id": {"type": "string", "minLength": 1},
			"decision_id": {"type": "string", "minLength": 1},
			"selected_option": {"type": "string", "minLength": 1},
			"confidence": {"type": "number", "minimum": 0, "maximum": 1}
		}
	}`,
	"decision.make":   decideSchema,
	"decision.review": decideSchema,
	"knowledge.query": `{
		"type": "object",
		"properties": {
			"tags": {"type": "array", "items": {"type": "string"}},
			"confidence_threshold": {"type": "number", "minimum": 0, "maximum": 1},
			"limit": {"type": "integer", "minimum": 0}
		}
	}`,
}

type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	compiler := jsonschema.NewCompiler()
	for method, src := range methodSchemas {
		if err := compiler.AddResource(method+".json", strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema resource for %q: %w", method, err)
		}
	}
	v := &validator{schemas: make(map[string]*jsonschema.Schema, len(methodSchemas))}
	for method := range methodSchemas {
		compiled, err := compiler.Compile(method + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema for %q: %w", method, err)
		}
		v.schemas[method] = compiled
	}
	return v, nil
}

// validate checks payload against the method schema. An empty payload is
// validated as {}.
func (v *validator) validate(method string, payload json.RawMessage) error {
	schema, ok := v.schemas[method]
	if !ok {
		return nil
	}
	var doc any = map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &doc); err != nil {
			return fmt.Errorf("%w: invalid JSON: %v", domain.ErrRPCInvalidPayload, err)
		}
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRPCInvalidPayload, err)
	}
	return nil
}
