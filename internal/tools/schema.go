// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package tools

import (
	"math"
	"slices"

	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// ParamType is the declared JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// ParamSpec describes one tool parameter.
type ParamSpec struct {
	Type        ParamType
	Description string
	Required    bool
	Enum        []string // string params only
}

// Params maps parameter names to their specs.
type Params map[string]ParamSpec

// InputSchema renders the params as a JSON Schema object suitable for
// provider.ToolDefinition.InputSchema.
func (p Params) InputSchema() map[string]any {
	properties := make(map[string]any, len(p))
	var required []string
	for name, spec := range p {
		prop := map[string]any{
			"type":        string(spec.Type),
			"description": spec.Description,
		}
		if len(spec.Enum) > 0 {
			prop["enum"] = spec.Enum
		}
		properties[name] = prop
		if spec.Required {
			required = append(required, name)
		}
	}
	slices.Sort(required)

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Validate checks args against the schema and returns a coerced copy.
// Unknown keys, missing required params, and type mismatches are rejected
// before any side effect runs.
func (p Params) Validate(args map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(args))

	for name := range args {
		if _, ok := p[name]; !ok {
			return nil, valeterr.Errorf(valeterr.CodeToolArgsInvalid, "unknown parameter %q", name)
		}
	}

	for name, spec := range p {
		raw, ok := args[name]
		if !ok || raw == nil {
			if spec.Required {
				return nil, valeterr.Errorf(valeterr.CodeToolArgsInvalid, "missing required parameter %q", name)
			}
			continue
		}

		val, err := coerce(name, spec, raw)
		if err != nil {
			return nil, err
		}
		out[name] = val
	}

	return out, nil
}

// coerce converts a decoded JSON value to the parameter's declared type.
// JSON numbers decode as float64, so integers are recovered from whole floats.
func coerce(name string, spec ParamSpec, raw any) (any, error) {
	switch spec.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, valeterr.Errorf(valeterr.CodeToolArgsInvalid, "parameter %q must be a string", name)
		}
		if len(spec.Enum) > 0 && !slices.Contains(spec.Enum, s) {
			return nil, valeterr.Errorf(valeterr.CodeToolArgsInvalid, "parameter %q must be one of %v", name, spec.Enum)
		}
		return s, nil

	case TypeInteger:
		f, ok := raw.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, valeterr.Errorf(valeterr.CodeToolArgsInvalid, "parameter %q must be an integer", name)
		}
		return int(f), nil

	case TypeNumber:
		f, ok := raw.(float64)
		if !ok {
			return nil, valeterr.Errorf(valeterr.CodeToolArgsInvalid, "parameter %q must be a number", name)
		}
		return f, nil

	case TypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, valeterr.Errorf(valeterr.CodeToolArgsInvalid, "parameter %q must be a boolean", name)
		}
		return b, nil

	default:
		return nil, valeterr.Errorf(valeterr.CodeToolArgsInvalid, "parameter %q has unsupported type %q", name, spec.Type)
	}
}

// StringArg returns a validated string parameter, or "" when absent.
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

// NumberArg returns a validated numeric parameter, or 0 when absent.
func NumberArg(args map[string]any, name string) float64 {
	f, _ := args[name].(float64)
	return f
}
