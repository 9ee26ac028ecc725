package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	mcperrors "github.com/fluffypony/universe/pkg/errors"
)

// ArgType is the JSON type of an argument
type ArgType string

const (
	TypeString  ArgType = "string"
	TypeInteger ArgType = "integer"
	TypeNumber  ArgType = "number"
	TypeBoolean ArgType = "boolean"
)

// Argument declares one tool argument
type Argument struct {
	Name        string
	Type        ArgType
	Required    bool
	Description string
	// Enum lists accepted string values. With FoldCase set they are
	// matched case-insensitively.
	Enum     []string
	FoldCase bool
	Pattern  string
	Minimum  *float64
	Maximum  *float64
	Default  interface{}
}

func bound(v float64) *float64 { return &v }

// jsonSchema renders the arguments as a draft 2020-12 object schema
func jsonSchema(args []Argument) map[string]interface{} {
	props := make(map[string]interface{}, len(args))
	required := []string{}

	for _, a := range args {
		p := map[string]interface{}{"type": string(a.Type)}
		if a.Description != "" {
			p["description"] = a.Description
		}
		switch {
		case len(a.Enum) > 0 && a.FoldCase:
			quoted := make([]string, len(a.Enum))
			for i, v := range a.Enum {
				quoted[i] = regexp.QuoteMeta(v)
			}
			p["pattern"] = "^(?i:" + strings.Join(quoted, "|") + ")$"
			p["examples"] = a.Enum
		case len(a.Enum) > 0:
			p["enum"] = a.Enum
		case a.Pattern != "":
			p["pattern"] = a.Pattern
		}
		if a.Minimum != nil {
			p["minimum"] = *a.Minimum
		}
		if a.Maximum != nil {
			p["maximum"] = *a.Maximum
		}
		if a.Default != nil {
			p["default"] = a.Default
		}
		props[a.Name] = p
		if a.Required {
			required = append(required, a.Name)
		}
	}

	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// compileSchema compiles the argument schema of a tool. It returns the
// compiled schema and the document advertised in tools/list.
func compileSchema(name string, args []Argument) (*jsonschema.Schema, json.RawMessage, error) {
	raw, err := json.Marshal(jsonSchema(args))
	if err != nil {
		return nil, nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	url := name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, nil, fmt.Errorf("add %s schema: %w", name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return schema, raw, nil
}

// schemaFieldErrors flattens a schema validation error into field errors
func schemaFieldErrors(err error) []mcperrors.FieldError {
	var fields []mcperrors.FieldError
	var walk func(*jsonschema.ValidationError)
	walk = func(ve *jsonschema.ValidationError) {
		if len(ve.Causes) == 0 {
			fields = append(fields, mcperrors.FieldError{
				Field:   strings.TrimPrefix(ve.InstanceLocation, "/"),
				Message: ve.Message,
			})
			return
		}
		for _, cause := range ve.Causes {
			walk(cause)
		}
	}

	if ve, ok := err.(*jsonschema.ValidationError); ok {
		walk(ve)
	} else {
		fields = append(fields, mcperrors.FieldError{Message: err.Error()})
	}
	return sortFields(fields)
}

func sortFields(fields []mcperrors.FieldError) []mcperrors.FieldError {
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].Field != fields[j].Field {
			return fields[i].Field < fields[j].Field
		}
		return fields[i].Message < fields[j].Message
	})
	return fields
}

// stringArg returns a string argument or def
func stringArg(args Args, name, def string) string {
	if s, ok := args[name].(string); ok {
		return s
	}
	return def
}

// boolArg returns a boolean argument or def
func boolArg(args Args, name string, def bool) bool {
	if b, ok := args[name].(bool); ok {
		return b
	}
	return def
}

// intArg returns an integer argument, accepting any JSON number encoding
func intArg(args Args, name string) (int, bool) {
	switch v := args[name].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}
