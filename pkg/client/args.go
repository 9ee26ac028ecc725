package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseArguments turns key=value pairs into tool arguments, converting each
// value to the type its property declares in schema. Properties the schema
// does not name are passed as strings.
func ParseArguments(schema json.RawMessage, pairs []string) (map[string]interface{}, error) {
	var s struct {
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if len(schema) > 0 {
		if err := json.Unmarshal(schema, &s); err != nil {
			return nil, fmt.Errorf("malformed input schema: %w", err)
		}
	}

	args := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}

		switch s.Properties[key].Type {
		case "integer":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %q is not an integer", key, value)
			}
			args[key] = n
		case "number":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %q is not a number", key, value)
			}
			args[key] = f
		case "boolean":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("argument %s: %q is not a boolean", key, value)
			}
			args[key] = b
		default:
			args[key] = value
		}
	}
	return args, nil
}
