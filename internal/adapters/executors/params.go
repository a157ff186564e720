package executors

import (
	"fmt"
	"strings"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
)

// Parameters arrive from JSON, YAML or HCL, so lists may be []any or
// []string and numbers may be any numeric type.

func stringParam(params map[string]any, key string) (string, bool) {
	value, ok := params[key].(string)
	return value, ok && value != ""
}

func stringListParam(params map[string]any, key string) ([]string, error) {
	switch raw := params[key].(type) {
	case nil:
		return nil, nil
	case string:
		return []string{raw}, nil
	case []string:
		return append([]string(nil), raw...), nil
	case []any:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%s must be a list of strings", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of strings", key)
	}
}

func objectParam(params map[string]any, key string) (map[string]any, bool) {
	switch raw := params[key].(type) {
	case map[string]any:
		return raw, true
	case domain.Item:
		return map[string]any(raw), true
	}
	return nil, false
}

func objectListParam(params map[string]any, key string) ([]map[string]any, error) {
	switch raw := params[key].(type) {
	case nil:
		return nil, nil
	case []map[string]any:
		return raw, nil
	case []any:
		out := make([]map[string]any, 0, len(raw))
		for i, v := range raw {
			obj, ok := v.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be an object", key, i)
			}
			out = append(out, obj)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be a list of objects", key)
	}
}

func numberParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// durationParam accepts a Go duration string or a number of seconds.
func durationParam(params map[string]any, key string) (time.Duration, bool, error) {
	switch v := params[key].(type) {
	case nil:
		return 0, false, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, false, fmt.Errorf("%s: %w", key, err)
		}
		return d, true, nil
	default:
		seconds, ok := numberParam(params, key)
		if !ok {
			return 0, false, fmt.Errorf("%s must be a duration", key)
		}
		return time.Duration(seconds * float64(time.Second)), true, nil
	}
}

func parameterError(node *domain.Node, format string, args ...any) *domain.ValidationError {
	return domain.NewValidationError(domain.RuleParameters, node.ID, format, args...)
}

// withNode stamps node ids onto validation errors raised below the executor.
func withNode(err error, node *domain.Node) error {
	if vErr, ok := err.(*domain.ValidationError); ok && vErr.NodeID == "" {
		vErr.NodeID = node.ID
	}
	return err
}
