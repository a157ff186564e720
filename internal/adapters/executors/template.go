package executors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/xjson"
)

const envScope = "env."

// Template is a string with {{ field.path }} placeholders. A placeholder
// starting with env. reads the injected environment map instead of the item.
type Template struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	literal string
	expr    string
}

func ParseTemplate(raw string) (*Template, error) {
	t := &Template{raw: raw}
	rest := raw
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			if strings.Contains(rest, "}}") {
				return nil, domain.NewValidationError(domain.RuleTemplate, "", "unmatched }} in %q", raw)
			}
			if rest != "" {
				t.parts = append(t.parts, templatePart{literal: rest})
			}
			return t, nil
		}
		if start > 0 {
			if strings.Contains(rest[:start], "}}") {
				return nil, domain.NewValidationError(domain.RuleTemplate, "", "unmatched }} in %q", raw)
			}
			t.parts = append(t.parts, templatePart{literal: rest[:start]})
		}

		end := strings.Index(rest[start+2:], "}}")
		if end < 0 {
			return nil, domain.NewValidationError(domain.RuleTemplate, "", "unclosed {{ in %q", raw)
		}
		expr := strings.TrimSpace(rest[start+2 : start+2+end])
		if expr == "" || strings.ContainsAny(expr, "{} ") {
			return nil, domain.NewValidationError(domain.RuleTemplate, "", "bad placeholder {{%s}} in %q", rest[start+2:start+2+end], raw)
		}
		t.parts = append(t.parts, templatePart{expr: expr})
		rest = rest[start+2+end+2:]
	}
}

// Fields lists the item paths the template reads, excluding env lookups.
func (t *Template) Fields() []string {
	var fields []string
	for _, part := range t.parts {
		if part.expr != "" && !strings.HasPrefix(part.expr, envScope) {
			fields = append(fields, part.expr)
		}
	}
	return fields
}

// Render interpolates every placeholder into a string.
func (t *Template) Render(item domain.Item, env map[string]string) (string, error) {
	var b strings.Builder
	for _, part := range t.parts {
		if part.expr == "" {
			b.WriteString(part.literal)
			continue
		}
		value, err := resolve(part.expr, item, env)
		if err != nil {
			return "", err
		}
		text, err := stringify(value)
		if err != nil {
			return "", err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// Value is Render except that a template made of one placeholder yields the
// referenced value with its original type.
func (t *Template) Value(item domain.Item, env map[string]string) (any, error) {
	if len(t.parts) == 1 && t.parts[0].expr != "" {
		return resolve(t.parts[0].expr, item, env)
	}
	return t.Render(item, env)
}

func resolve(expr string, item domain.Item, env map[string]string) (any, error) {
	if name, ok := strings.CutPrefix(expr, envScope); ok {
		value, found := env[name]
		if !found {
			return nil, domain.NewValidationError(domain.RuleTemplate, "", "environment value %q is not configured", name)
		}
		return value, nil
	}
	value, found := item.Lookup(expr)
	if !found {
		return nil, domain.NewValidationError(domain.RuleStepInput, "", "field %q is missing", expr)
	}
	return value, nil
}

func stringify(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		data, err := xjson.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// renderStructure walks an object literal and renders every string leaf as a
// template, keeping map and list shapes.
func renderStructure(value any, item domain.Item, env map[string]string) (any, error) {
	switch v := value.(type) {
	case string:
		tmpl, err := ParseTemplate(v)
		if err != nil {
			return nil, err
		}
		return tmpl.Value(item, env)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, inner := range v {
			rendered, err := renderStructure(inner, item, env)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			rendered, err := renderStructure(inner, item, env)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// checkStructure parses every string leaf so malformed templates surface at
// activation.
func checkStructure(value any) error {
	switch v := value.(type) {
	case string:
		_, err := ParseTemplate(v)
		return err
	case map[string]any:
		for _, inner := range v {
			if err := checkStructure(inner); err != nil {
				return err
			}
		}
	case []any:
		for _, inner := range v {
			if err := checkStructure(inner); err != nil {
				return err
			}
		}
	}
	return nil
}
