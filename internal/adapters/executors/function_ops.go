package executors

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/eleven-am/regiflow/internal/domain"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type itemsFunc = func([]domain.Item) ([]domain.Item, error)

func buildRequire(_ *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	fields, err := stringListParam(spec, "fields")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("fields is required")
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		var missing []string
		for _, field := range fields {
			value, ok := item.Lookup(field)
			if !ok || value == nil {
				missing = append(missing, field)
				continue
			}
			if s, isString := value.(string); isString && strings.TrimSpace(s) == "" {
				missing = append(missing, field)
			}
		}
		if len(missing) > 0 {
			return nil, domain.NewValidationError(domain.RuleStepInput, "",
				"missing required fields: %s", strings.Join(missing, ", "))
		}
		return item, nil
	}), nil
}

func buildEmail(_ *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	field, err := requiredString(spec, "field")
	if err != nil {
		return nil, err
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		value, _ := item.Lookup(field)
		email, _ := value.(string)
		if !emailPattern.MatchString(strings.TrimSpace(email)) {
			return nil, domain.NewValidationError(domain.RuleStepInput, "",
				"field %s is not a valid email address", field)
		}
		return item, nil
	}), nil
}

func buildSet(e *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	field, err := requiredString(spec, "field")
	if err != nil {
		return nil, err
	}
	value, ok := spec["value"]
	if !ok {
		return nil, fmt.Errorf("value is required")
	}
	if err := checkStructure(value); err != nil {
		return nil, err
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		rendered, err := renderStructure(value, item, e.env)
		if err != nil {
			return nil, err
		}
		item.Set(field, rendered)
		return item, nil
	}), nil
}

func buildCopy(move bool) operationBuilder {
	return func(_ *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
		from, err := requiredString(spec, "from")
		if err != nil {
			return nil, err
		}
		to, err := requiredString(spec, "to")
		if err != nil {
			return nil, err
		}

		return eachItem(func(item domain.Item) (domain.Item, error) {
			value, ok := item.Lookup(from)
			if !ok {
				return nil, domain.NewValidationError(domain.RuleStepInput, "", "field %q is missing", from)
			}
			if move {
				item.Delete(from)
			}
			item.Set(to, domain.CloneValue(value))
			return item, nil
		}), nil
	}
}

func buildRemove(_ *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	fields, err := stringListParam(spec, "fields")
	if err != nil {
		return nil, err
	}
	return eachItem(func(item domain.Item) (domain.Item, error) {
		for _, field := range fields {
			item.Delete(field)
		}
		return item, nil
	}), nil
}

// Slugify lowercases s, turns every run of non-alphanumerics into one dash
// and trims dashes from both ends.
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}
	return b.String()
}

func buildSlugify(_ *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	from, err := requiredString(spec, "from")
	if err != nil {
		return nil, err
	}
	to, ok := stringParam(spec, "to")
	if !ok {
		to = from
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		value, ok := item.Lookup(from)
		text, isString := value.(string)
		if !ok || !isString {
			return nil, domain.NewValidationError(domain.RuleStepInput, "", "field %q must be a string", from)
		}
		slug := Slugify(text)
		if slug == "" {
			return nil, domain.NewValidationError(domain.RuleStepInput, "", "field %q has no characters to slugify", from)
		}
		item.Set(to, slug)
		return item, nil
	}), nil
}

func buildGenerateID(e *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	field, err := requiredString(spec, "field")
	if err != nil {
		return nil, err
	}
	prefix, _ := stringParam(spec, "prefix")
	length := 0
	if n, ok := numberParam(spec, "length"); ok {
		if n < 1 || n > 32 {
			return nil, fmt.Errorf("length must be between 1 and 32")
		}
		length = int(n)
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		id := strings.ReplaceAll(e.newID(), "-", "")
		if length > 0 && length < len(id) {
			id = id[:length]
		}
		item.Set(field, prefix+id)
		return item, nil
	}), nil
}

var timestampFormats = map[string]string{
	"":        time.RFC3339,
	"rfc3339": time.RFC3339,
	"date":    time.DateOnly,
}

func buildTimestamp(e *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	field, err := requiredString(spec, "field")
	if err != nil {
		return nil, err
	}
	formatName, _ := stringParam(spec, "format")
	layout, known := timestampFormats[formatName]
	if !known && formatName != "unix" {
		return nil, fmt.Errorf("unknown format %q", formatName)
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		now := e.clock.Now().UTC()
		if formatName == "unix" {
			item.Set(field, float64(now.Unix()))
		} else {
			item.Set(field, now.Format(layout))
		}
		return item, nil
	}), nil
}

func buildAddDuration(e *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	field, err := requiredString(spec, "field")
	if err != nil {
		return nil, err
	}
	from, _ := stringParam(spec, "from")

	offset, hasDuration, err := durationParam(spec, "duration")
	if err != nil {
		return nil, err
	}
	if days, ok := numberParam(spec, "days"); ok {
		offset += time.Duration(days * float64(24*time.Hour))
		hasDuration = true
	}
	if !hasDuration {
		return nil, fmt.Errorf("duration or days is required")
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		base := e.clock.Now().UTC()
		if from != "" {
			raw, _ := item.Lookup(from)
			text, _ := raw.(string)
			parsed, err := time.Parse(time.RFC3339, text)
			if err != nil {
				return nil, domain.NewValidationError(domain.RuleStepInput, "", "field %q is not an RFC3339 timestamp", from)
			}
			base = parsed
		}
		item.Set(field, base.Add(offset).Format(time.RFC3339))
		return item, nil
	}), nil
}

func buildMerge(e *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	value, ok := objectParam(spec, "value")
	if !ok {
		return nil, fmt.Errorf("value must be an object")
	}
	if err := checkStructure(value); err != nil {
		return nil, err
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		rendered, err := renderStructure(value, item, e.env)
		if err != nil {
			return nil, err
		}
		return domain.MergeItems(item, rendered.(map[string]any))
	}), nil
}

func buildPick(_ *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	fields, err := stringListParam(spec, "fields")
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("fields is required")
	}

	return eachItem(func(item domain.Item) (domain.Item, error) {
		picked := domain.Item{}
		for _, field := range fields {
			if value, ok := item.Lookup(field); ok {
				picked.Set(field, value)
			}
		}
		return picked, nil
	}), nil
}

// buildExplode turns one item with a list field into one item per element.
// With "as" set each element lands under that key beside the item's other
// fields; otherwise object elements become the items themselves.
func buildExplode(_ *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	field, err := requiredString(spec, "field")
	if err != nil {
		return nil, err
	}
	as, _ := stringParam(spec, "as")

	return func(items []domain.Item) ([]domain.Item, error) {
		var out []domain.Item
		for _, item := range items {
			raw, _ := item.Lookup(field)
			list, ok := raw.([]any)
			if !ok {
				return nil, domain.NewValidationError(domain.RuleStepInput, "", "field %q must be a list", field)
			}
			for _, element := range list {
				if as == "" {
					obj, isObject := element.(map[string]any)
					if !isObject {
						return nil, domain.NewValidationError(domain.RuleStepInput, "",
							"field %q holds a non-object element; set as", field)
					}
					out = append(out, domain.Item(domain.CloneValue(obj).(map[string]any)))
					continue
				}
				next := item.Clone()
				next.Delete(field)
				next.Set(as, domain.CloneValue(element))
				out = append(out, next)
			}
		}
		return out, nil
	}, nil
}

// buildCollect folds every input item into one. Without a key the items form
// a list under field; with a key they form an object indexed by that field.
func buildCollect(_ *FunctionExecutor, spec map[string]any) (itemsFunc, error) {
	field, ok := stringParam(spec, "field")
	if !ok {
		field = "items"
	}
	key, _ := stringParam(spec, "key")

	return func(items []domain.Item) ([]domain.Item, error) {
		if key == "" {
			list := make([]any, 0, len(items))
			for _, item := range items {
				list = append(list, map[string]any(item.Clone()))
			}
			return []domain.Item{{field: list, "count": float64(len(items))}}, nil
		}

		indexed := make(map[string]any, len(items))
		for _, item := range items {
			raw, found := item.Lookup(key)
			if !found {
				return nil, domain.NewValidationError(domain.RuleStepInput, "", "field %q is missing", key)
			}
			label, err := stringify(raw)
			if err != nil {
				return nil, err
			}
			indexed[label] = map[string]any(item.Clone())
		}
		return []domain.Item{{field: indexed, "count": float64(len(items))}}, nil
	}, nil
}
