package domain

import (
	"strings"
)

// Item is one key/value record flowing along an edge.
type Item map[string]any

func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	return Item(CloneValue(map[string]any(i)).(map[string]any))
}

// Lookup resolves a dotted path such as "data.object.customer". Numeric
// segments index into lists.
func (i Item) Lookup(path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var current any = map[string]any(i)
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case Item:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, ok := parseIndex(segment)
			if !ok || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set writes value at a dotted path, creating intermediate objects.
func (i Item) Set(path string, value any) {
	segments := strings.Split(path, ".")
	current := map[string]any(i)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

func (i Item) Delete(path string) {
	segments := strings.Split(path, ".")
	current := map[string]any(i)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, segments[len(segments)-1])
}

func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for idx, item := range items {
		out[idx] = item.Clone()
	}
	return out
}

// CloneValue deep-copies JSON-shaped values (maps, slices and scalars).
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = CloneValue(inner)
		}
		return out
	case Item:
		return Item(CloneValue(map[string]any(val)).(map[string]any))
	case []any:
		if val == nil {
			return val
		}
		out := make([]any, len(val))
		for idx, inner := range val {
			out[idx] = CloneValue(inner)
		}
		return out
	case []Item:
		return CloneItems(val)
	default:
		return val
	}
}

func parseIndex(segment string) (int, bool) {
	if segment == "" {
		return 0, false
	}
	n := 0
	for _, r := range segment {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
