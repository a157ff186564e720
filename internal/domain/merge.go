package domain

import (
	"fmt"

	"dario.cat/mergo"
)

// MergeItems deep-merges patch onto a copy of base. Values in patch win and
// lists are appended rather than replaced.
func MergeItems(base Item, patch map[string]any) (Item, error) {
	if len(patch) == 0 {
		return base.Clone(), nil
	}
	merged := map[string]any(base.Clone())
	if merged == nil {
		merged = make(map[string]any)
	}

	src, ok := CloneValue(patch).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("merge patch must be an object")
	}

	if err := mergo.Merge(&merged, src, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, fmt.Errorf("merge items: %w", err)
	}
	return Item(merged), nil
}

// ConcatItems joins item lists in the order given without deduplication.
func ConcatItems(lists ...[]Item) []Item {
	total := 0
	for _, l := range lists {
		total += len(l)
	}
	out := make([]Item, 0, total)
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}
