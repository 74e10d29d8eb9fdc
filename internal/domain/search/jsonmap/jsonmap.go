// Package jsonmap provides helpers for the JSON-compatible maps that carry
// document sources, query trees, and metadata through the engine.
package jsonmap

import (
	"strconv"
	"strings"
)

// Clone deep-copies a JSON-compatible map. Values outside the JSON type set
// (maps, slices, strings, numbers, bools, nil) are copied by reference.
func Clone(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies a single JSON-compatible value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Clone(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Lookup resolves a dot-separated field path against a nested map.
// Array elements are addressed with a bracket suffix: "tags[0]",
// "authors[1].name". Returns false when any path component is missing or the
// value on the way is not a map/array.
func Lookup(m map[string]any, path string) (any, bool) {
	var current any = m

	for _, component := range strings.Split(path, ".") {
		name, index, indexed := splitIndex(component)

		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		value, exists := node[name]
		if !exists {
			return nil, false
		}

		if indexed {
			arr, ok := value.([]any)
			if !ok || index < 0 || index >= len(arr) {
				return nil, false
			}
			value = arr[index]
		}
		current = value
	}

	return current, true
}

// splitIndex parses "field[3]" into ("field", 3, true).
// Components without a bracket suffix come back unchanged.
func splitIndex(component string) (string, int, bool) {
	open := strings.Index(component, "[")
	if open < 0 || !strings.HasSuffix(component, "]") {
		return component, 0, false
	}
	idx, err := strconv.Atoi(component[open+1 : len(component)-1])
	if err != nil {
		return component, 0, false
	}
	return component[:open], idx, true
}
