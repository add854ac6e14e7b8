package types

import (
	"strings"
)

// The engine treats template documents as JSON value trees. Go's decoded
// JSON set is closed (string, float64, bool, nil, []any, map[string]any),
// so traversal code pattern-matches exhaustively with type switches instead
// of reflective probing.

// CloneValue deep-copies a JSON value tree.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		// Scalars (string, float64, bool, nil) are immutable.
		return v
	}
}

// CloneMap deep-copies a JSON object. A nil input stays nil so optional
// blocks round-trip without materializing empty maps.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// LookupPath walks a value tree by dotted path segments. Map segments are
// looked up by key; any other node type terminates the walk.
func LookupPath(root any, path string) (any, bool) {
	if path == "" {
		return root, true
	}
	current := root
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetPath writes a value into a tree at a dotted path, creating intermediate
// objects as needed. Existing non-object intermediates are replaced.
func SetPath(root map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := root
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

// MergeMaps shallow-merges override into base with override precedence,
// returning a new map. Nested objects present in both are merged one level
// deep; everything else is taken from override verbatim.
func MergeMaps(base, override map[string]any) map[string]any {
	if base == nil && override == nil {
		return nil
	}
	out := CloneMap(base)
	if out == nil {
		out = make(map[string]any, len(override))
	}
	for k, v := range override {
		baseChild, baseOK := out[k].(map[string]any)
		overrideChild, overrideOK := v.(map[string]any)
		if baseOK && overrideOK {
			merged := CloneMap(baseChild)
			for ck, cv := range overrideChild {
				merged[ck] = CloneValue(cv)
			}
			out[k] = merged
			continue
		}
		out[k] = CloneValue(v)
	}
	return out
}

// UnionStrings merges two string slices preserving first-seen order and
// dropping duplicates.
func UnionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
