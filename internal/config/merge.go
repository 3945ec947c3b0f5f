package config

import (
	"fmt"

	"github.com/doraemonkeys/sloc-guard/internal/errs"
)

// ResetSentinel discards the parent array when it is the first element of a
// child array.
const ResetSentinel = "$reset"

// mergeMaps merges child into parent, child winning. Tables merge
// recursively, arrays append (parent first) unless the child array leads with
// the reset sentinel, and every other value is replaced outright.
func mergeMaps(parent, child map[string]any) map[string]any {
	out := make(map[string]any, len(parent)+len(child))
	for k, v := range parent {
		out[k] = v
	}
	for k, cv := range child {
		pv, ok := out[k]
		if !ok {
			out[k] = cv
			continue
		}
		out[k] = mergeValues(pv, cv)
	}
	return out
}

func mergeValues(parent, child any) any {
	pm, pok := parent.(map[string]any)
	cm, cok := child.(map[string]any)
	if pok && cok {
		return mergeMaps(pm, cm)
	}
	pa, pok := parent.([]any)
	ca, cok := child.([]any)
	if pok && cok {
		if len(ca) > 0 && isResetSentinel(ca[0]) {
			return append([]any{}, ca[1:]...)
		}
		merged := make([]any, 0, len(pa)+len(ca))
		merged = append(merged, pa...)
		merged = append(merged, ca...)
		return merged
	}
	return child
}

// isResetSentinel matches the literal "$reset" string, or a table whose
// pattern or scope field equals "$reset".
func isResetSentinel(v any) bool {
	if s, ok := v.(string); ok {
		return s == ResetSentinel
	}
	if m, ok := v.(map[string]any); ok {
		if p, ok := m["pattern"].(string); ok && p == ResetSentinel {
			return true
		}
		if s, ok := m["scope"].(string); ok && s == ResetSentinel {
			return true
		}
	}
	return false
}

// validateSentinelPositions rejects a reset sentinel anywhere but the first
// array position. It runs on each raw config before merging.
func validateSentinelPositions(raw map[string]any, origin string) error {
	return walkArrays(raw, "", func(path string, arr []any) error {
		for i, v := range arr {
			if i > 0 && isResetSentinel(v) {
				return errs.Newf(errs.KindSemantic,
					"%q sentinel must be the first array element", ResetSentinel).
					WithDetail("field %s index %d in %s", path, i, origin).
					WithSuggestion("move %q to position 0 of %s to replace the inherited array", ResetSentinel, path)
			}
		}
		return nil
	})
}

// stripStraySentinels removes leading reset sentinels that survived into a
// standalone config (no extends chain to consume them).
func stripStraySentinels(raw map[string]any) {
	_ = walkArraysMutable(raw, func(arr []any) []any {
		for len(arr) > 0 && isResetSentinel(arr[0]) {
			arr = arr[1:]
		}
		return arr
	})
}

func walkArrays(v any, path string, fn func(path string, arr []any) error) error {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := k
			if path != "" {
				p = path + "." + k
			}
			if err := walkArrays(child, p, fn); err != nil {
				return err
			}
		}
	case []any:
		if err := fn(path, t); err != nil {
			return err
		}
		for i, child := range t {
			if err := walkArrays(child, fmt.Sprintf("%s[%d]", path, i), fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func walkArraysMutable(v any, fn func(arr []any) []any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = walkArraysMutable(child, fn)
		}
		return t
	case []any:
		t = fn(t)
		for i, child := range t {
			t[i] = walkArraysMutable(child, fn)
		}
		return t
	default:
		return v
	}
}
