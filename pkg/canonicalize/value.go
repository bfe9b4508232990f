package canonicalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Normalize returns a private copy of m built only from JSON value types
// (map[string]any, []any, string, bool, json.Number, nil). It fails when m
// cannot be canonically encoded. A nil map normalizes to an empty one.
func Normalize(m map[string]any) (map[string]any, error) {
	if m == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("not JSON encodable: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("not a keyed mapping: %w", err)
	}
	if _, err := JCS(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone deep-copies maps and slices produced by Normalize. Scalars are shared.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = Clone(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = Clone(val)
		}
		return s
	default:
		return v
	}
}

// CloneMap is Clone for a keyed mapping.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return Clone(m).(map[string]any)
}
