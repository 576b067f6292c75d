package ledger

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Specs is the open attribute map of a material (grade, diameter, ...).
type Specs map[string]any

// Equal compares two spec maps structurally. Key order never matters and a
// nil map equals an empty one.
func (s Specs) Equal(other Specs) bool {
	if len(s) == 0 && len(other) == 0 {
		return true
	}
	if len(s) != len(other) {
		return false
	}
	// encoding/json sorts map keys, so the encoding is canonical.
	a, errA := json.Marshal(s)
	b, errB := json.Marshal(other)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(s, other)
	}
	return bytes.Equal(a, b)
}

// Clone deep-copies nested maps and slices.
func (s Specs) Clone() Specs {
	if s == nil {
		return nil
	}
	out := make(Specs, len(s))
	for k, v := range s {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Specs:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}
