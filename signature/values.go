package signature

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// Values is an output map keyed by field name. Keys keep declaration order and
// every declared field is present; a field without a value holds nil.
type Values struct {
	keys []string
	m    map[string]any
}

// NewValues creates a map with every name set to nil.
func NewValues(names ...string) *Values {
	v := &Values{keys: make([]string, 0, len(names)), m: make(map[string]any, len(names))}
	for _, name := range names {
		v.Set(name, nil)
	}
	return v
}

// Set stores a value. A new name is appended after the existing keys.
func (v *Values) Set(name string, value any) {
	if _, ok := v.m[name]; !ok {
		v.keys = append(v.keys, name)
	}
	v.m[name] = value
}

// Get returns the value stored under name and whether name is a key.
func (v *Values) Get(name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	val, ok := v.m[name]
	return val, ok
}

// Keys returns the field names in declaration order.
func (v *Values) Keys() []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// Len returns the number of keys.
func (v *Values) Len() int {
	if v == nil {
		return 0
	}
	return len(v.keys)
}

// Map returns a copy as a plain map.
func (v *Values) Map() map[string]any {
	if v == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(v.m))
	for k, val := range v.m {
		out[k] = val
	}
	return out
}

// Clone returns an independent copy.
func (v *Values) Clone() *Values {
	if v == nil {
		return nil
	}
	c := NewValues()
	for _, k := range v.keys {
		c.Set(k, v.m[k])
	}
	return c
}

// Equal reports value-level equality, including key order. NaN equals NaN.
func (v *Values) Equal(other *Values) bool {
	if v == nil || other == nil {
		return v.Len() == 0 && other.Len() == 0
	}
	return cmp.Equal(v.keys, other.keys) && cmp.Equal(v.m, other.m, cmpopts.EquateNaNs())
}

// MarshalJSON encodes the map as a JSON object in key order. Non-finite
// floats set by hand are written as strings ("NaN", "+Inf", "-Inf").
func (v *Values) MarshalJSON() ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(jsonSafe(v.m[k]))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func jsonSafe(val any) any {
	switch f := val.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return strconv.FormatFloat(f, 'g', -1, 64)
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return strconv.FormatFloat(float64(f), 'g', -1, 32)
		}
	}
	return val
}
