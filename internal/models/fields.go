package models

import (
	"encoding/json"
	"maps"
	"strconv"
)

// Fields is the entity-specific payload of a record, keyed by the remote
// (camelCase) field name.
type Fields map[string]any

// Clone returns a shallow copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return Fields{}
	}
	return maps.Clone(f)
}

// Merge returns a copy of f with patch applied on top. A nil value in the
// patch removes the key.
func (f Fields) Merge(patch Fields) Fields {
	out := f.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// String returns the string value for key, or "".
func (f Fields) String(key string) string {
	switch v := f[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Float returns the numeric value for key. Values decoded from JSON arrive
// as float64 or json.Number; ints come from callers.
func (f Fields) Float(key string) float64 {
	switch v := f[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		n, _ := v.Float64()
		return n
	case string:
		n, _ := strconv.ParseFloat(v, 64)
		return n
	}
	return 0
}

// Int returns the value for key truncated to an int.
func (f Fields) Int(key string) int {
	return int(f.Float(key))
}

// Int64 returns the value for key truncated to an int64.
func (f Fields) Int64(key string) int64 {
	switch v := f[key].(type) {
	case int64:
		return v
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return n
		}
	}
	return int64(f.Float(key))
}

// Bool returns the boolean value for key.
func (f Fields) Bool(key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}
