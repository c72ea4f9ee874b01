package socialcore

import "strconv"

// Helpers for walking the loosely typed JSON maps the Graph-style platform
// APIs return.

// Str returns m[key] as a string, or "" when absent or differently typed.
func Str(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// Int coerces a JSON value (float64, string, json.Number-ish) to int64.
func Int(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		if parsed, err := strconv.ParseInt(n, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

// IntAt is Int applied to m[key].
func IntAt(m map[string]interface{}, key string) int64 {
	if m == nil {
		return 0
	}
	return Int(m[key])
}

// Map returns m[key] as a nested object, or nil.
func Map(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	if nested, ok := m[key].(map[string]interface{}); ok {
		return nested
	}
	return nil
}

// Slice returns m[key] as an array, or nil.
func Slice(m map[string]interface{}, key string) []interface{} {
	if m == nil {
		return nil
	}
	if arr, ok := m[key].([]interface{}); ok {
		return arr
	}
	return nil
}

// IntMap flattens an object of numeric values into map[string]int64.
func IntMap(m map[string]interface{}) map[string]int64 {
	out := map[string]int64{}
	for k, v := range m {
		out[k] = Int(v)
	}
	return out
}
