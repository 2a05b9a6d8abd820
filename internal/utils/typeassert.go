// Package utils reads fields out of decoded fact values: maps produced by
// fact.Normalize, Lua tables and JSON documents.
package utils

// GetString returns m[key] if it is a string, else defaultVal.
func GetString(m map[string]any, key, defaultVal string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return defaultVal
}

// GetStringSlice returns the string elements of m[key], which may be a
// []string or a []any. Other elements are skipped.
func GetStringSlice(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		var result []string
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return nil
}

// GetInt returns m[key] as an int. Fact values carry integers as int64;
// JSON numbers arrive as float64.
func GetInt(m map[string]any, key string, defaultVal int) int {
	switch v := m[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return defaultVal
}

// GetFloat64 returns m[key] as a float64, widening integers.
func GetFloat64(m map[string]any, key string, defaultVal float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return defaultVal
}

// GetMap returns m[key] if it is a nested map.
func GetMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// GetSlice returns m[key] if it is a list.
func GetSlice(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

// GetBool returns m[key] if it is a bool, else defaultVal.
func GetBool(m map[string]any, key string, defaultVal bool) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return defaultVal
}
