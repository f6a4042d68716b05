// Package typeutil provides safe type assertion helpers to prevent panics
// from failed type casts. These helpers follow the comma-ok idiom and are
// used on the lenient decoding paths where payloads arrive as untyped JSON.
package typeutil

// SafeString safely asserts value to string.
// Returns the string and true if successful, or empty string and false if not.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SafeStringDefault safely asserts value to string with a default fallback.
// Returns the string if assertion succeeds, otherwise returns the default value.
func SafeStringDefault(value any, defaultVal string) string {
	if s, ok := SafeString(value); ok {
		return s
	}
	return defaultVal
}

// SafeMapStringAny safely asserts value to map[string]any.
// Returns the map and true if successful, or nil and false if not.
func SafeMapStringAny(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// SafeAnySlice safely asserts value to []any.
// Returns the slice and true if successful, or nil and false if not.
func SafeAnySlice(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	s, ok := value.([]any)
	return s, ok
}
