package tools

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// StringArg returns args[key] as a string, or "" if absent or not a string.
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// IntArg returns args[key] as an int. JSON numbers decode as float64;
// numeric strings are accepted too. Returns def when absent.
func IntArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return def, fmt.Errorf("%s must be an integer, got %q", key, n)
		}
		return i, nil
	}
	return def, fmt.Errorf("%s must be an integer, got %T", key, v)
}

// BoolArg returns args[key] as a bool, or def when absent.
func BoolArg(args map[string]any, key string, def bool) bool {
	if b, ok := args[key].(bool); ok {
		return b
	}
	return def
}

// MapArg returns args[key] as an object, or nil.
func MapArg(args map[string]any, key string) map[string]any {
	m, _ := args[key].(map[string]any)
	return m
}
