// Package nodes provides the built-in node executors.
package nodes

import (
	"fmt"
	"strconv"
)

func getString(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(config map[string]interface{}, key string, fallback int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// toFloat converts scalar payload values to float64.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// toFloatSlice converts a payload array to floats, failing on the first
// non-numeric element.
func toFloatSlice(v interface{}) ([]float64, error) {
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array, got %T", v)
	}
	out := make([]float64, len(arr))
	for i, item := range arr {
		f, ok := toFloat(item)
		if !ok {
			return nil, fmt.Errorf("element %d is not numeric: %v", i, item)
		}
		out[i] = f
	}
	return out, nil
}
