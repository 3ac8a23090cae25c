package model

import (
	"math"
	"strconv"

	json "github.com/goccy/go-json"
)

// Normalize converts decoded JSON numbers to int when integral and
// float64 otherwise, recursing into maps and slices.
func Normalize(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return string(x)
	case map[string]any:
		for k, vv := range x {
			x[k] = Normalize(vv)
		}
		return x
	case []any:
		for i, vv := range x {
			x[i] = Normalize(vv)
		}
		return x
	default:
		return v
	}
}

// AsInt accepts ints and integral floats within the range of int.
func AsInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		if x >= math.MinInt && x <= math.MaxInt {
			return int(x), true
		}
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt && x < -math.MinInt {
			return int(x), true
		}
	}
	return 0, false
}

// AsFloat accepts any numeric value.
func AsFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// AsBool accepts booleans and 0/1 numbers.
func AsBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case int:
		if x == 0 || x == 1 {
			return x == 1, true
		}
	case float64:
		if x == 0 || x == 1 {
			return x == 1, true
		}
	}
	return false, false
}

// AsString accepts strings only.
func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}
