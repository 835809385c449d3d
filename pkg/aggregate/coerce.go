// Package aggregate computes per-category counts and field sums over
// Bitrix24 collections.
package aggregate

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Coerce converts a loosely typed remote value to an integer.
// Integral numbers and integer strings pass through; everything else,
// including fractional values, is 0.
func Coerce(v any) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case json.Number:
		return coerceString(val.String())
	case string:
		return coerceString(val)
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case float64:
		return coerceFloat(val)
	case float32:
		return coerceFloat(float64(val))
	default:
		return 0
	}
}

func coerceString(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}

	// "15.0" and "1e3" are still whole numbers
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return coerceFloat(f)
}

func coerceFloat(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0
	}
	if f >= math.MaxInt64 || f < math.MinInt64 {
		return 0
	}
	return int64(f)
}
