package aggregate

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name     string
		in       any
		expected int64
	}{
		{"nil", nil, 0},
		{"json integer", json.Number("10"), 10},
		{"json negative", json.Number("-7"), -7},
		{"json zero", json.Number("0"), 0},
		{"json large", json.Number("9007199254740993"), 9007199254740993},
		{"json whole float", json.Number("15.0"), 15},
		{"json fractional", json.Number("2.5"), 0},
		{"json exponent", json.Number("1e3"), 1000},
		{"numeric string", "42", 42},
		{"padded string", "  8 ", 8},
		{"signed string", "+3", 3},
		{"fractional string", "15.7", 0},
		{"non-numeric string", "abc", 0},
		{"empty string", "", 0},
		{"int", 5, 5},
		{"int64", int64(math.MaxInt64), math.MaxInt64},
		{"whole float64", 12.0, 12},
		{"fractional float64", 0.5, 0},
		{"huge float64", 1e30, 0},
		{"NaN", math.NaN(), 0},
		{"bool", true, 0},
		{"object", map[string]any{"value": 1}, 0},
		{"array", []any{1, 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Coerce(tt.in))
		})
	}
}
