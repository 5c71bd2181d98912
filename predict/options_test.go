package predict

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromMap(t *testing.T) {
	opts, err := OptionsFromMap(map[string]any{
		"model":       "gpt-4o-mini",
		"validate":    false,
		"debounceMs":  150,
		"temperature": 0.2,
		"seed":        7,
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", opts.Model)
	require.NotNil(t, opts.Validate)
	assert.False(t, *opts.Validate)
	require.NotNil(t, opts.DebounceMs)
	assert.Equal(t, 150, *opts.DebounceMs)
	assert.Equal(t, map[string]any{"temperature": 0.2, "seed": 7}, opts.Extra)
}

func TestOptionsFromMap_DebounceForms(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  int
	}{
		{"int", 10, 10},
		{"int64", int64(20), 20},
		{"float64", float64(30), 30},
		{"json.Number", json.Number("40"), 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := OptionsFromMap(map[string]any{"debounce_ms": tt.value})
			require.NoError(t, err)
			require.NotNil(t, opts.DebounceMs)
			assert.Equal(t, tt.want, *opts.DebounceMs)
			assert.Nil(t, opts.Extra)
		})
	}
}

func TestOptionsFromMap_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
	}{
		{"model not string", map[string]any{"model": 4}},
		{"validate not bool", map[string]any{"validate": "yes"}},
		{"negative debounce", map[string]any{"debounceMs": -1}},
		{"fractional debounce", map[string]any{"debounceMs": 1.5}},
		{"debounce string", map[string]any{"debounceMs": "100"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OptionsFromMap(tt.in)
			assert.Error(t, err)
		})
	}
}

func TestOptions_Defaults(t *testing.T) {
	var opts Options
	assert.True(t, opts.ShouldValidate(), "validation defaults to on")
	assert.Equal(t, time.Duration(0), opts.Debounce())

	opts = Options{Validate: Bool(false), DebounceMs: Int(250)}
	assert.False(t, opts.ShouldValidate())
	assert.Equal(t, 250*time.Millisecond, opts.Debounce())
}

func TestOptions_Merge(t *testing.T) {
	base := Options{Model: "base", Validate: Bool(false), DebounceMs: Int(50), Extra: map[string]any{"a": 1, "b": 2}}

	got := Options{Extra: map[string]any{"b": 3}}.Merge(base)
	assert.Equal(t, "base", got.Model)
	assert.False(t, got.ShouldValidate())
	assert.Equal(t, 50*time.Millisecond, got.Debounce())
	assert.Equal(t, map[string]any{"a": 1, "b": 3}, got.Extra)

	got = Options{Model: "call", Validate: Bool(true), DebounceMs: Int(5)}.Merge(base)
	assert.Equal(t, "call", got.Model)
	assert.True(t, got.ShouldValidate())
	assert.Equal(t, 5*time.Millisecond, got.Debounce())

	// The base map is never written through.
	assert.Equal(t, 2, base.Extra["b"])
}

func TestOptions_MergeZeroOverridesDefault(t *testing.T) {
	base := Options{Validate: Bool(true), DebounceMs: Int(200)}

	got := Options{Validate: Bool(false), DebounceMs: Int(0)}.Merge(base)
	assert.False(t, got.ShouldValidate())
	require.NotNil(t, got.DebounceMs)
	assert.Equal(t, 0, *got.DebounceMs)
	assert.Equal(t, time.Duration(0), got.Debounce())

	// The merged pointer does not alias the caller's value.
	call := Options{DebounceMs: Int(7)}
	got = call.Merge(base)
	*call.DebounceMs = 9
	assert.Equal(t, 7, *got.DebounceMs)
	assert.Equal(t, 200, *base.DebounceMs)
}
