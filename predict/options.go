package predict

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Options controls one prediction call.
type Options struct {
	// Model is forwarded to the transport. Empty uses the provider default.
	Model string `json:"model,omitempty" yaml:"model"`

	// Validate toggles schema validation. Nil means validate whenever the
	// module declares a schema for that side.
	Validate *bool `json:"validate,omitempty" yaml:"validate"`

	// DebounceMs is the minimum spacing in milliseconds between two streamed
	// emissions. The final emission is exempt. Nil inherits the default; an
	// explicit 0 disables debouncing.
	DebounceMs *int `json:"debounceMs,omitempty" yaml:"debounce_ms"`

	// Extra holds provider options this package does not read. They reach the
	// transport untouched.
	Extra map[string]any `json:"extra,omitempty" yaml:"extra"`
}

// Bool returns a pointer to b, for Options.Validate.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n, for Options.DebounceMs.
func Int(n int) *int { return &n }

// ShouldValidate reports whether validation is enabled.
func (o Options) ShouldValidate() bool {
	return o.Validate == nil || *o.Validate
}

// Debounce returns DebounceMs as a duration.
func (o Options) Debounce() time.Duration {
	if o.DebounceMs == nil || *o.DebounceMs <= 0 {
		return 0
	}
	return time.Duration(*o.DebounceMs) * time.Millisecond
}

// Merge overlays o on base: set fields of o win, Extra maps are unioned with
// o's entries taking precedence. Validate and DebounceMs are pointers so a
// call can override a default with false or 0. Model has no unset state: an
// empty Model keeps base.Model.
func (o Options) Merge(base Options) Options {
	out := base
	if o.Model != "" {
		out.Model = o.Model
	}
	if o.Validate != nil {
		v := *o.Validate
		out.Validate = &v
	}
	if o.DebounceMs != nil {
		out.DebounceMs = Int(*o.DebounceMs)
	}
	if len(base.Extra) > 0 || len(o.Extra) > 0 {
		out.Extra = make(map[string]any, len(base.Extra)+len(o.Extra))
		for k, v := range base.Extra {
			out.Extra[k] = v
		}
		for k, v := range o.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// OptionsFromMap reads an open option map. "model", "validate" and
// "debounceMs" (or "debounce_ms") are recognised; every other key lands in
// Extra.
func OptionsFromMap(m map[string]any) (Options, error) {
	var opts Options
	for k, v := range m {
		switch k {
		case "model":
			s, ok := v.(string)
			if !ok {
				return Options{}, fmt.Errorf("option %q: expected string, got %T", k, v)
			}
			opts.Model = s
		case "validate":
			b, ok := v.(bool)
			if !ok {
				return Options{}, fmt.Errorf("option %q: expected bool, got %T", k, v)
			}
			opts.Validate = Bool(b)
		case "debounceMs", "debounce_ms":
			ms, err := toMillis(v)
			if err != nil {
				return Options{}, fmt.Errorf("option %q: %w", k, err)
			}
			opts.DebounceMs = Int(ms)
		default:
			if opts.Extra == nil {
				opts.Extra = make(map[string]any)
			}
			opts.Extra[k] = v
		}
	}
	return opts, nil
}

func toMillis(v any) (int, error) {
	var ms int64
	switch n := v.(type) {
	case int:
		ms = int64(n)
	case int32:
		ms = int64(n)
	case int64:
		ms = n
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected whole milliseconds, got %v", n)
		}
		ms = int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", n.String())
		}
		ms = i
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
	if ms < 0 {
		return 0, fmt.Errorf("must not be negative, got %d", ms)
	}
	if ms > math.MaxInt32 {
		return 0, fmt.Errorf("too large: %d", ms)
	}
	return int(ms), nil
}
