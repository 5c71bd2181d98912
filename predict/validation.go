package predict

import (
	"fmt"
	"strings"

	"github.com/BaSui01/promptflow/schema"
)

// Side names which map failed validation.
type Side string

const (
	SideInput  Side = "input"
	SideOutput Side = "output"
)

// Engine is the structural schema capability predictions validate against.
// *schema.DefaultValidator implements it.
type Engine interface {
	// Check reports whether value satisfies s.
	Check(s *schema.JSONSchema, value any) bool
	// Explain lists the reasons value does not satisfy s.
	Explain(s *schema.JSONSchema, value any) []schema.ParseError
}

// DefaultEngine returns the built-in validator.
func DefaultEngine() Engine {
	return schema.NewValidator()
}

// ValidationError reports an input or output map that does not satisfy its
// schema. It aborts the call it was raised in.
type ValidationError struct {
	Side        Side                `json:"side"`
	Value       map[string]any      `json:"value"`
	Diagnostics []schema.ParseError `json:"diagnostics"`
}

func (e *ValidationError) Error() string {
	if len(e.Diagnostics) == 0 {
		return fmt.Sprintf("%s validation failed", e.Side)
	}
	msgs := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		msgs = append(msgs, d.Error())
	}
	return fmt.Sprintf("%s validation failed: %s", e.Side, strings.Join(msgs, "; "))
}

// ValidateAgainst checks values against s. A nil schema passes everything
// through unchanged; a failing map yields a *ValidationError carrying the
// engine's diagnostics.
func ValidateAgainst(engine Engine, side Side, s *schema.JSONSchema, values map[string]any) (map[string]any, error) {
	if s == nil {
		return values, nil
	}
	if engine == nil {
		engine = DefaultEngine()
	}
	if engine.Check(s, values) {
		return values, nil
	}
	return nil, &ValidationError{
		Side:        side,
		Value:       values,
		Diagnostics: engine.Explain(s, values),
	}
}
