package signature

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"

	"github.com/BaSui01/promptflow/schema"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Module describes a single-turn task as typed inputs and outputs. Either side
// may be declared as an explicit field list or as a structural schema; when
// both are present the field list wins.
type Module struct {
	Inputs       []Field            `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs      []Field            `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	InputSchema  *schema.JSONSchema `json:"input_schema,omitempty" yaml:"-"`
	OutputSchema *schema.JSONSchema `json:"output_schema,omitempty" yaml:"-"`
	Instructions string             `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// Normalized is a module reduced to canonical field lists.
//
// InputSchema and OutputSchema are set only for a side whose fields were
// derived from its schema. A schema shadowed by explicit fields is dropped
// and takes no part in validation.
type Normalized struct {
	Inputs       []Field            `json:"inputs"`
	Outputs      []Field            `json:"outputs"`
	Instructions string             `json:"instructions,omitempty"`
	InputSchema  *schema.JSONSchema `json:"input_schema,omitempty"`
	OutputSchema *schema.JSONSchema `json:"output_schema,omitempty"`
}

// Normalize resolves both sides of m into field lists. It is idempotent and
// does not modify m.
func Normalize(m Module) Normalized {
	n := Normalized{Instructions: m.Instructions}
	n.Inputs, n.InputSchema = normalizeSide(m.Inputs, m.InputSchema)
	n.Outputs, n.OutputSchema = normalizeSide(m.Outputs, m.OutputSchema)
	return n
}

// NormalizeModule is an alias of Normalize kept for introspection tooling.
func NormalizeModule(m Module) Normalized {
	return Normalize(m)
}

func normalizeSide(fields []Field, s *schema.JSONSchema) ([]Field, *schema.JSONSchema) {
	if fields != nil {
		return append([]Field(nil), fields...), nil
	}
	if s == nil {
		return nil, nil
	}
	return FieldsFromSchema(s), s
}

// FieldsFromSchema derives one field per schema property in declaration order.
func FieldsFromSchema(s *schema.JSONSchema) []Field {
	names := s.PropertyNames()
	if len(names) == 0 {
		return nil
	}
	fields := make([]Field, 0, len(names))
	for _, name := range names {
		prop := s.GetProperty(name)
		f := Field{Name: name, Type: TypeString, Required: s.IsRequired(name)}
		if prop != nil {
			f.Type = ParseFieldType(string(prop.Type))
			f.Description = prop.Description
		}
		if f.Description == "" {
			f.Description = "Field " + name
		}
		fields = append(fields, f)
	}
	return fields
}

// Module converts n back into a module. A side derived from a schema is
// returned as that schema, so Normalize(n.Module()) reproduces n.
func (n Normalized) Module() Module {
	m := Module{Instructions: n.Instructions}
	if n.InputSchema != nil {
		m.InputSchema = n.InputSchema
	} else {
		m.Inputs = append([]Field{}, n.Inputs...)
	}
	if n.OutputSchema != nil {
		m.OutputSchema = n.OutputSchema
	} else {
		m.Outputs = append([]Field{}, n.Outputs...)
	}
	return m
}

// Check verifies that field names are non-empty identifiers, unique within
// their list.
func (n Normalized) Check() error {
	var errs []error
	for _, side := range []struct {
		name   string
		fields []Field
	}{{"input", n.Inputs}, {"output", n.Outputs}} {
		seen := make(map[string]bool, len(side.fields))
		for i, f := range side.fields {
			switch {
			case f.Name == "":
				errs = append(errs, fmt.Errorf("%s field %d: empty name", side.name, i+1))
			case !identifierPattern.MatchString(f.Name):
				errs = append(errs, fmt.Errorf("%s field %q: name is not an identifier", side.name, f.Name))
			case seen[f.Name]:
				errs = append(errs, fmt.Errorf("%s field %q: duplicate name", side.name, f.Name))
			}
			seen[f.Name] = true
		}
	}
	return errors.Join(errs...)
}

// OutputNames returns the output field names in declaration order.
func (n Normalized) OutputNames() []string {
	names := make([]string, len(n.Outputs))
	for i, f := range n.Outputs {
		names[i] = f.Name
	}
	return names
}

// FromStruct builds a schema-declared module from two struct types. Property
// order follows struct field order; descriptions come from `desc` tags.
//
//	type QA struct {
//		Question string `json:"question" desc:"the user question"`
//	}
//	type Answer struct {
//		Answer string `json:"answer" jsonschema:"required"`
//	}
//	m, err := signature.FromStruct[QA, Answer]("Answer concisely.")
func FromStruct[In, Out any](instructions string) (Module, error) {
	gen := schema.NewSchemaGenerator()

	in, err := gen.GenerateSchema(reflect.TypeOf((*In)(nil)).Elem())
	if err != nil {
		return Module{}, fmt.Errorf("generate input schema: %w", err)
	}
	out, err := gen.GenerateSchema(reflect.TypeOf((*Out)(nil)).Elem())
	if err != nil {
		return Module{}, fmt.Errorf("generate output schema: %w", err)
	}
	if in.Type != schema.TypeObject || out.Type != schema.TypeObject {
		return Module{}, fmt.Errorf("module types must be structs")
	}

	return Module{InputSchema: in, OutputSchema: out, Instructions: instructions}, nil
}
