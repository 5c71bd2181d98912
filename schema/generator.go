package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SchemaGenerator derives a JSONSchema from Go types by reflection.
type SchemaGenerator struct {
	visited map[reflect.Type]bool
}

// NewSchemaGenerator creates a new SchemaGenerator.
func NewSchemaGenerator() *SchemaGenerator {
	return &SchemaGenerator{visited: make(map[reflect.Type]bool)}
}

// GenerateSchema generates a schema for t. Struct fields become properties in
// field order and are named after their json tag. Two extra tags are read:
//
//	desc:"..."                       property description
//	jsonschema:"required,minimum=0"  constraints, comma separated
//
// Supported jsonschema options: required, enum=a|b|c, minimum, maximum,
// minLength, maxLength, pattern, format, minItems, maxItems, default.
func (g *SchemaGenerator) GenerateSchema(t reflect.Type) (*JSONSchema, error) {
	g.visited = make(map[reflect.Type]bool)
	return g.generate(t)
}

// GenerateSchemaFromValue generates a schema from the dynamic type of v.
func (g *SchemaGenerator) GenerateSchemaFromValue(v any) (*JSONSchema, error) {
	if v == nil {
		return nil, fmt.Errorf("cannot generate schema from nil value")
	}
	return g.GenerateSchema(reflect.TypeOf(v))
}

func (g *SchemaGenerator) generate(t reflect.Type) (*JSONSchema, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot generate schema for nil type")
	}
	if t.Kind() == reflect.Ptr {
		return g.generate(t.Elem())
	}
	if g.visited[t] {
		return &JSONSchema{Type: TypeObject}, nil
	}

	switch t.Kind() {
	case reflect.String:
		return NewStringSchema(), nil
	case reflect.Bool:
		return NewBooleanSchema(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return NewIntegerSchema(), nil
	case reflect.Float32, reflect.Float64:
		return NewNumberSchema(), nil
	case reflect.Slice, reflect.Array:
		elem, err := g.generate(t.Elem())
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for array element: %w", err)
		}
		return NewArraySchema(elem), nil
	case reflect.Map:
		return NewObjectSchema(), nil
	case reflect.Struct:
		return g.generateStruct(t)
	case reflect.Interface:
		return &JSONSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", t.Kind())
	}
}

func (g *SchemaGenerator) generateStruct(t reflect.Type) (*JSONSchema, error) {
	g.visited[t] = true
	defer func() { g.visited[t] = false }()

	s := NewObjectSchema()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name := jsonFieldName(field)
		if name == "-" {
			continue
		}

		prop, err := g.generate(field.Type)
		if err != nil {
			return nil, fmt.Errorf("failed to generate schema for field %s: %w", field.Name, err)
		}
		if desc := field.Tag.Get("desc"); desc != "" {
			prop.Description = desc
		}
		opts := parseTagOptions(field.Tag.Get("jsonschema"))
		applyOptions(prop, opts, field.Type)
		if _, ok := opts["required"]; ok {
			s.AddRequired(name)
		}
		s.AddProperty(name, prop)
	}
	return s, nil
}

func jsonFieldName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if tag == "" {
		return field.Name
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return field.Name
	}
	return name
}

func parseTagOptions(tag string) map[string]string {
	opts := make(map[string]string)
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, _ := strings.Cut(part, "=")
		opts[key] = value
	}
	return opts
}

func applyOptions(s *JSONSchema, opts map[string]string, t reflect.Type) {
	if v, ok := opts["enum"]; ok {
		for _, e := range strings.Split(v, "|") {
			s.Enum = append(s.Enum, strings.TrimSpace(e))
		}
	}
	if v, ok := opts["default"]; ok {
		s.Default = parseDefault(v, t)
	}
	if v, ok := opts["pattern"]; ok {
		s.Pattern = v
	}
	if v, ok := opts["format"]; ok {
		s.Format = StringFormat(v)
	}
	s.MinLength = intOption(opts, "minLength", s.MinLength)
	s.MaxLength = intOption(opts, "maxLength", s.MaxLength)
	s.MinItems = intOption(opts, "minItems", s.MinItems)
	s.MaxItems = intOption(opts, "maxItems", s.MaxItems)
	s.Minimum = floatOption(opts, "minimum", s.Minimum)
	s.Maximum = floatOption(opts, "maximum", s.Maximum)
}

func intOption(opts map[string]string, key string, current *int) *int {
	if v, err := strconv.Atoi(opts[key]); err == nil {
		return &v
	}
	return current
}

func floatOption(opts map[string]string, key string, current *float64) *float64 {
	if v, err := strconv.ParseFloat(opts[key], 64); err == nil {
		return &v
	}
	return current
}

func parseDefault(value string, t reflect.Type) any {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return value == "true"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	case reflect.Float32, reflect.Float64:
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return value
}
