// Package schema models the structural schemas that describe a module's inputs and outputs.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"
)

// SchemaType is the primitive tag of a schema node. Besides the JSON Schema
// vocabulary, declarative module files may carry other tags ("int", "double",
// ":boolean", "string?"); they are kept verbatim and interpreted by consumers.
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeNull    SchemaType = "null"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// StringFormat represents common string format constraints.
type StringFormat string

const (
	FormatDateTime StringFormat = "date-time"
	FormatDate     StringFormat = "date"
	FormatEmail    StringFormat = "email"
	FormatURI      StringFormat = "uri"
	FormatUUID     StringFormat = "uuid"
)

// JSONSchema is a JSON Schema subset: objects of named properties, arrays,
// enums and the usual scalar constraints.
//
// Properties is a map, so declaration order is tracked separately and
// survives JSON decoding, AddProperty and Clone.
type JSONSchema struct {
	Schema      string `json:"$schema,omitempty"`
	ID          string `json:"$id,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type SchemaType `json:"type,omitempty"`

	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`

	Items    *JSONSchema `json:"items,omitempty"`
	MinItems *int        `json:"minItems,omitempty"`
	MaxItems *int        `json:"maxItems,omitempty"`

	Enum  []any `json:"enum,omitempty"`
	Const any   `json:"const,omitempty"`

	MinLength *int         `json:"minLength,omitempty"`
	MaxLength *int         `json:"maxLength,omitempty"`
	Pattern   string       `json:"pattern,omitempty"`
	Format    StringFormat `json:"format,omitempty"`

	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	Default  any   `json:"default,omitempty"`
	Examples []any `json:"examples,omitempty"`

	propertyOrder []string
}

// UnmarshalJSON decodes the schema and records the document order of "properties".
func (s *JSONSchema) UnmarshalJSON(data []byte) error {
	type plain JSONSchema
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = JSONSchema(p)
	s.propertyOrder = nil

	props := gjson.GetBytes(data, "properties")
	if props.IsObject() {
		props.ForEach(func(key, _ gjson.Result) bool {
			s.propertyOrder = append(s.propertyOrder, key.String())
			return true
		})
	}
	return nil
}

// MarshalJSON encodes the schema. Properties are written in declaration order
// so that a marshal/unmarshal cycle keeps the order intact.
func (s *JSONSchema) MarshalJSON() ([]byte, error) {
	type plain JSONSchema
	p := plain(*s)
	p.Properties = nil
	base, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	if len(s.Properties) == 0 {
		return base, nil
	}

	buf := []byte(`{"properties":{`)
	for i, name := range s.PropertyNames() {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, _ := json.Marshal(name)
		val, err := json.Marshal(s.Properties[name])
		if err != nil {
			return nil, fmt.Errorf("marshal property %q: %w", name, err)
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	if len(base) > 2 {
		buf = append(buf, ',')
		buf = append(buf, base[1:]...)
	} else {
		buf = append(buf, '}')
	}
	return buf, nil
}

// NewSchema creates a new JSONSchema with the specified type.
func NewSchema(t SchemaType) *JSONSchema {
	return &JSONSchema{Type: t}
}

// NewObjectSchema creates a new object schema.
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       TypeObject,
		Properties: make(map[string]*JSONSchema),
	}
}

// NewArraySchema creates a new array schema with the specified items schema.
func NewArraySchema(items *JSONSchema) *JSONSchema {
	return &JSONSchema{Type: TypeArray, Items: items}
}

func NewStringSchema() *JSONSchema  { return &JSONSchema{Type: TypeString} }
func NewNumberSchema() *JSONSchema  { return &JSONSchema{Type: TypeNumber} }
func NewIntegerSchema() *JSONSchema { return &JSONSchema{Type: TypeInteger} }
func NewBooleanSchema() *JSONSchema { return &JSONSchema{Type: TypeBoolean} }

// NewEnumSchema creates a new enum schema with the specified values.
func NewEnumSchema(values ...any) *JSONSchema {
	return &JSONSchema{Enum: values}
}

// WithDescription sets the description and returns the schema for chaining.
func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// WithTitle sets the title and returns the schema for chaining.
func (s *JSONSchema) WithTitle(title string) *JSONSchema {
	s.Title = title
	return s
}

// WithDefault sets the default value and returns the schema for chaining.
func (s *JSONSchema) WithDefault(def any) *JSONSchema {
	s.Default = def
	return s
}

// WithEnum sets the enum values.
func (s *JSONSchema) WithEnum(values ...any) *JSONSchema {
	s.Enum = values
	return s
}

func (s *JSONSchema) WithMinLength(min int) *JSONSchema {
	s.MinLength = &min
	return s
}

func (s *JSONSchema) WithMaxLength(max int) *JSONSchema {
	s.MaxLength = &max
	return s
}

func (s *JSONSchema) WithPattern(pattern string) *JSONSchema {
	s.Pattern = pattern
	return s
}

func (s *JSONSchema) WithFormat(format StringFormat) *JSONSchema {
	s.Format = format
	return s
}

func (s *JSONSchema) WithMinimum(min float64) *JSONSchema {
	s.Minimum = &min
	return s
}

func (s *JSONSchema) WithMaximum(max float64) *JSONSchema {
	s.Maximum = &max
	return s
}

func (s *JSONSchema) WithMinItems(min int) *JSONSchema {
	s.MinItems = &min
	return s
}

func (s *JSONSchema) WithMaxItems(max int) *JSONSchema {
	s.MaxItems = &max
	return s
}

// WithAdditionalProperties sets the additionalProperties constraint.
func (s *JSONSchema) WithAdditionalProperties(allowed bool) *JSONSchema {
	s.AdditionalProperties = &allowed
	return s
}

// AddProperty adds (or replaces) a property. A new name is appended to the
// declaration order; replacing keeps the original position.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	if _, exists := s.Properties[name]; !exists {
		s.propertyOrder = append(s.propertyOrder, name)
	}
	s.Properties[name] = prop
	return s
}

// AddRequired adds required field names to an object schema.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// PropertyNames returns property names in declaration order. Properties that
// were put into the map directly (without AddProperty) follow, sorted by name.
func (s *JSONSchema) PropertyNames() []string {
	if s == nil || len(s.Properties) == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Properties))
	seen := make(map[string]bool, len(s.Properties))
	for _, name := range s.propertyOrder {
		if _, ok := s.Properties[name]; ok && !seen[name] {
			names = append(names, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range s.Properties {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// IsRequired checks if a property is required.
func (s *JSONSchema) IsRequired(name string) bool {
	if s == nil {
		return false
	}
	for _, req := range s.Required {
		if req == name {
			return true
		}
	}
	return false
}

// GetProperty returns a property schema by name.
func (s *JSONSchema) GetProperty(name string) *JSONSchema {
	if s == nil || s.Properties == nil {
		return nil
	}
	return s.Properties[name]
}

// Clone creates a deep copy of the schema.
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}
	c := *s
	if s.Properties != nil {
		c.Properties = make(map[string]*JSONSchema, len(s.Properties))
		for k, v := range s.Properties {
			c.Properties[k] = v.Clone()
		}
	}
	c.propertyOrder = append([]string(nil), s.propertyOrder...)
	c.Required = append([]string(nil), s.Required...)
	c.Enum = append([]any(nil), s.Enum...)
	c.Examples = append([]any(nil), s.Examples...)
	c.Items = s.Items.Clone()
	c.AdditionalProperties = clonePtr(s.AdditionalProperties)
	c.MinItems = clonePtr(s.MinItems)
	c.MaxItems = clonePtr(s.MaxItems)
	c.MinLength = clonePtr(s.MinLength)
	c.MaxLength = clonePtr(s.MaxLength)
	c.Minimum = clonePtr(s.Minimum)
	c.Maximum = clonePtr(s.Maximum)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ToJSON serializes the schema to JSON.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToJSONIndent serializes the schema to indented JSON.
func (s *JSONSchema) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// FromJSON deserializes a schema from JSON.
func FromJSON(data []byte) (*JSONSchema, error) {
	var s JSONSchema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &s, nil
}
