package signature

import (
	"fmt"
	"strings"
)

// FieldType is the primitive type of a field. It drives both the prompt
// annotation and the coercion rule applied when parsing a reply.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
)

// Valid reports whether t is one of the four supported primitive types.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInt, TypeFloat, TypeBool:
		return true
	}
	return false
}

// ParseFieldType maps a schema primitive tag onto a FieldType. Symbolic
// (":boolean") and optional ("int?") spellings are accepted. Unknown tags
// fall back to TypeString.
func ParseFieldType(tag string) FieldType {
	t := strings.ToLower(strings.TrimSpace(tag))
	t = strings.TrimPrefix(t, ":")
	t = strings.TrimSuffix(t, "?")

	switch t {
	case "int", "integer", "int64", "long", "pos-int", "nat-int":
		return TypeInt
	case "double", "float", "number", "float64":
		return TypeFloat
	case "boolean", "bool":
		return TypeBool
	default:
		return TypeString
	}
}

// Field is one named input or output slot of a module.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
}

// NewField builds a field. An empty or unsupported type becomes TypeString.
func NewField(name string, typ FieldType, description string) Field {
	if !typ.Valid() {
		typ = ParseFieldType(string(typ))
	}
	return Field{Name: name, Type: typ, Description: description}
}

// String returns the prompt annotation of the field, e.g.
// "`answer` (string): the answer".
func (f Field) String() string {
	return fmt.Sprintf("`%s` (%s): %s", f.Name, f.Type, f.Description)
}
