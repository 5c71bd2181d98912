package signature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/promptflow/schema"
)

// ModuleLoader loads module definitions from files or raw bytes.
type ModuleLoader interface {
	// LoadFile reads a file and parses it into a Module.
	// Format is auto-detected from the file extension (.yaml, .yml, .json).
	LoadFile(path string) (*Module, error)

	// LoadBytes parses raw bytes into a Module.
	// format must be "yaml" or "json".
	LoadBytes(data []byte, format string) (*Module, error)
}

// FileLoader implements ModuleLoader for YAML and JSON documents.
//
// A side is declared either as a field list (inputs / outputs) or as a schema
// (input_schema / output_schema). A schema is a JSON Schema object, or a map
// from property name to one of three shorthand forms:
//
//	question: string
//	context: [":string", {description: "background text"}]
//	score: {type: double, description: "0..1", required: true}
//
// Shorthand tags go through ParseFieldType. Property order is kept.
type FileLoader struct{}

// NewFileLoader creates a new FileLoader.
func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

type moduleDocument struct {
	Instructions string    `yaml:"instructions"`
	Inputs       []Field   `yaml:"inputs"`
	Outputs      []Field   `yaml:"outputs"`
	InputSchema  yaml.Node `yaml:"input_schema"`
	OutputSchema yaml.Node `yaml:"output_schema"`
}

// LoadFile reads a file and parses it based on extension.
func (l *FileLoader) LoadFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module file: %w", err)
	}

	format := detectFormat(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}

	return l.LoadBytes(data, format)
}

// LoadBytes parses raw bytes in the given format ("yaml" or "json").
func (l *FileLoader) LoadBytes(data []byte, format string) (*Module, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
	case "json":
		// JSON goes through the YAML decoder too, which keeps mapping order.
		if !json.Valid(data) {
			var v any
			err := json.Unmarshal(data, &v)
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q, use \"yaml\" or \"json\"", format)
	}

	var doc moduleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse module: %w", err)
	}

	m := &Module{Instructions: doc.Instructions}
	var err error
	if m.Inputs, err = normalizeFieldList(doc.Inputs); err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	if m.Outputs, err = normalizeFieldList(doc.Outputs); err != nil {
		return nil, fmt.Errorf("outputs: %w", err)
	}
	if m.InputSchema, err = schemaFromNode(&doc.InputSchema); err != nil {
		return nil, fmt.Errorf("input_schema: %w", err)
	}
	if m.OutputSchema, err = schemaFromNode(&doc.OutputSchema); err != nil {
		return nil, fmt.Errorf("output_schema: %w", err)
	}
	return m, nil
}

func normalizeFieldList(fields []Field) ([]Field, error) {
	if fields == nil {
		return nil, nil
	}
	out := make([]Field, 0, len(fields))
	for i, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field %d: missing name", i+1)
		}
		f.Type = ParseFieldType(string(f.Type))
		out = append(out, f)
	}
	return out, nil
}

// detectFormat returns "yaml" or "json" based on file extension, or "" if unknown.
func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}

func schemaFromNode(n *yaml.Node) (*schema.JSONSchema, error) {
	if n.Kind == 0 {
		return nil, nil
	}
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind == yaml.ScalarNode && n.Tag == "!!null" {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: schema must be a mapping", n.Line)
	}

	if isJSONSchema(n) {
		data, err := nodeToJSON(n)
		if err != nil {
			return nil, err
		}
		return schema.FromJSON(data)
	}

	s := schema.NewObjectSchema()
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		prop, required, err := shorthandProperty(val)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", key, err)
		}
		s.AddProperty(key, prop)
		if required {
			s.AddRequired(key)
		}
	}
	return s, nil
}

func isJSONSchema(n *yaml.Node) bool {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "properties" && n.Content[i+1].Kind == yaml.MappingNode {
			return true
		}
	}
	return false
}

type propertyMeta struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

func shorthandProperty(n *yaml.Node) (*schema.JSONSchema, bool, error) {
	var meta propertyMeta

	switch n.Kind {
	case yaml.ScalarNode:
		meta.Type = n.Value
	case yaml.SequenceNode:
		if len(n.Content) == 0 || n.Content[0].Kind != yaml.ScalarNode {
			return nil, false, fmt.Errorf("line %d: sequence form needs a type tag first", n.Line)
		}
		if len(n.Content) > 1 {
			if err := n.Content[1].Decode(&meta); err != nil {
				return nil, false, fmt.Errorf("line %d: %w", n.Line, err)
			}
		}
		meta.Type = n.Content[0].Value
	case yaml.MappingNode:
		if err := n.Decode(&meta); err != nil {
			return nil, false, fmt.Errorf("line %d: %w", n.Line, err)
		}
	default:
		return nil, false, fmt.Errorf("line %d: unsupported property form", n.Line)
	}

	prop := schema.NewSchema(schemaTypeOf(ParseFieldType(meta.Type)))
	prop.Description = meta.Description
	return prop, meta.Required, nil
}

func schemaTypeOf(t FieldType) schema.SchemaType {
	switch t {
	case TypeInt:
		return schema.TypeInteger
	case TypeFloat:
		return schema.TypeNumber
	case TypeBool:
		return schema.TypeBoolean
	default:
		return schema.TypeString
	}
}

// nodeToJSON encodes a YAML node as JSON, keeping mapping key order.
func nodeToJSON(n *yaml.Node) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, n); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeJSON(buf, n.Content[0])
	case yaml.AliasNode:
		return writeJSON(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(n.Content[i].Value)
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeJSON(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, item := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		buf.Write(data)
		return nil
	}
}
