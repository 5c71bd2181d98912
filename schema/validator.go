package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// SchemaValidator validates JSON data against a JSONSchema.
type SchemaValidator interface {
	Validate(data []byte, schema *JSONSchema) error
}

// ParseError is a single schema violation located by a dotted field path.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors groups the violations found in one validation run.
type ValidationErrors struct {
	Errors []ParseError `json:"errors"`
}

// Error implements the error interface.
func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), strings.Join(msgs, "; "))
}

// DefaultValidator is the built-in schema engine.
type DefaultValidator struct {
	formatValidators map[StringFormat]*regexp.Regexp
}

// NewValidator creates a new DefaultValidator with built-in format validators.
func NewValidator() *DefaultValidator {
	return &DefaultValidator{
		formatValidators: map[StringFormat]*regexp.Regexp{
			FormatEmail:    regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`),
			FormatURI:      regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`),
			FormatUUID:     regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`),
			FormatDateTime: regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`),
			FormatDate:     regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`),
		},
	}
}

// RegisterFormat registers a custom format pattern.
func (v *DefaultValidator) RegisterFormat(format StringFormat, pattern *regexp.Regexp) {
	v.formatValidators[format] = pattern
}

// Validate validates JSON data against a schema.
func (v *DefaultValidator) Validate(data []byte, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return &ValidationErrors{
			Errors: []ParseError{{Message: fmt.Sprintf("invalid JSON: %v", err)}},
		}
	}
	if errs := v.collect(value, schema); len(errs) > 0 {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}

// Check reports whether a Go value satisfies the schema.
func (v *DefaultValidator) Check(schema *JSONSchema, value any) bool {
	return len(v.Explain(schema, value)) == 0
}

// Explain returns the violations of a Go value against the schema. Values are
// first brought into their JSON shape so typed maps, slices and integers are
// judged the same way decoded JSON would be.
func (v *DefaultValidator) Explain(schema *JSONSchema, value any) []ParseError {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return []ParseError{{Message: fmt.Sprintf("value is not representable as JSON: %v", err)}}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return []ParseError{{Message: fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return v.collect(decoded, schema)
}

func (v *DefaultValidator) collect(value any, schema *JSONSchema) []ParseError {
	var errs []ParseError
	v.validateValue(value, schema, "", &errs)
	return errs
}

func (v *DefaultValidator) validateValue(value any, schema *JSONSchema, path string, errs *[]ParseError) {
	if schema == nil {
		return
	}

	if schema.Const != nil {
		if !equalValues(value, schema.Const) {
			addError(errs, path, fmt.Sprintf("value must be %v", schema.Const))
		}
		return
	}

	if len(schema.Enum) > 0 {
		found := false
		for _, enumVal := range schema.Enum {
			if equalValues(value, enumVal) {
				found = true
				break
			}
		}
		if !found {
			addError(errs, path, fmt.Sprintf("value must be one of: %v", schema.Enum))
		}
	}

	switch schema.Type {
	case TypeString:
		v.validateString(value, schema, path, errs)
	case TypeNumber:
		if num, ok := toFloat64(value); ok {
			validateNumeric(num, schema, path, errs)
		} else {
			addError(errs, path, fmt.Sprintf("expected number, got %s", typeName(value)))
		}
	case TypeInteger:
		num, ok := toFloat64(value)
		switch {
		case !ok:
			addError(errs, path, fmt.Sprintf("expected integer, got %s", typeName(value)))
		case num != math.Trunc(num):
			addError(errs, path, fmt.Sprintf("expected integer, got %v", num))
		default:
			validateNumeric(num, schema, path, errs)
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			addError(errs, path, fmt.Sprintf("expected boolean, got %s", typeName(value)))
		}
	case TypeNull:
		if value != nil {
			addError(errs, path, fmt.Sprintf("expected null, got %s", typeName(value)))
		}
	case TypeObject:
		v.validateObject(value, schema, path, errs)
	case TypeArray:
		v.validateArray(value, schema, path, errs)
	}
}

func (v *DefaultValidator) validateString(value any, schema *JSONSchema, path string, errs *[]ParseError) {
	str, ok := value.(string)
	if !ok {
		addError(errs, path, fmt.Sprintf("expected string, got %s", typeName(value)))
		return
	}
	if schema.MinLength != nil && len(str) < *schema.MinLength {
		addError(errs, path, fmt.Sprintf("string length %d is less than minimum %d", len(str), *schema.MinLength))
	}
	if schema.MaxLength != nil && len(str) > *schema.MaxLength {
		addError(errs, path, fmt.Sprintf("string length %d exceeds maximum %d", len(str), *schema.MaxLength))
	}
	if schema.Pattern != "" {
		re, err := regexp.Compile(schema.Pattern)
		if err != nil {
			addError(errs, path, fmt.Sprintf("invalid pattern %q: %v", schema.Pattern, err))
		} else if !re.MatchString(str) {
			addError(errs, path, fmt.Sprintf("string does not match pattern %q", schema.Pattern))
		}
	}
	if schema.Format != "" {
		if re, ok := v.formatValidators[schema.Format]; ok && !re.MatchString(str) {
			addError(errs, path, fmt.Sprintf("string does not match format %q", schema.Format))
		}
	}
}

func validateNumeric(num float64, schema *JSONSchema, path string, errs *[]ParseError) {
	if schema.Minimum != nil && num < *schema.Minimum {
		addError(errs, path, fmt.Sprintf("value %v is less than minimum %v", num, *schema.Minimum))
	}
	if schema.Maximum != nil && num > *schema.Maximum {
		addError(errs, path, fmt.Sprintf("value %v exceeds maximum %v", num, *schema.Maximum))
	}
}

func (v *DefaultValidator) validateObject(value any, schema *JSONSchema, path string, errs *[]ParseError) {
	obj, ok := value.(map[string]any)
	if !ok {
		addError(errs, path, fmt.Sprintf("expected object, got %s", typeName(value)))
		return
	}

	for _, req := range schema.Required {
		val, exists := obj[req]
		if !exists {
			addError(errs, joinPath(path, req), "required field is missing")
		} else if val == nil {
			addError(errs, joinPath(path, req), "required field must not be null")
		}
	}

	// Walk declared properties first so diagnostics come out in declaration order.
	for _, name := range schema.PropertyNames() {
		propValue, present := obj[name]
		if !present || propValue == nil {
			continue
		}
		v.validateValue(propValue, schema.Properties[name], joinPath(path, name), errs)
	}

	if schema.AdditionalProperties != nil && !*schema.AdditionalProperties {
		for name := range obj {
			if _, declared := schema.Properties[name]; !declared {
				addError(errs, joinPath(path, name), "additional property not allowed")
			}
		}
	}
}

func (v *DefaultValidator) validateArray(value any, schema *JSONSchema, path string, errs *[]ParseError) {
	arr, ok := value.([]any)
	if !ok {
		addError(errs, path, fmt.Sprintf("expected array, got %s", typeName(value)))
		return
	}
	if schema.MinItems != nil && len(arr) < *schema.MinItems {
		addError(errs, path, fmt.Sprintf("array has %d items, minimum is %d", len(arr), *schema.MinItems))
	}
	if schema.MaxItems != nil && len(arr) > *schema.MaxItems {
		addError(errs, path, fmt.Sprintf("array has %d items, maximum is %d", len(arr), *schema.MaxItems))
	}
	if schema.Items != nil {
		for i, item := range arr {
			v.validateValue(item, schema.Items, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	}
}

func addError(errs *[]ParseError, path, msg string) {
	*errs = append(*errs, ParseError{Path: path, Message: msg})
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, int32, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func toFloat64(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func equalValues(a, b any) bool {
	aNum, aIsNum := toFloat64(a)
	bNum, bIsNum := toFloat64(b)
	if aIsNum && bIsNum {
		return aNum == bNum
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	return string(aJSON) == string(bJSON)
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}
