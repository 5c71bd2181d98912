package signature

import (
	"fmt"
	"strings"
)

const (
	// CompletedField names the marker that closes the interaction format.
	CompletedField = "completed"

	inputHeader        = "Your input fields are:"
	outputHeader       = "Your output fields are:"
	preamble           = "All interactions will be structured in the following way, with the appropriate values filled in."
	boolNote           = "        # note: the value you produce must be True or False"
	instructionsPrefix = "In adhering to this structure, your instructions are: "
)

// Marker returns the delimiter line for a field, e.g. "[[ ## answer ## ]]".
func Marker(name string) string {
	return "[[ ## " + name + " ## ]]"
}

// Placeholder returns the template token standing for a field's value.
func Placeholder(name string) string {
	return "{" + name + "}"
}

// Compile renders the prompt template of a normalized module. Sections appear
// in fixed order: input fields, output fields, interaction format and
// instructions. Empty sections are omitted.
func Compile(n Normalized) string {
	return compile(n, nil)
}

// CompilePrompt normalizes m and compiles it.
func CompilePrompt(m Module) string {
	return Compile(Normalize(m))
}

// Render compiles the template with input placeholders replaced by inputs,
// then appends one delimited block per input field carrying its value. Output
// placeholders are left for the model to fill. Missing inputs render empty.
func Render(n Normalized, inputs map[string]any) string {
	if inputs == nil {
		inputs = map[string]any{}
	}
	var sb strings.Builder
	sb.WriteString(compile(n, inputs))
	if len(n.Inputs) == 0 {
		return sb.String()
	}

	sb.WriteString("\n\n")
	for i, f := range n.Inputs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(Marker(f.Name))
		sb.WriteByte('\n')
		sb.WriteString(ValueText(inputs[f.Name]))
	}
	return sb.String()
}

// ValueText formats a value the way it is written into a prompt. Strings are
// written verbatim, booleans as True or False, nil as the empty string.
func ValueText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(val)
	}
}

func compile(n Normalized, inputs map[string]any) string {
	var sections []string

	if len(n.Inputs) > 0 {
		sections = append(sections, fieldList(inputHeader, n.Inputs))
	}
	if len(n.Outputs) > 0 {
		sections = append(sections, fieldList(outputHeader, n.Outputs))
	}
	if len(n.Inputs)+len(n.Outputs) > 0 {
		blocks := make([]string, 0, len(n.Inputs)+len(n.Outputs)+1)
		blocks = append(blocks, preamble)
		for _, f := range n.Inputs {
			value := Placeholder(f.Name)
			if inputs != nil {
				value = ValueText(inputs[f.Name])
			}
			blocks = append(blocks, Marker(f.Name)+"\n"+value)
		}
		for _, f := range n.Outputs {
			line := Placeholder(f.Name)
			if f.Type == TypeBool {
				line += boolNote
			}
			blocks = append(blocks, Marker(f.Name)+"\n"+line)
		}
		sections = append(sections, strings.Join(blocks, "\n\n"))
	}
	if n.Instructions != "" {
		sections = append(sections, Marker(CompletedField)+"\n"+instructionsPrefix+n.Instructions)
	}

	return strings.Join(sections, "\n")
}

func fieldList(header string, fields []Field) string {
	var sb strings.Builder
	sb.WriteString(header)
	for i, f := range fields {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, f)
	}
	return sb.String()
}
