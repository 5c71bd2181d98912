package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const qaTemplate = "Your input fields are:\n" +
	"1. `question` (string): the question\n" +
	"Your output fields are:\n" +
	"1. `answer` (string): the answer\n" +
	"2. `correct` (bool): is it right\n" +
	"All interactions will be structured in the following way, with the appropriate values filled in.\n" +
	"\n" +
	"[[ ## question ## ]]\n" +
	"{question}\n" +
	"\n" +
	"[[ ## answer ## ]]\n" +
	"{answer}\n" +
	"\n" +
	"[[ ## correct ## ]]\n" +
	"{correct}        # note: the value you produce must be True or False\n" +
	"[[ ## completed ## ]]\n" +
	"In adhering to this structure, your instructions are: Be brief."

func TestCompile(t *testing.T) {
	assert.Equal(t, qaTemplate, CompilePrompt(qaModule()))
	assert.Equal(t, qaTemplate, Compile(Normalize(qaModule())))
}

func TestCompile_OmitsEmptySections(t *testing.T) {
	t.Run("outputs only", func(t *testing.T) {
		got := CompilePrompt(Module{Outputs: []Field{NewField("n", TypeInt, "a number")}})
		want := "Your output fields are:\n" +
			"1. `n` (int): a number\n" +
			"All interactions will be structured in the following way, with the appropriate values filled in.\n" +
			"\n" +
			"[[ ## n ## ]]\n" +
			"{n}"
		assert.Equal(t, want, got)
	})

	t.Run("instructions only", func(t *testing.T) {
		got := CompilePrompt(Module{Instructions: "Say hi."})
		assert.Equal(t, "[[ ## completed ## ]]\nIn adhering to this structure, your instructions are: Say hi.", got)
	})

	t.Run("no bool note on inputs", func(t *testing.T) {
		got := CompilePrompt(Module{Inputs: []Field{NewField("flag", TypeBool, "")}})
		assert.NotContains(t, got, "# note")
	})
}

func TestCompile_Numbering(t *testing.T) {
	m := Module{Outputs: []Field{
		NewField("a", TypeString, "first"),
		NewField("b", TypeFloat, "second"),
		NewField("c", TypeInt, "third"),
	}}
	got := CompilePrompt(m)
	assert.Contains(t, got, "1. `a` (string): first\n2. `b` (float): second\n3. `c` (int): third")
	assert.Less(t, strings.Index(got, "[[ ## a ## ]]"), strings.Index(got, "[[ ## b ## ]]"))
	assert.Less(t, strings.Index(got, "[[ ## b ## ]]"), strings.Index(got, "[[ ## c ## ]]"))
}

func TestRender(t *testing.T) {
	got := Render(Normalize(qaModule()), map[string]any{"question": "2+2?"})

	want := strings.Replace(qaTemplate, "{question}", "2+2?", 1) +
		"\n\n[[ ## question ## ]]\n2+2?"
	assert.Equal(t, want, got)
	assert.Contains(t, got, "{answer}")
}

func TestRender_ValuesAndMissingInputs(t *testing.T) {
	n := Normalize(Module{Inputs: []Field{
		NewField("text", TypeString, ""),
		NewField("limit", TypeInt, ""),
		NewField("strict", TypeBool, ""),
		NewField("missing", TypeString, ""),
	}})

	got := Render(n, map[string]any{"text": "hello\nworld", "limit": 3, "strict": true})

	assert.True(t, strings.HasSuffix(got,
		"[[ ## text ## ]]\nhello\nworld\n\n"+
			"[[ ## limit ## ]]\n3\n\n"+
			"[[ ## strict ## ]]\nTrue\n\n"+
			"[[ ## missing ## ]]\n"), got)
}

func TestRender_NoInputs(t *testing.T) {
	n := Normalize(Module{Outputs: []Field{NewField("x", TypeString, "")}})
	assert.Equal(t, Compile(n), Render(n, nil))
}

func TestValueText(t *testing.T) {
	assert.Equal(t, "", ValueText(nil))
	assert.Equal(t, "abc", ValueText("abc"))
	assert.Equal(t, "True", ValueText(true))
	assert.Equal(t, "False", ValueText(false))
	assert.Equal(t, "42", ValueText(int64(42)))
	assert.Equal(t, "1.5", ValueText(1.5))
}

func TestMarker(t *testing.T) {
	assert.Equal(t, "[[ ## answer ## ]]", Marker("answer"))
	assert.Equal(t, "{answer}", Placeholder("answer"))
}
