package tokenizer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/promptflow/llm"
)

type brokenTokenizer struct{}

func (brokenTokenizer) CountTokens(string) (int, error) { return 0, errors.New("offline") }
func (brokenTokenizer) CountMessages([]llm.Message) (int, error) {
	return 0, errors.New("offline")
}
func (brokenTokenizer) MaxTokens() int { return 1000 }
func (brokenTokenizer) Name() string   { return "broken" }

func TestEstimatorTokenizer_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("m", 0)
	assert.Equal(t, 4096, e.MaxTokens())
	assert.Equal(t, "estimator", e.Name())

	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcdefgh", 2},
		{"你好世界", 2},
		{"[[ ## answer ## ]]", 4},
	}
	for _, tt := range tests {
		got, err := e.CountTokens(tt.text)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestEstimatorTokenizer_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("m", 100)
	n, err := e.CountMessages([]llm.Message{{Role: llm.RoleUser, Content: "abcdefgh"}})
	require.NoError(t, err)
	assert.Equal(t, 2+4+3, n)
}

func TestEstimatorTokenizer_Monotonic(t *testing.T) {
	e := NewEstimatorTokenizer("m", 0)
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.String().Draw(t, "a")
		b := rapid.String().Draw(t, "b")
		na, _ := e.CountTokens(a)
		nab, _ := e.CountTokens(a + b)
		if nab < na {
			t.Fatalf("count(%q)=%d < count(%q)=%d", a+b, nab, a, na)
		}
	})
}

func TestGetTokenizer_LongestPrefix(t *testing.T) {
	short := NewEstimatorTokenizer("short", 1)
	long := NewEstimatorTokenizer("long", 2)
	RegisterTokenizer("acme-", short)
	RegisterTokenizer("acme-large", long)

	got, err := GetTokenizer("acme-large-2026")
	require.NoError(t, err)
	assert.Equal(t, 2, got.MaxTokens())

	got, err = GetTokenizer("acme-small")
	require.NoError(t, err)
	assert.Equal(t, 1, got.MaxTokens())

	_, err = GetTokenizer("unregistered-model")
	assert.Error(t, err)
	assert.Equal(t, "estimator", GetTokenizerOrEstimator("unregistered-model").Name())
}

func TestLookupEncoding(t *testing.T) {
	info, ok := lookupEncoding("gpt-4o-mini-2024-07-18")
	assert.True(t, ok)
	assert.Equal(t, "o200k_base", info.encoding)

	info, ok = lookupEncoding("gpt-4-0613")
	assert.True(t, ok)
	assert.Equal(t, "cl100k_base", info.encoding)
	assert.Equal(t, 8192, info.maxTokens)

	_, ok = lookupEncoding("llama3")
	assert.False(t, ok)

	assert.Equal(t, "tiktoken[o200k_base]", NewTiktokenTokenizer("gpt-4o").Name())
}

func TestFallback_UsesEstimatorOnError(t *testing.T) {
	f := NewFallback(brokenTokenizer{}, nil)
	assert.Equal(t, "broken+estimator", f.Name())
	assert.Equal(t, 1000, f.MaxTokens())

	n, err := f.CountTokens("abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.CountMessages([]llm.Message{{Content: "abcd"}})
	require.NoError(t, err)
	assert.Equal(t, 1+4+3, n)
}

func TestForModel(t *testing.T) {
	assert.Equal(t, "estimator", ForModel("mistral-small").Name())
	assert.Equal(t, "tiktoken[o200k_base]+estimator", ForModel("gpt-4o").Name())

	RegisterTokenizer("custom-model", NewEstimatorTokenizer("custom-model", 42))
	assert.Equal(t, 42, ForModel("custom-model").MaxTokens())
}
